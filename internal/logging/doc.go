// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"pool":   "debug",
//			"worker": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("pool")
//	logger.Info("Pool started", "workers", 4)
//
// Every module logger reads its level from a shared *slog.LevelVar, so a
// logger grabbed at construction time still honours levels applied later by
// Initialize or by SetLevels when the config file is reloaded.
//
// # Viewing Logs
//
//	journalctl -t tablemd                 # All logs
//	journalctl -t tablemd MODULE=worker   # One module
//	journalctl -t tablemd WORKER=2        # One worker slot
//
// # Configuration
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	pool = "debug"
//	worker = "warn"
package logging

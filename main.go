package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/tablemd/cmd"
	"github.com/smazurov/tablemd/internal/config"
	"github.com/smazurov/tablemd/internal/logging"
	"github.com/smazurov/tablemd/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port            string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	ServerUploadDir string `help:"Directory for uploaded spreadsheets (default: system temp dir)" default:"" toml:"server.upload_dir" env:"SERVER_UPLOAD_DIR"`
	ServerMaxUpload int    `help:"Upload size limit in MiB" default:"64" toml:"server.max_upload_mib" env:"SERVER_MAX_UPLOAD_MIB"`

	// Pool settings
	PoolWorkers             int    `help:"Number of worker processes (max 32)" short:"w" default:"4" toml:"pool.workers" env:"POOL_WORKERS"`
	PoolInterpreter         string `help:"Command that runs the worker script (default: python3)" default:"" toml:"pool.interpreter" env:"POOL_INTERPRETER"`
	PoolAcquireTimeout      int    `help:"Seconds to wait for an idle worker" default:"5" toml:"pool.acquire_timeout_seconds" env:"POOL_ACQUIRE_TIMEOUT"`
	PoolStopTimeout         int    `help:"Seconds a worker gets to exit before it is killed" default:"5" toml:"pool.stop_timeout_seconds" env:"POOL_STOP_TIMEOUT"`
	PoolDrainMaxWaitSeconds int    `help:"Seconds shutdown waits for in-flight conversions" default:"15" toml:"pool.drain_max_wait_seconds" env:"POOL_DRAIN_MAX_WAIT_SECONDS"`
	PoolDrainIntervalMillis int    `help:"Drain poll interval in milliseconds" default:"500" toml:"pool.drain_interval_millis" env:"POOL_DRAIN_INTERVAL_MILLIS"`

	// Metrics settings
	MetricsEnabled bool `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPool    string `help:"Pool and worker logging level" default:"info" toml:"logging.pool" env:"LOGGING_POOL"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP access logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingScript  string `help:"Script staging logging level" default:"info" toml:"logging.script" env:"LOGGING_SCRIPT"`
	LoggingConfig  string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingConvert string `help:"Convert command logging level" default:"info" toml:"logging.convert" env:"LOGGING_CONVERT"`
	LoggingUpdater string `help:"Updater logging level" default:"info" toml:"logging.updater" env:"LOGGING_UPDATER"`
}

func (o *Options) serveOptions() cmd.ServeOptions {
	return cmd.ServeOptions{
		ConfigPath: o.Config,
		Addr:       o.Port,
		Pool: config.PoolSettings{
			Workers:             o.PoolWorkers,
			Interpreter:         o.PoolInterpreter,
			AcquireTimeoutSecs:  o.PoolAcquireTimeout,
			StopTimeoutSecs:     o.PoolStopTimeout,
			DrainMaxWaitSeconds: o.PoolDrainMaxWaitSeconds,
			DrainIntervalMillis: o.PoolDrainIntervalMillis,
		},
		AuthUsername:   o.AuthUsername,
		AuthPassword:   o.AuthPassword,
		UploadDir:      o.ServerUploadDir,
		MaxUploadBytes: int64(o.ServerMaxUpload) << 20,
		MetricsEnabled: o.MetricsEnabled,
	}
}

func main() {
	var cli humacli.CLI
	var serveOpts cmd.ServeOptions

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"pool":    opts.LoggingPool,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
				"script":  opts.LoggingScript,
				"config":  opts.LoggingConfig,
				"convert": opts.LoggingConvert,
				"updater": opts.LoggingUpdater,
			},
		})

		logger := logging.GetLogger("main")
		serveOpts = opts.serveOptions()
		service := cmd.NewService(serveOpts)

		hooks.OnStart(func() {
			logger.Info("Starting tablemd", "version", version.Get().Version, "workers", serveOpts.Pool.Workers)
			if startErr := service.Start(context.Background()); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			service.Stop()
		})
	})

	cli.Root().Use = "tablemd"
	cli.Root().Short = "Spreadsheet to Markdown conversion service"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateConvertCmd(&serveOpts))
	cli.Root().AddCommand(cmd.CreateScriptCmd())
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	cli.Run()
}

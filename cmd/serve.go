package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/tablemd/internal/api"
	"github.com/smazurov/tablemd/internal/config"
	"github.com/smazurov/tablemd/internal/events"
	"github.com/smazurov/tablemd/internal/logging"
	"github.com/smazurov/tablemd/internal/metrics"
	"github.com/smazurov/tablemd/internal/process"
	"github.com/smazurov/tablemd/internal/script"
	"github.com/smazurov/tablemd/internal/systemd"
)

// ServeOptions carries the parsed CLI options into the server and the
// subcommands.
type ServeOptions struct {
	ConfigPath     string
	Addr           string
	Pool           config.PoolSettings
	AuthUsername   string
	AuthPassword   string
	UploadDir      string
	MaxUploadBytes int64
	MetricsEnabled bool
}

// PoolOptions builds pool options for settings. Settings must be validated.
func PoolOptions(settings config.PoolSettings, bus *events.Bus) process.PoolOptions {
	return process.PoolOptions{
		Size:           settings.Workers,
		Interpreter:    settings.Interpreter,
		Script:         script.Default(),
		AcquireTimeout: settings.AcquireTimeout(),
		StopTimeout:    settings.StopTimeout(),
		DrainTimeout:   settings.DrainTimeout(),
		DrainInterval:  settings.DrainInterval(),
		Events:         bus,
		Logger:         logging.GetLogger("pool"),
	}
}

// Service runs the worker pool behind the HTTP API.
type Service struct {
	opts     ServeOptions
	logger   *slog.Logger
	notifier *systemd.Notifier

	mu        sync.Mutex
	stopped   bool
	settings  config.PoolSettings
	bus       *events.Bus
	pool      *process.Pool
	server    *api.Server
	collector *metrics.Collector
	watcher   *config.Watcher[config.File]
	cancel    context.CancelFunc
}

// NewService creates a service; nothing starts until Start.
func NewService(opts ServeOptions) *Service {
	logger := logging.GetLogger("main")
	return &Service{
		opts:     opts,
		logger:   logger,
		notifier: systemd.NewNotifier(logger),
	}
}

// Start launches the pool and serves HTTP until Stop is called.
func (s *Service) Start(ctx context.Context) error {
	settings := s.opts.Pool.Normalize(s.logger)
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid pool settings: %w", err)
	}

	bus := events.New()
	pool, err := process.NewPool(ctx, PoolOptions(settings, bus))
	if err != nil {
		_ = bus.Close()
		return err
	}

	var promHandler http.Handler
	var collector *metrics.Collector
	if s.opts.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.New(reg, bus)
		collector.RegisterPool(pool.Stats)
		promHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	server := api.NewServer(&api.Options{
		AuthUsername:      s.opts.AuthUsername,
		AuthPassword:      s.opts.AuthPassword,
		Converter:         pool,
		EventBus:          bus,
		PrometheusHandler: promHandler,
		UploadDir:         s.opts.UploadDir,
		MaxUploadBytes:    s.opts.MaxUploadBytes,
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		pool.Shutdown(ctx)
		if collector != nil {
			collector.Close()
		}
		return errors.Join(script.Default().Cleanup(), bus.Close())
	}
	s.settings = settings
	s.bus = bus
	s.pool = pool
	s.server = server
	s.collector = collector
	s.watcher = s.watchConfig(settings)
	s.cancel = s.superviseSystemd(pool, bus)
	s.mu.Unlock()

	return server.Start(s.opts.Addr)
}

// superviseSystemd reports readiness and keeps the watchdog fed while any
// worker is alive.
func (s *Service) superviseSystemd(pool *process.Pool, bus *events.Bus) context.CancelFunc {
	status := func() string {
		stats := pool.Stats()
		return fmt.Sprintf("%d of %d workers alive", stats.Alive, stats.Size)
	}
	s.notifier.Ready(status())

	unsubRestart := bus.Subscribe(func(events.WorkerRestartedEvent) { s.notifier.Status(status()) })
	unsubDiscard := bus.Subscribe(func(events.WorkerDiscardedEvent) { s.notifier.Status(status()) })

	ctx, cancel := context.WithCancel(context.Background())
	go s.notifier.Watchdog(ctx, func() bool { return pool.Stats().Alive > 0 })

	return func() {
		cancel()
		unsubRestart()
		unsubDiscard()
	}
}

// watchConfig applies logging changes from the config file at runtime.
// Pool settings only take effect on restart.
func (s *Service) watchConfig(running config.PoolSettings) *config.Watcher[config.File] {
	if s.opts.ConfigPath == "" {
		return nil
	}

	watcher := config.NewConfigWatcher(s.opts.ConfigPath, config.LoadFile, logging.GetLogger("config"))
	watcher.OnReload(func(file config.File) {
		cfg := file.LoggingConfig()
		logging.SetLevels(cfg.Level, cfg.Modules)
		s.logger.Info("Logging levels reloaded", "level", cfg.Level, "modules", len(cfg.Modules))

		if file.Pool.Normalize(s.logger) != running {
			s.logger.Warn("Pool settings changed, restart to apply", "path", s.opts.ConfigPath)
		}
	})

	if err := watcher.Start(); err != nil {
		s.logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
		return nil
	}
	return watcher
}

// Stop shuts the HTTP server and the pool down within the drain and stop
// bounds, then removes the staged script.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	settings, bus, pool, server, collector, watcher := s.settings, s.bus, s.pool, s.server, s.collector, s.watcher
	stopSupervision := s.cancel
	s.mu.Unlock()

	s.logger.Info("Shutting down server")
	s.notifier.Stopping()
	if stopSupervision != nil {
		stopSupervision()
	}

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			s.logger.Warn("Error stopping config watcher", "error", err)
		}
	}

	if server != nil {
		httpCtx, cancel := context.WithTimeout(context.Background(), settings.DrainTimeout())
		if err := server.Stop(httpCtx); err != nil {
			s.logger.Error("Error stopping HTTP server", "error", err)
		}
		cancel()
	}

	if pool != nil {
		budget := settings.DrainTimeout() + settings.StopTimeout() + 5*time.Second
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		report := pool.Shutdown(ctx)
		cancel()
		if report.Forced > 0 {
			s.logger.Warn("Some workers were killed", "forced", report.Forced, "total", report.Total)
		}
	}

	if err := script.Default().Cleanup(); err != nil {
		s.logger.Warn("Failed to remove staged script", "error", err)
	}
	if collector != nil {
		collector.Close()
	}
	if err := bus.Close(); err != nil {
		s.logger.Warn("Error closing event bus", "error", err)
	}
}

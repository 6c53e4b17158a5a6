package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Pool limits.
const (
	DefaultWorkers = 4
	MaxWorkers     = 32
)

// PoolSettings configures the worker pool.
type PoolSettings struct {
	Workers             int    `toml:"workers"`
	Interpreter         string `toml:"interpreter"`
	AcquireTimeoutSecs  int    `toml:"acquire_timeout_seconds"`
	StopTimeoutSecs     int    `toml:"stop_timeout_seconds"`
	DrainMaxWaitSeconds int    `toml:"drain_max_wait_seconds"`
	DrainIntervalMillis int    `toml:"drain_interval_millis"`
}

// DefaultPoolSettings returns the built-in pool configuration.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		Workers:             DefaultWorkers,
		AcquireTimeoutSecs:  5,
		StopTimeoutSecs:     5,
		DrainMaxWaitSeconds: 15,
		DrainIntervalMillis: 500,
	}
}

// Validate rejects settings the pool cannot run with. Worker counts above
// MaxWorkers are accepted here and capped by Normalize.
func (s PoolSettings) Validate() error {
	var errs []error
	if s.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pool.workers must be positive, got %d", s.Workers))
	}
	if s.AcquireTimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("pool.acquire_timeout_seconds must not be negative, got %d", s.AcquireTimeoutSecs))
	}
	if s.StopTimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("pool.stop_timeout_seconds must not be negative, got %d", s.StopTimeoutSecs))
	}
	if s.DrainMaxWaitSeconds < 0 {
		errs = append(errs, fmt.Errorf("pool.drain_max_wait_seconds must not be negative, got %d", s.DrainMaxWaitSeconds))
	}
	if s.DrainIntervalMillis < 0 {
		errs = append(errs, fmt.Errorf("pool.drain_interval_millis must not be negative, got %d", s.DrainIntervalMillis))
	}
	return errors.Join(errs...)
}

// Normalize caps the worker count at MaxWorkers, logging when it does.
func (s PoolSettings) Normalize(logger *slog.Logger) PoolSettings {
	if s.Workers > MaxWorkers {
		if logger != nil {
			logger.Warn("Worker count capped", "requested", s.Workers, "max", MaxWorkers)
		}
		s.Workers = MaxWorkers
	}
	return s
}

// AcquireTimeout returns the idle-worker wait as a duration.
func (s PoolSettings) AcquireTimeout() time.Duration {
	return time.Duration(s.AcquireTimeoutSecs) * time.Second
}

// StopTimeout returns the graceful worker exit wait as a duration.
func (s PoolSettings) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSecs) * time.Second
}

// DrainTimeout returns the shutdown drain wait as a duration.
func (s PoolSettings) DrainTimeout() time.Duration {
	return time.Duration(s.DrainMaxWaitSeconds) * time.Second
}

// DrainInterval returns the drain poll interval as a duration.
func (s PoolSettings) DrainInterval() time.Duration {
	return time.Duration(s.DrainIntervalMillis) * time.Millisecond
}

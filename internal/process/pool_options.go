package process

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/tablemd/internal/events"
)

// Pool defaults.
const (
	DefaultSize           = 4
	MaxSize               = 32
	DefaultAcquireTimeout = 5 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultDrainTimeout   = 15 * time.Second
	DefaultDrainInterval  = 500 * time.Millisecond
)

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// Size is the number of workers to start. Zero means DefaultSize;
	// values above MaxSize are capped.
	Size int

	// Interpreter is the command line that runs the script, e.g.
	// "python3 -X utf8". Defaults to python3 ("py" on Windows).
	Interpreter string

	// Script resolves the conversion script (required).
	Script ScriptSource

	// Env is appended to every worker's environment (optional).
	Env []string

	// AcquireTimeout bounds the wait for an idle worker.
	AcquireTimeout time.Duration

	// StopTimeout bounds each worker's graceful exit.
	StopTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight calls during Shutdown.
	DrainTimeout time.Duration

	// DrainInterval is how often Shutdown polls the active count.
	DrainInterval time.Duration

	// Events receives worker and conversion events (optional).
	Events *events.Bus

	// Logger for pool operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

// withDefaults validates opts and fills zero values.
func (o PoolOptions) withDefaults() (PoolOptions, []string, error) {
	if o.Script == nil {
		return o, nil, fmt.Errorf("pool options: script source is required")
	}
	if o.Size < 0 {
		return o, nil, fmt.Errorf("pool options: size must be positive, got %d", o.Size)
	}
	if o.Size == 0 {
		o.Size = DefaultSize
	}
	o.Size = min(o.Size, MaxSize)

	if o.Interpreter == "" {
		o.Interpreter = defaultInterpreter()
	}
	command, err := parseCommand(o.Interpreter)
	if err != nil {
		return o, nil, fmt.Errorf("pool options: interpreter: %w", err)
	}

	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.DrainInterval <= 0 {
		o.DrainInterval = DefaultDrainInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, command, nil
}

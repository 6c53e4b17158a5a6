package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeWorkerStarted uint32 = iota + 1
	TypeWorkerRestarted
	TypeWorkerDiscarded
	TypeConversionCompleted
	TypePoolShutdown
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// WorkerStartedEvent is published when a worker process comes up during pool startup.
type WorkerStartedEvent struct {
	WorkerID  int       `json:"worker_id" example:"0" doc:"Worker slot"`
	PID       int       `json:"pid" example:"4242" doc:"Process ID"`
	Timestamp time.Time `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerStartedEvent.
func (e WorkerStartedEvent) Type() uint32 { return TypeWorkerStarted }

// WorkerRestartedEvent is published after a worker process was replaced.
type WorkerRestartedEvent struct {
	WorkerID  int       `json:"worker_id" example:"0" doc:"Worker slot"`
	OldPID    int       `json:"old_pid" example:"4242" doc:"Process ID before restart"`
	NewPID    int       `json:"new_pid" example:"4243" doc:"Process ID after restart, -1 if the restart failed"`
	Reason    string    `json:"reason" example:"fatal_signal" doc:"Why the worker was restarted"`
	Error     string    `json:"error,omitempty" doc:"Restart failure, if any"`
	Timestamp time.Time `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerRestartedEvent.
func (e WorkerRestartedEvent) Type() uint32 { return TypeWorkerRestarted }

// WorkerDiscardedEvent is published when a dead worker could not be restarted
// and was dropped from the pool.
type WorkerDiscardedEvent struct {
	WorkerID  int       `json:"worker_id" example:"0" doc:"Worker slot"`
	Error     string    `json:"error" doc:"Restart failure"`
	Timestamp time.Time `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerDiscardedEvent.
func (e WorkerDiscardedEvent) Type() uint32 { return TypeWorkerDiscarded }

// Conversion outcomes reported in ConversionCompletedEvent.
const (
	OutcomeSuccess      = "success"
	OutcomeBusy         = "busy"
	OutcomeShuttingDown = "shutting_down"
	OutcomeUnsupported  = "unsupported"
	OutcomeFailed       = "failed"
)

// ConversionCompletedEvent is published once per Convert call.
type ConversionCompletedEvent struct {
	WorkerID  int           `json:"worker_id" example:"0" doc:"Worker slot, -1 if none was acquired"`
	Outcome   string        `json:"outcome" example:"success" doc:"success, busy, shutting_down, unsupported or failed"`
	Flagged   bool          `json:"flagged" doc:"Worker reported an error marker in its response"`
	Duration  time.Duration `json:"duration" doc:"Wall time of the call"`
	Timestamp time.Time     `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConversionCompletedEvent.
func (e ConversionCompletedEvent) Type() uint32 { return TypeConversionCompleted }

// PoolShutdownEvent is published when pool shutdown completes.
type PoolShutdownEvent struct {
	Total     int       `json:"total" doc:"Workers shut down"`
	Graceful  int       `json:"graceful" doc:"Workers that accepted the exit command"`
	Drained   bool      `json:"drained" doc:"All in-flight calls finished before the deadline"`
	Timestamp time.Time `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for PoolShutdownEvent.
func (e PoolShutdownEvent) Type() uint32 { return TypePoolShutdown }

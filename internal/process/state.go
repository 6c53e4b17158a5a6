package process

import "time"

// State represents the current state of a worker process.
type State string

// Worker states.
const (
	StateStopped State = "stopped" // No live process
	StateRunning State = "running" // Process alive and accepting requests
	StateClosed  State = "closed"  // Shut down for good, will not restart
)

// Restart reasons reported to OnRestart and in events.
const (
	ReasonFatalSignal = "fatal_signal"
	ReasonIOFailure   = "io_failure"
	ReasonDied        = "died"
)

// Info contains information about a worker.
type Info struct {
	ID        int       `json:"id" example:"0" doc:"Worker slot"`
	State     State     `json:"state" example:"running" doc:"stopped, running or closed"`
	PID       int       `json:"pid" example:"4242" doc:"Process ID, -1 when not running"`
	StartedAt time.Time `json:"started_at,omitzero" doc:"Start time of the current process"`
	Restarts  int       `json:"restarts" doc:"Restarts since pool startup"`
	LastError string    `json:"last_error,omitempty" doc:"Most recent worker failure"`
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Size         int  `json:"size" example:"4" doc:"Workers started at pool startup"`
	Alive        int  `json:"alive" example:"4" doc:"Workers with a live process"`
	Idle         int  `json:"idle" example:"3" doc:"Workers waiting in the idle queue"`
	Active       int  `json:"active" example:"1" doc:"Calls currently holding a worker"`
	Discarded    int  `json:"discarded" doc:"Workers dropped after a failed restart"`
	ShuttingDown bool `json:"shutting_down" doc:"Shutdown has begun"`
}

// ShutdownReport summarizes a pool shutdown.
type ShutdownReport struct {
	Total    int           `json:"total" doc:"Workers shut down"`
	Graceful int           `json:"graceful" doc:"Workers that exited after the exit command"`
	Forced   int           `json:"forced" doc:"Workers that had to be killed"`
	Drained  bool          `json:"drained" doc:"All in-flight calls finished before the deadline"`
	Elapsed  time.Duration `json:"elapsed" doc:"Time spent shutting down"`
}

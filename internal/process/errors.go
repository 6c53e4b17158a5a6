package process

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerLaunch is returned when a worker process could not be started.
	ErrWorkerLaunch = errors.New("failed to launch worker process")
	// ErrWorkerClosed is returned when starting a worker that was shut down for good.
	ErrWorkerClosed = errors.New("worker is closed")
	// ErrUnsupportedInput is returned for empty paths and unknown extensions.
	ErrUnsupportedInput = errors.New("unsupported input file")
	// ErrServiceBusy is returned when no idle worker became available in time.
	ErrServiceBusy = errors.New("no idle worker available")
	// ErrShuttingDown is returned for calls made after shutdown began.
	ErrShuttingDown = errors.New("worker pool is shutting down")
	// ErrNoWorkers is returned by NewPool when no worker could be started.
	ErrNoWorkers = errors.New("no worker process could be started")
	// ErrConversionFailed matches every *ConversionError.
	ErrConversionFailed = errors.New("conversion failed")
)

// ConversionError wraps a failure that happened while a worker held the request.
type ConversionError struct {
	Path     string
	WorkerID int
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converting %q on worker %d: %v", e.Path, e.WorkerID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is reports ErrConversionFailed as a match so callers can test the category.
func (e *ConversionError) Is(target error) bool {
	return target == ErrConversionFailed
}

package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/tablemd/internal/events"
)

// Pool hands conversion requests to a fixed set of worker processes.
type Pool struct {
	opts   PoolOptions
	logger *slog.Logger
	bus    *events.Bus

	workers []*Worker // every worker started at construction; never modified
	idle    chan *Worker

	active       atomic.Int32
	discarded    atomic.Int32
	shuttingDown atomic.Bool

	shutdownOnce sync.Once
	report       ShutdownReport
}

// NewPool starts opts.Size workers concurrently. Workers that fail to start
// are logged and left out; if none start NewPool returns ErrNoWorkers.
func NewPool(ctx context.Context, opts PoolOptions) (*Pool, error) {
	opts, command, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	p := &Pool{
		opts:   opts,
		logger: opts.Logger,
		bus:    opts.Events,
	}

	p.logger.Info("Starting worker pool", "size", opts.Size, "interpreter", command[0])

	slots := make([]*Worker, opts.Size)
	errs := make([]error, opts.Size)
	var g errgroup.Group
	for i := range opts.Size {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			w := NewWorker(i, WorkerOptions{
				Command:     command,
				Script:      opts.Script,
				Env:         opts.Env,
				StopTimeout: opts.StopTimeout,
				OnRestart:   p.onRestart,
				Logger:      p.logger,
			})
			if err := w.Start(); err != nil {
				errs[i] = err
				p.logger.Error("Worker failed to start", "worker", i, "error", err)
				return nil
			}
			slots[i] = w
			p.bus.Publish(events.WorkerStartedEvent{WorkerID: i, PID: w.PID(), Timestamp: time.Now()})
			return nil
		})
	}
	_ = g.Wait()

	for _, w := range slots {
		if w != nil {
			p.workers = append(p.workers, w)
		}
	}

	if err := ctx.Err(); err != nil {
		p.closeWorkers(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("pool startup: %w", err)
	}
	if len(p.workers) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoWorkers, errors.Join(errs...))
	}

	p.idle = make(chan *Worker, len(p.workers))
	for _, w := range p.workers {
		p.idle <- w
	}

	p.logger.Info("Worker pool ready", "workers", len(p.workers), "requested", opts.Size)
	return p, nil
}

// Convert runs one conversion on an idle worker and returns the Markdown.
//
// It fails with ErrShuttingDown once shutdown began, ErrServiceBusy when no
// worker frees up within the acquire timeout, and a *ConversionError
// otherwise. Rejected inputs also match ErrUnsupportedInput and leave the
// worker untouched. A worker that misbehaved is restarted before the call returns.
func (p *Pool) Convert(ctx context.Context, path string) (out string, err error) {
	path = strings.TrimSpace(path)
	start := time.Now()
	workerID := -1
	flagged := false
	defer func() {
		p.bus.Publish(events.ConversionCompletedEvent{
			WorkerID:  workerID,
			Outcome:   outcomeOf(err),
			Flagged:   flagged,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		})
	}()

	if p.shuttingDown.Load() {
		p.logger.Warn("Rejecting request, pool is shutting down", "path", path)
		return "", ErrShuttingDown
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	workerID = w.ID()
	defer p.release(w)

	logger := p.logger.With("worker", workerID, "path", path)
	logger.Debug("Conversion started", "pid", w.PID())

	text, err := w.Exchange(ctx, path)
	if err != nil {
		if errors.Is(err, ErrUnsupportedInput) {
			logger.Warn("Rejected unsupported input", "error", err)
			return "", &ConversionError{Path: path, WorkerID: workerID, Err: err}
		}
		logger.Error("Conversion failed, restarting worker", "error", err)
		if !p.shuttingDown.Load() {
			if rerr := w.Restart(context.WithoutCancel(ctx), ReasonIOFailure); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return "", &ConversionError{Path: path, WorkerID: workerID, Err: err}
	}
	flagged = w.Flagged()

	if err := w.CheckError(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Worker restart after fatal error failed", "error", err)
		return "", &ConversionError{Path: path, WorkerID: workerID, Err: err}
	}

	logger.Debug("Conversion finished", "bytes", len(text), "flagged", flagged, "duration", time.Since(start))
	return text, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return events.OutcomeSuccess
	case errors.Is(err, ErrServiceBusy):
		return events.OutcomeBusy
	case errors.Is(err, ErrShuttingDown):
		return events.OutcomeShuttingDown
	case errors.Is(err, ErrUnsupportedInput):
		return events.OutcomeUnsupported
	default:
		return events.OutcomeFailed
	}
}

// acquire takes an idle worker, waiting at most the acquire timeout.
func (p *Pool) acquire(ctx context.Context) (*Worker, error) {
	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case w := <-p.idle:
		p.active.Add(1)
		return w, nil
	case <-timer.C:
		p.logger.Warn("No idle worker available", "timeout", p.opts.AcquireTimeout, "active", p.active.Load())
		return nil, ErrServiceBusy
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for idle worker: %w", ctx.Err())
	}
}

// release returns w to the idle queue, replacing its process first if it
// died. A worker that cannot be restarted is dropped from rotation.
func (p *Pool) release(w *Worker) {
	requeue := true
	if !w.Alive() {
		p.logger.Warn("Worker is not alive, restarting", "worker", w.ID())
		if err := w.Restart(context.Background(), ReasonDied); err != nil {
			requeue = false
			if !errors.Is(err, ErrWorkerClosed) {
				p.discarded.Add(1)
				p.logger.Error("Discarding worker after failed restart", "worker", w.ID(), "error", err)
				p.bus.Publish(events.WorkerDiscardedEvent{WorkerID: w.ID(), Error: err.Error(), Timestamp: time.Now()})
			}
		}
	}

	p.active.Add(-1)
	if requeue {
		p.idle <- w
	}
}

func (p *Pool) onRestart(id, oldPID, newPID int, reason string, err error) {
	ev := events.WorkerRestartedEvent{
		WorkerID:  id,
		OldPID:    oldPID,
		NewPID:    newPID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.bus.Publish(ev)
}

// Shutdown stops accepting requests, waits for in-flight calls to drain and
// stops every worker. A cancelled ctx turns the remaining waits into kills.
// Only the first call does the work; later calls return the same report.
func (p *Pool) Shutdown(ctx context.Context) ShutdownReport {
	p.shutdownOnce.Do(func() {
		p.report = p.shutdown(ctx)
	})
	return p.report
}

func (p *Pool) shutdown(ctx context.Context) ShutdownReport {
	start := time.Now()
	p.shuttingDown.Store(true)
	p.logger.Info("Shutting down worker pool", "workers", len(p.workers), "active", p.active.Load())

	report := ShutdownReport{Total: len(p.workers)}
	report.Drained = p.waitForDrain(ctx)
	report.Graceful = p.closeWorkers(ctx)
	report.Forced = report.Total - report.Graceful
	report.Elapsed = time.Since(start)

	p.logger.Info("Worker pool stopped",
		"total", report.Total,
		"graceful", report.Graceful,
		"forced", report.Forced,
		"drained", report.Drained,
		"elapsed", report.Elapsed)
	p.bus.Publish(events.PoolShutdownEvent{
		Total:     report.Total,
		Graceful:  report.Graceful,
		Drained:   report.Drained,
		Timestamp: time.Now(),
	})
	return report
}

// waitForDrain polls the active count until it reaches zero, the drain
// timeout passes or ctx ends. It reports whether the pool drained.
func (p *Pool) waitForDrain(ctx context.Context) bool {
	if p.active.Load() == 0 {
		return true
	}

	deadline := time.NewTimer(p.opts.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.opts.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.active.Load() == 0 {
				return true
			}
		case <-deadline.C:
			p.logger.Warn("Drain timeout, forcing shutdown", "timeout", p.opts.DrainTimeout, "active", p.active.Load())
			return false
		case <-ctx.Done():
			p.logger.Warn("Drain interrupted, forcing shutdown", "active", p.active.Load())
			return false
		}
	}
}

// closeWorkers closes every worker in parallel and returns how many exited
// gracefully.
func (p *Pool) closeWorkers(ctx context.Context) int {
	var graceful atomic.Int32
	var g errgroup.Group
	for _, w := range p.workers {
		g.Go(func() error {
			pid := w.PID()
			ok, err := w.Close(ctx)
			if err != nil {
				p.logger.Warn("Worker shutdown interrupted", "worker", w.ID(), "pid", pid, "error", err)
			}
			if ok {
				graceful.Add(1)
			}
			p.logger.Debug("Worker stopped", "worker", w.ID(), "pid", pid, "graceful", ok)
			return nil
		})
	}
	_ = g.Wait()
	return int(graceful.Load())
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	alive := 0
	for _, w := range p.workers {
		if w.Alive() {
			alive++
		}
	}
	return Stats{
		Size:         len(p.workers),
		Alive:        alive,
		Idle:         len(p.idle),
		Active:       int(p.active.Load()),
		Discarded:    int(p.discarded.Load()),
		ShuttingDown: p.shuttingDown.Load(),
	}
}

// Workers returns a snapshot of every worker.
func (p *Pool) Workers() []Info {
	infos := make([]Info, 0, len(p.workers))
	for _, w := range p.workers {
		infos = append(infos, w.Info())
	}
	return infos
}

// Size returns the number of workers started at construction.
func (p *Pool) Size() int {
	return len(p.workers)
}

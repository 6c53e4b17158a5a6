package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Line protocol shared with the conversion script.
const (
	EndMarker   = "@@END_OF_CONVERSION@@"
	ErrorMarker = "@@END_OF_CONVERSION_ERROR@@"
	exitCommand = "exit"
)

// fatalTokens in a worker's stderr mean the process must be replaced.
// Matching is case-sensitive.
var fatalTokens = []string{"fatal", "exception"}

// workerEnv forces UTF-8 on the interpreter's standard streams.
var workerEnv = []string{"PYTHONUTF8=1", "PYTHONIOENCODING=utf-8"}

const stderrLimit = 64 << 10

// ScriptSource provides the on-disk path of the conversion script.
type ScriptSource interface {
	Path() (string, error)
}

// RestartCallback is called after every restart attempt. newPID is -1 when
// the restart failed.
type RestartCallback func(id, oldPID, newPID int, reason string, err error)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Command is the interpreter argv; the script path is appended (required).
	Command []string

	// Script resolves the script handed to the interpreter (required).
	Script ScriptSource

	// Env is appended to the inherited environment after the UTF-8 settings.
	Env []string

	// StopTimeout bounds the wait for a graceful exit. Defaults to 5s.
	StopTimeout time.Duration

	// OnRestart is called after every restart attempt (optional).
	OnRestart RestartCallback

	// Logger for worker operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Worker owns one long-lived interpreter process speaking the line protocol.
//
// A Worker serves one request at a time; the pool guarantees exclusive use.
// Info, Alive and PID are safe to call concurrently with requests.
type Worker struct {
	id          int
	command     []string
	env         []string
	script      ScriptSource
	onRestart   RestartCallback
	logger      *slog.Logger
	stopTimeout time.Duration
	killTimeout time.Duration

	mu        sync.Mutex
	proc      *running
	closed    bool
	startedAt time.Time
	restarts  int
	lastErr   error
	flagged   bool
}

// running holds the handles of one live process.
type running struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File
	wmu    sync.Mutex
	writer *bufio.Writer
	reader *bufio.Reader
	errBuf *stderrBuffer
	done   chan struct{}
}

// NewWorker creates a worker for slot id. The process is not started.
func NewWorker(id int, opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Worker{
		id:          id,
		command:     opts.Command,
		env:         append(append([]string{}, workerEnv...), opts.Env...),
		script:      opts.Script,
		onRestart:   opts.OnRestart,
		logger:      logger.With("worker", id),
		stopTimeout: stopTimeout,
		killTimeout: 5 * time.Second,
	}
}

// ID returns the worker slot.
func (w *Worker) ID() int { return w.id }

// Start launches the interpreter process. Starting a live worker is a no-op.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWorkerClosed
	}
	if w.proc.alive() {
		return nil
	}
	if w.proc != nil {
		w.proc.close()
		w.proc = nil
	}
	if len(w.command) == 0 {
		return fmt.Errorf("%w: no interpreter command", ErrWorkerLaunch)
	}

	scriptPath, err := w.script.Path()
	if err != nil {
		w.lastErr = err
		return fmt.Errorf("%w: %w", ErrWorkerLaunch, err)
	}

	proc, err := w.spawn(scriptPath)
	if err != nil {
		w.lastErr = err
		w.logger.Error("Failed to start worker", "command", w.command[0], "error", err)
		return fmt.Errorf("%w: %w", ErrWorkerLaunch, err)
	}

	w.proc = proc
	w.startedAt = time.Now()
	w.flagged = false
	w.logger.Info("Worker started", "pid", proc.cmd.Process.Pid, "script", scriptPath)
	return nil
}

// spawn starts the process on plain pipes. exec.Cmd never owns the parent
// ends, so cmd.Wait cannot close a pipe that still holds unread output.
func (w *Worker) spawn(scriptPath string) (*running, error) {
	args := append(append([]string{}, w.command[1:]...), scriptPath)
	cmd := exec.Command(w.command[0], args...)
	cmd.Env = append(os.Environ(), w.env...)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdinR, stdoutW, stderrW)
	if err != nil {
		closeAll(stdinW, stdoutR, stderrR)
		return nil, err
	}

	proc := &running{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		writer: bufio.NewWriter(stdinW),
		reader: bufio.NewReader(stdoutR),
		errBuf: &stderrBuffer{limit: stderrLimit},
		done:   make(chan struct{}),
	}

	go func() {
		_, _ = io.Copy(proc.errBuf, stderrR)
	}()

	go func() {
		err := cmd.Wait()
		if code := exitCodeFromError(err); code != 0 {
			w.logger.Debug("Worker process exited", "pid", cmd.Process.Pid, "exit_code", code)
		}
		close(proc.done)
	}()

	return proc, nil
}

// Submit writes one input path, trimmed of surrounding whitespace, followed
// by a newline and flushes it.
func (w *Worker) Submit(path string) error {
	path = strings.TrimSpace(path)
	if err := CheckInput(path); err != nil {
		return err
	}

	proc := w.current()
	if !proc.alive() {
		return errors.New("worker process is not running")
	}

	if err := proc.send(path); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

// Result reads one response up to the end marker and returns the trimmed
// body. A response carrying the error marker is still returned; Flagged
// reports it.
func (w *Worker) Result() (string, error) {
	proc := w.current()
	if proc == nil {
		return "", errors.New("worker process is not running")
	}

	text, flagged, err := readResponse(proc.reader)

	w.mu.Lock()
	w.flagged = flagged
	if err != nil {
		w.lastErr = err
	}
	w.mu.Unlock()

	if err != nil {
		return "", err
	}
	if flagged {
		w.logger.Warn("Worker flagged conversion error", "bytes", len(text))
	}
	return text, nil
}

// Flagged reports whether the last response carried the error marker.
func (w *Worker) Flagged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flagged
}

// Exchange submits path and reads its response. If ctx ends mid-exchange
// the process is killed to unblock the I/O and the returned error matches
// ctx.Err().
func (w *Worker) Exchange(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The abort targets the process this exchange talks to, never one a
	// later restart installed.
	proc := w.current()
	aborted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(aborted)
		w.logger.Warn("Request cancelled, killing worker", "error", ctx.Err())
		w.abort(proc)
	})
	defer func() {
		if !stop() {
			<-aborted
		}
	}()

	if err := w.Submit(path); err != nil {
		return "", interrupted(ctx, err)
	}
	text, err := w.Result()
	if err != nil {
		return "", interrupted(ctx, err)
	}
	return text, nil
}

func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrUnsupportedInput) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// CheckError inspects stderr output collected since the last call without
// blocking. Output is logged; a fatal token restarts the worker and the
// restart error, if any, is returned.
func (w *Worker) CheckError(ctx context.Context) error {
	proc := w.current()
	if proc == nil {
		return nil
	}

	text := proc.errBuf.take()
	if text == "" {
		return nil
	}

	w.logger.Error("Worker reported errors", "stderr", strings.TrimSpace(text))
	if !containsFatal(text) {
		return nil
	}

	w.logger.Warn("Fatal error detected, restarting worker", "pid", proc.pid())
	return w.Restart(ctx, ReasonFatalSignal)
}

func containsFatal(text string) bool {
	for _, token := range fatalTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// Restart shuts the current process down and starts a new one.
func (w *Worker) Restart(ctx context.Context, reason string) error {
	oldPID := w.PID()

	_, stopErr := w.Shutdown(ctx)
	startErr := w.Start()

	newPID := w.PID()
	w.mu.Lock()
	if startErr == nil {
		w.restarts++
	}
	w.mu.Unlock()

	if startErr != nil {
		w.logger.Error("Worker restart failed", "reason", reason, "old_pid", oldPID, "error", startErr)
	} else {
		w.logger.Info("Worker restarted", "reason", reason, "old_pid", oldPID, "pid", newPID)
	}
	if w.onRestart != nil {
		w.onRestart(w.id, oldPID, newPID, reason, startErr)
	}

	return errors.Join(stopErr, startErr)
}

// Shutdown asks the process to exit, killing it if it does not within the
// stop timeout or before ctx ends. It reports whether the process exited on
// its own after the exit command. A worker without a process returns false.
func (w *Worker) Shutdown(ctx context.Context) (bool, error) {
	w.mu.Lock()
	proc := w.proc
	w.proc = nil
	w.mu.Unlock()

	if proc == nil {
		return false, nil
	}
	defer proc.close()

	pid := proc.pid()
	accepted := false
	if proc.alive() {
		if err := proc.send(exitCommand); err != nil {
			w.logger.Warn("Exit command not delivered", "pid", pid, "error", err)
		} else {
			accepted = true
		}
	}

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()

	select {
	case <-proc.done:
		w.logger.Debug("Worker exited", "pid", pid, "graceful", accepted)
		return accepted, nil
	case <-timer.C:
		w.logger.Warn("Graceful shutdown timeout, forcing kill", "pid", pid, "timeout", w.stopTimeout)
		w.kill(proc)
		return false, nil
	case <-ctx.Done():
		w.logger.Warn("Shutdown interrupted, forcing kill", "pid", pid)
		w.kill(proc)
		return false, ctx.Err()
	}
}

// Close shuts the worker down for good. Later Start calls fail with
// ErrWorkerClosed.
func (w *Worker) Close(ctx context.Context) (bool, error) {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Shutdown(ctx)
}

// kill force-terminates proc and waits a bounded time for it to go away.
func (w *Worker) kill(proc *running) {
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		w.logger.Error("Failed to kill process", "pid", proc.pid(), "error", err)
	}
	select {
	case <-proc.done:
	case <-time.After(w.killTimeout):
		w.logger.Error("Process did not exit after kill signal", "pid", proc.pid())
	}
}

// abort kills proc and closes its pipes so any blocked read or write
// returns, then waits a bounded time for it to exit. The dead process is
// replaced on release.
func (w *Worker) abort(proc *running) {
	if proc == nil {
		return
	}
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		w.logger.Error("Failed to kill process", "pid", proc.pid(), "error", err)
	}
	closeAll(proc.stdin, proc.stdout)
	select {
	case <-proc.done:
	case <-time.After(w.killTimeout):
		w.logger.Error("Process did not exit after kill signal", "pid", proc.pid())
	}
}

// Alive reports whether the worker has a process that has not exited.
func (w *Worker) Alive() bool {
	return w.current().alive()
}

// PID returns the process id, or -1 when no live process exists.
func (w *Worker) PID() int {
	proc := w.current()
	if !proc.alive() {
		return -1
	}
	return proc.pid()
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()

	info := Info{
		ID:       w.id,
		State:    StateStopped,
		PID:      -1,
		Restarts: w.restarts,
	}
	switch {
	case w.closed:
		info.State = StateClosed
	case w.proc.alive():
		info.State = StateRunning
		info.PID = w.proc.pid()
		info.StartedAt = w.startedAt
	}
	if w.lastErr != nil {
		info.LastError = w.lastErr.Error()
	}
	return info
}

func (w *Worker) current() *running {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proc
}

func (p *running) alive() bool {
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// send writes one line and flushes it.
func (p *running) send(line string) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.writer.WriteString(line + "\n"); err != nil {
		return err
	}
	return p.writer.Flush()
}

func (p *running) pid() int {
	return p.cmd.Process.Pid
}

func (p *running) close() {
	closeAll(p.stdin, p.stdout, p.stderr)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// readResponse reads lines until the end marker. The error marker line is
// dropped and reported through flagged.
func readResponse(r *bufio.Reader) (text string, flagged bool, err error) {
	var body strings.Builder
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if err != nil {
			if errors.Is(err, io.EOF) && trimmed == EndMarker {
				return strings.TrimSpace(body.String()), flagged, nil
			}
			if errors.Is(err, io.EOF) {
				return "", flagged, fmt.Errorf("reading response: %w", io.ErrUnexpectedEOF)
			}
			return "", flagged, fmt.Errorf("reading response: %w", err)
		}

		switch trimmed {
		case EndMarker:
			return strings.TrimSpace(body.String()), flagged, nil
		case ErrorMarker:
			flagged = true
		default:
			body.WriteString(trimmed)
			body.WriteByte('\n')
		}
	}
}

// stderrBuffer collects worker stderr, keeping at most limit bytes.
type stderrBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

// take returns and clears everything collected so far.
func (b *stderrBuffer) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

// Package process runs spreadsheet conversions on a pool of long-lived
// interpreter processes.
//
// The package offers two levels of abstraction:
//
// Worker wraps one interpreter process running the conversion script:
//   - Line protocol over stdin/stdout: one path in, Markdown lines out,
//     terminated by EndMarker and optionally flagged with ErrorMarker
//   - Non-blocking stderr inspection; "fatal" or "exception" restarts the process
//   - Graceful shutdown with the exit command, force kill after a timeout
//   - Context cancellation kills the process to unblock pending I/O
//
// Pool manages a fixed set of workers:
//   - Concurrent startup; workers that fail to launch are left out
//   - Bounded wait for an idle worker, then ErrServiceBusy
//   - Dead workers are restarted on release, or discarded if that fails
//   - Shutdown drains in-flight calls before stopping every worker
//
// Example usage with Pool:
//
//	pool, err := process.NewPool(ctx, process.PoolOptions{
//	    Size:   4,
//	    Script: script.Default(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Shutdown(context.Background())
//
//	markdown, err := pool.Convert(ctx, "/data/report.xlsx")
package process

// Package async runs work that must never affect the outcome of the
// request that triggered it.
//
// # Dispatcher
//
// Detached one-off tasks (API key last-used updates):
//
//	d := async.NewDispatcher(logger, metrics, 5*time.Second)
//	d.Go(r.Context(), "api key touch", func(ctx context.Context) error {
//		return store.TouchAPIKey(ctx, keyID, now)
//	})
//
// WorkerPool: bounded queue processed by a fixed number of workers
// (download recording). TrySubmit never blocks the caller.
//
//	pool := async.NewWorkerPool(ctx, 4, 1024, "download recording", 10*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Error Collection: Non-blocking error channels, failures always logged
// Graceful Shutdown: Worker draining
package async

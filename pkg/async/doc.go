// Package async runs fire-and-forget background work with panic recovery,
// per-task timeouts and a drain point for graceful shutdown.
//
//	runner := async.NewRunner(logger)
//	runner.Go(r.Context(), 10*time.Second, "refresh cached user", func(ctx context.Context) error {
//	    return mgr.RefreshUser(ctx)
//	})
//	defer runner.Wait(shutdownCtx)
package async

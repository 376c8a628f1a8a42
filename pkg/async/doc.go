// Package async runs background work with a deadline and panic recovery.
//
// Run executes a task synchronously and turns a panic into an error:
//
//	err := async.Run(ctx, 30*time.Second, "permission sweep", func(ctx context.Context) error {
//		_, err := engine.PurgeExpired(ctx)
//		return err
//	})
//
// SafeGo does the same on a new goroutine and logs the outcome instead of
// returning it. Use it instead of a bare go statement for fire-and-forget
// work such as scheduled jobs.
package async

// Package resilience provides retry with backoff for fallible operations.
//
// loadcache uses it to retry resource construction when a cache is configured
// with a construction retry policy:
//
//	r := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts:  3,
//	    InitialDelay: 50 * time.Millisecond,
//	    RetryIf: func(err error) bool {
//	        return !errors.Is(err, fs.ErrNotExist)
//	    },
//	})
//
//	err := r.Execute(ctx, func(ctx context.Context) error {
//	    return openLoader(ctx)
//	})
package resilience

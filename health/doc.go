// Package health provides health checking primitives for loadcache.
//
// A Checker reports a Status: Healthy, Degraded, or Unhealthy.
// ReclaimChecker watches a cache's reclamation worker:
//
//	check := health.NewReclaimChecker("loaders", c, health.ReclaimCheckerConfig{
//	    MaxPending: 100,
//	})
//
//	http.Handle("/healthz", health.Handler(check))
//
// The handler answers 200 while every check is healthy or degraded and 503
// once any check is unhealthy.
package health

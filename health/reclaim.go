package health

import (
	"context"
	"fmt"
)

// ReclaimSource is the view of a cache that ReclaimChecker needs.
// *cache.Cache satisfies it.
type ReclaimSource interface {
	Len() int
	Pending() int
	WorkerRunning() bool
}

// ReclaimCheckerConfig configures a ReclaimChecker.
type ReclaimCheckerConfig struct {
	// MaxPending is the queue depth above which the check reports degraded.
	// Default: 1000
	MaxPending int
}

// ReclaimChecker reports on a cache's reclamation worker.
type ReclaimChecker struct {
	name   string
	source ReclaimSource
	config ReclaimCheckerConfig
}

// NewReclaimChecker creates a checker named name for source.
func NewReclaimChecker(name string, source ReclaimSource, config ReclaimCheckerConfig) *ReclaimChecker {
	if config.MaxPending <= 0 {
		config.MaxPending = 1000
	}
	return &ReclaimChecker{name: name, source: source, config: config}
}

func (c *ReclaimChecker) Name() string { return c.name }

// Check is unhealthy when the worker is not running, degraded when more
// than MaxPending notifications are queued, and healthy otherwise.
func (c *ReclaimChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	pending := c.source.Pending()
	details := map[string]any{
		"entries":     c.source.Len(),
		"pending":     pending,
		"max_pending": c.config.MaxPending,
	}

	if !c.source.WorkerRunning() {
		return Unhealthy("reclamation worker stopped", ErrWorkerStopped).WithDetails(details)
	}
	if pending > c.config.MaxPending {
		return Degraded(fmt.Sprintf("reclamation backlog: %d pending", pending)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d entries, %d pending", details["entries"], pending)).WithDetails(details)
}

var _ Checker = (*ReclaimChecker)(nil)

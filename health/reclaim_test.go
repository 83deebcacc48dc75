package health

import (
	"context"
	"errors"
	"testing"
)

type fakeSource struct {
	entries int
	pending int
	running bool
}

func (f fakeSource) Len() int            { return f.entries }
func (f fakeSource) Pending() int        { return f.pending }
func (f fakeSource) WorkerRunning() bool { return f.running }

func TestReclaimChecker(t *testing.T) {
	tests := []struct {
		name   string
		source fakeSource
		want   Status
	}{
		{"idle", fakeSource{running: true}, StatusHealthy},
		{"within limit", fakeSource{entries: 5, pending: 10, running: true}, StatusHealthy},
		{"backlog", fakeSource{entries: 5, pending: 11, running: true}, StatusDegraded},
		{"stopped", fakeSource{entries: 5, pending: 0, running: false}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewReclaimChecker("cache", tt.source, ReclaimCheckerConfig{MaxPending: 10})
			result := checker.Check(context.Background())

			if result.Status != tt.want {
				t.Errorf("Status = %v, want %v", result.Status, tt.want)
			}
			if result.Details["entries"] != tt.source.entries {
				t.Errorf("Details[entries] = %v, want %d", result.Details["entries"], tt.source.entries)
			}
			if result.Details["pending"] != tt.source.pending {
				t.Errorf("Details[pending] = %v, want %d", result.Details["pending"], tt.source.pending)
			}
		})
	}
}

func TestReclaimChecker_StoppedError(t *testing.T) {
	checker := NewReclaimChecker("cache", fakeSource{}, ReclaimCheckerConfig{})
	result := checker.Check(context.Background())

	if !errors.Is(result.Error, ErrWorkerStopped) {
		t.Errorf("Error = %v, want ErrWorkerStopped", result.Error)
	}
}

func TestReclaimChecker_DefaultMaxPending(t *testing.T) {
	checker := NewReclaimChecker("cache", fakeSource{running: true, pending: 1000}, ReclaimCheckerConfig{})

	if checker.config.MaxPending != 1000 {
		t.Errorf("MaxPending = %d, want 1000", checker.config.MaxPending)
	}
	if got := checker.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Status = %v, want StatusHealthy", got)
	}
}

func TestReclaimChecker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := NewReclaimChecker("cache", fakeSource{running: true}, ReclaimCheckerConfig{})
	result := checker.Check(ctx)

	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want StatusUnhealthy", result.Status)
	}
	if !errors.Is(result.Error, context.Canceled) {
		t.Errorf("Error = %v, want context.Canceled", result.Error)
	}
}

package core

import (
	"context"
	"testing"
)

func TestCircuitBreaker_ClosedAllowsGuardedOps(t *testing.T) {
	b := NewCircuitBreaker(NewMemoryStore(), DefaultBreakerThresholds())
	if err := b.Guard(OpClassTransfers); err != nil {
		t.Fatalf("guard on closed breaker: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want Closed", got)
	}
}

func TestCircuitBreaker_TripBlocksEveryClass(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker(NewMemoryStore(), DefaultBreakerThresholds())
	if err := b.Trip(ctx, "manual test trip"); err != nil {
		t.Fatalf("trip: %v", err)
	}
	for _, class := range []OpClass{OpClassTransfers, OpClassLoans, OpClassMinting} {
		if err := b.Guard(class); err == nil {
			t.Fatalf("guard(%s) on open breaker should fail", class)
		}
	}
}

func TestCircuitBreaker_AnomalyThresholdRequiresConsecutiveBreaches(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker(NewMemoryStore(), DefaultBreakerThresholds())
	bad := MetricsSnapshot{Inflation: 0.9}

	if err := b.Check(ctx, bad); err != nil {
		t.Fatalf("check 1: %v", err)
	}
	if err := b.Check(ctx, MetricsSnapshot{Inflation: 0.1}); err != nil {
		t.Fatalf("check 2 (clean, resets counter): %v", err)
	}
	if err := b.Check(ctx, bad); err != nil {
		t.Fatalf("check 3: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want Closed (counter should have reset)", got)
	}

	if err := b.Check(ctx, bad); err != nil {
		t.Fatalf("check 4: %v", err)
	}
	if err := b.Check(ctx, bad); err != nil {
		t.Fatalf("check 5: %v", err)
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want Open after 3 consecutive anomalous checks", got)
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterEnoughProbes(t *testing.T) {
	ctx := context.Background()
	thresholds := DefaultBreakerThresholds()
	thresholds.HalfOpenMaxProbes = 2
	b := NewCircuitBreaker(NewMemoryStore(), thresholds)

	if err := b.Trip(ctx, "test"); err != nil {
		t.Fatalf("trip: %v", err)
	}
	b.ToHalfOpen()

	if err := b.Guard(OpClassTransfers); err != nil {
		t.Fatalf("guard during half-open should let the probe through: %v", err)
	}
	if err := b.ReportProbeResult(ctx, true); err != nil {
		t.Fatalf("report probe 1: %v", err)
	}
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %v, want still HalfOpen after 1/%d probes", got, thresholds.HalfOpenMaxProbes)
	}

	if err := b.Guard(OpClassTransfers); err != nil {
		t.Fatalf("guard during half-open should let the probe through: %v", err)
	}
	if err := b.ReportProbeResult(ctx, true); err != nil {
		t.Fatalf("report probe 2: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want Closed after %d successful probes", got, thresholds.HalfOpenMaxProbes)
	}
}

func TestCircuitBreaker_HalfOpenFailedProbeReTrips(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker(NewMemoryStore(), DefaultBreakerThresholds())
	if err := b.Trip(ctx, "test"); err != nil {
		t.Fatalf("trip: %v", err)
	}
	b.ToHalfOpen()
	if err := b.Guard(OpClassTransfers); err != nil {
		t.Fatalf("guard during half-open: %v", err)
	}
	if err := b.ReportProbeResult(ctx, false); err != nil {
		t.Fatalf("report failed probe: %v", err)
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want Open after a failed half-open probe", got)
	}
}

func TestCircuitBreaker_ResetIsIdempotentOnClosed(t *testing.T) {
	b := NewCircuitBreaker(NewMemoryStore(), DefaultBreakerThresholds())
	if err := b.Reset(context.Background(), "no-op"); err != nil {
		t.Fatalf("reset on already-closed breaker: %v", err)
	}
}

type recordingHandler struct {
	trips   int
	resets  int
	lastRsn TripReason
}

func (r *recordingHandler) OnBreakerTrip(reason TripReason, _ MetricsSnapshot) {
	r.trips++
	r.lastRsn = reason
}
func (r *recordingHandler) OnBreakerReset() { r.resets++ }

func TestCircuitBreaker_NotifiesRegisteredHandlers(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker(NewMemoryStore(), DefaultBreakerThresholds())
	h := &recordingHandler{}
	b.RegisterHandler(h)

	if err := b.Trip(ctx, "test"); err != nil {
		t.Fatalf("trip: %v", err)
	}
	if h.trips != 1 || h.lastRsn != ReasonManual {
		t.Fatalf("handler.trips = %d, lastRsn = %s, want 1, Manual", h.trips, h.lastRsn)
	}
	if err := b.Reset(ctx, "test"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if h.resets != 1 {
		t.Fatalf("handler.resets = %d, want 1", h.resets)
	}
}

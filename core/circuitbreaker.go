package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// BreakerState is the circuit breaker's externally observable state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "Closed"
	BreakerOpen     BreakerState = "Open"
	BreakerHalfOpen BreakerState = "HalfOpen"
)

// OpClass is an operation class the breaker guards independently of what
// tripped it — every trip blocks every class at once.
type OpClass string

const (
	OpClassTransfers         OpClass = "transfers"
	OpClassLoans             OpClass = "loans"
	OpClassConversions       OpClass = "conversions"
	OpClassMinting           OpClass = "minting"
	OpClassBurning           OpClass = "burning"
	OpClassAgentRegistration OpClass = "agentRegistration"
)

// BreakerThresholds holds the default trip boundaries. All are overridable
// at construction time.
type BreakerThresholds struct {
	MaxInflation      float64
	MaxSupplyChange   float64
	MaxDefaultRate    float64
	MaxGini           float64
	AnomalyThreshold  int
	HalfOpenMaxProbes int // see HalfOpen re-trip policy below
}

// DefaultBreakerThresholds matches the documented defaults.
func DefaultBreakerThresholds() BreakerThresholds {
	return BreakerThresholds{
		MaxInflation:      0.50,
		MaxSupplyChange:   1.00,
		MaxDefaultRate:    0.50,
		MaxGini:           0.95,
		AnomalyThreshold:  3,
		HalfOpenMaxProbes: 1,
	}
}

// TripHandler is notified whenever the breaker trips or resets; the
// guarantee fund registers one to unlock/re-lock itself.
type TripHandler interface {
	OnBreakerTrip(reason TripReason, metrics MetricsSnapshot)
	OnBreakerReset()
}

// CircuitBreaker is the process-wide safety controller. Its state transition
// and event emission are serialized by mu, mirroring the single
// append-serializing discipline the event store itself follows.
//
// HalfOpen re-trip policy (resolves an open question left unspecified by
// prior art): every operation let through while HalfOpen counts toward
// HalfOpenMaxProbes. A guarded call that fails while HalfOpen immediately
// re-trips to Open; HalfOpenMaxProbes consecutive successes close the
// breaker. This makes HalfOpen a bounded trial period rather than an
// indefinite half-measure.
type CircuitBreaker struct {
	mu         sync.Mutex
	store      EventStore
	thresholds BreakerThresholds
	logger     *log.Logger

	state          BreakerState
	anomalyCount   int
	trippedAt      time.Time
	halfOpenProbes int
	lastReason     TripReason
	handlers       []TripHandler
}

// NewCircuitBreaker constructs a Closed breaker writing trip/reset events to
// store.
func NewCircuitBreaker(store EventStore, thresholds BreakerThresholds) *CircuitBreaker {
	return &CircuitBreaker{
		store:      store,
		thresholds: thresholds,
		logger:     log.StandardLogger(),
		state:      BreakerClosed,
	}
}

func (b *CircuitBreaker) SetLogger(l *log.Logger) { b.logger = l }

// RegisterHandler adds a trip/reset listener, e.g. the guarantee fund.
func (b *CircuitBreaker) RegisterHandler(h TripHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Guard blocks class-guarded operations while the breaker is Open. While
// HalfOpen it lets the call through but counts it against HalfOpenMaxProbes.
func (b *CircuitBreaker) Guard(class OpClass) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		return WrapError(CodeCircuitBreakerBlocked,
			fmt.Sprintf("operation class %q blocked: breaker open (%s)", class, b.lastReason),
			ErrCircuitBreakerBlocked)
	case BreakerHalfOpen:
		b.halfOpenProbes++
		return nil
	default:
		return nil
	}
}

// ReportProbeResult tells a HalfOpen breaker whether the guarded call it let
// through just succeeded or failed. Closed/Open breakers ignore this.
func (b *CircuitBreaker) ReportProbeResult(ctx context.Context, ok bool) error {
	b.mu.Lock()
	if b.state != BreakerHalfOpen {
		b.mu.Unlock()
		return nil
	}
	if !ok {
		reason := b.lastReason
		b.mu.Unlock()
		return b.trip(ctx, reason, MetricsSnapshot{}, false, "probe failed during half-open trial")
	}
	if b.halfOpenProbes >= b.thresholds.HalfOpenMaxProbes {
		b.mu.Unlock()
		return b.Reset(ctx, "half-open trial succeeded")
	}
	b.mu.Unlock()
	return nil
}

// Check evaluates a metrics snapshot against the configured thresholds. A
// single anomalous check increments an internal counter; the breaker trips
// only after AnomalyThreshold consecutive anomalous checks. A clean check
// resets the counter.
func (b *CircuitBreaker) Check(ctx context.Context, m MetricsSnapshot) error {
	reason, anomalous := b.classify(m)
	b.mu.Lock()
	if !anomalous {
		b.anomalyCount = 0
		b.mu.Unlock()
		return nil
	}
	b.anomalyCount++
	count := b.anomalyCount
	threshold := b.thresholds.AnomalyThreshold
	b.mu.Unlock()
	if count < threshold {
		return nil
	}
	return b.trip(ctx, reason, m, false, "")
}

func (b *CircuitBreaker) classify(m MetricsSnapshot) (TripReason, bool) {
	switch {
	case m.Inflation > b.thresholds.MaxInflation:
		return ReasonHyperinflation, true
	case absf(m.SupplyChange24h) > b.thresholds.MaxSupplyChange:
		return ReasonSupplyAnomaly, true
	case m.DefaultRate > b.thresholds.MaxDefaultRate:
		return ReasonMassDefault, true
	case m.TreasuryBalance < 0:
		return ReasonNegativeTreasury, true
	case m.Gini > b.thresholds.MaxGini:
		return ReasonExtremeConcentration, true
	default:
		return "", false
	}
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Trip manually trips the breaker with an operator-supplied reason.
func (b *CircuitBreaker) Trip(ctx context.Context, note string) error {
	return b.trip(ctx, ReasonManual, MetricsSnapshot{}, true, note)
}

func (b *CircuitBreaker) trip(ctx context.Context, reason TripReason, metrics MetricsSnapshot, manual bool, note string) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		b.mu.Unlock()
		return nil
	}
	b.state = BreakerOpen
	b.trippedAt = now()
	b.anomalyCount = 0
	b.halfOpenProbes = 0
	b.lastReason = reason
	handlers := append([]TripHandler(nil), b.handlers...)
	b.mu.Unlock()

	_, err := b.store.Append(ctx, EventInput{
		Type:          "CircuitBreakerTripped",
		AggregateType: AggregateSystem,
		AggregateID:   "circuit-breaker",
		Payload:       CircuitBreakerTrippedPayload{Reason: reason, Metrics: metrics, Manual: manual, Note: note},
		Actor:         SystemActor("circuit-breaker"),
	})
	if err != nil {
		return err
	}
	b.logger.WithFields(log.Fields{"reason": reason, "manual": manual}).Warn("circuit breaker tripped")
	for _, h := range handlers {
		h.OnBreakerTrip(reason, metrics)
	}
	return nil
}

// Reset restores all operation classes. Called by an operator (Open) or
// automatically once a HalfOpen trial succeeds.
func (b *CircuitBreaker) Reset(ctx context.Context, reason string) error {
	b.mu.Lock()
	if b.state == BreakerClosed {
		b.mu.Unlock()
		return nil
	}
	downtime := now().Sub(b.trippedAt)
	b.state = BreakerClosed
	b.anomalyCount = 0
	b.halfOpenProbes = 0
	handlers := append([]TripHandler(nil), b.handlers...)
	b.mu.Unlock()

	_, err := b.store.Append(ctx, EventInput{
		Type:          "CircuitBreakerReset",
		AggregateType: AggregateSystem,
		AggregateID:   "circuit-breaker",
		Payload:       CircuitBreakerResetPayload{DowntimeMS: downtime.Milliseconds(), Reason: reason},
		Actor:         SystemActor("circuit-breaker"),
	})
	if err != nil {
		return err
	}
	b.logger.WithField("downtimeMs", downtime.Milliseconds()).Info("circuit breaker reset")
	for _, h := range handlers {
		h.OnBreakerReset()
	}
	return nil
}

// ToHalfOpen moves an Open breaker into a bounded trial period, letting a
// limited number of operations through before deciding to Close or re-Open.
func (b *CircuitBreaker) ToHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		b.state = BreakerHalfOpen
		b.halfOpenProbes = 0
	}
}

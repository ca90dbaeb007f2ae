package core

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// InterestPolicy holds the thresholds and cooldown governing the floating
// interest rate / macroeconomic band.
type InterestPolicy struct {
	LowInflationThreshold  float64
	HighInflationThreshold float64
	LowRate                float64
	NormalRate             float64
	HighRate               float64
	Cooldown               time.Duration
}

// DefaultInterestPolicy mirrors a conservative starter configuration.
func DefaultInterestPolicy() InterestPolicy {
	return InterestPolicy{
		LowInflationThreshold:  0.02,
		HighInflationThreshold: 0.08,
		LowRate:                0.01,
		NormalRate:             0.05,
		HighRate:               0.12,
		Cooldown:               24 * time.Hour,
	}
}

// RateController tracks the current band/rate and applies the policy's
// cooldown before allowing another change.
type RateController struct {
	store  EventStore
	policy InterestPolicy
	logger *log.Logger

	mu             sync.Mutex
	currentBand    InflationBand
	currentRate    float64
	lastChangedAt  time.Time
}

// NewRateController starts the controller at the normal band/rate.
func NewRateController(store EventStore, policy InterestPolicy) *RateController {
	return &RateController{
		store:       store,
		policy:      policy,
		logger:      log.StandardLogger(),
		currentBand: BandNormal,
		currentRate: policy.NormalRate,
	}
}

func (r *RateController) SetLogger(l *log.Logger) { r.logger = l }

// CurrentRate returns the controller's active APR.
func (r *RateController) CurrentRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRate
}

// CurrentBand returns the controller's active inflation band.
func (r *RateController) CurrentBand() InflationBand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentBand
}

// Evaluate applies the band logic to a new inflation reading: low ⇒ low
// band/rate, high ⇒ high band/rate, otherwise no change — a mid-range
// reading never moves the band, so rates only step at the extremes. A
// change only takes effect once Cooldown has elapsed since the last one;
// changes emit InterestRateAdjusted and MacroeconomicBandChanged.
func (r *RateController) Evaluate(ctx context.Context, inflation float64) error {
	var targetBand InflationBand
	switch {
	case inflation <= r.policy.LowInflationThreshold:
		targetBand = BandLow
	case inflation >= r.policy.HighInflationThreshold:
		targetBand = BandHigh
	default:
		return nil
	}

	r.mu.Lock()
	if targetBand == r.currentBand {
		r.mu.Unlock()
		return nil
	}
	if !r.lastChangedAt.IsZero() && now().Sub(r.lastChangedAt) < r.policy.Cooldown {
		r.mu.Unlock()
		return nil
	}
	oldBand := r.currentBand
	oldRate := r.currentRate
	newRate := r.rateForBand(targetBand)
	r.currentBand = targetBand
	r.currentRate = newRate
	r.lastChangedAt = now()
	r.mu.Unlock()

	if _, err := r.store.Append(ctx, EventInput{
		Type:          "MacroeconomicBandChanged",
		AggregateType: AggregateSystem,
		AggregateID:   "rate-controller",
		Payload:       MacroeconomicBandChangedPayload{OldBand: oldBand, NewBand: targetBand, Inflation: inflation},
		Actor:         SystemActor("rate-controller"),
	}); err != nil {
		return err
	}
	if _, err := r.store.Append(ctx, EventInput{
		Type:          "InterestRateAdjusted",
		AggregateType: AggregateSystem,
		AggregateID:   "rate-controller",
		Payload:       InterestRateAdjustedPayload{OldRate: oldRate, NewRate: newRate, Band: targetBand},
		Actor:         SystemActor("rate-controller"),
	}); err != nil {
		return err
	}
	r.logger.WithFields(log.Fields{"oldBand": oldBand, "newBand": targetBand, "rate": newRate}).Info("interest rate band changed")
	return nil
}

func (r *RateController) rateForBand(band InflationBand) float64 {
	switch band {
	case BandLow:
		return r.policy.LowRate
	case BandHigh:
		return r.policy.HighRate
	default:
		return r.policy.NormalRate
	}
}

package core

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"

	log "github.com/sirupsen/logrus"
)

// GuaranteeFundState is the fund's process-wide, derivable-but-cached state.
type GuaranteeFundState struct {
	Balance            Credits
	TotalCollected     Credits
	TotalDistributed   Credits
	DistributionCount  int
	Locked             bool
}

// DistributionPolicy parameterizes the proportional payout algorithm.
type DistributionPolicy struct {
	CoveragePercentage   float64 // default 0.80
	MaxCoveragePerEntity Credits
	MinFundBalance       Credits
}

// DefaultDistributionPolicy matches the documented defaults.
func DefaultDistributionPolicy() DistributionPolicy {
	return DistributionPolicy{
		CoveragePercentage:   0.80,
		MaxCoveragePerEntity: UBL(10000),
		MinFundBalance:       0,
	}
}

// AffectedEntity is one claimant's reported balance going into a
// distribution round.
type AffectedEntity struct {
	EntityID EntityID
	Balance  Credits
}

// GuaranteeFund holds reserves accrued from transaction fees and, on
// emergencies, distributes them proportionally to affected entities. It
// implements TripHandler so the circuit breaker unlocks/re-locks it
// automatically, generalized from a single donation-pool/internal-wallet
// balance pair into a single lockable balance with a distribution
// algorithm.
type GuaranteeFund struct {
	store  EventStore
	policy DistributionPolicy
	logger *log.Logger

	mu    sync.Mutex
	state GuaranteeFundState
}

// NewGuaranteeFund constructs a locked, empty fund.
func NewGuaranteeFund(store EventStore, policy DistributionPolicy) *GuaranteeFund {
	return &GuaranteeFund{
		store:  store,
		policy: policy,
		logger: log.StandardLogger(),
		state:  GuaranteeFundState{Locked: true},
	}
}

func (f *GuaranteeFund) SetLogger(l *log.Logger) { f.logger = l }

// State returns a snapshot of the fund's current counters.
func (f *GuaranteeFund) State() GuaranteeFundState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Accrue records fee income into the fund. Fee routing itself (appending
// GuaranteeFundAccrued) happens in MonetaryEngine.Transfer; Accrue folds that
// event's effect into the cached balance so State() doesn't require a full
// replay on every read.
func (f *GuaranteeFund) Accrue(amount Credits) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Balance += amount
	f.state.TotalCollected += amount
}

// OnBreakerTrip unlocks the fund — it implements TripHandler.
func (f *GuaranteeFund) OnBreakerTrip(reason TripReason, metrics MetricsSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Locked = false
	f.logger.WithField("reason", reason).Info("guarantee fund unlocked on breaker trip")
}

// OnBreakerReset re-locks the fund — it implements TripHandler.
func (f *GuaranteeFund) OnBreakerReset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Locked = true
	f.logger.Info("guarantee fund re-locked on breaker reset")
}

// Distribute runs the proportional coverage algorithm against affected and
// emits GuaranteeFundDistribution. The fund re-locks itself once the round
// completes, matching the "normal operation" default.
func (f *GuaranteeFund) Distribute(ctx context.Context, affected []AffectedEntity) error {
	f.mu.Lock()
	if f.state.Locked {
		f.mu.Unlock()
		return fmt.Errorf("%w: guarantee fund is locked", ErrInsufficientFund)
	}
	if f.state.Balance < f.policy.MinFundBalance {
		f.mu.Unlock()
		return fmt.Errorf("%w: fund balance %s below minimum %s", ErrInsufficientFund, f.state.Balance, f.policy.MinFundBalance)
	}
	fundBefore := f.state.Balance
	f.mu.Unlock()

	// Integer arithmetic throughout: the coverage percentage becomes a
	// fixed-denominator numerator and the pro-rata split goes through
	// big.Int, so payouts floor identically on every replay.
	covBps := int64(math.Round(f.policy.CoveragePercentage * 10000))
	eligible := make([]Credits, len(affected))
	var totalEligible Credits
	for i, a := range affected {
		capped := a.Balance
		if capped > f.policy.MaxCoveragePerEntity {
			capped = f.policy.MaxCoveragePerEntity
		}
		e := Credits(int64(capped) * covBps / 10000)
		eligible[i] = e
		totalEligible += e
	}

	var coverageRatio float64
	paid := make([]Credits, len(affected))
	if fundBefore >= totalEligible {
		coverageRatio = 1
		copy(paid, eligible)
	} else if totalEligible > 0 {
		coverageRatio = float64(fundBefore) / float64(totalEligible)
		fundBig := big.NewInt(int64(fundBefore))
		totalBig := big.NewInt(int64(totalEligible))
		for i, e := range eligible {
			p := new(big.Int).Mul(big.NewInt(int64(e)), fundBig)
			paid[i] = Credits(p.Div(p, totalBig).Int64())
		}
	}

	var totalPaid Credits
	claims := make([]GuaranteeFundClaim, len(affected))
	for i, a := range affected {
		totalPaid += paid[i]
		claims[i] = GuaranteeFundClaim{EntityID: a.EntityID, Balance: a.Balance, Eligible: eligible[i], Paid: paid[i]}
	}
	fundAfter := fundBefore - totalPaid

	_, err := f.store.Append(ctx, EventInput{
		Type:          "GuaranteeFundDistribution",
		AggregateType: AggregateSystem,
		AggregateID:   "guarantee-fund",
		Payload: GuaranteeFundDistributionPayload{
			Claims:        claims,
			TotalEligible: totalEligible,
			TotalPaid:     totalPaid,
			CoverageRatio: coverageRatio,
			FundBefore:    fundBefore,
			FundAfter:     fundAfter,
		},
		Actor: SystemActor("guarantee-fund"),
	})
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.state.Balance = fundAfter
	f.state.TotalDistributed += totalPaid
	f.state.DistributionCount++
	f.state.Locked = true
	f.mu.Unlock()

	f.logger.WithFields(log.Fields{"totalPaid": totalPaid.String(), "coverageRatio": coverageRatio}).Info("guarantee fund distribution complete")
	return nil
}

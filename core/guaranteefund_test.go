package core

import (
	"context"
	"errors"
	"testing"
)

func TestGuaranteeFund_StartsLockedAndRefusesDistribution(t *testing.T) {
	f := NewGuaranteeFund(NewMemoryStore(), DefaultDistributionPolicy())
	err := f.Distribute(context.Background(), []AffectedEntity{{EntityID: "a", Balance: UBL(100)}})
	if !errors.Is(err, ErrInsufficientFund) {
		t.Fatalf("distribute on locked fund = %v, want ErrInsufficientFund", err)
	}
}

func TestGuaranteeFund_UnlocksOnTripAndRelocksOnReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	b := NewCircuitBreaker(store, DefaultBreakerThresholds())
	f := NewGuaranteeFund(store, DefaultDistributionPolicy())
	b.RegisterHandler(f)

	if f.State().Locked != true {
		t.Fatal("fund must start locked")
	}
	if err := b.Trip(ctx, "test"); err != nil {
		t.Fatalf("trip: %v", err)
	}
	if f.State().Locked {
		t.Fatal("fund must unlock when the breaker trips")
	}
	if err := b.Reset(ctx, "test"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !f.State().Locked {
		t.Fatal("fund must re-lock when the breaker resets")
	}
}

// Fund 500 UBL; balances [1000, 200, 100] UBL at 80% coverage under a
// 10,000 UBL cap. Eligible [800, 160, 80], total 1040 > fund, so each claim
// floors to eligible * 500/1040. The floor operates at the smallest unit:
// a whole-UBL rendering of this round would pay [384, 76, 38] and strand
// 2 UBL, whereas mUBL flooring pays [384.615, 76.923, 38.461] and leaves
// exactly 0.001 UBL behind.
func TestGuaranteeFund_ProportionalDistributionWhenUnderfunded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := NewGuaranteeFund(store, DefaultDistributionPolicy())
	f.Accrue(UBL(500))
	f.OnBreakerTrip(ReasonHyperinflation, MetricsSnapshot{})

	affected := []AffectedEntity{
		{EntityID: "a", Balance: UBL(1000)},
		{EntityID: "b", Balance: UBL(200)},
		{EntityID: "c", Balance: UBL(100)},
	}
	if err := f.Distribute(ctx, affected); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	res, err := store.Query(ctx, QueryCriteria{EventTypes: []string{"GuaranteeFundDistribution"}})
	if err != nil || res.Total != 1 {
		t.Fatalf("distribution event query: total=%d err=%v", res.Total, err)
	}
	p := res.Events[0].Payload.(GuaranteeFundDistributionPayload)

	if p.TotalEligible != UBL(1040) {
		t.Fatalf("totalEligible = %s, want 1040 UBL", p.TotalEligible)
	}
	wantEligible := []Credits{UBL(800), UBL(160), UBL(80)}
	wantPaid := []Credits{384615, 76923, 38461} // mUBL: 384.615, 76.923, 38.461 UBL
	for i, c := range p.Claims {
		if c.Eligible != wantEligible[i] {
			t.Fatalf("claim %d eligible = %s, want %s", i, c.Eligible, wantEligible[i])
		}
		if c.Paid != wantPaid[i] {
			t.Fatalf("claim %d paid = %s, want %s", i, c.Paid, wantPaid[i])
		}
	}
	if p.TotalPaid != Credits(499999) {
		t.Fatalf("totalPaid = %s, want 499.999 UBL", p.TotalPaid)
	}
	if p.FundBefore != UBL(500) || p.FundAfter != Credits(1) {
		t.Fatalf("fund before/after = %s/%s, want 500.000/0.001 UBL", p.FundBefore, p.FundAfter)
	}

	state := f.State()
	if !state.Locked {
		t.Fatal("fund must re-lock after a distribution round")
	}
	if state.Balance != p.FundAfter {
		t.Fatalf("cached balance = %s, want %s", state.Balance, p.FundAfter)
	}
	if state.DistributionCount != 1 {
		t.Fatalf("distributionCount = %d, want 1", state.DistributionCount)
	}
}

func TestGuaranteeFund_FullCoverageWhenFundSuffices(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := NewGuaranteeFund(store, DefaultDistributionPolicy())
	f.Accrue(UBL(1000))
	f.OnBreakerTrip(ReasonMassDefault, MetricsSnapshot{})

	if err := f.Distribute(ctx, []AffectedEntity{{EntityID: "a", Balance: UBL(100)}}); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	res, _ := store.Query(ctx, QueryCriteria{EventTypes: []string{"GuaranteeFundDistribution"}})
	p := res.Events[0].Payload.(GuaranteeFundDistributionPayload)
	if p.CoverageRatio != 1 {
		t.Fatalf("coverageRatio = %v, want 1", p.CoverageRatio)
	}
	if p.Claims[0].Paid != UBL(80) {
		t.Fatalf("paid = %s, want the full 80%% of 100 UBL", p.Claims[0].Paid)
	}
}

func TestGuaranteeFund_CoverageCapAppliesPerEntity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	policy := DefaultDistributionPolicy()
	policy.MaxCoveragePerEntity = UBL(50)
	f := NewGuaranteeFund(store, policy)
	f.Accrue(UBL(1000))
	f.OnBreakerTrip(ReasonMassDefault, MetricsSnapshot{})

	if err := f.Distribute(ctx, []AffectedEntity{{EntityID: "whale", Balance: UBL(100000)}}); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	res, _ := store.Query(ctx, QueryCriteria{EventTypes: []string{"GuaranteeFundDistribution"}})
	p := res.Events[0].Payload.(GuaranteeFundDistributionPayload)
	if p.Claims[0].Eligible != UBL(40) { // 80% of the 50 UBL cap
		t.Fatalf("eligible = %s, want capped at 40 UBL", p.Claims[0].Eligible)
	}
}

func TestGuaranteeFund_MinBalancePrecondition(t *testing.T) {
	policy := DefaultDistributionPolicy()
	policy.MinFundBalance = UBL(10)
	f := NewGuaranteeFund(NewMemoryStore(), policy)
	f.Accrue(UBL(5))
	f.OnBreakerTrip(ReasonMassDefault, MetricsSnapshot{})

	err := f.Distribute(context.Background(), []AffectedEntity{{EntityID: "a", Balance: UBL(1)}})
	if !errors.Is(err, ErrInsufficientFund) {
		t.Fatalf("distribute below min balance = %v, want ErrInsufficientFund", err)
	}
}

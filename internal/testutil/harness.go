// Package testutil wires a disposable ledger process for integration tests
// that exercise the public core API end to end, the same handles ublctl
// assembles at startup.
package testutil

import (
	"context"
	"testing"

	"ubl-core/core"
)

// Harness bundles a freshly bootstrapped, in-memory ledger process.
type Harness struct {
	T          *testing.T
	Store      core.EventStore
	Breaker    *core.CircuitBreaker
	Fund       *core.GuaranteeFund
	Containers *core.ContainerManager
	Monetary   *core.MonetaryEngine
	Loans      *core.LoanService
	Dispatcher *core.Dispatcher
}

// NewHarness wires a complete ledger process over a fresh MemoryStore and
// runs Bootstrap before returning, so every test starts from the genesis
// agreement/system entity/primordial realm already in place.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	store := core.NewMemoryStore()
	breaker := core.NewCircuitBreaker(store, core.DefaultBreakerThresholds())
	fund := core.NewGuaranteeFund(store, core.DefaultDistributionPolicy())
	breaker.RegisterHandler(fund)
	containers := core.NewContainerManager(store, breaker)
	monetary := core.NewMonetaryEngine(store, breaker, "guarantee-fund", core.DefaultFeeRateBps)
	monetary.AttachFund(fund)
	loans := core.NewLoanService(store, breaker)
	dispatcher := core.NewDispatcher(store, containers, monetary, loans)

	if _, err := core.Bootstrap(context.Background(), store); err != nil {
		t.Fatalf("bootstrap harness: %v", err)
	}

	return &Harness{
		T: t, Store: store, Breaker: breaker, Fund: fund,
		Containers: containers, Monetary: monetary, Loans: loans,
		Dispatcher: dispatcher,
	}
}

// MustMint mints amount into walletID or fails the test.
func (h *Harness) MustMint(walletID string, amount core.Credits) {
	h.T.Helper()
	if err := h.Monetary.Mint(context.Background(), walletID, amount, "", "treasury"); err != nil {
		h.T.Fatalf("mint %s into %s: %v", amount, walletID, err)
	}
}

// Balance returns walletID's current rehydrated balance, failing the test
// on error.
func (h *Harness) Balance(walletID string) core.Credits {
	h.T.Helper()
	s, err := core.LoadWallet(context.Background(), h.Store, walletID)
	if err != nil {
		h.T.Fatalf("load wallet %s: %v", walletID, err)
	}
	return s.Balance
}

package core

import (
	"context"
	"testing"
)

func TestMonetaryEngine_MintRejectsUnauthorizedActor(t *testing.T) {
	m := NewMonetaryEngine(NewMemoryStore(), nil, "fund", 0)
	err := m.Mint(context.Background(), "wallet-1", UBL(10), "", "random-actor")
	if err == nil {
		t.Fatal("mint with non-whitelisted authorizer should fail")
	}
}

func TestMonetaryEngine_MintRejectsNonPositiveAmount(t *testing.T) {
	m := NewMonetaryEngine(NewMemoryStore(), nil, "fund", 0)
	if err := m.Mint(context.Background(), "wallet-1", 0, "", "treasury"); err == nil {
		t.Fatal("mint of zero amount should fail")
	}
}

func TestMonetaryEngine_MintIncreasesBalance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMonetaryEngine(store, nil, "fund", 0)
	if err := m.Mint(ctx, "wallet-1", UBL(100), "", "treasury"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	w, err := LoadWallet(ctx, store, "wallet-1")
	if err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	if w.Balance != UBL(100) {
		t.Fatalf("balance = %s, want 100 UBL", w.Balance)
	}
}

func TestMonetaryEngine_BurnRejectsInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMonetaryEngine(store, nil, "fund", 0)
	if err := m.Mint(ctx, "wallet-1", UBL(5), "", "treasury"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.Burn(ctx, "wallet-1", UBL(10), "", "treasury"); err == nil {
		t.Fatal("burn exceeding balance should fail")
	}
}

func TestComputeFee_IntegerMath(t *testing.T) {
	fee, net := ComputeFee(UBL(100), 10) // 10 bps = 0.1%
	if fee != 100 {                      // 100000 mUBL * 10 / 10000 = 100 mUBL
		t.Fatalf("fee = %d, want 100 mUBL", fee)
	}
	if net != UBL(100)-100 {
		t.Fatalf("net = %d, want gross-fee", net)
	}
}

func TestMonetaryEngine_TransferConservesTotalSupply(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	breaker := NewCircuitBreaker(store, DefaultBreakerThresholds())
	m := NewMonetaryEngine(store, breaker, "fund-wallet", 100) // 1% fee

	if err := m.Mint(ctx, "alice", UBL(1000), "", "treasury"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.Transfer(ctx, "alice", "bob", UBL(100), EntityActor("alice")); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	alice, _ := LoadWallet(ctx, store, "alice")
	bob, _ := LoadWallet(ctx, store, "bob")
	fund, _ := LoadWallet(ctx, store, "fund-wallet")

	total := alice.Balance + bob.Balance + fund.Balance
	if total != UBL(1000) {
		t.Fatalf("total supply across legs = %s, want 1000 UBL (conservation violated)", total)
	}
	if alice.Balance != UBL(900) {
		t.Fatalf("alice.Balance = %s, want 900 UBL", alice.Balance)
	}
	if bob.Balance != UBL(99) {
		t.Fatalf("bob.Balance = %s, want 99 UBL (100 - 1%% fee)", bob.Balance)
	}
}

func TestMonetaryEngine_TransferRejectsSameWallet(t *testing.T) {
	m := NewMonetaryEngine(NewMemoryStore(), nil, "fund", 0)
	if err := m.Transfer(context.Background(), "alice", "alice", UBL(1), EntityActor("alice")); err == nil {
		t.Fatal("transfer to self should fail")
	}
}

func TestMonetaryEngine_TransferBlockedWhenBreakerOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	breaker := NewCircuitBreaker(store, DefaultBreakerThresholds())
	m := NewMonetaryEngine(store, breaker, "fund", 0)
	if err := m.Mint(ctx, "alice", UBL(100), "", "treasury"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := breaker.Trip(ctx, "test"); err != nil {
		t.Fatalf("trip: %v", err)
	}
	if err := m.Transfer(ctx, "alice", "bob", UBL(10), EntityActor("alice")); err == nil {
		t.Fatal("transfer should be blocked while breaker is open")
	}
}

package core

import (
	"context"
	"testing"
)

func newTestDispatcher() (*Dispatcher, *MemoryStore) {
	store := NewMemoryStore()
	breaker := NewCircuitBreaker(store, DefaultBreakerThresholds())
	containers := NewContainerManager(store, breaker)
	monetary := NewMonetaryEngine(store, breaker, "guarantee-fund", DefaultFeeRateBps)
	loans := NewLoanService(store, breaker)
	return NewDispatcher(store, containers, monetary, loans), store
}

func TestDispatcher_MissingIntentField(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Handle(context.Background(), Intent{})
	if res.Success {
		t.Fatal("empty intent must fail")
	}
	if len(res.Errors) != 1 || res.Errors[0].Code != CodeMissingIntent {
		t.Fatalf("errors = %+v, want MISSING_INTENT", res.Errors)
	}
	if res.Outcome.Type != "Nothing" {
		t.Fatalf("outcome = %s, want Nothing", res.Outcome.Type)
	}
}

func TestDispatcher_UnrecognizedIntent(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Handle(context.Background(), Intent{Intent: "nope.nothing"})
	if res.Success || res.Errors[0].Code != CodeIntentError {
		t.Fatalf("result = %+v, want INTENT_ERROR", res)
	}
}

func TestDispatcher_MintReturnsAppendedEvents(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Handle(context.Background(), Intent{
		Intent: "wallet.mint",
		Payload: map[string]any{
			"walletId":     "w1",
			"amount":       int64(UBL(100)),
			"authorizedBy": "treasury",
		},
	})
	if !res.Success {
		t.Fatalf("mint intent failed: %+v", res.Errors)
	}
	if len(res.Events) != 1 || res.Events[0].Type != "CreditsMinted" {
		t.Fatalf("events = %+v, want the single CreditsMinted event", res.Events)
	}
	if len(res.Affordances) == 0 {
		t.Fatal("mint should advertise a follow-up affordance")
	}
}

func TestDispatcher_ErrorsMapToWireCodes(t *testing.T) {
	d, _ := newTestDispatcher()
	// Transfer from an empty wallet: recoverable monetary failure.
	res := d.Handle(context.Background(), Intent{
		Intent: "wallet.transfer",
		Actor:  &ActorRef{Kind: ActorEntity, EntityID: "alice"},
		Payload: map[string]any{
			"fromWalletId": "empty",
			"toWalletId":   "other",
			"amount":       int64(UBL(10)),
		},
	})
	if res.Success {
		t.Fatal("transfer from empty wallet must fail")
	}
	if res.Errors[0].Code != CodeInsufficientBalance {
		t.Fatalf("code = %s, want INSUFFICIENT_BALANCE", res.Errors[0].Code)
	}
}

func TestDispatcher_BreakerBlockSurfacesAsIntentError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	breaker := NewCircuitBreaker(store, DefaultBreakerThresholds())
	monetary := NewMonetaryEngine(store, breaker, "guarantee-fund", DefaultFeeRateBps)
	d := NewDispatcher(store, NewContainerManager(store, breaker), monetary, NewLoanService(store, breaker))

	if err := monetary.Mint(ctx, "w1", UBL(100), "", "treasury"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := breaker.Trip(ctx, "test"); err != nil {
		t.Fatalf("trip: %v", err)
	}

	res := d.Handle(ctx, Intent{
		Intent: "wallet.transfer",
		Actor:  &ActorRef{Kind: ActorEntity, EntityID: "w1"},
		Payload: map[string]any{
			"fromWalletId": "w1", "toWalletId": "w2", "amount": int64(UBL(10)),
		},
	})
	if res.Success || res.Errors[0].Code != CodeCircuitBreakerBlocked {
		t.Fatalf("result = %+v, want CIRCUIT_BREAKER_BLOCKED", res.Errors)
	}
}

func TestDispatcher_RateLimitExceeded(t *testing.T) {
	d, _ := newTestDispatcher()
	d.SetRateLimit(0, 0)
	res := d.Handle(context.Background(), Intent{Intent: "wallet.mint", Payload: map[string]any{}})
	if res.Success {
		t.Fatal("rate-limited intent must fail")
	}
	if res.Errors[0].Code != CodeRateLimited {
		t.Fatalf("code = %s, want RATE_LIMITED", res.Errors[0].Code)
	}
	if res.Errors[0].Details["retryAfterSeconds"] == nil {
		t.Fatal("rate-limited response must carry a Retry-After hint")
	}
}

func TestDispatcher_InvalidActorRejected(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Handle(context.Background(), Intent{
		Intent:  "wallet.mint",
		Actor:   &ActorRef{Kind: ActorEntity}, // missing entityId
		Payload: map[string]any{},
	})
	if res.Success || res.Errors[0].Code != CodeInvalidMessage {
		t.Fatalf("result errors = %+v, want INVALID_MESSAGE", res.Errors)
	}
}

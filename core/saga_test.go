package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSaga_CommitsWhenEveryStepSucceeds(t *testing.T) {
	var order []string
	s := NewSaga("two-step", []Step{
		{Name: "first", Execute: func(ctx context.Context, sc *SagaContext) (any, error) {
			order = append(order, "first")
			return "r1", nil
		}},
		{Name: "second", Execute: func(ctx context.Context, sc *SagaContext) (any, error) {
			order = append(order, "second")
			if sc.Results["first"] != "r1" {
				t.Fatalf("step results not threaded: %v", sc.Results)
			}
			return nil, nil
		}},
	})
	if err := s.Execute(context.Background(), AnonymousActor(), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if s.Status != SagaCommitted {
		t.Fatalf("status = %s, want committed", s.Status)
	}
	if len(order) != 2 || order[0] != "first" {
		t.Fatalf("execution order = %v", order)
	}
}

func TestSaga_CompensatesCompletedStepsInReverseOrder(t *testing.T) {
	var compensated []string
	mk := func(name string) Step {
		return Step{
			Name:    name,
			Execute: func(ctx context.Context, sc *SagaContext) (any, error) { return name, nil },
			Compensate: func(ctx context.Context, sc *SagaContext, result any) error {
				compensated = append(compensated, name)
				return nil
			},
		}
	}
	s := NewSaga("fails-last", []Step{
		mk("a"), mk("b"), mk("c"),
		{Name: "d", Execute: func(ctx context.Context, sc *SagaContext) (any, error) {
			return nil, errors.New("boom")
		}},
	})

	err := s.Execute(context.Background(), AnonymousActor(), nil)
	if !errors.Is(err, ErrTransactionRolledBack) {
		t.Fatalf("execute error = %v, want ErrTransactionRolledBack", err)
	}
	if s.Status != SagaRolledBack {
		t.Fatalf("status = %s, want rolled_back", s.Status)
	}
	want := []string{"c", "b", "a"}
	if len(compensated) != 3 {
		t.Fatalf("compensated = %v, want all three prior steps", compensated)
	}
	for i := range want {
		if compensated[i] != want[i] {
			t.Fatalf("compensation order = %v, want %v", compensated, want)
		}
	}
}

func TestSaga_CompensationFailureDoesNotAbortRollback(t *testing.T) {
	var compensated []string
	s := NewSaga("comp-fail", []Step{
		{
			Name:    "a",
			Execute: func(ctx context.Context, sc *SagaContext) (any, error) { return nil, nil },
			Compensate: func(ctx context.Context, sc *SagaContext, result any) error {
				compensated = append(compensated, "a")
				return nil
			},
		},
		{
			Name:    "b",
			Execute: func(ctx context.Context, sc *SagaContext) (any, error) { return nil, nil },
			Compensate: func(ctx context.Context, sc *SagaContext, result any) error {
				return errors.New("compensation broke")
			},
		},
		{Name: "c", Execute: func(ctx context.Context, sc *SagaContext) (any, error) {
			return nil, errors.New("boom")
		}},
	})

	_ = s.Execute(context.Background(), AnonymousActor(), nil)
	if len(s.CompensationFailures) != 1 || s.CompensationFailures[0].StepName != "b" {
		t.Fatalf("compensation failures = %+v, want exactly step b recorded", s.CompensationFailures)
	}
	if len(compensated) != 1 || compensated[0] != "a" {
		t.Fatalf("step a must still be compensated after b's compensation failed: %v", compensated)
	}
}

func TestSaga_RejectsReExecution(t *testing.T) {
	s := NewSaga("once", []Step{
		{Name: "a", Execute: func(ctx context.Context, sc *SagaContext) (any, error) { return nil, nil }},
	})
	if err := s.Execute(context.Background(), AnonymousActor(), nil); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := s.Execute(context.Background(), AnonymousActor(), nil); err == nil {
		t.Fatal("re-executing a committed saga should fail")
	}
}

// A two-step item transfer where the deposit leg fails: the withdraw event
// lands, the deposit never does, and compensation appends a reversing
// deposit on the source — all three correlated, so a correlationId query
// reconstructs exactly what happened.
func TestSaga_RolledBackTransferLeavesCorrelatedAuditTrail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	one := int64(1)

	withdraw := Step{
		Name: "withdraw",
		Execute: func(ctx context.Context, sc *SagaContext) (any, error) {
			e, err := store.Append(ctx, EventInput{
				Type:          "ContainerItemWithdrawn",
				AggregateType: AggregateContainer,
				AggregateID:   "src",
				Payload:       ContainerItemWithdrawnPayload{ContainerID: "src", ItemID: "item-1", Quantity: &one},
				Actor:         sc.Actor,
				Causation:     sc.Causation(),
			})
			return e, err
		},
		Compensate: func(ctx context.Context, sc *SagaContext, result any) error {
			_, err := store.Append(ctx, EventInput{
				Type:          "ContainerItemDeposited",
				AggregateType: AggregateContainer,
				AggregateID:   "src",
				Payload: ContainerItemDepositedPayload{
					ContainerID: "src",
					Item:        ContainerItem{ID: "item-1", Type: "gold", Quantity: &one},
				},
				Actor:     sc.Actor,
				Causation: sc.Causation(),
			})
			return err
		},
	}
	deposit := Step{
		Name: "deposit",
		Execute: func(ctx context.Context, sc *SagaContext) (any, error) {
			return nil, fmt.Errorf("%w: dst is Sealed", ErrPhysicsViolation)
		},
	}

	s := NewSaga("transfer", []Step{withdraw, deposit})
	err := s.Execute(ctx, EntityActor("alice"), nil)
	if !errors.Is(err, ErrTransactionRolledBack) {
		t.Fatalf("execute error = %v, want ErrTransactionRolledBack", err)
	}
	if s.Status != SagaRolledBack {
		t.Fatalf("status = %s, want rolled_back", s.Status)
	}

	res, err := store.Query(ctx, QueryCriteria{CorrelationID: s.CorrelationID, OrderBy: OrderBySequence})
	if err != nil {
		t.Fatalf("correlation query: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("correlated events = %d, want withdraw + reversing deposit", res.Total)
	}
	if res.Events[0].Type != "ContainerItemWithdrawn" || res.Events[1].Type != "ContainerItemDeposited" {
		t.Fatalf("correlated trail = [%s, %s]", res.Events[0].Type, res.Events[1].Type)
	}
	for _, e := range res.Events {
		if e.AggregateID != "src" {
			t.Fatalf("no event should have touched the destination: %s/%s", e.AggregateType, e.AggregateID)
		}
	}
}

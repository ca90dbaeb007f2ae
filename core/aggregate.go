package core

import "context"

// Rehydrator folds an aggregate's event subsequence into its current state.
// State is any concrete struct (WalletState, LoanState, ...);
// Apply returns the next state given the previous one and the next event in
// sequence. Unknown event types are a no-op forward-compatibility path, and
// a payload referencing a different aggregate instance (e.g. a
// LoanRepayment naming a different loanId) must also be ignored — both
// rules are enforced by the per-kind Apply, not by this generic driver.
type Rehydrator[S any] struct {
	InitialState S
	Apply        func(state S, e Event) S
}

// Rehydrate replays the full event subsequence for (aggType, aggID) and
// returns the resulting state plus the rehydrator-internal version counter
// (distinct from the event store's aggregateVersion).
func Rehydrate[S any](ctx context.Context, store EventStore, r Rehydrator[S], aggType AggregateType, aggID string) (S, uint64, error) {
	events, err := store.GetByAggregate(ctx, aggType, aggID, GetByAggregateOptions{})
	if err != nil {
		return r.InitialState, 0, err
	}
	state := r.InitialState
	var version uint64
	for _, e := range events {
		state = r.Apply(state, e)
		version++
	}
	return state, version, nil
}

// RehydrateAt replays events up to (and including) the given aggregate
// version or timestamp, yielding historical state at that point. Zero
// upToVersion/upToTimestamp means "no bound on that axis".
func RehydrateAt[S any](ctx context.Context, store EventStore, r Rehydrator[S], aggType AggregateType, aggID string, upToVersion uint32, upToTimestamp int64) (S, uint64, error) {
	opts := GetByAggregateOptions{ToVersion: upToVersion}
	events, err := store.GetByAggregate(ctx, aggType, aggID, opts)
	if err != nil {
		return r.InitialState, 0, err
	}
	state := r.InitialState
	var version uint64
	for _, e := range events {
		if upToTimestamp != 0 && e.Timestamp.UnixMilli() > upToTimestamp {
			break
		}
		state = r.Apply(state, e)
		version++
	}
	return state, version, nil
}

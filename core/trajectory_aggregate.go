package core

import "context"

// TrajectoryState is the folded aggregate state for a Trajectory — an
// entity's derived history of actions ("identity-through-action").
type TrajectoryState struct {
	Exists          bool
	EntityID        EntityID
	Spans           []TrajectorySpanRecordedPayload
	TotalSpans      int64
	TotalCost       Credits
	TotalTokens     int64
	TotalDurationMS int64
	ActionCounts    map[string]int64
	SuccessCount    int64
	FirstActionAt   int64
	LastActionAt    int64
	Version         uint32
}

func (s TrajectoryState) successRate() float64 {
	if s.TotalSpans == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalSpans)
}

// SuccessRate is exported so callers don't need to know successRate is
// derived rather than stored.
func (s TrajectoryState) SuccessRate() float64 { return s.successRate() }

// TrajectoryRehydrator appends spans in arrival order.
var TrajectoryRehydrator = Rehydrator[TrajectoryState]{
	InitialState: TrajectoryState{ActionCounts: map[string]int64{}},
	Apply: func(s TrajectoryState, e Event) TrajectoryState {
		p, ok := e.Payload.(TrajectorySpanRecordedPayload)
		if !ok {
			return s
		}
		s.Exists = true
		s.EntityID = p.EntityID
		spans := make([]TrajectorySpanRecordedPayload, len(s.Spans), len(s.Spans)+1)
		copy(spans, s.Spans)
		s.Spans = append(spans, p)
		s.TotalSpans++
		s.TotalCost += p.CostCredits
		s.TotalTokens += p.Tokens
		s.TotalDurationMS += p.DurationMS
		if p.Success {
			s.SuccessCount++
		}
		counts := make(map[string]int64, len(s.ActionCounts))
		for k, v := range s.ActionCounts {
			counts[k] = v
		}
		counts[p.Action]++
		s.ActionCounts = counts
		ts := e.Timestamp.UnixMilli()
		if s.FirstActionAt == 0 {
			s.FirstActionAt = ts
		}
		s.LastActionAt = ts
		s.Version++
		return s
	},
}

// LoadTrajectory rehydrates the trajectory aggregate for entityID.
func LoadTrajectory(ctx context.Context, store EventStore, entityID string) (TrajectoryState, error) {
	s, _, err := Rehydrate(ctx, store, TrajectoryRehydrator, AggregateTrajectory, entityID)
	return s, err
}

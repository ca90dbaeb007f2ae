package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// aggregateKey identifies one aggregate's event subsequence.
type aggregateKey struct {
	Type AggregateType
	ID   string
}

// MemoryStore is the in-memory EventStore backend for tests and dev. It is
// the single append-serializing path: Append holds mu for its entire
// duration, so sequence/version/hash assignment is atomic with respect to
// concurrent appenders.
type MemoryStore struct {
	mu sync.RWMutex

	events    []Event // append-order, index i = sequence i+1
	byID      map[string]int
	byAggKey  map[aggregateKey][]int

	subs   map[string]*memSub
	logger *log.Logger
}

type memSub struct {
	filter SubscriptionFilter
	ch     chan Event
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]int),
		byAggKey: make(map[aggregateKey][]int),
		subs:     make(map[string]*memSub),
		logger:   log.StandardLogger(),
	}
}

// SetLogger overrides the store's logger instance.
func (s *MemoryStore) SetLogger(l *log.Logger) { s.logger = l }

func (s *MemoryStore) Append(ctx context.Context, in EventInput) (Event, error) {
	if err := in.Actor.Validate(); err != nil {
		return Event{}, err
	}
	if in.Payload == nil {
		return Event{}, fmt.Errorf("%w: event payload is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := uint64(len(s.events) + 1)
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now()
	}

	key := aggregateKey{Type: in.AggregateType, ID: in.AggregateID}
	version := in.AggregateVersion
	existing := s.byAggKey[key]
	nextVersion := uint32(len(existing) + 1)
	if version == 0 {
		version = nextVersion
	} else if version != nextVersion {
		return Event{}, fmt.Errorf("%w: aggregate %s/%s expected version %d, got %d",
			ErrVersionConflict, in.AggregateType, in.AggregateID, nextVersion, version)
	}

	prevHash := GenesisHash
	var prevEvent *Event
	if len(s.events) > 0 {
		p := s.events[len(s.events)-1]
		prevEvent = &p
		prevHash = p.Hash
	}

	e := Event{
		Sequence:         seq,
		ID:               uuid.NewString(),
		Timestamp:        ts,
		Type:             in.Type,
		AggregateType:    in.AggregateType,
		AggregateID:      in.AggregateID,
		AggregateVersion: version,
		Payload:          in.Payload,
		Actor:            in.Actor,
		Causation:        in.Causation,
		PreviousHash:     prevHash,
	}

	if err := validateTemporal(e, prevEvent); err != nil {
		return Event{}, err
	}

	hash, err := computeHash(e)
	if err != nil {
		return Event{}, err
	}
	e.Hash = hash

	// Detach the stored copy from the caller's payload before indexing, so a
	// caller that retains its input cannot mutate history afterwards.
	e = e.clone()
	s.events = append(s.events, e)
	idx := len(s.events) - 1
	s.byID[e.ID] = idx
	s.byAggKey[key] = append(s.byAggKey[key], idx)

	s.logger.WithFields(log.Fields{
		"sequence":    e.Sequence,
		"aggregateId": e.AggregateID,
		"eventType":   e.Type,
	}).Debug("event appended")

	s.notifyLocked(e)

	return e.clone(), nil
}

// notifyLocked delivers e to matching subscribers. Called with mu held; a
// full subscriber queue drops the oldest buffered event rather than
// blocking the append path.
func (s *MemoryStore) notifyLocked(e Event) {
	for _, sub := range s.subs {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- e.clone():
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- e.clone():
			default:
			}
		}
	}
}

func (s *MemoryStore) GetByAggregate(ctx context.Context, aggType AggregateType, aggID string, opts GetByAggregateOptions) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.byAggKey[aggregateKey{Type: aggType, ID: aggID}]
	out := make([]Event, 0, len(idxs))
	for _, i := range idxs {
		e := s.events[i]
		if opts.FromVersion != 0 && e.AggregateVersion < opts.FromVersion {
			continue
		}
		if opts.ToVersion != 0 && e.AggregateVersion > opts.ToVersion {
			continue
		}
		if !opts.FromTimestamp.IsZero() && e.Timestamp.Before(opts.FromTimestamp) {
			continue
		}
		if !opts.ToTimestamp.IsZero() && e.Timestamp.After(opts.ToTimestamp) {
			continue
		}
		out = append(out, e.clone())
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetBySequence(ctx context.Context, from, to uint64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from == 0 {
		from = 1
	}
	if to == 0 || to > uint64(len(s.events)) {
		to = uint64(len(s.events))
	}
	if from > to {
		return nil, nil
	}
	out := make([]Event, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, s.events[seq-1].clone())
	}
	return out, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Event{}, false, nil
	}
	return s.events[i].clone(), true, nil
}

func (s *MemoryStore) GetLatest(ctx context.Context, aggType AggregateType, aggID string) (Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byAggKey[aggregateKey{Type: aggType, ID: aggID}]
	if len(idxs) == 0 {
		return Event{}, false, nil
	}
	return s.events[idxs[len(idxs)-1]].clone(), true, nil
}

func (s *MemoryStore) GetCurrentSequence(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

func (s *MemoryStore) GetNextVersion(ctx context.Context, aggType AggregateType, aggID string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byAggKey[aggregateKey{Type: aggType, ID: aggID}]
	return uint32(len(idxs) + 1), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, filter SubscriptionFilter) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	ch := make(chan Event, defaultSubscriberQueueDepth)

	s.mu.Lock()
	s.subs[id] = &memSub{filter: filter, ch: ch}
	s.mu.Unlock()

	go func() {
		<-subCtx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}()

	return &Subscription{id: id, ch: ch, cancel: cancel}, nil
}

func (s *MemoryStore) Query(ctx context.Context, crit QueryCriteria) (QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Event, 0)
	for _, e := range s.events {
		if !queryMatches(e, crit) {
			continue
		}
		matched = append(matched, e)
	}

	if crit.OrderBy == OrderByTimestamp {
		sort.SliceStable(matched, func(i, j int) bool {
			if crit.Descending {
				return matched[i].Timestamp.After(matched[j].Timestamp)
			}
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		})
	} else if crit.Descending {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Sequence > matched[j].Sequence })
	}

	total := len(matched)
	offset := crit.Offset
	if offset > total {
		offset = total
	}
	end := total
	if crit.Limit > 0 && offset+crit.Limit < end {
		end = offset + crit.Limit
	}
	page := matched[offset:end]
	out := make([]Event, len(page))
	for i, e := range page {
		out[i] = e.clone()
	}

	return QueryResult{
		Events:     out,
		Total:      total,
		HasMore:    end < total,
		NextOffset: end,
	}, nil
}

func queryMatches(e Event, crit QueryCriteria) bool {
	if len(crit.EventTypes) > 0 && !containsStr(crit.EventTypes, e.Type) {
		return false
	}
	if len(crit.AggregateTypes) > 0 && !containsAggType(crit.AggregateTypes, e.AggregateType) {
		return false
	}
	if len(crit.AggregateIDs) > 0 && !containsStr(crit.AggregateIDs, e.AggregateID) {
		return false
	}
	if crit.ActorKind != "" && e.Actor.Kind != crit.ActorKind {
		return false
	}
	if crit.ActorEntityID != "" && e.Actor.EntityID != crit.ActorEntityID {
		return false
	}
	if crit.CorrelationID != "" && e.Causation.CorrelationID != crit.CorrelationID {
		return false
	}
	if crit.FromSequence != 0 && e.Sequence < crit.FromSequence {
		return false
	}
	if crit.ToSequence != 0 && e.Sequence > crit.ToSequence {
		return false
	}
	if !crit.FromTimestamp.IsZero() && e.Timestamp.Before(crit.FromTimestamp) {
		return false
	}
	if !crit.ToTimestamp.IsZero() && e.Timestamp.After(crit.ToTimestamp) {
		return false
	}
	return true
}

func (s *MemoryStore) VerifyIntegrity(ctx context.Context, from, to uint64) (ChainVerification, error) {
	if from <= 1 {
		events, err := s.GetBySequence(ctx, from, to)
		if err != nil {
			return ChainVerification{}, err
		}
		return verifyChain(events), nil
	}
	// Seed the chain with the event immediately preceding `from` so the
	// first link in range is checked against its true predecessor rather
	// than assumed to be genesis.
	withSeed, err := s.GetBySequence(ctx, from-1, to)
	if err != nil {
		return ChainVerification{}, err
	}
	return verifyChain(withSeed), nil
}

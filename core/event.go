package core

import (
	"encoding/json"
	"time"
)

// Payload is the marker interface every typed event payload implements: a
// tagged sum over concrete, strongly-typed payload structs instead of an
// untyped bag of fields.
type Payload interface {
	// EventType returns the wire type tag for this payload, e.g.
	// "CreditsMinted".
	EventType() string
}

// UnknownPayload preserves forward compatibility: an event type this binary
// doesn't recognize (e.g. appended by a newer version) decodes into this
// neutral shell instead of failing.
type UnknownPayload struct {
	Type       string          `json:"type"`
	RawPayload json.RawMessage `json:"rawPayload"`
}

func (u UnknownPayload) EventType() string { return u.Type }

// EventInput is what a caller constructs before the store stamps sequence,
// timestamp and hash.
type EventInput struct {
	Type            string
	AggregateType   AggregateType
	AggregateID     string
	AggregateVersion uint32 // set by the store if zero
	Payload         Payload
	Actor           ActorRef
	Causation       Causation
	Timestamp       time.Time // optional; store stamps now() if zero
}

// Event is the immutable atom of the ledger. Once returned from the
// store it must be structurally read-only — callers get a value, never a
// pointer into store-owned memory, and every field
// that could otherwise be mutated in place (payload slices, pointers and
// metadata maps) is
// defensively copied on the way out. See Event.clone.
type Event struct {
	Sequence         uint64
	ID               string
	Timestamp        time.Time
	Type             string
	AggregateType    AggregateType
	AggregateID      string
	AggregateVersion uint32
	Payload          Payload
	Actor            ActorRef
	Causation        Causation
	PreviousHash     Hash
	Hash             Hash
}

// clone returns a deep copy of e so that neither the caller of Append (who
// may retain the input payload) nor a reader holding a returned Event can
// reach the store's internal state. Most payloads are plain value structs
// and copy with the interface value; the shapes that carry a pointer,
// slice, or map are copied field by field here.
func (e Event) clone() Event {
	switch p := e.Payload.(type) {
	case UnknownPayload:
		raw := make(json.RawMessage, len(p.RawPayload))
		copy(raw, p.RawPayload)
		p.RawPayload = raw
		e.Payload = p
	case ContainerItemDepositedPayload:
		p.Item = p.Item.clone()
		e.Payload = p
	case ContainerItemWithdrawnPayload:
		if p.Quantity != nil {
			q := *p.Quantity
			p.Quantity = &q
		}
		e.Payload = p
	case ContainerCreatedPayload:
		if len(p.Physics.AllowedItemTypes) > 0 {
			p.Physics.AllowedItemTypes = append([]string(nil), p.Physics.AllowedItemTypes...)
		}
		e.Payload = p
	case GuaranteeFundDistributionPayload:
		if len(p.Claims) > 0 {
			p.Claims = append([]GuaranteeFundClaim(nil), p.Claims...)
		}
		e.Payload = p
	case AgreementProposedPayload:
		if len(p.Parties) > 0 {
			p.Parties = append([]string(nil), p.Parties...)
		}
		e.Payload = p
	}
	return e
}

// wireEvent is the canonical, hash-stable JSON projection of an event. Field
// order is fixed by struct field order (encoding/json preserves it), which
// is what makes computeHash deterministic across replays.
type wireEvent struct {
	Sequence         uint64          `json:"sequence"`
	ID               string          `json:"id"`
	Timestamp        int64           `json:"timestamp"` // unix millis
	Type             string          `json:"type"`
	AggregateType    AggregateType   `json:"aggregateType"`
	AggregateID      string          `json:"aggregateId"`
	AggregateVersion uint32          `json:"aggregateVersion"`
	Payload          json.RawMessage `json:"payload"`
	Actor            ActorRef        `json:"actor"`
	Causation        Causation       `json:"causation"`
	PreviousHash     Hash            `json:"previousHash"`
}

func (e Event) toWire() (wireEvent, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return wireEvent{}, err
	}
	return wireEvent{
		Sequence:         e.Sequence,
		ID:               e.ID,
		Timestamp:        e.Timestamp.UnixMilli(),
		Type:             e.Type,
		AggregateType:    e.AggregateType,
		AggregateID:      e.AggregateID,
		AggregateVersion: e.AggregateVersion,
		Payload:          payloadJSON,
		Actor:            e.Actor,
		Causation:        e.Causation,
		PreviousHash:     e.PreviousHash,
	}, nil
}

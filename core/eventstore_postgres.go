package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// PostgresStore is the durable EventStore backend: a single append-only
// table with a column per event field and the payload stored as JSONB,
// indexed on (aggregate_type, aggregate_id, aggregate_version) and on
// sequence. A *sql.DB handed in by the caller, $N placeholders, JSON columns
// marshaled with encoding/json.
//
// PostgresStore does not itself run migrations; PostgresSchema below is the
// DDL an operator applies (e.g. via golang-migrate) before first use.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// PostgresSchema is the reference DDL for the events table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS ubl_events (
	sequence          BIGINT PRIMARY KEY,
	id                TEXT NOT NULL UNIQUE,
	ts                TIMESTAMPTZ NOT NULL,
	type              TEXT NOT NULL,
	aggregate_type    TEXT NOT NULL,
	aggregate_id      TEXT NOT NULL,
	aggregate_version INT NOT NULL,
	payload           JSONB NOT NULL,
	actor             JSONB NOT NULL,
	causation         JSONB NOT NULL,
	previous_hash     TEXT NOT NULL,
	hash              TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ubl_events_aggregate_idx
	ON ubl_events (aggregate_type, aggregate_id, aggregate_version);
CREATE INDEX IF NOT EXISTS ubl_events_sequence_idx ON ubl_events (sequence);
CREATE INDEX IF NOT EXISTS ubl_events_correlation_idx
	ON ubl_events (((causation->>'correlationId')));
`

// NewPostgresStore wraps an already-open *sql.DB. The caller owns the
// connection's lifecycle: it is closed by the process that opened it, not
// by PostgresStore itself.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, logger: log.StandardLogger()}
}

func (s *PostgresStore) SetLogger(l *log.Logger) { s.logger = l }

func (s *PostgresStore) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// payloadRow is the persisted shape of a payload: its wire type tag plus the
// raw JSON, so a row can be decoded back into the right concrete Payload
// (or UnknownPayload) via the same registry the memory store's callers use.
type payloadRow struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *PostgresStore) Append(ctx context.Context, in EventInput) (Event, error) {
	if err := in.Actor.Validate(); err != nil {
		return Event{}, err
	}
	if in.Payload == nil {
		return Event{}, fmt.Errorf("%w: event payload is required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var curSeq uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM ubl_events`).Scan(&curSeq); err != nil {
		return Event{}, fmt.Errorf("read current sequence: %w", err)
	}
	seq := curSeq + 1

	var nextVersion uint32
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) + 1 FROM ubl_events WHERE aggregate_type=$1 AND aggregate_id=$2`,
		string(in.AggregateType), in.AggregateID,
	).Scan(&nextVersion); err != nil {
		return Event{}, fmt.Errorf("read next version: %w", err)
	}
	version := in.AggregateVersion
	if version == 0 {
		version = nextVersion
	} else if version != nextVersion {
		return Event{}, fmt.Errorf("%w: aggregate %s/%s expected version %d, got %d",
			ErrVersionConflict, in.AggregateType, in.AggregateID, nextVersion, version)
	}

	var prevHash Hash = GenesisHash
	var prevTS time.Time
	havePrev := false
	if curSeq > 0 {
		var h string
		var ts time.Time
		if err := tx.QueryRowContext(ctx, `SELECT hash, ts FROM ubl_events WHERE sequence=$1`, curSeq).Scan(&h, &ts); err != nil {
			return Event{}, fmt.Errorf("read previous event: %w", err)
		}
		prevHash = Hash(h)
		prevTS = ts
		havePrev = true
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = now()
	}
	if havePrev && ts.Before(prevTS) {
		return Event{}, fmt.Errorf("%w: timestamp %s precedes previous event's %s", ErrTemporalViolation, ts, prevTS)
	}

	id := newEventID()
	e := Event{
		Sequence:         seq,
		ID:               id,
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
	hash, err := computeHash(e)
	if err != nil {
		return Event{}, err
	}
	e.Hash = hash

	payloadJSON, err := json.Marshal(payloadRow{Type: in.Payload.EventType(), Data: mustMarshal(in.Payload)})
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload: %w", err)
	}
	actorJSON, err := json.Marshal(e.Actor)
	if err != nil {
		return Event{}, err
	}
	causationJSON, err := json.Marshal(e.Causation)
	if err != nil {
		return Event{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ubl_events
			(sequence, id, ts, type, aggregate_type, aggregate_id, aggregate_version,
			 payload, actor, causation, previous_hash, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, e.Sequence, e.ID, e.Timestamp, e.Type, string(e.AggregateType), e.AggregateID, e.AggregateVersion,
		payloadJSON, actorJSON, causationJSON, string(e.PreviousHash), string(e.Hash)); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit: %w", err)
	}

	s.logger.WithFields(log.Fields{"sequence": e.Sequence, "aggregateId": e.AggregateID, "eventType": e.Type}).
		Debug("event appended (postgres)")

	return e, nil
}

func mustMarshal(p Payload) json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

func newEventID() string {
	// Reuse the same id shape as the memory store so callers never observe
	// a backend-dependent id format.
	return uuid.NewString()
}

const eventSelectColumns = `sequence, id, ts, type, aggregate_type, aggregate_id, aggregate_version, payload, actor, causation, previous_hash, hash`

func (s *PostgresStore) scanRow(row rowScanner) (Event, error) {
	var (
		e                                Event
		aggType, payloadJSON, actorJSON  string
		causationJSON, prevHash, hashStr string
	)
	var ts time.Time
	if err := row.Scan(&e.Sequence, &e.ID, &ts, &e.Type, &aggType, &e.AggregateID, &e.AggregateVersion,
		&payloadJSON, &actorJSON, &causationJSON, &prevHash, &hashStr); err != nil {
		return Event{}, err
	}
	e.Timestamp = ts
	e.AggregateType = AggregateType(aggType)
	e.PreviousHash = Hash(prevHash)
	e.Hash = Hash(hashStr)

	var pr payloadRow
	if err := json.Unmarshal([]byte(payloadJSON), &pr); err != nil {
		return Event{}, fmt.Errorf("decode payload row: %w", err)
	}
	e.Payload = decodeStoredPayload(pr.Type, pr.Data)

	if err := json.Unmarshal([]byte(actorJSON), &e.Actor); err != nil {
		return Event{}, fmt.Errorf("decode actor: %w", err)
	}
	if err := json.Unmarshal([]byte(causationJSON), &e.Causation); err != nil {
		return Event{}, fmt.Errorf("decode causation: %w", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) GetByAggregate(ctx context.Context, aggType AggregateType, aggID string, opts GetByAggregateOptions) ([]Event, error) {
	q := `SELECT ` + eventSelectColumns + ` FROM ubl_events WHERE aggregate_type=$1 AND aggregate_id=$2`
	args := []any{string(aggType), aggID}
	if opts.FromVersion != 0 {
		args = append(args, opts.FromVersion)
		q += fmt.Sprintf(" AND aggregate_version >= $%d", len(args))
	}
	if opts.ToVersion != 0 {
		args = append(args, opts.ToVersion)
		q += fmt.Sprintf(" AND aggregate_version <= $%d", len(args))
	}
	if !opts.FromTimestamp.IsZero() {
		args = append(args, opts.FromTimestamp)
		q += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !opts.ToTimestamp.IsZero() {
		args = append(args, opts.ToTimestamp)
		q += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	q += " ORDER BY aggregate_version ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryEvents(ctx, q, args...)
}

func (s *PostgresStore) queryEvents(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBySequence(ctx context.Context, from, to uint64) ([]Event, error) {
	q := `SELECT ` + eventSelectColumns + ` FROM ubl_events WHERE sequence >= $1`
	args := []any{from}
	if to > 0 {
		args = append(args, to)
		q += " AND sequence <= $2"
	}
	q += " ORDER BY sequence ASC"
	return s.queryEvents(ctx, q, args...)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventSelectColumns+` FROM ubl_events WHERE id=$1`, id)
	e, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, aggType AggregateType, aggID string) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventSelectColumns+` FROM ubl_events WHERE aggregate_type=$1 AND aggregate_id=$2 ORDER BY aggregate_version DESC LIMIT 1`,
		string(aggType), aggID)
	e, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) GetCurrentSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM ubl_events`).Scan(&seq)
	return seq, err
}

func (s *PostgresStore) GetNextVersion(ctx context.Context, aggType AggregateType, aggID string) (uint32, error) {
	var v uint32
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) + 1 FROM ubl_events WHERE aggregate_type=$1 AND aggregate_id=$2`,
		string(aggType), aggID).Scan(&v)
	return v, err
}

// Subscribe on the Postgres backend is out of scope for this reference
// implementation: subscriber fan-out belongs to a notification channel
// (e.g. LISTEN/NOTIFY) owned by the boundary process, not the event store
// itself. Callers needing in-process subscription should layer MemoryStore
// or poll Query with an increasing FromSequence.
func (s *PostgresStore) Subscribe(ctx context.Context, filter SubscriptionFilter) (*Subscription, error) {
	return nil, fmt.Errorf("%w: Subscribe is not supported on PostgresStore; poll Query instead", ErrInvalidInput)
}

func (s *PostgresStore) Query(ctx context.Context, crit QueryCriteria) (QueryResult, error) {
	where, args := buildQueryWhere(crit)
	countQ := `SELECT COUNT(*) FROM ubl_events` + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return QueryResult{}, err
	}

	order := "sequence"
	if crit.OrderBy == OrderByTimestamp {
		order = "ts"
	}
	dir := "ASC"
	if crit.Descending {
		dir = "DESC"
	}
	q := `SELECT ` + eventSelectColumns + ` FROM ubl_events` + where + fmt.Sprintf(" ORDER BY %s %s", order, dir)
	if crit.Limit > 0 {
		args = append(args, crit.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if crit.Offset > 0 {
		args = append(args, crit.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	events, err := s.queryEvents(ctx, q, args...)
	if err != nil {
		return QueryResult{}, err
	}
	nextOffset := crit.Offset + len(events)
	return QueryResult{Events: events, Total: total, HasMore: nextOffset < total, NextOffset: nextOffset}, nil
}

func buildQueryWhere(crit QueryCriteria) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if len(crit.EventTypes) > 0 {
		add("type = ANY($%d)", pq.Array(crit.EventTypes))
	}
	if len(crit.AggregateTypes) > 0 {
		types := make([]string, len(crit.AggregateTypes))
		for i, t := range crit.AggregateTypes {
			types[i] = string(t)
		}
		add("aggregate_type = ANY($%d)", pq.Array(types))
	}
	if len(crit.AggregateIDs) > 0 {
		add("aggregate_id = ANY($%d)", pq.Array(crit.AggregateIDs))
	}
	if crit.ActorKind != "" {
		add("actor->>'kind' = $%d", string(crit.ActorKind))
	}
	if crit.ActorEntityID != "" {
		add("actor->>'entityId' = $%d", string(crit.ActorEntityID))
	}
	if crit.CorrelationID != "" {
		add("causation->>'correlationId' = $%d", crit.CorrelationID)
	}
	if crit.FromSequence != 0 {
		add("sequence >= $%d", crit.FromSequence)
	}
	if crit.ToSequence != 0 {
		add("sequence <= $%d", crit.ToSequence)
	}
	if !crit.FromTimestamp.IsZero() {
		add("ts >= $%d", crit.FromTimestamp)
	}
	if !crit.ToTimestamp.IsZero() {
		add("ts <= $%d", crit.ToTimestamp)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

func (s *PostgresStore) VerifyIntegrity(ctx context.Context, from, to uint64) (ChainVerification, error) {
	var events []Event
	var err error
	if from <= 1 {
		events, err = s.GetBySequence(ctx, from, to)
	} else {
		events, err = s.GetBySequence(ctx, from-1, to)
	}
	if err != nil {
		return ChainVerification{}, err
	}
	return verifyChain(events), nil
}

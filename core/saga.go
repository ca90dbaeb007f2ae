package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// SagaStatus is the intent transaction's lifecycle state. Terminal statuses
// are final; a saga instance is never re-executed.
type SagaStatus string

const (
	SagaPending     SagaStatus = "pending"
	SagaExecuting   SagaStatus = "executing"
	SagaCommitted   SagaStatus = "committed"
	SagaCompensating SagaStatus = "compensating"
	SagaRolledBack  SagaStatus = "rolled_back"
	SagaFailed      SagaStatus = "failed"
)

// SagaContext is threaded through every step and compensation of one saga
// run. Every event a step appends must carry CorrelationID in its Causation
// so the whole operation can be reconstructed later via a correlationId
// query.
type SagaContext struct {
	TransactionID string
	CorrelationID string
	StartedAt     time.Time
	Actor         ActorRef
	Metadata      map[string]any
	Results       map[string]any
}

// Causation returns the Causation value steps should stamp on every event
// they append.
func (c *SagaContext) Causation() Causation {
	return Causation{CommandID: c.TransactionID, CorrelationID: c.CorrelationID}
}

// Step is one unit of a saga. Execute may append events and return a value
// recorded in SagaContext.Results under Name. Compensate is optional: a step
// that only appends events (audit-only, nothing to logically reverse) may
// omit it — the trail stays honest even for a rolled-back saga since events
// are never deleted.
type Step struct {
	Name       string
	Execute    func(ctx context.Context, sc *SagaContext) (any, error)
	Compensate func(ctx context.Context, sc *SagaContext, result any) error
}

// CompensationFailure records a compensation that itself errored; rollback
// continues regardless, so the saga can report every failure it observed.
type CompensationFailure struct {
	StepName string
	Err      error
}

// Saga runs an ordered sequence of steps as one correlated, atomic-by-compensation
// operation, generalized from a single-purpose escrow create/release/cancel
// flow into an arbitrary ordered step list.
type Saga struct {
	ID            string
	CorrelationID string
	Name          string
	Status        SagaStatus
	Steps         []Step

	CompensationFailures []CompensationFailure
	FailedStep            string
	FailureErr             error

	logger *log.Logger
}

// NewSaga constructs a pending saga with a fresh transaction/correlation id.
func NewSaga(name string, steps []Step) *Saga {
	return &Saga{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Name:          name,
		Status:        SagaPending,
		Steps:         steps,
		logger:        log.StandardLogger(),
	}
}

func (s *Saga) SetLogger(l *log.Logger) { s.logger = l }

// Execute runs every step sequentially. On the first failing step, all
// previously completed steps are compensated in reverse order; compensation
// failures are recorded but never abort compensating the remaining steps.
func (s *Saga) Execute(ctx context.Context, actor ActorRef, metadata map[string]any) error {
	if s.Status != SagaPending {
		return fmt.Errorf("%w: saga %s already %s, cannot re-execute", ErrInvalidInput, s.ID, s.Status)
	}
	s.Status = SagaExecuting
	sc := &SagaContext{
		TransactionID: s.ID,
		CorrelationID: s.CorrelationID,
		StartedAt:     now(),
		Actor:         actor,
		Metadata:      metadata,
		Results:       map[string]any{},
	}

	completed := 0
	for i, step := range s.Steps {
		result, err := step.Execute(ctx, sc)
		if err != nil {
			s.FailedStep = step.Name
			s.FailureErr = err
			s.logger.WithFields(log.Fields{"saga": s.Name, "step": step.Name, "error": err}).Warn("saga step failed, compensating")
			completed = i
			s.compensate(ctx, sc, completed)
			return fmt.Errorf("%w: step %q: %v", ErrTransactionRolledBack, step.Name, err)
		}
		sc.Results[step.Name] = result
		completed = i + 1
	}
	s.Status = SagaCommitted
	return nil
}

// compensate walks steps [0, completed) in reverse, invoking each one's
// Compensate if present.
func (s *Saga) compensate(ctx context.Context, sc *SagaContext, completed int) {
	s.Status = SagaCompensating
	for i := completed - 1; i >= 0; i-- {
		step := s.Steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, sc, sc.Results[step.Name]); err != nil {
			s.CompensationFailures = append(s.CompensationFailures, CompensationFailure{StepName: step.Name, Err: err})
			s.logger.WithFields(log.Fields{"saga": s.Name, "step": step.Name, "error": err}).Error("compensation failed")
		}
	}
	s.Status = SagaRolledBack
}

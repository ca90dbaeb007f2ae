package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Intent is the single universal operation request: a caller-supplied,
// schema-validated command translated into events.
type Intent struct {
	Intent    string         `json:"intent"`
	Realm     string         `json:"realm,omitempty"`
	Actor     *ActorRef      `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Outcome names what actually happened so a caller that only cares about
// shape (not intent-specific fields) can still branch sensibly.
type Outcome struct {
	Type    string         `json:"type"` // "Created" | "Transferred" | "Transitioned" | "Nothing"
	Details map[string]any `json:"details,omitempty"`
}

// Affordance advertises a follow-up intent the caller could issue next
// (e.g. after creating a loan, "loan.repay" becomes available).
type Affordance struct {
	Intent      string   `json:"intent"`
	Description string   `json:"description"`
	Required    []string `json:"required"`
}

// IntentErr is the wire shape of one error in IntentResult.errors.
type IntentErr struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// IntentMeta carries processing bookkeeping.
type IntentMeta struct {
	ProcessedAt    time.Time     `json:"processedAt"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// IntentResult is returned for every intent, success or failure, so callers
// never need a different shape to check for an error.
type IntentResult struct {
	Success     bool         `json:"success"`
	Outcome     Outcome      `json:"outcome"`
	Events      []Event      `json:"events"`
	Affordances []Affordance `json:"affordances,omitempty"`
	Errors      []IntentErr  `json:"errors,omitempty"`
	Meta        IntentMeta   `json:"meta"`
}

func failResult(err error, started time.Time) IntentResult {
	var e *Error
	code := codeForErr(err)
	msg := err.Error()
	var details map[string]any
	if asErr, ok := err.(*Error); ok {
		e = asErr
		if e.ErrCode != "" {
			code = e.ErrCode
		}
		if e.Message != "" {
			msg = e.Message
		}
		details = e.Details
	}
	return IntentResult{
		Success: false,
		Outcome: Outcome{Type: "Nothing"},
		Errors:  []IntentErr{{Code: code, Message: msg, Details: details}},
		Meta:    IntentMeta{ProcessedAt: now(), ProcessingTime: now().Sub(started)},
	}
}

// Dispatcher routes Intent documents to the container manager, monetary
// engine, and loan service, and wraps every outcome (success or failure) in
// an IntentResult — the one endpoint external callers (the HTTP/WebSocket
// router, out of scope here) are built against.
type Dispatcher struct {
	store      EventStore
	containers *ContainerManager
	monetary   *MonetaryEngine
	loans      *LoanService
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewDispatcher wires a dispatcher against its three collaborators. Intents
// are admitted through a token bucket (50/s sustained, bursts of 100); a
// caller that outruns it gets RATE_LIMITED with a Retry-After hint rather
// than backpressure into the append path.
func NewDispatcher(store EventStore, containers *ContainerManager, monetary *MonetaryEngine, loans *LoanService) *Dispatcher {
	return &Dispatcher{
		store: store, containers: containers, monetary: monetary, loans: loans,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
		logger:  log.StandardLogger(),
	}
}

// SetRateLimit overrides the default intent admission rate.
func (d *Dispatcher) SetRateLimit(perSecond float64, burst int) {
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (d *Dispatcher) SetLogger(l *log.Logger) { d.logger = l }

func (d *Dispatcher) resolveActor(in Intent) ActorRef {
	if in.Actor != nil {
		return *in.Actor
	}
	return AnonymousActor()
}

// Handle decodes, routes, and executes one intent, always returning an
// IntentResult rather than an error — callers branch on Success.
func (d *Dispatcher) Handle(ctx context.Context, in Intent) IntentResult {
	started := now()
	if in.Intent == "" {
		return failResult(NewError(CodeMissingIntent, "intent field is required"), started)
	}

	if res := d.limiter.Reserve(); !res.OK() || res.Delay() > 0 {
		retryAfter := 1
		if res.OK() {
			retryAfter = int(math.Ceil(res.Delay().Seconds()))
			res.Cancel()
		}
		return failResult(NewError(CodeRateLimited, "intent rate limit exceeded").
			WithDetails(map[string]any{"retryAfterSeconds": retryAfter}), started)
	}

	actor := d.resolveActor(in)
	if err := actor.Validate(); err != nil {
		return failResult(err, started)
	}

	seqBefore, err := d.store.GetCurrentSequence(ctx)
	if err != nil {
		return failResult(err, started)
	}

	outcome, handlerErr := d.route(ctx, in, actor)
	if handlerErr != nil {
		return failResult(handlerErr, started)
	}

	seqAfter, err := d.store.GetCurrentSequence(ctx)
	if err != nil {
		return failResult(err, started)
	}
	var events []Event
	if seqAfter > seqBefore {
		events, err = d.store.GetBySequence(ctx, seqBefore+1, seqAfter)
		if err != nil {
			return failResult(err, started)
		}
	}

	return IntentResult{
		Success:     true,
		Outcome:     outcome,
		Events:      events,
		Affordances: affordancesFor(in.Intent),
		Meta:        IntentMeta{ProcessedAt: now(), ProcessingTime: now().Sub(started)},
	}
}

func decodePayload(payload map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: target, TagName: "json"})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (d *Dispatcher) route(ctx context.Context, in Intent, actor ActorRef) (Outcome, error) {
	switch in.Intent {
	case "container.create":
		var p struct {
			Name              string `json:"name"`
			ContainerType     string `json:"containerType"`
			OwnerID           string `json:"ownerId"`
			RealmID           string `json:"realmId"`
			ParentContainerID string `json:"parentContainerId"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		physics := PhysicsFor(ContainerType(p.ContainerType), "")
		id, err := d.containers.Create(ctx, p.Name, ContainerType(p.ContainerType), physics, EntityID(p.OwnerID), p.RealmID, p.ParentContainerID, actor)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Created", Details: map[string]any{"containerId": id}}, nil

	case "container.deposit":
		var p struct {
			ContainerID string        `json:"containerId"`
			Item        ContainerItem `json:"item"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.containers.Deposit(ctx, p.ContainerID, p.Item, actor, SourceInfo{}); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transitioned"}, nil

	case "container.withdraw":
		var p struct {
			ContainerID string `json:"containerId"`
			ItemID      string `json:"itemId"`
			Quantity    *int64 `json:"quantity"`
			Reason      string `json:"reason"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.containers.Withdraw(ctx, p.ContainerID, p.ItemID, p.Quantity, actor, SourceInfo{}, p.Reason); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transitioned"}, nil

	case "container.transfer":
		var p struct {
			FromContainerID string `json:"fromContainerId"`
			ToContainerID   string `json:"toContainerId"`
			ItemID          string `json:"itemId"`
			Quantity        *int64 `json:"quantity"`
			AgreementID     string `json:"agreementId"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.containers.Transfer(ctx, p.FromContainerID, p.ToContainerID, p.ItemID, p.Quantity, actor, p.AgreementID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transferred"}, nil

	case "wallet.mint":
		var p struct {
			WalletID     string  `json:"walletId"`
			Amount       Credits `json:"amount"`
			AgreementID  string  `json:"agreementId"`
			AuthorizedBy string  `json:"authorizedBy"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.monetary.Mint(ctx, p.WalletID, p.Amount, p.AgreementID, p.AuthorizedBy); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transitioned"}, nil

	case "wallet.burn":
		var p struct {
			WalletID     string  `json:"walletId"`
			Amount       Credits `json:"amount"`
			AgreementID  string  `json:"agreementId"`
			AuthorizedBy string  `json:"authorizedBy"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.monetary.Burn(ctx, p.WalletID, p.Amount, p.AgreementID, p.AuthorizedBy); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transitioned"}, nil

	case "wallet.transfer":
		var p struct {
			FromWalletID string  `json:"fromWalletId"`
			ToWalletID   string  `json:"toWalletId"`
			Amount       Credits `json:"amount"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.monetary.Transfer(ctx, p.FromWalletID, p.ToWalletID, p.Amount, actor); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transferred"}, nil

	case "loan.disburse":
		var p struct {
			LoanID         string  `json:"loanId"`
			BorrowerID     string  `json:"borrowerId"`
			GuarantorID    string  `json:"guarantorId"`
			Principal      Credits `json:"principal"`
			InterestRate   float64 `json:"interestRate"`
			RepaymentRate  float64 `json:"repaymentRate"`
			GracePeriodEnd int64   `json:"gracePeriodEndUnix"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.loans.Disburse(ctx, p.LoanID, EntityID(p.BorrowerID), EntityID(p.GuarantorID), p.Principal, p.InterestRate, p.RepaymentRate, p.GracePeriodEnd, actor); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Created", Details: map[string]any{"loanId": p.LoanID}}, nil

	case "loan.repay":
		var p struct {
			LoanID string          `json:"loanId"`
			Amount Credits         `json:"amount"`
			Source RepaymentSource `json:"source"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.loans.Repay(ctx, p.LoanID, p.Amount, p.Source, actor); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transitioned"}, nil

	case "loan.forgive":
		var p struct {
			LoanID string  `json:"loanId"`
			Amount Credits `json:"amount"`
			Reason string  `json:"reason"`
		}
		if err := decodePayload(in.Payload, &p); err != nil {
			return Outcome{}, err
		}
		if err := d.loans.Forgive(ctx, p.LoanID, p.Amount, p.Reason); err != nil {
			return Outcome{}, err
		}
		return Outcome{Type: "Transitioned"}, nil

	default:
		return Outcome{}, NewError(CodeIntentError, fmt.Sprintf("unrecognized intent %q", in.Intent))
	}
}

// affordancesFor advertises natural follow-up intents. Kept intentionally
// small: it documents the common next step, not every legal one.
func affordancesFor(intent string) []Affordance {
	switch intent {
	case "container.create":
		return []Affordance{{Intent: "container.deposit", Description: "deposit an item into the new container", Required: []string{"containerId", "item"}}}
	case "wallet.mint":
		return []Affordance{{Intent: "wallet.transfer", Description: "transfer the newly minted balance", Required: []string{"fromWalletId", "toWalletId", "amount"}}}
	case "loan.disburse":
		return []Affordance{{Intent: "loan.repay", Description: "record a repayment against this loan", Required: []string{"loanId", "amount", "source"}}}
	default:
		return nil
	}
}

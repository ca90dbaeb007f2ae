package core

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// DefaultFeeRateBps is the default transaction fee rate in basis points
// (0.001 = 10 bps... expressed here as rate*10000 = 10).
const DefaultFeeRateBps = 10

// mintBurnAuthorizers is the documented whitelist of system actors allowed
// to mint or burn credits. Identity verification itself is a boundary
// concern; this engine only checks the claimed actor's system id against
// the whitelist before it will emit a mint/burn event.
var mintBurnAuthorizers = map[string]bool{
	"treasury":       true,
	"loan-service":   true,
	"reward-service": true,
	"fee-router":     true,
}

// MonetaryEngine performs mint/burn/fee-routed transfer against wallet
// aggregates, grounded on the fee-collection-then-distribution shape of a
// transaction fee manager generalized from a single pooled account to the
// guarantee fund wallet.
type MonetaryEngine struct {
	store      EventStore
	breaker    *CircuitBreaker
	fund       *GuaranteeFund
	fundWallet string // the guarantee fund's own container/wallet id
	feeRateBps int64
	logger     *log.Logger
}

// NewMonetaryEngine wires an engine against store, an optional breaker, the
// guarantee fund's receiving wallet id, and a fee rate in basis points
// (rate*10000; 10 == 0.001).
func NewMonetaryEngine(store EventStore, breaker *CircuitBreaker, fundWalletID string, feeRateBps int64) *MonetaryEngine {
	if feeRateBps == 0 {
		feeRateBps = DefaultFeeRateBps
	}
	return &MonetaryEngine{store: store, breaker: breaker, fundWallet: fundWalletID, feeRateBps: feeRateBps, logger: log.StandardLogger()}
}

func (m *MonetaryEngine) SetLogger(l *log.Logger) { m.logger = l }

// AttachFund connects the guarantee fund so routed fees also land in its
// cached balance without a replay. Optional: engines without a fund attached
// still append the accrual events the fund's state can be derived from.
func (m *MonetaryEngine) AttachFund(f *GuaranteeFund) { m.fund = f }

func (m *MonetaryEngine) guard(class OpClass) error {
	if m.breaker == nil {
		return nil
	}
	return m.breaker.Guard(class)
}

// Mint credits amount to walletID, recording agreementID for audit.
func (m *MonetaryEngine) Mint(ctx context.Context, walletID string, amount Credits, agreementID string, authorizedBy string) error {
	if err := m.guard(OpClassMinting); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: mint amount must be positive", ErrInvalidInput)
	}
	if !mintBurnAuthorizers[authorizedBy] {
		return fmt.Errorf("%w: %q is not a whitelisted mint authorizer", ErrInvalidInput, authorizedBy)
	}
	_, err := m.store.Append(ctx, EventInput{
		Type:          "CreditsMinted",
		AggregateType: WalletAggregateType,
		AggregateID:   walletID,
		Payload:       CreditsMintedPayload{WalletID: walletID, Amount: amount, AgreementID: agreementID, AuthorizedBy: authorizedBy},
		Actor:         SystemActor(authorizedBy),
	})
	if err == nil {
		m.logger.WithFields(log.Fields{"walletId": walletID, "amount": amount.String()}).Info("credits minted")
	}
	return err
}

// Burn debits amount from walletID.
func (m *MonetaryEngine) Burn(ctx context.Context, walletID string, amount Credits, agreementID string, authorizedBy string) error {
	if err := m.guard(OpClassBurning); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: burn amount must be positive", ErrInvalidInput)
	}
	if !mintBurnAuthorizers[authorizedBy] {
		return fmt.Errorf("%w: %q is not a whitelisted burn authorizer", ErrInvalidInput, authorizedBy)
	}
	w, err := LoadWallet(ctx, m.store, walletID)
	if err != nil {
		return err
	}
	if !w.Rules.AllowNegative && w.Balance-amount < w.Rules.FloorBalance {
		return fmt.Errorf("%w: wallet %s balance %s insufficient to burn %s", ErrInsufficientBalance, walletID, w.Balance, amount)
	}
	_, err = m.store.Append(ctx, EventInput{
		Type:          "CreditsBurned",
		AggregateType: WalletAggregateType,
		AggregateID:   walletID,
		Payload:       CreditsBurnedPayload{WalletID: walletID, Amount: amount, AgreementID: agreementID, AuthorizedBy: authorizedBy},
		Actor:         SystemActor(authorizedBy),
	})
	if err == nil {
		m.logger.WithFields(log.Fields{"walletId": walletID, "amount": amount.String()}).Info("credits burned")
	}
	return err
}

// ComputeFee applies rateBps (rate*10000) to gross using integer division,
// matching the fixed-denominator scheme that avoids floating-point drift
// across replays.
func ComputeFee(gross Credits, rateBps int64) (fee, net Credits) {
	fee = Credits(int64(gross) * rateBps / 10000)
	net = gross - fee
	return fee, net
}

// Transfer moves gross credits from fromWalletID to toWalletID, routing the
// fee to the guarantee fund's wallet. Conservation: Δsender + Δrecipient +
// Δfund == 0 by construction, since net+fee == gross.
//
// The transfer is recorded as a single CreditsTransferred event appended
// once; WalletRehydrator applies the debit/credit side depending on which
// wallet is replaying (see wallet_aggregate.go).
func (m *MonetaryEngine) Transfer(ctx context.Context, fromWalletID, toWalletID string, gross Credits, actor ActorRef) error {
	if err := m.guard(OpClassTransfers); err != nil {
		return err
	}
	if gross <= 0 {
		return fmt.Errorf("%w: transfer amount must be positive", ErrInvalidInput)
	}
	if fromWalletID == toWalletID {
		return fmt.Errorf("%w: cannot transfer to the same wallet", ErrInvalidInput)
	}
	from, err := LoadWallet(ctx, m.store, fromWalletID)
	if err != nil {
		return err
	}
	if !from.Rules.AllowNegative && from.Balance-gross < from.Rules.FloorBalance {
		return fmt.Errorf("%w: wallet %s balance %s insufficient to send %s", ErrInsufficientBalance, fromWalletID, from.Balance, gross)
	}
	fee, net := ComputeFee(gross, m.feeRateBps)

	ev, err := m.store.Append(ctx, EventInput{
		Type:          "CreditsTransferred",
		AggregateType: WalletAggregateType,
		AggregateID:   fromWalletID,
		Payload: CreditsTransferredPayload{
			FromWalletID: fromWalletID,
			ToWalletID:   toWalletID,
			Gross:        gross,
			Fee:          fee,
			Net:          net,
			FeeRateBps:   m.feeRateBps,
		},
		Actor: actor,
	})
	if err != nil {
		return err
	}

	// Mirror the same payload onto the recipient's own aggregate stream so
	// getByAggregate(recipient) can fold it without a cross-stream join —
	// each side "owns" its own leg (see wallet_aggregate.go).
	if _, err := m.store.Append(ctx, EventInput{
		Type:             "CreditsTransferred",
		AggregateType:    WalletAggregateType,
		AggregateID:      toWalletID,
		Payload:          ev.Payload,
		Actor:            actor,
		Causation:        ev.Causation,
	}); err != nil {
		return err
	}

	if fee > 0 && m.fundWallet != "" {
		// The fee leg is appended to the fund wallet's own aggregate stream
		// so rehydrating that wallet accounts for every routed fee, keeping
		// Δsender + Δrecipient + Δfund == 0 across all three folds.
		if _, err := m.store.Append(ctx, EventInput{
			Type:          "GuaranteeFundAccrued",
			AggregateType: WalletAggregateType,
			AggregateID:   m.fundWallet,
			Payload:       GuaranteeFundAccruedPayload{Amount: fee, Source: "transfer-fee"},
			Actor:         SystemActor("fee-router"),
			Causation:     ev.Causation,
		}); err != nil {
			return err
		}
		if m.fund != nil {
			m.fund.Accrue(fee)
		}
	}

	m.logger.WithFields(log.Fields{"from": fromWalletID, "to": toWalletID, "gross": gross.String(), "fee": fee.String()}).Info("credits transferred")
	return nil
}

//---------------------------------------------------------------------
// Loan lifecycle
//---------------------------------------------------------------------

// LoanService manages the loan aggregate's event-producing operations. It
// does not itself move wallet balances — disbursement and repayment wallet
// movement is the caller's responsibility via MonetaryEngine/saga steps, so
// that the loan's own event subsequence stays the single source of truth for
// its lifecycle while wallet movement stays auditable through Transfer.
type LoanService struct {
	store  EventStore
	breaker *CircuitBreaker
	logger *log.Logger
}

func NewLoanService(store EventStore, breaker *CircuitBreaker) *LoanService {
	return &LoanService{store: store, breaker: breaker, logger: log.StandardLogger()}
}

func (l *LoanService) SetLogger(lg *log.Logger) { l.logger = lg }

func (l *LoanService) guard() error {
	if l.breaker == nil {
		return nil
	}
	return l.breaker.Guard(OpClassLoans)
}

// Disburse emits LoanDisbursed, putting the loan into GracePeriod.
func (l *LoanService) Disburse(ctx context.Context, loanID string, borrower, guarantor EntityID, principal Credits, interestRate, repaymentRate float64, gracePeriodEnd int64, actor ActorRef) error {
	if err := l.guard(); err != nil {
		return err
	}
	if principal <= 0 {
		return fmt.Errorf("%w: principal must be positive", ErrInvalidInput)
	}
	_, err := l.store.Append(ctx, EventInput{
		Type:          "LoanDisbursed",
		AggregateType: LoanAggregateType,
		AggregateID:   loanID,
		Payload: LoanDisbursedPayload{
			LoanID: loanID, BorrowerID: borrower, GuarantorID: guarantor,
			Principal: principal, InterestRate: interestRate, RepaymentRate: repaymentRate,
			GracePeriodEnd: gracePeriodEnd,
		},
		Actor: actor,
	})
	return err
}

// AccrueInterest emits InterestAccrued unless the loan is already terminal.
func (l *LoanService) AccrueInterest(ctx context.Context, loanID string, amount Credits) error {
	state, err := LoadLoan(ctx, l.store, loanID)
	if err != nil {
		return err
	}
	if !state.Exists {
		return fmt.Errorf("%w: loan %s", ErrNotFound, loanID)
	}
	if state.Status.terminal() {
		return fmt.Errorf("%w: loan %s is in terminal status %s", ErrInvalidInput, loanID, state.Status)
	}
	_, err = l.store.Append(ctx, EventInput{
		Type:          "InterestAccrued",
		AggregateType: LoanAggregateType,
		AggregateID:   loanID,
		Payload:       InterestAccruedPayload{LoanID: loanID, Amount: amount},
		Actor:         SystemActor("loan-service"),
	})
	return err
}

// RequiredPayment returns floor(earnings * repaymentRate), the per-period
// payment obligation the original computes off an entity's tracked earnings.
func RequiredPayment(earnings Credits, repaymentRate float64) Credits {
	return Credits(float64(earnings) * repaymentRate)
}

// Repay emits LoanRepayment. Status transitions to PaidOff or Active are
// derived by LoanRehydrator on replay, not decided here.
func (l *LoanService) Repay(ctx context.Context, loanID string, amount Credits, source RepaymentSource, actor ActorRef) error {
	if err := l.guard(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: repayment amount must be positive", ErrInvalidInput)
	}
	state, err := LoadLoan(ctx, l.store, loanID)
	if err != nil {
		return err
	}
	if !state.Exists {
		return fmt.Errorf("%w: loan %s", ErrNotFound, loanID)
	}
	if state.Status.terminal() {
		return fmt.Errorf("%w: loan %s is in terminal status %s", ErrInvalidInput, loanID, state.Status)
	}
	_, err = l.store.Append(ctx, EventInput{
		Type:          "LoanRepayment",
		AggregateType: LoanAggregateType,
		AggregateID:   loanID,
		Payload:       LoanRepaymentPayload{LoanID: loanID, Amount: amount, Source: source},
		Actor:         actor,
	})
	return err
}

// MarkDelinquent emits LoanDelinquent.
func (l *LoanService) MarkDelinquent(ctx context.Context, loanID string, missedPayments, daysPastDue int) error {
	_, err := l.store.Append(ctx, EventInput{
		Type:          "LoanDelinquent",
		AggregateType: LoanAggregateType,
		AggregateID:   loanID,
		Payload:       LoanDelinquentPayload{LoanID: loanID, MissedPayments: missedPayments, DaysPastDue: daysPastDue},
		Actor:         SystemActor("loan-service"),
	})
	return err
}

// Default emits LoanDefaulted — terminal.
func (l *LoanService) Default(ctx context.Context, loanID string, reason string) error {
	_, err := l.store.Append(ctx, EventInput{
		Type:          "LoanDefaulted",
		AggregateType: LoanAggregateType,
		AggregateID:   loanID,
		Payload:       LoanDefaultedPayload{LoanID: loanID, Reason: reason},
		Actor:         SystemActor("loan-service"),
	})
	return err
}

// Forgive emits LoanForgiven; the rehydrator marks the loan Forgiven once
// the resulting remaining balance reaches zero.
func (l *LoanService) Forgive(ctx context.Context, loanID string, amount Credits, reason string) error {
	_, err := l.store.Append(ctx, EventInput{
		Type:          "LoanForgiven",
		AggregateType: LoanAggregateType,
		AggregateID:   loanID,
		Payload:       LoanForgivenPayload{LoanID: loanID, Amount: amount, Reason: reason},
		Actor:         SystemActor("loan-service"),
	})
	return err
}

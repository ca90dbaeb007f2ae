package core

import "encoding/json"

// payloadRegistry maps a wire type tag to a zero-value decode target. This
// is the forward-compatibility mechanism: any type not in this map decodes
// into UnknownPayload instead of failing, so an older binary never chokes
// on events written by a newer one.
var payloadRegistry = map[string]func() Payload{
	"AgreementProposed":          func() Payload { return &AgreementProposedPayload{} },
	"AgreementStatusChanged":     func() Payload { return &AgreementStatusChangedPayload{} },
	"EntityCreated":              func() Payload { return &EntityCreatedPayload{} },
	"ContainerCreated":           func() Payload { return &ContainerCreatedPayload{} },
	"ContainerItemDeposited":     func() Payload { return &ContainerItemDepositedPayload{} },
	"ContainerItemWithdrawn":     func() Payload { return &ContainerItemWithdrawnPayload{} },
	"CreditsMinted":              func() Payload { return &CreditsMintedPayload{} },
	"CreditsBurned":              func() Payload { return &CreditsBurnedPayload{} },
	"CreditsTransferred":         func() Payload { return &CreditsTransferredPayload{} },
	"LoanDisbursed":              func() Payload { return &LoanDisbursedPayload{} },
	"InterestAccrued":            func() Payload { return &InterestAccruedPayload{} },
	"LoanRepayment":              func() Payload { return &LoanRepaymentPayload{} },
	"LoanDelinquent":             func() Payload { return &LoanDelinquentPayload{} },
	"LoanDefaulted":              func() Payload { return &LoanDefaultedPayload{} },
	"LoanForgiven":               func() Payload { return &LoanForgivenPayload{} },
	"LoanPaidOff":                func() Payload { return &LoanPaidOffPayload{} },
	"InterestRateAdjusted":       func() Payload { return &InterestRateAdjustedPayload{} },
	"MacroeconomicBandChanged":   func() Payload { return &MacroeconomicBandChangedPayload{} },
	"CircuitBreakerTripped":      func() Payload { return &CircuitBreakerTrippedPayload{} },
	"CircuitBreakerReset":        func() Payload { return &CircuitBreakerResetPayload{} },
	"AnomalyDetected":            func() Payload { return &AnomalyDetectedPayload{} },
	"GuaranteeFundDistribution":  func() Payload { return &GuaranteeFundDistributionPayload{} },
	"GuaranteeFundAccrued":       func() Payload { return &GuaranteeFundAccruedPayload{} },
	"TrajectorySpanRecorded":     func() Payload { return &TrajectorySpanRecordedPayload{} },
}

// decodeStoredPayload turns a stored (type, raw JSON) pair back into a
// concrete Payload, falling back to UnknownPayload for anything unregistered.
func decodeStoredPayload(typ string, raw json.RawMessage) Payload {
	ctor, ok := payloadRegistry[typ]
	if !ok {
		return UnknownPayload{Type: typ, RawPayload: raw}
	}
	p := ctor()
	if err := json.Unmarshal(raw, p); err != nil {
		return UnknownPayload{Type: typ, RawPayload: raw}
	}
	// Deref back to value form for the concrete payload types, which all
	// implement Payload on the value receiver.
	switch v := p.(type) {
	case *AgreementProposedPayload:
		return *v
	case *AgreementStatusChangedPayload:
		return *v
	case *EntityCreatedPayload:
		return *v
	case *ContainerCreatedPayload:
		return *v
	case *ContainerItemDepositedPayload:
		return *v
	case *ContainerItemWithdrawnPayload:
		return *v
	case *CreditsMintedPayload:
		return *v
	case *CreditsBurnedPayload:
		return *v
	case *CreditsTransferredPayload:
		return *v
	case *LoanDisbursedPayload:
		return *v
	case *InterestAccruedPayload:
		return *v
	case *LoanRepaymentPayload:
		return *v
	case *LoanDelinquentPayload:
		return *v
	case *LoanDefaultedPayload:
		return *v
	case *LoanForgivenPayload:
		return *v
	case *LoanPaidOffPayload:
		return *v
	case *InterestRateAdjustedPayload:
		return *v
	case *MacroeconomicBandChangedPayload:
		return *v
	case *CircuitBreakerTrippedPayload:
		return *v
	case *CircuitBreakerResetPayload:
		return *v
	case *AnomalyDetectedPayload:
		return *v
	case *GuaranteeFundDistributionPayload:
		return *v
	case *GuaranteeFundAccruedPayload:
		return *v
	case *TrajectorySpanRecordedPayload:
		return *v
	default:
		return UnknownPayload{Type: typ, RawPayload: raw}
	}
}

package core

import "context"

// WalletRules modulates whether a wallet may go negative. Most wallets
// disallow it; a treasury-style wallet backing loan disbursement may permit
// it up to a floor.
type WalletRules struct {
	AllowNegative bool
	FloorBalance  Credits // only meaningful when AllowNegative
}

// WalletState is the folded aggregate state for one wallet.
type WalletState struct {
	Exists         bool
	OwnerID        EntityID
	Currency       string
	Balance        Credits
	TotalDeposited Credits
	TotalWithdrawn Credits
	TxCount        int64
	Rules          WalletRules
	Version        uint32
}

// WalletRehydrator folds CreditsMinted/Burned/Transferred events scoped to
// one wallet id into its current balance.
//
// A wallet's aggregateId is the wallet id itself; CreditsTransferred events
// are recorded once on the sender's stream and once on the recipient's
// (both sides "own" a leg of the transfer in their own aggregate
// subsequence), so this fold only ever needs to look at its own
// aggregateId and never needs the cross-aggregate filtering Loan's fold
// does in loan_aggregate.go.
var WalletRehydrator = Rehydrator[WalletState]{
	InitialState: WalletState{Rules: WalletRules{}},
	Apply: func(s WalletState, e Event) WalletState {
		s.Exists = true
		s.Version++
		switch p := e.Payload.(type) {
		case CreditsMintedPayload:
			s.Balance += p.Amount
			s.TotalDeposited += p.Amount
			s.TxCount++
		case CreditsBurnedPayload:
			s.Balance -= p.Amount
			s.TotalWithdrawn += p.Amount
			s.TxCount++
		case CreditsTransferredPayload:
			if p.FromWalletID == e.AggregateID {
				s.Balance -= p.Gross
				s.TotalWithdrawn += p.Gross
				s.TxCount++
			}
			if p.ToWalletID == e.AggregateID {
				s.Balance += p.Net
				s.TotalDeposited += p.Net
				s.TxCount++
			}
		case GuaranteeFundAccruedPayload:
			// Routed fees appended to the fund wallet's own stream.
			s.Balance += p.Amount
			s.TotalDeposited += p.Amount
			s.TxCount++
		}
		return s
	},
}

// WalletAggregateType is the AggregateType a wallet's event subsequence is
// filed under. A wallet is a balance held by a party, so it
// is modeled as an Asset aggregate (parallel to Loan under Agreement,
// Container under Container, Trajectory under Trajectory).
const WalletAggregateType = AggregateAsset

// LoadWallet rehydrates the wallet aggregate for walletID.
func LoadWallet(ctx context.Context, store EventStore, walletID string) (WalletState, error) {
	s, _, err := Rehydrate(ctx, store, WalletRehydrator, WalletAggregateType, walletID)
	return s, err
}

package core

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// MonetaryKPIs summarizes mint/burn activity and the resulting supply.
type MonetaryKPIs struct {
	TotalMinted      Credits
	TotalBurned      Credits
	CirculatingSupply Credits
	InflationRate    float64 // change in supply over the window, relative to supply at window start
}

// TransactionKPIs summarizes transfer activity within the reporting window.
type TransactionKPIs struct {
	PeriodCount  int64
	PeriodVolume Credits
	Velocity     float64 // periodVolume / circulatingSupply
}

// LoanKPIs summarizes the loan book.
type LoanKPIs struct {
	TotalDisbursed    Credits
	ActiveCount       int64
	OutstandingPrincipal Credits
	DefaultRate       float64
}

// DistributionKPIs summarizes wealth concentration across wallets.
type DistributionKPIs struct {
	TotalWallets int64
	Gini         float64
	Top10Share   float64
}

// AgentKPIs summarizes registered/active entities.
type AgentKPIs struct {
	RegisteredCount int64
	ActiveCount     int64
}

// KPISnapshot is the health monitor's periodic recomputation result.
type KPISnapshot struct {
	AsOf         time.Time
	Monetary     MonetaryKPIs
	Transactions TransactionKPIs
	Loans        LoanKPIs
	Distribution DistributionKPIs
	Agents       AgentKPIs
}

// AlertSeverity levels an individual KPI breach.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert reports one KPI that crossed a threshold.
type Alert struct {
	Severity          AlertSeverity
	Metric            string
	Value             float64
	Threshold         float64
	CorrectiveAction  string
	RequiresApproval  bool
}

// HealthLevel is the overall assessment derived from the worst alert.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// HealthThresholds configures the warning/critical boundaries the assessment
// compares KPIs against.
type HealthThresholds struct {
	InflationWarning, InflationCritical       float64
	DefaultRateWarning, DefaultRateCritical   float64
	GiniWarning, GiniCritical                 float64
	VelocityWarning, VelocityCritical         float64
}

// DefaultHealthThresholds matches a conservative starter configuration.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		InflationWarning: 0.20, InflationCritical: 0.50,
		DefaultRateWarning: 0.20, DefaultRateCritical: 0.50,
		GiniWarning: 0.80, GiniCritical: 0.95,
		VelocityWarning: 2.0, VelocityCritical: 5.0,
	}
}

// HealthAssessment is the outcome of comparing a KPISnapshot to thresholds.
type HealthAssessment struct {
	Level  HealthLevel
	Alerts []Alert
}

// HealthMonitor periodically recomputes KPIs by folding the event stream and
// assesses them against configured thresholds.
type HealthMonitor struct {
	store      EventStore
	thresholds HealthThresholds
	logger     *log.Logger
}

// NewHealthMonitor constructs a monitor reading from store.
func NewHealthMonitor(store EventStore, thresholds HealthThresholds) *HealthMonitor {
	return &HealthMonitor{store: store, thresholds: thresholds, logger: log.StandardLogger()}
}

func (h *HealthMonitor) SetLogger(l *log.Logger) { h.logger = l }

// Compute folds the full event history up to asOf for cumulative KPIs
// (supply, loan book including default rate, agent registry, wallet
// distribution) and the [windowStart, asOf] slice for period KPIs
// (transaction volume, inflation rate).
func (h *HealthMonitor) Compute(ctx context.Context, windowStart, asOf time.Time) (KPISnapshot, error) {
	full, err := h.store.Query(ctx, QueryCriteria{ToTimestamp: asOf, OrderBy: OrderBySequence})
	if err != nil {
		return KPISnapshot{}, err
	}

	var monetary MonetaryKPIs
	walletBalances := map[string]Credits{}
	loanStatus := map[string]LoanStatus{}
	loanPrincipal := map[string]Credits{}
	agents := map[string]bool{}
	activeAgents := map[string]bool{}

	supplyAtWindowStart := Credits(0)
	var periodCount int64
	var periodVolume Credits

	for _, e := range full.Events {
		switch p := e.Payload.(type) {
		case CreditsMintedPayload:
			monetary.TotalMinted += p.Amount
			walletBalances[p.WalletID] += p.Amount
		case CreditsBurnedPayload:
			monetary.TotalBurned += p.Amount
			walletBalances[p.WalletID] -= p.Amount
		case CreditsTransferredPayload:
			if p.FromWalletID == e.AggregateID {
				walletBalances[p.FromWalletID] -= p.Gross
				if !e.Timestamp.Before(windowStart) {
					periodCount++
					periodVolume += p.Gross
				}
			}
			if p.ToWalletID == e.AggregateID {
				walletBalances[p.ToWalletID] += p.Net
			}
			if actorID := string(e.Actor.EntityID); actorID != "" {
				activeAgents[actorID] = true
			}
		case GuaranteeFundAccruedPayload:
			// Routed fees live on the fund wallet's stream.
			walletBalances[e.AggregateID] += p.Amount
		case LoanDisbursedPayload:
			loanStatus[p.LoanID] = LoanGracePeriod
			loanPrincipal[p.LoanID] = p.Principal
		case LoanRepaymentPayload:
			if !loanStatus[p.LoanID].terminal() {
				loanStatus[p.LoanID] = LoanActive
			}
		case LoanDefaultedPayload:
			loanStatus[p.LoanID] = LoanDefaulted
		case LoanForgivenPayload:
			loanStatus[p.LoanID] = LoanForgiven
		case LoanPaidOffPayload:
			loanStatus[p.LoanID] = LoanPaidOff
		case EntityCreatedPayload:
			agents[e.AggregateID] = true
		}
		if e.Timestamp.Before(windowStart) {
			supplyAtWindowStart = monetary.TotalMinted - monetary.TotalBurned
		}
	}

	monetary.CirculatingSupply = monetary.TotalMinted - monetary.TotalBurned
	if supplyAtWindowStart > 0 {
		monetary.InflationRate = float64(monetary.CirculatingSupply-supplyAtWindowStart) / float64(supplyAtWindowStart)
	}

	txn := TransactionKPIs{PeriodCount: periodCount, PeriodVolume: periodVolume}
	if monetary.CirculatingSupply > 0 {
		txn.Velocity = float64(periodVolume) / float64(monetary.CirculatingSupply)
	}

	var loans LoanKPIs
	var defaulted, totalLoans int64
	for id, status := range loanStatus {
		loans.TotalDisbursed += loanPrincipal[id]
		if !status.terminal() {
			loans.ActiveCount++
			loans.OutstandingPrincipal += loanPrincipal[id]
		}
		if status == LoanDefaulted {
			defaulted++
		}
		totalLoans++
	}
	if totalLoans > 0 {
		loans.DefaultRate = float64(defaulted) / float64(totalLoans)
	}

	balances := make([]Credits, 0, len(walletBalances))
	for _, b := range walletBalances {
		balances = append(balances, b)
	}
	dist := DistributionKPIs{
		TotalWallets: int64(len(balances)),
		Gini:         GiniCoefficient(balances),
		Top10Share:   topShare(balances, 0.10),
	}

	agentKPIs := AgentKPIs{RegisteredCount: int64(len(agents)), ActiveCount: int64(len(activeAgents))}

	return KPISnapshot{
		AsOf:         asOf,
		Monetary:     monetary,
		Transactions: txn,
		Loans:        loans,
		Distribution: dist,
		Agents:       agentKPIs,
	}, nil
}

// GiniCoefficient computes the standard Gini formula over balances
// G = (2·Σ i·b_i) / (n·Σ b_i) − (n+1)/n for sorted b_1 ≤ … ≤ b_n.
// n = 0 or Σb_i = 0 yield G = 0.
func GiniCoefficient(balances []Credits) float64 {
	n := len(balances)
	if n == 0 {
		return 0
	}
	sorted := make([]Credits, n)
	copy(sorted, balances)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	var weighted float64
	for i, b := range sorted {
		v := float64(b)
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}
	return (2*weighted)/(float64(n)*sum) - float64(n+1)/float64(n)
}

// topShare returns the fraction of total balance held by the top
// `fraction` slice of entries (e.g. fraction=0.10 for top 10%).
func topShare(balances []Credits, fraction float64) float64 {
	n := len(balances)
	if n == 0 {
		return 0
	}
	sorted := make([]Credits, n)
	copy(sorted, balances)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	var total float64
	for _, b := range sorted {
		total += float64(b)
	}
	if total == 0 {
		return 0
	}
	topN := int(float64(n) * fraction)
	if topN < 1 {
		topN = 1
	}
	var topSum float64
	for _, b := range sorted[:topN] {
		topSum += float64(b)
	}
	return topSum / total
}

// Assess compares a snapshot to thresholds and derives alerts plus an
// overall level. Critical alerts whose corrective action implies a policy
// change (fee rate, loan pause) are marked RequiresApproval.
func (h *HealthMonitor) Assess(k KPISnapshot) HealthAssessment {
	var alerts []Alert
	worst := HealthHealthy

	bump := func(sev AlertSeverity) {
		if sev == SeverityCritical {
			worst = HealthCritical
		} else if sev == SeverityWarning && worst != HealthCritical {
			worst = HealthWarning
		}
	}

	if k.Monetary.InflationRate >= h.thresholds.InflationCritical {
		alerts = append(alerts, Alert{SeverityCritical, "inflationRate", k.Monetary.InflationRate, h.thresholds.InflationCritical, "adjust fee rate and floating interest band", true})
		bump(SeverityCritical)
	} else if k.Monetary.InflationRate >= h.thresholds.InflationWarning {
		alerts = append(alerts, Alert{SeverityWarning, "inflationRate", k.Monetary.InflationRate, h.thresholds.InflationWarning, "monitor mint authorization volume", false})
		bump(SeverityWarning)
	}

	if k.Loans.DefaultRate >= h.thresholds.DefaultRateCritical {
		alerts = append(alerts, Alert{SeverityCritical, "defaultRate", k.Loans.DefaultRate, h.thresholds.DefaultRateCritical, "pause new loan issuance", true})
		bump(SeverityCritical)
	} else if k.Loans.DefaultRate >= h.thresholds.DefaultRateWarning {
		alerts = append(alerts, Alert{SeverityWarning, "defaultRate", k.Loans.DefaultRate, h.thresholds.DefaultRateWarning, "review guarantor requirements", false})
		bump(SeverityWarning)
	}

	if k.Distribution.Gini >= h.thresholds.GiniCritical {
		alerts = append(alerts, Alert{SeverityCritical, "gini", k.Distribution.Gini, h.thresholds.GiniCritical, "trigger guarantee fund distribution review", true})
		bump(SeverityCritical)
	} else if k.Distribution.Gini >= h.thresholds.GiniWarning {
		alerts = append(alerts, Alert{SeverityWarning, "gini", k.Distribution.Gini, h.thresholds.GiniWarning, "monitor wealth concentration", false})
		bump(SeverityWarning)
	}

	if k.Transactions.Velocity >= h.thresholds.VelocityCritical {
		alerts = append(alerts, Alert{SeverityCritical, "velocity", k.Transactions.Velocity, h.thresholds.VelocityCritical, "adjust transaction fee rate", true})
		bump(SeverityCritical)
	} else if k.Transactions.Velocity >= h.thresholds.VelocityWarning {
		alerts = append(alerts, Alert{SeverityWarning, "velocity", k.Transactions.Velocity, h.thresholds.VelocityWarning, "monitor transaction volume", false})
		bump(SeverityWarning)
	}

	return HealthAssessment{Level: worst, Alerts: alerts}
}

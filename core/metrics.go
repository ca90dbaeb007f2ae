package core

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics exposes the health monitor's KPIs as Prometheus gauges so an
// operator's scraper sees the same numbers Assess() reasons about.
type LedgerMetrics struct {
	CirculatingSupply prometheus.Gauge
	InflationRate      prometheus.Gauge
	TransactionVelocity prometheus.Gauge
	LoanDefaultRate     prometheus.Gauge
	GiniCoefficient     prometheus.Gauge
	GuaranteeFundBalance prometheus.Gauge
	BreakerState         *prometheus.GaugeVec
	AnomaliesTotal        *prometheus.CounterVec
}

// NewLedgerMetrics registers a fresh set of collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		CirculatingSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ubl_circulating_supply_mubl",
			Help: "Circulating supply in mUBL (totalMinted - totalBurned).",
		}),
		InflationRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ubl_inflation_rate",
			Help: "Supply change over the health monitor's reporting window.",
		}),
		TransactionVelocity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ubl_transaction_velocity",
			Help: "Period transfer volume divided by circulating supply.",
		}),
		LoanDefaultRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ubl_loan_default_rate",
			Help: "Fraction of loans in the Defaulted terminal state.",
		}),
		GiniCoefficient: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ubl_wallet_gini",
			Help: "Gini coefficient over wallet balances.",
		}),
		GuaranteeFundBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ubl_guarantee_fund_balance_mubl",
			Help: "Current guarantee fund balance in mUBL.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ubl_circuit_breaker_state",
			Help: "1 for the breaker's current state, labeled by state name.",
		}, []string{"state"}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ubl_anomalies_total",
			Help: "Total anomalies detected, labeled by series and kind.",
		}, []string{"series", "kind"}),
	}

	registerer.MustRegister(
		m.CirculatingSupply, m.InflationRate, m.TransactionVelocity,
		m.LoanDefaultRate, m.GiniCoefficient, m.GuaranteeFundBalance,
		m.BreakerState, m.AnomaliesTotal,
	)
	return m
}

// Observe updates the gauges from a freshly computed KPI snapshot.
func (m *LedgerMetrics) Observe(k KPISnapshot, fundBalance Credits, breakerState BreakerState) {
	m.CirculatingSupply.Set(float64(k.Monetary.CirculatingSupply))
	m.InflationRate.Set(k.Monetary.InflationRate)
	m.TransactionVelocity.Set(k.Transactions.Velocity)
	m.LoanDefaultRate.Set(k.Loans.DefaultRate)
	m.GiniCoefficient.Set(k.Distribution.Gini)
	m.GuaranteeFundBalance.Set(float64(fundBalance))

	for _, s := range []BreakerState{BreakerClosed, BreakerHalfOpen, BreakerOpen} {
		v := 0.0
		if s == breakerState {
			v = 1.0
		}
		m.BreakerState.WithLabelValues(string(s)).Set(v)
	}
}

// RecordAnomaly increments the anomaly counter for series/kind.
func (m *LedgerMetrics) RecordAnomaly(series string, kind AnomalyKind) {
	m.AnomaliesTotal.WithLabelValues(series, string(kind)).Inc()
}

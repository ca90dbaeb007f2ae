package core

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// MonitorLoop drives the periodic observability cycle: recompute KPIs from
// the event stream, assess them, feed the circuit breaker a metrics
// snapshot, re-evaluate the floating interest band, and refresh the
// Prometheus gauges. Scheduling uses a cron runner so deployments can align
// the cycle with their scrape interval via a standard spec.
type MonitorLoop struct {
	monitor *HealthMonitor
	breaker *CircuitBreaker
	fund    *GuaranteeFund
	rates   *RateController
	metrics *LedgerMetrics
	window  time.Duration
	logger  *log.Logger

	cron *cron.Cron
}

// NewMonitorLoop assembles the loop. rates and metrics may be nil; window is
// the KPI reporting window (inflation, period volume).
func NewMonitorLoop(monitor *HealthMonitor, breaker *CircuitBreaker, fund *GuaranteeFund, rates *RateController, metrics *LedgerMetrics, window time.Duration) *MonitorLoop {
	return &MonitorLoop{
		monitor: monitor,
		breaker: breaker,
		fund:    fund,
		rates:   rates,
		metrics: metrics,
		window:  window,
		logger:  log.StandardLogger(),
	}
}

func (l *MonitorLoop) SetLogger(lg *log.Logger) { l.logger = lg }

// Start schedules the cycle on spec (e.g. "@every 30s") and begins running.
func (l *MonitorLoop) Start(ctx context.Context, spec string) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() { l.RunOnce(ctx) }); err != nil {
		return err
	}
	l.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule, waiting for an in-flight cycle to finish.
func (l *MonitorLoop) Stop() {
	if l.cron != nil {
		<-l.cron.Stop().Done()
	}
}

// RunOnce executes a single observability cycle. Failures are logged and
// swallowed: the monitor is an observer and must never take the ledger's
// main flow down with it.
func (l *MonitorLoop) RunOnce(ctx context.Context) {
	asOf := now()
	snapshot, err := l.monitor.Compute(ctx, asOf.Add(-l.window), asOf)
	if err != nil {
		l.logger.WithError(err).Warn("health monitor: KPI recomputation failed")
		return
	}

	assessment := l.monitor.Assess(snapshot)
	for _, a := range assessment.Alerts {
		l.logger.WithFields(log.Fields{
			"severity": a.Severity, "metric": a.Metric,
			"value": a.Value, "threshold": a.Threshold,
		}).Warn("health alert: " + a.CorrectiveAction)
	}

	fundBalance := Credits(0)
	if l.fund != nil {
		fundBalance = l.fund.State().Balance
	}

	if err := l.breaker.Check(ctx, MetricsSnapshot{
		Inflation:       snapshot.Monetary.InflationRate,
		SupplyChange24h: snapshot.Monetary.InflationRate,
		DefaultRate:     snapshot.Loans.DefaultRate,
		TreasuryBalance: fundBalance,
		Gini:            snapshot.Distribution.Gini,
	}); err != nil {
		l.logger.WithError(err).Warn("health monitor: breaker check failed")
	}

	if l.rates != nil {
		if err := l.rates.Evaluate(ctx, snapshot.Monetary.InflationRate); err != nil {
			l.logger.WithError(err).Warn("health monitor: rate evaluation failed")
		}
	}

	if l.metrics != nil {
		l.metrics.Observe(snapshot, fundBalance, l.breaker.State())
	}
}

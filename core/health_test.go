package core

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestGiniCoefficient(t *testing.T) {
	cases := []struct {
		name     string
		balances []Credits
		want     float64
		tol      float64
	}{
		{"empty population", nil, 0, 0},
		{"all zero balances", []Credits{0, 0, 0}, 0, 0},
		{"perfect equality", []Credits{100, 100, 100, 100}, 0, 1e-9},
		{"single holder", []Credits{500}, 0, 1e-9},
		{"total concentration", []Credits{0, 0, 0, 1000}, 0.75, 1e-9},
		{"two-way split", []Credits{250, 750}, 0.25, 1e-9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := GiniCoefficient(tc.balances)
			if math.Abs(got-tc.want) > tc.tol {
				t.Fatalf("gini(%v) = %v, want %v", tc.balances, got, tc.want)
			}
		})
	}
}

func TestTopShare(t *testing.T) {
	// 10 wallets; the richest holds 55 of 100 total.
	balances := []Credits{55, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	got := topShare(balances, 0.10)
	if math.Abs(got-0.55) > 1e-9 {
		t.Fatalf("topShare = %v, want 0.55", got)
	}
	if topShare(nil, 0.10) != 0 {
		t.Fatal("topShare of empty population must be 0")
	}
}

func TestHealthMonitor_ComputeFoldsSupplyLoansAndDistribution(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMonetaryEngine(store, nil, "fund", DefaultFeeRateBps)
	l := NewLoanService(store, nil)

	if err := m.Mint(ctx, "w1", UBL(1000), "", "treasury"); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.Burn(ctx, "w1", UBL(200), "", "treasury"); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := m.Transfer(ctx, "w1", "w2", UBL(100), EntityActor("w1")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := l.Disburse(ctx, "loan-1", "w1", "", UBL(50), 0.05, 0.1, 0, EntityActor("lender")); err != nil {
		t.Fatalf("disburse 1: %v", err)
	}
	if err := l.Disburse(ctx, "loan-2", "w2", "", UBL(30), 0.05, 0.1, 0, EntityActor("lender")); err != nil {
		t.Fatalf("disburse 2: %v", err)
	}
	if err := l.Default(ctx, "loan-2", "missed everything"); err != nil {
		t.Fatalf("default: %v", err)
	}

	h := NewHealthMonitor(store, DefaultHealthThresholds())
	asOf := now().Add(time.Minute)
	k, err := h.Compute(ctx, asOf.Add(-time.Hour), asOf)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if k.Monetary.TotalMinted != UBL(1000) || k.Monetary.TotalBurned != UBL(200) {
		t.Fatalf("minted/burned = %s/%s", k.Monetary.TotalMinted, k.Monetary.TotalBurned)
	}
	if k.Monetary.CirculatingSupply != UBL(800) {
		t.Fatalf("circulating supply = %s, want 800 UBL", k.Monetary.CirculatingSupply)
	}
	if k.Transactions.PeriodCount != 1 || k.Transactions.PeriodVolume != UBL(100) {
		t.Fatalf("period count/volume = %d/%s", k.Transactions.PeriodCount, k.Transactions.PeriodVolume)
	}
	if k.Loans.TotalDisbursed != UBL(80) {
		t.Fatalf("total disbursed = %s, want 80 UBL", k.Loans.TotalDisbursed)
	}
	if k.Loans.ActiveCount != 1 {
		t.Fatalf("active loans = %d, want 1", k.Loans.ActiveCount)
	}
	if math.Abs(k.Loans.DefaultRate-0.5) > 1e-9 {
		t.Fatalf("default rate = %v, want 0.5", k.Loans.DefaultRate)
	}
	if k.Distribution.TotalWallets == 0 {
		t.Fatal("distribution KPIs must see the wallets")
	}
}

func TestHealthMonitor_AssessDerivesWorstLevel(t *testing.T) {
	h := NewHealthMonitor(NewMemoryStore(), DefaultHealthThresholds())

	healthy := h.Assess(KPISnapshot{})
	if healthy.Level != HealthHealthy || len(healthy.Alerts) != 0 {
		t.Fatalf("empty snapshot = %s with %d alerts, want healthy/none", healthy.Level, len(healthy.Alerts))
	}

	warning := h.Assess(KPISnapshot{Monetary: MonetaryKPIs{InflationRate: 0.30}})
	if warning.Level != HealthWarning {
		t.Fatalf("level = %s, want warning", warning.Level)
	}

	critical := h.Assess(KPISnapshot{
		Monetary: MonetaryKPIs{InflationRate: 0.30},
		Loans:    LoanKPIs{DefaultRate: 0.60},
	})
	if critical.Level != HealthCritical {
		t.Fatalf("level = %s, want critical", critical.Level)
	}
	var sawApprovalGate bool
	for _, a := range critical.Alerts {
		if a.Severity == SeverityCritical && a.RequiresApproval {
			sawApprovalGate = true
		}
	}
	if !sawApprovalGate {
		t.Fatal("a critical policy-changing corrective action must be marked RequiresApproval")
	}
}

// Command ublctl is the operator CLI for a ubl-core ledger process: bootstrap
// a store, move credits, manage loans, and drive the circuit breaker and
// guarantee fund by hand.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ubl-core/core"
	"ubl-core/pkg/config"
)

// env bundles the process-wide handles the subcommands share, instantiated
// once at process start per the "no hidden globals" discipline — every
// subcommand receives an explicit *env rather than reaching for package
// state.
type env struct {
	store      core.EventStore
	breaker    *core.CircuitBreaker
	fund       *core.GuaranteeFund
	containers *core.ContainerManager
	monetary   *core.MonetaryEngine
	loans      *core.LoanService
	dispatcher *core.Dispatcher
}

func newEnv() (*env, error) {
	var store core.EventStore
	if dsn := config.AppConfig.Database.DSN; dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store = core.NewPostgresStore(db)
	} else {
		store = core.NewMemoryStore()
	}

	thresholds := core.DefaultBreakerThresholds()
	if cb := config.AppConfig.CircuitBreaker; cb.AnomalyThreshold > 0 {
		thresholds = core.BreakerThresholds{
			MaxInflation:      cb.MaxInflation,
			MaxSupplyChange:   cb.MaxSupplyChange,
			MaxDefaultRate:    cb.MaxDefaultRate,
			MaxGini:           cb.MaxGini,
			AnomalyThreshold:  cb.AnomalyThreshold,
			HalfOpenMaxProbes: cb.HalfOpenMaxProbes,
		}
	}

	breaker := core.NewCircuitBreaker(store, thresholds)
	fund := core.NewGuaranteeFund(store, core.DefaultDistributionPolicy())
	breaker.RegisterHandler(fund)
	containers := core.NewContainerManager(store, breaker)
	feeBps := config.AppConfig.Monetary.TransactionFeeBps
	monetary := core.NewMonetaryEngine(store, breaker, "guarantee-fund", feeBps)
	monetary.AttachFund(fund)
	loans := core.NewLoanService(store, breaker)
	dispatcher := core.NewDispatcher(store, containers, monetary, loans)
	return &env{
		store: store, breaker: breaker, fund: fund,
		containers: containers, monetary: monetary, loans: loans,
		dispatcher: dispatcher,
	}, nil
}

func main() {
	if _, err := config.Load(os.Getenv("UBL_ENV")); err != nil {
		fmt.Fprintln(os.Stderr, "warning: config load:", err)
	}

	root := &cobra.Command{Use: "ublctl", Short: "operate a ubl-core ledger"}
	e, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup:", err)
		os.Exit(1)
	}

	root.AddCommand(bootstrapCmd(e))
	root.AddCommand(walletCmd(e))
	root.AddCommand(loanCmd(e))
	root.AddCommand(breakerCmd(e))
	root.AddCommand(fundCmd(e))
	root.AddCommand(queryCmd(e))
	root.AddCommand(verifyCmd(e))
	root.AddCommand(monitorCmd(e))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrapCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "ensure the genesis agreement, system entity, and primordial realm exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := core.Bootstrap(context.Background(), e.store)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func walletCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "inspect and move wallet balances"}

	mint := &cobra.Command{
		Use:   "mint <walletId> <amountUBL>",
		Short: "mint credits into a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			authorizedBy, _ := cmd.Flags().GetString("authorized-by")
			amount, err := parseUBL(args[1])
			if err != nil {
				return err
			}
			return e.monetary.Mint(context.Background(), args[0], amount, "", authorizedBy)
		},
	}
	mint.Flags().String("authorized-by", "treasury", "whitelisted system actor authorizing the mint")

	transfer := &cobra.Command{
		Use:   "transfer <fromWalletId> <toWalletId> <amountUBL>",
		Short: "transfer credits between wallets, fee-routed to the guarantee fund",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseUBL(args[2])
			if err != nil {
				return err
			}
			return e.monetary.Transfer(context.Background(), args[0], args[1], amount, core.EntityActor(core.EntityID(args[0])))
		},
	}

	balance := &cobra.Command{
		Use:   "balance <walletId>",
		Short: "print a wallet's rehydrated balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := core.LoadWallet(context.Background(), e.store, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, state)
		},
	}

	cmd.AddCommand(mint, transfer, balance)
	return cmd
}

func loanCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "manage loan lifecycle"}

	status := &cobra.Command{
		Use:   "status <loanId>",
		Short: "print a loan's rehydrated state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := core.LoadLoan(context.Background(), e.store, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, state)
		},
	}

	repay := &cobra.Command{
		Use:   "repay <loanId> <amountUBL>",
		Short: "record a repayment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseUBL(args[1])
			if err != nil {
				return err
			}
			return e.loans.Repay(context.Background(), args[0], amount, core.RepaymentManual, core.AnonymousActor())
		},
	}

	cmd.AddCommand(status, repay)
	return cmd
}

func breakerCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "breaker", Short: "inspect and drive the circuit breaker"}

	state := &cobra.Command{
		Use:   "state",
		Short: "print the breaker's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), e.breaker.State())
			return nil
		},
	}

	trip := &cobra.Command{
		Use:   "trip <note>",
		Short: "manually trip the breaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.breaker.Trip(context.Background(), args[0])
		},
	}

	reset := &cobra.Command{
		Use:   "reset <reason>",
		Short: "reset the breaker, restoring all operation classes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.breaker.Reset(context.Background(), args[0])
		},
	}

	cmd.AddCommand(state, trip, reset)
	return cmd
}

func fundCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "fund", Short: "inspect the guarantee fund"}

	state := &cobra.Command{
		Use:   "state",
		Short: "print the guarantee fund's current counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, e.fund.State())
		},
	}

	cmd.AddCommand(state)
	return cmd
}

func queryCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "query events by correlation id",
		RunE: func(cmd *cobra.Command, args []string) error {
			correlationID, _ := cmd.Flags().GetString("correlation-id")
			res, err := e.store.Query(context.Background(), core.QueryCriteria{CorrelationID: correlationID, OrderBy: core.OrderBySequence})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().String("correlation-id", "", "correlation id to reconstruct an intent transaction")
	return cmd
}

func verifyCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "re-hash the event chain and report the first break, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			to, _ := cmd.Flags().GetUint64("to")
			res, err := e.store.VerifyIntegrity(context.Background(), from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Uint64("from", 0, "first sequence to verify (0 = start of chain)")
	cmd.Flags().Uint64("to", 0, "last sequence to verify (0 = current head)")
	return cmd
}

func monitorCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "run the periodic health cycle and serve Prometheus metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, _ := cmd.Flags().GetString("schedule")
			windowHours, _ := cmd.Flags().GetInt("window-hours")

			registry := prometheus.NewRegistry()
			metrics := core.NewLedgerMetrics(registry)
			monitor := core.NewHealthMonitor(e.store, core.DefaultHealthThresholds())
			rates := core.NewRateController(e.store, core.DefaultInterestPolicy())
			loop := core.NewMonitorLoop(monitor, e.breaker, e.fund, rates, metrics, time.Duration(windowHours)*time.Hour)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := loop.Start(ctx, spec); err != nil {
				return err
			}
			defer loop.Stop()

			addr := fmt.Sprintf(":%d", config.AppConfig.Server.Port)
			srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx) //nolint:errcheck
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on %s\n", addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("schedule", "@every 30s", "cron spec for the health cycle")
	cmd.Flags().Int("window-hours", 24, "KPI reporting window in hours")
	return cmd
}

func parseUBL(s string) (core.Credits, error) {
	var whole float64
	if _, err := fmt.Sscanf(s, "%f", &whole); err != nil {
		return 0, fmt.Errorf("invalid UBL amount %q: %w", s, err)
	}
	return core.UBL(whole), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

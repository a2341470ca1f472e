package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/signal-trader/internal/adapters"
	"github.com/Rajchodisetti/signal-trader/internal/config"
	"github.com/Rajchodisetti/signal-trader/internal/engine"
	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/outbox"
	"github.com/Rajchodisetti/signal-trader/internal/portfolio"
	"github.com/Rajchodisetti/signal-trader/internal/transport"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trader",
		Short:         "Dual-cadence paper trader",
		Long:          "trader fuses fast price signals and slow news sentiment into risk-gated paper trades.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default $TRADER_CONFIG or config/trader.yaml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newJournalCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (config.Root, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return cfg, err
	}
	observ.Init(observ.LogConfig{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trader against the simulated market until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			seed, _ := cmd.Flags().GetInt64("seed")
			perCall, _ := cmd.Flags().GetInt("news-per-call")
			duration, _ := cmd.Flags().GetDuration("duration")
			return runTrader(cfg, seed, perCall, duration)
		},
	}
	cmd.Flags().Int64("seed", 0, "random seed for the simulated market (0 = time based)")
	cmd.Flags().Int("news-per-call", 2, "generated headlines per news fetch")
	cmd.Flags().Duration("duration", 0, "stop after this long (0 = until interrupted)")
	return cmd
}

func runTrader(cfg config.Root, seed int64, newsPerCall int, duration time.Duration) error {
	data := adapters.NewSimDataProvider(adapters.SimConfig{Seed: seed, HistoryLength: cfg.Ensemble.HistoryLength, Warmup: cfg.Ensemble.HistoryLength})
	known := map[string]bool{}
	for _, s := range data.Symbols() {
		known[s] = true
	}
	for _, s := range cfg.Symbols {
		if !known[strings.ToUpper(s)] {
			data.AddSymbol(s, 100, 0.02)
		}
	}

	deps := engine.Deps{
		Data:     data,
		Scorer:   adapters.NewIndicatorScorer(adapters.MomentumPolicy{}),
		News:     adapters.NewSimNewsProvider(adapters.SimNewsConfig{Symbols: cfg.Symbols, PerCall: newsPerCall, Seed: seed}),
		Analyzer: adapters.LexiconAnalyzer{},
		Features: adapters.Features,
	}
	if cfg.Persistence.Path != "" {
		deps.Store = portfolio.NewFileStore(cfg.Persistence.Path)
	}
	if cfg.Persistence.JournalPath != "" {
		ob, err := outbox.New(cfg.Persistence.JournalPath, 24*time.Hour, nil)
		if err != nil {
			return fmt.Errorf("open order journal: %w", err)
		}
		deps.Outbox = ob
	}

	loop, err := engine.New(cfg, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	var srv *transport.Server
	if cfg.HTTP.Addr != "" {
		srv = transport.New(cfg.HTTP.Addr, loop)
		go func() {
			if err := srv.Start(); err != nil {
				observ.Warn("http_server_failed", map[string]any{"addr": cfg.HTTP.Addr, "error": err})
			}
		}()
	}

	observ.Log("trader_starting", map[string]any{"run_id": loop.RunID(), "symbols": cfg.Symbols, "seed": seed})
	runErr := loop.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			observ.Warn("http_shutdown_failed", map[string]any{"error": err})
		}
	}
	return runErr
}

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the persisted ledger valued at average cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Persistence.Path == "" {
				return errors.New("persistence.path is not configured")
			}
			st, ok, err := portfolio.NewFileStore(cfg.Persistence.Path).Load()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no saved ledger at %s", cfg.Persistence.Path)
			}
			ledger := portfolio.NewLedger(portfolio.Config{InitialCapital: cfg.Trading.InitialCapital})
			if err := ledger.Restore(st); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ledger.Snapshot(nil))
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			w := cfg.Ensemble.Weights
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d symbols, capital %.2f, weights %.2f/%.2f/%.2f, price %ds, news %ds, decision %ds\n",
				len(cfg.Symbols), cfg.Trading.InitialCapital, w.Technical, w.RL, w.Sentiment,
				cfg.Cadence.PriceSeconds, cfg.Cadence.NewsSeconds, cfg.Cadence.DecisionSeconds)
			return nil
		},
	}
}

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the order journal as orders and their fills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Persistence.JournalPath == "" {
				return errors.New("persistence.journal_path is not configured")
			}
			ob, err := outbox.New(cfg.Persistence.JournalPath, 24*time.Hour, nil)
			if err != nil {
				return err
			}
			orders, err := ob.Orders()
			if err != nil {
				return err
			}
			fills, err := ob.Fills()
			if err != nil {
				return err
			}
			filled := make(map[string]outbox.Fill, len(fills))
			for _, f := range fills {
				filled[f.OrderID] = f
			}

			symbol, _ := cmd.Flags().GetString("symbol")
			w := cmd.OutOrStdout()
			for _, o := range orders {
				if symbol != "" && !strings.EqualFold(symbol, o.Symbol) {
					continue
				}
				line := fmt.Sprintf("%s %-4s %-6s %4d @ %.2f %-11s %s", o.Timestamp.Format(time.RFC3339), o.Intent, o.Symbol, o.Quantity, o.Price, o.Source, o.Status)
				if f, ok := filled[o.ID]; ok {
					line += fmt.Sprintf(" filled tx=%s pnl=%.2f cash=%.2f", f.TxID, f.RealizedPnL, f.CashAfter)
				}
				if o.Reason != "" {
					line += " reason=" + o.Reason
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "only show orders for this symbol")
	return cmd
}

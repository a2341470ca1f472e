// Package engine wires the producers, the decision chain and the ledger
// into one running trader.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/signal-trader/internal/config"
	"github.com/Rajchodisetti/signal-trader/internal/decision"
	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/outbox"
	"github.com/Rajchodisetti/signal-trader/internal/portfolio"
	"github.com/Rajchodisetti/signal-trader/internal/risk"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
)

// Deps are the external collaborators. Store and Outbox may be nil to run
// without persistence or an order journal; Features defaults to
// signals.Returns.
type Deps struct {
	Data     signals.DataProvider
	Scorer   signals.ActionScorer
	News     signals.NewsProvider
	Analyzer signals.SentimentAnalyzer
	Store    portfolio.Store
	Outbox   *outbox.Outbox
	Features signals.FeatureFunc
	Clock    func() time.Time
}

// Rejection is a decision that did not reach the ledger.
type Rejection struct {
	Symbol string          `json:"symbol"`
	Action signals.Action  `json:"action"`
	Source decision.Source `json:"source"`
	Rule   string          `json:"rule"`
	Reason string          `json:"reason"`
}

// CycleReport summarises one pass of the decision chain.
type CycleReport struct {
	At        time.Time               `json:"at"`
	Decisions int                     `json:"decisions"`
	Exits     int                     `json:"exits"`
	Executed  []portfolio.Transaction `json:"executed"`
	Rejected  []Rejection             `json:"rejected"`
	Valuation float64                 `json:"valuation"`
	GateState risk.GateState          `json:"gate_state"`
}

// Loop owns every component of a run. Producers and the decision chain
// talk only through SharedState and the Ledger.
type Loop struct {
	cfg   config.Root
	runID string
	clock func() time.Time
	loc   *time.Location
	log   zerolog.Logger

	state  *signals.SharedState
	price  *signals.PriceProducer
	news   *signals.NewsProducer
	maker  *decision.Maker
	gate   *risk.Gate
	sizer  risk.Sizer
	exits  *risk.ExitMonitor
	ledger *portfolio.Ledger
	store  portfolio.Store
	outbox *outbox.Outbox

	// cycleMu keeps the decision cycle, the day reset and checkpoints from
	// interleaving.
	cycleMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	sched  *Scheduler
}

func New(cfg config.Root, deps Deps) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Data == nil || deps.Scorer == nil || deps.News == nil || deps.Analyzer == nil {
		return nil, errors.New("engine needs a data provider, scorer, news provider and analyzer")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Features == nil {
		deps.Features = signals.Returns
	}
	loc := cfg.Location()

	l := &Loop{
		cfg:    cfg,
		runID:  uuid.NewString(),
		clock:  deps.Clock,
		loc:    loc,
		state:  signals.NewSharedState(),
		store:  deps.Store,
		outbox: deps.Outbox,
	}
	l.log = observ.Logger("engine").With().Str("run_id", l.runID).Logger()

	l.ledger = portfolio.NewLedger(portfolio.Config{
		InitialCapital: cfg.Trading.InitialCapital,
		Commission:     cfg.Trading.Commission,
		Slippage:       cfg.Trading.Slippage,
		Clock:          deps.Clock,
	})
	l.restore()

	l.price = signals.NewPriceProducer(l.state, deps.Data, deps.Scorer, signals.PriceProducerConfig{
		Symbols:       cfg.Symbols,
		Period:        config.Seconds(cfg.Cadence.PriceSeconds),
		HistoryLength: cfg.Ensemble.HistoryLength,
		Features:      deps.Features,
		Clock:         deps.Clock,
	})
	l.news = signals.NewNewsProducer(l.state, deps.News, deps.Analyzer, signals.NewsProducerConfig{
		Symbols: cfg.Symbols,
		Period:  config.Seconds(cfg.Cadence.NewsSeconds),
		Floor:   config.Seconds(cfg.Cadence.NewsFloorSeconds),
		Clock:   deps.Clock,
	})
	l.maker = decision.NewMaker(l.state, cfg.Symbols, DecisionConfig(cfg))

	limits := RiskLimits(cfg)
	// held positions open the day at their first fresh market value
	open := 0.0
	if len(l.ledger.Positions()) == 0 {
		open = l.ledger.Cash()
	}
	l.gate = risk.NewGate(limits, loc, open)
	l.sizer = risk.NewSizer(limits)
	l.exits = risk.NewExitMonitor(cfg.Risk.StopLossFraction, cfg.Risk.TakeProfitFraction, loc)
	return l, nil
}

// DecisionConfig maps the ensemble section onto the decision engine.
func DecisionConfig(cfg config.Root) decision.Config {
	w := cfg.Ensemble.Weights
	return decision.Config{
		Weights:         decision.Weights{Technical: w.Technical, RL: w.RL, Sentiment: w.Sentiment},
		ActionThreshold: cfg.Ensemble.ActionThreshold,
		MinConfidence:   cfg.Risk.MinConfidence,
		PriceFreshness:  config.Seconds(cfg.Ensemble.PriceFreshnessSeconds),
		NewsFreshness:   config.Seconds(cfg.Ensemble.NewsFreshnessSeconds),
	}
}

func RiskLimits(cfg config.Root) risk.Limits {
	return risk.Limits{
		MaxDailyTrades:       cfg.Risk.MaxDailyTrades,
		MaxDailyLossFraction: cfg.Risk.MaxDailyLossFraction,
		MaxPositionFraction:  cfg.Risk.MaxPositionFraction,
		MinConfidence:        cfg.Risk.MinConfidence,
	}
}

func (l *Loop) RunID() string { return l.runID }

func (l *Loop) Config() config.Root { return l.cfg }

func (l *Loop) State() *signals.SharedState { return l.state }

func (l *Loop) Ledger() *portfolio.Ledger { return l.ledger }

func (l *Loop) Maker() *decision.Maker { return l.maker }

func (l *Loop) Gate() *risk.Gate { return l.gate }

func (l *Loop) Exits() *risk.ExitMonitor { return l.exits }

// Prices are the latest committed price per symbol.
func (l *Loop) Prices() map[string]float64 {
	return l.state.Snapshot().LatestPrices()
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Start launches the price producer, the news producer, the decision
// ticker and the calendar jobs. It returns once everything is running.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}

	sched := NewScheduler(l.loc)
	if err := sched.AddJob(l.cfg.Session.ResetSchedule, JobFunc{JobName: "day_reset", Fn: l.resetDay}); err != nil {
		return fmt.Errorf("schedule day reset %q: %w", l.cfg.Session.ResetSchedule, err)
	}
	if l.store != nil {
		checkpoint := JobFunc{JobName: "checkpoint", Fn: l.Checkpoint}
		if err := sched.AddJob(l.cfg.Persistence.CheckpointSchedule, checkpoint); err != nil {
			return fmt.Errorf("schedule checkpoint %q: %w", l.cfg.Persistence.CheckpointSchedule, err)
		}
		// an unwritable store fails the start rather than the first trade
		if err := sched.RunNow(checkpoint); err != nil {
			return fmt.Errorf("initial checkpoint: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error { return l.price.Run(gctx) })
	group.Go(func() error { return l.news.Run(gctx) })
	group.Go(func() error { return l.runDecisions(gctx) })
	sched.Start()

	l.cancel = cancel
	l.group = group
	l.sched = sched

	observ.SetGauge("engine_running", 1, nil)
	l.log.Info().
		Strs("symbols", l.cfg.Symbols).
		Dur("price_period", config.Seconds(l.cfg.Cadence.PriceSeconds)).
		Dur("news_period", l.news.Period()).
		Dur("decision_period", config.Seconds(l.cfg.Cadence.DecisionSeconds)).
		Float64("cash", l.ledger.Cash()).
		Msg("engine started")
	return nil
}

// Stop cancels every task and waits for each to reach its stopping point.
// A ledger mutation in flight always completes; the final state is then
// checkpointed.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return ErrNotRunning
	}

	l.cancel()
	err := l.group.Wait()
	l.sched.Stop()
	l.cancel, l.group, l.sched = nil, nil, nil

	if cerr := l.Checkpoint(); cerr != nil {
		l.log.Warn().Err(cerr).Msg("final checkpoint failed")
	}
	observ.SetGauge("engine_running", 0, nil)

	snap := l.ledger.Snapshot(l.Prices())
	l.log.Info().
		Float64("cash", snap.Cash).
		Float64("valuation", snap.Valuation).
		Float64("total_return", snap.TotalReturn).
		Int("trades", snap.TradeCount).
		Msg("engine stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run blocks until ctx is cancelled, then stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return l.Stop()
}

func (l *Loop) runDecisions(ctx context.Context) error {
	ticker := time.NewTicker(config.Seconds(l.cfg.Cadence.DecisionSeconds))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Cycle(ctx, l.clock())
		}
	}
}

// Cycle runs one pass of the decision chain: exits first, then the
// ensemble, each through the gate, the sizer and the ledger. Cancellation
// is observed between orders only.
func (l *Loop) Cycle(ctx context.Context, now time.Time) CycleReport {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	start := time.Now()

	snap := l.state.Snapshot()
	prices := snap.LatestPrices()
	fresh := l.freshPrices(snap, now)
	report := CycleReport{At: now, Valuation: l.ledger.Valuation(prices)}
	report.GateState = l.gate.Mark(l.markValue(fresh), now)

	exits := l.exits.Check(l.ledger.Positions(), fresh, now)
	decisions := l.maker.DecideFrom(snap, now)
	report.Exits = len(exits)
	report.Decisions = len(decisions)

	exited := make(map[string]bool, len(exits))
	queue := make([]decision.TradeDecision, 0, len(exits)+len(decisions))
	for _, d := range exits {
		exited[d.Symbol] = true
		queue = append(queue, d)
	}
	for _, d := range decisions {
		if exited[d.Symbol] {
			observ.Log("decision_superseded_by_exit", map[string]any{"symbol": d.Symbol, "action": string(d.Action)})
			continue
		}
		queue = append(queue, d)
	}

	for _, d := range queue {
		if ctx.Err() != nil {
			break
		}
		tx, rej, ok := l.execute(d, fresh, now)
		if !ok {
			report.Rejected = append(report.Rejected, rej)
			continue
		}
		report.Executed = append(report.Executed, tx)
	}

	if len(report.Executed) > 0 {
		if err := l.checkpointLocked(); err != nil {
			l.log.Warn().Err(err).Msg("checkpoint after trade failed")
		}
		report.Valuation = l.ledger.Valuation(prices)
		report.GateState = l.gate.Mark(l.markValue(fresh), now)
	}
	l.ledger.Mark(l.markValue(fresh))

	observ.RecordDuration("decision_cycle", time.Since(start), nil)
	observ.SetGauge("portfolio_valuation", report.Valuation, nil)
	return report
}

// freshPrices drops records the decision engine would treat as stale, so
// exits and the daily loss check never act on an old price.
func (l *Loop) freshPrices(snap signals.Snapshot, now time.Time) map[string]float64 {
	return snap.FreshPrices(now, config.Seconds(l.cfg.Ensemble.PriceFreshnessSeconds))
}

// markValue is the valuation at fresh prices, or 0 when a held position
// has no fresh price.
func (l *Loop) markValue(fresh map[string]float64) float64 {
	for _, p := range l.ledger.Positions() {
		if fresh[p.Symbol] <= 0 {
			return 0
		}
	}
	return l.ledger.Valuation(fresh)
}

func (l *Loop) execute(d decision.TradeDecision, fresh map[string]float64, now time.Time) (portfolio.Transaction, Rejection, bool) {
	rejected := func(rule, reason string) (portfolio.Transaction, Rejection, bool) {
		return portfolio.Transaction{}, Rejection{Symbol: d.Symbol, Action: d.Action, Source: d.Source, Rule: rule, Reason: reason}, false
	}

	acct := risk.Account{
		Cash:       l.ledger.Cash(),
		Value:      l.markValue(fresh),
		HeldShares: l.ledger.Shares(d.Symbol),
	}
	if v := l.gate.Check(d, acct, now); !v.Approved {
		return rejected(v.Rule, v.Reason)
	}
	order, v := l.sizer.Size(d, acct)
	if !v.Approved {
		return rejected(v.Rule, v.Reason)
	}

	orderID := uuid.NewString()
	key := orderID
	if d.Source != decision.SourceEnsemble {
		key = l.exits.Key(d.Symbol, now) + "_" + string(d.Source)
		dup, err := l.journaled(key)
		if err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("journal lookup failed")
		}
		if dup {
			return rejected("duplicate", "exit already journaled today")
		}
	}
	l.journalOrder(orderID, key, order, outbox.StatusApproved, "")

	var (
		tx  portfolio.Transaction
		err error
	)
	switch order.Action {
	case signals.Buy:
		tx, err = l.ledger.Buy(order.Symbol, order.Quantity, order.Price)
	case signals.Sell:
		tx, err = l.ledger.Sell(order.Symbol, order.Quantity, order.Price)
	}
	if err != nil {
		observ.Warn("order_failed", map[string]any{"symbol": order.Symbol, "action": string(order.Action), "quantity": order.Quantity, "error": err})
		l.journalOrder(orderID, key, order, outbox.StatusFailed, err.Error())
		return rejected("ledger", err.Error())
	}
	l.journalFill(orderID, order, tx)

	l.gate.RecordTrade(now)
	observ.IncCounter("orders_executed_total", map[string]string{"action": string(order.Action), "source": string(order.Source)})
	observ.Log("order_executed", map[string]any{
		"run_id":     l.runID,
		"tx_id":      tx.ID,
		"symbol":     tx.Symbol,
		"action":     string(tx.Action),
		"quantity":   tx.Shares,
		"price":      order.Price,
		"confidence": order.Confidence,
		"source":     string(order.Source),
		"cash_after": tx.CashAfter.InexactFloat64(),
	})
	return tx, Rejection{}, true
}

func (l *Loop) journaled(key string) (bool, error) {
	if l.outbox == nil {
		return false, nil
	}
	return l.outbox.HasRecentOrder(key)
}

func (l *Loop) journalOrder(id, key string, order risk.ApprovedOrder, status, reason string) {
	if l.outbox == nil {
		return
	}
	err := l.outbox.WriteOrder(outbox.Order{
		ID:             id,
		RunID:          l.runID,
		Symbol:         order.Symbol,
		Intent:         string(order.Action),
		Quantity:       order.Quantity,
		Price:          order.Price,
		Confidence:     order.Confidence,
		Source:         string(order.Source),
		Timestamp:      order.CreatedAt,
		Status:         status,
		Reason:         reason,
		IdempotencyKey: key,
	})
	if err != nil {
		observ.IncCounter("outbox_write_failures_total", nil)
		l.log.Warn().Err(err).Str("order_id", id).Msg("journal order failed")
	}
}

func (l *Loop) journalFill(orderID string, order risk.ApprovedOrder, tx portfolio.Transaction) {
	if l.outbox == nil {
		return
	}
	err := l.outbox.WriteFill(outbox.Fill{
		OrderID:     orderID,
		TxID:        tx.ID,
		Symbol:      tx.Symbol,
		Side:        string(tx.Action),
		Quantity:    tx.Shares,
		Price:       tx.Price.InexactFloat64(),
		Fees:        tx.Fees.InexactFloat64(),
		RealizedPnL: tx.RealizedPnL.InexactFloat64(),
		CashAfter:   tx.CashAfter.InexactFloat64(),
		Timestamp:   tx.Timestamp,
		LatencyMs:   tx.Timestamp.Sub(order.CreatedAt).Milliseconds(),
	})
	if err != nil {
		observ.IncCounter("outbox_write_failures_total", nil)
		l.log.Warn().Err(err).Str("order_id", orderID).Msg("journal fill failed")
	}
}

// resetDay closes the trading day on the session calendar. It is a no-op
// when a decision cycle already rolled the gate into the new date.
func (l *Loop) resetDay() error {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	now := l.clock()
	l.exits.Forget(now)
	state := l.state.Snapshot()
	snap := l.ledger.Snapshot(state.LatestPrices())
	sum, ok := l.gate.ResetDay(now, l.markValue(l.freshPrices(state, now)))
	if !ok {
		return nil
	}
	observ.Log("session_summary", map[string]any{
		"run_id":       l.runID,
		"date":         sum.Date,
		"trades":       sum.Trades,
		"rejections":   sum.Rejections,
		"daily_return": sum.DailyReturn,
		"final_state":  string(sum.FinalState),
		"valuation":    snap.Valuation,
		"total_return": snap.TotalReturn,
		"positions":    len(snap.Positions),
	})
	return nil
}

// Checkpoint saves the ledger. Without a store it does nothing.
func (l *Loop) Checkpoint() error {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	return l.checkpointLocked()
}

func (l *Loop) checkpointLocked() error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Save(l.ledger.State()); err != nil {
		observ.IncCounter("checkpoint_failures_total", nil)
		return fmt.Errorf("save ledger: %w", err)
	}
	observ.IncCounter("checkpoints_total", nil)
	return nil
}

// restore loads saved state when present. Failures are logged and the run
// continues from initial capital.
func (l *Loop) restore() {
	if l.store == nil {
		return
	}
	st, ok, err := l.store.Load()
	switch {
	case err != nil:
		l.log.Warn().Err(err).Msg("ledger restore failed, starting fresh")
		return
	case !ok:
		l.log.Info().Msg("no saved ledger, starting fresh")
		return
	}
	if err := l.ledger.Restore(st); err != nil {
		l.log.Warn().Err(err).Msg("saved ledger rejected, starting fresh")
		return
	}
	l.log.Info().
		Float64("cash", l.ledger.Cash()).
		Int("positions", len(st.Positions)).
		Int("transactions", len(st.Transactions)).
		Time("saved_at", st.SavedAt).
		Msg("ledger restored")
}

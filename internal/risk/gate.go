// Package risk gates, sizes and exits trades before they reach the ledger.
package risk

import (
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/decision"
	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Limits are fixed for the life of a run.
type Limits struct {
	MaxDailyTrades       int     `json:"max_daily_trades"`
	MaxDailyLossFraction float64 `json:"max_daily_loss_fraction"`
	MaxPositionFraction  float64 `json:"max_position_fraction"`
	MinConfidence        float64 `json:"min_confidence"`
}

// GateState is the per-day trading state.
type GateState string

const (
	StateOpen      GateState = "OPEN"
	StateThrottled GateState = "THROTTLED"
	StateBlocked   GateState = "BLOCKED"
)

const (
	ReasonDailyTradeLimit = "daily trade limit"
	ReasonDailyLossLimit  = "daily loss limit"
	ReasonNoCash          = "insufficient cash"
	ReasonNoPosition      = "no position to sell"
	ReasonOrderTooSmall   = "order value too small"
	ReasonOverSell        = "sell exceeds held shares"
)

// lossEpsilon absorbs float noise when the loss lands exactly on the limit.
const lossEpsilon = 1e-9

// Verdict is the outcome of a risk check. A rejection is a value, not an
// error.
type Verdict struct {
	Approved bool   `json:"approved"`
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func approve() Verdict { return Verdict{Approved: true} }

func reject(rule, reason string) Verdict {
	return Verdict{Rule: rule, Reason: reason}
}

// Account is the portfolio view a check runs against.
type Account struct {
	Cash       float64
	Value      float64 // total valuation at fresh prices; 0 when unknown
	HeldShares int64   // shares of the decision's symbol
}

// DayState is what rules see about the current trading day.
type DayState struct {
	Date        string
	Trades      int
	StartValue  float64
	DailyReturn float64
	Blocked     bool
}

// Rule is one check in the gate. Lower priority runs first.
type Rule interface {
	Name() string
	Priority() int
	Evaluate(d decision.TradeDecision, acct Account, day DayState) (bool, string)
}

// CircuitBreakerRule rejects BUY orders once the day is blocked. SELL
// orders reduce risk and stay allowed.
type CircuitBreakerRule struct{}

func (CircuitBreakerRule) Name() string  { return "circuit_breaker" }
func (CircuitBreakerRule) Priority() int { return 1 }

func (CircuitBreakerRule) Evaluate(d decision.TradeDecision, _ Account, day DayState) (bool, string) {
	if day.Blocked && d.Action == signals.Buy {
		return false, ReasonDailyLossLimit
	}
	return true, ""
}

// TradeLimitRule caps the number of executed trades per day.
type TradeLimitRule struct{ Max int }

func (TradeLimitRule) Name() string  { return "daily_trades" }
func (TradeLimitRule) Priority() int { return 2 }

func (r TradeLimitRule) Evaluate(_ decision.TradeDecision, _ Account, day DayState) (bool, string) {
	if r.Max > 0 && day.Trades >= r.Max {
		return false, ReasonDailyTradeLimit
	}
	return true, ""
}

// AvailabilityRule requires cash for a BUY and a position for a SELL.
type AvailabilityRule struct{}

func (AvailabilityRule) Name() string  { return "availability" }
func (AvailabilityRule) Priority() int { return 3 }

func (AvailabilityRule) Evaluate(d decision.TradeDecision, acct Account, _ DayState) (bool, string) {
	switch d.Action {
	case signals.Buy:
		if acct.Cash < d.Price {
			return false, ReasonNoCash
		}
	case signals.Sell:
		if acct.HeldShares <= 0 {
			return false, ReasonNoPosition
		}
	}
	return true, ""
}

// Gate tracks the trading day and runs its rules in priority order.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	loc    *time.Location
	rules  []Rule

	day        string
	trades     int
	anchored   bool // startValue holds a market valuation
	startValue float64
	lastValue  float64
	blocked    bool
	rejects    map[string]int
}

// NewGate starts the first day at startValue, normally the initial capital.
// A zero startValue leaves the day unanchored until the first positive
// valuation is marked.
func NewGate(limits Limits, loc *time.Location, startValue float64, extra ...Rule) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	rules := append([]Rule{CircuitBreakerRule{}, TradeLimitRule{Max: limits.MaxDailyTrades}, AvailabilityRule{}}, extra...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority() < rules[j].Priority() })
	return &Gate{
		limits:     limits,
		loc:        loc,
		rules:      rules,
		anchored:   startValue > 0,
		startValue: startValue,
		lastValue:  startValue,
		rejects:    make(map[string]int),
	}
}

func (g *Gate) Limits() Limits { return g.limits }

// Check evaluates a decision. A positive acct.Value also refreshes the daily
// return, which may latch the day into BLOCKED.
func (g *Gate) Check(d decision.TradeDecision, acct Account, now time.Time) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollLocked(now, acct.Value)
	g.markLocked(acct.Value)
	day := g.dayLocked()

	for _, r := range g.rules {
		ok, reason := r.Evaluate(d, acct, day)
		if ok {
			continue
		}
		g.rejects[r.Name()]++
		observ.IncCounter("risk_rejections_total", map[string]string{"rule": r.Name(), "action": string(d.Action)})
		observ.Log("risk_rejected", map[string]any{
			"symbol":       d.Symbol,
			"action":       string(d.Action),
			"rule":         r.Name(),
			"reason":       reason,
			"state":        string(g.stateLocked()),
			"daily_return": day.DailyReturn,
			"trades_today": day.Trades,
		})
		return reject(r.Name(), reason)
	}
	return approve()
}

// Mark refreshes the daily return without evaluating a decision. A value of
// zero means the portfolio could not be valued and leaves the day as is.
func (g *Gate) Mark(value float64, now time.Time) GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked(now, value)
	g.markLocked(value)
	return g.stateLocked()
}

// RecordTrade counts an executed order against the day.
func (g *Gate) RecordTrade(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked(now, g.lastValue)
	g.trades++
	observ.SetGauge("risk_trades_today", float64(g.trades), nil)
	if g.limits.MaxDailyTrades > 0 && g.trades == g.limits.MaxDailyTrades {
		observ.Log("risk_state_changed", map[string]any{"state": string(g.stateLocked()), "trades_today": g.trades})
	}
}

// DaySummary describes a trading day at the moment it was closed.
type DaySummary struct {
	Date        string    `json:"date"`
	Trades      int       `json:"trades"`
	StartValue  float64   `json:"start_value"`
	EndValue    float64   `json:"end_value"`
	DailyReturn float64   `json:"daily_return"`
	FinalState  GateState `json:"final_state"`
	Rejections  int       `json:"rejections"`
}

// ResetDay closes the current day and opens a new one starting at value.
// It reports false when the gate already rolled into now's date, in which
// case nothing changes.
func (g *Gate) ResetDay(now time.Time, value float64) (DaySummary, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.day == now.In(g.loc).Format("2006-01-02") {
		return DaySummary{}, false
	}
	end := value
	if end <= 0 {
		end = g.lastValue
	}
	sum := g.summaryLocked(end)
	g.openLocked(now, value)
	return sum, true
}

func (g *Gate) summaryLocked(endValue float64) DaySummary {
	n := 0
	for _, c := range g.rejects {
		n += c
	}
	return DaySummary{
		Date:        g.day,
		Trades:      g.trades,
		StartValue:  g.startValue,
		EndValue:    endValue,
		DailyReturn: g.returnFor(endValue),
		FinalState:  g.stateLocked(),
		Rejections:  n,
	}
}

func (g *Gate) rollLocked(now time.Time, value float64) {
	date := now.In(g.loc).Format("2006-01-02")
	if g.day == "" {
		g.day = date
		return
	}
	if date != g.day {
		sum := g.summaryLocked(g.lastValue)
		observ.Log("risk_day_rollover", map[string]any{"closed": sum.Date, "trades": sum.Trades, "daily_return": sum.DailyReturn, "opened": date})
		g.openLocked(now, value)
	}
}

func (g *Gate) openLocked(now time.Time, value float64) {
	g.day = now.In(g.loc).Format("2006-01-02")
	g.trades = 0
	g.blocked = false
	g.anchored = value > 0
	g.startValue = value
	g.lastValue = value
	g.rejects = make(map[string]int)
	observ.SetGauge("risk_trades_today", 0, nil)
	observ.SetGauge("risk_blocked", 0, nil)
}

func (g *Gate) markLocked(value float64) {
	if value <= 0 {
		return
	}
	if !g.anchored {
		g.anchored = true
		g.startValue = value
		observ.Log("risk_day_anchored", map[string]any{"date": g.day, "start_value": value})
	}
	g.lastValue = value
	ret := g.returnFor(value)
	observ.SetGauge("risk_daily_return", ret, nil)
	if !g.blocked && g.limits.MaxDailyLossFraction > 0 && ret <= -g.limits.MaxDailyLossFraction+lossEpsilon {
		g.blocked = true
		observ.SetGauge("risk_blocked", 1, nil)
		observ.IncCounter("risk_circuit_breaker_trips_total", nil)
		observ.Warn("risk_state_changed", map[string]any{
			"state":        string(StateBlocked),
			"daily_return": ret,
			"limit":        -g.limits.MaxDailyLossFraction,
		})
	}
}

func (g *Gate) returnFor(value float64) float64 {
	if !g.anchored || g.startValue <= 0 || value <= 0 {
		return 0
	}
	return (value - g.startValue) / g.startValue
}

func (g *Gate) stateLocked() GateState {
	switch {
	case g.blocked:
		return StateBlocked
	case g.limits.MaxDailyTrades > 0 && g.trades >= g.limits.MaxDailyTrades:
		return StateThrottled
	default:
		return StateOpen
	}
}

func (g *Gate) dayLocked() DayState {
	return DayState{
		Date:        g.day,
		Trades:      g.trades,
		StartValue:  g.startValue,
		DailyReturn: g.returnFor(g.lastValue),
		Blocked:     g.blocked,
	}
}

// Status is the gate as reported over HTTP.
type Status struct {
	State       GateState      `json:"state"`
	Date        string         `json:"date"`
	Trades      int            `json:"trades_today"`
	MaxTrades   int            `json:"max_daily_trades"`
	StartValue  float64        `json:"start_value"`
	Anchored    bool           `json:"anchored"`
	LastValue   float64        `json:"last_value"`
	DailyReturn float64        `json:"daily_return"`
	LossLimit   float64        `json:"max_daily_loss_fraction"`
	Rejections  map[string]int `json:"rejections"`
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	rej := make(map[string]int, len(g.rejects))
	for k, v := range g.rejects {
		rej[k] = v
	}
	return Status{
		State:       g.stateLocked(),
		Date:        g.day,
		Trades:      g.trades,
		MaxTrades:   g.limits.MaxDailyTrades,
		StartValue:  g.startValue,
		Anchored:    g.anchored,
		LastValue:   g.lastValue,
		DailyReturn: g.returnFor(g.lastValue),
		LossLimit:   g.limits.MaxDailyLossFraction,
		Rejections:  rej,
	}
}

func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

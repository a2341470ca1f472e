package risk

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/decision"
	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/portfolio"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// ExitTrigger records one stop-loss or take-profit firing.
type ExitTrigger struct {
	Symbol    string          `json:"symbol"`
	Kind      decision.Source `json:"kind"`
	AvgCost   float64         `json:"avg_cost"`
	Price     float64         `json:"price"`
	Change    float64         `json:"change"` // fraction vs avg cost
	Triggered time.Time       `json:"triggered"`
}

// ExitMonitor watches held positions for stop-loss and take-profit levels.
// Each symbol fires at most once per trading day.
type ExitMonitor struct {
	mu         sync.Mutex
	stopLoss   float64
	takeProfit float64
	loc        *time.Location
	fired      map[string]ExitTrigger // symbol_date
}

// NewExitMonitor disables a level when its fraction is zero.
func NewExitMonitor(stopLoss, takeProfit float64, loc *time.Location) *ExitMonitor {
	if loc == nil {
		loc = time.UTC
	}
	return &ExitMonitor{
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		loc:        loc,
		fired:      make(map[string]ExitTrigger),
	}
}

// Check returns a full-position SELL decision for every position whose
// latest price crossed a level. Exit decisions carry confidence 1 so they
// are never held back by the confidence floor.
func (m *ExitMonitor) Check(positions []portfolio.Position, prices map[string]float64, now time.Time) []decision.TradeDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []decision.TradeDecision
	for _, p := range positions {
		px := prices[p.Symbol]
		cost := p.AvgCost.InexactFloat64()
		if px <= 0 || cost <= 0 || p.Shares <= 0 {
			continue
		}
		change := (px - cost) / cost

		var kind decision.Source
		switch {
		case m.stopLoss > 0 && change <= -m.stopLoss:
			kind = decision.SourceStopLoss
		case m.takeProfit > 0 && change >= m.takeProfit:
			kind = decision.SourceTakeProfit
		default:
			continue
		}

		key := m.Key(p.Symbol, now)
		if _, ok := m.fired[key]; ok {
			observ.IncCounter("exit_triggers_duplicate_total", map[string]string{"symbol": p.Symbol, "kind": string(kind)})
			continue
		}
		m.fired[key] = ExitTrigger{Symbol: p.Symbol, Kind: kind, AvgCost: cost, Price: px, Change: change, Triggered: now}

		observ.IncCounter("exit_triggers_total", map[string]string{"symbol": p.Symbol, "kind": string(kind)})
		observ.Log("exit_triggered", map[string]any{
			"symbol":   p.Symbol,
			"kind":     string(kind),
			"avg_cost": cost,
			"price":    px,
			"change":   change,
			"shares":   p.Shares,
		})
		out = append(out, decision.TradeDecision{
			Symbol:     p.Symbol,
			Action:     signals.Sell,
			FinalScore: -1,
			Confidence: 1,
			Price:      px,
			Source:     kind,
			CreatedAt:  now,
		})
	}
	return out
}

// Key identifies a symbol's exit for the trading day containing now.
func (m *ExitMonitor) Key(symbol string, now time.Time) string {
	return symbol + "_" + now.In(m.loc).Format("2006-01-02")
}

// Forget drops trigger records from days before now.
func (m *ExitMonitor) Forget(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := now.In(m.loc).Format("2006-01-02")
	for k, t := range m.fired {
		if t.Triggered.In(m.loc).Format("2006-01-02") != today {
			delete(m.fired, k)
		}
	}
}

// Triggers returns the trigger records currently held.
func (m *ExitMonitor) Triggers() []ExitTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExitTrigger, 0, len(m.fired))
	for _, t := range m.fired {
		out = append(out, t)
	}
	return out
}

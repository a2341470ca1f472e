package decision

import (
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Maker evaluates every watched symbol from one SharedState snapshot per
// cycle and remembers the last cycle's results for observability.
type Maker struct {
	state   *signals.SharedState
	cfg     Config
	symbols []string

	mu   sync.RWMutex
	last []TradeDecision
}

func NewMaker(state *signals.SharedState, symbols []string, cfg Config) *Maker {
	s := append([]string(nil), symbols...)
	sort.Strings(s)
	return &Maker{state: state, cfg: cfg, symbols: s}
}

func (m *Maker) Config() Config { return m.cfg }

// Decide runs one cycle and returns only the decisions to forward.
func (m *Maker) Decide(now time.Time) []TradeDecision {
	snap := m.state.Snapshot()
	return m.DecideFrom(snap, now)
}

// DecideFrom evaluates an already-taken snapshot.
func (m *Maker) DecideFrom(snap signals.Snapshot, now time.Time) []TradeDecision {
	all := make([]TradeDecision, 0, len(m.symbols))
	var forward []TradeDecision

	for _, symbol := range m.symbols {
		rec, ok := snap.Prices[symbol]
		if !ok {
			continue
		}
		d, ok := Evaluate(rec, snap.Sentiment, m.cfg, now)
		if !ok {
			observ.IncCounter("decision_stale_skipped_total", map[string]string{"symbol": symbol})
			observ.Log("decision_stale_price", map[string]any{"symbol": symbol, "age": rec.Age(now).String()})
			continue
		}
		all = append(all, d)
		observ.IncCounter("decisions_total", map[string]string{"action": string(d.Action), "forced_hold": boolLabel(d.ForcedHold)})
		if d.ForcedHold {
			observ.Log("decision_forced_hold", map[string]any{"symbol": symbol, "reason": d.ReasonJSON(m.cfg)})
		}
		if d.Actionable() {
			forward = append(forward, d)
		}
	}

	m.mu.Lock()
	m.last = all
	m.mu.Unlock()
	return forward
}

// LastDecisions returns a copy of the previous cycle's evaluated decisions,
// HOLDs included.
func (m *Maker) LastDecisions() []TradeDecision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TradeDecision(nil), m.last...)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

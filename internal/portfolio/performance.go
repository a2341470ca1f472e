package portfolio

import (
	"gonum.org/v1/gonum/stat"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Performance summarises closed trades and the marked equity curve.
type Performance struct {
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	// ProfitFactor is gross wins over gross losses, 0 without losses.
	ProfitFactor float64 `json:"profit_factor"`
	PeakValue    float64 `json:"peak_value"`
	// MaxDrawdown is the deepest fall from a running peak, as a fraction <= 0.
	MaxDrawdown float64 `json:"max_drawdown"`
	Marks       int     `json:"marks"`
}

// equity tracks the running peak and the deepest drawdown of the marked
// portfolio value.
type equity struct {
	Peak        float64 `json:"peak" msgpack:"peak"`
	MaxDrawdown float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	Marks       int     `json:"marks" msgpack:"marks"`
}

func (e *equity) mark(value float64) {
	if value <= 0 {
		return
	}
	e.Marks++
	if value > e.Peak {
		e.Peak = value
		return
	}
	if dd := (value - e.Peak) / e.Peak; dd < e.MaxDrawdown {
		e.MaxDrawdown = dd
	}
}

// Mark records the portfolio value for drawdown tracking. Callers pass a
// valuation at fresh market prices; non-positive values are ignored.
func (l *Ledger) Mark(value float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.equity.mark(value)
}

func (l *Ledger) performanceLocked() Performance {
	var wins, losses []float64
	for _, tx := range l.txs {
		if tx.Action != signals.Sell {
			continue
		}
		pnl := tx.RealizedPnL.InexactFloat64()
		switch {
		case pnl > 0:
			wins = append(wins, pnl)
		case pnl < 0:
			losses = append(losses, -pnl)
		default:
			losses = append(losses, 0)
		}
	}

	p := Performance{
		Wins:        len(wins),
		Losses:      len(losses),
		PeakValue:   l.equity.Peak,
		MaxDrawdown: l.equity.MaxDrawdown,
		Marks:       l.equity.Marks,
	}
	p.ClosedTrades = p.Wins + p.Losses
	if p.ClosedTrades == 0 {
		return p
	}
	p.WinRate = float64(p.Wins) / float64(p.ClosedTrades)
	if len(wins) > 0 {
		p.AvgWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		p.AvgLoss = stat.Mean(losses, nil)
		if gross := p.AvgLoss * float64(len(losses)); gross > 0 {
			p.ProfitFactor = p.AvgWin * float64(len(wins)) / gross
		}
	}
	return p
}

package portfolio

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionView is a position marked to market.
type PositionView struct {
	Symbol        string  `json:"symbol"`
	Shares        int64   `json:"shares"`
	AvgCost       float64 `json:"avg_cost"`
	MarketPrice   float64 `json:"market_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Priced        bool    `json:"priced"` // false when marked at average cost
}

// Snapshot is a read-only copy of the ledger valued at a price map.
type Snapshot struct {
	InitialCapital float64        `json:"initial_capital"`
	Cash           float64        `json:"cash"`
	Positions      []PositionView `json:"positions"`
	Transactions   []Transaction  `json:"transactions"`
	Valuation      float64        `json:"valuation"`
	RealizedPnL    float64        `json:"realized_pnl"`
	UnrealizedPnL  float64        `json:"unrealized_pnl"`
	TotalReturn    float64        `json:"total_return"` // fraction of initial capital
	TradeCount     int            `json:"trade_count"`
	Performance    Performance    `json:"performance"`
	TakenAt        time.Time      `json:"taken_at"`
}

func (l *Ledger) Snapshot(prices map[string]float64) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	views := make([]PositionView, 0, len(l.positions))
	unrealized := decimal.Zero
	for _, p := range l.sortedPositions() {
		px := mark(p, prices[p.Symbol])
		qty := decimal.NewFromInt(p.Shares)
		upnl := px.Sub(p.AvgCost).Mul(qty)
		unrealized = unrealized.Add(upnl)
		views = append(views, PositionView{
			Symbol:        p.Symbol,
			Shares:        p.Shares,
			AvgCost:       p.AvgCost.InexactFloat64(),
			MarketPrice:   px.InexactFloat64(),
			MarketValue:   px.Mul(qty).InexactFloat64(),
			UnrealizedPnL: upnl.InexactFloat64(),
			Priced:        prices[p.Symbol] > 0,
		})
	}

	value := l.valuation(prices)
	ret := 0.0
	if l.initial.IsPositive() {
		ret = value.Sub(l.initial).Div(l.initial).InexactFloat64()
	}
	return Snapshot{
		InitialCapital: l.initial.InexactFloat64(),
		Cash:           l.cash.InexactFloat64(),
		Positions:      views,
		Transactions:   append([]Transaction(nil), l.txs...),
		Valuation:      value.InexactFloat64(),
		RealizedPnL:    l.realized.InexactFloat64(),
		UnrealizedPnL:  unrealized.InexactFloat64(),
		TotalReturn:    ret,
		TradeCount:     len(l.txs),
		Performance:    l.performanceLocked(),
		TakenAt:        l.clock(),
	}
}

// State is the persisted form of the ledger.
type State struct {
	Version        int                 `json:"version" msgpack:"version"`
	SavedAt        time.Time           `json:"saved_at" msgpack:"saved_at"`
	InitialCapital decimal.Decimal     `json:"initial_capital" msgpack:"initial_capital"`
	Cash           decimal.Decimal     `json:"cash" msgpack:"cash"`
	RealizedPnL    decimal.Decimal     `json:"realized_pnl" msgpack:"realized_pnl"`
	Positions      map[string]Position `json:"positions" msgpack:"positions"`
	Transactions   []Transaction       `json:"transactions" msgpack:"transactions"`
	Equity         equity              `json:"equity" msgpack:"equity"`
}

const stateVersion = 1

// State copies the ledger for persistence.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos := make(map[string]Position, len(l.positions))
	for k, v := range l.positions {
		pos[k] = v
	}
	return State{
		Version:        stateVersion,
		SavedAt:        l.clock(),
		InitialCapital: l.initial,
		Cash:           l.cash,
		RealizedPnL:    l.realized,
		Positions:      pos,
		Transactions:   append([]Transaction(nil), l.txs...),
		Equity:         l.equity,
	}
}

// Restore replaces the ledger contents with a previously saved state. A
// state that breaks the cash or share invariants is refused and the
// ledger is left as it was.
func (l *Ledger) Restore(s State) error {
	if s.Version != stateVersion {
		return fmt.Errorf("restore ledger: unsupported state version %d", s.Version)
	}
	if s.Cash.IsNegative() {
		return fmt.Errorf("restore ledger: negative cash %s", s.Cash)
	}
	pos := make(map[string]Position, len(s.Positions))
	for sym, p := range s.Positions {
		if p.Shares <= 0 || !p.AvgCost.IsPositive() {
			return fmt.Errorf("restore ledger: invalid position %s (%d @ %s)", sym, p.Shares, p.AvgCost)
		}
		p.Symbol = sym
		pos[sym] = p
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s.InitialCapital.IsPositive() {
		l.initial = s.InitialCapital
	}
	l.cash = s.Cash
	l.realized = s.RealizedPnL
	l.positions = pos
	l.txs = append([]Transaction(nil), s.Transactions...)
	l.equity = s.Equity
	return nil
}

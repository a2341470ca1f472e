// Package portfolio holds the ledger that owns all capital: cash, open
// positions and the append-only transaction log.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidOrder       = errors.New("invalid order")
)

// LedgerError reports a rejected mutation. The ledger is unchanged when one
// is returned.
type LedgerError struct {
	Op        string // "buy" or "sell"
	Symbol    string
	Requested string
	Available string
	Err       error
}

func (e *LedgerError) Error() string {
	if e.Requested == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s %s: %v (requested %s, available %s)", e.Op, e.Symbol, e.Err, e.Requested, e.Available)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Position is the holding for one symbol. It only exists while Shares > 0.
type Position struct {
	Symbol   string          `json:"symbol" msgpack:"symbol"`
	Shares   int64           `json:"shares" msgpack:"shares"`
	AvgCost  decimal.Decimal `json:"avg_cost" msgpack:"avg_cost"`
	OpenedAt time.Time       `json:"opened_at" msgpack:"opened_at"`
}

// CostBasis is shares times average cost.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Shares))
}

// Transaction is one executed fill. Transactions are never modified.
type Transaction struct {
	ID          string          `json:"id" msgpack:"id"`
	Timestamp   time.Time       `json:"timestamp" msgpack:"timestamp"`
	Symbol      string          `json:"symbol" msgpack:"symbol"`
	Action      signals.Action  `json:"action" msgpack:"action"`
	Shares      int64           `json:"shares" msgpack:"shares"`
	Price       decimal.Decimal `json:"price" msgpack:"price"`
	TotalValue  decimal.Decimal `json:"total_value" msgpack:"total_value"`
	Fees        decimal.Decimal `json:"fees" msgpack:"fees"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" msgpack:"realized_pnl"`
	CashAfter   decimal.Decimal `json:"cash_after" msgpack:"cash_after"`
}

type Config struct {
	InitialCapital float64
	Commission     float64 // fraction of notional
	Slippage       float64 // fraction of notional
	Clock          func() time.Time
}

// Ledger serializes every mutation behind one mutex.
type Ledger struct {
	mu        sync.Mutex
	initial   decimal.Decimal
	cash      decimal.Decimal
	realized  decimal.Decimal
	feeRate   decimal.Decimal
	positions map[string]Position
	txs       []Transaction
	equity    equity
	clock     func() time.Time
}

func NewLedger(cfg Config) *Ledger {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	initial := decimal.NewFromFloat(cfg.InitialCapital)
	return &Ledger{
		initial:   initial,
		cash:      initial,
		feeRate:   decimal.NewFromFloat(cfg.Commission).Add(decimal.NewFromFloat(cfg.Slippage)),
		positions: make(map[string]Position),
		clock:     clock,
	}
}

// Buy debits cash and folds the fill into the position's weighted average
// cost.
func (l *Ledger) Buy(symbol string, quantity int64, price float64) (Transaction, error) {
	if err := validate("buy", symbol, quantity, price); err != nil {
		return Transaction{}, err
	}
	px := decimal.NewFromFloat(price)
	qty := decimal.NewFromInt(quantity)
	gross := px.Mul(qty)
	fees := gross.Mul(l.feeRate)
	need := gross.Add(fees)

	l.mu.Lock()
	defer l.mu.Unlock()

	if need.GreaterThan(l.cash) {
		observ.IncCounter("ledger_rejections_total", map[string]string{"op": "buy", "reason": "insufficient_funds"})
		return Transaction{}, &LedgerError{
			Op: "buy", Symbol: symbol,
			Requested: need.StringFixed(2), Available: l.cash.StringFixed(2),
			Err: ErrInsufficientFunds,
		}
	}

	now := l.clock()
	pos, ok := l.positions[symbol]
	if !ok {
		pos = Position{Symbol: symbol, OpenedAt: now}
	}
	held := decimal.NewFromInt(pos.Shares)
	pos.AvgCost = pos.AvgCost.Mul(held).Add(gross).Div(held.Add(qty))
	pos.Shares += quantity
	l.positions[symbol] = pos
	l.cash = l.cash.Sub(need)

	tx := l.appendTx(now, symbol, signals.Buy, quantity, px, gross, fees, decimal.Zero)
	return tx, nil
}

// Sell credits cash and reduces the position, removing it at zero shares.
// Selling more than is held is rejected, never clamped.
func (l *Ledger) Sell(symbol string, quantity int64, price float64) (Transaction, error) {
	if err := validate("sell", symbol, quantity, price); err != nil {
		return Transaction{}, err
	}
	px := decimal.NewFromFloat(price)
	qty := decimal.NewFromInt(quantity)
	gross := px.Mul(qty)
	fees := gross.Mul(l.feeRate)

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok || quantity > pos.Shares {
		observ.IncCounter("ledger_rejections_total", map[string]string{"op": "sell", "reason": "insufficient_shares"})
		return Transaction{}, &LedgerError{
			Op: "sell", Symbol: symbol,
			Requested: fmt.Sprint(quantity), Available: fmt.Sprint(pos.Shares),
			Err: ErrInsufficientShares,
		}
	}

	pnl := px.Sub(pos.AvgCost).Mul(qty).Sub(fees)
	pos.Shares -= quantity
	if pos.Shares == 0 {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = pos
	}
	l.cash = l.cash.Add(gross).Sub(fees)
	l.realized = l.realized.Add(pnl)

	tx := l.appendTx(l.clock(), symbol, signals.Sell, quantity, px, gross, fees, pnl)
	return tx, nil
}

func (l *Ledger) appendTx(at time.Time, symbol string, action signals.Action, qty int64, px, gross, fees, pnl decimal.Decimal) Transaction {
	tx := Transaction{
		ID:          uuid.NewString(),
		Timestamp:   at,
		Symbol:      symbol,
		Action:      action,
		Shares:      qty,
		Price:       px,
		TotalValue:  gross,
		Fees:        fees,
		RealizedPnL: pnl,
		CashAfter:   l.cash,
	}
	l.txs = append(l.txs, tx)

	observ.IncCounter("ledger_trades_total", map[string]string{"action": string(action), "symbol": symbol})
	observ.SetGauge("ledger_cash", l.cash.InexactFloat64(), nil)
	observ.Log("ledger_fill", map[string]any{
		"tx_id":      tx.ID,
		"symbol":     symbol,
		"action":     string(action),
		"shares":     qty,
		"price":      px.String(),
		"fees":       fees.StringFixed(4),
		"cash_after": l.cash.StringFixed(2),
	})
	return tx
}

func validate(op, symbol string, quantity int64, price float64) error {
	switch {
	case symbol == "":
		return &LedgerError{Op: op, Symbol: symbol, Err: fmt.Errorf("%w: empty symbol", ErrInvalidOrder)}
	case quantity < 1:
		return &LedgerError{Op: op, Symbol: symbol, Err: fmt.Errorf("%w: quantity %d", ErrInvalidOrder, quantity)}
	case !(price > 0):
		return &LedgerError{Op: op, Symbol: symbol, Err: fmt.Errorf("%w: price %v", ErrInvalidOrder, price)}
	}
	return nil
}

func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash.InexactFloat64()
}

func (l *Ledger) InitialCapital() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initial.InexactFloat64()
}

// Shares returns the held quantity for symbol, zero when flat.
func (l *Ledger) Shares(symbol string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[symbol].Shares
}

func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Positions returns open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedPositions()
}

func (l *Ledger) sortedPositions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) TradeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}

// Valuation is cash plus every position marked at its current price, or at
// average cost when no price is known.
func (l *Ledger) Valuation(prices map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.valuation(prices).InexactFloat64()
}

func (l *Ledger) valuation(prices map[string]float64) decimal.Decimal {
	total := l.cash
	for sym, p := range l.positions {
		total = total.Add(mark(p, prices[sym]).Mul(decimal.NewFromInt(p.Shares)))
	}
	return total
}

func mark(p Position, price float64) decimal.Decimal {
	if price > 0 {
		return decimal.NewFromFloat(price)
	}
	return p.AvgCost
}

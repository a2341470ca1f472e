package risk

import (
	"math"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/decision"
	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

const (
	// CashBuffer is the share of cash a single BUY may consume.
	CashBuffer = 0.95
	// ConfidenceScale turns confidence into a size multiplier, capped at 1.
	ConfidenceScale = 1.5
)

// ApprovedOrder is a sized order ready for the ledger.
type ApprovedOrder struct {
	Symbol     string          `json:"symbol"`
	Action     signals.Action  `json:"action"`
	Quantity   int64           `json:"quantity"`
	Price      float64         `json:"price"`
	Confidence float64         `json:"confidence"`
	Source     decision.Source `json:"source"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Notional is quantity times price.
func (o ApprovedOrder) Notional() float64 {
	return float64(o.Quantity) * o.Price
}

// Sizer turns an approved decision into a share quantity.
type Sizer struct {
	MaxPositionFraction float64
}

func NewSizer(limits Limits) Sizer {
	return Sizer{MaxPositionFraction: limits.MaxPositionFraction}
}

// Size returns the order for d, or a rejection when no whole share fits.
func (s Sizer) Size(d decision.TradeDecision, acct Account) (ApprovedOrder, Verdict) {
	if !(d.Price > 0) {
		return ApprovedOrder{}, s.reject(d, ReasonOrderTooSmall)
	}

	var qty int64
	switch d.Action {
	case signals.Buy:
		qty = s.buyQuantity(acct.Cash, d.Confidence, d.Price)
		if qty < 1 {
			return ApprovedOrder{}, s.reject(d, ReasonOrderTooSmall)
		}
	case signals.Sell:
		qty = s.sellQuantity(d, acct.HeldShares)
		if qty < 1 {
			return ApprovedOrder{}, s.reject(d, ReasonNoPosition)
		}
		if qty > acct.HeldShares {
			return ApprovedOrder{}, s.reject(d, ReasonOverSell)
		}
	default:
		return ApprovedOrder{}, s.reject(d, "hold is not an order")
	}

	return ApprovedOrder{
		Symbol:     d.Symbol,
		Action:     d.Action,
		Quantity:   qty,
		Price:      d.Price,
		Confidence: d.Confidence,
		Source:     d.Source,
		CreatedAt:  d.CreatedAt,
	}, approve()
}

func (s Sizer) buyQuantity(cash, confidence, price float64) int64 {
	base := cash * s.MaxPositionFraction
	target := base * math.Min(1, confidence*ConfidenceScale)
	qty := math.Floor(target / price)
	if qty*price > cash*CashBuffer {
		qty = math.Floor(cash * CashBuffer / price)
	}
	return int64(qty)
}

// Exits close the whole position; ensemble sells scale the held shares by
// the same confidence multiplier as buys.
func (s Sizer) sellQuantity(d decision.TradeDecision, held int64) int64 {
	if held <= 0 {
		return 0
	}
	if d.Source == decision.SourceStopLoss || d.Source == decision.SourceTakeProfit {
		return held
	}
	qty := int64(math.Floor(float64(held) * math.Min(1, d.Confidence*ConfidenceScale)))
	if qty < 1 {
		qty = 1
	}
	return qty
}

func (s Sizer) reject(d decision.TradeDecision, reason string) Verdict {
	observ.IncCounter("risk_rejections_total", map[string]string{"rule": "sizer", "action": string(d.Action)})
	observ.Log("risk_rejected", map[string]any{
		"symbol":     d.Symbol,
		"action":     string(d.Action),
		"rule":       "sizer",
		"reason":     reason,
		"confidence": d.Confidence,
		"price":      d.Price,
	})
	return reject("sizer", reason)
}

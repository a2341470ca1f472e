package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Fixed per-signal contributions before weighting.
const (
	TechnicalVote = 0.7
	RLVote        = 0.8
	// sentiment readings are small in practice; doubling spreads them over [-1,1]
	SentimentGain = 2.0
)

type Weights struct {
	Technical float64
	RL        float64
	Sentiment float64
}

type Config struct {
	Weights         Weights
	ActionThreshold float64       // strict: BUY above +t, SELL below -t
	MinConfidence   float64       // below this the decision is forced to HOLD
	PriceFreshness  time.Duration // 0 disables the staleness check
	NewsFreshness   time.Duration // 0 disables the staleness check
}

// DefaultConfig mirrors the production weighting.
func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Technical: 0.6, RL: 0.2, Sentiment: 0.2},
		ActionThreshold: 0.3,
		MinConfidence:   0.5,
	}
}

// Components are the per-signal scores before weighting.
type Components struct {
	Technical float64 `json:"technical"`
	RL        float64 `json:"rl"`
	Sentiment float64 `json:"sentiment"`
	// SentimentUsed is false when the news snapshot was missing or stale
	// and the sentiment weight was redistributed.
	SentimentUsed bool `json:"sentiment_used"`
}

// Source names what produced a decision.
type Source string

const (
	SourceEnsemble   Source = "ensemble"
	SourceStopLoss   Source = "stop_loss"
	SourceTakeProfit Source = "take_profit"
)

type TradeDecision struct {
	Symbol     string         `json:"symbol"`
	Action     signals.Action `json:"action"`
	FinalScore float64        `json:"final_score"`
	Confidence float64        `json:"confidence"`
	Components Components     `json:"components"`
	Price      float64        `json:"price"`
	Source     Source         `json:"source"`
	ForcedHold bool           `json:"forced_hold,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Actionable reports whether the decision should reach the risk gate.
func (d TradeDecision) Actionable() bool {
	return d.Action != signals.Hold
}

// Reason is the explainability record logged with each decision.
type Reason struct {
	FinalScore      float64    `json:"final_score"`
	Components      Components `json:"components"`
	Policy          string     `json:"policy"`
	SentimentSource string     `json:"sentiment_source"`
	WhatWouldChange string     `json:"what_would_change_it,omitempty"`
}

func (d TradeDecision) ReasonJSON(cfg Config) string {
	src := "none"
	if d.Components.SentimentUsed {
		src = "ensemble"
	}
	r := Reason{
		FinalScore:      d.FinalScore,
		Components:      d.Components,
		Policy:          fmt.Sprintf("buy>%.2f; sell<-%.2f; min_conf=%.2f", cfg.ActionThreshold, cfg.ActionThreshold, cfg.MinConfidence),
		SentimentSource: src,
	}
	if d.ForcedHold {
		r.WhatWouldChange = fmt.Sprintf("confidence %.3f below %.2f", d.Confidence, cfg.MinConfidence)
	}
	b, _ := json.Marshal(r)
	return string(b)
}

// Evaluate fuses one symbol's signals. ok is false when the price record is
// stale, in which case the symbol carries no signal this cycle.
func Evaluate(rec signals.PriceRecord, sent signals.SentimentSnapshot, cfg Config, now time.Time) (TradeDecision, bool) {
	if cfg.PriceFreshness > 0 && rec.Age(now) > cfg.PriceFreshness {
		return TradeDecision{}, false
	}

	comp := Components{
		Technical: vote(rec.TechnicalLabel, TechnicalVote),
		RL:        vote(rec.RLAction, RLVote),
	}
	if sentimentUsable(sent, cfg, now) {
		raw, _ := sent.ScoreFor(rec.Symbol)
		comp.Sentiment = clamp(raw * SentimentGain)
		comp.SentimentUsed = true
	}

	final := fuse(comp, cfg.Weights)
	d := TradeDecision{
		Symbol:     rec.Symbol,
		Action:     classify(final, cfg.ActionThreshold),
		FinalScore: final,
		Confidence: math.Abs(final),
		Components: comp,
		Price:      rec.Price,
		Source:     SourceEnsemble,
		CreatedAt:  now,
	}
	if d.Confidence < cfg.MinConfidence && d.Action != signals.Hold {
		d.Action = signals.Hold
		d.ForcedHold = true
	}
	return d, true
}

func vote(a signals.Action, magnitude float64) float64 {
	return float64(a.Score()) * magnitude
}

func sentimentUsable(s signals.SentimentSnapshot, cfg Config, now time.Time) bool {
	if s.IsZero() {
		return false
	}
	return cfg.NewsFreshness <= 0 || now.Sub(s.ObservedAt) <= cfg.NewsFreshness
}

// fuse applies the weights; without sentiment the remaining weights are
// rescaled to sum to one.
func fuse(c Components, w Weights) float64 {
	if !c.SentimentUsed {
		total := w.Technical + w.RL
		if total <= 0 {
			return 0
		}
		return clamp((c.Technical*w.Technical + c.RL*w.RL) / total)
	}
	return clamp(c.Technical*w.Technical + c.RL*w.RL + c.Sentiment*w.Sentiment)
}

func classify(score, threshold float64) signals.Action {
	switch {
	case score > threshold:
		return signals.Buy
	case score < -threshold:
		return signals.Sell
	default:
		return signals.Hold
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

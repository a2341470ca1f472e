// Package signals holds the two signal producers and the shared state they
// write into.
package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action is a discrete trading recommendation.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// ParseAction normalizes free-form labels; anything unknown is HOLD.
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy
	case "SELL":
		return Sell
	default:
		return Hold
	}
}

// Score maps an action onto {-1,0,1}.
func (a Action) Score() int {
	switch a {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// PriceRecord is the merged fast-cadence observation for one symbol.
type PriceRecord struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	TechnicalScore float64   `json:"technical_score"` // [-1,1], signed strength
	TechnicalLabel Action    `json:"technical_label"`
	RLAction       Action    `json:"rl_action"`
	ObservedAt     time.Time `json:"observed_at"`
}

// RLActionScore is the RL recommendation as -1, 0 or 1.
func (r PriceRecord) RLActionScore() int {
	return r.RLAction.Score()
}

// Age reports how old the record is at now.
func (r PriceRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.ObservedAt)
}

// SentimentSnapshot is the slow-cadence news reading. It is replaced as a
// whole each cycle.
type SentimentSnapshot struct {
	GeneralScore float64            `json:"general_score"`
	PerSymbol    map[string]float64 `json:"per_symbol"`
	ArticleCount int                `json:"article_count"`
	ObservedAt   time.Time          `json:"observed_at"`
}

// IsZero reports whether no sentiment has ever been committed.
func (s SentimentSnapshot) IsZero() bool {
	return s.ObservedAt.IsZero()
}

// ScoreFor returns the per-symbol score, or the general score when the
// symbol has no dedicated reading.
func (s SentimentSnapshot) ScoreFor(symbol string) (score float64, perSymbol bool) {
	if v, ok := s.PerSymbol[symbol]; ok {
		return v, true
	}
	return s.GeneralScore, false
}

func (s SentimentSnapshot) clone() SentimentSnapshot {
	out := s
	if s.PerSymbol != nil {
		out.PerSymbol = make(map[string]float64, len(s.PerSymbol))
		for k, v := range s.PerSymbol {
			out.PerSymbol[k] = v
		}
	}
	return out
}

// Article is one news item handed from a NewsProvider to a SentimentAnalyzer.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source"`
	Symbols     []string  `json:"symbols,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Technical is the ActionScorer's indicator verdict.
type Technical struct {
	Label    Action
	Strength float64 // [0,1]
}

// Signed folds the label into the strength, yielding [-1,1].
func (t Technical) Signed() float64 {
	s := t.Strength
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return float64(t.Label.Score()) * s
}

// DataProvider supplies the latest price for a symbol.
type DataProvider interface {
	GetPrice(ctx context.Context, symbol string) (price float64, at time.Time, err error)
}

// HistoryProvider is optionally implemented by a DataProvider that keeps
// its own price series. The producer falls back to its rolling window.
type HistoryProvider interface {
	RecentPrices(symbol string, n int) []float64
}

// ActionScorer turns a price series into technical and RL recommendations.
type ActionScorer interface {
	GetTechnical(ctx context.Context, symbol string, recentPrices []float64) (Technical, error)
	GetRLAction(ctx context.Context, symbol string, features []float64) (Action, error)
}

// NewsProvider returns articles published since the last call.
type NewsProvider interface {
	GetRecentArticles(ctx context.Context) ([]Article, error)
}

// SentimentAnalyzer aggregates articles into a snapshot for the watched symbols.
type SentimentAnalyzer interface {
	Score(ctx context.Context, articles []Article, symbols []string) (SentimentSnapshot, error)
}

// ErrDataUnavailable marks a per-symbol fetch that produced nothing usable.
var ErrDataUnavailable = errors.New("data unavailable")

// ProviderError wraps a collaborator failure with the symbol and stage.
type ProviderError struct {
	Stage  string // "price", "technical", "rl", "news", "sentiment"
	Symbol string
	Cause  error
}

func (e *ProviderError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Symbol, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is lets every ProviderError match ErrDataUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrDataUnavailable
}

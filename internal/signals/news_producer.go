package signals

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/signal-trader/internal/observ"
)

// NewsProducerConfig configures the slow-cadence producer.
type NewsProducerConfig struct {
	Symbols []string
	Period  time.Duration
	// Floor is the minimum spacing between upstream fetches. Period is
	// raised to Floor when shorter.
	Floor time.Duration
	Clock func() time.Time
}

// NewsProducer fetches articles, scores them, and replaces the sentiment
// snapshot in SharedState.
type NewsProducer struct {
	state    *SharedState
	news     NewsProvider
	analyzer SentimentAnalyzer
	symbols  []string
	period   time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewNewsProducer(state *SharedState, news NewsProvider, analyzer SentimentAnalyzer, cfg NewsProducerConfig) *NewsProducer {
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Minute
	}
	if cfg.Period < cfg.Floor {
		cfg.Period = cfg.Floor
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	limit := rate.Inf
	if cfg.Floor > 0 {
		limit = rate.Every(cfg.Floor)
	}
	return &NewsProducer{
		state:    state,
		news:     news,
		analyzer: analyzer,
		symbols:  append([]string(nil), cfg.Symbols...),
		period:   cfg.Period,
		limiter:  rate.NewLimiter(limit, 1),
		now:      cfg.Clock,
	}
}

// Period is the effective cadence after applying the floor.
func (n *NewsProducer) Period() time.Duration { return n.period }

func (n *NewsProducer) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.period)
	defer ticker.Stop()

	for {
		if _, err := n.RunOnce(ctx); err != nil && ctx.Err() == nil {
			observ.Warn("news_cycle_failed", map[string]any{"error": err})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce reports whether a new snapshot was committed. With no fresh
// articles the previous snapshot, and its timestamp, stay in place.
func (n *NewsProducer) RunOnce(ctx context.Context) (bool, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return false, err
	}
	start := time.Now()

	articles, err := n.news.GetRecentArticles(ctx)
	if err != nil {
		observ.IncCounter("news_fetch_errors_total", nil)
		return false, &ProviderError{Stage: "news", Cause: err}
	}
	if len(articles) == 0 {
		observ.IncCounter("news_cycles_empty_total", nil)
		prev := n.state.Sentiment()
		observ.Log("news_no_fresh_articles", map[string]any{"previous_observed_at": prev.ObservedAt})
		return false, nil
	}

	snap, err := n.analyzer.Score(ctx, articles, n.symbols)
	if err != nil {
		observ.IncCounter("sentiment_errors_total", nil)
		return false, &ProviderError{Stage: "sentiment", Cause: err}
	}
	snap = normalize(snap, len(articles), n.now())
	n.state.CommitSentiment(snap)

	observ.RecordDuration("news_cycle", time.Since(start), nil)
	observ.SetGauge("sentiment_general", snap.GeneralScore, nil)
	observ.Log("sentiment_updated", map[string]any{
		"articles": snap.ArticleCount,
		"general":  snap.GeneralScore,
		"symbols":  len(snap.PerSymbol),
	})
	return true, nil
}

func normalize(s SentimentSnapshot, articles int, now time.Time) SentimentSnapshot {
	if s.ObservedAt.IsZero() {
		s.ObservedAt = now
	}
	if s.ArticleCount == 0 {
		s.ArticleCount = articles
	}
	s.GeneralScore = clamp(s.GeneralScore)
	if s.PerSymbol != nil {
		per := make(map[string]float64, len(s.PerSymbol))
		for k, v := range s.PerSymbol {
			per[k] = clamp(v)
		}
		s.PerSymbol = per
	}
	return s
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

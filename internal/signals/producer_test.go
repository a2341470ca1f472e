package signals_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
	"github.com/Rajchodisetti/signal-trader/internal/signals/signalstest"
)

func TestPriceProducer_SkipsFailingSymbolsOnly(t *testing.T) {
	st := signals.NewSharedState()
	data := signalstest.NewData(map[string]float64{"AAPL": 100, "MSFT": 300, "NVDA": 450, "TSLA": 0})
	data.Fail("MSFT", true)
	scorer := signalstest.NewScorer().
		SetTechnical("AAPL", signals.Buy, 0.8).
		SetRL("AAPL", signals.Buy).
		FailRL("NVDA")

	p := signals.NewPriceProducer(st, data, scorer, signals.PriceProducerConfig{
		Symbols: []string{"AAPL", "MSFT", "NVDA", "TSLA", "GONE"},
	})

	n := p.RunOnce(context.Background())
	assert.Equal(t, 1, n)

	snap := st.Snapshot()
	require.Len(t, snap.Prices, 1)
	rec := snap.Prices["AAPL"]
	assert.Equal(t, 100.0, rec.Price)
	assert.Equal(t, signals.Buy, rec.TechnicalLabel)
	assert.Equal(t, 0.8, rec.TechnicalScore)
	assert.Equal(t, 1, rec.RLActionScore())
	assert.False(t, rec.ObservedAt.IsZero())
}

func TestPriceProducer_KeepsRollingHistory(t *testing.T) {
	st := signals.NewSharedState()
	data := signalstest.NewData(map[string]float64{"AAPL": 1})
	scorer := signalstest.NewScorer()
	p := signals.NewPriceProducer(st, data, scorer, signals.PriceProducerConfig{
		Symbols:       []string{"AAPL"},
		HistoryLength: 3,
	})

	for _, px := range []float64{1, 2, 3, 4} {
		data.Set("AAPL", px)
		p.RunOnce(context.Background())
	}
	assert.Equal(t, []float64{2, 3, 4}, scorer.Seen["AAPL"])
}

func TestPriceProducer_FailedScoringLeavesHistoryUntouched(t *testing.T) {
	st := signals.NewSharedState()
	data := signalstest.NewData(map[string]float64{"AAPL": 1})
	scorer := signalstest.NewScorer().FailRL("AAPL")
	p := signals.NewPriceProducer(st, data, scorer, signals.PriceProducerConfig{
		Symbols:       []string{"AAPL"},
		HistoryLength: 5,
	})

	assert.Equal(t, 0, p.RunOnce(context.Background()))
	scorer.Heal("AAPL")
	data.Set("AAPL", 2)
	assert.Equal(t, 1, p.RunOnce(context.Background()))
	assert.Equal(t, []float64{2}, scorer.Seen["AAPL"])
}

type historyData struct {
	*signalstest.Data
	series []float64
}

func (h *historyData) RecentPrices(symbol string, n int) []float64 {
	return h.series
}

func TestPriceProducer_ProviderHistoryBypassesWindow(t *testing.T) {
	st := signals.NewSharedState()
	data := &historyData{Data: signalstest.NewData(map[string]float64{"AAPL": 7}), series: []float64{5, 6, 7}}
	scorer := signalstest.NewScorer()
	p := signals.NewPriceProducer(st, data, scorer, signals.PriceProducerConfig{Symbols: []string{"AAPL"}})

	p.RunOnce(context.Background())
	assert.Equal(t, []float64{5, 6, 7}, scorer.Seen["AAPL"])

	// provider history dries up; the own window starts empty
	data.series = nil
	data.Set("AAPL", 8)
	p.RunOnce(context.Background())
	assert.Equal(t, []float64{8}, scorer.Seen["AAPL"])
}

func TestPriceProducer_UsesProviderTimestamp(t *testing.T) {
	st := signals.NewSharedState()
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	data := signalstest.NewData(map[string]float64{"AAPL": 10})
	data.At = at
	p := signals.NewPriceProducer(st, data, signalstest.NewScorer(), signals.PriceProducerConfig{Symbols: []string{"AAPL"}})

	p.RunOnce(context.Background())
	rec, ok := st.Price("AAPL")
	require.True(t, ok)
	assert.Equal(t, at, rec.ObservedAt)
}

func TestPriceProducer_RunStopsOnCancel(t *testing.T) {
	st := signals.NewSharedState()
	data := signalstest.NewData(map[string]float64{"AAPL": 10})
	p := signals.NewPriceProducer(st, data, signalstest.NewScorer(), signals.PriceProducerConfig{
		Symbols: []string{"AAPL"},
		Period:  5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { _, ok := st.Price("AAPL"); return ok }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer did not stop")
	}
}

func TestReturns(t *testing.T) {
	assert.Nil(t, signals.Returns([]float64{5}))
	assert.InDeltaSlice(t, []float64{0.1, -0.5}, signals.Returns([]float64{10, 11, 5.5}), 1e-12)
}

func TestNewsProducer_ReplacesSnapshot(t *testing.T) {
	st := signals.NewSharedState()
	news := &signalstest.News{}
	news.Push(signals.Article{ID: "1", Title: "AAPL beats"}, signals.Article{ID: "2", Title: "market rally"})
	analyzer := &signalstest.Analyzer{Snapshot: signals.SentimentSnapshot{
		GeneralScore: 0.3,
		PerSymbol:    map[string]float64{"AAPL": 1.7, "MSFT": 0.1},
	}}
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	p := signals.NewNewsProducer(st, news, analyzer, signals.NewsProducerConfig{
		Symbols: []string{"AAPL", "MSFT"},
		Clock:   func() time.Time { return now },
	})
	updated, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, updated)

	s := st.Sentiment()
	assert.Equal(t, 2, s.ArticleCount)
	assert.Equal(t, now, s.ObservedAt)
	assert.Equal(t, 1.0, s.PerSymbol["AAPL"], "scores are clamped")

	// second cycle replaces rather than merges
	news.Push(signals.Article{ID: "3", Title: "NVDA"})
	analyzer.Set(signals.SentimentSnapshot{GeneralScore: -0.2, PerSymbol: map[string]float64{"NVDA": -0.4}})
	_, err = p.RunOnce(context.Background())
	require.NoError(t, err)

	s = st.Sentiment()
	assert.Equal(t, map[string]float64{"NVDA": -0.4}, s.PerSymbol)
	assert.Equal(t, 1, s.ArticleCount)
}

type sharedAnalyzer struct{ per map[string]float64 }

func (a sharedAnalyzer) Score(ctx context.Context, articles []signals.Article, symbols []string) (signals.SentimentSnapshot, error) {
	return signals.SentimentSnapshot{GeneralScore: 0.2, PerSymbol: a.per}, nil
}

func TestNewsProducer_ClampDoesNotTouchAnalyzerMap(t *testing.T) {
	st := signals.NewSharedState()
	news := &signalstest.News{}
	news.Push(signals.Article{ID: "1", Title: "AAPL soars"})
	per := map[string]float64{"AAPL": 1.7}
	p := signals.NewNewsProducer(st, news, sharedAnalyzer{per: per}, signals.NewsProducerConfig{Symbols: []string{"AAPL"}})

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.Sentiment().PerSymbol["AAPL"])
	assert.Equal(t, 1.7, per["AAPL"])
}

func TestNewsProducer_NoArticlesKeepsPreviousTimestamp(t *testing.T) {
	st := signals.NewSharedState()
	prev := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	st.CommitSentiment(signals.SentimentSnapshot{GeneralScore: 0.4, ObservedAt: prev})

	news := &signalstest.News{}
	analyzer := &signalstest.Analyzer{}
	p := signals.NewNewsProducer(st, news, analyzer, signals.NewsProducerConfig{})

	updated, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, 0, analyzer.Calls)
	assert.Equal(t, prev, st.Sentiment().ObservedAt)
	assert.Equal(t, 0.4, st.Sentiment().GeneralScore)
}

func TestNewsProducer_ErrorsAreDataUnavailable(t *testing.T) {
	st := signals.NewSharedState()
	news := &signalstest.News{Err: signalstest.ErrInjected}
	p := signals.NewNewsProducer(st, news, &signalstest.Analyzer{}, signals.NewsProducerConfig{})

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, signals.ErrDataUnavailable))
	assert.True(t, errors.Is(err, signalstest.ErrInjected))
	assert.True(t, st.Sentiment().IsZero())
}

func TestNewsProducer_PeriodNeverBelowFloor(t *testing.T) {
	p := signals.NewNewsProducer(signals.NewSharedState(), &signalstest.News{}, &signalstest.Analyzer{}, signals.NewsProducerConfig{
		Period: time.Minute,
		Floor:  5 * time.Minute,
	})
	assert.Equal(t, 5*time.Minute, p.Period())
}

func TestNewsProducer_FloorThrottlesBackToBackFetches(t *testing.T) {
	news := &signalstest.News{}
	p := signals.NewNewsProducer(signals.NewSharedState(), news, &signalstest.Analyzer{}, signals.NewsProducerConfig{
		Floor: time.Hour,
	})

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.RunOnce(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, news.Calls)
}

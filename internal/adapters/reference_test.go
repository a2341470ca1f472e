package adapters

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

func linear(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func geometric(start, rate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * math.Pow(1+rate, float64(i))
	}
	return out
}

func TestSimDataProvider_DeterministicForSeed(t *testing.T) {
	a := NewSimDataProvider(SimConfig{Seed: 42, Warmup: 60})
	b := NewSimDataProvider(SimConfig{Seed: 42, Warmup: 60})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		pa, _, err := a.GetPrice(ctx, "AAPL")
		require.NoError(t, err)
		pb, _, _ := b.GetPrice(ctx, "aapl")
		assert.Equal(t, pa, pb)
		assert.Greater(t, pa, 0.0)
	}
	assert.Len(t, a.RecentPrices("AAPL", 0), 65)
	assert.Len(t, a.RecentPrices("AAPL", 50), 50)
}

func TestSimDataProvider_Unavailable(t *testing.T) {
	s := NewSimDataProvider(SimConfig{Seed: 1})
	_, _, err := s.GetPrice(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, signals.ErrDataUnavailable))

	s.SetHalted("MSFT", true)
	_, _, err = s.GetPrice(context.Background(), "MSFT")
	assert.True(t, errors.Is(err, signals.ErrDataUnavailable))

	s.AddSymbol("xyz", 10, 0.01)
	p, _, err := s.GetPrice(context.Background(), "XYZ")
	require.NoError(t, err)
	assert.InDelta(t, 10, p, 1)
}

func TestCombine(t *testing.T) {
	for _, tc := range []struct {
		name     string
		votes    []Vote
		label    signals.Action
		strength float64
	}{
		{"no votes", nil, signals.Hold, 0},
		{"one indicator is not enough", []Vote{{"rsi", signals.Buy, 0.8, 25}}, signals.Hold, 0.3},
		{"two agreeing", []Vote{{"rsi", signals.Buy, 0.8, 25}, {"macd", signals.Buy, 0.6, 1}}, signals.Buy, 0.9},
		{"contested", []Vote{
			{"rsi", signals.Buy, 0.8, 25}, {"bbands", signals.Buy, 0.6, 1},
			{"sma", signals.Sell, 0.7, -1}, {"macd", signals.Sell, 0.6, -1},
		}, signals.Buy, 1.4 / 2.8},
		{"sell side", []Vote{{"sma", signals.Sell, 0.7, -1}, {"macd", signals.Sell, 0.6, -1}}, signals.Sell, 0.9},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Combine(tc.votes)
			assert.Equal(t, tc.label, got.Label)
			assert.InDelta(t, tc.strength, got.Strength, 1e-9)
		})
	}
}

func TestVotes_UptrendIsBuy(t *testing.T) {
	prices := geometric(100, 0.01, 60)
	votes := Votes(prices)

	byName := map[string]Vote{}
	for _, v := range votes {
		byName[v.Indicator] = v
	}
	assert.Equal(t, signals.Sell, byName["rsi"].Signal, "an unbroken climb is overbought")
	assert.Equal(t, signals.Buy, byName["macd"].Signal)
	assert.Equal(t, signals.Buy, byName["sma"].Signal)

	tech, err := NewIndicatorScorer(MomentumPolicy{}).GetTechnical(context.Background(), "AAPL", prices)
	require.NoError(t, err)
	assert.Equal(t, signals.Buy, tech.Label)
}

func TestVotes_ShortSeriesAbstains(t *testing.T) {
	assert.Empty(t, Votes(linear(100, 1, 10)))
	assert.Nil(t, Votes(nil))

	_, err := NewIndicatorScorer(MomentumPolicy{}).GetTechnical(context.Background(), "AAPL", nil)
	assert.True(t, errors.Is(err, signals.ErrDataUnavailable))
}

func TestMomentumPolicy(t *testing.T) {
	p := MomentumPolicy{}

	assert.Equal(t, signals.Buy, p.Act(Features(geometric(100, 0.01, 30))))
	assert.Equal(t, signals.Sell, p.Act(Features(geometric(100, -0.01, 30))))
	assert.Equal(t, signals.Hold, p.Act(Features(linear(100, 0, 30))), "flat")
	assert.Equal(t, signals.Hold, p.Act(Features(geometric(100, 0.01, 5))), "too few samples")
	assert.Equal(t, signals.Hold, p.Act(nil))

	f := Features(geometric(100, 0.01, 30))
	require.Len(t, f, featureCount)
	assert.InDelta(t, 0.01, f[FeatMeanReturn], 1e-9)
	assert.Equal(t, 29.0, f[FeatSamples])
	assert.Greater(t, f[FeatZScore], 1.0)

	rl, err := NewIndicatorScorer(p).GetRLAction(context.Background(), "AAPL", f)
	require.NoError(t, err)
	assert.Equal(t, signals.Buy, rl)
}

func TestScoreText(t *testing.T) {
	s := ScoreText("Apple shares surge after record revenue")
	assert.Equal(t, 3, s.Matches)
	assert.InDelta(t, (0.8+0.8+0.3)/3, s.Polarity, 1e-9)
	assert.InDelta(t, 0.3+3.0/20, s.Confidence, 1e-9)

	assert.InDelta(t, 0.6*-0.8, ScoreText("no profit this year").Polarity, 1e-9)
	assert.InDelta(t, 0.7*1.3, ScoreText("Very bullish outlook").Polarity, 1e-9)
	assert.InDelta(t, -1.0, ScoreText("massive crash").Polarity, 1e-9, "clamped")
	assert.Equal(t, TextScore{}, ScoreText("nothing to see"))
}

func TestLexiconAnalyzer_Score(t *testing.T) {
	articles := []signals.Article{
		{Title: "AAPL shares surge after record revenue", Symbols: []string{"AAPL"}},
		{Title: "Regulators open investigation into msft"},
		{Title: "Markets quiet"},
	}
	snap, err := LexiconAnalyzer{}.Score(context.Background(), articles, []string{"AAPL", "MSFT", "NVDA"})
	require.NoError(t, err)

	assert.Equal(t, 3, snap.ArticleCount)
	assert.InDelta(t, (0.8+0.8+0.3)/3, snap.PerSymbol["AAPL"], 1e-9)
	assert.InDelta(t, -0.7, snap.PerSymbol["MSFT"], 1e-9)
	_, ok := snap.PerSymbol["NVDA"]
	assert.False(t, ok, "no coverage leaves the symbol to the general score")

	aapl := ScoreText(articles[0].Title)
	msft := ScoreText(articles[1].Title)
	want := (aapl.Polarity*aapl.Confidence + msft.Polarity*msft.Confidence) / (aapl.Confidence + msft.Confidence)
	assert.InDelta(t, want, snap.GeneralScore, 1e-9)
}

func TestSimNewsProvider_DedupesAndDrains(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := NewSimNewsProvider(SimNewsConfig{Clock: func() time.Time { return now }})
	p.Publish(
		signals.Article{Title: "AAPL beats estimates", Source: "wire"},
		signals.Article{Title: "aapl  BEATS estimates", Source: "Wire"},
		signals.Article{Title: "MSFT misses", Source: "wire"},
	)

	got, err := p.GetRecentArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, now, got[0].PublishedAt)

	got, err = p.GetRecentArticles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	p.Publish(signals.Article{Title: "AAPL beats estimates", Source: "wire"})
	got, _ = p.GetRecentArticles(context.Background())
	assert.Empty(t, got, "repeat inside the retention window")
}

func TestSimNewsProvider_Generates(t *testing.T) {
	p := NewSimNewsProvider(SimNewsConfig{Symbols: []string{"AAPL", "MSFT"}, PerCall: 3, Seed: 9})
	got, err := p.GetRecentArticles(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	for _, a := range got {
		require.Len(t, a.Symbols, 1)
		assert.Contains(t, a.Title, a.Symbols[0])
	}
}

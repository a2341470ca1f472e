package signals_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

func TestSharedState_SnapshotIsDeepCopy(t *testing.T) {
	st := signals.NewSharedState()
	st.CommitPrices([]signals.PriceRecord{{Symbol: "AAPL", Price: 100, ObservedAt: time.Now()}})
	st.CommitSentiment(signals.SentimentSnapshot{PerSymbol: map[string]float64{"AAPL": 0.5}, ObservedAt: time.Now()})

	snap := st.Snapshot()
	snap.Prices["AAPL"] = signals.PriceRecord{Symbol: "AAPL", Price: 1}
	snap.Sentiment.PerSymbol["AAPL"] = -1

	again := st.Snapshot()
	assert.Equal(t, 100.0, again.Prices["AAPL"].Price)
	assert.Equal(t, 0.5, again.Sentiment.PerSymbol["AAPL"])
}

func TestSharedState_CommitPricesKeepsAbsentSymbols(t *testing.T) {
	st := signals.NewSharedState()
	st.CommitPrices([]signals.PriceRecord{{Symbol: "AAPL", Price: 100}, {Symbol: "MSFT", Price: 300}})
	st.CommitPrices([]signals.PriceRecord{{Symbol: "AAPL", Price: 101}})
	st.CommitPrices(nil)

	snap := st.Snapshot()
	assert.Equal(t, 101.0, snap.Prices["AAPL"].Price)
	assert.Equal(t, 300.0, snap.Prices["MSFT"].Price)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, map[string]float64{"AAPL": 101, "MSFT": 300}, snap.LatestPrices())
}

func TestSharedState_CommitSentimentIsolatedFromCaller(t *testing.T) {
	st := signals.NewSharedState()
	per := map[string]float64{"AAPL": 0.2}
	st.CommitSentiment(signals.SentimentSnapshot{PerSymbol: per, ObservedAt: time.Now()})
	per["AAPL"] = 0.9

	assert.Equal(t, 0.2, st.Sentiment().PerSymbol["AAPL"])
}

// Every batch writes the same cycle number into all symbols and the
// sentiment writer stamps its own cycle into every per-symbol score. A
// reader must never see two different cycle numbers from one writer.
func TestSharedState_ConcurrentSnapshotsNeverMixCycles(t *testing.T) {
	st := signals.NewSharedState()
	symbols := []string{"AAPL", "MSFT", "NVDA", "GOOGL"}

	const cycles = 500
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for c := 1; c <= cycles; c++ {
			batch := make([]signals.PriceRecord, 0, len(symbols))
			for _, s := range symbols {
				batch = append(batch, signals.PriceRecord{Symbol: s, Price: float64(c)})
			}
			st.CommitPrices(batch)
		}
	}()
	go func() {
		defer wg.Done()
		for c := 1; c <= cycles; c++ {
			per := map[string]float64{}
			for _, s := range symbols {
				per[s] = float64(c)
			}
			st.CommitSentiment(signals.SentimentSnapshot{GeneralScore: float64(c), PerSymbol: per, ArticleCount: c})
		}
	}()

	done := make(chan struct{})
	var readErr error
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			snap := st.Snapshot()
			var priceCycle float64 = -1
			for _, r := range snap.Prices {
				if priceCycle >= 0 && r.Price != priceCycle {
					readErr = fmt.Errorf("mixed price cycles: %v vs %v", priceCycle, r.Price)
					return
				}
				priceCycle = r.Price
			}
			for _, v := range snap.Sentiment.PerSymbol {
				if v != snap.Sentiment.GeneralScore || int(v) != snap.Sentiment.ArticleCount {
					readErr = fmt.Errorf("mixed sentiment cycles: %v vs %v", v, snap.Sentiment.GeneralScore)
					return
				}
			}
		}
	}()

	wg.Wait()
	<-done
	require.NoError(t, readErr)
}

func TestSentimentSnapshot_ScoreFor(t *testing.T) {
	s := signals.SentimentSnapshot{GeneralScore: 0.1, PerSymbol: map[string]float64{"AAPL": 0.4}}

	v, per := s.ScoreFor("AAPL")
	assert.Equal(t, 0.4, v)
	assert.True(t, per)

	v, per = s.ScoreFor("TSLA")
	assert.Equal(t, 0.1, v)
	assert.False(t, per)
}

func TestTechnical_Signed(t *testing.T) {
	assert.Equal(t, 0.6, signals.Technical{Label: signals.Buy, Strength: 0.6}.Signed())
	assert.Equal(t, -1.0, signals.Technical{Label: signals.Sell, Strength: 3}.Signed())
	assert.Equal(t, 0.0, signals.Technical{Label: signals.Hold, Strength: 0.9}.Signed())
	assert.Equal(t, -1, signals.PriceRecord{RLAction: signals.Sell}.RLActionScore())
}

func TestSnapshot_FreshPricesDropsStaleRecords(t *testing.T) {
	st := signals.NewSharedState()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	st.CommitPrices([]signals.PriceRecord{
		{Symbol: "AAPL", Price: 100, ObservedAt: now.Add(-30 * time.Second)},
		{Symbol: "MSFT", Price: 300, ObservedAt: now.Add(-2 * time.Hour)},
	})
	snap := st.Snapshot()

	assert.Equal(t, map[string]float64{"AAPL": 100}, snap.FreshPrices(now, time.Minute))
	assert.Len(t, snap.FreshPrices(now, 0), 2)
	assert.Len(t, snap.LatestPrices(), 2)
}

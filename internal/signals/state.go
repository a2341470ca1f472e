package signals

import (
	"sync"
	"time"
)

// SharedState is the single rendezvous between the producers and the
// decision chain. Writers build a complete replacement outside the lock and
// swap it in; readers get a deep copy.
type SharedState struct {
	mu        sync.RWMutex
	prices    map[string]PriceRecord
	sentiment SentimentSnapshot
	version   uint64
}

// Snapshot is a consistent point-in-time view of SharedState.
type Snapshot struct {
	Prices    map[string]PriceRecord `json:"prices"`
	Sentiment SentimentSnapshot      `json:"sentiment"`
	Version   uint64                 `json:"version"`
	TakenAt   time.Time              `json:"taken_at"`
}

func NewSharedState() *SharedState {
	return &SharedState{prices: make(map[string]PriceRecord)}
}

// CommitPrices installs a batch of records. Symbols absent from the batch
// keep their previous record.
func (s *SharedState) CommitPrices(batch []PriceRecord) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]PriceRecord, len(s.prices)+len(batch))
	for k, v := range s.prices {
		next[k] = v
	}
	for _, r := range batch {
		next[r.Symbol] = r
	}
	s.prices = next
	s.version++
}

// CommitSentiment replaces the sentiment snapshot wholesale.
func (s *SharedState) CommitSentiment(snap SentimentSnapshot) {
	next := snap.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentiment = next
	s.version++
}

// Sentiment returns a copy of the current sentiment snapshot.
func (s *SharedState) Sentiment() SentimentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sentiment.clone()
}

// Price returns the latest record for one symbol.
func (s *SharedState) Price(symbol string) (PriceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.prices[symbol]
	return r, ok
}

// Snapshot returns a deep copy of both fields taken under one read lock.
func (s *SharedState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prices := make(map[string]PriceRecord, len(s.prices))
	for k, v := range s.prices {
		prices[k] = v
	}
	return Snapshot{
		Prices:    prices,
		Sentiment: s.sentiment.clone(),
		Version:   s.version,
		TakenAt:   time.Now(),
	}
}

// LatestPrices flattens a snapshot into symbol -> price for valuation.
func (s Snapshot) LatestPrices() map[string]float64 {
	out := make(map[string]float64, len(s.Prices))
	for k, v := range s.Prices {
		out[k] = v.Price
	}
	return out
}

// FreshPrices is LatestPrices without the records older than maxAge at
// now. A non-positive maxAge keeps every record.
func (s Snapshot) FreshPrices(now time.Time, maxAge time.Duration) map[string]float64 {
	out := make(map[string]float64, len(s.Prices))
	for k, v := range s.Prices {
		if maxAge > 0 && v.Age(now) > maxAge {
			continue
		}
		out[k] = v.Price
	}
	return out
}

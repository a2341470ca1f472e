// Package signalstest provides in-memory collaborators for tests.
package signalstest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

var ErrInjected = errors.New("injected failure")

// Data is a DataProvider backed by a map.
type Data struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   map[string]bool
	At     time.Time // zero means "let the producer stamp it"
}

func NewData(prices map[string]float64) *Data {
	d := &Data{prices: map[string]float64{}, fail: map[string]bool{}}
	for k, v := range prices {
		d.prices[k] = v
	}
	return d
}

func (d *Data) Set(symbol string, price float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prices[symbol] = price
}

func (d *Data) Fail(symbol string, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[symbol] = fail
}

func (d *Data) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[symbol] {
		return 0, time.Time{}, ErrInjected
	}
	p, ok := d.prices[symbol]
	if !ok {
		return 0, time.Time{}, signals.ErrDataUnavailable
	}
	return p, d.At, nil
}

// Scorer is an ActionScorer with fixed answers per symbol.
type Scorer struct {
	mu        sync.Mutex
	technical map[string]signals.Technical
	rl        map[string]signals.Action
	failTech  map[string]bool
	failRL    map[string]bool
	Seen      map[string][]float64 // last series passed to GetTechnical
}

func NewScorer() *Scorer {
	return &Scorer{
		technical: map[string]signals.Technical{},
		rl:        map[string]signals.Action{},
		failTech:  map[string]bool{},
		failRL:    map[string]bool{},
		Seen:      map[string][]float64{},
	}
}

func (s *Scorer) SetTechnical(symbol string, label signals.Action, strength float64) *Scorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.technical[symbol] = signals.Technical{Label: label, Strength: strength}
	return s
}

func (s *Scorer) SetRL(symbol string, a signals.Action) *Scorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rl[symbol] = a
	return s
}

func (s *Scorer) FailTechnical(symbol string) *Scorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTech[symbol] = true
	return s
}

func (s *Scorer) FailRL(symbol string) *Scorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRL[symbol] = true
	return s
}

// Heal clears injected failures for symbol.
func (s *Scorer) Heal(symbol string) *Scorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failTech, symbol)
	delete(s.failRL, symbol)
	return s
}

func (s *Scorer) GetTechnical(ctx context.Context, symbol string, prices []float64) (signals.Technical, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Seen[symbol] = append([]float64(nil), prices...)
	if s.failTech[symbol] {
		return signals.Technical{}, ErrInjected
	}
	t, ok := s.technical[symbol]
	if !ok {
		return signals.Technical{Label: signals.Hold}, nil
	}
	return t, nil
}

func (s *Scorer) GetRLAction(ctx context.Context, symbol string, features []float64) (signals.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRL[symbol] {
		return signals.Hold, ErrInjected
	}
	a, ok := s.rl[symbol]
	if !ok {
		return signals.Hold, nil
	}
	return a, nil
}

// News hands out queued batches, then empty slices.
type News struct {
	mu      sync.Mutex
	batches [][]signals.Article
	Err     error
	Calls   int
}

func (n *News) Push(articles ...signals.Article) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, articles)
}

func (n *News) GetRecentArticles(ctx context.Context) ([]signals.Article, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Calls++
	if n.Err != nil {
		return nil, n.Err
	}
	if len(n.batches) == 0 {
		return nil, nil
	}
	b := n.batches[0]
	n.batches = n.batches[1:]
	return b, nil
}

// Analyzer returns a fixed snapshot.
type Analyzer struct {
	mu       sync.Mutex
	Snapshot signals.SentimentSnapshot
	Err      error
	Calls    int
}

func (a *Analyzer) Set(s signals.SentimentSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Snapshot = s
}

func (a *Analyzer) Score(ctx context.Context, articles []signals.Article, symbols []string) (signals.SentimentSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls++
	if a.Err != nil {
		return signals.SentimentSnapshot{}, a.Err
	}
	out := a.Snapshot
	out.PerSymbol = make(map[string]float64, len(a.Snapshot.PerSymbol))
	for k, v := range a.Snapshot.PerSymbol {
		out.PerSymbol[k] = v
	}
	return out, nil
}

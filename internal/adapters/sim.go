package adapters

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// SimDataProvider is a random-walk DataProvider that keeps its own price
// history, so indicator scoring has a full window from the first cycle.
type SimDataProvider struct {
	mu      sync.Mutex
	quotes  map[string]*simQuote
	random  *rand.Rand
	histLen int
	clock   func() time.Time
}

type simQuote struct {
	Price      float64
	Volatility float64 // daily, e.g. 0.02 for 2%
	Halted     bool
	History    []float64
}

// SimConfig seeds the simulation. Zero values pick defaults.
type SimConfig struct {
	Seed          int64
	HistoryLength int
	Warmup        int // synthetic ticks generated per symbol at start
	Clock         func() time.Time
}

var simBase = map[string][2]float64{
	"AAPL":  {206.80, 0.025},
	"NVDA":  {450.00, 0.035},
	"BIOX":  {12.50, 0.055},
	"MSFT":  {415.75, 0.022},
	"GOOGL": {172.50, 0.028},
	"AMZN":  {185.20, 0.027},
	"TSLA":  {245.00, 0.045},
	"META":  {505.00, 0.030},
}

func NewSimDataProvider(cfg SimConfig) *SimDataProvider {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = 120
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &SimDataProvider{
		quotes:  make(map[string]*simQuote),
		random:  rand.New(rand.NewSource(cfg.Seed)),
		histLen: cfg.HistoryLength,
		clock:   cfg.Clock,
	}
	for sym, b := range simBase {
		s.quotes[sym] = &simQuote{Price: b[0], Volatility: b[1]}
	}
	for i := 0; i < cfg.Warmup; i++ {
		for _, sym := range s.sortedSymbols() {
			s.step(s.quotes[sym])
		}
	}
	return s
}

// GetPrice advances the walk one tick and returns the new price.
func (s *SimDataProvider) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("sim %s: %w", symbol, signals.ErrDataUnavailable)
	}
	if q.Halted {
		return 0, time.Time{}, fmt.Errorf("sim %s halted: %w", symbol, signals.ErrDataUnavailable)
	}
	return s.step(q), s.clock(), nil
}

// RecentPrices returns up to n of the most recent prices, oldest first.
func (s *SimDataProvider) RecentPrices(symbol string, n int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	h := q.History
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]float64(nil), h...)
}

// AddSymbol registers or replaces a simulated symbol.
func (s *SimDataProvider) AddSymbol(symbol string, price, volatility float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[strings.ToUpper(symbol)] = &simQuote{Price: price, Volatility: volatility}
}

// SetHalted makes GetPrice fail for the symbol until cleared.
func (s *SimDataProvider) SetHalted(symbol string, halted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.quotes[strings.ToUpper(symbol)]; ok {
		q.Halted = halted
	}
}

func (s *SimDataProvider) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedSymbols()
}

func (s *SimDataProvider) sortedSymbols() []string {
	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *SimDataProvider) step(q *simQuote) float64 {
	// daily volatility spread over 390 trading minutes
	move := s.random.NormFloat64() * q.Volatility / math.Sqrt(390)
	q.Price = roundToTick(q.Price*(1+move), tickSize(q.Price))
	if q.Price <= 0 {
		q.Price = tickSize(0)
	}
	q.History = append(q.History, q.Price)
	if len(q.History) > s.histLen {
		q.History = q.History[len(q.History)-s.histLen:]
	}
	return q.Price
}

func tickSize(price float64) float64 {
	if price >= 1.00 {
		return 0.01
	}
	return 0.0001
}

func roundToTick(price, tick float64) float64 {
	return math.Round(price/tick) * tick
}

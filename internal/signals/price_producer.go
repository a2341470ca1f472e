package signals

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/observ"
)

// FeatureFunc derives the RL feature vector from a price series.
type FeatureFunc func(prices []float64) []float64

// PriceProducerConfig configures the fast-cadence producer.
type PriceProducerConfig struct {
	Symbols       []string
	Period        time.Duration
	HistoryLength int
	Features      FeatureFunc
	Clock         func() time.Time
}

// PriceProducer polls prices, scores them, and commits one batch per cycle.
type PriceProducer struct {
	state    *SharedState
	data     DataProvider
	scorer   ActionScorer
	symbols  []string
	period   time.Duration
	histLen  int
	features FeatureFunc
	now      func() time.Time

	mu      sync.Mutex
	history map[string][]float64
}

func NewPriceProducer(state *SharedState, data DataProvider, scorer ActionScorer, cfg PriceProducerConfig) *PriceProducer {
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Second
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = 60
	}
	if cfg.Features == nil {
		cfg.Features = Returns
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &PriceProducer{
		state:    state,
		data:     data,
		scorer:   scorer,
		symbols:  append([]string(nil), cfg.Symbols...),
		period:   cfg.Period,
		histLen:  cfg.HistoryLength,
		features: cfg.Features,
		now:      cfg.Clock,
		history:  make(map[string][]float64),
	}
}

// Run ticks until ctx is cancelled. The first cycle runs immediately.
func (p *PriceProducer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		p.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cycle and returns the number of committed symbols.
func (p *PriceProducer) RunOnce(ctx context.Context) int {
	start := time.Now()
	batch := make([]PriceRecord, 0, len(p.symbols))

	for _, symbol := range p.symbols {
		if ctx.Err() != nil {
			break
		}
		rec, err := p.observe(ctx, symbol)
		if err != nil {
			var pe *ProviderError
			stage := "unknown"
			if errors.As(err, &pe) {
				stage = pe.Stage
			}
			observ.IncCounter("price_symbol_skipped_total", map[string]string{"symbol": symbol, "stage": stage})
			observ.Warn("price_symbol_skipped", map[string]any{"symbol": symbol, "stage": stage, "error": err})
			continue
		}
		batch = append(batch, rec)
	}

	p.state.CommitPrices(batch)
	observ.RecordDuration("price_cycle", time.Since(start), nil)
	observ.SetGauge("price_symbols_committed", float64(len(batch)), nil)
	return len(batch)
}

func (p *PriceProducer) observe(ctx context.Context, symbol string) (PriceRecord, error) {
	price, at, err := p.data.GetPrice(ctx, symbol)
	if err != nil {
		return PriceRecord{}, &ProviderError{Stage: "price", Symbol: symbol, Cause: err}
	}
	if price <= 0 {
		return PriceRecord{}, &ProviderError{Stage: "price", Symbol: symbol, Cause: ErrDataUnavailable}
	}
	if at.IsZero() {
		at = p.now()
	}

	var series []float64
	own := true
	if hp, ok := p.data.(HistoryProvider); ok {
		if h := hp.RecentPrices(symbol, p.histLen); len(h) > 0 {
			series, own = h, false
		}
	}
	if own {
		series = p.window(symbol, price)
	}

	tech, err := p.scorer.GetTechnical(ctx, symbol, series)
	if err != nil {
		return PriceRecord{}, &ProviderError{Stage: "technical", Symbol: symbol, Cause: err}
	}
	rl, err := p.scorer.GetRLAction(ctx, symbol, p.features(series))
	if err != nil {
		return PriceRecord{}, &ProviderError{Stage: "rl", Symbol: symbol, Cause: err}
	}

	if own {
		p.keep(symbol, series)
	}
	return PriceRecord{
		Symbol:         symbol,
		Price:          price,
		TechnicalScore: tech.Signed(),
		TechnicalLabel: tech.Label,
		RLAction:       rl,
		ObservedAt:     at,
	}, nil
}

// window returns the rolling window with price appended, without storing
// it.
func (p *PriceProducer) window(symbol string, price float64) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := append(append([]float64(nil), p.history[symbol]...), price)
	if len(h) > p.histLen {
		h = h[len(h)-p.histLen:]
	}
	return h
}

// keep stores a window once the symbol was scored.
func (p *PriceProducer) keep(symbol string, series []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[symbol] = append([]float64(nil), series...)
}

// Returns is the default feature vector: simple period returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

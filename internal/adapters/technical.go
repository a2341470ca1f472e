package adapters

import (
	"context"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Indicator rule strengths.
const (
	rsiStrength  = 0.8
	macdStrength = 0.6
	maStrength   = 0.7
	bbStrength   = 0.6

	// a side needs more than one strong indicator behind it
	minSideScore  = 1.0
	maxConfidence = 0.9
	holdStrength  = 0.3
)

// Vote is one indicator's opinion on the latest price.
type Vote struct {
	Indicator string         `json:"indicator"`
	Signal    signals.Action `json:"signal"`
	Strength  float64        `json:"strength"`
	Value     float64        `json:"value"`
}

// Votes runs every indicator that has enough history. Indicators without
// a full lookback window are left out.
func Votes(prices []float64) []Vote {
	n := len(prices)
	if n == 0 {
		return nil
	}
	last := prices[n-1]
	var out []Vote

	if n > 14 {
		rsi := talib.Rsi(prices, 14)[n-1]
		switch {
		case rsi < 30:
			out = append(out, Vote{"rsi", signals.Buy, rsiStrength, rsi})
		case rsi > 70:
			out = append(out, Vote{"rsi", signals.Sell, rsiStrength, rsi})
		}
	}

	if n >= 26+9 {
		_, _, hist := talib.Macd(prices, 12, 26, 9)
		h := hist[n-1]
		switch {
		case h > 0:
			out = append(out, Vote{"macd", signals.Buy, macdStrength, h})
		case h < 0:
			out = append(out, Vote{"macd", signals.Sell, macdStrength, h})
		}
	}

	if n >= 50 {
		sma20 := talib.Sma(prices, 20)[n-1]
		sma50 := talib.Sma(prices, 50)[n-1]
		switch {
		case last > sma20 && sma20 > sma50:
			out = append(out, Vote{"sma", signals.Buy, maStrength, sma20 - sma50})
		case last < sma20 && sma20 < sma50:
			out = append(out, Vote{"sma", signals.Sell, maStrength, sma20 - sma50})
		}
	}

	if n >= 20 {
		upper, _, lower := talib.BBands(prices, 20, 2, 2, talib.SMA)
		switch {
		case last < lower[n-1]:
			out = append(out, Vote{"bbands", signals.Buy, bbStrength, lower[n-1]})
		case last > upper[n-1]:
			out = append(out, Vote{"bbands", signals.Sell, bbStrength, upper[n-1]})
		}
	}

	return out
}

// Combine folds indicator votes into a single verdict. A side wins only
// when it outweighs the other and clears minSideScore.
func Combine(votes []Vote) signals.Technical {
	if len(votes) == 0 {
		return signals.Technical{Label: signals.Hold}
	}
	var buy, sell float64
	for _, v := range votes {
		switch v.Signal {
		case signals.Buy:
			buy += v.Strength
		case signals.Sell:
			sell += v.Strength
		}
	}
	switch {
	case buy > sell && buy > minSideScore:
		return signals.Technical{Label: signals.Buy, Strength: math.Min(maxConfidence, buy/(buy+sell+0.1))}
	case sell > buy && sell > minSideScore:
		return signals.Technical{Label: signals.Sell, Strength: math.Min(maxConfidence, sell/(buy+sell+0.1))}
	default:
		return signals.Technical{Label: signals.Hold, Strength: holdStrength}
	}
}

// IndicatorScorer is the reference ActionScorer: TA-Lib indicators for the
// technical slot and a MomentumPolicy for the RL slot.
type IndicatorScorer struct {
	Policy MomentumPolicy
}

func NewIndicatorScorer(policy MomentumPolicy) *IndicatorScorer {
	return &IndicatorScorer{Policy: policy}
}

func (s *IndicatorScorer) GetTechnical(ctx context.Context, symbol string, recentPrices []float64) (signals.Technical, error) {
	if err := ctx.Err(); err != nil {
		return signals.Technical{}, err
	}
	if len(recentPrices) == 0 {
		return signals.Technical{}, signals.ErrDataUnavailable
	}
	return Combine(Votes(recentPrices)), nil
}

func (s *IndicatorScorer) GetRLAction(ctx context.Context, symbol string, features []float64) (signals.Action, error) {
	if err := ctx.Err(); err != nil {
		return signals.Hold, err
	}
	return s.Policy.Act(features), nil
}

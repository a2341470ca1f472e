package adapters

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Feature vector layout produced by Features.
const (
	FeatMeanReturn = iota
	FeatStdReturn
	FeatLastReturn
	FeatZScore
	FeatSamples
	featureCount
)

// Features summarises a price window for the policy: mean and standard
// deviation of period returns, the latest return, the last price's z-score
// within the window and the number of returns used.
func Features(prices []float64) []float64 {
	rets := signals.Returns(prices)
	if len(rets) < 2 {
		return nil
	}
	out := make([]float64, featureCount)
	mean, std := stat.MeanStdDev(rets, nil)
	out[FeatMeanReturn] = mean
	out[FeatStdReturn] = std
	out[FeatLastReturn] = rets[len(rets)-1]
	out[FeatSamples] = float64(len(rets))

	pm, ps := stat.MeanStdDev(prices, nil)
	if ps > 0 {
		out[FeatZScore] = stat.StdScore(prices[len(prices)-1], pm, ps)
	}
	return out
}

// MomentumPolicy stands in for a trained agent. It buys when the mean
// return is significantly positive and the price is not stretched above
// its window, and sells on the mirror condition.
type MomentumPolicy struct {
	TStat  float64 // minimum |t| of the mean return, default 1.5
	MaxZ   float64 // skip entries beyond this z-score, default 2
	MinObs int     // minimum returns required, default 10
}

func (p MomentumPolicy) withDefaults() MomentumPolicy {
	if p.TStat <= 0 {
		p.TStat = 1.5
	}
	if p.MaxZ <= 0 {
		p.MaxZ = 2
	}
	if p.MinObs <= 0 {
		p.MinObs = 10
	}
	return p
}

// Act maps a Features vector to an action. Anything malformed is HOLD.
func (p MomentumPolicy) Act(features []float64) signals.Action {
	p = p.withDefaults()
	if len(features) < featureCount || int(features[FeatSamples]) < p.MinObs {
		return signals.Hold
	}
	mean, std, z := features[FeatMeanReturn], features[FeatStdReturn], features[FeatZScore]
	n := features[FeatSamples]

	var t float64
	switch {
	case std > 0:
		t = mean / (std / math.Sqrt(n))
	case mean > 0:
		t = math.Inf(1)
	case mean < 0:
		t = math.Inf(-1)
	}

	switch {
	case t >= p.TStat && z <= p.MaxZ:
		return signals.Buy
	case t <= -p.TStat && z >= -p.MaxZ:
		return signals.Sell
	default:
		return signals.Hold
	}
}

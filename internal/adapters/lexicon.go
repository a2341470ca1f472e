package adapters

import (
	"context"
	"math"
	"regexp"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

var financialLexicon = map[string]float64{
	"breakthrough": 1.0, "record": 0.8, "beat": 0.7, "beats": 0.7, "surge": 0.8, "surges": 0.8,
	"soar": 0.8, "soars": 0.8, "jump": 0.6, "jumps": 0.6, "rally": 0.7, "boom": 0.8,
	"bullish": 0.7, "upgrade": 0.7, "upgrades": 0.7, "outperform": 0.8,

	"growth": 0.5, "increase": 0.4, "rise": 0.4, "rises": 0.4, "gain": 0.5, "gains": 0.5,
	"profit": 0.6, "revenue": 0.3, "expand": 0.5, "expands": 0.5, "innovation": 0.6,
	"partnership": 0.4, "acquisition": 0.5, "buyback": 0.6,

	"crash": -1.0, "plunge": -0.8, "plunges": -0.8, "collapse": -0.9, "fraud": -0.9,
	"bankrupt": -1.0, "bankruptcy": -1.0, "scandal": -0.8, "investigation": -0.7,
	"bearish": -0.7, "downgrade": -0.7, "downgrades": -0.7, "underperform": -0.8,

	"decline": -0.4, "declines": -0.4, "fall": -0.4, "falls": -0.4, "drop": -0.5, "drops": -0.5,
	"loss": -0.6, "losses": -0.6, "miss": -0.5, "misses": -0.5, "cut": -0.4, "cuts": -0.4,
	"concern": -0.3, "concerns": -0.3, "warning": -0.6, "lawsuit": -0.6, "delay": -0.3,
	"postpone": -0.3,
}

var intensityMultipliers = map[string]float64{
	"very": 1.3, "extremely": 1.5, "highly": 1.2, "significantly": 1.4, "massive": 1.6,
	"huge": 1.4, "major": 1.3, "minor": 0.7, "slightly": 0.6, "somewhat": 0.8, "moderate": 0.9,
}

var negations = map[string]bool{"not": true, "no": true, "never": true, "without": true}

const negationFactor = -0.8

var wordRE = regexp.MustCompile(`[a-z0-9]+`)

// TextScore is the lexicon reading of one piece of text.
type TextScore struct {
	Polarity   float64 // mean of matched word scores, clamped to [-1,1]
	Confidence float64 // grows with matches and their intensity, capped at 1
	Matches    int
}

// ScoreText applies the financial lexicon. A word's score is scaled by an
// intensity word directly before it and flipped by a preceding negation.
func ScoreText(text string) TextScore {
	words := wordRE.FindAllString(strings.ToLower(text), -1)
	var scores []float64
	intensity := 0.0
	for i, w := range words {
		base, ok := financialLexicon[w]
		if !ok {
			continue
		}
		mult := 1.0
		if i > 0 {
			if m, ok := intensityMultipliers[words[i-1]]; ok {
				mult = m
			}
			if negations[words[i-1]] {
				base *= negationFactor
			}
		}
		scores = append(scores, base*mult)
		intensity += math.Abs(mult)
	}
	if len(scores) == 0 {
		return TextScore{}
	}
	return TextScore{
		Polarity:   clampUnit(stat.Mean(scores, nil)),
		Confidence: math.Min(1, float64(len(scores))/10+intensity/20),
		Matches:    len(scores),
	}
}

// LexiconAnalyzer is the reference SentimentAnalyzer. Each symbol's score
// is the confidence-weighted mean over articles that mention it; the
// general score is the same over every article. Symbols without articles
// are left out so readers fall back to the general score.
type LexiconAnalyzer struct{}

func (LexiconAnalyzer) Score(ctx context.Context, articles []signals.Article, symbols []string) (signals.SentimentSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return signals.SentimentSnapshot{}, err
	}

	type reading struct {
		score  TextScore
		lower  string
		tagged map[string]bool
	}
	readings := make([]reading, 0, len(articles))
	var all, allW []float64
	for _, a := range articles {
		text := a.Title
		if a.Summary != "" {
			text += ". " + a.Summary
		}
		r := reading{score: ScoreText(text), lower: strings.ToLower(a.Title), tagged: map[string]bool{}}
		for _, s := range a.Symbols {
			r.tagged[strings.ToUpper(s)] = true
		}
		readings = append(readings, r)
		if r.score.Matches > 0 {
			all = append(all, r.score.Polarity)
			allW = append(allW, r.score.Confidence)
		}
	}

	snap := signals.SentimentSnapshot{
		GeneralScore: weightedMean(all, allW),
		PerSymbol:    make(map[string]float64),
		ArticleCount: len(articles),
	}
	for _, sym := range symbols {
		var xs, ws []float64
		needle := strings.ToLower(sym)
		for _, r := range readings {
			if !r.tagged[strings.ToUpper(sym)] && !containsWord(r.lower, needle) {
				continue
			}
			xs = append(xs, r.score.Polarity)
			ws = append(ws, r.score.Confidence)
		}
		if len(xs) > 0 {
			snap.PerSymbol[sym] = weightedMean(xs, ws)
		}
	}
	return snap, nil
}

// weightedMean falls back to the plain mean when every weight is zero.
func weightedMean(xs, ws []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, w := range ws {
		total += w
	}
	if total == 0 {
		return clampUnit(stat.Mean(xs, nil))
	}
	return clampUnit(stat.Mean(xs, ws))
}

func containsWord(text, word string) bool {
	for _, w := range wordRE.FindAllString(text, -1) {
		if w == word {
			return true
		}
	}
	return false
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

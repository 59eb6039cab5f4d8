package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Indicator names used as weight keys.
const (
	NameTrend      = "trend"
	NameRSI        = "rsi"
	NameMACD       = "macd"
	NameStochastic = "stochastic"
	NameBollinger  = "bollinger"
	NameVolume     = "volume"
)

var knownIndicators = map[string]bool{
	NameTrend: true, NameRSI: true, NameMACD: true,
	NameStochastic: true, NameBollinger: true, NameVolume: true,
}

// ErrInvalidWeights is returned for weight tables that cannot be normalized.
var ErrInvalidWeights = errors.New("strategy: invalid weights")

// Weights maps indicator name to vote weight.
type Weights map[string]float64

// DefaultWeights: trend 0.2, RSI 0.35, MACD 0.15, Stochastic 0.15,
// Bollinger 0.1, volume 0.05. RSI on its own clears DefaultThreshold.
func DefaultWeights() Weights {
	return Weights{
		NameTrend:      0.20,
		NameRSI:        0.35,
		NameMACD:       0.15,
		NameStochastic: 0.15,
		NameBollinger:  0.10,
		NameVolume:     0.05,
	}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	s := 0.0
	for _, v := range w {
		s += v
	}
	return s
}

// Normalize scales the table so it sums to 1. Unknown names, negative or
// non-finite weights and all-zero tables are rejected. Zero weights are
// dropped.
func (w Weights) Normalize() (Weights, error) {
	sum := 0.0
	for name, v := range w {
		if !knownIndicators[name] {
			return nil, fmt.Errorf("%w: unknown indicator %q", ErrInvalidWeights, name)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidWeights, name, v)
		}
		sum += v
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}

	out := make(Weights, len(w))
	for name, v := range w {
		if v > 0 {
			out[name] = v / sum
		}
	}
	return out, nil
}

// names returns the weighted indicator names in a stable order.
func (w Weights) names() []string {
	out := make([]string, 0, len(w))
	for name := range w {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

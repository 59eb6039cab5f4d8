package strategy

import (
	"fmt"
	"math"
	"time"

	"tradebot-v1/internal/indicator"
)

// DefaultThreshold is the activation threshold used when none is configured.
const DefaultThreshold = 0.3

// weightEpsilon absorbs rounding in normalized weight sums.
const weightEpsilon = 1e-9

// Aggregator combines indicator votes with a fixed, normalized weight table.
type Aggregator struct {
	weights Weights
}

// NewAggregator normalizes w and returns an Aggregator over it.
func NewAggregator(w Weights) (*Aggregator, error) {
	norm, err := w.Normalize()
	if err != nil {
		return nil, err
	}
	return &Aggregator{weights: norm}, nil
}

// Weights returns a copy of the normalized weight table.
func (a *Aggregator) Weights() Weights {
	out := make(Weights, len(a.weights))
	for k, v := range a.weights {
		out[k] = v
	}
	return out
}

// Aggregate classifies every weighted indicator and combines the votes.
// BUY wins when buyWeight > sellWeight and buyWeight exceeds threshold; SELL
// is symmetric. Anything else, a tie included, is NEUTRAL.
func (a *Aggregator) Aggregate(symbol string, set indicator.IndicatorSet, threshold float64, now time.Time) Signal {
	sig := Signal{
		Symbol:        symbol,
		Price:         set.Price,
		GeneratedAt:   now,
		Contributions: make([]Contribution, 0, len(a.weights)),
	}

	for _, name := range a.weights.names() {
		w := a.weights[name]
		dir, value := classify(name, set)
		sig.Contributions = append(sig.Contributions, Contribution{
			Name: name, Direction: dir, Weight: w, Value: value,
		})
		switch dir {
		case DirectionBuy:
			sig.BuyWeight += w
		case DirectionSell:
			sig.SellWeight += w
		}
	}

	sig.Confidence = math.Min(1, math.Max(sig.BuyWeight, sig.SellWeight))
	switch {
	case sig.BuyWeight > sig.SellWeight+weightEpsilon && sig.BuyWeight > threshold+weightEpsilon:
		sig.Direction = DirectionBuy
	case sig.SellWeight > sig.BuyWeight+weightEpsilon && sig.SellWeight > threshold+weightEpsilon:
		sig.Direction = DirectionSell
	default:
		sig.Direction = DirectionNeutral
	}
	return sig
}

// String summarizes a signal for logs.
func (s Signal) String() string {
	return fmt.Sprintf("%s %s conf=%.2f buy=%.2f sell=%.2f", s.Symbol, s.Direction, s.Confidence, s.BuyWeight, s.SellWeight)
}

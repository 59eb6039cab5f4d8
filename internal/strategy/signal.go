// Package strategy turns indicator readings into a directional trading signal.
//
// Each indicator casts a BUY, SELL or neutral vote according to its own rule.
// The Aggregator sums the weights of the BUY and SELL voters and activates a
// direction only when it outweighs the other side and reaches the configured
// threshold.
package strategy

import (
	"time"

	"tradebot-v1/internal/model"
)

// Direction is the recommendation of a signal or of a single indicator vote.
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNeutral Direction = "NEUTRAL"
)

// Side maps BUY/SELL to an order side. NEUTRAL reports false.
func (d Direction) Side() (model.Side, bool) {
	switch d {
	case DirectionBuy:
		return model.SideBuy, true
	case DirectionSell:
		return model.SideSell, true
	}
	return "", false
}

// FromSide is the inverse of Side.
func FromSide(s model.Side) Direction {
	if s == model.SideSell {
		return DirectionSell
	}
	return DirectionBuy
}

// Contribution records one indicator's vote.
type Contribution struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Weight    float64   `json:"weight"`
	Value     float64   `json:"value"`
}

// Signal is the per-tick recommendation for one symbol.
type Signal struct {
	Symbol        string         `json:"symbol"`
	Direction     Direction      `json:"direction"`
	Confidence    float64        `json:"confidence"`
	BuyWeight     float64        `json:"buy_weight"`
	SellWeight    float64        `json:"sell_weight"`
	Contributions []Contribution `json:"contributions"`
	Price         float64        `json:"price"`
	Forced        bool           `json:"forced,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// Actionable reports whether the signal asks for an order.
func (s Signal) Actionable() bool {
	return s.Direction == DirectionBuy || s.Direction == DirectionSell
}

// ForcedConfidence is the confidence attached to manual or forced trades.
const ForcedConfidence = 0.9

// Forced builds a signal that bypasses aggregation.
func Forced(symbol string, side model.Side, now time.Time) Signal {
	return Signal{
		Symbol:      symbol,
		Direction:   FromSide(side),
		Confidence:  ForcedConfidence,
		Forced:      true,
		GeneratedAt: now,
	}
}

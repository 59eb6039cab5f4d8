package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-v1/internal/indicator"
	"tradebot-v1/internal/model"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// neutralSet has every indicator inside its neutral zone.
func neutralSet() indicator.IndicatorSet {
	return indicator.IndicatorSet{
		Price:       100,
		PrevClose:   100,
		RSI:         50,
		MACD:        indicator.MACDResult{},
		Stochastic:  indicator.StochasticResult{K: 50, D: 50, PrevK: 50},
		Bollinger:   indicator.Band{Upper: 110, Middle: 100, Lower: 90},
		TrendSMA:    100,
		VolumeRatio: 1,
	}
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, DefaultWeights().Sum(), 1e-12)
}

func TestNormalize(t *testing.T) {
	w, err := Weights{NameRSI: 2, NameMACD: 6, NameTrend: 0}.Normalize()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w.Sum(), 1e-12)
	assert.InDelta(t, 0.25, w[NameRSI], 1e-12)
	assert.InDelta(t, 0.75, w[NameMACD], 1e-12)
	assert.NotContains(t, w, NameTrend)
}

func TestNormalize_Rejects(t *testing.T) {
	cases := map[string]Weights{
		"all zero": {NameRSI: 0, NameMACD: 0},
		"empty":    {},
		"negative": {NameRSI: -1, NameMACD: 2},
		"unknown":  {"ichimoku": 1},
		"nan":      {NameRSI: math.NaN()},
	}
	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := w.Normalize()
			assert.True(t, errors.Is(err, ErrInvalidWeights), "got %v", err)
		})
	}
}

func TestAggregate_AllNeutral(t *testing.T) {
	agg, err := NewAggregator(DefaultWeights())
	require.NoError(t, err)

	sig := agg.Aggregate("BTC-USDT", neutralSet(), DefaultThreshold, now)
	assert.Equal(t, DirectionNeutral, sig.Direction)
	assert.Zero(t, sig.BuyWeight)
	assert.Zero(t, sig.SellWeight)
	assert.Len(t, sig.Contributions, 6)
	assert.False(t, sig.Actionable())
}

func TestAggregate_TieIsNeutral(t *testing.T) {
	agg, err := NewAggregator(Weights{NameRSI: 1, NameBollinger: 1})
	require.NoError(t, err)

	set := neutralSet()
	set.RSI = 20 // BUY
	// Price above the upper band: SELL.
	set.Bollinger = indicator.Band{Upper: 95, Middle: 90, Lower: 85}

	sig := agg.Aggregate("ETH-USDT", set, 0.1, now)
	assert.Equal(t, DirectionNeutral, sig.Direction)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-12)
}

func TestAggregate_BelowThresholdIsNeutral(t *testing.T) {
	agg, err := NewAggregator(DefaultWeights())
	require.NoError(t, err)

	set := neutralSet()
	set.Stochastic = indicator.StochasticResult{K: 15, D: 12, PrevK: 10} // 0.15 on its own

	sig := agg.Aggregate("BTC-USDT", set, DefaultThreshold, now)
	assert.Equal(t, DirectionNeutral, sig.Direction)
	assert.InDelta(t, 0.15, sig.Confidence, 1e-12)

	sig = agg.Aggregate("BTC-USDT", set, 0.1, now)
	assert.Equal(t, DirectionBuy, sig.Direction)
}

// The weight has to exceed the threshold; reaching it is not enough.
func TestAggregate_ThresholdMustBeExceeded(t *testing.T) {
	agg, err := NewAggregator(Weights{NameRSI: 1, NameMACD: 1})
	require.NoError(t, err)

	set := neutralSet()
	set.RSI = 20

	sig := agg.Aggregate("BTC-USDT", set, 0.5, now)
	assert.InDelta(t, 0.5, sig.BuyWeight, 1e-12)
	assert.Equal(t, DirectionNeutral, sig.Direction)

	sig = agg.Aggregate("BTC-USDT", set, 0.49, now)
	assert.Equal(t, DirectionBuy, sig.Direction)

	set.RSI = 80
	sig = agg.Aggregate("BTC-USDT", set, 0.5, now)
	assert.Equal(t, DirectionNeutral, sig.Direction)
	sig = agg.Aggregate("BTC-USDT", set, 0.49, now)
	assert.Equal(t, DirectionSell, sig.Direction)
}

func TestAggregate_Oversold_Buys(t *testing.T) {
	agg, err := NewAggregator(DefaultWeights())
	require.NoError(t, err)

	set := neutralSet()
	set.Price = 101
	set.PrevClose = 99
	set.RSI = 20
	set.TrendSMA = 100
	set.MACD = indicator.MACDResult{Line: 1, Signal: 0.5, Histogram: 0.5}
	set.Stochastic = indicator.StochasticResult{K: 15, D: 12, PrevK: 10}

	sig := agg.Aggregate("BTC-USDT", set, DefaultThreshold, now)
	require.Equal(t, DirectionBuy, sig.Direction)
	assert.InDelta(t, 0.85, sig.BuyWeight, 1e-12)
	assert.GreaterOrEqual(t, sig.Confidence, DefaultWeights()[NameRSI])
	assert.Equal(t, 101.0, sig.Price)

	side, ok := sig.Direction.Side()
	assert.True(t, ok)
	assert.Equal(t, model.SideBuy, side)
}

func TestAggregate_Overbought_Sells(t *testing.T) {
	agg, err := NewAggregator(DefaultWeights())
	require.NoError(t, err)

	set := neutralSet()
	set.Price = 115
	set.PrevClose = 112
	set.RSI = 82
	set.TrendSMA = 120
	set.Bollinger = indicator.Band{Upper: 114, Middle: 105, Lower: 96}
	set.Stochastic = indicator.StochasticResult{K: 85, PrevK: 95}
	set.VolumeRatio = 2

	sig := agg.Aggregate("SOL-USDT", set, DefaultThreshold, now)
	// Volume confirms the up bar; everything else that votes sells.
	assert.Equal(t, DirectionSell, sig.Direction)
	assert.InDelta(t, 0.80, sig.SellWeight, 1e-12)
	assert.InDelta(t, 0.05, sig.BuyWeight, 1e-12)
	assert.InDelta(t, 0.80, sig.Confidence, 1e-12)
}

func decliningCandles(closes []float64) []model.Candle {
	candles := make([]model.Candle, len(closes))
	for i, c := range closes {
		candles[i] = model.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return candles
}

// A sell-off into oversold buys with the default table even though price is
// below its trend and MACD is negative.
func TestAggregate_RSIFallingToOversold(t *testing.T) {
	rally := make([]float64, 0, 40)
	for i := 0; i < 20; i++ {
		rally = append(rally, 100+float64(i)*2)
	}
	for i := 0; i < 20; i++ {
		rally = append(rally, 138-float64(i)*2)
	}
	rsiPeak, err := indicator.RSI(rally[:20], 14)
	require.NoError(t, err)
	require.Greater(t, rsiPeak, RSIOverbought)

	flat := make([]float64, 0, 100)
	for i := 0; i < 86; i++ {
		flat = append(flat, 100)
	}
	for i := 1; i <= 14; i++ {
		flat = append(flat, 100-float64(i))
	}

	agg, err := NewAggregator(DefaultWeights())
	require.NoError(t, err)
	rsiWeight := agg.Weights()[NameRSI]

	for name, closes := range map[string][]float64{"after rally": rally, "after range": flat} {
		t.Run(name, func(t *testing.T) {
			set, err := indicator.Compute(decliningCandles(closes), indicator.DefaultParams())
			require.NoError(t, err)
			require.Less(t, set.RSI, RSIOversold)
			require.Less(t, set.Price, set.TrendSMA)
			require.Less(t, set.MACD.Histogram, 0.0)

			sig := agg.Aggregate("BTC-USDT", set, DefaultThreshold, now)
			assert.Equal(t, DirectionBuy, sig.Direction, sig.String())
			assert.GreaterOrEqual(t, sig.Confidence, rsiWeight)
			assert.Zero(t, sig.SellWeight)
		})
	}
}

func TestAggregate_ConfidenceBounded(t *testing.T) {
	agg, err := NewAggregator(DefaultWeights())
	require.NoError(t, err)

	set := neutralSet()
	set.Price = 80
	set.PrevClose = 75
	set.RSI = 10
	set.TrendSMA = 70
	set.MACD = indicator.MACDResult{Line: 2, Signal: 1, Histogram: 1}
	set.Stochastic = indicator.StochasticResult{K: 15, PrevK: 10}
	set.VolumeRatio = 3

	sig := agg.Aggregate("DOGE-USDT", set, DefaultThreshold, now)
	assert.Equal(t, DirectionBuy, sig.Direction)
	assert.InDelta(t, 1.0, sig.BuyWeight, 1e-12)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
	assert.Zero(t, sig.SellWeight)
}

func TestRules(t *testing.T) {
	assert.Equal(t, DirectionNeutral, classifyRSI(30))
	assert.Equal(t, DirectionNeutral, classifyRSI(70))
	assert.Equal(t, DirectionBuy, classifyRSI(29.9))
	assert.Equal(t, DirectionSell, classifyRSI(70.1))

	assert.Equal(t, DirectionNeutral, classifyStochastic(indicator.StochasticResult{K: 15, PrevK: 18}))
	assert.Equal(t, DirectionBuy, classifyStochastic(indicator.StochasticResult{K: 15, PrevK: 10}))
	assert.Equal(t, DirectionSell, classifyStochastic(indicator.StochasticResult{K: 90, PrevK: 95}))

	assert.Equal(t, DirectionNeutral, classifyVolume(1.5, 101, 100))
	assert.Equal(t, DirectionBuy, classifyVolume(1.6, 101, 100))
	assert.Equal(t, DirectionSell, classifyVolume(1.6, 99, 100))

	assert.Equal(t, DirectionNeutral, classifyMACD(indicator.MACDResult{Line: 1, Signal: 2, Histogram: 1}))
}

func TestGateMomentum(t *testing.T) {
	cases := []struct {
		dir  Direction
		rsi  float64
		want Direction
	}{
		{DirectionSell, 55, DirectionSell},
		{DirectionSell, 40.1, DirectionSell},
		{DirectionSell, 40, DirectionNeutral},
		{DirectionSell, 12, DirectionNeutral},
		{DirectionBuy, 45, DirectionBuy},
		{DirectionBuy, 59.9, DirectionBuy},
		{DirectionBuy, 60, DirectionNeutral},
		{DirectionBuy, 85, DirectionNeutral},
		{DirectionNeutral, 50, DirectionNeutral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, gateMomentum(tc.dir, tc.rsi), "%s at rsi %v", tc.dir, tc.rsi)
	}

	set := neutralSet()
	set.RSI = 25
	set.TrendSMA = 110
	dir, _ := classify(NameTrend, set)
	assert.Equal(t, DirectionNeutral, dir)
	set.RSI = 50
	dir, _ = classify(NameTrend, set)
	assert.Equal(t, DirectionSell, dir)
}

func TestForced(t *testing.T) {
	sig := Forced("XRP-USDT", model.SideSell, now)
	assert.Equal(t, DirectionSell, sig.Direction)
	assert.Equal(t, ForcedConfidence, sig.Confidence)
	assert.True(t, sig.Forced)
	assert.True(t, sig.Actionable())
}

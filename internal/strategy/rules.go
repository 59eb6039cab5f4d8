package strategy

import "tradebot-v1/internal/indicator"

// Classification thresholds.
const (
	RSIOversold         = 30.0
	RSIOverbought       = 70.0
	StochOversold       = 20.0
	StochOverbought     = 80.0
	VolumeConfirmFactor = 1.5

	// Trend-following votes need this much RSI headroom: no trend BUY at
	// RSI >= 60, no trend SELL at RSI <= 40.
	RSIMomentumMargin = 10.0
)

// classify returns the vote of one indicator and the value it was based on.
func classify(name string, set indicator.IndicatorSet) (Direction, float64) {
	switch name {
	case NameTrend:
		return gateMomentum(classifyTrend(set.Price, set.TrendSMA), set.RSI), set.TrendSMA
	case NameRSI:
		return classifyRSI(set.RSI), set.RSI
	case NameMACD:
		return gateMomentum(classifyMACD(set.MACD), set.RSI), set.MACD.Histogram
	case NameStochastic:
		return classifyStochastic(set.Stochastic), set.Stochastic.K
	case NameBollinger:
		return classifyBollinger(set.Price, set.Bollinger), set.Price
	case NameVolume:
		return classifyVolume(set.VolumeRatio, set.Price, set.PrevClose), set.VolumeRatio
	}
	return DirectionNeutral, 0
}

func classifyTrend(price, sma float64) Direction {
	switch {
	case price > sma:
		return DirectionBuy
	case price < sma:
		return DirectionSell
	}
	return DirectionNeutral
}

// gateMomentum drops a trend-following vote once RSI shows the move is
// exhausted, so a sell-off into oversold does not keep voting SELL.
func gateMomentum(dir Direction, rsi float64) Direction {
	switch {
	case dir == DirectionBuy && rsi >= RSIOverbought-RSIMomentumMargin:
		return DirectionNeutral
	case dir == DirectionSell && rsi <= RSIOversold+RSIMomentumMargin:
		return DirectionNeutral
	}
	return dir
}

func classifyRSI(rsi float64) Direction {
	switch {
	case rsi < RSIOversold:
		return DirectionBuy
	case rsi > RSIOverbought:
		return DirectionSell
	}
	return DirectionNeutral
}

func classifyMACD(m indicator.MACDResult) Direction {
	switch {
	case m.Histogram > 0 && m.Line > m.Signal:
		return DirectionBuy
	case m.Histogram < 0 && m.Line < m.Signal:
		return DirectionSell
	}
	return DirectionNeutral
}

// %K below 20 and rising buys; above 80 and falling sells.
func classifyStochastic(s indicator.StochasticResult) Direction {
	switch {
	case s.K < StochOversold && s.K > s.PrevK:
		return DirectionBuy
	case s.K > StochOverbought && s.K < s.PrevK:
		return DirectionSell
	}
	return DirectionNeutral
}

func classifyBollinger(price float64, b indicator.Band) Direction {
	switch {
	case price < b.Lower:
		return DirectionBuy
	case price > b.Upper:
		return DirectionSell
	}
	return DirectionNeutral
}

// High volume confirms the direction of the last bar.
func classifyVolume(ratio, price, prevClose float64) Direction {
	if ratio <= VolumeConfirmFactor {
		return DirectionNeutral
	}
	switch {
	case price > prevClose:
		return DirectionBuy
	case price < prevClose:
		return DirectionSell
	}
	return DirectionNeutral
}

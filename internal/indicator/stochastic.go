package indicator

import "tradebot-v1/internal/model"

// StochasticResult holds %K, its SMA %D and the previous %K (for the
// rising/falling test).
type StochasticResult struct {
	K     float64 `json:"k"`
	D     float64 `json:"d"`
	PrevK float64 `json:"prev_k"`
}

// Stochastic computes %K over kPeriod candles at each of the last
// max(dPeriod, 2) positions; %D is the mean of the last dPeriod %K values.
func Stochastic(candles []model.Candle, kPeriod, dPeriod int) (StochasticResult, error) {
	if kPeriod <= 0 || dPeriod <= 0 {
		return StochasticResult{}, insufficient("Stochastic", 1, len(candles))
	}
	history := max(dPeriod, 2)
	need := kPeriod + history - 1
	if len(candles) < need {
		return StochasticResult{}, insufficient("Stochastic", need, len(candles))
	}

	ks := make([]float64, history)
	n := len(candles)
	for j := 0; j < history; j++ {
		end := n - history + j // inclusive index of the window's last candle
		ks[j] = percentK(candles[end-kPeriod+1 : end+1])
	}

	d := 0.0
	for _, k := range ks[history-dPeriod:] {
		d += k
	}
	return StochasticResult{
		K:     ks[history-1],
		D:     d / float64(dPeriod),
		PrevK: ks[history-2],
	}, nil
}

// percentK is (close - lowestLow) / (highestHigh - lowestLow) * 100 over the
// window. A flat window reads 50.
func percentK(window []model.Candle) float64 {
	lowest, highest := window[0].Low, window[0].High
	for _, c := range window[1:] {
		lowest = min(lowest, c.Low)
		highest = max(highest, c.High)
	}
	if highest == lowest {
		return 50
	}
	return (window[len(window)-1].Close - lowest) / (highest - lowest) * 100
}

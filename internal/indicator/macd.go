package indicator

import "fmt"

// MACDResult is the MACD line, its signal line and their difference.
type MACDResult struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes EMA(fast) - EMA(slow) over the trailing history and a signal
// line that is a true EMA of that MACD series.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || signal <= 0 || fast >= slow {
		return MACDResult{}, fmt.Errorf("indicator: MACD periods fast=%d slow=%d signal=%d", fast, slow, signal)
	}
	if need := slow + signal - 1; len(closes) < need {
		return MACDResult{}, insufficient("MACD", need, len(closes))
	}

	line, err := MACDSeries(closes, fast, slow)
	if err != nil {
		return MACDResult{}, err
	}
	sig, err := EMA(line, signal)
	if err != nil {
		return MACDResult{}, err
	}

	last := line[len(line)-1]
	return MACDResult{Line: last, Signal: sig, Histogram: last - sig}, nil
}

// MACDSeries returns the MACD line at every position from slow-1 onward.
func MACDSeries(closes []float64, fast, slow int) ([]float64, error) {
	fastEMA, err := EMASeries(closes, fast)
	if err != nil {
		return nil, err
	}
	slowEMA, err := EMASeries(closes, slow)
	if err != nil {
		return nil, err
	}

	// fastEMA starts at fast-1, slowEMA at slow-1
	offset := slow - fast
	out := make([]float64, len(slowEMA))
	for i := range slowEMA {
		out[i] = fastEMA[i+offset] - slowEMA[i]
	}
	return out, nil
}

package indicator

import "math"

// Band is one Bollinger triple.
type Band struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// BollingerSeries returns SMA(period) ± k·σ (population) at every window
// position from period-1 onward.
func BollingerSeries(closes []float64, period int, k float64) ([]Band, error) {
	if period <= 0 || len(closes) < period {
		return nil, insufficient("Bollinger", max(period, 1), len(closes))
	}

	out := make([]Band, 0, len(closes)-period+1)
	for end := period; end <= len(closes); end++ {
		window := closes[end-period : end]

		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)

		variance := 0.0
		for _, v := range window {
			variance += (v - mean) * (v - mean)
		}
		sd := math.Sqrt(variance / float64(period))

		out = append(out, Band{Upper: mean + k*sd, Middle: mean, Lower: mean - k*sd})
	}
	return out, nil
}

// Bollinger returns the band for the newest position.
func Bollinger(closes []float64, period int, k float64) (Band, error) {
	series, err := BollingerSeries(closes, period, k)
	if err != nil {
		return Band{}, err
	}
	return series[len(series)-1], nil
}

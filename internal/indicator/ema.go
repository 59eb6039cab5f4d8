package indicator

// emaState is an exponential moving average seeded with the SMA of its first
// period values. O(1) per update.
type emaState struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

func newEMAState(period int) *emaState {
	return &emaState{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *emaState) add(v float64) {
	e.count++
	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	// EMA = price*α + EMA_prev*(1-α)
	e.current = v*e.multiplier + e.current*(1-e.multiplier)
}

func (e *emaState) ready() bool { return e.count >= e.period }

// EMASeries returns the EMA at every position from period-1 onward. The first
// value is the SMA of the first period values.
func EMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, insufficient("EMA", max(period, 1), len(values))
	}
	e := newEMAState(period)
	out := make([]float64, 0, len(values)-period+1)
	for _, v := range values {
		e.add(v)
		if e.ready() {
			out = append(out, e.current)
		}
	}
	return out, nil
}

// EMA returns the EMA of the newest value.
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

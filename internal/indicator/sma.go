package indicator

// smaWindow is a rolling simple average over a preallocated circular buffer.
type smaWindow struct {
	period int
	buf    []float64
	idx    int // current write position
	count  int // total values received
	sum    float64
}

func newSMAWindow(period int) *smaWindow {
	return &smaWindow{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *smaWindow) add(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
}

func (s *smaWindow) ready() bool    { return s.count >= s.period }
func (s *smaWindow) value() float64 { return s.sum / float64(s.period) }

// SMA is the mean of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, insufficient("SMA", 1, len(values))
	}
	if len(values) < period {
		return 0, insufficient("SMA", period, len(values))
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// SMASeries returns one rolling mean per window position from period-1 onward.
func SMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, insufficient("SMA", max(period, 1), len(values))
	}
	w := newSMAWindow(period)
	out := make([]float64, 0, len(values)-period+1)
	for _, v := range values {
		w.add(v)
		if w.ready() {
			out = append(out, w.value())
		}
	}
	return out, nil
}

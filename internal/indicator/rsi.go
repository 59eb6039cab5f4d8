package indicator

// RSI is the Relative Strength Index over the last period close-to-close
// differences, using simple averages of gains and losses. A window with no
// losses yields 100.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period+1 {
		return 0, insufficient("RSI", max(period, 1)+1, len(closes))
	}

	var gains, losses float64
	n := len(closes)
	for i := n - period; i < n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

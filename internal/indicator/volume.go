package indicator

// VolumeRatio is the newest volume divided by the mean of the last period
// volumes. Zero average volume reads 0.
func VolumeRatio(volumes []float64, period int) (float64, error) {
	avg, err := SMA(volumes, period)
	if err != nil {
		return 0, err
	}
	if avg == 0 {
		return 0, nil
	}
	return volumes[len(volumes)-1] / avg, nil
}

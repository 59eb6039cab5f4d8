// Package indicator provides technical indicator calculations over candle data.
//
// Every function is pure over the window it is given: nothing is carried
// between calls. A window too short for an indicator yields an error wrapping
// ErrInsufficientData, never a default value.
package indicator

import (
	"errors"
	"fmt"

	"tradebot-v1/internal/model"
)

// ErrInsufficientData is returned when a window is shorter than an indicator's
// lookback. Callers skip the symbol for this tick.
var ErrInsufficientData = errors.New("indicator: insufficient data")

func insufficient(name string, need, have int) error {
	return fmt.Errorf("%w: %s needs %d values, got %d", ErrInsufficientData, name, need, have)
}

// Params configures the indicator periods used by Compute.
type Params struct {
	RSIPeriod    int     `yaml:"rsi_period" json:"rsi_period"`
	MACDFast     int     `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow     int     `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal   int     `yaml:"macd_signal" json:"macd_signal"`
	StochK       int     `yaml:"stoch_k" json:"stoch_k"`
	StochD       int     `yaml:"stoch_d" json:"stoch_d"`
	BollPeriod   int     `yaml:"boll_period" json:"boll_period"`
	BollK        float64 `yaml:"boll_k" json:"boll_k"`
	TrendPeriod  int     `yaml:"trend_period" json:"trend_period"`
	VolumePeriod int     `yaml:"volume_period" json:"volume_period"`
}

// DefaultParams returns RSI 14, MACD 12/26/9, Stochastic 14/3, Bollinger 20/2,
// trend SMA 20 and a 20-bar volume average.
func DefaultParams() Params {
	return Params{
		RSIPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		StochK:       14,
		StochD:       3,
		BollPeriod:   20,
		BollK:        2,
		TrendPeriod:  20,
		VolumePeriod: 20,
	}
}

// MinCandles is the shortest window for which Compute succeeds.
func (p Params) MinCandles() int {
	need := p.RSIPeriod + 1
	need = max(need, p.MACDSlow+p.MACDSignal-1)
	need = max(need, p.StochK+max(p.StochD, 2)-1)
	need = max(need, p.BollPeriod)
	need = max(need, p.TrendPeriod)
	need = max(need, p.VolumePeriod)
	return need
}

// IndicatorSet is every indicator value for the newest candle of a window.
type IndicatorSet struct {
	Price       float64          `json:"price"`
	PrevClose   float64          `json:"prev_close"`
	RSI         float64          `json:"rsi"`
	MACD        MACDResult       `json:"macd"`
	Stochastic  StochasticResult `json:"stochastic"`
	Bollinger   Band             `json:"bollinger"`
	TrendSMA    float64          `json:"trend_sma"`
	VolumeRatio float64          `json:"volume_ratio"`
}

// Compute derives the full IndicatorSet from a candle window.
func Compute(candles []model.Candle, p Params) (IndicatorSet, error) {
	if need := p.MinCandles(); len(candles) < need {
		return IndicatorSet{}, insufficient("indicator set", need, len(candles))
	}

	closes := model.Closes(candles)
	var (
		set IndicatorSet
		err error
	)
	set.Price = closes[len(closes)-1]
	set.PrevClose = closes[len(closes)-2]

	if set.RSI, err = RSI(closes, p.RSIPeriod); err != nil {
		return IndicatorSet{}, err
	}
	if set.MACD, err = MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal); err != nil {
		return IndicatorSet{}, err
	}
	if set.Stochastic, err = Stochastic(candles, p.StochK, p.StochD); err != nil {
		return IndicatorSet{}, err
	}
	if set.Bollinger, err = Bollinger(closes, p.BollPeriod, p.BollK); err != nil {
		return IndicatorSet{}, err
	}
	if set.TrendSMA, err = SMA(closes, p.TrendPeriod); err != nil {
		return IndicatorSet{}, err
	}
	if set.VolumeRatio, err = VolumeRatio(model.Volumes(candles), p.VolumePeriod); err != nil {
		return IndicatorSet{}, err
	}
	return set, nil
}

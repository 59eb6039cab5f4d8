package indicator

import (
	"errors"
	"math"
	"testing"

	"tradebot-v1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 10}
}

func flatCandle(close float64) model.Candle {
	return model.Candle{Open: close, High: close, Low: close, Close: close, Volume: 10}
}

func candles(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle(c)
	}
	return out
}

// wave is a deterministic non-degenerate series.
func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i%7)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA / EMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// windows: (100+102+104)/3=102, (102+104+103)/3=103, (104+103+105)/3=104
	prices := []float64{100, 102, 104, 103, 105}

	got, err := SMA(prices, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "SMA(3)", got, 104, 1e-9)

	series, err := SMASeries(prices, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{102, 103, 104}
	if len(series) != len(want) {
		t.Fatalf("series len=%d, want %d", len(series), len(want))
	}
	for i := range want {
		assertClose(t, "SMASeries", series[i], want[i], 1e-9)
	}
}

func TestSMA_InsufficientData(t *testing.T) {
	_, err := SMA([]float64{1, 2}, 3)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestEMA_SeededWithSMA(t *testing.T) {
	// EMA(3), α = 0.5
	// seed = (10+11+12)/3 = 11
	// 13*0.5 + 11*0.5 = 12
	// 14*0.5 + 12*0.5 = 13
	series, err := EMASeries([]float64{10, 11, 12, 13, 14}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{11, 12, 13}
	for i := range want {
		assertClose(t, "EMA(3)", series[i], want[i], 1e-9)
	}
}

func TestEMA_InsufficientData(t *testing.T) {
	if _, err := EMA([]float64{1, 2, 3}, 5); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_HandCalculated(t *testing.T) {
	// diffs: +2, -1, +2, +2 → avgGain 1.5, avgLoss 0.25, RS 6
	// RSI = 100 - 100/7 = 85.714286
	got, err := RSI([]float64{10, 12, 11, 13, 15}, 4)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "RSI(4)", got, 100-100.0/7, 1e-6)
}

func TestRSI_UsesOnlyLastPeriodDiffs(t *testing.T) {
	// A large early drop must not affect RSI(2) over the last two diffs.
	got, err := RSI([]float64{100, 10, 11, 12}, 2)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "RSI(2)", got, 100, 1e-9)
}

func TestRSI_Balanced(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	got, err := RSI(closes, 14)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "RSI(14) alternating", got, 50, 1e-9)
}

func TestRSI_NoLosses(t *testing.T) {
	got, err := RSI([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, 14)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "RSI(14) rising", got, 100, 1e-9)
}

func TestRSI_Bounds(t *testing.T) {
	series := wave(120)
	for end := 15; end <= len(series); end++ {
		got, err := RSI(series[:end], 14)
		if err != nil {
			t.Fatal(err)
		}
		if got < 0 || got > 100 {
			t.Fatalf("RSI out of bounds at %d: %f", end, got)
		}
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	if _, err := RSI(make([]float64, 14), 14); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_LinearSeries(t *testing.T) {
	// For x_t = t an SMA-seeded EMA(p) lags by exactly (p-1)/2, so the
	// MACD line is (26-1)/2 - (12-1)/2 = 7 everywhere and the signal EMA is 7.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(i)
	}
	got, err := MACD(closes, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "MACD line", got.Line, 7, 1e-9)
	assertClose(t, "MACD signal", got.Signal, 7, 1e-9)
	assertClose(t, "MACD histogram", got.Histogram, 0, 1e-9)
}

func TestMACD_SignalIsEMAOfLine(t *testing.T) {
	closes := wave(100)
	got, err := MACD(closes, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}

	line, err := MACDSeries(closes, 12, 26)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := EMA(line, 9)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "MACD line", got.Line, line[len(line)-1], 1e-12)
	assertClose(t, "MACD signal", got.Signal, sig, 1e-12)
	assertClose(t, "MACD histogram", got.Histogram, got.Line-got.Signal, 1e-12)

	// Signal must not be a fixed fraction of the line
	if math.Abs(got.Signal-0.8*got.Line) < 1e-9 && got.Line != 0 {
		t.Errorf("signal line looks like 0.8×MACD: %f vs %f", got.Signal, got.Line)
	}
}

func TestMACD_InsufficientData(t *testing.T) {
	if _, err := MACD(wave(33), 12, 26, 9); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := MACD(wave(34), 12, 26, 9); err != nil {
		t.Fatalf("34 closes should be enough, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Stochastic
// ────────────────────────────────────────────────────────────

func TestStochastic_TrailingD(t *testing.T) {
	// kPeriod=3 over flat candles with closes 1,3,2,5,4
	//   [1,3,2] → (2-1)/(3-1)  = 50
	//   [3,2,5] → (5-2)/(5-2)  = 100
	//   [2,5,4] → (4-2)/(5-2)  = 66.667
	cs := []model.Candle{flatCandle(1), flatCandle(3), flatCandle(2), flatCandle(5), flatCandle(4)}
	got, err := Stochastic(cs, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "%K", got.K, 200.0/3, 1e-9)
	assertClose(t, "%D", got.D, (50+100+200.0/3)/3, 1e-9)
	assertClose(t, "prev %K", got.PrevK, 100, 1e-9)
}

func TestStochastic_FlatWindow(t *testing.T) {
	cs := make([]model.Candle, 20)
	for i := range cs {
		cs[i] = flatCandle(42)
	}
	got, err := Stochastic(cs, 14, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "%K flat", got.K, 50, 1e-9)
}

func TestStochastic_InsufficientData(t *testing.T) {
	if _, err := Stochastic(candles(wave(15)...), 14, 3); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger
// ────────────────────────────────────────────────────────────

func TestBollinger_HandCalculated(t *testing.T) {
	// mean 5, population σ 2
	got, err := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "upper", got.Upper, 9, 1e-9)
	assertClose(t, "middle", got.Middle, 5, 1e-9)
	assertClose(t, "lower", got.Lower, 1, 1e-9)
}

func TestBollinger_SeriesOrdering(t *testing.T) {
	closes := wave(100)
	series, err := BollingerSeries(closes, 20, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != len(closes)-19 {
		t.Fatalf("series len=%d, want %d", len(series), len(closes)-19)
	}
	for i, b := range series {
		if !(b.Lower <= b.Middle && b.Middle <= b.Upper) {
			t.Fatalf("band %d out of order: %+v", i, b)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Volume / Compute
// ────────────────────────────────────────────────────────────

func TestVolumeRatio(t *testing.T) {
	got, err := VolumeRatio([]float64{1, 1, 1, 1, 4}, 5)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "volume ratio", got, 2.5, 1e-9)
}

func TestCompute_MinCandles(t *testing.T) {
	p := DefaultParams()
	if p.MinCandles() != 34 {
		t.Fatalf("MinCandles=%d, want 34", p.MinCandles())
	}

	_, err := Compute(candles(wave(33)...), p)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	set, err := Compute(candles(wave(100)...), p)
	if err != nil {
		t.Fatal(err)
	}
	series := wave(100)
	assertClose(t, "price", set.Price, series[99], 1e-12)
	assertClose(t, "prev close", set.PrevClose, series[98], 1e-12)
	assertClose(t, "volume ratio", set.VolumeRatio, 1, 1e-12)
}

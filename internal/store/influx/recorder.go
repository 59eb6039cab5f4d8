// Package influx records signals and trades as InfluxDB time series for
// offline strategy analysis.
package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"tradebot-v1/internal/indicator"
	"tradebot-v1/internal/model"
	"tradebot-v1/internal/strategy"
)

// Config selects the InfluxDB bucket.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// SignalRecorder writes points asynchronously through the client's batching
// WriteAPI.
type SignalRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *zap.Logger
	done     chan struct{}
}

// New connects and checks server health.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*SignalRecorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx: health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx: server not healthy: %+v", health)
	}

	r := &SignalRecorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log.Named("influx"),
		done:     make(chan struct{}),
	}
	go r.drainErrors()
	r.log.Info("connected", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return r, nil
}

func (r *SignalRecorder) drainErrors() {
	defer close(r.done)
	for err := range r.writeAPI.Errors() {
		r.log.Warn("write failed", zap.Error(err))
	}
}

// RecordSignal writes the signal and the indicator readings it came from.
func (r *SignalRecorder) RecordSignal(sig strategy.Signal, set indicator.IndicatorSet) {
	r.writeAPI.WritePoint(signalPoint(sig, set))
}

// RecordTrade writes a trade point.
func (r *SignalRecorder) RecordTrade(rec model.TradeRecord) error {
	r.writeAPI.WritePoint(tradePoint(rec))
	return nil
}

// Close flushes pending points and closes the client.
func (r *SignalRecorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
	<-r.done
}

func signalPoint(sig strategy.Signal, set indicator.IndicatorSet) *write.Point {
	fields := map[string]interface{}{
		"confidence":   sig.Confidence,
		"buy_weight":   sig.BuyWeight,
		"sell_weight":  sig.SellWeight,
		"price":        set.Price,
		"rsi":          set.RSI,
		"macd":         set.MACD.Line,
		"macd_signal":  set.MACD.Signal,
		"stoch_k":      set.Stochastic.K,
		"stoch_d":      set.Stochastic.D,
		"bb_upper":     set.Bollinger.Upper,
		"bb_lower":     set.Bollinger.Lower,
		"trend_sma":    set.TrendSMA,
		"volume_ratio": set.VolumeRatio,
		"forced":       sig.Forced,
	}
	return influxdb2.NewPoint("signal",
		map[string]string{"symbol": sig.Symbol, "direction": string(sig.Direction)},
		fields, sig.GeneratedAt)
}

func tradePoint(rec model.TradeRecord) *write.Point {
	return influxdb2.NewPoint("trade",
		map[string]string{
			"symbol": rec.Symbol,
			"side":   string(rec.Side),
			"mode":   string(rec.Mode),
			"status": string(rec.Status),
		},
		map[string]interface{}{
			"price":       rec.Price,
			"quantity":    rec.Quantity,
			"fee":         rec.Fee,
			"pnl":         rec.PnL,
			"pnl_percent": rec.PnLPercent,
		},
		rec.Timestamp)
}

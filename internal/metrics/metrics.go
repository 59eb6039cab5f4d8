package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradebot-v1/internal/breaker"
)

// Metrics holds all Prometheus metrics for the trading bot.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram
	CyclesSkipped *prometheus.CounterVec // labels: reason

	SignalsTotal *prometheus.CounterVec // labels: direction
	TradesTotal  *prometheus.CounterVec // labels: mode, side, status
	SkipsTotal   *prometheus.CounterVec // labels: reason
	RealizedPnL  prometheus.Gauge

	ExchangeCallDur     *prometheus.HistogramVec // labels: venue, op
	ExchangeErrorsTotal *prometheus.CounterVec   // labels: venue, op

	RecoveryActionsTotal *prometheus.CounterVec // labels: kind, action

	TradingEnabled prometheus.Gauge
	Equity         prometheus.Gauge
	DrawdownPct    prometheus.Gauge

	// Circuit breaker state per breaker (0=closed, 1=open, 2=half-open)
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	WSClients       prometheus.Gauge
	PublishFailures prometheus.Counter
}

// NewMetrics creates the metrics and registers them on reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_cycles_total",
			Help: "Scan cycles run",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradebot_cycle_duration_seconds",
			Help:    "Scan cycle wall time",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		CyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_cycles_skipped_total",
			Help: "Scan cycles skipped (disabled, paused, halted)",
		}, []string{"reason"}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_signals_total",
			Help: "Signals generated by direction",
		}, []string{"direction"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_trades_total",
			Help: "Trades recorded",
		}, []string{"mode", "side", "status"}),
		SkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_symbol_skips_total",
			Help: "Symbol ticks skipped (insufficient data, cooldown, sizing)",
		}, []string{"reason"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_realized_pnl",
			Help: "Lifetime realized PnL in quote currency",
		}),

		ExchangeCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradebot_exchange_call_duration_seconds",
			Help:    "Exchange API call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"venue", "op"}),
		ExchangeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_exchange_errors_total",
			Help: "Failed exchange calls",
		}, []string{"venue", "op"}),

		RecoveryActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_recovery_actions_total",
			Help: "Recovery actions decided",
		}, []string{"kind", "action"}),

		TradingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_trading_enabled",
			Help: "1 when trading is enabled and not paused",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_equity",
			Help: "Account equity in quote currency",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_drawdown_pct",
			Help: "Drawdown from peak equity in percent",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradebot_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_ws_clients",
			Help: "Connected dashboard WebSocket clients",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_publish_failures_total",
			Help: "Events that could not be published to Redis",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.CyclesSkipped,
		m.SignalsTotal,
		m.TradesTotal,
		m.SkipsTotal,
		m.RealizedPnL,
		m.ExchangeCallDur,
		m.ExchangeErrorsTotal,
		m.RecoveryActionsTotal,
		m.TradingEnabled,
		m.Equity,
		m.DrawdownPct,
		m.BreakerState,
		m.BreakerTrips,
		m.WSClients,
		m.PublishFailures,
	)

	return m
}

// ObserveExchangeCall records one exchange call.
func (m *Metrics) ObserveExchangeCall(venue, op string, took time.Duration, err error) {
	m.ExchangeCallDur.WithLabelValues(venue, op).Observe(took.Seconds())
	if err != nil {
		m.ExchangeErrorsTotal.WithLabelValues(venue, op).Inc()
	}
}

// ObserveBreaker is a breaker.OnStateChange hook.
func (m *Metrics) ObserveBreaker(name string, _, to breaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	if to == breaker.StateOpen {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Exchange       string    `json:"exchange"`
	ExchangeOK     bool      `json:"exchange_ok"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	TradingEnabled bool      `json:"trading_enabled"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(exchange string) *HealthStatus {
	return &HealthStatus{
		Exchange:   exchange,
		ExchangeOK: true,
		SQLiteOK:   true,
		StartedAt:  time.Now(),
	}
}

func (h *HealthStatus) SetExchangeOK(v bool) {
	h.mu.Lock()
	h.ExchangeOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycle(t time.Time, tradingEnabled bool) {
	h.mu.Lock()
	h.LastCycleAt = t
	h.TradingEnabled = tradingEnabled
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are
// skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.ExchangeOK || !h.SQLiteOK || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.ExchangeOK && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = time.Since(h.LastCycleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Exchange        string  `json:"exchange"`
		ExchangeOK      bool    `json:"exchange_ok"`
		TradingEnabled  bool    `json:"trading_enabled"`
		LastCycleAt     string  `json:"last_cycle_at"`
		CycleAge        string  `json:"cycle_age"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Exchange:        h.Exchange,
		ExchangeOK:      h.ExchangeOK,
		TradingEnabled:  h.TradingEnabled,
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *zap.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		log:    log.Named("metrics"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

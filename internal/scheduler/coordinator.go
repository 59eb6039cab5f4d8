// Package scheduler drives the scan loop: the Coordinator runs one cycle over
// the watchlist and applies recovery actions; the Scheduler repeats cycles on
// the trade-mode interval and serves manual scans and forced trades.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradebot-v1/internal/execution"
	"tradebot-v1/internal/indicator"
	"tradebot-v1/internal/logger"
	"tradebot-v1/internal/metrics"
	"tradebot-v1/internal/model"
	"tradebot-v1/internal/notification"
	"tradebot-v1/internal/portfolio"
	"tradebot-v1/internal/recovery"
	"tradebot-v1/internal/state"
	"tradebot-v1/internal/strategy"
	"tradebot-v1/internal/trace"
)

// DefaultBatchSize bounds concurrent candle fetches within a cycle.
const DefaultBatchSize = 5

// EventSink receives dashboard events (WebSocket hub, Redis publisher).
type EventSink interface {
	Emit(ctx context.Context, ev model.Event)
}

// RecoveryRecorder persists recovery decisions (journal, error log).
type RecoveryRecorder interface {
	RecordRecovery(ev state.RecoveryEvent) error
}

// SignalRecorder receives every aggregated signal with its indicator inputs.
type SignalRecorder interface {
	RecordSignal(sig strategy.Signal, set indicator.IndicatorSet)
}

// Deps are the collaborators of a Coordinator. Trading is used to cancel
// open orders on an open-orders conflict and may be nil in demo-only setups.
type Deps struct {
	Market     model.MarketData
	Trading    model.Trading
	Machine    *execution.Machine
	Ledger     *portfolio.Ledger
	State      *state.Container
	Aggregator *strategy.Aggregator
	Params     indicator.Params
	Drawdown   *portfolio.DrawdownGuard
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
	Notifier   notification.Notifier
	Events     []EventSink
	Recoveries []RecoveryRecorder
	Signals    []SignalRecorder
	BatchSize  int
}

// Coordinator runs scan cycles. Cycles must not overlap; the Scheduler
// serializes them.
type Coordinator struct {
	d   Deps
	log *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.RWMutex
	lastPrices   map[string]float64
	lastBalances balanceView
	lastMode     model.Mode
	lastCycle    CycleReport
}

// NewCoordinator creates a coordinator.
func NewCoordinator(d Deps, log *zap.Logger) *Coordinator {
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	if d.Drawdown == nil {
		d.Drawdown = portfolio.NewDrawdownGuard(d.State.Settings().MaxDrawdownPct)
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLogNotifier(log)
	}
	return &Coordinator{
		d:          d,
		log:        log.Named("coordinator"),
		now:        time.Now,
		sleep:      sleepCtx,
		lastPrices: make(map[string]float64),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	TraceID   string        `json:"trace_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   string        `json:"skipped,omitempty"`
	Ticks     []TickReport  `json:"ticks"`
}

// Trades returns the records appended during the cycle.
func (r CycleReport) Trades() []model.TradeRecord {
	var out []model.TradeRecord
	for _, t := range r.Ticks {
		if t.Result != nil && t.Result.Record != nil {
			out = append(out, *t.Result.Record)
		}
	}
	return out
}

// TickReport is the outcome of one symbol within a cycle. Err is set when
// the symbol was skipped before execution (candle fetch, insufficient data).
type TickReport struct {
	Symbol   string               `json:"symbol"`
	Signal   *strategy.Signal     `json:"signal,omitempty"`
	Result   *execution.Result    `json:"result,omitempty"`
	Recovery *state.RecoveryEvent `json:"recovery,omitempty"`
	Err      error                `json:"-"`
	Error    string               `json:"error,omitempty"`
}

// RunCycle scans every watchlist symbol once. It is skipped entirely when
// trading is disabled, halted or paused at its start.
func (c *Coordinator) RunCycle(ctx context.Context) CycleReport {
	start := c.now()
	traceID := logger.GenerateTraceID("cycle", start)
	ctx = logger.WithTraceID(ctx, traceID)
	ctx, span := trace.StartSpan(ctx, "scan.cycle")
	defer span.End()

	report := CycleReport{TraceID: traceID, StartedAt: start}
	settings := c.d.State.Settings()
	span.SetAttributes(attribute.Int("symbols", len(settings.Watchlist)), attribute.String("mode", string(settings.Mode())))

	if allowed, reason := c.d.State.TradingAllowed(start); !allowed {
		report.Skipped = reason
		c.d.Metrics.CyclesSkipped.WithLabelValues(skipLabel(reason)).Inc()
		c.log.Info("cycle skipped", append(logger.FieldsFromContext(ctx), zap.String("reason", reason))...)
		c.finish(ctx, &report)
		return report
	}

	c.log.Info("cycle start", append(logger.FieldsFromContext(ctx),
		zap.Int("symbols", len(settings.Watchlist)), zap.String("mode", string(settings.Mode())))...)

	symbols := settings.Watchlist
	for lo := 0; lo < len(symbols) && report.Skipped == ""; lo += c.d.BatchSize {
		hi := min(lo+c.d.BatchSize, len(symbols))
		batch := c.prefetch(ctx, symbols[lo:hi], settings)

		for i, sym := range symbols[lo:hi] {
			if lo+i > 0 {
				if err := c.sleep(ctx, settings.InterSymbolDelay.Std()); err != nil {
					report.Skipped = "cancelled"
					break
				}
			}
			// a recovery action earlier in the cycle may have paused or halted trading
			if allowed, reason := c.d.State.TradingAllowed(c.now()); !allowed {
				report.Skipped = reason
				c.log.Warn("cycle stopped", append(logger.FieldsFromContext(ctx),
					zap.String("reason", reason), zap.String("next_symbol", sym))...)
				break
			}
			report.Ticks = append(report.Ticks, c.tick(ctx, sym, batch[i]))
		}
	}

	c.checkDrawdown(ctx, c.d.State.Settings())
	c.finish(ctx, &report)
	return report
}

type fetched struct {
	candles []model.Candle
	err     error
}

// prefetch loads candles for a batch concurrently. Errors are kept per
// symbol so one failing symbol does not abort the batch.
func (c *Coordinator) prefetch(ctx context.Context, symbols []string, s state.BotSettings) []fetched {
	out := make([]fetched, len(symbols))
	var g errgroup.Group
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			candles, err := c.d.Market.Candles(ctx, sym, s.CandleInterval, s.CandleLimit)
			out[i] = fetched{candles: candles, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Coordinator) tick(ctx context.Context, symbol string, f fetched) TickReport {
	now := c.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(symbol, now))
	ctx, span := trace.StartSpan(ctx, "scan.symbol")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	tr := TickReport{Symbol: symbol}
	if f.err != nil {
		tr.Err = fmt.Errorf("candles: %w", f.err)
		span.RecordError(f.err)
		span.SetStatus(codes.Error, "candle fetch failed")
		tr.Recovery = c.recover(ctx, symbol, f.err)
		tr.Error = tr.Err.Error()
		return tr
	}

	set, err := indicator.Compute(f.candles, c.d.Params)
	if err != nil {
		tr.Err, tr.Error = err, err.Error()
		if errors.Is(err, indicator.ErrInsufficientData) {
			c.d.Metrics.SkipsTotal.WithLabelValues("insufficient_data").Inc()
			c.log.Info("skip: insufficient data", append(logger.FieldsFromContext(ctx),
				zap.String("symbol", symbol), zap.Int("candles", len(f.candles)))...)
		} else {
			c.log.Error("indicator computation failed", append(logger.FieldsFromContext(ctx),
				zap.String("symbol", symbol), zap.Error(err))...)
		}
		return tr
	}
	c.setPrice(symbol, set.Price)

	settings := c.d.State.Settings()
	sig := c.d.Aggregator.Aggregate(symbol, set, settings.SignalThreshold, now)
	tr.Signal = &sig
	c.observeSignal(ctx, sig, &set)

	res, ev := c.execute(ctx, sig, settings)
	tr.Result, tr.Recovery = &res, ev
	return tr
}

// RunForced executes a signal that bypassed aggregation. It honours the
// trading gate and the per-symbol cooldown like any other signal.
func (c *Coordinator) RunForced(ctx context.Context, sig strategy.Signal) (TickReport, error) {
	now := c.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("forced-"+sig.Symbol, now))
	ctx, span := trace.StartSpan(ctx, "scan.symbol")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", sig.Symbol), attribute.Bool("forced", true))

	if allowed, reason := c.d.State.TradingAllowed(now); !allowed {
		return TickReport{Symbol: sig.Symbol}, fmt.Errorf("%w: %s", ErrTradingNotAllowed, reason)
	}

	settings := c.d.State.Settings()
	c.observeSignal(ctx, sig, nil)
	res, ev := c.execute(ctx, sig, settings)
	if res.Record != nil {
		c.setPrice(sig.Symbol, res.Record.Price)
	}
	tr := TickReport{Symbol: sig.Symbol, Signal: &sig, Result: &res, Recovery: ev}
	c.finish(ctx, nil)
	return tr, nil
}

// ErrTradingNotAllowed is returned for forced trades while trading is
// disabled, halted or paused.
var ErrTradingNotAllowed = errors.New("scheduler: trading not allowed")

func (c *Coordinator) observeSignal(ctx context.Context, sig strategy.Signal, set *indicator.IndicatorSet) {
	c.d.State.RecordSignal(sig)
	c.d.Metrics.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
	if set != nil {
		for _, r := range c.d.Signals {
			r.RecordSignal(sig, *set)
		}
	}
	c.emit(ctx, model.Event{Type: model.EventSignal, Symbol: sig.Symbol, At: sig.GeneratedAt, Data: sig})
	c.log.Info("signal", append(logger.FieldsFromContext(ctx),
		zap.String("symbol", sig.Symbol), zap.String("direction", string(sig.Direction)),
		zap.Float64("confidence", sig.Confidence), zap.Float64("buy_weight", sig.BuyWeight),
		zap.Float64("sell_weight", sig.SellWeight), zap.Bool("forced", sig.Forced))...)
}

func (c *Coordinator) execute(ctx context.Context, sig strategy.Signal, settings state.BotSettings) (execution.Result, *state.RecoveryEvent) {
	res := c.d.Machine.Run(ctx, sig, settings)

	switch {
	case res.Record != nil:
		c.d.Metrics.TradesTotal.WithLabelValues(string(res.Record.Mode), string(res.Record.Side), string(res.Record.Status)).Inc()
		c.d.Metrics.RealizedPnL.Set(c.d.Ledger.Stats().RealizedPnL)
	case res.Skip != nil:
		c.d.Metrics.SkipsTotal.WithLabelValues(skipReason(res.Skip)).Inc()
	case res.Failed():
		if res.FailedAt == execution.StateSubmit {
			side, _ := sig.Direction.Side()
			c.d.Metrics.TradesTotal.WithLabelValues(string(settings.Mode()), string(side), string(model.TradeFailed)).Inc()
		}
		c.log.Warn("execution failed", append(logger.FieldsFromContext(ctx),
			zap.String("symbol", sig.Symbol), zap.String("at", string(res.FailedAt)), zap.Error(res.Err))...)
		return res, c.recover(ctx, sig.Symbol, res.Err)
	}
	return res, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, portfolio.ErrCooldown):
		return "cooldown"
	case errors.Is(err, portfolio.ErrDust):
		return "dust"
	case errors.Is(err, portfolio.ErrMaxOpenPositions):
		return "max_open_positions"
	default:
		return "sizing_rejected"
	}
}

func skipLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}

// recover classifies err, applies the decided action and fans the event
// out to recorders, subscribers and, for fatal conditions, the operator.
func (c *Coordinator) recover(ctx context.Context, symbol string, err error) *state.RecoveryEvent {
	f := recovery.Classify(err)
	a := recovery.Decide(f, symbol)
	ev := c.d.State.ApplyRecoveryAction(a, c.now())

	if a.Type == recovery.ActionCancelOpenOrders {
		ev.Detail = c.cancelOpenOrders(ctx, symbol)
		ev.Applied = true
	}

	c.d.Metrics.RecoveryActionsTotal.WithLabelValues(string(a.Kind), string(a.Type)).Inc()
	c.log.Log(a.Level, "recovery action", append(logger.FieldsFromContext(ctx),
		zap.String("symbol", symbol),
		zap.String("kind", string(f.Kind)),
		zap.Int("code", f.Code),
		zap.Int("http_status", f.HTTPStatus),
		zap.String("action", string(a.Type)),
		zap.Bool("applied", ev.Applied),
		zap.Bool("fatal", a.Fatal),
		zap.String("reason", a.Reason),
		zap.String("detail", ev.Detail),
		zap.Error(err))...)

	for _, r := range c.d.Recoveries {
		if rerr := r.RecordRecovery(ev); rerr != nil {
			c.log.Warn("recovery recorder failed", zap.Error(rerr))
		}
	}
	c.emit(ctx, model.Event{Type: model.EventRecovery, Symbol: symbol, At: ev.At, Data: ev})

	if a.Fatal {
		c.alert(ctx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "Trading halted: " + string(a.Kind),
			Message: a.Reason,
			Symbol:  symbol,
			Kind:    string(a.Kind),
			At:      ev.At,
		})
	}
	return &ev
}

func (c *Coordinator) cancelOpenOrders(ctx context.Context, symbol string) string {
	if c.d.Trading == nil {
		return "no trading gateway"
	}
	orders, err := c.d.Trading.OpenOrders(ctx, symbol)
	if err != nil {
		c.log.Warn("list open orders failed", zap.String("symbol", symbol), zap.Error(err))
		return "list open orders failed: " + err.Error()
	}
	cancelled := 0
	for _, o := range orders {
		if err := c.d.Trading.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			c.log.Warn("cancel order failed", zap.String("symbol", symbol), zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		cancelled++
	}
	return fmt.Sprintf("cancelled %d of %d open orders", cancelled, len(orders))
}

// checkDrawdown marks balances in quote currency and halts trading when
// equity falls more than MaxDrawdownPct below its peak.
func (c *Coordinator) checkDrawdown(ctx context.Context, s state.BotSettings) {
	if len(s.Watchlist) == 0 {
		return
	}
	backend, err := c.d.Machine.Backend(s.Mode())
	if err != nil {
		return
	}
	bal, err := backend.Balances(ctx)
	c.mu.Lock()
	c.lastBalances = balanceView{balances: bal, err: err}
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("equity check skipped", zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.lastMode != s.Mode() {
		c.d.Drawdown.Reset()
		c.lastMode = s.Mode()
	}
	_, quote := model.SplitSymbol(s.Watchlist[0])
	equity := portfolio.Equity(bal, quote, c.lastPrices)
	c.mu.Unlock()

	c.d.Drawdown.SetLimit(s.MaxDrawdownPct)
	dd, tripped := c.d.Drawdown.Observe(equity)
	c.d.Metrics.Equity.Set(equity)
	c.d.Metrics.DrawdownPct.Set(dd)
	if !tripped || !s.Enabled {
		return
	}

	reason := fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", dd, s.MaxDrawdownPct)
	c.d.State.Halt(reason)
	c.log.Error("trading halted", append(logger.FieldsFromContext(ctx),
		zap.Float64("equity", equity), zap.Float64("drawdown_pct", dd), zap.Bool("fatal", true))...)
	c.alert(ctx, notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "Max drawdown reached",
		Message: reason,
		At:      c.now(),
	})
}

func (c *Coordinator) alert(ctx context.Context, a notification.Alert) {
	if err := c.d.Notifier.Send(ctx, a); err != nil {
		c.log.Warn("alert delivery failed", zap.String("title", a.Title), zap.Error(err))
	}
}

func (c *Coordinator) emit(ctx context.Context, ev model.Event) {
	for _, s := range c.d.Events {
		s.Emit(ctx, ev)
	}
}

func (c *Coordinator) setPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.lastPrices[symbol] = price
	c.mu.Unlock()
}

// LastPrices returns the newest close seen per symbol.
func (c *Coordinator) LastPrices() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.lastPrices))
	for k, v := range c.lastPrices {
		out[k] = v
	}
	return out
}

// LastCycle returns the report of the newest completed cycle.
func (c *Coordinator) LastCycle() CycleReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCycle
}

func (c *Coordinator) finish(ctx context.Context, report *CycleReport) {
	now := c.now()
	allowed, _ := c.d.State.TradingAllowed(now)
	c.d.Metrics.TradingEnabled.Set(boolGauge(allowed))

	if report != nil {
		report.Duration = now.Sub(report.StartedAt)
		c.d.Metrics.CyclesTotal.Inc()
		c.d.Metrics.CycleDuration.Observe(report.Duration.Seconds())
		if c.d.Health != nil {
			c.d.Health.SetLastCycle(now, allowed)
		}
		c.mu.Lock()
		c.lastCycle = *report
		c.mu.Unlock()
		c.log.Info("cycle done", append(logger.FieldsFromContext(ctx),
			zap.Int("ticks", len(report.Ticks)), zap.Int("trades", len(report.Trades())),
			zap.Duration("took", report.Duration), zap.String("skipped", report.Skipped))...)
	}

	c.emit(ctx, model.Event{Type: model.EventStatus, At: now, Data: c.status(now, c.cachedBalances())})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"tradebot-v1/internal/logger"
	"tradebot-v1/internal/model"
	"tradebot-v1/internal/portfolio"
	"tradebot-v1/internal/state"
	"tradebot-v1/internal/strategy"
	"tradebot-v1/internal/trace"
)

// State is a step of the execution state machine.
type State string

const (
	StateIdle          State = "IDLE"
	StateCooldownCheck State = "COOLDOWN_CHECK"
	StatePriceFetch    State = "PRICE_FETCH"
	StateBalanceFetch  State = "BALANCE_FETCH"
	StateSize          State = "SIZE"
	StateSubmit        State = "SUBMIT"
	StateRecorded      State = "RECORDED"
	StateFailed        State = "FAILED"
)

// TradeSink receives every recorded trade (journal, trade log, publisher).
type TradeSink interface {
	RecordTrade(rec model.TradeRecord) error
}

// Result is the outcome of one signal.
//
// State is IDLE (nothing to do, cooldown or sizing rejection), RECORDED or
// FAILED. Err holds the raw collaborator error on FAILED so the recovery
// policy can classify it. Skip is the reason for an IDLE outcome.
type Result struct {
	Symbol     string              `json:"symbol"`
	State      State               `json:"state"`
	Path       []State             `json:"path"`
	Signal     strategy.Signal     `json:"signal"`
	Price      float64             `json:"price,omitempty"`
	Sizing     portfolio.Sizing    `json:"sizing"`
	Record     *model.TradeRecord  `json:"record,omitempty"`
	Protective []ProtectiveOutcome `json:"protective,omitempty"`
	Skip       error               `json:"-"`
	Err        error               `json:"-"`
	FailedAt   State               `json:"failed_at,omitempty"`
}

func (r *Result) to(s State) { r.State = s; r.Path = append(r.Path, s) }

func (r *Result) fail(at State, err error) Result {
	r.FailedAt = at
	r.Err = err
	r.to(StateFailed)
	return *r
}

// ProtectiveOutcome is a stop-loss or take-profit placement.
type ProtectiveOutcome struct {
	Request model.OrderRequest `json:"request"`
	Ack     model.OrderAck     `json:"ack"`
	Err     error              `json:"-"`
}

// Machine runs the execution states for one signal at a time. It is driven
// from the scan cycle only and does not run signals concurrently.
type Machine struct {
	market   model.MarketData
	backends Backends
	ledger   *portfolio.Ledger
	state    *state.Container
	sinks    []TradeSink
	log      *zap.Logger
	now      func() time.Time
}

// NewMachine creates a machine. Sinks receive every appended record.
func NewMachine(market model.MarketData, backends Backends, ledger *portfolio.Ledger,
	st *state.Container, log *zap.Logger, sinks ...TradeSink) *Machine {
	return &Machine{
		market:   market,
		backends: backends,
		ledger:   ledger,
		state:    st,
		sinks:    sinks,
		log:      log.Named("execution"),
		now:      time.Now,
	}
}

// AddSink registers another trade sink.
func (m *Machine) AddSink(s TradeSink) { m.sinks = append(m.sinks, s) }

// SetClock replaces the time source used for cooldowns and record times.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

// Backend returns the backend selected by mode.
func (m *Machine) Backend(mode model.Mode) (Backend, error) { return m.backends.For(mode) }

// Run executes sig under settings.
func (m *Machine) Run(ctx context.Context, sig strategy.Signal, settings state.BotSettings) Result {
	res := Result{Symbol: sig.Symbol, Signal: sig}
	res.to(StateIdle)

	side, ok := sig.Direction.Side()
	if !ok {
		return res
	}
	fields := append(logger.FieldsFromContext(ctx), zap.String("symbol", sig.Symbol), zap.String("side", string(side)))

	res.to(StateCooldownCheck)
	now := m.now()
	last := m.state.LastTradeTime(sig.Symbol)
	if portfolio.CooldownActive(last, now, settings.MinTradeInterval.Std()) {
		left := settings.MinTradeInterval.Std() - now.Sub(last)
		res.Skip = fmt.Errorf("%w: %s for %s", portfolio.ErrCooldown, sig.Symbol, left.Round(time.Second))
		res.to(StateIdle)
		m.log.Info("skip: cooldown", append(fields, zap.Duration("remaining", left))...)
		return res
	}

	backend, err := m.backends.For(settings.Mode())
	if err != nil {
		return res.fail(StateCooldownCheck, fmt.Errorf("%w %s", err, settings.Mode()))
	}

	res.to(StatePriceFetch)
	price, err := m.market.TickerPrice(ctx, sig.Symbol)
	if err != nil {
		return res.fail(StatePriceFetch, err)
	}
	res.Price = price

	res.to(StateBalanceFetch)
	bal, err := backend.Balances(ctx)
	if err != nil {
		return res.fail(StateBalanceFetch, err)
	}

	res.to(StateSize)
	base, quote := model.SplitSymbol(sig.Symbol)
	sizing, err := portfolio.Size(portfolio.RiskLimits{
		RiskPercent:      settings.RiskPercent,
		MaxPositionSize:  settings.MaxPositionSize,
		FeeRate:          settings.FeeRate,
		MinTradeInterval: settings.MinTradeInterval.Std(),
		MaxOpenPositions: settings.MaxOpenPositions,
	}, portfolio.SizeRequest{
		Symbol:        sig.Symbol,
		Side:          side,
		Price:         price,
		BaseFree:      bal.Free(base),
		QuoteFree:     bal.Free(quote),
		LastTradeAt:   last,
		Now:           now,
		OpenPositions: m.ledger.OpenPositions(),
		HasPosition:   m.ledger.HasPosition(sig.Symbol),
	})
	if err != nil {
		res.Skip = err
		res.to(StateIdle)
		m.log.Info("skip: sizing rejected", append(fields, zap.Error(err))...)
		return res
	}
	res.Sizing = sizing

	res.to(StateSubmit)
	fill, err := m.submit(ctx, backend, model.OrderRequest{
		Symbol: sig.Symbol, Side: side, Type: model.OrderMarket, Qty: sizing.Qty,
	}, price, settings.FeeRate)
	if err != nil {
		m.record(model.TradeRecord{
			Timestamp: m.now(), Symbol: sig.Symbol, Side: side, Price: price, Quantity: sizing.Qty,
			Mode: backend.Mode(), Status: model.TradeFailed, Forced: sig.Forced,
		})
		return res.fail(StateSubmit, err)
	}

	rec := m.record(model.TradeRecord{
		Timestamp: m.now(),
		Symbol:    sig.Symbol,
		Side:      side,
		Price:     fill.Price,
		Quantity:  fill.Qty,
		Fee:       fill.Fee,
		OrderID:   fill.OrderID,
		Mode:      backend.Mode(),
		Status:    model.TradeFilled,
		Forced:    sig.Forced,
	})
	res.Record = &rec
	res.to(StateRecorded)
	m.log.Info("trade recorded", append(fields,
		zap.String("mode", string(rec.Mode)), zap.Float64("qty", rec.Quantity),
		zap.Float64("price", rec.Price), zap.Float64("pnl", rec.PnL),
		zap.String("order_id", rec.OrderID), zap.Float64("confidence", sig.Confidence))...)

	res.Protective = m.protect(ctx, backend, rec, settings)
	return res
}

func (m *Machine) submit(ctx context.Context, be Backend, req model.OrderRequest, price, feeRate float64) (Fill, error) {
	ctx, span := trace.StartSpan(ctx, "execution.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("symbol", req.Symbol),
		attribute.String("side", string(req.Side)),
		attribute.String("mode", string(be.Mode())),
		attribute.Float64("qty", req.Qty),
	)

	fill, err := be.Execute(ctx, req, price, feeRate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return fill, err
}

// record appends rec to the ledger, updates cooldown state and feeds the
// sinks. Sink failures are logged; the ledger stays authoritative.
func (m *Machine) record(rec model.TradeRecord) model.TradeRecord {
	rec = m.ledger.Append(rec)
	m.state.RecordTrade(rec)
	for _, s := range m.sinks {
		if err := s.RecordTrade(rec); err != nil {
			m.log.Warn("trade sink failed", zap.String("symbol", rec.Symbol), zap.Error(err))
		}
	}
	return rec
}

func (m *Machine) protect(ctx context.Context, be Backend, rec model.TradeRecord, s state.BotSettings) []ProtectiveOutcome {
	reqs := ProtectiveOrders(rec, s)
	if len(reqs) == 0 {
		return nil
	}
	out := make([]ProtectiveOutcome, 0, len(reqs))
	for _, req := range reqs {
		ack, err := be.PlaceProtective(ctx, req)
		if err != nil {
			m.log.Warn("protective order failed",
				zap.String("symbol", req.Symbol), zap.String("type", string(req.Type)), zap.Error(err))
		}
		out = append(out, ProtectiveOutcome{Request: req, Ack: ack, Err: err})
	}
	return out
}

// ProtectiveOrders returns the stop-loss and take-profit orders for an entry
// fill: entry price × (1 ± pct/100) on the opposite side. A BUY entry stops
// below and takes profit above; a SELL entry the mirror.
func ProtectiveOrders(rec model.TradeRecord, s state.BotSettings) []model.OrderRequest {
	if rec.Status != model.TradeFilled || rec.Price <= 0 || rec.Quantity <= 0 {
		return nil
	}
	dir := 1.0
	if rec.Side == model.SideSell {
		dir = -1
	}
	exit := rec.Side.Opposite()

	var out []model.OrderRequest
	if s.UseStopLoss && s.StopLossPct > 0 {
		out = append(out, model.OrderRequest{
			Symbol: rec.Symbol, Side: exit, Type: model.OrderStopMarket, Qty: rec.Quantity,
			StopPrice: rec.Price * (1 - dir*s.StopLossPct/100),
		})
	}
	if s.UseTakeProfit && s.TakeProfitPct > 0 {
		out = append(out, model.OrderRequest{
			Symbol: rec.Symbol, Side: exit, Type: model.OrderTakeProfitMarket, Qty: rec.Quantity,
			StopPrice: rec.Price * (1 + dir*s.TakeProfitPct/100),
		})
	}
	return out
}

// Failed reports whether r ended in FAILED.
func (r Result) Failed() bool { return r.State == StateFailed }

// Skipped reports whether r was a local skip (cooldown or sizing rejection).
func (r Result) Skipped() bool {
	return r.Skip != nil && errors.Is(r.Skip, portfolio.ErrSizingRejected)
}

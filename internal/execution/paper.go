package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradebot-v1/internal/model"
)

// ErrDemoInsufficientBalance is returned when a simulated fill would
// overdraw a virtual balance.
var ErrDemoInsufficientBalance = errors.New("execution: demo balance insufficient")

// DefaultDemoBalances seeds a new DemoLedger.
func DefaultDemoBalances() map[string]float64 {
	return map[string]float64{"USDT": 10000}
}

// DemoLedger simulates order execution against virtual balances. Balances are
// kept as decimals so repeated fills do not accumulate float error.
type DemoLedger struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	log      *zap.Logger
}

// NewDemoLedger creates a ledger seeded with seed (asset → amount).
func NewDemoLedger(seed map[string]float64, log *zap.Logger) *DemoLedger {
	d := &DemoLedger{log: log.Named("demo")}
	d.Reset(seed)
	return d
}

// Reset replaces all balances with seed.
func (d *DemoLedger) Reset(seed map[string]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances = make(map[string]decimal.Decimal, len(seed))
	for asset, amt := range seed {
		d.balances[asset] = decimal.NewFromFloat(amt)
	}
}

func (d *DemoLedger) Mode() model.Mode { return model.ModeDemo }

// Balances returns a snapshot of the virtual balances.
func (d *DemoLedger) Balances(_ context.Context) (model.Balances, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(model.Balances, len(d.balances))
	for asset, amt := range d.balances {
		out[asset] = model.Balance{Asset: asset, Free: amt.InexactFloat64()}
	}
	return out, nil
}

// Execute fills req at markPrice. BUY debits quote for cost plus fee and
// credits base; SELL debits base and credits the proceeds less fee.
func (d *DemoLedger) Execute(_ context.Context, req model.OrderRequest, markPrice, feeRate float64) (Fill, error) {
	base, quote := model.SplitSymbol(req.Symbol)
	if quote == "" {
		return Fill{}, fmt.Errorf("execution: demo: symbol %q has no quote asset", req.Symbol)
	}
	if markPrice <= 0 || req.Qty <= 0 {
		return Fill{}, fmt.Errorf("execution: demo: invalid fill %v @ %v", req.Qty, markPrice)
	}

	qty := decimal.NewFromFloat(req.Qty)
	price := decimal.NewFromFloat(markPrice)
	notional := qty.Mul(price)
	fee := notional.Mul(decimal.NewFromFloat(feeRate))

	d.mu.Lock()
	switch req.Side {
	case model.SideBuy:
		cost := notional.Add(fee)
		if d.balances[quote].LessThan(cost) {
			d.mu.Unlock()
			return Fill{}, fmt.Errorf("%w: need %s %s, have %s", ErrDemoInsufficientBalance, cost, quote, d.balances[quote])
		}
		d.balances[quote] = d.balances[quote].Sub(cost)
		d.balances[base] = d.balances[base].Add(qty)
	case model.SideSell:
		if d.balances[base].LessThan(qty) {
			d.mu.Unlock()
			return Fill{}, fmt.Errorf("%w: need %s %s, have %s", ErrDemoInsufficientBalance, qty, base, d.balances[base])
		}
		d.balances[base] = d.balances[base].Sub(qty)
		d.balances[quote] = d.balances[quote].Add(notional.Sub(fee))
	default:
		d.mu.Unlock()
		return Fill{}, fmt.Errorf("execution: demo: unknown side %q", req.Side)
	}
	d.mu.Unlock()

	f := Fill{
		OrderID: "DEMO-" + uuid.NewString(),
		Status:  string(model.TradeFilled),
		Price:   markPrice,
		Qty:     req.Qty,
		Fee:     fee.InexactFloat64(),
	}
	d.log.Info("demo fill",
		zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)),
		zap.Float64("qty", f.Qty), zap.Float64("price", f.Price),
		zap.Float64("fee", f.Fee), zap.String("order_id", f.OrderID))
	return f, nil
}

// PlaceProtective only logs: protective orders are not simulated.
func (d *DemoLedger) PlaceProtective(_ context.Context, req model.OrderRequest) (model.OrderAck, error) {
	d.log.Info("protective order (demo, not placed)",
		zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)), zap.Float64("stop_price", req.StopPrice),
		zap.Float64("qty", req.Qty))
	return model.OrderAck{OrderID: "DEMO-" + uuid.NewString(), Status: "SIMULATED"}, nil
}

var _ Backend = (*DemoLedger)(nil)

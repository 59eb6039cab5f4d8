// Package exchangetest provides an in-memory exchange for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebot-v1/internal/model"
)

// Fake is an in-memory model.Exchange. Errors set with Fail are returned by
// the named operation until cleared with Fail(op, nil).
type Fake struct {
	mu sync.Mutex

	prices    map[string]float64
	candles   map[string][]model.Candle
	balances  model.Balances
	open      map[string][]model.Order
	errs      map[string]error
	calls     map[string]int
	submitted []model.OrderRequest
	cancelled []string
	seq       int
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		prices:   make(map[string]float64),
		candles:  make(map[string][]model.Candle),
		balances: make(model.Balances),
		open:     make(map[string][]model.Order),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *Fake) Name() string { return "fake" }

// SetPrice sets the ticker price of symbol.
func (f *Fake) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

// SetCandles sets the candles of symbol.
func (f *Fake) SetCandles(symbol string, c []model.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[symbol] = c
}

// SetBalance sets the free amount of asset.
func (f *Fake) SetBalance(asset string, free float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[asset] = model.Balance{Asset: asset, Free: free}
}

// AddOpenOrder adds an open order.
func (f *Fake) AddOpenOrder(o model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[o.Symbol] = append(f.open[o.Symbol], o)
}

// Fail makes op ("candles", "ticker_price", "account_balance",
// "submit_order", "cancel_order", "open_orders") return err.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Submitted returns the submitted orders.
func (f *Fake) Submitted() []model.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OrderRequest(nil), f.submitted...)
}

// Cancelled returns cancelled order ids.
func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *Fake) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.errs[op]
}

func (f *Fake) Candles(ctx context.Context, symbol, _ string, limit int) ([]model.Candle, error) {
	if err := f.enter("candles"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.candles[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]model.Candle(nil), c...), ctx.Err()
}

func (f *Fake) TickerPrice(_ context.Context, symbol string) (float64, error) {
	if err := f.enter("ticker_price"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("fake: no price for %s", symbol)
	}
	return p, nil
}

func (f *Fake) AccountBalance(context.Context) (model.Balances, error) {
	if err := f.enter("account_balance"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(model.Balances, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

// SubmitOrder fills market orders at the ticker price and rests other types
// as open orders.
func (f *Fake) SubmitOrder(_ context.Context, req model.OrderRequest) (model.OrderAck, error) {
	if err := f.enter("submit_order"); err != nil {
		return model.OrderAck{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("F-%d", f.seq)
	f.submitted = append(f.submitted, req)
	if req.Type != model.OrderMarket {
		f.open[req.Symbol] = append(f.open[req.Symbol], model.Order{
			OrderID: id, Symbol: req.Symbol, Side: req.Side, Type: req.Type,
			Qty: req.Qty, Price: req.Price, StopPrice: req.StopPrice, Status: "NEW", CreatedAt: time.Now(),
		})
		return model.OrderAck{OrderID: id, Status: "NEW"}, nil
	}
	return model.OrderAck{OrderID: id, Status: "FILLED", Price: f.prices[req.Symbol], Qty: req.Qty}, nil
}

func (f *Fake) CancelOrder(_ context.Context, symbol, orderID string) error {
	if err := f.enter("cancel_order"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	orders := f.open[symbol]
	for i, o := range orders {
		if o.OrderID == orderID {
			f.open[symbol] = append(orders[:i], orders[i+1:]...)
			f.cancelled = append(f.cancelled, orderID)
			return nil
		}
	}
	return fmt.Errorf("fake: order %s not found", orderID)
}

func (f *Fake) OpenOrders(_ context.Context, symbol string) ([]model.Order, error) {
	if err := f.enter("open_orders"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Order(nil), f.open[symbol]...), nil
}

var _ model.Exchange = (*Fake)(nil)

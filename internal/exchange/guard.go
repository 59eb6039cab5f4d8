package exchange

import (
	"context"
	"errors"
	"time"

	"tradebot-v1/internal/breaker"
	"tradebot-v1/internal/model"
)

// DefaultTimeout bounds every exchange call.
const DefaultTimeout = 10 * time.Second

// CallObserver receives the outcome of every guarded call.
type CallObserver interface {
	ObserveExchangeCall(venue, op string, took time.Duration, err error)
}

// Guarded wraps an Exchange with a per-call timeout and a circuit breaker.
// Only transport failures count toward tripping the breaker; exchange
// rejections pass through untouched. Timeouts and an open breaker surface as
// transport errors.
type Guarded struct {
	inner    model.Exchange
	timeout  time.Duration
	br       *breaker.Breaker
	observer CallObserver
}

// NewGuarded wraps inner. A nil breaker disables breaking; timeout <= 0 uses
// DefaultTimeout.
func NewGuarded(inner model.Exchange, timeout time.Duration, br *breaker.Breaker, observer CallObserver) *Guarded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if br != nil {
		br.IsFailure = isTransportFailure
	}
	return &Guarded{inner: inner, timeout: timeout, br: br, observer: observer}
}

func isTransportFailure(err error) bool {
	return IsTransport(err) || errors.Is(err, context.DeadlineExceeded)
}

func call[T any](ctx context.Context, g *Guarded, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	var out T
	run := func() error {
		var err error
		out, err = fn(ctx)
		if err != nil && !errors.As(err, new(*Error)) {
			// Plain errors from the gateway (deadline, dial, decode) are transport failures.
			err = TransportError(g.inner.Name(), op, err)
		}
		return err
	}

	var err error
	if g.br != nil {
		err = g.br.Execute(run)
		if errors.Is(err, breaker.ErrOpen) && !IsTransport(err) {
			err = TransportError(g.inner.Name(), op, err)
		}
	} else {
		err = run()
	}

	if g.observer != nil {
		g.observer.ObserveExchangeCall(g.inner.Name(), op, time.Since(start), err)
	}
	return out, err
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Candles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return call(ctx, g, "candles", func(ctx context.Context) ([]model.Candle, error) {
		return g.inner.Candles(ctx, symbol, interval, limit)
	})
}

func (g *Guarded) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return call(ctx, g, "ticker_price", func(ctx context.Context) (float64, error) {
		return g.inner.TickerPrice(ctx, symbol)
	})
}

func (g *Guarded) AccountBalance(ctx context.Context) (model.Balances, error) {
	return call(ctx, g, "account_balance", func(ctx context.Context) (model.Balances, error) {
		return g.inner.AccountBalance(ctx)
	})
}

func (g *Guarded) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error) {
	return call(ctx, g, "submit_order", func(ctx context.Context) (model.OrderAck, error) {
		return g.inner.SubmitOrder(ctx, req)
	})
}

func (g *Guarded) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := call(ctx, g, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.CancelOrder(ctx, symbol, orderID)
	})
	return err
}

func (g *Guarded) OpenOrders(ctx context.Context, symbol string) ([]model.Order, error) {
	return call(ctx, g, "open_orders", func(ctx context.Context) ([]model.Order, error) {
		return g.inner.OpenOrders(ctx, symbol)
	})
}

var _ model.Exchange = (*Guarded)(nil)

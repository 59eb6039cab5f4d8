package model

import "context"

// ── Exchange Port Interfaces ──
// These interfaces decouple the engine from concrete exchange gateways
// (BingX, Binance). Every method is a blocking I/O boundary; callers bound it
// with a context deadline.

// MarketData serves candles and last prices.
type MarketData interface {
	// Candles returns up to limit candles for symbol, oldest first.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// TickerPrice returns the last traded price for symbol.
	TickerPrice(ctx context.Context, symbol string) (float64, error)
}

// Account serves account balances.
type Account interface {
	AccountBalance(ctx context.Context) (Balances, error)
}

// Trading submits and manages orders.
type Trading interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
}

// Exchange is the full gateway contract.
type Exchange interface {
	MarketData
	Account
	Trading

	// Name identifies the venue in logs and metrics.
	Name() string
}

// Package execution turns an actionable signal into a recorded trade.
//
// Two backends implement the same capabilities: the DemoLedger simulates
// fills against virtual balances, the Live executor submits orders to the
// exchange. The Machine picks one per tick from the bot mode and walks the
// execution states, recording the outcome in the trade ledger.
package execution

import (
	"context"
	"errors"

	"tradebot-v1/internal/model"
)

// ErrNoBackend is returned when the selected mode has no backend configured
// (e.g. real mode without API credentials).
var ErrNoBackend = errors.New("execution: no backend for mode")

// BalanceSource reports spendable balances.
type BalanceSource interface {
	Balances(ctx context.Context) (model.Balances, error)
}

// Fill is the result of a market order.
type Fill struct {
	OrderID string  `json:"order_id"`
	Status  string  `json:"status"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
	Fee     float64 `json:"fee"`
}

// OrderExecutor places entry and protective orders.
type OrderExecutor interface {
	// Execute fills req at markPrice (demo) or at the exchange's price (real).
	Execute(ctx context.Context, req model.OrderRequest, markPrice, feeRate float64) (Fill, error)
	// PlaceProtective places a stop-loss or take-profit order.
	PlaceProtective(ctx context.Context, req model.OrderRequest) (model.OrderAck, error)
}

// Backend is one execution mode.
type Backend interface {
	BalanceSource
	OrderExecutor
	Mode() model.Mode
}

// Backends holds the backend of each mode. Real may be nil.
type Backends struct {
	Demo Backend
	Real Backend
}

// For returns the backend of mode.
func (b Backends) For(mode model.Mode) (Backend, error) {
	var be Backend
	if mode == model.ModeReal {
		be = b.Real
	} else {
		be = b.Demo
	}
	if be == nil {
		return nil, ErrNoBackend
	}
	return be, nil
}

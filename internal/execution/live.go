package execution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tradebot-v1/internal/model"
)

// Live executes against the exchange account.
type Live struct {
	ex  model.Exchange
	log *zap.Logger
}

// NewLive creates a live backend on ex (normally a guarded gateway).
func NewLive(ex model.Exchange, log *zap.Logger) *Live {
	return &Live{ex: ex, log: log.Named("live")}
}

func (l *Live) Mode() model.Mode { return model.ModeReal }

// Balances returns the exchange account balances.
func (l *Live) Balances(ctx context.Context) (model.Balances, error) {
	return l.ex.AccountBalance(ctx)
}

// Execute submits a market order. The fee is estimated from feeRate since
// spot acks do not always report commissions.
func (l *Live) Execute(ctx context.Context, req model.OrderRequest, markPrice, feeRate float64) (Fill, error) {
	req.Type = model.OrderMarket
	ack, err := l.ex.SubmitOrder(ctx, req)
	if err != nil {
		return Fill{}, err
	}
	if ack.OrderID == "" {
		return Fill{}, fmt.Errorf("execution: %s accepted order without id", l.ex.Name())
	}

	f := Fill{OrderID: ack.OrderID, Status: ack.Status, Price: ack.Price, Qty: ack.Qty}
	if f.Price <= 0 {
		f.Price = markPrice
	}
	if f.Qty <= 0 {
		f.Qty = req.Qty
	}
	f.Fee = f.Price * f.Qty * feeRate

	l.log.Info("order filled",
		zap.String("exchange", l.ex.Name()), zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)), zap.Float64("qty", f.Qty),
		zap.Float64("price", f.Price), zap.String("order_id", f.OrderID), zap.String("status", f.Status))
	return f, nil
}

// PlaceProtective submits a stop order.
func (l *Live) PlaceProtective(ctx context.Context, req model.OrderRequest) (model.OrderAck, error) {
	return l.ex.SubmitOrder(ctx, req)
}

var _ Backend = (*Live)(nil)

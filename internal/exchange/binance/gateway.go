// Package binance adapts the Binance spot API (via go-binance) to the
// engine's exchange ports.
package binance

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"

	"tradebot-v1/internal/exchange"
	"tradebot-v1/internal/model"
)

const (
	venue      = "binance"
	TestnetURL = "https://testnet.binance.vision"
)

// Config configures the gateway. BaseURL overrides Testnet when set.
type Config struct {
	APIKey       string
	SecretKey    string
	Testnet      bool
	BaseURL      string
	QtyPrecision int32
}

// Gateway implements model.Exchange on a go-binance spot client.
type Gateway struct {
	spot      *gobinance.Client
	precision int32
	log       *zap.Logger
}

// New creates a gateway.
func New(cfg Config, log *zap.Logger) *Gateway {
	spot := gobinance.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		spot.BaseURL = cfg.BaseURL
	case cfg.Testnet:
		spot.BaseURL = TestnetURL
	}
	if cfg.QtyPrecision <= 0 {
		cfg.QtyPrecision = exchange.DefaultQtyPrecision
	}
	return &Gateway{spot: spot, precision: cfg.QtyPrecision, log: log.Named("binance")}
}

func (g *Gateway) Name() string { return venue }

// pair turns "BTC-USDT" into Binance's "BTCUSDT".
func pair(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// wrapErr maps go-binance errors onto *exchange.Error.
func wrapErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return exchange.APIError(venue, op, 0, int(apiErr.Code), apiErr.Message)
	}
	return exchange.TransportError(venue, op, err)
}

func mustFloat(s string) float64 {
	f, _ := exchange.ParseFloat(s)
	return f
}

// Candles returns klines oldest first.
func (g *Gateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	klines, err := g.spot.NewKlinesService().
		Symbol(pair(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrapErr("candles", err)
	}

	candles := make([]model.Candle, len(klines))
	for i, k := range klines {
		candles[i] = model.Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     mustFloat(k.Open),
			High:     mustFloat(k.High),
			Low:      mustFloat(k.Low),
			Close:    mustFloat(k.Close),
			Volume:   mustFloat(k.Volume),
		}
	}
	return candles, nil
}

// TickerPrice returns the latest price.
func (g *Gateway) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := g.spot.NewListPricesService().Symbol(pair(symbol)).Do(ctx)
	if err != nil {
		return 0, wrapErr("ticker_price", err)
	}
	for _, p := range prices {
		if p.Symbol == pair(symbol) {
			return exchange.ParseFloat(p.Price)
		}
	}
	return 0, exchange.APIError(venue, "ticker_price", 0, 0, "no price for "+symbol)
}

// AccountBalance returns spot balances.
func (g *Gateway) AccountBalance(ctx context.Context) (model.Balances, error) {
	acct, err := g.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapErr("account_balance", err)
	}
	out := make(model.Balances, len(acct.Balances))
	for _, b := range acct.Balances {
		out[b.Asset] = model.Balance{Asset: b.Asset, Free: mustFloat(b.Free), Locked: mustFloat(b.Locked)}
	}
	return out, nil
}

// orderType maps engine order types onto Binance spot types. Spot has no
// *_MARKET stop types; STOP_LOSS and TAKE_PROFIT trigger market orders.
func orderType(t model.OrderType) gobinance.OrderType {
	switch t {
	case model.OrderLimit:
		return gobinance.OrderTypeLimit
	case model.OrderStopMarket:
		return gobinance.OrderTypeStopLoss
	case model.OrderTakeProfitMarket:
		return gobinance.OrderTypeTakeProfit
	default:
		return gobinance.OrderTypeMarket
	}
}

func fromOrderType(t gobinance.OrderType) model.OrderType {
	switch t {
	case gobinance.OrderTypeLimit:
		return model.OrderLimit
	case gobinance.OrderTypeStopLoss:
		return model.OrderStopMarket
	case gobinance.OrderTypeTakeProfit:
		return model.OrderTakeProfitMarket
	default:
		return model.OrderType(t)
	}
}

// SubmitOrder places a spot order.
func (g *Gateway) SubmitOrder(ctx context.Context, r model.OrderRequest) (model.OrderAck, error) {
	svc := g.spot.NewCreateOrderService().
		Symbol(pair(r.Symbol)).
		Side(gobinance.SideType(r.Side)).
		Type(orderType(r.Type)).
		Quantity(exchange.FormatQty(r.Qty, g.precision))
	if r.Type == model.OrderLimit {
		svc = svc.Price(exchange.FormatPrice(r.Price, 8)).TimeInForce(gobinance.TimeInForceTypeGTC)
	}
	if r.StopPrice > 0 {
		svc = svc.StopPrice(exchange.FormatPrice(r.StopPrice, 8))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return model.OrderAck{}, wrapErr("submit_order", err)
	}
	ack := model.OrderAck{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Status:  string(res.Status),
		Qty:     mustFloat(res.ExecutedQuantity),
	}
	if quote := mustFloat(res.CummulativeQuoteQuantity); quote > 0 && ack.Qty > 0 {
		ack.Price = quote / ack.Qty
	} else {
		ack.Price = mustFloat(res.Price)
	}
	g.log.Debug("order accepted",
		zap.String("symbol", r.Symbol), zap.String("side", string(r.Side)), zap.String("order_id", ack.OrderID))
	return ack, nil
}

// CancelOrder cancels one order.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.APIError(venue, "cancel_order", 0, 0, "invalid order id "+orderID)
	}
	if _, err := g.spot.NewCancelOrderService().Symbol(pair(symbol)).OrderID(id).Do(ctx); err != nil {
		return wrapErr("cancel_order", err)
	}
	return nil
}

// OpenOrders lists open orders of symbol.
func (g *Gateway) OpenOrders(ctx context.Context, symbol string) ([]model.Order, error) {
	orders, err := g.spot.NewListOpenOrdersService().Symbol(pair(symbol)).Do(ctx)
	if err != nil {
		return nil, wrapErr("open_orders", err)
	}
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, model.Order{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			Symbol:    symbol,
			Side:      model.Side(o.Side),
			Type:      fromOrderType(o.Type),
			Qty:       mustFloat(o.OrigQuantity),
			Price:     mustFloat(o.Price),
			StopPrice: mustFloat(o.StopPrice),
			Status:    string(o.Status),
			CreatedAt: time.UnixMilli(o.Time).UTC(),
		})
	}
	return out, nil
}

var _ model.Exchange = (*Gateway)(nil)

package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradebot-v1/internal/exchange"
	"tradebot-v1/internal/model"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "key", SecretKey: "secret", BaseURL: srv.URL}, zap.NewNop())
}

func TestPair(t *testing.T) {
	assert.Equal(t, "BTCUSDT", pair("BTC-USDT"))
	assert.Equal(t, "ETHUSDT", pair("eth-usdt"))
}

func TestCandles(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			[1700000000000,"100.0","102.0","99.0","101.0","5.0",1700000299999,"500",10,"2","200","0"],
			[1700000300000,"101.0","103.0","100.0","102.5","7.0",1700000599999,"700",12,"3","300","0"]
		]`))
	})

	candles, err := g.Candles(context.Background(), "BTC-USDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 102.5, candles[1].Close)
	assert.Equal(t, 7.0, candles[1].Volume)
}

func TestAPIErrorMapped(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})

	_, err := g.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "BTC-USDT", Side: model.SideBuy, Type: model.OrderMarket, Qty: 0.001,
	})
	var xe *exchange.Error
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, -2010, xe.Code)
	assert.False(t, xe.Transport)
	assert.Contains(t, xe.Message, "insufficient balance")
}

func TestTransportError(t *testing.T) {
	g := New(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := g.Candles(context.Background(), "BTC-USDT", "5m", 10)
	assert.True(t, exchange.IsTransport(err))
}

func TestOrderTypeMapping(t *testing.T) {
	for _, tt := range []model.OrderType{model.OrderMarket, model.OrderLimit, model.OrderStopMarket, model.OrderTakeProfitMarket} {
		assert.Equal(t, tt, fromOrderType(orderType(tt)))
	}
}

func TestCancelOrder_InvalidID(t *testing.T) {
	g := New(Config{}, zap.NewNop())
	err := g.CancelOrder(context.Background(), "BTC-USDT", "not-a-number")
	var xe *exchange.Error
	require.True(t, errors.As(err, &xe))
	assert.False(t, xe.Transport)
}

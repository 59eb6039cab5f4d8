package bingx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradebot-v1/internal/exchange"
	"tradebot-v1/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "key", SecretKey: "secret", BaseURL: srv.URL}, zap.NewNop())
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestSign_Deterministic(t *testing.T) {
	got := sign("secret", "symbol=BTC-USDT&timestamp=1")
	assert.Len(t, got, 64)
	assert.Equal(t, got, sign("secret", "symbol=BTC-USDT&timestamp=1"))
	assert.NotEqual(t, got, sign("other", "symbol=BTC-USDT&timestamp=1"))
}

func TestEncodeSorted(t *testing.T) {
	assert.Equal(t, "a=1&b=x+y&c=%2F", encodeSorted(map[string]string{"c": "/", "a": "1", "b": "x y"}))
}

func TestCandles_SortedOldestFirst(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openApi/spot/v2/market/kline", r.URL.Path)
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		assert.Empty(t, r.Header.Get(apiKeyHeader))
		w.Write([]byte(`{"code":0,"msg":"","data":[
			[1700000300000, 101, 103, 100, 102, 7, 1700000599999, 700],
			[1700000000000, "100", "102", "99", "101", "5", 1700000299999, "500"]
		]}`))
	})

	candles, err := c.Candles(context.Background(), "BTC-USDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 102.0, candles[1].Close)
	assert.Equal(t, 7.0, candles[1].Volume)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
}

func TestAccountBalance_Signed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get(apiKeyHeader))
		q := r.URL.RawQuery
		idx := strings.LastIndex(q, "&signature=")
		if !assert.Greater(t, idx, 0) {
			return
		}
		assert.Equal(t, sign("secret", q[:idx]), q[idx+len("&signature="):])
		assert.Equal(t, "1700000000000", r.URL.Query().Get("timestamp"))
		w.Write([]byte(`{"code":0,"data":{"balances":[
			{"asset":"USDT","free":"1000.5","locked":"0"},
			{"asset":"btc","free":"0.01","locked":"0.002"}
		]}}`))
	})

	bal, err := c.AccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.5, bal.Free("USDT"))
	assert.Equal(t, 0.002, bal["BTC"].Locked)
}

func TestSubmitOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "0.001999", q.Get("quantity"))
		assert.Empty(t, q.Get("stopPrice"))
		w.Write([]byte(`{"code":0,"data":{"symbol":"BTC-USDT","orderId":123456789,"status":"FILLED",
			"executedQty":"0.001999","cummulativeQuoteQty":"99.95"}}`))
	})

	ack, err := c.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "BTC-USDT", Side: model.SideBuy, Type: model.OrderMarket, Qty: 0.0019998,
	})
	require.NoError(t, err)
	assert.Equal(t, "123456789", ack.OrderID)
	assert.Equal(t, "FILLED", ack.Status)
	assert.InDelta(t, 99.95/0.001999, ack.Price, 1e-6)
}

func TestErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":101204,"msg":"Insufficient margin","data":{}}`))
	})
	_, err := c.SubmitOrder(context.Background(), model.OrderRequest{Symbol: "BTC-USDT", Side: model.SideBuy, Type: model.OrderMarket, Qty: 1})

	var xe *exchange.Error
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, 101204, xe.Code)
	assert.Equal(t, "Insufficient margin", xe.Message)
	assert.False(t, xe.Transport)
}

func TestHTTPErrorWithoutEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("Too Many Requests"))
	})
	_, err := c.TickerPrice(context.Background(), "BTC-USDT")

	var xe *exchange.Error
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, http.StatusTooManyRequests, xe.HTTPStatus)
	assert.Equal(t, 0, xe.Code)
}

func TestTransportError(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := c.Candles(context.Background(), "BTC-USDT", "5m", 10)
	assert.True(t, exchange.IsTransport(err))
}

func TestOpenOrdersAndCancel(t *testing.T) {
	var cancelled []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/openApi/spot/v1/trade/openOrders":
			w.Write([]byte(`{"code":0,"data":{"orders":[
				{"symbol":"ETH-USDT","orderId":11,"price":"1900","origQty":"0.5","status":"NEW","type":"LIMIT","side":"SELL","time":1700000000000},
				{"symbol":"ETH-USDT","orderId":12,"stopPrice":"1800","origQty":"0.5","status":"NEW","type":"STOP_MARKET","side":"SELL","time":1700000000000}
			]}}`))
		case "/openApi/spot/v1/trade/cancel":
			cancelled = append(cancelled, r.URL.Query().Get("orderId"))
			w.Write([]byte(`{"code":0,"data":{}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	orders, err := c.OpenOrders(context.Background(), "ETH-USDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, model.OrderStopMarket, orders[1].Type)
	assert.Equal(t, 1800.0, orders[1].StopPrice)

	for _, o := range orders {
		require.NoError(t, c.CancelOrder(context.Background(), o.Symbol, o.OrderID))
	}
	assert.Equal(t, []string{"11", "12"}, cancelled)
}

func TestTickerPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":[{"symbol":"SOL-USDT","lastPrice":"145.25"}]}`))
	})
	px, err := c.TickerPrice(context.Background(), "SOL-USDT")
	require.NoError(t, err)
	assert.Equal(t, 145.25, px)
}

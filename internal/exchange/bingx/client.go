// Package bingx is a BingX spot REST gateway.
package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradebot-v1/internal/exchange"
	"tradebot-v1/internal/model"
)

const (
	DefaultBaseURL = "https://open-api.bingx.com"
	venue          = "bingx"
	apiKeyHeader   = "X-BX-APIKEY"
)

// Config configures the client.
type Config struct {
	APIKey       string
	SecretKey    string
	BaseURL      string
	QtyPrecision int32
	HTTPClient   *http.Client
}

// Client implements model.Exchange against the BingX spot API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
	now  func() time.Time
}

// New creates a client. Missing BaseURL and HTTPClient get defaults.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.QtyPrecision <= 0 {
		cfg.QtyPrecision = exchange.DefaultQtyPrecision
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: exchange.DefaultTimeout}
	}
	return &Client{cfg: cfg, http: hc, log: log.Named("bingx"), now: time.Now}
}

func (c *Client) Name() string { return venue }

// envelope is the BingX response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign returns the HMAC-SHA256 hex signature of the query string.
func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeSorted renders params sorted by key, values URL-escaped.
func encodeSorted(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// do performs a request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, op, method, path string, params map[string]string, signed bool, out any) error {
	if params == nil {
		params = map[string]string{}
	}
	if signed {
		params["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	}
	query := encodeSorted(params)
	if signed {
		query += "&signature=" + sign(c.cfg.SecretKey, query)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path+"?"+query, nil)
	if err != nil {
		return exchange.TransportError(venue, op, err)
	}
	if signed {
		req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return exchange.TransportError(venue, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return exchange.TransportError(venue, op, err)
	}

	var env envelope
	if jerr := json.Unmarshal(body, &env); jerr != nil {
		if resp.StatusCode >= 400 {
			return exchange.APIError(venue, op, resp.StatusCode, 0, strings.TrimSpace(string(body)))
		}
		return exchange.TransportError(venue, op, fmt.Errorf("decode envelope: %w", jerr))
	}
	if resp.StatusCode >= 400 || env.Code != 0 {
		return exchange.APIError(venue, op, resp.StatusCode, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return exchange.TransportError(venue, op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

// Candles returns klines oldest first. Each row is
// [openTime, open, high, low, close, volume, closeTime, quoteVolume].
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	var rows [][]exchange.Number
	err := c.do(ctx, "candles", http.MethodGet, "/openApi/spot/v2/market/kline", map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}, false, &rows)
	if err != nil {
		return nil, err
	}

	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		out = append(out, model.Candle{
			OpenTime: time.UnixMilli(int64(r[0])).UTC(),
			Open:     r[1].Float(),
			High:     r[2].Float(),
			Low:      r[3].Float(),
			Close:    r[4].Float(),
			Volume:   r[5].Float(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

// TickerPrice returns the last price from the 24h ticker.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var tickers []struct {
		Symbol    string          `json:"symbol"`
		LastPrice exchange.Number `json:"lastPrice"`
	}
	err := c.do(ctx, "ticker_price", http.MethodGet, "/openApi/spot/v1/ticker/24hr", map[string]string{
		"symbol":    symbol,
		"timestamp": strconv.FormatInt(c.now().UnixMilli(), 10),
	}, false, &tickers)
	if err != nil {
		return 0, err
	}
	for _, t := range tickers {
		if strings.EqualFold(t.Symbol, symbol) && t.LastPrice > 0 {
			return t.LastPrice.Float(), nil
		}
	}
	return 0, exchange.APIError(venue, "ticker_price", http.StatusOK, 0, "no ticker for "+symbol)
}

// AccountBalance returns spot balances.
func (c *Client) AccountBalance(ctx context.Context) (model.Balances, error) {
	var data struct {
		Balances []struct {
			Asset  string          `json:"asset"`
			Free   exchange.Number `json:"free"`
			Locked exchange.Number `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(ctx, "account_balance", http.MethodGet, "/openApi/spot/v1/account/balance", nil, true, &data); err != nil {
		return nil, err
	}
	out := make(model.Balances, len(data.Balances))
	for _, b := range data.Balances {
		asset := strings.ToUpper(b.Asset)
		out[asset] = model.Balance{Asset: asset, Free: b.Free.Float(), Locked: b.Locked.Float()}
	}
	return out, nil
}

type orderData struct {
	Symbol      string          `json:"symbol"`
	OrderID     json.Number     `json:"orderId"`
	Price       exchange.Number `json:"price"`
	StopPrice   exchange.Number `json:"stopPrice"`
	OrigQty     exchange.Number `json:"origQty"`
	ExecutedQty exchange.Number `json:"executedQty"`
	QuoteQty    exchange.Number `json:"cummulativeQuoteQty"`
	Status      string          `json:"status"`
	Type        string          `json:"type"`
	Side        string          `json:"side"`
	Time        int64           `json:"time"`
}

// SubmitOrder places a spot order. Stop orders carry stopPrice.
func (c *Client) SubmitOrder(ctx context.Context, r model.OrderRequest) (model.OrderAck, error) {
	params := map[string]string{
		"symbol":   r.Symbol,
		"side":     string(r.Side),
		"type":     string(r.Type),
		"quantity": exchange.FormatQty(r.Qty, c.cfg.QtyPrecision),
	}
	if r.Price > 0 {
		params["price"] = exchange.FormatPrice(r.Price, 8)
	}
	if r.StopPrice > 0 {
		params["stopPrice"] = exchange.FormatPrice(r.StopPrice, 8)
	}

	var d orderData
	if err := c.do(ctx, "submit_order", http.MethodPost, "/openApi/spot/v1/trade/order", params, true, &d); err != nil {
		return model.OrderAck{}, err
	}
	ack := model.OrderAck{OrderID: d.OrderID.String(), Status: d.Status, Qty: d.ExecutedQty.Float()}
	if d.ExecutedQty > 0 && d.QuoteQty > 0 {
		ack.Price = d.QuoteQty.Float() / d.ExecutedQty.Float()
	} else {
		ack.Price = d.Price.Float()
	}
	c.log.Debug("order accepted",
		zap.String("symbol", r.Symbol), zap.String("side", string(r.Side)),
		zap.String("type", string(r.Type)), zap.String("order_id", ack.OrderID))
	return ack, nil
}

// CancelOrder cancels one order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return c.do(ctx, "cancel_order", http.MethodPost, "/openApi/spot/v1/trade/cancel", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}, true, nil)
}

// OpenOrders lists open orders of symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]model.Order, error) {
	var data struct {
		Orders []orderData `json:"orders"`
	}
	if err := c.do(ctx, "open_orders", http.MethodGet, "/openApi/spot/v1/trade/openOrders", map[string]string{
		"symbol": symbol,
	}, true, &data); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(data.Orders))
	for _, o := range data.Orders {
		out = append(out, model.Order{
			OrderID:   o.OrderID.String(),
			Symbol:    o.Symbol,
			Side:      model.Side(o.Side),
			Type:      model.OrderType(o.Type),
			Qty:       o.OrigQty.Float(),
			Price:     o.Price.Float(),
			StopPrice: o.StopPrice.Float(),
			Status:    o.Status,
			CreatedAt: time.UnixMilli(o.Time).UTC(),
		})
	}
	return out, nil
}

var _ model.Exchange = (*Client)(nil)

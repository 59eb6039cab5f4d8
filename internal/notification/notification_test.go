package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, zap.NewNop())
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "halted", Message: "drawdown 16%"}))
	assert.Equal(t, "CRITICAL", got["level"])
	assert.Equal(t, "halted", got["title"])
	assert.Equal(t, "tradebot", got["source"])
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, zap.NewNop()).Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestTelegramNotifier(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", zap.NewNop())
	n.apiURL = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertWarning, Title: "BTC-USDT", Message: "paused 5m"}))
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.Contains(t, body["text"], `BTC\-USDT`)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `risk 0\.5 \(halved\)`, escapeMarkdown("risk 0.5 (halved)"))
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{NewLogNotifier(zap.NewNop()), failing{boom}, failing{nil}}
	err := m.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, Multi{NewLogNotifier(zap.NewNop())}.Send(context.Background(), Alert{}))
}

func TestTelegramNotifier_APIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", zap.NewNop())
	n.apiURL = srv.URL
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "halt"})
	assert.ErrorContains(t, err, "chat not found")
}

func TestTelegramText(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	text := telegramText(Alert{
		Level:   AlertCritical,
		Title:   "Trading halted: auth",
		Message: "signature rejected",
		Symbol:  "ETH-USDT",
		Kind:    "auth",
		At:      at,
	})
	assert.Contains(t, text, "🚨 *Trading halted: auth*")
	assert.Contains(t, text, `symbol: ETH\-USDT`)
	assert.Contains(t, text, "kind: auth")
	assert.Contains(t, text, "`2024-03-01 12:30:00 UTC`")
}

func TestWebhookNotifier_TradeContext(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	a := Alert{Level: AlertCritical, Title: "Trading halted: ip_restricted", Message: "IP not whitelisted", Symbol: "BTC-USDT", Kind: "ip_restricted", At: at}
	require.NoError(t, NewWebhookNotifier(srv.URL, zap.NewNop()).Send(context.Background(), a))

	assert.Equal(t, "BTC-USDT", got["symbol"])
	assert.Equal(t, "ip_restricted", got["kind"])
	assert.Equal(t, "2024-03-01T12:30:00Z", got["ts"])
	assert.Equal(t, "[CRITICAL] Trading halted: ip_restricted\nIP not whitelisted\nsymbol: BTC-USDT\nkind: ip_restricted", got["text"])
}

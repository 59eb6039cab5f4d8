package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tradebot-v1/internal/breaker"
)

func TestObserveExchangeCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveExchangeCall("bingx", "ticker_price", 20*time.Millisecond, nil)
	m.ObserveExchangeCall("bingx", "ticker_price", 30*time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.ExchangeErrorsTotal.WithLabelValues("bingx", "ticker_price")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ExchangeCallDur); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestObserveBreaker(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveBreaker("exchange", breaker.StateClosed, breaker.StateOpen)
	m.ObserveBreaker("exchange", breaker.StateOpen, breaker.StateHalfOpen)

	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("exchange")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BreakerTrips.WithLabelValues("exchange")); got != 1 {
		t.Errorf("trips = %v, want 1", got)
	}
}

func TestHealthz(t *testing.T) {
	h := NewHealthStatus("bingx")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h.SetRedisEnabled(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with redis down", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}

	h.SetExchangeOK(false)
	h.SetRedisEnabled(false)
	h.mu.Lock()
	h.SQLiteOK = false
	h.mu.Unlock()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", body.Status)
	}
}

// Package recovery maps exchange failures to recovery actions.
//
// Classify turns any gateway error into a Failure; Decide is a pure function
// from Failure to Action. Neither touches shared state: the scan coordinator
// applies the Action to the bot state.
package recovery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"tradebot-v1/internal/breaker"
	"tradebot-v1/internal/exchange"
)

// Kind is the recovery class of a failure.
type Kind string

const (
	KindNone               Kind = "none"
	KindAuth               Kind = "auth"
	KindIPWhitelist        Kind = "ip_whitelist"
	KindRateLimit          Kind = "rate_limit"
	KindInsufficientMargin Kind = "insufficient_margin"
	KindLeverage           Kind = "leverage_exceeded"
	KindOpenOrders         Kind = "open_orders_conflict"
	KindUnknown            Kind = "unknown"
	KindTransport          Kind = "transport"
)

// Failure is a classified error.
type Failure struct {
	Kind       Kind          `json:"kind"`
	Code       int           `json:"code,omitempty"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Message    string        `json:"message"`
	Pause      time.Duration `json:"pause,omitempty"` // rate limits only
}

type codeClass struct {
	kind  Kind
	pause time.Duration
}

// Exchange codes. BingX codes are positive, Binance codes negative.
var codeTable = map[int]codeClass{
	// signature / key invalid
	100001: {kind: KindAuth},
	100004: {kind: KindAuth},
	100412: {kind: KindAuth},
	100413: {kind: KindAuth},
	100421: {kind: KindAuth},
	-1022:  {kind: KindAuth},
	-2014:  {kind: KindAuth},
	-2015:  {kind: KindAuth},

	100419: {kind: KindIPWhitelist},

	100410: {kind: KindRateLimit, pause: 5 * time.Minute},
	101514: {kind: KindRateLimit, pause: 10 * time.Minute},
	-1003:  {kind: KindRateLimit, pause: time.Minute},
	-1015:  {kind: KindRateLimit, pause: time.Minute},

	101204: {kind: KindInsufficientMargin},

	101414: {kind: KindLeverage},
	101209: {kind: KindLeverage},

	101212: {kind: KindOpenOrders},
	80013:  {kind: KindOpenOrders},
}

// binanceNewOrderRejected is reused by Binance for several rejections; only
// the insufficient balance variant is a margin problem.
const binanceNewOrderRejected = -2010

// DefaultRateLimitPause applies to HTTP 429 without a known code.
const DefaultRateLimitPause = time.Minute

// Classify maps err to a Failure. A nil error is KindNone.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Kind: KindNone}
	}

	var xe *exchange.Error
	if errors.As(err, &xe) {
		if xe.Transport {
			return Failure{Kind: KindTransport, Message: xe.Message}
		}
		f := Failure{Kind: KindUnknown, Code: xe.Code, HTTPStatus: xe.HTTPStatus, Message: xe.Message}
		if c, ok := codeTable[xe.Code]; ok {
			f.Kind, f.Pause = c.kind, c.pause
			return f
		}
		if xe.Code == binanceNewOrderRejected && strings.Contains(strings.ToLower(xe.Message), "insufficient") {
			f.Kind = KindInsufficientMargin
			return f
		}
		switch xe.HTTPStatus {
		case http.StatusUnauthorized:
			f.Kind = KindAuth
		case http.StatusForbidden, http.StatusTeapot:
			f.Kind = KindIPWhitelist
		case http.StatusTooManyRequests:
			f.Kind, f.Pause = KindRateLimit, DefaultRateLimitPause
		}
		return f
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, breaker.ErrOpen) {
		return Failure{Kind: KindTransport, Message: err.Error()}
	}
	return Failure{Kind: KindUnknown, Message: err.Error()}
}

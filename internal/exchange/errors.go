// Package exchange holds the pieces shared by every exchange gateway: the
// structured error type and the guarded wrapper that puts a timeout and a
// circuit breaker in front of a gateway.
package exchange

import (
	"errors"
	"fmt"
)

// Error is a failed exchange call. Code is the exchange's own error code (0
// when the response carried none); HTTPStatus is set for non-2xx responses.
// Transport marks network, timeout and decoding failures where the exchange
// never produced a verdict.
type Error struct {
	Exchange   string
	Op         string
	Code       int
	HTTPStatus int
	Message    string
	Transport  bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Transport:
		return fmt.Sprintf("%s %s: transport: %s", e.Exchange, e.Op, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("%s %s: code %d: %s", e.Exchange, e.Op, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s %s: http %d: %s", e.Exchange, e.Op, e.HTTPStatus, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// APIError builds a structured rejection.
func APIError(exchange, op string, httpStatus, code int, msg string) *Error {
	return &Error{Exchange: exchange, Op: op, HTTPStatus: httpStatus, Code: code, Message: msg}
}

// TransportError wraps a network-level failure.
func TransportError(exchange, op string, err error) *Error {
	return &Error{Exchange: exchange, Op: op, Message: err.Error(), Transport: true, Err: err}
}

// IsTransport reports whether err is a transport-level exchange failure.
func IsTransport(err error) bool {
	var xe *Error
	return errors.As(err, &xe) && xe.Transport
}

// Package notification delivers operator alerts (halts, drawdown limits,
// fatal exchange errors) to external channels.
package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one operator notification. Symbol and Kind are empty for
// account-wide alerts such as the drawdown halt.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
	Kind    string     `json:"kind,omitempty"`
	At      time.Time  `json:"at"`
}

func (a Alert) when() time.Time {
	if a.At.IsZero() {
		return time.Now().UTC()
	}
	return a.At.UTC()
}

// Notifier delivers alerts.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log. It never fails.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("level", string(a.Level)),
		zap.String("title", a.Title),
		zap.String("message", a.Message),
	}
	if a.Symbol != "" {
		fields = append(fields, zap.String("symbol", a.Symbol))
	}
	if a.Kind != "" {
		fields = append(fields, zap.String("kind", a.Kind))
	}
	if a.Level == AlertCritical {
		n.log.Error("alert", fields...)
	} else {
		n.log.Warn("alert", fields...)
	}
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// details renders the symbol/kind lines shared by the chat formats.
func details(a Alert) []string {
	var lines []string
	if a.Symbol != "" {
		lines = append(lines, "symbol: "+a.Symbol)
	}
	if a.Kind != "" {
		lines = append(lines, "kind: "+a.Kind)
	}
	return lines
}

func plainText(a Alert) string {
	parts := append([]string{a.Message}, details(a)...)
	return strings.Join(parts, "\n")
}

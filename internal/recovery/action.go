package recovery

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// ActionType is what the coordinator must do in response to a failure.
type ActionType string

const (
	ActionNone             ActionType = "none"
	ActionHalt             ActionType = "halt"
	ActionPause            ActionType = "pause"
	ActionShrinkRisk       ActionType = "shrink_risk"
	ActionResetLeverage    ActionType = "reset_leverage"
	ActionCancelOpenOrders ActionType = "cancel_open_orders"
	ActionWarn             ActionType = "warn"
)

// Recovery constants.
const (
	RiskShrinkFactor = 0.5
	SafeLeverage     = 5
)

// Action describes a recovery step. It carries data only.
type Action struct {
	Type       ActionType    `json:"type"`
	Kind       Kind          `json:"kind"`
	PauseFor   time.Duration `json:"pause_for,omitempty"`
	RiskFactor float64       `json:"risk_factor,omitempty"`
	Leverage   int           `json:"leverage,omitempty"`
	Symbol     string        `json:"symbol,omitempty"`
	Reason     string        `json:"reason"`

	// Level is the log severity; Fatal marks non-self-healing conditions that
	// need an operator.
	Level zapcore.Level `json:"-"`
	Fatal bool          `json:"fatal,omitempty"`
}

// ChangesSettings reports whether applying a mutates bot settings or
// trading availability.
func (a Action) ChangesSettings() bool {
	switch a.Type {
	case ActionHalt, ActionPause, ActionShrinkRisk, ActionResetLeverage:
		return true
	}
	return false
}

// Decide maps a failure on symbol to its recovery action.
func Decide(f Failure, symbol string) Action {
	a := Action{Kind: f.Kind, Symbol: symbol}

	switch f.Kind {
	case KindNone:
		a.Type, a.Level = ActionNone, zapcore.DebugLevel
		a.Reason = "no failure"
	case KindAuth:
		a.Type, a.Level, a.Fatal = ActionHalt, zapcore.ErrorLevel, true
		a.Reason = fmt.Sprintf("API signature or key rejected (code %d): check API key and secret", f.Code)
	case KindIPWhitelist:
		a.Type, a.Level, a.Fatal = ActionHalt, zapcore.ErrorLevel, true
		a.Reason = fmt.Sprintf("IP not whitelisted (code %d): add this host to the API key whitelist", f.Code)
	case KindRateLimit:
		a.Type, a.Level = ActionPause, zapcore.WarnLevel
		a.PauseFor = f.Pause
		if a.PauseFor <= 0 {
			a.PauseFor = DefaultRateLimitPause
		}
		a.Reason = fmt.Sprintf("rate limit exceeded (code %d): trading paused for %s", f.Code, a.PauseFor)
	case KindInsufficientMargin:
		a.Type, a.Level = ActionShrinkRisk, zapcore.WarnLevel
		a.RiskFactor = RiskShrinkFactor
		a.Reason = fmt.Sprintf("insufficient margin (code %d): halving risk per trade", f.Code)
	case KindLeverage:
		a.Type, a.Level = ActionResetLeverage, zapcore.WarnLevel
		a.Leverage = SafeLeverage
		a.Reason = fmt.Sprintf("leverage exceeded (code %d): resetting leverage to %d", f.Code, SafeLeverage)
	case KindOpenOrders:
		a.Type, a.Level = ActionCancelOpenOrders, zapcore.WarnLevel
		a.Reason = fmt.Sprintf("open orders conflict (code %d): cancelling open orders for %s", f.Code, symbol)
	case KindTransport:
		a.Type, a.Level = ActionWarn, zapcore.WarnLevel
		a.Reason = "transport failure: " + f.Message
	default:
		a.Type, a.Level = ActionWarn, zapcore.WarnLevel
		a.Reason = fmt.Sprintf("unrecognized exchange error (code %d): %s", f.Code, f.Message)
	}
	return a
}

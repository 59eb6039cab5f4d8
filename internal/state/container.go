package state

import (
	"math"
	"sync"
	"time"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/recovery"
	"tradebot-v1/internal/ringbuf"
	"tradebot-v1/internal/strategy"
)

const recentRecoveryCap = 50

// RecoveryEvent is an applied recovery action.
type RecoveryEvent struct {
	At      time.Time       `json:"at"`
	Action  recovery.Action `json:"action"`
	Applied bool            `json:"applied"` // false when the action was a no-op (e.g. pause already active)
	Detail  string          `json:"detail,omitempty"`
}

// Snapshot is a consistent copy of the container for status reporting.
type Snapshot struct {
	Settings         BotSettings                `json:"settings"`
	TradingAllowed   bool                       `json:"trading_allowed"`
	PausedUntil      time.Time                  `json:"paused_until,omitempty"`
	PauseReason      string                     `json:"pause_reason,omitempty"`
	HaltReason       string                     `json:"halt_reason,omitempty"`
	LastSignals      map[string]strategy.Signal `json:"last_signals"`
	LastTrades       map[string]time.Time       `json:"last_trades"`
	RecentRecoveries []RecoveryEvent            `json:"recent_recoveries"`
}

// Container is the single owner of mutable bot state. All methods are safe
// for concurrent use; the scan cycle reads Settings once per tick.
type Container struct {
	mu sync.RWMutex

	settings    BotSettings
	pausedUntil time.Time
	pauseReason string
	haltReason  string

	lastTrade    map[string]time.Time
	lastAnyTrade time.Time
	lastSignals  map[string]strategy.Signal
	recoveries   *ringbuf.Ring[RecoveryEvent]

	listeners []func(BotSettings)
}

// NewContainer creates a container holding s.
func NewContainer(s BotSettings) *Container {
	return &Container{
		settings:    s.Clone(),
		lastTrade:   make(map[string]time.Time),
		lastSignals: make(map[string]strategy.Signal),
		recoveries:  ringbuf.New[RecoveryEvent](recentRecoveryCap),
	}
}

// OnSettingsChange registers fn to run after every settings change. fn runs
// outside the lock.
func (c *Container) OnSettingsChange(fn func(BotSettings)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Container) notify(s BotSettings) {
	c.mu.RLock()
	ls := append([]func(BotSettings){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range ls {
		fn(s.Clone())
	}
}

// Settings returns a copy of the current settings.
func (c *Container) Settings() BotSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.Clone()
}

// ApplySettingsPatch merges p into the live settings (last writer wins).
// Invalid patches return ErrConfigInvalid and change nothing. Re-enabling
// trading clears a halt.
func (c *Container) ApplySettingsPatch(p SettingsPatch) (BotSettings, error) {
	c.mu.Lock()
	next, err := p.Merge(c.settings)
	if err != nil {
		c.mu.Unlock()
		return c.Settings(), err
	}
	if p.Enabled != nil && *p.Enabled {
		c.haltReason = ""
	}
	c.settings = next
	c.mu.Unlock()

	c.notify(next)
	return next.Clone(), nil
}

// ReplaceSettings swaps in s after validation. Used when restoring persisted
// settings at startup.
func (c *Container) ReplaceSettings(s BotSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = s.Clone()
	c.mu.Unlock()
	return nil
}

// ApplyRecoveryAction applies a to the settings and pause state at now. It
// reports whether anything changed. Pauses never stack: while one is active a
// new pause is ignored and the active one is not extended.
func (c *Container) ApplyRecoveryAction(a recovery.Action, now time.Time) RecoveryEvent {
	ev := RecoveryEvent{At: now, Action: a}

	c.mu.Lock()
	switch a.Type {
	case recovery.ActionHalt:
		ev.Applied = c.settings.Enabled || c.haltReason == ""
		c.settings.Enabled = false
		c.haltReason = a.Reason
		ev.Detail = "trading disabled until re-enabled by an operator"
	case recovery.ActionPause:
		if now.Before(c.pausedUntil) {
			ev.Detail = "pause already active until " + c.pausedUntil.UTC().Format(time.RFC3339)
			break
		}
		c.pausedUntil = now.Add(a.PauseFor)
		c.pauseReason = a.Reason
		ev.Applied = true
		ev.Detail = "paused until " + c.pausedUntil.UTC().Format(time.RFC3339)
	case recovery.ActionShrinkRisk:
		next := math.Max(MinRiskPercent, c.settings.RiskPercent*a.RiskFactor)
		ev.Applied = next != c.settings.RiskPercent
		c.settings.RiskPercent = next
		c.settings.RiskLevel = RiskCustom
	case recovery.ActionResetLeverage:
		ev.Applied = c.settings.Leverage != a.Leverage
		c.settings.Leverage = a.Leverage
	}
	c.recoveries.Push(ev)
	settings := c.settings.Clone()
	c.mu.Unlock()

	if ev.Applied && a.ChangesSettings() && a.Type != recovery.ActionPause {
		c.notify(settings)
	}
	return ev
}

// Halt disables trading with reason (e.g. drawdown limit).
func (c *Container) Halt(reason string) {
	c.mu.Lock()
	c.settings.Enabled = false
	c.haltReason = reason
	s := c.settings.Clone()
	c.mu.Unlock()
	c.notify(s)
}

// TradingAllowed reports whether a cycle may trade at now, and why not.
func (c *Container) TradingAllowed(now time.Time) (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tradingAllowed(now)
}

func (c *Container) tradingAllowed(now time.Time) (bool, string) {
	if !c.settings.Enabled {
		if c.haltReason != "" {
			return false, "halted: " + c.haltReason
		}
		return false, "disabled"
	}
	if now.Before(c.pausedUntil) {
		return false, "paused: " + c.pauseReason
	}
	return true, ""
}

// RecordTrade updates cooldown state from a FILLED record. Other records are
// ignored.
func (c *Container) RecordTrade(rec model.TradeRecord) {
	if rec.Status != model.TradeFilled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTrade[rec.Symbol] = rec.Timestamp
	if rec.Timestamp.After(c.lastAnyTrade) {
		c.lastAnyTrade = rec.Timestamp
	}
}

// LastTradeTime returns the last trade time of symbol, zero if none.
func (c *Container) LastTradeTime(symbol string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTrade[symbol]
}

// LastAnyTrade returns the time of the newest trade on any symbol.
func (c *Container) LastAnyTrade() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAnyTrade
}

// RecordSignal stores the latest signal of its symbol.
func (c *Container) RecordSignal(sig strategy.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSignals[sig.Symbol] = sig
}

// Snapshot returns a consistent copy for status reporting.
func (c *Container) Snapshot(now time.Time) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	allowed, _ := c.tradingAllowed(now)
	snap := Snapshot{
		Settings:         c.settings.Clone(),
		TradingAllowed:   allowed,
		HaltReason:       c.haltReason,
		LastSignals:      make(map[string]strategy.Signal, len(c.lastSignals)),
		LastTrades:       make(map[string]time.Time, len(c.lastTrade)),
		RecentRecoveries: c.recoveries.Snapshot(),
	}
	if now.Before(c.pausedUntil) {
		snap.PausedUntil = c.pausedUntil
		snap.PauseReason = c.pauseReason
	}
	for k, v := range c.lastSignals {
		snap.LastSignals[k] = v
	}
	for k, v := range c.lastTrade {
		snap.LastTrades[k] = v
	}
	return snap
}

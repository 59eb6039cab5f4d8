package state

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/recovery"
	"tradebot-v1/internal/strategy"
)

var now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestDefaultSettings_Valid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, model.ModeDemo, s.Mode())
	assert.Equal(t, 5*time.Minute, s.TradeMode.Interval())
}

func TestTradeMode_Interval(t *testing.T) {
	assert.Equal(t, time.Minute, ModeAdaptive.Interval())
	assert.Equal(t, 10*time.Second, ModeScalping.Interval())
	assert.Equal(t, 5*time.Minute, TradeMode("bogus").Interval())
}

func TestPatch_PresetSetsRiskAndLeverage(t *testing.T) {
	p := SettingsPatch{RiskLevel: ptr(RiskHigh)}
	s, err := p.Merge(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 0.05, s.RiskPercent)
	assert.Equal(t, 10, s.Leverage)

	p = SettingsPatch{RiskLevel: ptr(RiskMedium), Leverage: ptr(2)}
	s, err = p.Merge(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 0.02, s.RiskPercent)
	assert.Equal(t, 2, s.Leverage)
}

func TestPatch_ExplicitRiskIsCustom(t *testing.T) {
	s, err := (&SettingsPatch{RiskPercent: ptr(0.03)}).Merge(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, RiskCustom, s.RiskLevel)
	assert.Equal(t, 0.03, s.RiskPercent)
}

func TestPatch_InvalidRejectedWholesale(t *testing.T) {
	base := DefaultSettings()
	p := SettingsPatch{
		MaxPositionSize: ptr(500.0),
		RiskPercent:     ptr(1.5),
		TradeMode:       ptr(TradeMode("turbo")),
		Watchlist:       []string{"BTCUSDT"},
	}
	got, err := p.Merge(base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
	assert.Contains(t, err.Error(), "risk_percent")
	assert.Contains(t, err.Error(), "trade_mode")
	assert.Contains(t, err.Error(), "BTCUSDT")
	assert.Equal(t, base, got)
}

func TestPatch_WatchlistNormalized(t *testing.T) {
	s, err := (&SettingsPatch{Watchlist: []string{" btc-usdt", "ETH-USDT", "BTC-USDT", ""}}).Merge(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, s.Watchlist)
}

func TestPatch_JSON(t *testing.T) {
	var p SettingsPatch
	require.NoError(t, json.Unmarshal([]byte(`{"enabled":false,"min_trade_interval":"2m","inter_symbol_delay":0.5}`), &p))
	s, err := p.Merge(DefaultSettings())
	require.NoError(t, err)
	assert.False(t, s.Enabled)
	assert.Equal(t, 2*time.Minute, s.MinTradeInterval.Std())
	assert.Equal(t, 500*time.Millisecond, s.InterSymbolDelay.Std())
}

func TestSettings_YAML(t *testing.T) {
	in := []byte("risk_percent: 0.02\nmin_trade_interval: 90s\ntrade_mode: scalping\n")
	s := DefaultSettings()
	require.NoError(t, yaml.Unmarshal(in, &s))
	assert.Equal(t, 90*time.Second, s.MinTradeInterval.Std())
	assert.Equal(t, ModeScalping, s.TradeMode)
	require.NoError(t, s.Validate())

	out, err := yaml.Marshal(&s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "min_trade_interval: 1m30s")
}

func TestContainer_ApplySettingsPatch(t *testing.T) {
	c := NewContainer(DefaultSettings())
	var seen []BotSettings
	c.OnSettingsChange(func(s BotSettings) { seen = append(seen, s) })

	_, err := c.ApplySettingsPatch(SettingsPatch{SignalThreshold: ptr(0.0)})
	require.ErrorIs(t, err, ErrConfigInvalid)
	assert.Equal(t, 0.3, c.Settings().SignalThreshold)
	assert.Empty(t, seen)

	s, err := c.ApplySettingsPatch(SettingsPatch{SignalThreshold: ptr(0.4)})
	require.NoError(t, err)
	assert.Equal(t, 0.4, s.SignalThreshold)
	require.Len(t, seen, 1)
	assert.Equal(t, 0.4, seen[0].SignalThreshold)
}

func TestContainer_SettingsIsCopy(t *testing.T) {
	c := NewContainer(DefaultSettings())
	s := c.Settings()
	s.Watchlist[0] = "MUTATED-USDT"
	assert.Equal(t, "BTC-USDT", c.Settings().Watchlist[0])
}

func TestContainer_RateLimitPauseDoesNotStack(t *testing.T) {
	c := NewContainer(DefaultSettings())
	a := recovery.Decide(recovery.Failure{Kind: recovery.KindRateLimit, Code: 100410, Pause: 5 * time.Minute}, "")

	ev := c.ApplyRecoveryAction(a, now)
	assert.True(t, ev.Applied)
	ok, reason := c.TradingAllowed(now.Add(time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "paused")

	// Same code again two minutes in: the original window is kept.
	ev = c.ApplyRecoveryAction(a, now.Add(2*time.Minute))
	assert.False(t, ev.Applied)

	ok, _ = c.TradingAllowed(now.Add(5*time.Minute - time.Second))
	assert.False(t, ok)
	ok, _ = c.TradingAllowed(now.Add(5 * time.Minute))
	assert.True(t, ok)

	// Once elapsed a new pause starts a new window.
	ev = c.ApplyRecoveryAction(a, now.Add(6*time.Minute))
	assert.True(t, ev.Applied)
	assert.Equal(t, now.Add(11*time.Minute), c.Snapshot(now.Add(6*time.Minute)).PausedUntil)
}

func TestContainer_InsufficientMarginHalvesRisk(t *testing.T) {
	c := NewContainer(DefaultSettings())
	before := c.Settings().RiskPercent

	a := recovery.Decide(recovery.Failure{Kind: recovery.KindInsufficientMargin, Code: 101204}, "BTC-USDT")
	c.ApplyRecoveryAction(a, now)

	s := c.Settings()
	assert.InDelta(t, before/2, s.RiskPercent, 1e-12)
	assert.Equal(t, RiskCustom, s.RiskLevel)

	for i := 0; i < 20; i++ {
		c.ApplyRecoveryAction(a, now)
	}
	assert.Equal(t, MinRiskPercent, c.Settings().RiskPercent)
}

func TestContainer_LeverageReset(t *testing.T) {
	c := NewContainer(DefaultSettings())
	_, err := c.ApplySettingsPatch(SettingsPatch{Leverage: ptr(20)})
	require.NoError(t, err)

	c.ApplyRecoveryAction(recovery.Decide(recovery.Failure{Kind: recovery.KindLeverage}, ""), now)
	assert.Equal(t, recovery.SafeLeverage, c.Settings().Leverage)
}

func TestContainer_HaltUntilReEnabled(t *testing.T) {
	c := NewContainer(DefaultSettings())
	c.ApplyRecoveryAction(recovery.Decide(recovery.Failure{Kind: recovery.KindAuth, Code: 100001}, ""), now)

	ok, reason := c.TradingAllowed(now.Add(24 * time.Hour))
	assert.False(t, ok)
	assert.Contains(t, reason, "halted")
	assert.NotEmpty(t, c.Snapshot(now).HaltReason)

	_, err := c.ApplySettingsPatch(SettingsPatch{Enabled: ptr(true)})
	require.NoError(t, err)
	ok, _ = c.TradingAllowed(now)
	assert.True(t, ok)
	assert.Empty(t, c.Snapshot(now).HaltReason)
}

func TestContainer_WarnChangesNothing(t *testing.T) {
	c := NewContainer(DefaultSettings())
	before := c.Settings()
	ev := c.ApplyRecoveryAction(recovery.Decide(recovery.Failure{Kind: recovery.KindTransport, Message: "timeout"}, ""), now)
	assert.False(t, ev.Applied)
	assert.Equal(t, before, c.Settings())
	assert.Len(t, c.Snapshot(now).RecentRecoveries, 1)
}

func TestContainer_RecordTrade(t *testing.T) {
	c := NewContainer(DefaultSettings())
	c.RecordTrade(model.TradeRecord{Symbol: "BTC-USDT", Timestamp: now, Status: model.TradeFailed})
	assert.True(t, c.LastTradeTime("BTC-USDT").IsZero())

	c.RecordTrade(model.TradeRecord{Symbol: "BTC-USDT", Timestamp: now, Status: model.TradeFilled})
	assert.Equal(t, now, c.LastTradeTime("BTC-USDT"))
	assert.Equal(t, now, c.LastAnyTrade())
	assert.True(t, c.LastTradeTime("ETH-USDT").IsZero())
}

func TestContainer_Snapshot(t *testing.T) {
	c := NewContainer(DefaultSettings())
	c.RecordSignal(strategy.Signal{Symbol: "ETH-USDT", Direction: strategy.DirectionSell, Confidence: 0.6})

	snap := c.Snapshot(now)
	assert.True(t, snap.TradingAllowed)
	assert.Equal(t, strategy.DirectionSell, snap.LastSignals["ETH-USDT"].Direction)
	assert.True(t, snap.PausedUntil.IsZero())
}

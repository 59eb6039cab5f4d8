// Package state owns the bot's shared mutable state: settings, trading
// pauses and halts, per-symbol cooldowns and the latest signals. Every change
// goes through a Container method; readers take copies.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradebot-v1/internal/model"
)

// ErrConfigInvalid is returned for settings that fail validation. Nothing is
// applied when it is returned.
var ErrConfigInvalid = errors.New("state: invalid settings")

// Duration is a time.Duration that reads and writes JSON and YAML as "5m0s".
// JSON also accepts a plain number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(p)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	p, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(p)
	return nil
}

// TradeMode selects the scan interval.
type TradeMode string

const (
	ModeNormal   TradeMode = "normal"
	ModeAdaptive TradeMode = "adaptive"
	ModeScalping TradeMode = "scalping"
)

var modeIntervals = map[TradeMode]time.Duration{
	ModeNormal:   5 * time.Minute,
	ModeAdaptive: time.Minute,
	ModeScalping: 10 * time.Second,
}

// Interval returns the scan interval of the mode (normal for unknown modes).
func (m TradeMode) Interval() time.Duration {
	if d, ok := modeIntervals[m]; ok {
		return d
	}
	return modeIntervals[ModeNormal]
}

// RiskLevel names a risk preset. The empty level means custom values.
type RiskLevel string

const (
	RiskCustom      RiskLevel = ""
	RiskRecommended RiskLevel = "recommended"
	RiskMedium      RiskLevel = "medium"
	RiskHigh        RiskLevel = "high"
)

// RiskPreset is the risk fraction and leverage of a RiskLevel.
type RiskPreset struct {
	RiskPercent float64
	Leverage    int
}

var riskPresets = map[RiskLevel]RiskPreset{
	RiskRecommended: {RiskPercent: 0.01, Leverage: 3},
	RiskMedium:      {RiskPercent: 0.02, Leverage: 5},
	RiskHigh:        {RiskPercent: 0.05, Leverage: 10},
}

// Preset returns the preset for level.
func Preset(level RiskLevel) (RiskPreset, bool) {
	p, ok := riskPresets[level]
	return p, ok
}

// MinRiskPercent is the floor for automatic risk shrinking.
const MinRiskPercent = 0.001

// DefaultWatchlist is traded when none is configured.
var DefaultWatchlist = []string{"BTC-USDT", "ETH-USDT", "SOL-USDT", "XRP-USDT", "DOGE-USDT"}

// BotSettings is the runtime configuration read by every component at the
// start of a tick.
type BotSettings struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	DemoMode bool `json:"demo_mode" yaml:"demo_mode"`

	RiskLevel        RiskLevel `json:"risk_level" yaml:"risk_level"`
	RiskPercent      float64   `json:"risk_percent" yaml:"risk_percent"` // fraction, 0.02 = 2%
	MaxPositionSize  float64   `json:"max_position_size" yaml:"max_position_size"`
	FeeRate          float64   `json:"fee_rate" yaml:"fee_rate"`
	MinTradeInterval Duration  `json:"min_trade_interval" yaml:"min_trade_interval"`
	MaxOpenPositions int       `json:"max_open_positions" yaml:"max_open_positions"`
	MaxDrawdownPct   float64   `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Leverage         int       `json:"leverage" yaml:"leverage"`

	UseStopLoss   bool    `json:"use_stop_loss" yaml:"use_stop_loss"`
	StopLossPct   float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	UseTakeProfit bool    `json:"use_take_profit" yaml:"use_take_profit"`
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`

	TradeMode        TradeMode `json:"trade_mode" yaml:"trade_mode"`
	SignalThreshold  float64   `json:"signal_threshold" yaml:"signal_threshold"`
	Watchlist        []string  `json:"watchlist" yaml:"watchlist"`
	CandleInterval   string    `json:"candle_interval" yaml:"candle_interval"`
	CandleLimit      int       `json:"candle_limit" yaml:"candle_limit"`
	InterSymbolDelay Duration  `json:"inter_symbol_delay" yaml:"inter_symbol_delay"`
	ForceDailyTrade  bool      `json:"force_daily_trade" yaml:"force_daily_trade"`
}

// DefaultSettings returns demo-mode settings on the recommended preset.
func DefaultSettings() BotSettings {
	return BotSettings{
		Enabled:          true,
		DemoMode:         true,
		RiskLevel:        RiskRecommended,
		RiskPercent:      0.01,
		MaxPositionSize:  100,
		FeeRate:          0.001,
		MinTradeInterval: Duration(5 * time.Minute),
		MaxOpenPositions: 3,
		MaxDrawdownPct:   15,
		Leverage:         3,
		UseStopLoss:      true,
		StopLossPct:      2,
		UseTakeProfit:    true,
		TakeProfitPct:    4,
		TradeMode:        ModeNormal,
		SignalThreshold:  0.3,
		Watchlist:        append([]string(nil), DefaultWatchlist...),
		CandleInterval:   "5m",
		CandleLimit:      100,
		InterSymbolDelay: Duration(time.Second),
	}
}

// Mode returns the execution mode selected by DemoMode.
func (s *BotSettings) Mode() model.Mode {
	if s.DemoMode {
		return model.ModeDemo
	}
	return model.ModeReal
}

// Clone returns a deep copy.
func (s BotSettings) Clone() BotSettings {
	s.Watchlist = append([]string(nil), s.Watchlist...)
	return s
}

// Validate checks every field and reports all problems at once.
func (s *BotSettings) Validate() error {
	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	check(s.RiskPercent > 0 && s.RiskPercent <= 1, "risk_percent must be in (0, 1], got %v", s.RiskPercent)
	if s.RiskLevel != RiskCustom {
		_, ok := riskPresets[s.RiskLevel]
		check(ok, "unknown risk_level %q", s.RiskLevel)
	}
	check(s.MaxPositionSize > 0, "max_position_size must be positive, got %v", s.MaxPositionSize)
	check(s.FeeRate >= 0 && s.FeeRate < 0.1, "fee_rate must be in [0, 0.1), got %v", s.FeeRate)
	check(s.MinTradeInterval >= 0, "min_trade_interval must not be negative")
	check(s.MaxOpenPositions >= 0, "max_open_positions must not be negative")
	check(s.MaxDrawdownPct >= 0 && s.MaxDrawdownPct < 100, "max_drawdown_pct must be in [0, 100), got %v", s.MaxDrawdownPct)
	check(s.Leverage >= 1 && s.Leverage <= 125, "leverage must be in [1, 125], got %d", s.Leverage)
	check(s.StopLossPct >= 0 && s.StopLossPct < 100, "stop_loss_pct must be in [0, 100), got %v", s.StopLossPct)
	check(s.TakeProfitPct >= 0 && s.TakeProfitPct < 1000, "take_profit_pct must be in [0, 1000), got %v", s.TakeProfitPct)
	_, knownMode := modeIntervals[s.TradeMode]
	check(knownMode, "unknown trade_mode %q", s.TradeMode)
	check(s.SignalThreshold > 0 && s.SignalThreshold <= 1, "signal_threshold must be in (0, 1], got %v", s.SignalThreshold)
	check(len(s.Watchlist) > 0, "watchlist must not be empty")
	for _, sym := range s.Watchlist {
		base, quote := model.SplitSymbol(sym)
		check(base != "" && quote != "", "watchlist symbol %q must look like BASE-QUOTE", sym)
	}
	check(s.CandleInterval != "", "candle_interval must be set")
	check(s.CandleLimit >= 1 && s.CandleLimit <= 1440, "candle_limit must be in [1, 1440], got %d", s.CandleLimit)
	check(s.InterSymbolDelay >= 0, "inter_symbol_delay must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	Enabled  *bool `json:"enabled,omitempty"`
	DemoMode *bool `json:"demo_mode,omitempty"`

	RiskLevel        *RiskLevel `json:"risk_level,omitempty"`
	RiskPercent      *float64   `json:"risk_percent,omitempty"`
	MaxPositionSize  *float64   `json:"max_position_size,omitempty"`
	FeeRate          *float64   `json:"fee_rate,omitempty"`
	MinTradeInterval *Duration  `json:"min_trade_interval,omitempty"`
	MaxOpenPositions *int       `json:"max_open_positions,omitempty"`
	MaxDrawdownPct   *float64   `json:"max_drawdown_pct,omitempty"`
	Leverage         *int       `json:"leverage,omitempty"`

	UseStopLoss   *bool    `json:"use_stop_loss,omitempty"`
	StopLossPct   *float64 `json:"stop_loss_pct,omitempty"`
	UseTakeProfit *bool    `json:"use_take_profit,omitempty"`
	TakeProfitPct *float64 `json:"take_profit_pct,omitempty"`

	TradeMode        *TradeMode `json:"trade_mode,omitempty"`
	SignalThreshold  *float64   `json:"signal_threshold,omitempty"`
	Watchlist        []string   `json:"watchlist,omitempty"`
	CandleInterval   *string    `json:"candle_interval,omitempty"`
	CandleLimit      *int       `json:"candle_limit,omitempty"`
	InterSymbolDelay *Duration  `json:"inter_symbol_delay,omitempty"`
	ForceDailyTrade  *bool      `json:"force_daily_trade,omitempty"`
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Merge applies the patch to s and validates the result. A risk_level
// preset sets risk_percent and leverage unless the patch sets them too; an
// explicit risk_percent without a level switches to custom.
func (p *SettingsPatch) Merge(s BotSettings) (BotSettings, error) {
	out := s.Clone()

	set(&out.Enabled, p.Enabled)
	set(&out.DemoMode, p.DemoMode)
	if p.RiskLevel != nil {
		out.RiskLevel = *p.RiskLevel
		if preset, ok := riskPresets[*p.RiskLevel]; ok {
			out.RiskPercent = preset.RiskPercent
			out.Leverage = preset.Leverage
		}
	} else if p.RiskPercent != nil {
		out.RiskLevel = RiskCustom
	}
	set(&out.RiskPercent, p.RiskPercent)
	set(&out.Leverage, p.Leverage)
	set(&out.MaxPositionSize, p.MaxPositionSize)
	set(&out.FeeRate, p.FeeRate)
	set(&out.MinTradeInterval, p.MinTradeInterval)
	set(&out.MaxOpenPositions, p.MaxOpenPositions)
	set(&out.MaxDrawdownPct, p.MaxDrawdownPct)
	set(&out.UseStopLoss, p.UseStopLoss)
	set(&out.StopLossPct, p.StopLossPct)
	set(&out.UseTakeProfit, p.UseTakeProfit)
	set(&out.TakeProfitPct, p.TakeProfitPct)
	set(&out.TradeMode, p.TradeMode)
	set(&out.SignalThreshold, p.SignalThreshold)
	if p.Watchlist != nil {
		out.Watchlist = normalizeWatchlist(p.Watchlist)
	}
	set(&out.CandleInterval, p.CandleInterval)
	set(&out.CandleLimit, p.CandleLimit)
	set(&out.InterSymbolDelay, p.InterSymbolDelay)
	set(&out.ForceDailyTrade, p.ForceDailyTrade)

	if err := out.Validate(); err != nil {
		return s, err
	}
	return out, nil
}

func normalizeWatchlist(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, sym := range in {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tradebot-v1/internal/model"
)

// DustQty is the smallest quantity the sizer will propose.
const DustQty = 1e-6

// ErrSizingRejected is the root of every sizer rejection. Rejections are
// local skips: nothing is mutated and the tick is safe to repeat.
var ErrSizingRejected = errors.New("portfolio: sizing rejected")

var (
	ErrCooldown         = fmt.Errorf("%w: cooldown active", ErrSizingRejected)
	ErrDust             = fmt.Errorf("%w: quantity below dust", ErrSizingRejected)
	ErrMaxOpenPositions = fmt.Errorf("%w: max open positions reached", ErrSizingRejected)
	ErrInvalidPrice     = fmt.Errorf("%w: invalid price", ErrSizingRejected)
)

// RiskLimits is the slice of bot settings the sizer reads.
type RiskLimits struct {
	RiskPercent      float64       `json:"risk_percent"`       // fraction of the free balance, 0.05 = 5%
	MaxPositionSize  float64       `json:"max_position_size"`  // max order notional in quote currency
	FeeRate          float64       `json:"fee_rate"`           // 0.001 = 0.1%
	MinTradeInterval time.Duration `json:"min_trade_interval"` // per-symbol cooldown
	MaxOpenPositions int           `json:"max_open_positions"` // 0 = unlimited
}

// SizeRequest is the per-tick input to Size.
type SizeRequest struct {
	Symbol      string
	Side        model.Side
	Price       float64
	BaseFree    float64
	QuoteFree   float64
	LastTradeAt time.Time // zero when the symbol never traded
	Now         time.Time

	// Open positions across all symbols and whether Symbol is one of them
	OpenPositions int
	HasPosition   bool
}

// Sizing is an accepted order size.
type Sizing struct {
	Qty      float64 `json:"qty"`
	Notional float64 `json:"notional"`
	Capped   bool    `json:"capped"`
}

// CooldownActive reports whether now is within interval of last.
func CooldownActive(last, now time.Time, interval time.Duration) bool {
	return !last.IsZero() && interval > 0 && now.Sub(last) < interval
}

// Size computes the order quantity for req.
//
// BUY spends QuoteFree×RiskPercent, less the fee, capped so the notional never
// exceeds MaxPositionSize. SELL liquidates BaseFree×RiskPercent under the same
// notional cap. The result never spends more than the free balance of the
// spending asset.
func Size(limits RiskLimits, req SizeRequest) (Sizing, error) {
	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return Sizing{}, fmt.Errorf("%w: %v", ErrInvalidPrice, req.Price)
	}
	if CooldownActive(req.LastTradeAt, req.Now, limits.MinTradeInterval) {
		left := limits.MinTradeInterval - req.Now.Sub(req.LastTradeAt)
		return Sizing{}, fmt.Errorf("%w: %s for %s", ErrCooldown, req.Symbol, left.Round(time.Second))
	}
	if req.Side == model.SideBuy && !req.HasPosition &&
		limits.MaxOpenPositions > 0 && req.OpenPositions >= limits.MaxOpenPositions {
		return Sizing{}, fmt.Errorf("%w: %d/%d", ErrMaxOpenPositions, req.OpenPositions, limits.MaxOpenPositions)
	}

	risk := math.Max(0, math.Min(1, limits.RiskPercent))
	var s Sizing

	switch req.Side {
	case model.SideBuy:
		s.Qty = req.QuoteFree * risk / req.Price * (1 - limits.FeeRate)
		if limits.MaxPositionSize > 0 && s.Qty*req.Price > limits.MaxPositionSize {
			s.Qty = limits.MaxPositionSize / req.Price * (1 - limits.FeeRate)
			s.Capped = true
		}
		if s.Qty*req.Price > req.QuoteFree {
			s.Qty = req.QuoteFree / req.Price
			s.Capped = true
		}
	case model.SideSell:
		s.Qty = req.BaseFree * risk
		if limits.MaxPositionSize > 0 && s.Qty*req.Price > limits.MaxPositionSize {
			s.Qty = limits.MaxPositionSize / req.Price
			s.Capped = true
		}
		s.Qty = math.Min(s.Qty, req.BaseFree)
	default:
		return Sizing{}, fmt.Errorf("%w: unknown side %q", ErrSizingRejected, req.Side)
	}

	if s.Qty < DustQty {
		return Sizing{}, fmt.Errorf("%w: %s %s qty %.10f", ErrDust, req.Side, req.Symbol, s.Qty)
	}
	s.Notional = s.Qty * req.Price
	return s, nil
}

// DrawdownGuard tracks equity against its running peak.
type DrawdownGuard struct {
	mu     sync.RWMutex
	maxPct float64 // 0 disables the limit

	equity     float64
	peakEquity float64
}

// DrawdownStatus is a point-in-time view of the guard.
type DrawdownStatus struct {
	Equity      float64 `json:"equity"`
	PeakEquity  float64 `json:"peak_equity"`
	DrawdownPct float64 `json:"drawdown_pct"`
	LimitPct    float64 `json:"limit_pct"`
}

// NewDrawdownGuard creates a guard that trips above maxPct percent drawdown.
func NewDrawdownGuard(maxPct float64) *DrawdownGuard {
	return &DrawdownGuard{maxPct: maxPct}
}

// SetLimit changes the drawdown limit in percent.
func (g *DrawdownGuard) SetLimit(maxPct float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxPct = maxPct
}

// Observe records the latest equity and reports the drawdown in percent and
// whether it exceeds the limit.
func (g *DrawdownGuard) Observe(equity float64) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.equity = equity
	if equity > g.peakEquity {
		g.peakEquity = equity
	}
	dd := g.drawdown()
	return dd, g.maxPct > 0 && dd > g.maxPct
}

// Reset restarts peak tracking from the next observation.
func (g *DrawdownGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equity, g.peakEquity = 0, 0
}

// Status returns the current drawdown view.
func (g *DrawdownGuard) Status() DrawdownStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return DrawdownStatus{
		Equity:      g.equity,
		PeakEquity:  g.peakEquity,
		DrawdownPct: g.drawdown(),
		LimitPct:    g.maxPct,
	}
}

func (g *DrawdownGuard) drawdown() float64 {
	if g.peakEquity <= 0 {
		return 0
	}
	return (g.peakEquity - g.equity) / g.peakEquity * 100
}

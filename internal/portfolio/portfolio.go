// Package portfolio sizes orders and tracks the trade ledger, open positions,
// realized P&L and equity drawdown.
//
// Quantities and prices are float64 in exchange units. The ledger is the only
// source of position state: a position is the FIFO residual of the fills still
// present in the capped window.
package portfolio

import (
	"sort"

	"tradebot-v1/internal/model"
)

// Position is the net open quantity of one symbol.
type Position struct {
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`      // BUY = long, SELL = short
	Qty      float64    `json:"qty"`       // always positive
	AvgPrice float64    `json:"avg_price"` // quantity-weighted entry price of the open lots
	LastLTP  float64    `json:"last_ltp,omitempty"`
}

// UnrealizedPnL returns the mark-to-market P&L against LastLTP.
func (p *Position) UnrealizedPnL() float64 {
	if p.LastLTP == 0 {
		return 0
	}
	if p.Side == model.SideSell {
		return (p.AvgPrice - p.LastLTP) * p.Qty
	}
	return (p.LastLTP - p.AvgPrice) * p.Qty
}

// Equity values balances in quote currency: quote free + locked plus every
// other asset marked at prices[asset+"-"+quote]. Assets without a price are
// ignored.
func Equity(bal model.Balances, quote string, prices map[string]float64) float64 {
	total := 0.0
	for asset, b := range bal {
		amount := b.Free + b.Locked
		if asset == quote {
			total += amount
			continue
		}
		if px, ok := prices[asset+"-"+quote]; ok {
			total += amount * px
		}
	}
	return total
}

// TotalUnrealizedPnL sums the unrealized P&L of positions.
func TotalUnrealizedPnL(positions []Position) float64 {
	var total float64
	for i := range positions {
		total += positions[i].UnrealizedPnL()
	}
	return total
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Symbol < ps[j].Symbol })
}

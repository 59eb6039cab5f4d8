package model

import (
	"fmt"
	"time"
)

// Mode selects simulated (demo) or real execution.
type Mode string

const (
	ModeDemo Mode = "demo"
	ModeReal Mode = "real"
)

// TradeStatus is the outcome recorded for a trade.
type TradeStatus string

const (
	TradeFilled TradeStatus = "FILLED"
	TradeFailed TradeStatus = "FAILED"
)

// TradeRecord is an executed (real or simulated) order. Records are never
// mutated after they are appended to the ledger.
type TradeRecord struct {
	Timestamp  time.Time   `json:"timestamp"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Price      float64     `json:"price"`
	Quantity   float64     `json:"quantity"`
	Fee        float64     `json:"fee"`
	OrderID    string      `json:"order_id"`
	Mode       Mode        `json:"mode"`
	PnL        float64     `json:"pnl"`
	PnLPercent float64     `json:"pnl_percent"`
	Status     TradeStatus `json:"status"`
	Forced     bool        `json:"forced,omitempty"`
}

// Notional returns price × quantity.
func (t *TradeRecord) Notional() float64 {
	return t.Price * t.Quantity
}

// LogLine renders the record as "timestamp | mode | side symbol | price | qty | pnl".
func (t *TradeRecord) LogLine() string {
	return fmt.Sprintf("%s | %s | %s %s | %.8f | %.8f | %.8f",
		t.Timestamp.UTC().Format(time.RFC3339), t.Mode, t.Side, t.Symbol, t.Price, t.Quantity, t.PnL)
}

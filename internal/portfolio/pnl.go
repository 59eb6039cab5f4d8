package portfolio

import (
	"math"
	"sync"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/ringbuf"
)

// DefaultLedgerCap is the number of trade records kept in memory.
const DefaultLedgerCap = 100

// qtyEpsilon is the residual below which a lot counts as closed.
const qtyEpsilon = 1e-12

// Stats summarizes trading results since the ledger was created.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	ClosingTrades int     `json:"closing_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent of closing trades with pnl > 0
	RealizedPnL   float64 `json:"realized_pnl"`
	Evicted       uint64  `json:"evicted"`
}

// Ledger is the append-only fill history capped at the newest N FILLED
// records. Failed submits never enter the window, so they cannot evict open
// lots. Realized P&L of each fill is computed FIFO against the opposite-side
// lots still open inside the window.
type Ledger struct {
	mu      sync.RWMutex
	records *ringbuf.Ring[model.TradeRecord]

	// Lifetime counters; not affected by eviction
	stats Stats
}

// NewLedger creates a ledger holding at most capacity records.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultLedgerCap
	}
	return &Ledger{records: ringbuf.New[model.TradeRecord](capacity)}
}

type lot struct {
	side  model.Side
	price float64
	qty   float64
}

// openLots replays the FILLED records of symbol oldest to newest and returns
// the lots left open. Caller holds mu.
func (l *Ledger) openLots(symbol string) []lot {
	var lots []lot
	for i := 0; i < l.records.Len(); i++ {
		r := l.records.At(i)
		if r.Symbol != symbol || r.Status != model.TradeFilled {
			continue
		}
		lots, _, _ = match(lots, r.Side, r.Price, r.Quantity)
	}
	return lots
}

// match consumes opposite-side lots oldest first for a fill of qty at price.
// It returns the remaining lots (with any unmatched remainder appended as a
// new lot), the realized P&L and the entry notional of the matched quantity.
func match(lots []lot, side model.Side, price, qty float64) ([]lot, float64, float64) {
	var pnl, entry float64
	remaining := qty

	out := lots[:0:0]
	for _, lt := range lots {
		if remaining > qtyEpsilon && lt.side != side {
			take := math.Min(lt.qty, remaining)
			if side == model.SideSell {
				pnl += (price - lt.price) * take
			} else {
				pnl += (lt.price - price) * take
			}
			entry += lt.price * take
			remaining -= take
			lt.qty -= take
		}
		if lt.qty > qtyEpsilon {
			out = append(out, lt)
		}
	}
	if remaining > qtyEpsilon {
		out = append(out, lot{side: side, price: price, qty: remaining})
	}
	return out, pnl, entry
}

// Append computes P&L for a FILLED record, stores it and returns the stored
// copy. Records with any other status are returned unchanged and not stored.
func (l *Ledger) Append(rec model.TradeRecord) model.TradeRecord {
	if rec.Status != model.TradeFilled {
		return rec
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, pnl, entry := match(l.openLots(rec.Symbol), rec.Side, rec.Price, rec.Quantity)
	rec.PnL = pnl
	rec.PnLPercent = 0
	if entry > 0 {
		rec.PnLPercent = pnl / entry * 100
	}
	l.count(pnl, entry)

	l.records.Push(rec)
	return rec
}

// Restore replaces the window with the FILLED records of records (oldest
// first), keeping their stored P&L. Lifetime stats are rebuilt from them.
func (l *Ledger) Restore(records []model.TradeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records.Reset()
	l.stats = Stats{}
	lots := make(map[string][]lot)
	for _, r := range records {
		if r.Status != model.TradeFilled {
			continue
		}
		l.records.Push(r)
		var entry float64
		lots[r.Symbol], _, entry = match(lots[r.Symbol], r.Side, r.Price, r.Quantity)
		l.count(r.PnL, entry)
	}
}

// count updates lifetime stats for one FILLED record. Caller holds mu.
func (l *Ledger) count(pnl, entry float64) {
	l.stats.TotalTrades++
	if entry <= 0 {
		return
	}
	l.stats.ClosingTrades++
	l.stats.RealizedPnL += pnl
	switch {
	case pnl > 0:
		l.stats.WinningTrades++
	case pnl < 0:
		l.stats.LosingTrades++
	}
}

// Records returns the window oldest first.
func (l *Ledger) Records() []model.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records.Snapshot()
}

// Recent returns up to n newest records, oldest first.
func (l *Ledger) Recent(n int) []model.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records.Tail(n)
}

// Len returns the number of records in the window.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records.Len()
}

// LastTrade returns the newest FILLED record.
func (l *Ledger) LastTrade() (model.TradeRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := l.records.Len() - 1; i >= 0; i-- {
		if r := l.records.At(i); r.Status == model.TradeFilled {
			return r, true
		}
	}
	return model.TradeRecord{}, false
}

// Stats returns lifetime results.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.stats
	if s.ClosingTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ClosingTrades) * 100
	}
	s.Evicted = l.records.Evicted()
	return s
}

// Positions returns the open positions derived from the window, sorted by
// symbol. lastPrices, when non-nil, fills LastLTP.
func (l *Ledger) Positions(lastPrices map[string]float64) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Position
	for i := 0; i < l.records.Len(); i++ {
		sym := l.records.At(i).Symbol
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if p, ok := positionFromLots(sym, l.openLots(sym)); ok {
			p.LastLTP = lastPrices[sym]
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

// HasPosition reports whether symbol has open lots.
func (l *Ledger) HasPosition(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.openLots(symbol)) > 0
}

// OpenPositions counts symbols with open lots.
func (l *Ledger) OpenPositions() int {
	return len(l.Positions(nil))
}

// All open lots of a symbol share a side: a fill first closes opposite lots
// and only its remainder opens a new one.
func positionFromLots(symbol string, lots []lot) (Position, bool) {
	if len(lots) == 0 {
		return Position{}, false
	}
	p := Position{Symbol: symbol, Side: lots[0].side}
	var cost float64
	for _, lt := range lots {
		p.Qty += lt.qty
		cost += lt.price * lt.qty
	}
	p.AvgPrice = cost / p.Qty
	return p, true
}

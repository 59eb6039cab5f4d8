package scheduler

import (
	"context"
	"time"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/portfolio"
	"tradebot-v1/internal/state"
)

// Status is the getStatus view served to the dashboard.
type Status struct {
	state.Snapshot

	Mode          model.Mode               `json:"mode"`
	TradeHistory  []model.TradeRecord      `json:"trade_history"`
	Balances      model.Balances           `json:"balances"`
	BalanceError  string                   `json:"balance_error,omitempty"`
	Stats         portfolio.Stats          `json:"stats"`
	Positions     []portfolio.Position     `json:"positions"`
	UnrealizedPnL float64                  `json:"unrealized_pnl"`
	Drawdown      portfolio.DrawdownStatus `json:"drawdown"`
	LastCycle     *CycleReport             `json:"last_cycle,omitempty"`
}

type balanceView struct {
	balances model.Balances
	err      error
}

func (c *Coordinator) cachedBalances() balanceView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBalances
}

// Status builds the status view with freshly fetched balances of the active
// backend.
func (c *Coordinator) Status(ctx context.Context) Status {
	s := c.d.State.Settings()
	var bv balanceView
	if backend, err := c.d.Machine.Backend(s.Mode()); err != nil {
		bv.err = err
	} else {
		bv.balances, bv.err = backend.Balances(ctx)
	}
	return c.status(c.now(), bv)
}

func (c *Coordinator) status(now time.Time, bv balanceView) Status {
	snap := c.d.State.Snapshot(now)
	positions := c.d.Ledger.Positions(c.LastPrices())

	st := Status{
		Snapshot:      snap,
		Mode:          snap.Settings.Mode(),
		TradeHistory:  c.d.Ledger.Records(),
		Balances:      bv.balances,
		Stats:         c.d.Ledger.Stats(),
		Positions:     positions,
		UnrealizedPnL: portfolio.TotalUnrealizedPnL(positions),
		Drawdown:      c.d.Drawdown.Status(),
	}
	if bv.err != nil {
		st.BalanceError = bv.err.Error()
	}
	if last := c.LastCycle(); !last.StartedAt.IsZero() {
		st.LastCycle = &last
	}
	return st
}

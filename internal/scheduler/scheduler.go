package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/state"
	"tradebot-v1/internal/strategy"
)

// DailyTradeInterval is the idle time after which a forced trade is issued
// when ForceDailyTrade is on.
const DailyTradeInterval = 24 * time.Hour

// ErrUnknownSymbol is returned for a forced trade on a symbol outside the
// watchlist.
var ErrUnknownSymbol = errors.New("scheduler: symbol not in watchlist")

// Scheduler repeats scan cycles on the trade-mode interval. A cycle always
// completes before the next one starts; manual scans and forced trades wait
// for an in-flight cycle.
type Scheduler struct {
	coord *Coordinator
	state *state.Container
	log   *zap.Logger

	cycleMu sync.Mutex
	wake    chan struct{}

	started    time.Time
	lastForced time.Time
	pick       func(n int) int
}

// New creates a scheduler. Settings changes wake the loop so a new trade
// mode takes effect without waiting out the old interval.
func New(coord *Coordinator, st *state.Container, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		coord: coord,
		state: st,
		log:   log.Named("scheduler"),
		wake:  make(chan struct{}, 1),
		pick:  rand.Intn,
	}
	s.started = coord.now()
	st.OnSettingsChange(func(state.BotSettings) {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	})
	return s
}

// Run runs a cycle immediately and then once per interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", zap.Duration("interval", s.state.Settings().TradeMode.Interval()))

	for {
		last := s.coord.now()
		s.runCycle(ctx)

		for {
			interval := s.state.Settings().TradeMode.Interval()
			wait := interval - s.coord.now().Sub(last)
			if wait <= 0 {
				break
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.log.Info("scheduler stopped")
				return ctx.Err()
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) CycleReport {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.maybeForceDaily(ctx)
	return s.coord.RunCycle(ctx)
}

// TriggerScanNow runs one cycle synchronously, out of schedule.
func (s *Scheduler) TriggerScanNow(ctx context.Context) CycleReport {
	return s.runCycle(ctx)
}

// TriggerForcedTrade executes a forced signal on symbol, or on a random
// watchlist symbol when symbol is empty. The side defaults to BUY.
func (s *Scheduler) TriggerForcedTrade(ctx context.Context, symbol string, side model.Side) (TickReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.forced(ctx, symbol, side)
}

func (s *Scheduler) forced(ctx context.Context, symbol string, side model.Side) (TickReport, error) {
	watchlist := s.state.Settings().Watchlist
	if len(watchlist) == 0 {
		return TickReport{}, ErrUnknownSymbol
	}
	switch {
	case symbol == "":
		symbol = watchlist[s.pick(len(watchlist))]
	case !slices.Contains(watchlist, symbol):
		return TickReport{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	switch side {
	case "":
		side = model.SideBuy
	case model.SideBuy, model.SideSell:
	default:
		return TickReport{}, fmt.Errorf("scheduler: invalid side %q", side)
	}

	sig := strategy.Forced(symbol, side, s.coord.now())
	s.log.Info("forced trade", zap.String("symbol", symbol), zap.String("side", string(side)))
	return s.coord.RunForced(ctx, sig)
}

// maybeForceDaily issues a forced trade when no trade has been recorded for
// DailyTradeInterval. Process start and the previous forced attempt count as
// trades.
func (s *Scheduler) maybeForceDaily(ctx context.Context) {
	if !s.state.Settings().ForceDailyTrade {
		return
	}
	ref := s.state.LastAnyTrade()
	for _, t := range []time.Time{s.started, s.lastForced} {
		if t.After(ref) {
			ref = t
		}
	}
	now := s.coord.now()
	if now.Sub(ref) < DailyTradeInterval {
		return
	}
	s.lastForced = now
	if _, err := s.forced(ctx, "", model.SideBuy); err != nil {
		s.log.Info("daily forced trade not issued", zap.Error(err))
	}
}

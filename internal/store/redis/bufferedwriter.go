package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot-v1/internal/breaker"
	"tradebot-v1/internal/model"
	"tradebot-v1/internal/state"
	"tradebot-v1/internal/strategy"
)

const (
	defaultMaxBuffer = 1000
	publishTimeout   = 2 * time.Second
)

type sender interface {
	send(ctx context.Context, ev model.Event) error
}

// Publisher sends events to Redis through a circuit breaker. While the
// circuit is open events are buffered locally (oldest dropped when full) and
// flushed once the circuit closes again.
type Publisher struct {
	store sender
	cb    *breaker.Breaker
	log   *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	buffer []model.Event
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when an event is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered events
}

// NewPublisher creates a Publisher on s.
func NewPublisher(s *Store, cb *breaker.Breaker, maxBufferSize int, log *zap.Logger) *Publisher {
	return newPublisher(s, cb, maxBufferSize, log)
}

func newPublisher(s sender, cb *breaker.Breaker, maxBufferSize int, log *zap.Logger) *Publisher {
	if maxBufferSize <= 0 {
		maxBufferSize = defaultMaxBuffer
	}
	p := &Publisher{
		store:  s,
		cb:     cb,
		log:    log.Named("publisher"),
		now:    time.Now,
		buffer: make([]model.Event, 0, 64),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prev := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == breaker.StateClosed {
			go p.flush()
		}
	}
	return p
}

// Emit publishes ev. Failures are logged; an open circuit buffers ev.
func (p *Publisher) Emit(ctx context.Context, ev model.Event) {
	if ev.At.IsZero() {
		ev.At = p.now()
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.cb.Execute(func() error { return p.store.send(ctx, ev) })
	switch {
	case errors.Is(err, breaker.ErrOpen):
		p.bufferEvent(ev)
	case err != nil:
		p.log.Warn("publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// RecordTrade publishes a trade event. It lets the Publisher act as a trade
// sink of the execution machine.
func (p *Publisher) RecordTrade(rec model.TradeRecord) error {
	p.Emit(context.Background(), model.Event{Type: model.EventTrade, Symbol: rec.Symbol, At: rec.Timestamp, Data: rec})
	return nil
}

// PublishSignal publishes the latest signal of a symbol.
func (p *Publisher) PublishSignal(ctx context.Context, sig strategy.Signal) {
	p.Emit(ctx, model.Event{Type: model.EventSignal, Symbol: sig.Symbol, At: sig.GeneratedAt, Data: sig})
}

// PublishRecovery publishes an applied recovery action.
func (p *Publisher) PublishRecovery(ctx context.Context, ev state.RecoveryEvent) {
	p.Emit(ctx, model.Event{Type: model.EventRecovery, Symbol: ev.Action.Symbol, At: ev.At, Data: ev})
}

func (p *Publisher) bufferEvent(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuf {
		// Buffer full, drop oldest
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, ev)

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays all buffered events in order.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]model.Event, 0, 64)
	p.mu.Unlock()

	flushed := 0
	for _, ev := range toFlush {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.store.send(ctx, ev)
		cancel()
		if err != nil {
			p.log.Warn("flush failed", zap.String("type", string(ev.Type)), zap.Error(err))
			continue
		}
		flushed++
	}

	p.log.Info("flushed buffered events", zap.Int("count", flushed))
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

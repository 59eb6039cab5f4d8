package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradebot-v1/internal/breaker"
	"tradebot-v1/internal/model"
	"tradebot-v1/internal/state"
)

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []model.Event
}

func (f *fakeSender) send(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "pub:signal:BTC-USDT", channelFor(model.Event{Type: model.EventSignal, Symbol: "BTC-USDT"}))
	assert.Equal(t, ChannelTrade, channelFor(model.Event{Type: model.EventTrade}))
	assert.Equal(t, ChannelRecovery, channelFor(model.Event{Type: model.EventRecovery}))
	assert.Equal(t, ChannelStatus, channelFor(model.Event{Type: model.EventStatus}))
}

func TestPublisher_BuffersWhileOpenAndFlushes(t *testing.T) {
	fs := &fakeSender{}
	cb := breaker.New("redis", 2, 20*time.Millisecond)
	p := newPublisher(fs, cb, 3, zap.NewNop())
	ctx := context.Background()

	fs.setErr(errors.New("connection refused"))
	p.Emit(ctx, model.Event{Type: model.EventStatus})
	p.Emit(ctx, model.Event{Type: model.EventStatus})
	require.Equal(t, breaker.StateOpen, cb.CurrentState())

	for i := 0; i < 5; i++ {
		p.RecordTrade(model.TradeRecord{Symbol: "BTC-USDT"})
	}
	assert.Equal(t, 3, p.PendingCount(), "buffer keeps the newest events only")

	fs.setErr(nil)
	time.Sleep(30 * time.Millisecond)
	p.Emit(ctx, model.Event{Type: model.EventStatus})

	assert.Eventually(t, func() bool { return fs.count() == 4 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, p.PendingCount())
}

func TestHandleSettingsMessage(t *testing.T) {
	var got []state.SettingsPatch
	apply := func(p state.SettingsPatch) error {
		got = append(got, p)
		return nil
	}

	handleSettingsMessage(zap.NewNop(), `{"risk_percent":0.02}`, apply)
	handleSettingsMessage(zap.NewNop(), `not json`, apply)

	require.Len(t, got, 1)
	require.NotNil(t, got[0].RiskPercent)
	assert.Equal(t, 0.02, *got[0].RiskPercent)
}

// TestStore_Settings needs a Redis server; set REDIS_TEST_ADDR to run it.
func TestStore_Settings(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s, err := New(Config{Addr: addr, DB: 15}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.client.Del(ctx, settingsKey).Err())

	_, ok, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := state.DefaultSettings()
	want.RiskPercent = 0.03
	require.NoError(t, s.SaveSettings(ctx, want))
	got, ok, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, s.send(ctx, model.Event{Type: model.EventTrade, Data: model.TradeRecord{Symbol: "BTC-USDT"}}))
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/state"
)

// Keys and channels.
const (
	settingsKey = "tradebot:settings"
	statusKey   = "tradebot:status"
	tradeStream = "stream:trades"

	ChannelSignalPrefix = "pub:signal:"
	ChannelTrade        = "pub:trade"
	ChannelStatus       = "pub:status"
	ChannelRecovery     = "pub:recovery"
	ChannelSettingsCmd  = "cmd:settings"

	// Trade stream keeps well beyond the in-memory ledger window
	tradeStreamMaxLen = 10000
	statusTTL         = 10 * time.Minute
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Store persists bot settings and carries published events.
type Store struct {
	client *goredis.Client
	log    *zap.Logger
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New creates a Store and pings the server.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log = log.Named("redis")
	log.Info("connected", zap.String("addr", cfg.Addr))
	return &Store{client: client, log: log}, nil
}

// SaveSettings stores s so a restart resumes with the operator's settings.
func (s *Store) SaveSettings(ctx context.Context, st state.BotSettings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: marshal settings: %w", err)
	}
	return s.client.Set(ctx, settingsKey, data, 0).Err()
}

// LoadSettings returns the stored settings; ok is false when none are stored.
func (s *Store) LoadSettings(ctx context.Context) (st state.BotSettings, ok bool, err error) {
	data, err := s.client.Get(ctx, settingsKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	st = state.DefaultSettings()
	if err := json.Unmarshal(data, &st); err != nil {
		return st, false, fmt.Errorf("redis: decode settings: %w", err)
	}
	return st, true, nil
}

// channelFor returns the pub/sub channel of ev.
func channelFor(ev model.Event) string {
	switch ev.Type {
	case model.EventSignal:
		return ChannelSignalPrefix + ev.Symbol
	case model.EventTrade:
		return ChannelTrade
	case model.EventRecovery:
		return ChannelRecovery
	default:
		return ChannelStatus
	}
}

// send publishes ev in one pipeline. Trades are also appended to the trade
// stream and status is kept as the latest snapshot.
func (s *Store) send(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	payload := string(data)

	pipe := s.client.Pipeline()
	switch ev.Type {
	case model.EventTrade:
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: tradeStream,
			MaxLen: tradeStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": payload},
		})
	case model.EventStatus:
		pipe.Set(ctx, statusKey, payload, statusTTL)
	}
	pipe.Publish(ctx, channelFor(ev), payload)

	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

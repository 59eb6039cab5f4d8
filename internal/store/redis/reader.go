package redis

import (
	"context"
	"encoding/json"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"tradebot-v1/internal/state"
)

// SubscribeChannel subscribes to a Redis Pub/Sub channel.
// Returns the PubSub handle so the caller can listen on .Channel().
func (s *Store) SubscribeChannel(ctx context.Context, channel string) (*goredis.PubSub, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

// RunSettingsCommands applies settings patches published on
// ChannelSettingsCmd until ctx is cancelled. Invalid patches are logged and
// dropped.
func (s *Store) RunSettingsCommands(ctx context.Context, apply func(state.SettingsPatch) error) error {
	pubsub, err := s.SubscribeChannel(ctx, ChannelSettingsCmd)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handleSettingsMessage(s.log, msg.Payload, apply)
		}
	}
}

func handleSettingsMessage(log *zap.Logger, payload string, apply func(state.SettingsPatch) error) {
	var p state.SettingsPatch
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		log.Warn("settings command: bad payload", zap.Error(err))
		return
	}
	if err := apply(p); err != nil {
		log.Warn("settings command rejected", zap.Error(err))
		return
	}
	log.Info("settings command applied")
}

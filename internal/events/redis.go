package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	SettlementEventsChannel  = "settlement_events"
	transactionChannelPrefix = "transaction:"
)

// TransactionChannel is the per-transaction channel the realtime feed listens on.
func TransactionChannel(transactionID string) string {
	return transactionChannelPrefix + transactionID
}

type RedisPublisher struct {
	rdb redis.UniversalClient
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish sends ev to the shared channel and to the transaction's own channel.
func (p *RedisPublisher) Publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, SettlementEventsChannel, payload)
	if ev.TransactionID != "" {
		pipe.Publish(ctx, TransactionChannel(ev.TransactionID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// RedisSource feeds per-transaction events from redis into a hub.
type RedisSource struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewRedisSource(rdb redis.UniversalClient, logger *zap.Logger) *RedisSource {
	return &RedisSource{rdb: rdb, logger: logger}
}

// Run blocks until ctx is done.
func (s *RedisSource) Run(ctx context.Context, hub *Hub) error {
	sub := s.rdb.PSubscribe(ctx, transactionChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.logger.Info("redis settlement event source started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(msg.Channel, transactionChannelPrefix) {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("dropping malformed settlement event",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			hub.Dispatch(&ev)
		}
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/bitchest/wallet-engine/internal/metrics"
	"github.com/bitchest/wallet-engine/internal/model"
)

// RedisPublisher publishes events to a per-user Redis channel so other
// processes (another engine replica, a mailer) can react to them.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Channel is the pub/sub channel carrying a user's events.
func Channel(userID string) string { return fmt.Sprintf("bitchest:user:%s", userID) }

func (p *RedisPublisher) BalanceChanged(ctx context.Context, ev model.BalanceChanged) {
	p.publish(ctx, ev.UserID, Message{Type: model.EventBalanceChanged, Payload: ev})
}

func (p *RedisPublisher) TransactionCompleted(ctx context.Context, ev model.TransactionCompleted) {
	p.publish(ctx, ev.UserID, Message{Type: model.EventTransactionCompleted, Payload: ev})
}

func (p *RedisPublisher) publish(ctx context.Context, userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("event marshal failed", "type", msg.Type, "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, Channel(userID), data).Err(); err != nil {
		metrics.EventsDropped.WithLabelValues("redis").Inc()
		slog.Warn("event publish failed", "type", msg.Type, "user_id", userID, "err", err)
	}
}

package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/abac/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultChangeChannel is the pub/sub channel used for policy changes.
const DefaultChangeChannel = "abac:policy-changes"

// RedisChangePublisher is a ChangeSubscriber that republishes changes on a
// Redis channel so other processes can invalidate their caches.
type RedisChangePublisher struct {
	client  redis.Cmdable
	channel string
}

func NewRedisChangePublisher(client redis.Cmdable, channel string) *RedisChangePublisher {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	return &RedisChangePublisher{client: client, channel: channel}
}

func (p *RedisChangePublisher) OnPolicyChange(ctx context.Context, change abac.PolicyChange) error {
	b, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, b).Err()
}

// ListenRedisChanges forwards changes published on channel to n until ctx is
// done. Undecodable messages are logged and skipped.
func ListenRedisChanges(ctx context.Context, client *redis.Client, channel string, n ChangeNotifier, log logger.Logger) error {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var change abac.PolicyChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Error("abac policy change decode failed", "channel", channel, "error", err.Error())
				continue
			}
			n.NotifyPolicyChange(change)
		}
	}
}

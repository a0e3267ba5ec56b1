package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultChannel は通知先の既定チャネル名です。
const DefaultChannel = "scrape-forge:jobs"

const publishTimeout = 2 * time.Second

// Redis はジョブイベントを Redis の Pub/Sub チャネルに JSON で PUBLISH します。
// ジョブ状態の保存には使いません。
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis は redis:// 形式の URL から Redis 通知先を作成します。
func NewRedis(redisURL, channel string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opt), channel), nil
}

// NewRedisWithClient は既存のクライアントで Redis 通知先を作成します。
func NewRedisWithClient(client *redis.Client, channel string) *Redis {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Channel は PUBLISH 先のチャネル名を返します。
func (r *Redis) Channel() string {
	return r.channel
}

// Ping は接続確認を行います。
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish はメッセージを JSON にして PUBLISH します。
func (r *Redis) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Close はクライアントを閉じます。
func (r *Redis) Close() error {
	return r.client.Close()
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRecentLimit = 50
	defaultRecentTTL   = 7 * 24 * time.Hour
)

// RedisPublisher pushes notifications to connected clients over pub/sub and
// keeps a short recent list per user for clients that reconnect.
type RedisPublisher struct {
	client      *redis.Client
	prefix      string
	recentLimit int64
	recentTTL   time.Duration
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisPublisherWithClient(client), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		client:      client,
		prefix:      "notifications:",
		recentLimit: defaultRecentLimit,
		recentTTL:   defaultRecentTTL,
	}
}

// Channel is the pub/sub channel a user's clients subscribe to.
func (p *RedisPublisher) Channel(userID int64) string {
	return p.prefix + strconv.FormatInt(userID, 10)
}

func (p *RedisPublisher) recentKey(userID int64) string {
	return p.prefix + "recent:" + strconv.FormatInt(userID, 10)
}

func (p *RedisPublisher) Enqueue(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := p.recentKey(n.UserID)
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, p.recentLimit-1)
	pipe.Expire(ctx, key, p.recentTTL)
	pipe.Publish(ctx, p.Channel(n.UserID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Recent returns the newest notifications published for userID, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, userID int64, limit int64) ([]Notification, error) {
	if limit <= 0 || limit > p.recentLimit {
		limit = p.recentLimit
	}
	raw, err := p.client.LRange(ctx, p.recentKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent notifications: %w", err)
	}
	items := make([]Notification, 0, len(raw))
	for _, entry := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(entry), &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		items = append(items, n)
	}
	return items, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

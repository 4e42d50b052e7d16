package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 90 * time.Second

// Tracker keeps a per-user connection counter in Redis. The key expires on
// its own if a node dies without decrementing, so TTL must be refreshed while
// connections are alive.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTracker(ctx context.Context, redisURL string, ttl time.Duration) (*Tracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewTrackerWithClient(client, ttl), nil
}

func NewTrackerWithClient(client *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{client: client, ttl: ttl}
}

// presenceKey returns the key holding a user's live connection count.
func presenceKey(userID int64) string {
	return "chat:presence:" + strconv.FormatInt(userID, 10)
}

func (t *Tracker) Close() error {
	return t.client.Close()
}

func (t *Tracker) Online(ctx context.Context, userID int64) error {
	key := presenceKey(userID)
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *Tracker) Offline(ctx context.Context, userID int64) error {
	key := presenceKey(userID)
	count, err := t.client.Decr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count <= 0 {
		return t.client.Del(ctx, key).Err()
	}
	return nil
}

func (t *Tracker) Refresh(ctx context.Context, userID int64) error {
	return t.client.Expire(ctx, presenceKey(userID), t.ttl).Err()
}

// OnlineAmong filters userIDs down to those with at least one live connection.
func (t *Tracker) OnlineAmong(ctx context.Context, userIDs []int64) ([]int64, error) {
	online := make([]int64, 0, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}

	pipe := t.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Get(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, cmd := range cmds {
		count, err := cmd.Int64()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		if count > 0 {
			online = append(online, userIDs[i])
		}
	}

	return online, nil
}

package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisClient is the part of *redis.Client used here.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Redis keeps the latest event under a key with a TTL and appends every event to a stream.
type Redis struct {
	client   redisClient
	stateKey string
	stream   string
	ttl      time.Duration
}

// RedisOptions configures the client.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	StateKey string
	Stream   string
	TTL      time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, o RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, stateKey: o.StateKey, stream: o.Stream, ttl: o.TTL}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.JSON()
	if err != nil {
		return err
	}
	if r.stateKey != "" {
		if err := r.client.Set(ctx, r.stateKey, payload, r.ttl).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", r.stateKey, err)
		}
	}
	if r.stream != "" {
		err := r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]interface{}{
				"event":     ev.Event,
				"data":      string(payload),
				"timestamp": ev.Time.Unix(),
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("redis xadd %s: %w", r.stream, err)
		}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

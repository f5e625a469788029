package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a seen-cache over a Redis server, for runner fleets that span
// processes or hosts.
type Redis struct {
	config    Config
	client    *redis.Client
	connected bool
}

// NewRedis creates a Redis-backed seen-cache.
func NewRedis(config Config) *Redis {
	if config.Port == 0 {
		config.Port = 6379
	}
	return &Redis{config: config}
}

func (r *Redis) Connect() error {
	if r.connected {
		return nil
	}
	r.client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Password: r.config.Password,
		DB:       r.config.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	r.connected = true
	return nil
}

func (r *Redis) Close() error {
	if !r.connected {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return err
	}
	r.connected = false
	return nil
}

func (r *Redis) IsConnected() bool { return r.connected }
func (r *Redis) Name() string      { return r.config.Name }
func (r *Redis) Type() string      { return "redis" }

func (r *Redis) MarkSeen(ctx context.Context, key, owner string, ttl time.Duration) (string, error) {
	if !r.connected {
		return "", ErrNotConnected
	}
	set, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return "", err
	}
	if set {
		return "", nil
	}
	existing, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Expired between SetNX and Get; treat as newly recorded.
		return "", r.client.SetNX(ctx, key, owner, ttl).Err()
	}
	if err != nil {
		return "", err
	}
	return existing, nil
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	if !r.connected {
		return false, ErrNotConnected
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	if !r.connected {
		return ErrNotConnected
	}
	return r.client.Del(ctx, key).Err()
}

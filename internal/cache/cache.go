// Package cache tracks recently seen message identities. The loop-detect
// pipeline stage uses it to discard list traffic that has already passed
// through the pipeline, which matters when several runner processes share
// one queue: the tracker can be process-local memory, or Redis/Memcached
// when runners span hosts.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	ErrNotConnected = errors.New("cache: not connected")
)

// SeenCache records message identities with a bounded lifetime.
type SeenCache interface {
	Connect() error
	Close() error
	IsConnected() bool
	Name() string
	Type() string

	// MarkSeen records key for ttl on behalf of owner and returns the
	// owner already holding it, or "" when the key was newly recorded.
	// A caller seeing its own token back is re-running over an item it
	// already marked; a foreign token means another pass of the same
	// message identity.
	MarkSeen(ctx context.Context, key, owner string, ttl time.Duration) (string, error)

	// Seen reports whether key is currently recorded.
	Seen(ctx context.Context, key string) (bool, error)

	// Forget drops key.
	Forget(ctx context.Context, key string) error
}

// Config selects and parameterizes a cache backend.
type Config struct {
	Type     string         // "memory", "redis", "memcached"
	Name     string         // instance name, for logging
	Host     string         // hostname for network backends
	Port     int            // port for network backends
	Password string         // Redis auth
	Database int            // Redis database number
	Options  map[string]any // backend-specific settings
}

// Factory creates a seen-cache from configuration.
func Factory(config Config) (SeenCache, error) {
	switch config.Type {
	case "", "memory":
		return NewMemory(config), nil
	case "redis":
		return NewRedis(config), nil
	case "memcached":
		return NewMemcached(config), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

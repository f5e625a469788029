package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcached is a seen-cache over a Memcached cluster.
type Memcached struct {
	config    Config
	client    *memcache.Client
	connected bool
}

// NewMemcached creates a Memcached-backed seen-cache.
func NewMemcached(config Config) *Memcached {
	return &Memcached{config: config}
}

func (m *Memcached) Connect() error {
	if m.connected {
		return nil
	}
	servers := []string{}
	if m.config.Host != "" {
		port := m.config.Port
		if port == 0 {
			port = 11211
		}
		servers = append(servers, fmt.Sprintf("%s:%d", m.config.Host, port))
	}
	if extra, ok := m.config.Options["servers"].([]string); ok {
		servers = append(servers, extra...)
	}
	if len(servers) == 0 {
		servers = append(servers, "localhost:11211")
	}
	m.client = memcache.New(servers...)
	if timeout, ok := m.config.Options["timeout"].(time.Duration); ok {
		m.client.Timeout = timeout
	}
	if err := m.client.Ping(); err != nil {
		return fmt.Errorf("failed to connect to Memcached: %w", err)
	}
	m.connected = true
	return nil
}

func (m *Memcached) Close() error {
	m.connected = false
	return nil
}

func (m *Memcached) IsConnected() bool { return m.connected }
func (m *Memcached) Name() string      { return m.config.Name }
func (m *Memcached) Type() string      { return "memcached" }

func (m *Memcached) MarkSeen(ctx context.Context, key, owner string, ttl time.Duration) (string, error) {
	if !m.connected {
		return "", ErrNotConnected
	}
	err := m.client.Add(&memcache.Item{
		Key:        key,
		Value:      []byte(owner),
		Expiration: int32(ttl.Seconds()),
	})
	if errors.Is(err, memcache.ErrNotStored) {
		item, err := m.client.Get(key)
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return string(item.Value), nil
	}
	if err != nil {
		return "", err
	}
	return "", nil
}

func (m *Memcached) Seen(ctx context.Context, key string) (bool, error) {
	if !m.connected {
		return false, ErrNotConnected
	}
	_, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memcached) Forget(ctx context.Context, key string) error {
	if !m.connected {
		return ErrNotConnected
	}
	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

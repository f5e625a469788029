package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process seen-cache. Entries expire lazily; a periodic
// sweep keeps the map from growing without bound on long-running runners.
type Memory struct {
	config    Config
	connected bool

	mu      sync.Mutex
	entries map[string]memoryEntry
	stopCh  chan struct{}
}

type memoryEntry struct {
	owner  string
	expiry time.Time
}

// NewMemory creates an in-memory seen-cache.
func NewMemory(config Config) *Memory {
	return &Memory{
		config:  config,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Connect() error {
	if m.connected {
		return nil
	}
	m.stopCh = make(chan struct{})
	go m.sweepLoop()
	m.connected = true
	return nil
}

func (m *Memory) Close() error {
	if !m.connected {
		return nil
	}
	close(m.stopCh)
	m.connected = false
	return nil
}

func (m *Memory) IsConnected() bool { return m.connected }
func (m *Memory) Name() string      { return m.config.Name }
func (m *Memory) Type() string      { return "memory" }

func (m *Memory) MarkSeen(ctx context.Context, key, owner string, ttl time.Duration) (string, error) {
	if !m.connected {
		return "", ErrNotConnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && time.Now().Before(e.expiry) {
		return e.owner, nil
	}
	m.entries[key] = memoryEntry{owner: owner, expiry: time.Now().Add(ttl)}
	return "", nil
}

func (m *Memory) Seen(ctx context.Context, key string) (bool, error) {
	if !m.connected {
		return false, ErrNotConnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && time.Now().Before(e.expiry), nil
}

func (m *Memory) Forget(ctx context.Context, key string) error {
	if !m.connected {
		return ErrNotConnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiry) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

package membership

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Mock is an in-memory membership store for tests.
type Mock struct {
	name      string
	connected bool

	mu      sync.RWMutex
	rosters map[string][]Member

	// BounceRecords tracks RecordBounce calls for assertions.
	BounceRecords []string
	// Disabled tracks DisableDelivery calls as "list/address/reason".
	Disabled []string
}

// NewMock creates an empty mock store.
func NewMock(name string) *Mock {
	return &Mock{name: name, rosters: make(map[string][]Member)}
}

// AddMember subscribes a member to a list.
func (m *Mock) AddMember(listname string, member Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rosters[listname] = append(m.rosters[listname], member)
}

func (m *Mock) Connect() error {
	m.connected = true
	return nil
}

func (m *Mock) Close() error {
	m.connected = false
	return nil
}

func (m *Mock) IsConnected() bool { return m.connected }
func (m *Mock) Name() string      { return m.name }
func (m *Mock) Type() string      { return "mock" }

func (m *Mock) Members(ctx context.Context, listname string) ([]Member, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	roster := m.rosters[listname]
	out := make([]Member, len(roster))
	copy(out, roster)
	return out, nil
}

func (m *Mock) GetMember(ctx context.Context, listname, address string) (Member, error) {
	if !m.connected {
		return Member{}, ErrNotConnected
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := strings.ToLower(address)
	for _, mem := range m.rosters[listname] {
		if strings.ToLower(mem.Address) == want {
			return mem, nil
		}
	}
	return Member{}, ErrNotFound
}

func (m *Mock) IsMember(ctx context.Context, listname, address string) (bool, error) {
	_, err := m.GetMember(ctx, listname, address)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Mock) RecordBounce(ctx context.Context, listname, address string, when time.Time) error {
	if !m.connected {
		return ErrNotConnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	want := strings.ToLower(address)
	for i, mem := range m.rosters[listname] {
		if strings.ToLower(mem.Address) == want {
			m.rosters[listname][i].BounceScore++
			m.rosters[listname][i].LastBounce = when
			m.BounceRecords = append(m.BounceRecords, listname+"/"+want)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Mock) DisableDelivery(ctx context.Context, listname, address, reason string) error {
	if !m.connected {
		return ErrNotConnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	want := strings.ToLower(address)
	for i, mem := range m.rosters[listname] {
		if strings.ToLower(mem.Address) == want {
			m.rosters[listname][i].DeliveryEnabled = false
			m.Disabled = append(m.Disabled, listname+"/"+want+"/"+reason)
			return nil
		}
	}
	return ErrNotFound
}

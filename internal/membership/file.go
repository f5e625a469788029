package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// File is a flat-file membership store: one JSON document mapping list
// names to member lists. Suited to small deployments and tests; every
// mutation rewrites the file.
type File struct {
	config    Config
	path      string
	connected bool

	mu      sync.RWMutex
	rosters map[string][]Member
}

// NewFile creates a file-backed membership store. Config.Database is the
// file path.
func NewFile(config Config) Store {
	path := config.Database
	if path == "" {
		path = "members.json"
	}
	return &File{config: config, path: path, rosters: make(map[string][]Member)}
}

func (f *File) Connect() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.connected = true
			return nil
		}
		return fmt.Errorf("failed to read membership file: %w", err)
	}
	rosters := make(map[string][]Member)
	if err := json.Unmarshal(data, &rosters); err != nil {
		return fmt.Errorf("failed to parse membership file: %w", err)
	}
	f.mu.Lock()
	f.rosters = rosters
	f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *File) Close() error {
	f.connected = false
	return nil
}

func (f *File) IsConnected() bool { return f.connected }
func (f *File) Name() string      { return f.config.Name }
func (f *File) Type() string      { return "file" }

func (f *File) Members(ctx context.Context, listname string) ([]Member, error) {
	if !f.connected {
		return nil, ErrNotConnected
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	roster := f.rosters[listname]
	out := make([]Member, len(roster))
	copy(out, roster)
	return out, nil
}

func (f *File) GetMember(ctx context.Context, listname, address string) (Member, error) {
	if !f.connected {
		return Member{}, ErrNotConnected
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i := f.index(listname, address); i >= 0 {
		return f.rosters[listname][i], nil
	}
	return Member{}, ErrNotFound
}

func (f *File) IsMember(ctx context.Context, listname, address string) (bool, error) {
	_, err := f.GetMember(ctx, listname, address)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *File) RecordBounce(ctx context.Context, listname, address string, when time.Time) error {
	if !f.connected {
		return ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(listname, address)
	if i < 0 {
		return ErrNotFound
	}
	f.rosters[listname][i].BounceScore++
	f.rosters[listname][i].LastBounce = when
	return f.persistLocked()
}

func (f *File) DisableDelivery(ctx context.Context, listname, address, reason string) error {
	if !f.connected {
		return ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(listname, address)
	if i < 0 {
		return ErrNotFound
	}
	f.rosters[listname][i].DeliveryEnabled = false
	return f.persistLocked()
}

// index returns the member's position in the roster, or -1. Callers hold
// the lock.
func (f *File) index(listname, address string) int {
	want := strings.ToLower(address)
	for i, m := range f.rosters[listname] {
		if strings.ToLower(m.Address) == want {
			return i
		}
	}
	return -1
}

func (f *File) persistLocked() error {
	data, err := json.MarshalIndent(f.rosters, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write membership file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace membership file: %w", err)
	}
	return nil
}

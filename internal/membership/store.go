// Package membership provides read access to list rosters and write access
// to per-member bounce state. The processing core only consumes this
// interface: recipient calculation reads the roster, and the bounce side
// records recovered addresses. Roster administration itself lives outside
// this core.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	ErrNotFound     = errors.New("membership: member not found")
	ErrNotConnected = errors.New("membership: store not connected")
	ErrNotSupported = errors.New("membership: operation not supported by this store")
)

// Member is one subscription on one list.
type Member struct {
	Address string
	Name    string

	// DeliveryEnabled is false for members whose delivery has been
	// disabled, by themselves or by bounce processing.
	DeliveryEnabled bool

	// Moderated members have their posts held for review.
	Moderated bool

	// AvoidDuplicates members are skipped when they are already addressed
	// explicitly in To or Cc.
	AvoidDuplicates bool

	BounceScore float64
	LastBounce  time.Time
}

// Store is the membership backend interface. Implementations exist for
// flat files, SQLite, MySQL, PostgreSQL, LDAP directories (read-only) and
// an in-memory mock.
type Store interface {
	Connect() error
	Close() error
	IsConnected() bool
	Name() string
	Type() string

	// Members returns every subscription for the list.
	Members(ctx context.Context, listname string) ([]Member, error)

	// GetMember returns one subscription. Address comparison is
	// case-insensitive.
	GetMember(ctx context.Context, listname, address string) (Member, error)

	// IsMember reports whether the address is subscribed.
	IsMember(ctx context.Context, listname, address string) (bool, error)

	// RecordBounce bumps the member's bounce score and timestamp for one
	// recovered bounce address.
	RecordBounce(ctx context.Context, listname, address string, when time.Time) error

	// DisableDelivery turns delivery off for the member, with a reason for
	// the audit trail.
	DisableDelivery(ctx context.Context, listname, address, reason string) error
}

// Config selects and parameterizes a membership backend.
type Config struct {
	Type     string         // "file", "sqlite", "mysql", "postgres", "ldap", "mock"
	Name     string         // instance name, for logging
	Host     string         // hostname for network backends
	Port     int            // port for network backends
	Database string         // database name or file path
	Username string         // credentials for network backends
	Password string         // credentials for network backends
	Options  map[string]any // backend-specific settings
}

// Factory creates a membership store from configuration.
func Factory(config Config) (Store, error) {
	switch config.Type {
	case "file":
		return NewFile(config), nil
	case "sqlite":
		return NewSQLite(config), nil
	case "mysql":
		return NewMySQL(config), nil
	case "postgres":
		return NewPostgres(config), nil
	case "ldap":
		return NewLDAP(config), nil
	case "mock":
		return NewMock(config.Name), nil
	default:
		return nil, fmt.Errorf("unsupported membership store type: %s", config.Type)
	}
}

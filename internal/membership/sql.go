package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// sqlStore implements Store over database/sql. The SQLite, MySQL and
// PostgreSQL backends differ only in driver name, DSN construction and
// placeholder style, so they share this implementation.
type sqlStore struct {
	config      Config
	storeType   string
	driver      string
	dsn         string
	positional  bool // $1-style placeholders (PostgreSQL)
	memberTable string

	dbisConnected bool
	db            *sql.DB
	logger        *slog.Logger
}

func newSQLStore(config Config, storeType, driver, dsn string, positional bool) *sqlStore {
	memberTable := "members"
	if t, ok := config.Options["member_table"].(string); ok && t != "" {
		memberTable = t
	}
	return &sqlStore{
		config:      config,
		storeType:   storeType,
		driver:      driver,
		dsn:         dsn,
		positional:  positional,
		memberTable: memberTable,
		logger:      slog.Default().With("component", "membership", "type", storeType, "name", config.Name),
	}
}

func (s *sqlStore) Connect() error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", s.storeType, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to %s store: %w", s.storeType, err)
	}
	s.db = db
	s.dbisConnected = true
	if err := s.ensureSchema(); err != nil {
		s.Close()
		return err
	}
	s.logger.Info("connected to membership store")
	return nil
}

func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.dbisConnected = false
	return err
}

func (s *sqlStore) IsConnected() bool { return s.dbisConnected }
func (s *sqlStore) Name() string      { return s.config.Name }
func (s *sqlStore) Type() string      { return s.storeType }

// ensureSchema creates the members table when it does not exist yet. The
// column set matches what the roster-management side writes.
func (s *sqlStore) ensureSchema() error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		listname TEXT NOT NULL,
		address TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		delivery_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		moderated BOOLEAN NOT NULL DEFAULT FALSE,
		avoid_duplicates BOOLEAN NOT NULL DEFAULT FALSE,
		bounce_score REAL NOT NULL DEFAULT 0,
		last_bounce TIMESTAMP NULL,
		disabled_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (listname, address)
	)`, s.memberTable)
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to ensure members schema: %w", err)
	}
	return nil
}

// ph renders the n-th (1-based) SQL placeholder for this backend.
func (s *sqlStore) ph(n int) string {
	if s.positional {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlStore) Members(ctx context.Context, listname string) ([]Member, error) {
	if !s.dbisConnected {
		return nil, ErrNotConnected
	}
	query := fmt.Sprintf(
		"SELECT address, name, delivery_enabled, moderated, avoid_duplicates, bounce_score, last_bounce FROM %s WHERE listname = %s",
		s.memberTable, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, listname)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *sqlStore) GetMember(ctx context.Context, listname, address string) (Member, error) {
	if !s.dbisConnected {
		return Member{}, ErrNotConnected
	}
	query := fmt.Sprintf(
		"SELECT address, name, delivery_enabled, moderated, avoid_duplicates, bounce_score, last_bounce FROM %s WHERE listname = %s AND LOWER(address) = %s",
		s.memberTable, s.ph(1), s.ph(2))
	row := s.db.QueryRowContext(ctx, query, listname, strings.ToLower(address))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	return m, err
}

func (s *sqlStore) IsMember(ctx context.Context, listname, address string) (bool, error) {
	_, err := s.GetMember(ctx, listname, address)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqlStore) RecordBounce(ctx context.Context, listname, address string, when time.Time) error {
	if !s.dbisConnected {
		return ErrNotConnected
	}
	query := fmt.Sprintf(
		"UPDATE %s SET bounce_score = bounce_score + 1, last_bounce = %s WHERE listname = %s AND LOWER(address) = %s",
		s.memberTable, s.ph(1), s.ph(2), s.ph(3))
	res, err := s.db.ExecContext(ctx, query, when, listname, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("failed to record bounce: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) DisableDelivery(ctx context.Context, listname, address, reason string) error {
	if !s.dbisConnected {
		return ErrNotConnected
	}
	query := fmt.Sprintf(
		"UPDATE %s SET delivery_enabled = FALSE, disabled_reason = %s WHERE listname = %s AND LOWER(address) = %s",
		s.memberTable, s.ph(1), s.ph(2), s.ph(3))
	res, err := s.db.ExecContext(ctx, query, reason, listname, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("failed to disable delivery: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.logger.Info("delivery disabled", "list", listname, "address", address, "reason", reason)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (Member, error) {
	var m Member
	var lastBounce sql.NullTime
	err := row.Scan(&m.Address, &m.Name, &m.DeliveryEnabled, &m.Moderated,
		&m.AvoidDuplicates, &m.BounceScore, &lastBounce)
	if err != nil {
		return Member{}, err
	}
	if lastBounce.Valid {
		m.LastBounce = lastBounce.Time
	}
	return m, nil
}

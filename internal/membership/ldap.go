package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAP is a read-only membership store over a directory server. Rosters are
// modeled as group entries whose members carry a mail attribute. Bounce
// state is not writable through a directory, so the write operations return
// ErrNotSupported and deployments using LDAP keep bounce state elsewhere.
type LDAP struct {
	config    Config
	conn      *ldap.Conn
	connected bool

	baseDN      string
	listAttr    string
	mailAttr    string
	groupFilter string
	logger      *slog.Logger
}

// NewLDAP creates an LDAP-backed membership store.
func NewLDAP(config Config) Store {
	l := &LDAP{
		config:      config,
		baseDN:      "ou=lists,dc=example,dc=com",
		listAttr:    "cn",
		mailAttr:    "mail",
		groupFilter: "(objectClass=groupOfNames)",
		logger:      slog.Default().With("component", "membership", "type", "ldap", "name", config.Name),
	}
	if v, ok := config.Options["base_dn"].(string); ok && v != "" {
		l.baseDN = v
	}
	if v, ok := config.Options["list_attr"].(string); ok && v != "" {
		l.listAttr = v
	}
	if v, ok := config.Options["mail_attr"].(string); ok && v != "" {
		l.mailAttr = v
	}
	if v, ok := config.Options["group_filter"].(string); ok && v != "" {
		l.groupFilter = v
	}
	return l
}

func (l *LDAP) Connect() error {
	if l.config.Port == 0 {
		l.config.Port = 389
	}
	url := fmt.Sprintf("ldap://%s:%d", l.config.Host, l.config.Port)
	conn, err := ldap.DialURL(url)
	if err != nil {
		return fmt.Errorf("failed to connect to LDAP server: %w", err)
	}
	if l.config.Username != "" {
		if err := conn.Bind(l.config.Username, l.config.Password); err != nil {
			conn.Close()
			return fmt.Errorf("failed to bind to LDAP server: %w", err)
		}
	}
	l.conn = conn
	l.connected = true
	l.logger.Info("connected to membership store")
	return nil
}

func (l *LDAP) Close() error {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.connected = false
	return nil
}

func (l *LDAP) IsConnected() bool { return l.connected }
func (l *LDAP) Name() string      { return l.config.Name }
func (l *LDAP) Type() string      { return "ldap" }

func (l *LDAP) Members(ctx context.Context, listname string) ([]Member, error) {
	if !l.connected {
		return nil, ErrNotConnected
	}
	filter := fmt.Sprintf("(&%s(%s=%s))", l.groupFilter, l.listAttr, ldap.EscapeFilter(listname))
	req := ldap.NewSearchRequest(
		l.baseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"member"},
		nil,
	)
	res, err := l.conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search list group: %w", err)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}

	var members []Member
	for _, memberDN := range res.Entries[0].GetAttributeValues("member") {
		m, err := l.resolveMember(memberDN)
		if err != nil {
			l.logger.Warn("failed to resolve member entry", "dn", memberDN, "error", err)
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

func (l *LDAP) GetMember(ctx context.Context, listname, address string) (Member, error) {
	members, err := l.Members(ctx, listname)
	if err != nil {
		return Member{}, err
	}
	want := strings.ToLower(address)
	for _, m := range members {
		if strings.ToLower(m.Address) == want {
			return m, nil
		}
	}
	return Member{}, ErrNotFound
}

func (l *LDAP) IsMember(ctx context.Context, listname, address string) (bool, error) {
	_, err := l.GetMember(ctx, listname, address)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *LDAP) RecordBounce(ctx context.Context, listname, address string, when time.Time) error {
	return ErrNotSupported
}

func (l *LDAP) DisableDelivery(ctx context.Context, listname, address, reason string) error {
	return ErrNotSupported
}

func (l *LDAP) resolveMember(dn string) (Member, error) {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 5, false,
		"(objectClass=*)",
		[]string{l.mailAttr, "cn"},
		nil,
	)
	res, err := l.conn.Search(req)
	if err != nil {
		return Member{}, err
	}
	if len(res.Entries) == 0 {
		return Member{}, ErrNotFound
	}
	entry := res.Entries[0]
	addr := entry.GetAttributeValue(l.mailAttr)
	if addr == "" {
		return Member{}, fmt.Errorf("entry %s has no %s attribute", dn, l.mailAttr)
	}
	return Member{
		Address:         addr,
		Name:            entry.GetAttributeValue("cn"),
		DeliveryEnabled: true,
	}, nil
}

// Package list holds per-mailing-list configuration. Each list is described
// by one TOML file under the lists directory; loading compiles the header
// filter rules and validates the configured pipelines so a bad rule fails at
// startup, not in the middle of a runner cycle.
package list

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

var (
	// ErrUnknownList is returned when no configuration file exists for the
	// requested list.
	ErrUnknownList = errors.New("list: unknown list")
)

// Filter actions for header filter rules.
const (
	ActionHold    = "hold"
	ActionReject  = "reject"
	ActionDiscard = "discard"
)

// HeaderFilter is one spam/header rule: a regular expression matched
// against a header's value, and the action taken on a match.
type HeaderFilter struct {
	Header  string `toml:"header"`
	Pattern string `toml:"pattern"`
	Action  string `toml:"action"`
	Notice  string `toml:"notice"`

	re *regexp.Regexp
}

// Matches reports whether the rule matches the given header value.
func (hf *HeaderFilter) Matches(value string) bool {
	return value != "" && hf.re.MatchString(value)
}

// Config is the on-disk configuration for one list.
type Config struct {
	Name        string `toml:"name"`
	Host        string `toml:"host"`
	Description string `toml:"description"`

	SubjectPrefix       string `toml:"subject_prefix"`
	Archive             bool   `toml:"archive"`
	Verp                bool   `toml:"verp"`
	EmergencyModeration bool   `toml:"emergency_moderation"`
	ModerateNonmembers  bool   `toml:"moderate_nonmembers"`

	// Pipelines maps a message class ("posting" at minimum) to an ordered
	// list of stage names. Empty classes fall back to the default posting
	// pipeline.
	Pipelines map[string][]string `toml:"pipelines"`

	HeaderFilters []HeaderFilter `toml:"header_filters"`
}

// List is a loaded, validated mailing list.
type List struct {
	Config
}

// DefaultPostingPipeline is the stage order used when a list does not
// configure its own.
var DefaultPostingPipeline = []string{
	"loop-detect",
	"spam-detect",
	"emergency",
	"moderate",
	"cleanse",
	"cook-headers",
	"calc-recips",
	"avoid-duplicates",
	"to-archive",
	"to-outgoing",
}

// PostingAddress is the list's own posting address.
func (l *List) PostingAddress() string { return l.Name + "@" + l.Host }

// BounceAddress receives delivery failure reports for list traffic.
func (l *List) BounceAddress() string { return l.Name + "-bounces@" + l.Host }

// OwnerAddress reaches the list administrators.
func (l *List) OwnerAddress() string { return l.Name + "-owner@" + l.Host }

// RequestAddress is the command-mail address.
func (l *List) RequestAddress() string { return l.Name + "-request@" + l.Host }

// OperationalAddresses returns every address the list itself answers to,
// folded to lower case. Recipient calculation strips these so a list never
// mails itself.
func (l *List) OperationalAddresses() []string {
	addrs := []string{l.PostingAddress(), l.BounceAddress(), l.OwnerAddress(), l.RequestAddress()}
	for i, a := range addrs {
		addrs[i] = strings.ToLower(a)
	}
	return addrs
}

// PipelineFor resolves the stage list for a message class.
func (l *List) PipelineFor(class string) []string {
	if stages, ok := l.Pipelines[class]; ok && len(stages) > 0 {
		return stages
	}
	return DefaultPostingPipeline
}

// Store loads and caches list configuration from a directory of TOML files.
type Store struct {
	dir string

	mu    sync.RWMutex
	lists map[string]*List
}

// NewStore returns a list store over dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, lists: make(map[string]*List)}
}

// Get returns the named list, loading it on first use. Resolution is stable
// within a run; Reload discards the cache when configuration changes.
func (s *Store) Get(name string) (*List, error) {
	s.mu.RLock()
	l, ok := s.lists[name]
	s.mu.RUnlock()
	if ok {
		return l, nil
	}

	l, err := s.load(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lists[name] = l
	s.mu.Unlock()
	return l, nil
}

// Names returns the names of all configured lists.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lists directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".toml"))
	}
	return names, nil
}

// Reload drops the cache so the next Get re-reads configuration from disk.
func (s *Store) Reload() {
	s.mu.Lock()
	s.lists = make(map[string]*List)
	s.mu.Unlock()
}

func (s *Store) load(name string) (*List, error) {
	path := filepath.Join(s.dir, name+".toml")
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownList, name)
		}
		return nil, fmt.Errorf("failed to load list config %s: %w", name, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.Name != name {
		return nil, fmt.Errorf("list config %s declares name %q", name, cfg.Name)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("list config %s missing host", name)
	}
	for i := range cfg.HeaderFilters {
		hf := &cfg.HeaderFilters[i]
		switch hf.Action {
		case ActionHold, ActionReject, ActionDiscard:
		default:
			return nil, fmt.Errorf("list %s: header filter %d has invalid action %q", name, i, hf.Action)
		}
		re, err := regexp.Compile("(?i)" + hf.Pattern)
		if err != nil {
			return nil, fmt.Errorf("list %s: header filter %d: %w", name, i, err)
		}
		hf.re = re
	}
	return &List{Config: cfg}, nil
}

// Package config loads the process configuration from a TOML file and
// validates it before anything else starts. Bad configuration fails here,
// not in the middle of a runner cycle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/busybox42/listflow/internal/cache"
	"github.com/busybox42/listflow/internal/membership"
)

// maxConfigFileSize caps how much configuration is read; anything larger
// is a mistake or an attack, not a config file.
const maxConfigFileSize = 1 << 20

// Config is the full process configuration.
type Config struct {
	// Site-wide identity.
	Site struct {
		Hostname string `toml:"hostname"`
	} `toml:"site"`

	Queue struct {
		Dir string `toml:"dir"`
	} `toml:"queue"`

	Lists struct {
		Dir string `toml:"dir"`
	} `toml:"lists"`

	Locks struct {
		Dir            string `toml:"dir"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"locks"`

	Runners struct {
		IncomingSlices     int `toml:"incoming_slices"`
		OutgoingSlices     int `toml:"outgoing_slices"`
		BounceSlices       int `toml:"bounce_slices"`
		IntervalSeconds    int `toml:"interval_seconds"`
		RetryPeriodMinutes int `toml:"retry_period_minutes"`
	} `toml:"runners"`

	Delivery struct {
		// Type selects the transport: "command" pipes to a
		// sendmail-compatible program, "sink" records and drops (dry
		// runs, tests).
		Type    string   `toml:"type"`
		Command string   `toml:"command"`
		Args    []string `toml:"args"`

		Breaker struct {
			Enabled     bool `toml:"enabled"`
			MaxFailures int  `toml:"max_failures"`
			ResetAfter  int  `toml:"reset_after_seconds"`
		} `toml:"breaker"`
	} `toml:"delivery"`

	Cache      CacheConfig      `toml:"cache"`
	Membership MembershipConfig `toml:"membership"`

	Logging struct {
		Type   string `toml:"type"` // "console" or "file"
		Level  string `toml:"level"`
		Format string `toml:"format"` // "text" or "json"
		File   string `toml:"file"`
	} `toml:"logging"`

	API struct {
		Enabled bool   `toml:"enabled"`
		Listen  string `toml:"listen"`
	} `toml:"api"`
}

// CacheConfig mirrors the seen-cache settings into TOML.
type CacheConfig struct {
	Type     string `toml:"type"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	Database int    `toml:"database"`
}

// MembershipConfig mirrors the membership store settings into TOML.
type MembershipConfig struct {
	Type     string `toml:"type"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Site.Hostname = "localhost"
	cfg.Queue.Dir = "/var/lib/listflow/queues"
	cfg.Lists.Dir = "/etc/listflow/lists"
	cfg.Locks.Dir = "/var/lib/listflow/locks"
	cfg.Locks.TimeoutSeconds = 10
	cfg.Runners.IncomingSlices = 2
	cfg.Runners.OutgoingSlices = 2
	cfg.Runners.BounceSlices = 1
	cfg.Runners.IntervalSeconds = 1
	cfg.Runners.RetryPeriodMinutes = 15
	cfg.Delivery.Type = "command"
	cfg.Delivery.Command = "/usr/sbin/sendmail"
	cfg.Delivery.Args = []string{"-oi"}
	cfg.Delivery.Breaker.Enabled = true
	cfg.Cache.Type = "memory"
	cfg.Membership.Type = "file"
	cfg.Membership.Database = "/var/lib/listflow/members"
	cfg.Logging.Type = "console"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.API.Listen = ":8025"
	return cfg
}

// FindConfigFile resolves the config file path: the explicit path when
// given, otherwise the first of the conventional locations that exists.
func FindConfigFile(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config file not found at specified path: %s", configPath)
	}
	locations := []string{
		"./listflow.conf",
		os.ExpandEnv("$HOME/.listflow.conf"),
		"/etc/listflow/listflow.conf",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", fmt.Errorf("no config file found")
}

// LoadConfig reads and validates configuration. A missing file is not an
// error; the defaults apply.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	configFile, err := FindConfigFile(configPath)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	info, err := os.Stat(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing TOML configuration: %w", err)
	}

	// Paths relative to the config file resolve against its directory.
	configDir := filepath.Dir(configFile)
	for _, p := range []*string{&cfg.Queue.Dir, &cfg.Lists.Dir, &cfg.Locks.Dir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration the runners cannot operate with.
func (c *Config) Validate() error {
	if c.Queue.Dir == "" {
		return fmt.Errorf("queue.dir must be set")
	}
	if c.Lists.Dir == "" {
		return fmt.Errorf("lists.dir must be set")
	}
	if c.Locks.Dir == "" {
		return fmt.Errorf("locks.dir must be set")
	}
	if c.Locks.TimeoutSeconds <= 0 {
		return fmt.Errorf("locks.timeout_seconds must be positive, got %d", c.Locks.TimeoutSeconds)
	}
	for name, n := range map[string]int{
		"runners.incoming_slices": c.Runners.IncomingSlices,
		"runners.outgoing_slices": c.Runners.OutgoingSlices,
		"runners.bounce_slices":   c.Runners.BounceSlices,
	} {
		if n <= 0 || n > 64 {
			return fmt.Errorf("%s must be between 1 and 64, got %d", name, n)
		}
	}
	if c.Runners.IntervalSeconds <= 0 {
		return fmt.Errorf("runners.interval_seconds must be positive, got %d", c.Runners.IntervalSeconds)
	}
	if c.Runners.RetryPeriodMinutes <= 0 {
		return fmt.Errorf("runners.retry_period_minutes must be positive, got %d", c.Runners.RetryPeriodMinutes)
	}
	switch c.Delivery.Type {
	case "command":
		if c.Delivery.Command == "" {
			return fmt.Errorf("delivery.command must be set for command delivery")
		}
	case "sink":
	default:
		return fmt.Errorf("unknown delivery.type: %s", c.Delivery.Type)
	}
	switch c.Logging.Type {
	case "console", "file":
	default:
		return fmt.Errorf("unknown logging.type: %s", c.Logging.Type)
	}
	if c.Logging.Type == "file" && c.Logging.File == "" {
		return fmt.Errorf("logging.file must be set for file logging")
	}
	return nil
}

// LockTimeout converts the configured seconds to a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Locks.TimeoutSeconds) * time.Second
}

// RunnerInterval converts the configured seconds to a duration.
func (c *Config) RunnerInterval() time.Duration {
	return time.Duration(c.Runners.IntervalSeconds) * time.Second
}

// RetryPeriod converts the configured minutes to a duration.
func (c *Config) RetryPeriod() time.Duration {
	return time.Duration(c.Runners.RetryPeriodMinutes) * time.Minute
}

// CacheSettings maps the TOML section onto the cache package's config.
func (c *Config) CacheSettings() cache.Config {
	return cache.Config{
		Type:     c.Cache.Type,
		Name:     "seen",
		Host:     c.Cache.Host,
		Port:     c.Cache.Port,
		Password: c.Cache.Password,
		Database: c.Cache.Database,
	}
}

// MembershipSettings maps the TOML section onto the membership package's
// config.
func (c *Config) MembershipSettings() membership.Config {
	return membership.Config{
		Type:     c.Membership.Type,
		Name:     "members",
		Host:     c.Membership.Host,
		Port:     c.Membership.Port,
		Database: c.Membership.Database,
		Username: c.Membership.Username,
		Password: c.Membership.Password,
	}
}

package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/clawgate/internal/otel"
)

// ChannelAccessConfig holds the access-policy knobs for one chat surface.
// Channel sections layer over the top-level defaults: a field left unset
// in the channel section inherits the default.
type ChannelAccessConfig struct {
	// DMPolicy is one of "open", "pairing", "allowlist", "disabled".
	DMPolicy string `yaml:"dm_policy"`
	// GroupPolicy is "allowlist", "disabled", or empty for open.
	GroupPolicy string `yaml:"group_policy"`

	AllowFrom      StringList `yaml:"allow_from"`
	GroupAllowFrom StringList `yaml:"group_allow_from"`

	// AllowFromForGroups lets an empty group allowlist fall back to
	// allow_from. Pointer so a channel section can override either way.
	AllowFromForGroups *bool `yaml:"allow_from_for_groups"`
}

// MaintenanceConfig is the raw session.maintenance section. Values are
// strings so human-readable suffixes ("7d", "5mb") survive parsing;
// resolution to typed values happens in the sessions package.
type MaintenanceConfig struct {
	// Mode is "enforce" or "warn".
	Mode       string `yaml:"mode"`
	PruneAfter string `yaml:"pruneAfter"`
	MaxEntries int    `yaml:"maxEntries"`
	// RotateBytes accepts a byte count or a suffixed size like "10mb".
	RotateBytes string `yaml:"rotateBytes"`

	// Deprecated: day-count alias for PruneAfter. Ignored when
	// PruneAfter is set.
	PruneAfterDays int `yaml:"pruneAfterDays"`
}

type SessionConfig struct {
	// StorePath overrides the session store location. Empty uses
	// <home>/sessions.json.
	StorePath   string            `yaml:"store_path"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type DedupConfig struct {
	TTL             string `yaml:"ttl"`
	MaxEntries      int    `yaml:"max_entries"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

type PairingConfig struct {
	// StorePath overrides the pairing database location. Empty uses
	// <home>/pairing.db.
	StorePath string `yaml:"store_path"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	Quiet    bool   `yaml:"quiet"`

	// MaintenanceSchedule is a 5-field cron expression for the periodic
	// session-store sweep. Empty disables the sweeper.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`

	Access   ChannelAccessConfig            `yaml:"access"`
	Channels map[string]ChannelAccessConfig `yaml:"channels"`

	Session SessionConfig `yaml:"session"`
	Dedup   DedupConfig   `yaml:"dedup"`
	Pairing PairingConfig `yaml:"pairing"`

	OTel otel.Config `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Access: ChannelAccessConfig{
			DMPolicy: "pairing",
		},
		Session: SessionConfig{
			Maintenance: MaintenanceConfig{Mode: "enforce"},
		},
	}
}

// HomeDir resolves the data directory: CLAWGATE_HOME or ~/.clawgate.
func HomeDir() string {
	if override := os.Getenv("CLAWGATE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".clawgate")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the clawgate home, creating the directory on
// first run. A missing file yields the defaults; a malformed file is an
// error (unlike malformed maintenance values, which fail closed later).
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads configuration rooted at an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create clawgate home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(homeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Access.DMPolicy = strings.ToLower(strings.TrimSpace(cfg.Access.DMPolicy))
	if cfg.Access.DMPolicy == "" {
		cfg.Access.DMPolicy = "pairing"
	}
	cfg.Access.GroupPolicy = strings.ToLower(strings.TrimSpace(cfg.Access.GroupPolicy))
	for name, ch := range cfg.Channels {
		ch.DMPolicy = strings.ToLower(strings.TrimSpace(ch.DMPolicy))
		ch.GroupPolicy = strings.ToLower(strings.TrimSpace(ch.GroupPolicy))
		cfg.Channels[name] = ch
	}
	if cfg.Session.Maintenance.Mode == "" {
		cfg.Session.Maintenance.Mode = "enforce"
	}
}

// ChannelAccess returns the effective access configuration for a channel:
// the channel's section layered over the top-level defaults.
func (c Config) ChannelAccess(channel string) ChannelAccessConfig {
	eff := c.Access
	ch, ok := c.Channels[channel]
	if !ok {
		return eff
	}
	if ch.DMPolicy != "" {
		eff.DMPolicy = ch.DMPolicy
	}
	if ch.GroupPolicy != "" {
		eff.GroupPolicy = ch.GroupPolicy
	}
	if ch.AllowFrom != nil {
		eff.AllowFrom = ch.AllowFrom
	}
	if ch.GroupAllowFrom != nil {
		eff.GroupAllowFrom = ch.GroupAllowFrom
	}
	if ch.AllowFromForGroups != nil {
		eff.AllowFromForGroups = ch.AllowFromForGroups
	}
	return eff
}

// SessionStorePath returns the effective session store location.
func (c Config) SessionStorePath() string {
	if c.Session.StorePath != "" {
		return c.Session.StorePath
	}
	return filepath.Join(c.HomeDir, "sessions.json")
}

// PairingStorePath returns the effective pairing database location.
func (c Config) PairingStorePath() string {
	if c.Pairing.StorePath != "" {
		return c.Pairing.StorePath
	}
	return filepath.Join(c.HomeDir, "pairing.db")
}

// Fingerprint returns a stable hash of the access-relevant config, logged
// at startup and on reload so decision changes can be correlated.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "dm=%s|group=%s|allow=%v|gallow=%v|fallback=%s|mode=%s",
		c.Access.DMPolicy, c.Access.GroupPolicy, c.Access.AllowFrom,
		c.Access.GroupAllowFrom, boolPtrLabel(c.Access.AllowFromForGroups),
		c.Session.Maintenance.Mode)
	names := make([]string, 0, len(c.Channels))
	for name := range c.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := c.Channels[name]
		fmt.Fprintf(h, "|%s:%s/%s|%v|%v|%s", name, ch.DMPolicy, ch.GroupPolicy,
			ch.AllowFrom, ch.GroupAllowFrom, boolPtrLabel(ch.AllowFromForGroups))
	}
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func boolPtrLabel(b *bool) string {
	if b == nil {
		return "unset"
	}
	return fmt.Sprintf("%v", *b)
}

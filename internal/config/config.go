package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding file values.
// Nested keys use a double underscore: CELCAL_CALENDAR__BACKEND=ics.
const EnvPrefix = "CELCAL_"

const (
	BackendGoogle = "google"
	BackendICS    = "ics"
)

// Span is a calendar-ish duration written as a mapping in YAML,
// e.g. `distance: {weeks: 3}` or `interval: {hours: 1, minutes: 30}`.
type Span struct {
	Weeks   int `yaml:"weeks,omitempty" json:"weeks,omitempty"`
	Days    int `yaml:"days,omitempty" json:"days,omitempty"`
	Hours   int `yaml:"hours,omitempty" json:"hours,omitempty"`
	Minutes int `yaml:"minutes,omitempty" json:"minutes,omitempty"`
}

// Duration converts the span to a time.Duration (days are 24h).
func (s Span) Duration() time.Duration {
	return time.Duration(s.Weeks)*7*24*time.Hour +
		time.Duration(s.Days)*24*time.Hour +
		time.Duration(s.Hours)*time.Hour +
		time.Duration(s.Minutes)*time.Minute
}

// CalendarConfig selects and configures the destination calendar.
type CalendarConfig struct {
	// Backend is "google" or "ics".
	Backend string `yaml:"backend" json:"backend"`
	// CalendarID is the Google calendar to write to ("primary" by default).
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// CredentialsPath points at a service account key or an OAuth client secret.
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	// TokenPath caches the OAuth token when CredentialsPath is a client secret.
	TokenPath string `yaml:"token_path" json:"token_path"`
	// ICSPath is the file written by the "ics" backend.
	ICSPath string `yaml:"ics_path" json:"ics_path"`
}

// BasicAuth protects the status server. Both fields must be set.
type BasicAuth struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Server is the Celcat base URL, without the /Home suffix.
	Server string `yaml:"server" json:"server"`
	// ResourceType is the Celcat resType parameter (103 = student groups).
	ResourceType int `yaml:"resource_type" json:"resource_type"`
	// Groups are the Celcat federation ids to fetch.
	Groups []string `yaml:"groups" json:"groups"`

	// Timezone is the IANA zone applied to every feed timestamp and inserted event.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Distance is the fetch window length starting today at 00:00.
	Distance Span `yaml:"distance" json:"distance"`
	// Interval is the time between two sync cycles.
	Interval Span `yaml:"interval" json:"interval"`
	// Schedule optionally replaces Interval with a cron expression.
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	// Lookahead limits which added events are worth a notification.
	Lookahead Span `yaml:"lookahead" json:"lookahead"`

	// Webhook receives change and error notifications; empty disables them.
	Webhook string `yaml:"webhook" json:"webhook"`

	// Listen is the status server address; empty disables it.
	Listen string `yaml:"listen" json:"listen"`
	// BasicAuth guards every route but /health when set.
	BasicAuth *BasicAuth `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// RateLimit caps requests per second toward Celcat and the calendar API.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:       "",
		ResourceType: 103,
		Groups:       []string{},
		Timezone:     "Europe/Paris",
		Distance:     Span{Weeks: 3},
		Interval:     Span{Hours: 1},
		Lookahead:    Span{Days: 3},
		Listen:       "127.0.0.1:8080",
		LogLevel:     "info",
		RateLimit:    5,
		Calendar: CalendarConfig{
			Backend:         BackendGoogle,
			CalendarID:      "primary",
			CredentialsPath: "/etc/celcal/creds.json",
			TokenPath:       "/var/lib/celcal/token.json",
			ICSPath:         "/var/lib/celcal/celcat.ics",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that a
// partially-filled file still behaves correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	c.Server = strings.TrimRight(strings.TrimSpace(c.Server), "/")
	if c.ResourceType <= 0 {
		c.ResourceType = def.ResourceType
	}
	if c.Groups == nil {
		c.Groups = []string{}
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Distance.Duration() <= 0 {
		c.Distance = def.Distance
	}
	if c.Interval.Duration() <= 0 {
		c.Interval = def.Interval
	}
	if c.Lookahead.Duration() <= 0 {
		c.Lookahead = def.Lookahead
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RateLimit <= 0 {
		c.RateLimit = def.RateLimit
	}
	c.Calendar.Backend = strings.ToLower(strings.TrimSpace(c.Calendar.Backend))
	if c.Calendar.Backend == "" {
		c.Calendar.Backend = def.Calendar.Backend
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = def.Calendar.CalendarID
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// CronSpec returns the schedule handed to the cron runner.
func (c *Config) CronSpec() string {
	if strings.TrimSpace(c.Schedule) != "" {
		return c.Schedule
	}
	return "@every " + c.Interval.Duration().String()
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if u, err := url.Parse(c.Server); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server %q (must be an absolute URL)", c.Server)
	}
	if len(c.Groups) == 0 {
		return fmt.Errorf("groups must list at least one group id")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.Distance.Duration() <= 0 {
		return fmt.Errorf("distance must be > 0")
	}
	if _, err := cron.ParseStandard(c.CronSpec()); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.CronSpec(), err)
	}
	if c.Webhook != "" {
		u, err := url.Parse(c.Webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid webhook %q (must be an http(s) URL)", c.Webhook)
		}
	}
	switch c.Calendar.Backend {
	case BackendGoogle:
		if strings.TrimSpace(c.Calendar.CredentialsPath) == "" {
			return fmt.Errorf("calendar.credentials_path is required for the google backend")
		}
	case BackendICS:
		if strings.TrimSpace(c.Calendar.ICSPath) == "" {
			return fmt.Errorf("calendar.ics_path is required for the ics backend")
		}
	default:
		return fmt.Errorf("unsupported calendar.backend %q (must be google or ics)", c.Calendar.Backend)
	}
	return nil
}

// Load loads configuration from the given YAML path, then applies
// CELCAL_* environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and used as the base.
//   - Values are normalized but not validated; callers decide when to
//     call Validate (the -search mode needs only server settings).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// envValue maps CELCAL_CALENDAR__ICS_PATH to calendar.ics_path and splits
// the comma separated CELCAL_GROUPS list.
func envValue(key, value string) (string, interface{}) {
	k := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	k = strings.ReplaceAll(k, "__", ".")
	if k == "groups" {
		parts := strings.Split(value, ",")
		groups := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				groups = append(groups, p)
			}
		}
		return k, groups
	}
	return k, value
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".celcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

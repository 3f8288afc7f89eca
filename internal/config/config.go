// Package config provides the YAML-based application configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// HomeAssistantConfig holds connection details for the Home Assistant
// instance that exposes the managed lock's code slot entities.
type HomeAssistantConfig struct {
	// BaseURL is the Home Assistant REST endpoint, e.g. "http://localhost:8123".
	BaseURL string `yaml:"base_url"`
	// Token is a long-lived access token.
	Token string `yaml:"token"`
}

// Config is the top-level application configuration for a single
// managed rental calendar.
type Config struct {
	// Listen is the HTTP listen address for the diagnostic API.
	Listen string `yaml:"listen"`

	// DataDir is where the SQLite audit database lives.
	DataDir string `yaml:"data_dir"`

	// Name is a human-friendly label for this calendar.
	Name string `yaml:"name"`

	// URL is the ICS feed endpoint.
	URL string `yaml:"url"`

	// Timezone is the IANA zone the rental property operates in.
	Timezone string `yaml:"timezone"`

	// Checkin and Checkout are default times of day ("HH:MM") applied
	// to date-only calendar entries.
	Checkin  string `yaml:"checkin"`
	Checkout string `yaml:"checkout"`

	// Days is the forward window of calendar days to track.
	Days int `yaml:"days"`

	// MaxEvents is the number of upcoming events rendered as event slots.
	MaxEvents int `yaml:"max_events"`

	// StartSlot is the first door-code slot number managed by this
	// calendar. The managed range is [StartSlot, StartSlot+MaxEvents).
	StartSlot int `yaml:"start_slot"`

	// LockName is the lock's entity name prefix (Keymaster-style). If
	// empty, no slot management is performed.
	LockName string `yaml:"lock_name"`

	// CodeGeneration selects how door codes are derived when a slot has
	// no explicit code: "date_based", "last_four" or "static_random".
	CodeGeneration string `yaml:"code_generation"`

	// CodeLength is the number of digits in generated codes.
	CodeLength int `yaml:"code_length"`

	// ShouldUpdateCode allows a date shift on a future reservation to
	// cycle the slot so a date_based code is regenerated.
	ShouldUpdateCode bool `yaml:"should_update_code"`

	// EventPrefix, if set, is prepended to event summaries for display.
	EventPrefix string `yaml:"event_prefix"`

	// IgnoreNonReserved drops "Blocked" / "Not available" entries.
	IgnoreNonReserved *bool `yaml:"ignore_non_reserved"`

	// VerifySSL controls TLS verification on the feed fetch.
	VerifySSL *bool `yaml:"verify_ssl"`

	// RefreshFrequency is the calendar refresh interval in minutes.
	// 0 means continuous; the coordinator clamps that to a 10s floor.
	RefreshFrequency int `yaml:"refresh_frequency"`

	// HomeAssistant is the lock-management collaborator connection.
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
}

// Defaults matching the rental domain conventions.
const (
	DefaultCheckin          = "16:00"
	DefaultCheckout         = "11:00"
	DefaultDays             = 365
	DefaultMaxEvents        = 5
	DefaultCodeGeneration   = "date_based"
	DefaultCodeLength       = 4
	DefaultRefreshFrequency = 2
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	t := true
	return &Config{
		Listen:            "127.0.0.1:8098",
		DataDir:           "./data",
		Name:              "Rental",
		Timezone:          "UTC",
		Checkin:           DefaultCheckin,
		Checkout:          DefaultCheckout,
		Days:              DefaultDays,
		MaxEvents:         DefaultMaxEvents,
		StartSlot:         1,
		CodeGeneration:    DefaultCodeGeneration,
		CodeLength:        DefaultCodeLength,
		IgnoreNonReserved: &t,
		VerifySSL:         &t,
		RefreshFrequency:  DefaultRefreshFrequency,
	}
}

// Normalize fills in missing/zero values so partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8098"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Name == "" {
		c.Name = "Rental"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if _, err := parseTimeOfDay(c.Checkin); err != nil {
		c.Checkin = DefaultCheckin
	}
	if _, err := parseTimeOfDay(c.Checkout); err != nil {
		c.Checkout = DefaultCheckout
	}
	if c.Days <= 0 {
		c.Days = DefaultDays
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.StartSlot <= 0 {
		c.StartSlot = 1
	}
	switch c.CodeGeneration {
	case "date_based", "last_four", "static_random":
	default:
		c.CodeGeneration = DefaultCodeGeneration
	}
	if c.CodeLength < 4 || c.CodeLength > 8 {
		c.CodeLength = DefaultCodeLength
	}
	if c.IgnoreNonReserved == nil {
		t := true
		c.IgnoreNonReserved = &t
	}
	if c.VerifySSL == nil {
		t := true
		c.VerifySSL = &t
	}
	if c.RefreshFrequency < 0 {
		c.RefreshFrequency = DefaultRefreshFrequency
	}
}

// Validate checks settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: url is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	if c.LockName != "" && c.HomeAssistant.BaseURL == "" {
		return errors.New("config: home_assistant.base_url is required when lock_name is set")
	}
	return nil
}

// CheckinTime returns the parsed default check-in time of day.
func (c *Config) CheckinTime() (hour, minute int) {
	t, _ := parseTimeOfDay(c.Checkin)
	return t.hour, t.minute
}

// CheckoutTime returns the parsed default check-out time of day.
func (c *Config) CheckoutTime() (hour, minute int) {
	t, _ := parseTimeOfDay(c.Checkout)
	return t.hour, t.minute
}

// Location returns the configured IANA timezone. Validate must have
// passed for this to be safe.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type timeOfDay struct {
	hour, minute int
}

func parseTimeOfDay(s string) (timeOfDay, error) {
	var t timeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.hour, &t.minute); err != nil {
		return t, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if t.hour < 0 || t.hour > 23 || t.minute < 0 || t.minute > 59 {
		return t, fmt.Errorf("invalid time of day %q", s)
	}
	return t, nil
}

// Load loads configuration from the given YAML path. If the file does
// not exist, a default config is written there and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".rental-control-*.tmp")
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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Checkin != DefaultCheckin || cfg.Checkout != DefaultCheckout {
		t.Errorf("defaults not applied: checkin %q checkout %q", cfg.Checkin, cfg.Checkout)
	}
	if cfg.MaxEvents != DefaultMaxEvents {
		t.Errorf("max events = %d, want %d", cfg.MaxEvents, DefaultMaxEvents)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Name = "Lake House"
	cfg.URL = "https://example.com/feed.ics"
	cfg.Timezone = "America/New_York"
	cfg.LockName = "frontdoor"
	cfg.StartSlot = 10
	cfg.HomeAssistant.BaseURL = "http://localhost:8123"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Name != "Lake House" || loaded.URL != cfg.URL {
		t.Errorf("loaded %q %q", loaded.Name, loaded.URL)
	}
	if loaded.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", loaded.Timezone)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestNormalizeRepairsBadValues(t *testing.T) {
	cfg := &Config{
		Checkin:          "25:99",
		Checkout:         "whenever",
		Days:             -1,
		MaxEvents:        0,
		StartSlot:        0,
		CodeGeneration:   "tarot_cards",
		CodeLength:       2,
		RefreshFrequency: -5,
	}
	cfg.Normalize()

	if cfg.Checkin != DefaultCheckin || cfg.Checkout != DefaultCheckout {
		t.Errorf("times not repaired: %q %q", cfg.Checkin, cfg.Checkout)
	}
	if cfg.Days != DefaultDays || cfg.MaxEvents != DefaultMaxEvents {
		t.Errorf("window not repaired: days %d max %d", cfg.Days, cfg.MaxEvents)
	}
	if cfg.StartSlot != 1 {
		t.Errorf("start slot = %d, want 1", cfg.StartSlot)
	}
	if cfg.CodeGeneration != DefaultCodeGeneration || cfg.CodeLength != DefaultCodeLength {
		t.Errorf("code settings not repaired: %q %d", cfg.CodeGeneration, cfg.CodeLength)
	}
	if cfg.RefreshFrequency != DefaultRefreshFrequency {
		t.Errorf("refresh frequency = %d", cfg.RefreshFrequency)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() passed without a feed URL")
	}

	cfg.URL = "https://example.com/feed.ics"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	cfg.Timezone = "Mars/Olympus_Mons"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an unknown timezone")
	}
	cfg.Timezone = "UTC"

	cfg.LockName = "frontdoor"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a lock without a collaborator URL")
	}
}

func TestCheckinCheckoutTimes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checkin = "14:30"
	cfg.Checkout = "10:05"

	h, m := cfg.CheckinTime()
	if h != 14 || m != 30 {
		t.Errorf("CheckinTime() = %d:%d", h, m)
	}
	h, m = cfg.CheckoutTime()
	if h != 10 || m != 5 {
		t.Errorf("CheckoutTime() = %d:%d", h, m)
	}
}

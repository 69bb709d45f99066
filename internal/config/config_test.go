package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 3006 {
		t.Fatalf("default port should be 3006, got %d", cfg.Server.Port)
	}
	if cfg.Economy.MaxMP != 1000 || cfg.Economy.MPPerNineum != 200 {
		t.Fatalf("unexpected economy defaults %+v", cfg.Economy)
	}
	if cfg.Economy.HomeGalaxy != "28880014" {
		t.Fatalf("unexpected home galaxy %q", cfg.Economy.HomeGalaxy)
	}
	if cfg.Spellbook.LocalStop != "fount" {
		t.Fatalf("unexpected local stop %q", cfg.Spellbook.LocalStop)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 4010
economy:
  max_mp: 2000
  time_skew_tolerance: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FOUNT_CONFIG", path)
	t.Setenv("FOUNT_MAX_MP", "3000")
	t.Setenv("FOUNT_HOME_GALAXY", "0000c0de")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4010 {
		t.Fatalf("file value should apply, got port %d", cfg.Server.Port)
	}
	// Environment wins over the file.
	if cfg.Economy.MaxMP != 3000 {
		t.Fatalf("env override should win, got max_mp %d", cfg.Economy.MaxMP)
	}
	if cfg.Economy.TimeSkewTolerance != 2*time.Minute {
		t.Fatalf("duration from file should apply, got %v", cfg.Economy.TimeSkewTolerance)
	}
	if cfg.Economy.HomeGalaxy != "0000c0de" {
		t.Fatalf("env home galaxy should apply, got %q", cfg.Economy.HomeGalaxy)
	}
	// Untouched fields keep their defaults.
	if cfg.Economy.MPPerNineum != 200 {
		t.Fatalf("unset fields keep defaults, got %d", cfg.Economy.MPPerNineum)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FOUNT_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("missing config file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 3006 {
		t.Fatalf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"max_mp", func(c *Config) { c.Economy.MaxMP = 0 }},
		{"mp_per_nineum", func(c *Config) { c.Economy.MPPerNineum = -1 }},
		{"experience_to_mp", func(c *Config) { c.Economy.ExperienceToMP = 0 }},
		{"skew", func(c *Config) { c.Economy.TimeSkewTolerance = 0 }},
		{"reward_share", func(c *Config) { c.Economy.GatewayRewardShare = 1.5 }},
		{"home_galaxy", func(c *Config) { c.Economy.HomeGalaxy = "abc" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation failure", tc.name)
		}
	}
}

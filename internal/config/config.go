// Package config loads service configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the fount service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Economy   EconomyConfig   `yaml:"economy"`
	Spellbook SpellbookConfig `yaml:"spellbook"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Payments  PaymentsConfig  `yaml:"payments"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// EconomyConfig holds the token-economy constants. These are configuration,
// not protocol: changing them must never require a protocol change.
type EconomyConfig struct {
	MaxMP              int           `yaml:"max_mp"`
	RegenPerMinute     float64       `yaml:"regen_per_minute"`
	MPPerNineum        int           `yaml:"mp_per_nineum"`
	AbsorptionPerMin   float64       `yaml:"absorption_per_minute"`
	ExperienceToMP     int           `yaml:"experience_to_mp"`
	TimeSkewTolerance  time.Duration `yaml:"time_skew_tolerance"`
	GatewayRewardShare float64       `yaml:"gateway_reward_share"`
	JoinBootstrapCount int           `yaml:"join_bootstrap_count"`
	HomeGalaxy         string        `yaml:"home_galaxy"`
}

type SpellbookConfig struct {
	SeedPath  string `yaml:"seed_path"`
	BaseURL   string `yaml:"base_url"`
	LocalStop string `yaml:"local_stop"`
}

type AuthConfig struct {
	AdminSigningKey string `yaml:"admin_signing_key"`
	MasterSeed      string `yaml:"master_seed"`
	KeyVersion      string `yaml:"key_version"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// PaymentsConfig points at the external processor used for non-MP spells.
// An empty URL disables currency spells entirely.
type PaymentsConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads config.yaml (path overridable via FOUNT_CONFIG) and applies
// environment overrides on top.
func Load() (*Config, error) {
	path := os.Getenv("FOUNT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3006,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Economy: EconomyConfig{
			MaxMP:              1000,
			RegenPerMinute:     1.2,
			MPPerNineum:        200,
			AbsorptionPerMin:   10,
			ExperienceToMP:     2,
			TimeSkewTolerance:  5 * time.Minute,
			GatewayRewardShare: 0.1,
			JoinBootstrapCount: 64,
			HomeGalaxy:         "28880014",
		},
		Spellbook: SpellbookConfig{
			SeedPath:  "spellbook.yaml",
			LocalStop: "fount",
		},
		Auth: AuthConfig{KeyVersion: "v1"},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Payments: PaymentsConfig{Timeout: 10 * time.Second},
	}
}

// Validate checks invariants the services rely on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Economy.MaxMP <= 0 {
		return fmt.Errorf("economy max_mp must be positive")
	}
	if c.Economy.MPPerNineum <= 0 {
		return fmt.Errorf("economy mp_per_nineum must be positive")
	}
	if c.Economy.ExperienceToMP <= 0 {
		return fmt.Errorf("economy experience_to_mp must be positive")
	}
	if c.Economy.TimeSkewTolerance <= 0 {
		return fmt.Errorf("economy time_skew_tolerance must be positive")
	}
	if c.Economy.GatewayRewardShare < 0 || c.Economy.GatewayRewardShare > 1 {
		return fmt.Errorf("economy gateway_reward_share must be in [0,1]")
	}
	if len(c.Economy.HomeGalaxy) != 8 {
		return fmt.Errorf("economy home_galaxy must be 8 hex characters")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Host, "FOUNT_HOST")
	setInt(&cfg.Server.Port, "FOUNT_PORT")
	setString(&cfg.Redis.Addr, "FOUNT_REDIS_ADDR")
	setString(&cfg.Redis.Password, "FOUNT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FOUNT_REDIS_DB")
	setString(&cfg.Logging.Level, "FOUNT_LOG_LEVEL")
	setString(&cfg.Logging.Format, "FOUNT_LOG_FORMAT")
	setInt(&cfg.Economy.MaxMP, "FOUNT_MAX_MP")
	setFloat(&cfg.Economy.RegenPerMinute, "FOUNT_REGEN_PER_MINUTE")
	setInt(&cfg.Economy.MPPerNineum, "FOUNT_MP_PER_NINEUM")
	setFloat(&cfg.Economy.AbsorptionPerMin, "FOUNT_ABSORPTION_PER_MINUTE")
	setInt(&cfg.Economy.ExperienceToMP, "FOUNT_EXPERIENCE_TO_MP")
	setDuration(&cfg.Economy.TimeSkewTolerance, "FOUNT_TIME_SKEW_TOLERANCE")
	setInt(&cfg.Economy.JoinBootstrapCount, "FOUNT_JOIN_BOOTSTRAP_COUNT")
	setString(&cfg.Economy.HomeGalaxy, "FOUNT_HOME_GALAXY")
	setString(&cfg.Spellbook.SeedPath, "FOUNT_SPELLBOOK_PATH")
	setString(&cfg.Spellbook.BaseURL, "FOUNT_BASE_URL")
	setString(&cfg.Spellbook.LocalStop, "FOUNT_LOCAL_STOP")
	setString(&cfg.Auth.AdminSigningKey, "FOUNT_ADMIN_SIGNING_KEY")
	setString(&cfg.Auth.MasterSeed, "FOUNT_MASTER_SEED")
	setString(&cfg.Auth.KeyVersion, "FOUNT_KEY_VERSION")
	setInt(&cfg.RateLimit.RequestsPerSecond, "FOUNT_RATE_LIMIT_RPS")
	setInt(&cfg.RateLimit.Burst, "FOUNT_RATE_LIMIT_BURST")
	setString(&cfg.Payments.URL, "FOUNT_PAYMENTS_URL")
	setString(&cfg.Payments.APIKey, "FOUNT_PAYMENTS_KEY")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}

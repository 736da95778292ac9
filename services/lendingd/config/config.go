package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen         = ":8090"
	defaultRequestTimeout = 10 * time.Second
	defaultOracleMaxAge   = 5 * time.Minute
	defaultJournalLimit   = 500
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress  string                     `yaml:"listen"`
	Environment    string                     `yaml:"environment"`
	ModuleAddress  string                     `yaml:"module_address"`
	MarketFile     string                     `yaml:"market"`
	RequestTimeout time.Duration              `yaml:"request_timeout"`
	TLS            TLSConfig                  `yaml:"tls"`
	Auth           AuthConfig                 `yaml:"auth"`
	RateLimits     map[string]RateLimitConfig `yaml:"rate_limits"`
	Storage        StorageConfig              `yaml:"storage"`
	Journal        JournalConfig              `yaml:"journal"`
	Oracle         OracleConfig               `yaml:"oracle"`
	Logging        LoggingConfig              `yaml:"logging"`
	Telemetry      TelemetryConfig            `yaml:"telemetry"`
	CORS           CORSConfig                 `yaml:"cors"`
	Pauses         []string                   `yaml:"pauses"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scope_claim"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig configures one token bucket class (read, write, admin).
type RateLimitConfig struct {
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	DefaultTokens int            `yaml:"default_tokens"`
	Tokens        map[string]int `yaml:"tokens"`
}

// StorageConfig selects the key/value backend holding lending state.
type StorageConfig struct {
	Engine string `yaml:"engine"`
	Path   string `yaml:"path"`
}

// JournalConfig selects the SQL database recording committed events.
type JournalConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	DefaultLimit int    `yaml:"default_limit"`
}

// OracleConfig bounds the age of accepted prices.
type OracleConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Metrics     bool              `yaml:"metrics"`
	Traces      bool              `yaml:"traces"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.ModuleAddress = strings.TrimSpace(cfg.ModuleAddress)
	cfg.MarketFile = strings.TrimSpace(cfg.MarketFile)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Storage.normalize()
	cfg.Journal.normalize()
	if cfg.Oracle.MaxAge <= 0 {
		cfg.Oracle.MaxAge = defaultOracleMaxAge
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
	cfg.Pauses = trimAll(cfg.Pauses)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.MarketFile == "" {
		return fmt.Errorf("market file is required")
	}
	if cfg.ModuleAddress == "" {
		return fmt.Errorf("module_address is required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for name, limit := range cfg.RateLimits {
		if err := limit.validate(); err != nil {
			return fmt.Errorf("rate_limits.%s: %w", name, err)
		}
	}
	if err := cfg.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := cfg.Journal.validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if ratio := cfg.Telemetry.SampleRatio; ratio < 0 || ratio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.ScopeClaim = strings.TrimSpace(cfg.ScopeClaim)
}

func (cfg AuthConfig) validate() error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.HMACSecret) < 32 {
		return fmt.Errorf("hmac_secret must be at least 32 bytes when auth is enabled")
	}
	if cfg.ClockSkew < 0 {
		return fmt.Errorf("clock_skew must not be negative")
	}
	return nil
}

func (cfg RateLimitConfig) validate() error {
	if cfg.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be positive")
	}
	if cfg.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}
	if cfg.DefaultTokens < 0 {
		return fmt.Errorf("default_tokens must not be negative")
	}
	for route, tokens := range cfg.Tokens {
		if tokens <= 0 || tokens > cfg.Burst {
			return fmt.Errorf("tokens for %q must be within [1,%d]", route, cfg.Burst)
		}
	}
	return nil
}

// Storage engines.
const (
	StorageLevelDB = "leveldb"
	StorageBolt    = "bolt"
	StorageMemory  = "memory"
)

func (cfg *StorageConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	if cfg.Engine == "" {
		cfg.Engine = StorageLevelDB
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
}

func (cfg StorageConfig) validate() error {
	switch cfg.Engine {
	case StorageMemory:
		return nil
	case StorageLevelDB, StorageBolt:
		if cfg.Path == "" {
			return fmt.Errorf("path is required for the %s engine", cfg.Engine)
		}
		return nil
	default:
		return fmt.Errorf("unsupported engine %q", cfg.Engine)
	}
}

// Journal drivers.
const (
	JournalNone     = "none"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

func (cfg *JournalConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Driver == "" {
		cfg.Driver = JournalNone
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultJournalLimit
	}
}

func (cfg JournalConfig) validate() error {
	switch cfg.Driver {
	case JournalNone:
		return nil
	case JournalSQLite, JournalPostgres:
		if cfg.DSN == "" {
			return fmt.Errorf("dsn is required for the %s driver", cfg.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen       = ":8089"
	defaultOracleKind   = "fixed"
	defaultOracleAddr   = "oracle"
	defaultOracleAsset  = "XLM"
	defaultOraclePrice  = "0.15"
	defaultOracleDigits = 14
	defaultRatePerSec   = 10
	defaultBurst        = 20
	defaultClockSkew    = 2 * time.Minute
	defaultHTTPTimeout  = 5 * time.Second
	defaultFaucetWindow = time.Hour

	envPrefix = "LENDINGD_"
)

// Duration wraps time.Duration so YAML accepts values like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config captures the runtime settings for the lending daemon. EmergencyPause
// blocks every mutation regardless of the market's own pause flag until the
// daemon restarts without it. WSAllowedOrigins lists origin host patterns
// admitted to the event stream; empty admits same-origin clients only.
type Config struct {
	ListenAddress    string          `yaml:"listen"`
	Environment      string          `yaml:"env"`
	DataDir          string          `yaml:"data_dir"`
	ParamsFile       string          `yaml:"params_file"`
	EscrowAccount    string          `yaml:"escrow_account"`
	EmergencyPause   bool            `yaml:"emergency_pause"`
	WSAllowedOrigins []string        `yaml:"ws_allowed_origins"`
	Oracle           OracleConfig    `yaml:"oracle"`
	Journal          JournalConfig   `yaml:"journal"`
	Auth             AuthConfig      `yaml:"auth"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	Faucet           FaucetConfig    `yaml:"faucet"`
	Logging          LoggingConfig   `yaml:"logging"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`
}

// OracleConfig selects the price feed registered under Address. Kind is one
// of fixed, manual or http.
type OracleConfig struct {
	Kind     string   `yaml:"kind"`
	Address  string   `yaml:"address"`
	Asset    string   `yaml:"asset"`
	Decimals uint32   `yaml:"decimals"`
	Price    string   `yaml:"price"`
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

// JournalConfig selects the event journal backend. An empty driver disables
// the journal.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures bearer token verification. The token subject is the
// caller address.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
	// DevCallerHeader lets unauthenticated dev deployments name the caller.
	DevCallerHeader string `yaml:"dev_caller_header"`
}

// RateLimitConfig bounds the request rate per caller.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// FaucetConfig enables the development mint endpoint.
type FaucetConfig struct {
	Enabled              bool     `yaml:"enabled"`
	MaxRequestsPerWindow uint32   `yaml:"max_requests_per_window"`
	MaxUnitsPerWindow    uint64   `yaml:"max_units_per_window"`
	Window               Duration `yaml:"window"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Traces   bool              `yaml:"traces"`
	Metrics  bool              `yaml:"metrics"`
}

// Default returns a configuration suitable for a local dev daemon.
func Default() Config {
	return Config{
		ListenAddress: defaultListen,
		Oracle: OracleConfig{
			Kind:     defaultOracleKind,
			Address:  defaultOracleAddr,
			Asset:    defaultOracleAsset,
			Decimals: defaultOracleDigits,
			Price:    defaultOraclePrice,
			Timeout:  Duration{defaultHTTPTimeout},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: defaultRatePerSec, Burst: defaultBurst},
		Auth:      AuthConfig{ClockSkew: Duration{defaultClockSkew}},
		Faucet:    FaucetConfig{Window: Duration{defaultFaucetWindow}},
	}
}

// Load reads the YAML configuration from disk, applies LENDINGD_* environment
// overrides and validates the result. An empty path loads defaults plus
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = parsed
		return nil
	}

	str("LISTEN", &cfg.ListenAddress)
	str("ENV", &cfg.Environment)
	str("DATA_DIR", &cfg.DataDir)
	str("PARAMS_FILE", &cfg.ParamsFile)
	str("ORACLE_KIND", &cfg.Oracle.Kind)
	str("ORACLE_PRICE", &cfg.Oracle.Price)
	str("ORACLE_ENDPOINT", &cfg.Oracle.Endpoint)
	str("ORACLE_API_KEY", &cfg.Oracle.APIKey)
	str("JOURNAL_DRIVER", &cfg.Journal.Driver)
	str("JOURNAL_DSN", &cfg.Journal.DSN)
	str("JWT_SECRET", &cfg.Auth.HMACSecret)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	if err := boolean("AUTH_ENABLED", &cfg.Auth.Enabled); err != nil {
		return err
	}
	if err := boolean("EMERGENCY_PAUSE", &cfg.EmergencyPause); err != nil {
		return err
	}
	if v, ok := lookup(envPrefix + "WS_ALLOWED_ORIGINS"); ok {
		cfg.WSAllowedOrigins = strings.Split(v, ",")
	}
	return boolean("FAUCET_ENABLED", &cfg.Faucet.Enabled)
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
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.ParamsFile = strings.TrimSpace(cfg.ParamsFile)
	cfg.EscrowAccount = strings.TrimSpace(cfg.EscrowAccount)
	origins := cfg.WSAllowedOrigins[:0]
	for _, origin := range cfg.WSAllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	cfg.WSAllowedOrigins = origins

	o := &cfg.Oracle
	o.Kind = strings.ToLower(strings.TrimSpace(o.Kind))
	if o.Kind == "" {
		o.Kind = defaultOracleKind
	}
	o.Address = strings.TrimSpace(o.Address)
	if o.Address == "" {
		o.Address = defaultOracleAddr
	}
	o.Asset = strings.ToUpper(strings.TrimSpace(o.Asset))
	if o.Asset == "" {
		o.Asset = defaultOracleAsset
	}
	if o.Decimals == 0 {
		o.Decimals = defaultOracleDigits
	}
	o.Price = strings.TrimSpace(o.Price)
	o.Endpoint = strings.TrimSpace(o.Endpoint)
	o.APIKey = strings.TrimSpace(o.APIKey)
	if o.Timeout.Duration <= 0 {
		o.Timeout.Duration = defaultHTTPTimeout
	}

	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Auth.DevCallerHeader = strings.TrimSpace(cfg.Auth.DevCallerHeader)
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = defaultClockSkew
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = defaultRatePerSec
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.Faucet.Window.Duration <= 0 {
		cfg.Faucet.Window.Duration = defaultFaucetWindow
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Oracle.validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := cfg.Journal.validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if err := cfg.Auth.validate(cfg.Environment); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.Faucet.Enabled && !cfg.IsDev() {
		return fmt.Errorf("faucet: only available when env=dev")
	}
	return nil
}

// IsDev reports whether the daemon runs in the development environment.
func (cfg Config) IsDev() bool { return cfg.Environment == "dev" }

func (cfg OracleConfig) validate() error {
	switch cfg.Kind {
	case "fixed", "manual":
	case "http":
		if cfg.Endpoint == "" {
			return fmt.Errorf("endpoint required for http oracle")
		}
	default:
		return fmt.Errorf("unsupported kind %q", cfg.Kind)
	}
	if cfg.Decimals < 2 {
		return fmt.Errorf("decimals must be at least 2")
	}
	return nil
}

func (cfg JournalConfig) validate() error {
	switch cfg.Driver {
	case "":
		return nil
	case "sqlite", "postgres":
		if cfg.DSN == "" {
			return fmt.Errorf("dsn required for %s", cfg.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func (cfg AuthConfig) validate(env string) error {
	if cfg.Enabled {
		if cfg.HMACSecret == "" {
			return fmt.Errorf("hmac_secret required when auth is enabled")
		}
		return nil
	}
	if env != "dev" {
		return fmt.Errorf("auth may only be disabled when env=dev")
	}
	if cfg.DevCallerHeader == "" {
		return fmt.Errorf("dev_caller_header required when auth is disabled")
	}
	return nil
}

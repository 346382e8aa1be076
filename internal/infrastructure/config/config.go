package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names accepted by the environment setting.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DevJWTSecret is the signing secret used when running in development mode
// without an explicit secret. It is public knowledge and must never sign
// production tokens; Load refuses to apply it outside development.
const DevJWTSecret = "allokapri-development-secret-not-for-production"

// Default seed owner credentials, matching the values documented for local setups.
const (
	DefaultSeedOwnerEmail    = "owner@allokapri.com"
	DefaultSeedOwnerPassword = "Allokapri123!"
	DefaultSeedOwnerName     = "Owner"
)

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for Allokapri Workspace Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Environment string         `yaml:"environment"`
	Database    DatabaseConfig `yaml:"database"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	API         APIConfig      `yaml:"api"`
	InfluxDB    InfluxDBConfig `yaml:"influxdb"`
	Logging     LoggingConfig  `yaml:"logging"`
	Security    SecurityConfig `yaml:"security"`
	Seed        SeedConfig     `yaml:"seed"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// Auth events are only fanned out when Enabled is true.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sessions  SessionsConfig  `yaml:"sessions"`
}

// JWTConfig contains token settings. TTLs are duration strings such as
// "15m" or "7d" (an integer followed by s, m, h or d).
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  string `yaml:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl"`

	// UsingDevSecret is set by Load when DevJWTSecret was applied.
	UsingDevSecret bool `yaml:"-"`
}

// PasswordConfig contains password hashing settings.
type PasswordConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// RateLimitConfig contains login rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// SessionsConfig controls the expired-session sweeper.
type SessionsConfig struct {
	SweepInterval string `yaml:"sweep_interval"`
}

// SeedConfig describes the owner account ensured at startup.
type SeedConfig struct {
	Enabled       bool   `yaml:"enabled"`
	OwnerEmail    string `yaml:"owner_email"`
	OwnerPassword string `yaml:"owner_password"`
	OwnerName     string `yaml:"owner_name"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults); skipped when path is empty
//  3. Environment variables (override file values)
//  4. Development fallbacks (only when environment is "development")
//
// Environment variables follow the pattern: ALLOKAPRI_SECTION_KEY
// For example: ALLOKAPRI_DATABASE_PATH, ALLOKAPRI_JWT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults and environment only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDevelopmentFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Environment: EnvProduction,
		Database: DatabaseConfig{
			Path:        "./data/allokapri.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "allokapri-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 4000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  "15m",
				RefreshTokenTTL: "7d",
			},
			Password: PasswordConfig{
				BcryptCost: 10,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 20,
				Burst:             5,
			},
			Sessions: SessionsConfig{
				SweepInterval: "1h",
			},
		},
		Seed: SeedConfig{
			Enabled:       true,
			OwnerEmail:    DefaultSeedOwnerEmail,
			OwnerPassword: DefaultSeedOwnerPassword,
			OwnerName:     DefaultSeedOwnerName,
		},
	}
}

// applyEnvOverrides lets ALLOKAPRI_* variables override file values. Empty
// variables are ignored, as are ports that do not parse.
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"ALLOKAPRI_ENV":                    &cfg.Environment,
		"ALLOKAPRI_DATABASE_PATH":          &cfg.Database.Path,
		"ALLOKAPRI_MQTT_HOST":              &cfg.MQTT.Broker.Host,
		"ALLOKAPRI_MQTT_USERNAME":          &cfg.MQTT.Auth.Username,
		"ALLOKAPRI_MQTT_PASSWORD":          &cfg.MQTT.Auth.Password,
		"ALLOKAPRI_API_HOST":               &cfg.API.Host,
		"ALLOKAPRI_INFLUXDB_TOKEN":         &cfg.InfluxDB.Token,
		"ALLOKAPRI_JWT_SECRET":             &cfg.Security.JWT.Secret,
		"ALLOKAPRI_JWT_EXPIRES_IN":         &cfg.Security.JWT.AccessTokenTTL,
		"ALLOKAPRI_JWT_REFRESH_EXPIRES_IN": &cfg.Security.JWT.RefreshTokenTTL,
		"ALLOKAPRI_SEED_OWNER_EMAIL":       &cfg.Seed.OwnerEmail,
		"ALLOKAPRI_SEED_OWNER_PASSWORD":    &cfg.Seed.OwnerPassword,
		"ALLOKAPRI_SEED_OWNER_NAME":        &cfg.Seed.OwnerName,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("ALLOKAPRI_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// applyDevelopmentFallbacks fills in the development signing secret when
// running in development mode without one. Production is never touched.
func applyDevelopmentFallbacks(cfg *Config) {
	if !cfg.IsDevelopment() {
		return
	}
	if cfg.Security.JWT.Secret == "" {
		cfg.Security.JWT.Secret = DevJWTSecret
		cfg.Security.JWT.UsingDevSecret = true
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, "environment must be development or production")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A weak or missing secret lets anyone mint tokens for any role.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ALLOKAPRI_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Environment == EnvProduction && c.Security.JWT.Secret == DevJWTSecret {
		errs = append(errs, "security.jwt.secret must not be the development secret in production")
	}

	durations := []struct {
		key   string
		value string
	}{
		{"security.jwt.access_token_ttl", c.Security.JWT.AccessTokenTTL},
		{"security.jwt.refresh_token_ttl", c.Security.JWT.RefreshTokenTTL},
		{"security.sessions.sweep_interval", c.Security.Sessions.SweepInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", d.key, err))
		}
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when rate limiting is enabled")
	}

	if c.Seed.Enabled {
		if c.Seed.OwnerEmail == "" || c.Seed.OwnerPassword == "" {
			errs = append(errs, "seed.owner_email and seed.owner_password are required when seeding is enabled")
		}
		if c.Environment == EnvProduction && c.Seed.OwnerPassword == DefaultSeedOwnerPassword {
			errs = append(errs, "seed.owner_password must be changed from the default in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// ReadTimeout returns the API read timeout.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API keep-alive idle timeout.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

// Token and session window defaults.
const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultRefreshWindow  = 7 * 24 * time.Hour
	defaultSweepInterval  = time.Hour
)

// AccessTTL returns the parsed access token lifetime.
func (j JWTConfig) AccessTTL() time.Duration {
	return durationOr(j.AccessTokenTTL, defaultAccessTokenTTL)
}

// RefreshWindow returns the parsed session record lifetime.
func (j JWTConfig) RefreshWindow() time.Duration {
	return durationOr(j.RefreshTokenTTL, defaultRefreshWindow)
}

// Interval returns the parsed sweep interval.
func (s SessionsConfig) Interval() time.Duration {
	return durationOr(s.SweepInterval, defaultSweepInterval)
}

// durationPattern matches "<integer><unit>" with unit s, m, h or d.
var durationPattern = regexp.MustCompile(`^([0-9]+)([smhd])$`)

// ErrInvalidDuration is returned by ParseDuration for malformed input.
var ErrInvalidDuration = errors.New("invalid duration (want <integer><s|m|h|d>, e.g. 15m or 7d)")

// ParseDuration parses an integer-plus-unit duration such as "30s", "15m",
// "12h" or "7d". Zero durations are rejected.
func ParseDuration(value string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}

	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}

	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]

	if amount > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidDuration, value)
	}
	return time.Duration(amount) * unit, nil
}

// durationOr parses value, returning fallback when it is empty or malformed.
func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

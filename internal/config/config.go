// Package config loads portal-authd settings from an optional YAML file and
// PORTAL_AUTH_* environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/mailer"
)

// EnvPrefix prefixes every environment override, e.g. PORTAL_AUTH_REDIS_ADDR.
const EnvPrefix = "PORTAL_AUTH"

// Config is the daemon configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" envconfig:"HTTP"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
	Redis    RedisConfig    `yaml:"redis" envconfig:"REDIS"`
	Postgres PostgresConfig `yaml:"postgres" envconfig:"POSTGRES"`
	AMQP     AMQPConfig     `yaml:"amqp" envconfig:"AMQP"`
	Portal   PortalConfig   `yaml:"portal" envconfig:"PORTAL"`
	Session  SessionConfig  `yaml:"session" envconfig:"SESSION"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR"`
	DevMode         bool          `yaml:"dev_mode" envconfig:"DEV_MODE"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// TrustProxy takes the client IP from X-Forwarded-For and X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy" envconfig:"TRUST_PROXY"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

// PostgresConfig selects the user store. An empty DSN runs the in-memory
// store, which loses everything on restart.
type PostgresConfig struct {
	DSN string `yaml:"dsn" envconfig:"DSN"`
}

// AMQPConfig selects the mailer. An empty URL logs email jobs instead of
// publishing them.
type AMQPConfig struct {
	URL      string `yaml:"url" envconfig:"URL"`
	Exchange string `yaml:"exchange" envconfig:"EXCHANGE"`
}

type PortalConfig struct {
	// BaseURL prefixes links in outgoing email.
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

type SessionConfig struct {
	Lifetime time.Duration `yaml:"lifetime" envconfig:"LIFETIME"`
}

type SecurityConfig struct {
	// SealKey is the base64 encoded 32-byte key sealing TOTP secrets.
	SealKey           string        `yaml:"seal_key" envconfig:"SEAL_KEY"`
	MaxLoginAttempts  int           `yaml:"max_login_attempts" envconfig:"MAX_LOGIN_ATTEMPTS"`
	LoginCooldown     time.Duration `yaml:"login_cooldown" envconfig:"LOGIN_COOLDOWN"`
	MaxVerifyAttempts int           `yaml:"max_verify_attempts" envconfig:"MAX_VERIFY_ATTEMPTS"`
	AutoLogin         bool          `yaml:"auto_login" envconfig:"AUTO_LOGIN"`
}

// MetricsConfig controls the exporters. LogInterval zero disables the
// periodic OpenTelemetry log export.
type MetricsConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"ENABLED"`
	Prometheus  bool          `yaml:"prometheus" envconfig:"PROMETHEUS"`
	LogInterval time.Duration `yaml:"log_interval" envconfig:"LOG_INTERVAL"`
}

// Default returns the daemon defaults. Security.SealKey has no default.
func Default() Config {
	engine := portalauth.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		AMQP: AMQPConfig{
			Exchange: "portal.notifications",
		},
		Session: SessionConfig{
			Lifetime: engine.Session.Lifetime,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:  engine.Security.MaxLoginAttempts,
			LoginCooldown:     engine.Security.LoginCooldown,
			MaxVerifyAttempts: engine.EmailVerification.MaxAttempts,
			AutoLogin:         engine.EmailVerification.AutoLogin,
		},
		Metrics: MetricsConfig{
			Enabled:    engine.Metrics.Enabled,
			Prometheus: true,
		},
	}
}

// Load applies defaults, then the YAML file at path when path is non-empty,
// then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, "http.addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, "http.shutdown_timeout must be > 0")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, "redis.addr is required")
	}
	if c.AMQP.URL != "" && strings.TrimSpace(c.AMQP.Exchange) == "" {
		errs = append(errs, "amqp.exchange is required when amqp.url is set")
	}
	if c.Session.Lifetime <= 0 {
		errs = append(errs, "session.lifetime must be > 0")
	}
	if c.Security.MaxLoginAttempts <= 0 {
		errs = append(errs, "security.max_login_attempts must be > 0")
	}
	if c.Security.LoginCooldown <= 0 {
		errs = append(errs, "security.login_cooldown must be > 0")
	}
	if c.Security.MaxVerifyAttempts <= 0 {
		errs = append(errs, "security.max_verify_attempts must be > 0")
	}
	if c.Metrics.LogInterval < 0 {
		errs = append(errs, "metrics.log_interval must be >= 0")
	}
	if c.Security.SealKey == "" {
		errs = append(errs, "security.seal_key is required (set PORTAL_AUTH_SECURITY_SEAL_KEY)")
	} else if _, err := c.sealKey(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) sealKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Security.SealKey))
	if err != nil {
		return nil, errors.New("security.seal_key must be base64")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("security.seal_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Engine maps the daemon settings onto the engine defaults.
func (c *Config) Engine() (portalauth.Config, error) {
	key, err := c.sealKey()
	if err != nil {
		return portalauth.Config{}, err
	}
	cfg := portalauth.DefaultConfig()
	cfg.Session.Lifetime = c.Session.Lifetime
	cfg.Security.MaxLoginAttempts = c.Security.MaxLoginAttempts
	cfg.Security.LoginCooldown = c.Security.LoginCooldown
	cfg.EmailVerification.MaxAttempts = c.Security.MaxVerifyAttempts
	cfg.EmailVerification.AutoLogin = c.Security.AutoLogin
	cfg.TwoFactor.SealKey = key
	cfg.Metrics.Enabled = c.Metrics.Enabled
	return cfg, cfg.Validate()
}

// Links returns the email link builder.
func (c *Config) Links() mailer.Links {
	return mailer.Links{BaseURL: c.Portal.BaseURL}
}

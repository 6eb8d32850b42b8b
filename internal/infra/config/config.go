// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default environment.
	EnvDevelopment Environment = "development"
	// EnvProduction marks a production deployment.
	EnvProduction Environment = "production"
)

// Environment variables consulted when the YAML omits broker credentials.
const (
	envAppKey    = "KIWOOM_APP_KEY"
	envSecretKey = "KIWOOM_SECRET_KEY"
)

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
	MigrationsPath    string        `yaml:"migrationsPath"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/lotledger"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	if strings.TrimSpace(c.MigrationsPath) == "" {
		c.MigrationsPath = "db/migrations"
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	return nil
}

// BrokerConfig configures the brokerage REST and websocket endpoints.
type BrokerConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	SocketURL   string        `yaml:"socketURL"`
	AppKey      string        `yaml:"appKey"`
	SecretKey   string        `yaml:"secretKey"`
	Timeout     time.Duration `yaml:"timeout"`
	RatePerSec  float64       `yaml:"ratePerSec"`
	RateBurst   int           `yaml:"rateBurst"`
	MaxRetries  int           `yaml:"maxRetries"`
	MaxWaitTime time.Duration `yaml:"maxWaitTime"`
}

func (c *BrokerConfig) applyDefaults() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.SocketURL = strings.TrimSpace(c.SocketURL)
	if strings.TrimSpace(c.AppKey) == "" {
		c.AppKey = strings.TrimSpace(os.Getenv(envAppKey))
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		c.SecretKey = strings.TrimSpace(os.Getenv(envSecretKey))
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 4
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = 30 * time.Second
	}
}

// ValidateCredentials checks the fields the broker client needs. Rebuild-only
// deployments never call it: derived ledgers need the database, not the
// brokerage.
func (c BrokerConfig) ValidateCredentials() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("baseURL required")
	}
	if strings.TrimSpace(c.AppKey) == "" {
		return fmt.Errorf("appKey required (yaml or %s)", envAppKey)
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("secretKey required (yaml or %s)", envSecretKey)
	}
	return nil
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

func (c *TelemetryConfig) applyDefaults() {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "lotledger"
	}
}

// CalendarConfig lists the exchange timezone and closed days used by the
// trading-day gate.
type CalendarConfig struct {
	Timezone string   `yaml:"timezone"`
	Holidays []string `yaml:"holidays"`
}

func (c *CalendarConfig) applyDefaults() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "Asia/Seoul"
	}
}

func (c CalendarConfig) validate() error {
	for _, h := range c.Holidays {
		if _, err := time.Parse("2006-01-02", strings.TrimSpace(h)); err != nil {
			return fmt.Errorf("holiday %q: want YYYY-MM-DD", h)
		}
	}
	return nil
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Database    DatabaseConfig  `yaml:"database"`
	Broker      BrokerConfig    `yaml:"broker"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Calendar    CalendarConfig  `yaml:"calendar"`
}

func (c *AppConfig) applyDefaults() {
	if strings.TrimSpace(string(c.Environment)) == "" {
		c.Environment = EnvDevelopment
	}
	c.Database.applyDefaults()
	c.Broker.applyDefaults()
	c.Telemetry.applyDefaults()
	c.Calendar.applyDefaults()
}

// Validate checks the configuration for internal consistency.
func (c AppConfig) Validate() error {
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Calendar.validate(); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	return nil
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	f, err := os.Open(configPath)
	if err != nil {
		return AppConfig{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration file when present and falls back to
// defaults when it does not exist. The boolean reports whether a file was
// read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, false, err
	}
	var fallback AppConfig
	fallback.applyDefaults()
	return fallback, false, nil
}

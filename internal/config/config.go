// Package config provides configuration loading for the querio CLI and
// server.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/adapters/postgres"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
	"github.com/canonica-labs/querio/internal/storage"
)

// EnvTest switches plan enrichment off.
const EnvTest = "test"

// Config holds the application configuration.
type Config struct {
	// Env is the deployment environment. "test" means offline.
	Env string `mapstructure:"env"`

	Advisor    AdvisorConfig           `mapstructure:"advisor"`
	PlanSource PlanSourceConfig        `mapstructure:"plan_source"`
	Logging    observability.LogConfig `mapstructure:"logging"`
	Server     ServerConfig            `mapstructure:"server"`
	Audit      AuditConfig             `mapstructure:"audit"`
	Remote     RemoteConfig            `mapstructure:"remote"`
}

// AdvisorConfig holds advisor settings.
type AdvisorConfig struct {
	PlanEnrichment bool          `mapstructure:"plan_enrichment"`
	PlanTimeout    time.Duration `mapstructure:"plan_timeout"`
}

// PlanSourceConfig selects the engine asked for plans.
type PlanSourceConfig struct {
	// Driver is one of the registered plan source drivers, or empty.
	Driver string `mapstructure:"driver"`

	// DSN is used as is when set; otherwise one is built from the fields
	// below.
	DSN string `mapstructure:"dsn"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`

	// Options carries engine specific settings such as catalog, schema or
	// warehouse.
	Options map[string]string `mapstructure:"options"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Token, when set, is required as a bearer token on advice endpoints.
	Token string `mapstructure:"token"`
}

// AuditConfig holds the audit store configuration.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

// RemoteConfig points the CLI at a running querio server.
type RemoteConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// legacyEnv binds the database variables of the original service.
var legacyEnv = map[string]string{
	"plan_source.user":     "DB_USER",
	"plan_source.password": "DB_PASSWORD",
	"plan_source.host":     "DB_HOST",
	"plan_source.port":     "DB_PORT",
	"plan_source.name":     "DB_NAME",
}

// Load loads configuration from defaults, an optional YAML file and the
// environment. An explicit configPath must exist.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("querio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".querio"))
		}
		v.AddConfigPath("/etc/querio")
	}

	v.SetEnvPrefix("QUERIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("env", "QUERIO_ENV", "ENV"); err != nil {
		return nil, fmt.Errorf("error binding env: %w", err)
	}
	for key, legacy := range legacyEnv {
		envKey := "QUERIO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("error binding env: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.PlanSource.Driver = strings.ToLower(strings.TrimSpace(cfg.PlanSource.Driver))
	return &cfg, nil
}

// DefaultConfig returns the configuration Load produces with no file and
// no environment.
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Advisor: AdvisorConfig{
			PlanEnrichment: true,
			PlanTimeout:    5 * time.Second,
		},
		PlanSource: PlanSourceConfig{
			SSLMode: "disable",
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
			File: observability.FileConfig{
				Path:       "logs/querio.log",
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled: false,
			Driver:  storage.DriverSQLite,
			DSN:     "querio-audit.db",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("env", d.Env)
	v.SetDefault("advisor.plan_enrichment", d.Advisor.PlanEnrichment)
	v.SetDefault("advisor.plan_timeout", d.Advisor.PlanTimeout)
	v.SetDefault("plan_source.driver", "")
	v.SetDefault("plan_source.dsn", "")
	v.SetDefault("plan_source.host", "")
	v.SetDefault("plan_source.port", 0)
	v.SetDefault("plan_source.user", "")
	v.SetDefault("plan_source.password", "")
	v.SetDefault("plan_source.name", "")
	v.SetDefault("plan_source.sslmode", d.PlanSource.SSLMode)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
	v.SetDefault("logging.file.max_size", d.Logging.File.MaxSize)
	v.SetDefault("logging.file.max_backups", d.Logging.File.MaxBackups)
	v.SetDefault("logging.file.max_age", d.Logging.File.MaxAge)
	v.SetDefault("logging.file.compress", d.Logging.File.Compress)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.token", "")
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.driver", d.Audit.Driver)
	v.SetDefault("audit.dsn", d.Audit.DSN)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
}

// IsTest reports whether the environment is the offline test mode.
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// PlanEnrichmentEnabled is the single switch passed to the advisor.
func (c *Config) PlanEnrichmentEnabled() bool {
	return c.Advisor.PlanEnrichment && !c.IsTest()
}

// Validate checks the configuration against the registered plan source
// drivers.
func (c *Config) Validate(registry *adapters.SourceRegistry) error {
	if driver := c.PlanSource.EffectiveDriver(); driver != "" && !registry.Has(driver) {
		return errors.NewInvalidConfig("plan_source.driver",
			fmt.Sprintf("unknown driver %q (available: %s)", driver, strings.Join(registry.Available(), ", ")))
	}
	if c.PlanSource.Port < 0 || c.PlanSource.Port > 65535 {
		return errors.NewInvalidConfig("plan_source.port", "must be between 0 and 65535")
	}
	if c.Advisor.PlanTimeout <= 0 {
		return errors.NewInvalidConfig("advisor.plan_timeout", "must be positive")
	}
	if _, err := zapcore.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return errors.NewInvalidConfig("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	if !slices.Contains(observability.LogFormats, c.Logging.Format) {
		return errors.NewInvalidConfig("logging.format",
			fmt.Sprintf("must be one of %s", strings.Join(observability.LogFormats, ", ")))
	}
	if !slices.Contains(observability.LogOutputs, c.Logging.Output) {
		return errors.NewInvalidConfig("logging.output",
			fmt.Sprintf("must be one of %s", strings.Join(observability.LogOutputs, ", ")))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.NewInvalidConfig("server", "read_timeout and write_timeout must be positive")
	}
	if c.Audit.Enabled {
		if _, err := storage.DialectFor(c.Audit.Driver); err != nil {
			return err
		}
		if c.Audit.DSN == "" {
			return errors.NewInvalidConfig("audit.dsn", "must be set when audit is enabled")
		}
	}
	return nil
}

// EffectiveDriver returns the configured driver. Without one, a configured
// host selects postgres, matching the DB_* variables of earlier releases.
func (p PlanSourceConfig) EffectiveDriver() string {
	if p.Driver != "" {
		return p.Driver
	}
	if p.Host != "" && p.DSN == "" {
		return postgres.DriverName
	}
	return ""
}

// ConnParams converts the settings for the registry's DSN builders.
func (p PlanSourceConfig) ConnParams() adapters.ConnParams {
	extra := make(map[string]string, len(p.Options))
	for k, v := range p.Options {
		extra[strings.ToLower(k)] = v
	}
	return adapters.ConnParams{
		DSN:      p.DSN,
		Host:     p.Host,
		Port:     p.Port,
		User:     p.User,
		Password: p.Password,
		Database: p.Name,
		SSLMode:  p.SSLMode,
		Extra:    extra,
	}
}

// OpenPlanSource returns the configured plan source, or nil when no driver
// is configured.
func (c *Config) OpenPlanSource(registry *adapters.SourceRegistry, opts ...adapters.Option) (adapters.PlanSource, error) {
	driver := c.PlanSource.EffectiveDriver()
	if driver == "" {
		return nil, nil
	}
	return registry.Open(driver, c.PlanSource.ConnParams(), opts...)
}

// AuditSettings returns the audit store selection.
func (c *Config) AuditSettings() observability.AuditSettings {
	return observability.AuditSettings{
		Enabled: c.Audit.Enabled,
		Driver:  c.Audit.Driver,
		DSN:     c.Audit.DSN,
	}
}

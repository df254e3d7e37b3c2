// Package config loads the service configuration from a config file, the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/OrlandoBitencourt/whydah/internal/cache"
	"github.com/OrlandoBitencourt/whydah/internal/storage"
	"github.com/OrlandoBitencourt/whydah/internal/telemetry"
)

// EnvPrefix prefixes every environment variable, so "server.addr" is read
// from WHYDAH_SERVER_ADDR.
const EnvPrefix = "WHYDAH"

// legacyEnv lists the unprefixed variable names still honored per key
var legacyEnv = map[string][]string{
	"repo.url":   {"GIT_REPO_URL"},
	"repo.token": {"GIT_TOKEN"},
}

// Config is the full service configuration
type Config struct {
	Repo        RepoConfig        `mapstructure:"repo"`
	Server      ServerConfig      `mapstructure:"server"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	RenderCache RenderCacheConfig `mapstructure:"render_cache"`
	Log         LogConfig         `mapstructure:"log"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// RepoConfig locates the configuration repository
type RepoConfig struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	Branch         string        `mapstructure:"branch"`
	Depth          int           `mapstructure:"depth"`
	WorkDir        string        `mapstructure:"work_dir"`
	InitialTimeout time.Duration `mapstructure:"initial_timeout"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// ServerConfig configures the HTTP edge
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	MaxBodyBytes  int64  `mapstructure:"max_body_bytes"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	WebhookBranch string `mapstructure:"webhook_branch"`
}

// BreakerConfig configures the refresh circuit breaker
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RenderCacheConfig sizes the encoded-response cache
type RenderCacheConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	MaxCost int64 `mapstructure:"max_cost"`
}

// LogConfig selects the log level and format
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig selects the OpenTelemetry exporter. OTLPLogs also routes
// application logs to the installed logger provider.
type TelemetryConfig struct {
	ServiceName    string        `mapstructure:"service_name"`
	Exporter       string        `mapstructure:"exporter"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
	OTLPLogs       bool          `mapstructure:"otlp_logs"`
}

// DefaultConfig returns defaults for everything but the repository URL
func DefaultConfig() *Config {
	c := cache.DefaultConfig()
	return &Config{
		Repo: RepoConfig{
			Depth:          c.Depth,
			InitialTimeout: c.InitialTimeout,
			RefreshTimeout: c.RefreshTimeout,
		},
		Server: ServerConfig{
			Addr:         ":5000",
			MaxBodyBytes: 64 << 10,
		},
		Breaker: BreakerConfig{
			Threshold: c.CircuitBreakerThreshold,
			Timeout:   c.CircuitBreakerTimeout,
		},
		RenderCache: RenderCacheConfig{
			Enabled: true,
			MaxCost: storage.DefaultConfig().MaxCost,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "whydah",
			Exporter:       telemetry.ExporterNone,
			MetricInterval: 30 * time.Second,
		},
	}
}

// Load reads configuration. Values come, lowest precedence first, from the
// defaults, the config file, then the environment. A .env file in the
// working directory is loaded into the environment first without
// overriding variables that are already set.
//
// path names the config file. When empty, an optional whydah.{yaml,json,toml}
// in the working directory is used.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("whydah")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvs(v, cfg); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// bindEnvs registers every key in cfg so viper consults the environment
// when unmarshalling, including the legacy names in legacyEnv.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) error {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}

	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)

		if f.Type.Kind() == reflect.Struct {
			if err := bindEnvs(v, val.Field(i).Interface(), key...); err != nil {
				return err
			}
			continue
		}

		name := strings.Join(key, ".")
		env := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))}
		env = append(env, legacyEnv[name]...)
		if err := v.BindEnv(append([]string{name}, env...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Repo.URL == "" {
		return fmt.Errorf("repository URL is required (set %s_REPO_URL or GIT_REPO_URL)", EnvPrefix)
	}
	if err := c.CacheConfig().Validate(); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	if c.RenderCache.Enabled {
		if err := c.RenderCacheConfig().Validate(); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if !telemetry.ValidExporter(c.Telemetry.Exporter) {
		return fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.OTLPLogs && !c.TelemetryEnabled() {
		return fmt.Errorf("telemetry.otlp_logs requires a telemetry exporter")
	}
	return nil
}

// TelemetryEnabled reports whether an exporter is configured
func (c *Config) TelemetryEnabled() bool {
	e := strings.ToLower(c.Telemetry.Exporter)
	return e != "" && e != telemetry.ExporterNone
}

// SDKConfig returns the OpenTelemetry SDK settings
func (c *Config) SDKConfig() telemetry.SDKConfig {
	return telemetry.SDKConfig{
		ServiceName:    c.Telemetry.ServiceName,
		Exporter:       c.Telemetry.Exporter,
		MetricInterval: c.Telemetry.MetricInterval,
	}
}

// CacheConfig returns the cache manager settings
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		RepoURL:                 c.Repo.URL,
		Token:                   c.Repo.Token,
		Branch:                  c.Repo.Branch,
		Depth:                   c.Repo.Depth,
		WorkDir:                 c.Repo.WorkDir,
		InitialTimeout:          c.Repo.InitialTimeout,
		RefreshTimeout:          c.Repo.RefreshTimeout,
		CircuitBreakerThreshold: c.Breaker.Threshold,
		CircuitBreakerTimeout:   c.Breaker.Timeout,
	}
}

// RenderCacheConfig returns the render cache settings
func (c *Config) RenderCacheConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.MaxCost = c.RenderCache.MaxCost
	return cfg
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/username/permit-finder/internal/catalog"
	"github.com/username/permit-finder/internal/recgov"
	"github.com/username/permit-finder/pkg/dateutil"
)

const envPrefix = "PERMIT_FINDER"

// Config represents application configuration
type Config struct {
	RecGov  RecGovConfig  `mapstructure:"recgov"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Logging LoggingConfig `mapstructure:"logging"`
	Catalog CatalogConfig `mapstructure:"catalog"`
}

// RecGovConfig represents the availability API client configuration
type RecGovConfig struct {
	BaseURL            string      `mapstructure:"base_url" validate:"required,url"`
	UserAgent          string      `mapstructure:"user_agent"`
	RequestTimeout     string      `mapstructure:"request_timeout"`
	MinRequestInterval string      `mapstructure:"min_request_interval"`
	Retry              RetryConfig `mapstructure:"retry"`
}

// RetryConfig represents retry/backoff settings for transport failures
type RetryConfig struct {
	MaxRetries int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	MinWait    string `mapstructure:"min_wait"`
	MaxWait    string `mapstructure:"max_wait"`
}

// ScanConfig represents what to scan and how
type ScanConfig struct {
	Months      int      `mapstructure:"months" validate:"gte=1,lte=24"`
	MinSpots    int      `mapstructure:"min_spots" validate:"gte=0"`
	Timezone    string   `mapstructure:"timezone"`
	Concurrency int      `mapstructure:"concurrency" validate:"gte=1,lte=16"`
	RunTimeout  string   `mapstructure:"run_timeout"`
	Parks       []string `mapstructure:"parks" validate:"dive,required"`
}

// LoggingConfig represents diagnostic log settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// CatalogConfig lists the parks and trails that can be scanned. An empty
// list means the built-in catalog.
type CatalogConfig struct {
	Parks []ParkConfig `mapstructure:"parks" validate:"dive"`
}

// ParkConfig represents one park entry of the catalog
type ParkConfig struct {
	Name   string        `mapstructure:"name" validate:"required"`
	ParkID int           `mapstructure:"park_id" validate:"gt=0"`
	Trails []TrailConfig `mapstructure:"trails" validate:"dive"`
}

// TrailConfig represents one trail of a park
type TrailConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	TrailID int    `mapstructure:"trail_id" validate:"gt=0"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. With an empty path ./.env is tried
// and silently skipped when absent.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from file. With an empty configPath the usual
// locations are searched and a missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.permit-finder")
		v.AddConfigPath("/etc/permit-finder")
	}

	// Read environment variables, e.g. PERMIT_FINDER_SCAN_MONTHS
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	retry := recgov.DefaultRetryPolicy()

	v.SetDefault("recgov.base_url", recgov.DefaultBaseURL)
	v.SetDefault("recgov.user_agent", "permit-finder/1.0")
	v.SetDefault("recgov.request_timeout", "30s")
	v.SetDefault("recgov.min_request_interval", "1s")
	v.SetDefault("recgov.retry.max_retries", retry.MaxRetries)
	v.SetDefault("recgov.retry.min_wait", retry.MinWait.String())
	v.SetDefault("recgov.retry.max_wait", retry.MaxWait.String())

	v.SetDefault("scan.months", 3)
	v.SetDefault("scan.min_spots", 2)
	v.SetDefault("scan.timezone", "America/Los_Angeles")
	v.SetDefault("scan.concurrency", 1)
	v.SetDefault("scan.run_timeout", "10m")
	v.SetDefault("scan.parks", []string{"Mt. Whitney"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	durations := map[string]string{
		"recgov.request_timeout":      c.RecGov.RequestTimeout,
		"recgov.min_request_interval": c.RecGov.MinRequestInterval,
		"recgov.retry.min_wait":       c.RecGov.Retry.MinWait,
		"recgov.retry.max_wait":       c.RecGov.Retry.MaxWait,
		"scan.run_timeout":            c.Scan.RunTimeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("%s must be a non-negative duration, got '%s'", key, value)
		}
	}

	if _, err := dateutil.LoadLocation(c.Scan.Timezone); err != nil {
		return fmt.Errorf("scan.timezone: %w", err)
	}

	if _, err := c.Catalog.Build(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	return nil
}

// GetRequestTimeout returns the per-request deadline
func (c *RecGovConfig) GetRequestTimeout() time.Duration {
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// GetMinRequestInterval returns the minimum spacing between requests
func (c *RecGovConfig) GetMinRequestInterval() time.Duration {
	return parseDuration(c.MinRequestInterval, time.Second)
}

// ClientOptions converts the section into recgov client options
func (c *RecGovConfig) ClientOptions() recgov.Options {
	def := recgov.DefaultRetryPolicy()
	return recgov.Options{
		BaseURL:            c.BaseURL,
		UserAgent:          c.UserAgent,
		RequestTimeout:     c.GetRequestTimeout(),
		MinRequestInterval: c.GetMinRequestInterval(),
		Retry: recgov.RetryPolicy{
			MaxRetries: c.Retry.MaxRetries,
			MinWait:    parseDuration(c.Retry.MinWait, def.MinWait),
			MaxWait:    parseDuration(c.Retry.MaxWait, def.MaxWait),
		},
	}
}

// GetRunTimeout returns the overall run deadline, 0 meaning none
func (c *ScanConfig) GetRunTimeout() time.Duration {
	return parseDuration(c.RunTimeout, 0)
}

// GetLocation returns the reference timezone for "today"
func (c *ScanConfig) GetLocation() *time.Location {
	loc, err := dateutil.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Build converts the catalog section into a catalog. With no parks
// configured the built-in catalog is returned.
func (c *CatalogConfig) Build() (*catalog.Catalog, error) {
	if len(c.Parks) == 0 {
		return catalog.Default(), nil
	}

	parks := make([]catalog.Park, 0, len(c.Parks))
	for _, p := range c.Parks {
		trails := make([]catalog.Trail, 0, len(p.Trails))
		for _, t := range p.Trails {
			trails = append(trails, catalog.Trail{Name: t.Name, ID: t.TrailID})
		}
		parks = append(parks, catalog.NewPark(p.Name, p.ParkID, trails...))
	}
	return catalog.New(parks...)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return duration
}

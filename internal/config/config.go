package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/cadence/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Redis      RedisConfig      `yaml:"redis"`
	Campaigns  CampaignsConfig  `yaml:"campaigns"`
	Publishers PublishersConfig `yaml:"publishers"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// DispatchConfig holds the worker loop and retry policy. Durations are Go
// duration strings such as "30s" or "1h".
type DispatchConfig struct {
	Disabled            bool   `yaml:"disabled"`
	Interval            string `yaml:"interval"`
	BatchSize           int    `yaml:"batch_size"`
	MaxRetries          int    `yaml:"max_retries"`
	BaseDelay           string `yaml:"base_delay"`
	MaxDelay            string `yaml:"max_delay"`
	PublishTimeout      string `yaml:"publish_timeout"`
	PlatformConcurrency int    `yaml:"platform_concurrency"`
	StaleAfter          string `yaml:"stale_after"`
	ReaperInterval      string `yaml:"reaper_interval"`
}

type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Interval string `yaml:"interval"`
	Window   string `yaml:"window"`
	RedisKey string `yaml:"redis_key"`
}

type CalendarConfig struct {
	Timezone string `yaml:"timezone"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CampaignsConfig struct {
	DirectoryURL string           `yaml:"directory_url"`
	Token        string           `yaml:"token"`
	Timeout      string           `yaml:"timeout"`
	Static       []StaticCampaign `yaml:"static"`
}

// StaticCampaign seeds the campaign directory from config when no remote
// directory is configured
type StaticCampaign struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	LaunchInstant string `yaml:"launch_instant"`
	Goal          string `yaml:"goal"`
	CreatedBy     string `yaml:"created_by"`
}

type PublishersConfig struct {
	TikTok    PublisherConfig `yaml:"tiktok"`
	Instagram PublisherConfig `yaml:"instagram"`
	YouTube   PublisherConfig `yaml:"youtube"`
	Twitter   PublisherConfig `yaml:"twitter"`
	Facebook  PublisherConfig `yaml:"facebook"`
}

// PublisherConfig points a platform at its publishing gateway
type PublisherConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// DispatchPolicy is DispatchConfig with parsed durations
type DispatchPolicy struct {
	Interval            time.Duration
	BatchSize           int
	MaxRetries          int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	PublishTimeout      time.Duration
	PlatformConcurrency int
	StaleAfter          time.Duration
	ReaperInterval      time.Duration
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if _, err := cfg.Dispatch.Policy(); err != nil {
		return nil, err
	}
	for name, value := range map[string]string{
		"metrics.interval":  cfg.Metrics.Interval,
		"metrics.window":    cfg.Metrics.Window,
		"campaigns.timeout": cfg.Campaigns.Timeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}

	if cfg.Dispatch.Interval == "" {
		cfg.Dispatch.Interval = "30s"
	}
	if cfg.Dispatch.BatchSize <= 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.MaxRetries <= 0 {
		cfg.Dispatch.MaxRetries = 3
	}
	if cfg.Dispatch.BaseDelay == "" {
		cfg.Dispatch.BaseDelay = "30s"
	}
	if cfg.Dispatch.MaxDelay == "" {
		cfg.Dispatch.MaxDelay = "1h"
	}
	if cfg.Dispatch.PublishTimeout == "" {
		cfg.Dispatch.PublishTimeout = "30s"
	}
	if cfg.Dispatch.PlatformConcurrency <= 0 {
		cfg.Dispatch.PlatformConcurrency = defaultPlatformConcurrency
	}
	if cfg.Dispatch.StaleAfter == "" {
		cfg.Dispatch.StaleAfter = "10m"
	}
	if cfg.Dispatch.ReaperInterval == "" {
		cfg.Dispatch.ReaperInterval = "1m"
	}

	if cfg.Metrics.Interval == "" {
		cfg.Metrics.Interval = "30s"
	}
	if cfg.Metrics.Window == "" {
		cfg.Metrics.Window = "1h"
	}
	if cfg.Metrics.RedisKey == "" {
		cfg.Metrics.RedisKey = "cadence:metrics:live"
	}

	if cfg.Calendar.Timezone == "" {
		cfg.Calendar.Timezone = "UTC"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Campaigns.Timeout == "" {
		cfg.Campaigns.Timeout = "10s"
	}
}

// one slot per supported platform
const defaultPlatformConcurrency = 5

// Policy parses the duration strings of the dispatch section
func (c DispatchConfig) Policy() (DispatchPolicy, error) {
	policy := DispatchPolicy{
		BatchSize:           c.BatchSize,
		MaxRetries:          c.MaxRetries,
		PlatformConcurrency: c.PlatformConcurrency,
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"dispatch.interval", c.Interval, &policy.Interval},
		{"dispatch.base_delay", c.BaseDelay, &policy.BaseDelay},
		{"dispatch.max_delay", c.MaxDelay, &policy.MaxDelay},
		{"dispatch.publish_timeout", c.PublishTimeout, &policy.PublishTimeout},
		{"dispatch.stale_after", c.StaleAfter, &policy.StaleAfter},
		{"dispatch.reaper_interval", c.ReaperInterval, &policy.ReaperInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return DispatchPolicy{}, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		if parsed <= 0 {
			return DispatchPolicy{}, fmt.Errorf("invalid %s %q: must be positive", d.name, d.value)
		}
		*d.dst = parsed
	}

	return policy, nil
}

// Duration parses a duration string, falling back to def on error
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

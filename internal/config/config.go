// Package config provides configuration management for the notifier.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	River        RiverConfig        `mapstructure:"river"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig contains HTTP server settings for the admin API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One shared pgx pool serves repositories and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`

	// ProcessInterval is how often the event queue drain tick fires.
	ProcessInterval time.Duration `mapstructure:"process_interval"`

	// ScanInterval is how often the scheduled-event scan fires.
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize  int `mapstructure:"general_pool_size"`
	DeliveryPoolSize int `mapstructure:"delivery_pool_size"`
}

// NotificationConfig contains notification engine settings. These replace
// the ambient site configuration reads of the legacy system: everything is
// explicit and passed down from here.
type NotificationConfig struct {
	// AllowLegacy is the site-wide toggle permitting seminars to keep the
	// legacy notification system. Mutual exclusion only applies when this
	// AND the seminar-level flag are both set.
	AllowLegacy bool `mapstructure:"allow_legacy"`

	// NotifiableRoleIDs is the site-configured CSV of role ids used by the
	// notifiable-roles recipient resolver.
	NotifiableRoleIDs string `mapstructure:"notifiable_role_ids"`

	// QueueBatchSize bounds how many event queue rows one tick drains.
	QueueBatchSize int `mapstructure:"queue_batch_size"`

	// ScanLookback caps how far back a scheduled scan window may reach when
	// the previous tick time is unknown (first boot, long outage).
	ScanLookback time.Duration `mapstructure:"scan_lookback"`

	// PlaceholderCacheTTL bounds placeholder group instance reuse.
	PlaceholderCacheTTL time.Duration `mapstructure:"placeholder_cache_ttl"`
}

// NotifiableRoles parses the configured CSV into role ids, ignoring blanks.
func (c NotificationConfig) NotifiableRoles() []int64 {
	parts := strings.Split(c.NotifiableRoleIDs, ",")
	roles := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(p, "%d", &id); err == nil && id > 0 {
			roles = append(roles, id)
		}
	}
	return roles
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/coursepulse-notifier")

	// Environment variable override, no prefix: DATABASE_URL, SERVER_PORT...
	// Maps nested config: notification.queue_batch_size → NOTIFICATION_QUEUE_BATCH_SIZE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Notification.QueueBatchSize <= 0 {
		return fmt.Errorf("notification.queue_batch_size must be positive")
	}
	if c.River.ProcessInterval <= 0 {
		return fmt.Errorf("river.process_interval must be positive")
	}
	if c.River.ScanInterval <= 0 {
		return fmt.Errorf("river.scan_interval must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "notifier")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "notifier")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 30)
	v.SetDefault("database.min_conns", 3)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.process_interval", "1m")
	v.SetDefault("river.scan_interval", "5m")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.delivery_pool_size", 20)

	// Notification engine
	v.SetDefault("notification.allow_legacy", false)
	v.SetDefault("notification.notifiable_role_ids", "")
	v.SetDefault("notification.queue_batch_size", 200)
	v.SetDefault("notification.scan_lookback", "24h")
	v.SetDefault("notification.placeholder_cache_ttl", "5m")
}

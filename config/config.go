package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"watchtower/core"
)

// Destination describes one tenant deployment, including the endpoints its
// destination-aware checks target.
type Destination struct {
	ID          string `mapstructure:"id" validate:"required"`
	Code        string `mapstructure:"code" validate:"required"`
	Name        string `mapstructure:"name" validate:"required"`
	BaseURL     string `mapstructure:"base_url" validate:"required,url"`
	FrontendURL string `mapstructure:"frontend_url" validate:"required,url"`
	Active      bool   `mapstructure:"active"`
}

// Endpoint is a named HTTP target probed by the external-dependency and
// front-end checks.
type Endpoint struct {
	Name string `mapstructure:"name" validate:"required"`
	URL  string `mapstructure:"url" validate:"required,url"`
}

// BackupSpec describes one backup type the backup check classifies.
// Managed "cloud" short-circuits to healthy; "s3" is checked via the
// offsite bucket; otherwise the newest matching local file is classified.
type BackupSpec struct {
	Type    string `mapstructure:"type" validate:"required"`
	Managed string `mapstructure:"managed" validate:"omitempty,oneof=cloud s3"`
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// Config holds all configuration for the Watchtower service.
type Config struct {
	Environment string `mapstructure:"environment"`

	Destinations []Destination `mapstructure:"destinations" validate:"dive"`

	Server struct {
		PingAddr           string   `mapstructure:"ping_addr"`
		CPUWarnPercent     float64  `mapstructure:"cpu_warn_percent"`
		CPUCritPercent     float64  `mapstructure:"cpu_crit_percent"`
		MemoryWarnPercent  float64  `mapstructure:"memory_warn_percent"`
		MemoryCritPercent  float64  `mapstructure:"memory_crit_percent"`
		DiskWarnPercent    float64  `mapstructure:"disk_warn_percent"`
		DiskCritPercent    float64  `mapstructure:"disk_crit_percent"`
		DiskRoot           string   `mapstructure:"disk_root"`
		TrackedDirectories []string `mapstructure:"tracked_directories"`
	} `mapstructure:"server"`

	Redis struct {
		Addr     string `mapstructure:"addr" validate:"required"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	MongoDB struct {
		URI         string `mapstructure:"uri" validate:"required"`
		Database    string `mapstructure:"database" validate:"required"`
		MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	} `mapstructure:"mongodb"`

	ClickHouse struct {
		Addr        string `mapstructure:"addr" validate:"required"`
		Database    string `mapstructure:"database" validate:"required"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		MaxPoolSize int    `mapstructure:"max_pool_size"`
	} `mapstructure:"clickhouse"`

	SQLitePath string `mapstructure:"sqlite_path"`

	External  []Endpoint `mapstructure:"external" validate:"dive"`
	Queues    []string   `mapstructure:"queues"`
	QueueThresholds struct {
		FailedWarn      int64 `mapstructure:"failed_warn"`
		FailedUnhealthy int64 `mapstructure:"failed_unhealthy"`
		WaitingMax      int64 `mapstructure:"waiting_max"`
	} `mapstructure:"queue_thresholds"`

	Backups struct {
		Specs       []BackupSpec  `mapstructure:"specs" validate:"dive"`
		WarnAge     time.Duration `mapstructure:"warn_age"`
		CriticalAge time.Duration `mapstructure:"critical_age"`
		MinSize     int64         `mapstructure:"min_size"`
		S3Region    string        `mapstructure:"s3_region"`
	} `mapstructure:"backups"`

	Alerts struct {
		// CooldownMinutes maps urgency ("5" down to "1") to the minimum gap
		// between repeated alerts for the same key. Deployment-tunable
		// defaults, not fixed invariants.
		CooldownMinutes map[string]int `mapstructure:"cooldown_minutes"`
		WebhookURL      string      `mapstructure:"webhook_url"`
		SlackWebhookURL string      `mapstructure:"slack_webhook_url"`
		MaxTrackedKeys  int         `mapstructure:"max_tracked_keys"`
	} `mapstructure:"alerts"`

	API struct {
		Port              int `mapstructure:"port"`
		RequestsPerSecond int `mapstructure:"requests_per_second"`
		Burst             int `mapstructure:"burst"`
	} `mapstructure:"api"`

	Smoke struct {
		HealthPath      string   `mapstructure:"health_path"`
		BookingsPath    string   `mapstructure:"bookings_path"`
		TicketsPath     string   `mapstructure:"tickets_path"`
		MinBodyBytes    int64    `mapstructure:"min_body_bytes"`
		ExpectedMinJobs int64    `mapstructure:"expected_min_jobs"`
		SMSSecretVars   []string `mapstructure:"sms_secret_vars"`
	} `mapstructure:"smoke"`

	Scheduler struct {
		Enabled         bool   `mapstructure:"enabled"`
		QuickCron       string `mapstructure:"quick_cron"`
		FullCron        string `mapstructure:"full_cron"`
		BaselineCron    string `mapstructure:"baseline_cron"`
		SmokeCron       string `mapstructure:"smoke_cron"`
		CorrelationCron string `mapstructure:"correlation_cron"`
	} `mapstructure:"scheduler"`
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.ping_addr", "127.0.0.1:22")
	viper.SetDefault("server.cpu_warn_percent", 85)
	viper.SetDefault("server.cpu_crit_percent", 90)
	viper.SetDefault("server.memory_warn_percent", 85)
	viper.SetDefault("server.memory_crit_percent", 90)
	viper.SetDefault("server.disk_warn_percent", 80)
	viper.SetDefault("server.disk_crit_percent", 90)
	viper.SetDefault("server.disk_root", "/")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "watchtower")
	viper.SetDefault("mongodb.max_pool_size", 10)

	viper.SetDefault("clickhouse.addr", "localhost:9000")
	viper.SetDefault("clickhouse.database", "watchtower")
	viper.SetDefault("clickhouse.username", "default")
	viper.SetDefault("clickhouse.max_pool_size", 10)

	viper.SetDefault("sqlite_path", "./data/issues.db")

	viper.SetDefault("queues", []string{"notifications", "exports", "sync"})
	viper.SetDefault("queue_thresholds.failed_warn", 10)
	viper.SetDefault("queue_thresholds.failed_unhealthy", 50)
	viper.SetDefault("queue_thresholds.waiting_max", 1000)

	viper.SetDefault("backups.warn_age", 25*time.Hour)
	viper.SetDefault("backups.critical_age", 48*time.Hour)
	viper.SetDefault("backups.min_size", 1024)
	viper.SetDefault("backups.s3_region", "eu-central-1")

	viper.SetDefault("alerts.cooldown_minutes", map[string]int{
		"5": 5, "4": 15, "3": 60, "2": 240, "1": 1440,
	})
	viper.SetDefault("alerts.max_tracked_keys", 1024)

	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.requests_per_second", 10)
	viper.SetDefault("api.burst", 20)

	viper.SetDefault("smoke.health_path", "/api/health")
	viper.SetDefault("smoke.bookings_path", "/api/bookings")
	viper.SetDefault("smoke.tickets_path", "/api/bookings/%s/tickets")
	viper.SetDefault("smoke.min_body_bytes", 512)
	viper.SetDefault("smoke.expected_min_jobs", 3)
	viper.SetDefault("smoke.sms_secret_vars", []string{"SMS_API_KEY", "SMS_API_SECRET", "SMS_SENDER_ID"})

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.quick_cron", "*/5 * * * *")
	viper.SetDefault("scheduler.full_cron", "0 * * * *")
	viper.SetDefault("scheduler.baseline_cron", "30 6 * * *")
	viper.SetDefault("scheduler.smoke_cron", "0 6 * * *")
	viper.SetDefault("scheduler.correlation_cron", "0 7 * * 1")
}

// Load reads configuration from watchtower.yaml (working directory or
// /etc/watchtower) with WATCHTOWER_* environment overrides, then validates.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("watchtower")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/watchtower")
	viper.SetEnvPrefix("WATCHTOWER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults plus environment are a complete configuration.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural constraints after load.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for key := range c.Alerts.CooldownMinutes {
		urgency, err := strconv.Atoi(key)
		if err != nil || urgency < 1 || urgency > 5 {
			return fmt.Errorf("invalid configuration: cooldown urgency %q outside 1-5", key)
		}
	}

	seen := make(map[string]struct{}, len(c.Destinations))
	for _, dest := range c.Destinations {
		if _, dup := seen[dest.ID]; dup {
			return fmt.Errorf("invalid configuration: duplicate destination id %q", dest.ID)
		}
		seen[dest.ID] = struct{}{}
	}

	return nil
}

// CooldownTable converts the configured per-urgency cooldown minutes into
// durations keyed by urgency.
func (c *Config) CooldownTable() map[int]time.Duration {
	table := make(map[int]time.Duration, len(c.Alerts.CooldownMinutes))
	for key, minutes := range c.Alerts.CooldownMinutes {
		urgency, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		table[urgency] = time.Duration(minutes) * time.Minute
	}
	return table
}

// ActiveDestinations implements core.DestinationCatalog.
func (c *Config) ActiveDestinations() []core.Destination {
	var active []core.Destination
	for _, d := range c.Destinations {
		if d.Active {
			active = append(active, core.Destination{ID: d.ID, Code: d.Code, Name: d.Name})
		}
	}
	return active
}

// DestinationByID implements core.DestinationCatalog.
func (c *Config) DestinationByID(id string) (core.Destination, bool) {
	for _, d := range c.Destinations {
		if d.ID == id {
			return core.Destination{ID: d.ID, Code: d.Code, Name: d.Name}, true
		}
	}
	return core.Destination{}, false
}

// DestinationConfig returns the full destination record including endpoint
// URLs, for checks that need them.
func (c *Config) DestinationConfig(id string) (Destination, bool) {
	for _, d := range c.Destinations {
		if d.ID == id {
			return d, true
		}
	}
	return Destination{}, false
}

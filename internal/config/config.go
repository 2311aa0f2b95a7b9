package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Cache struct {
		TTLSeconds          int   `yaml:"ttl_seconds"`
		WarmDays            int   `yaml:"warm_days"`
		WarmDurations       []int `yaml:"warm_durations"`
		WarmIntervalSeconds int   `yaml:"warm_interval_seconds"`
		WarmRatePerSecond   int   `yaml:"warm_rate_per_second"`
	} `yaml:"cache"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Engine struct {
		DefaultHorizonDays int `yaml:"default_horizon_days"`
		MaxHorizonDays     int `yaml:"max_horizon_days"`
		MaxSummaryDays     int `yaml:"max_summary_days"`
		Concurrency        int `yaml:"concurrency"`
	} `yaml:"engine"`

	Policy BookingPolicy `yaml:"policy"`

	Backup BackupConfig `yaml:"backup"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	SchedulesConfigPath           string `yaml:"schedules_config_path"`
	ScheduleReloadIntervalSeconds int    `yaml:"schedule_reload_interval_seconds"`
}

// BookingPolicy holds the tenant rules applied when occupancies change status.
type BookingPolicy struct {
	CancellationWindowMinutes int `yaml:"cancellation_window_minutes"`
}

func (p BookingPolicy) CancellationWindow() time.Duration {
	return time.Duration(p.CancellationWindowMinutes) * time.Minute
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/slotwise.db"
	}
	if c.SchedulesConfigPath == "" {
		c.SchedulesConfigPath = "configs/schedules.yaml"
	}
	if c.Cache.WarmDays <= 0 {
		c.Cache.WarmDays = 7
	}
	if len(c.Cache.WarmDurations) == 0 {
		c.Cache.WarmDurations = []int{30, 60}
	}
	if c.Engine.DefaultHorizonDays <= 0 {
		c.Engine.DefaultHorizonDays = 30
	}
	if c.Engine.MaxHorizonDays <= 0 {
		c.Engine.MaxHorizonDays = 180
	}
	if c.Engine.MaxSummaryDays <= 0 {
		c.Engine.MaxSummaryDays = 90
	}
	if c.Engine.Concurrency <= 0 {
		c.Engine.Concurrency = 8
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}
	if c.Policy.CancellationWindowMinutes < 0 {
		c.Policy.CancellationWindowMinutes = 0
	}
}

func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) WarmInterval() time.Duration {
	if c.Cache.WarmIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Cache.WarmIntervalSeconds) * time.Second
}

func (c *Config) WarmRate() int {
	if c.Cache.WarmRatePerSecond <= 0 {
		return 20
	}
	return c.Cache.WarmRatePerSecond
}

func (c *Config) ScheduleReloadInterval() time.Duration {
	if c.ScheduleReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ScheduleReloadIntervalSeconds) * time.Second
}

// LogLevel parses log.level, falling back to info.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

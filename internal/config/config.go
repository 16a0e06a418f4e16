package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Reaper      ReaperConfig      `mapstructure:"reaper"`
	YTDLP       YTDLPConfig       `mapstructure:"ytdlp"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	FileOnly   bool   `mapstructure:"file_only"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// QueueConfig controls the two admission channels and the admission poll.
// Valid capacities are >= 0; zero blocks all admissions into the channel.
type QueueConfig struct {
	CredentialedCap int           `mapstructure:"credentialed_cap"`
	AnonymousCap    int           `mapstructure:"anonymous_cap"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type CredentialsConfig struct {
	CookiesDir       string        `mapstructure:"cookies_dir"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
	MinPinDuration   time.Duration `mapstructure:"min_pin_duration"`
}

type SyncConfig struct {
	IncrementalDefault bool          `mapstructure:"incremental_default"`
	SnapshotCap        int           `mapstructure:"snapshot_cap"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
}

type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	SubsPerCycle     int           `mapstructure:"subs_per_cycle"`
	PerSubQuota      int           `mapstructure:"per_sub_quota"`
	BackfillPerCycle int           `mapstructure:"backfill_per_cycle"`
	EnqueueDelay     time.Duration `mapstructure:"enqueue_delay"`
	TimeBudget       time.Duration `mapstructure:"time_budget"`
	LockStaleness    time.Duration `mapstructure:"lock_staleness"`
}

type ReaperConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Threshold  time.Duration `mapstructure:"threshold"`
	TargetKind string        `mapstructure:"target_kind"`
}

type YTDLPConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	OutputDir   string        `mapstructure:"output_dir"`
	RateLimitKB int           `mapstructure:"rate_limit_kb"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8686)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/vidkeep.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("queue.credentialed_cap", 2)
	v.SetDefault("queue.anonymous_cap", 6)
	v.SetDefault("queue.poll_interval", 250*time.Millisecond)

	v.SetDefault("credentials.cookies_dir", "./data/cookies")
	v.SetDefault("credentials.failure_threshold", 3)
	v.SetDefault("credentials.failure_window", time.Hour)
	v.SetDefault("credentials.min_pin_duration", 10*time.Minute)

	v.SetDefault("sync.incremental_default", true)
	v.SetDefault("sync.snapshot_cap", 200)
	v.SetDefault("sync.refresh_interval", 6*time.Hour)

	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.subs_per_cycle", 10)
	v.SetDefault("scheduler.per_sub_quota", 5)
	v.SetDefault("scheduler.backfill_per_cycle", 2)
	v.SetDefault("scheduler.enqueue_delay", 500*time.Millisecond)
	v.SetDefault("scheduler.time_budget", 2*time.Minute)
	v.SetDefault("scheduler.lock_staleness", 10*time.Minute)

	v.SetDefault("reaper.interval", time.Minute)
	v.SetDefault("reaper.threshold", 30*time.Minute)
	v.SetDefault("reaper.target_kind", "list_fetch")

	v.SetDefault("ytdlp.path", "yt-dlp")
	v.SetDefault("ytdlp.timeout", 20*time.Minute)
	v.SetDefault("ytdlp.output_dir", "./data/media")
	v.SetDefault("ytdlp.rate_limit_kb", 0)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("ytdlp.path", "YTDLP_PATH")
	v.BindEnv("credentials.cookies_dir", "COOKIES_DIR")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

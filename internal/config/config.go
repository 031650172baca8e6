package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Storage     StorageConfig
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Redis       RedisConfig
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	History     HistoryConfig     `mapstructure:"history"`
	Cleaner     CleanerConfig     `mapstructure:"cleaner"`
	Tasks       TasksConfig       `mapstructure:"tasks"`
	Enrollment  EnrollmentConfig  `mapstructure:"enrollment"`
	Content     ContentConfig     `mapstructure:"content"`
	Submissions SubmissionsConfig `mapstructure:"submissions"`

	// Runtime flags, set from command line rather than the config file.
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HistoryConfig governs the legacy/extended history tables. Writes always go
// to the extended table; the two flags only gate reads.
type HistoryConfig struct {
	ExtendedEnabled bool `mapstructure:"extended_enabled"`
	UnionEnabled    bool `mapstructure:"union_enabled"`
	MigrateChunk    int  `mapstructure:"migrate_chunk"`
}

// CleanerConfig tunes the history dedup pass. WindowMillis is the coalescing
// window: a history row is dropped when the next row landed within it.
type CleanerConfig struct {
	WindowMillis int    `mapstructure:"window_millis"`
	BatchSize    int    `mapstructure:"batch_size"`
	SleepSeconds int    `mapstructure:"sleep_seconds"`
	CursorPath   string `mapstructure:"cursor_path"`
}

type TasksConfig struct {
	MaxReportedErrors int `mapstructure:"max_reported_errors"`
}

type EnrollmentConfig struct {
	AutoCreateAccounts bool   `mapstructure:"auto_create_accounts"`
	DefaultPaidMode    string `mapstructure:"default_paid_mode"`
}

// ContentConfig points at the published course manifests.
type ContentConfig struct {
	ManifestDir string `mapstructure:"manifest_dir"`
}

// SubmissionsConfig locates the external submissions store. An empty base URL
// disables the integration.
type SubmissionsConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("LEARNER_STATE")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Storage
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// History union flags
	viper.BindEnv("history.extended_enabled", "HISTORY_EXTENDED_ENABLED")
	viper.BindEnv("history.union_enabled", "HISTORY_UNION_ENABLED")

	viper.SetDefault("history.extended_enabled", true)
	viper.SetDefault("history.union_enabled", true)
	viper.SetDefault("history.migrate_chunk", 1000)
	viper.SetDefault("cleaner.window_millis", 500)
	viper.SetDefault("cleaner.batch_size", 100)
	viper.SetDefault("cleaner.sleep_seconds", 1)
	viper.SetDefault("cleaner.cursor_path", "cleaner_cursor.json")
	viper.SetDefault("tasks.max_reported_errors", 100)
	viper.SetDefault("enrollment.auto_create_accounts", true)
	viper.SetDefault("enrollment.default_paid_mode", "honor")
	viper.SetDefault("content.manifest_dir", "courses")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// CleanerWindow returns the coalescing window as a duration.
func (c *Config) CleanerWindow() time.Duration {
	return time.Duration(c.Cleaner.WindowMillis) * time.Millisecond
}

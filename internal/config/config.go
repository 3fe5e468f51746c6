// Package config loads coachsync configuration from a YAML file and
// COACHSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/sync/conflict"
)

// EnvPrefix prefixes every environment override, e.g.
// COACHSYNC_QUEUE_MAX_SIZE for queue.max_size.
const EnvPrefix = "COACHSYNC"

// Storage backends for the local queue.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Remote store backends.
const (
	RemoteMemory   = "memory"
	RemotePostgres = "postgres"
)

// Overflow sinks.
const (
	OverflowLog = "log"
	OverflowS3  = "s3"
)

type Config struct {
	Queue    QueueConfig    `mapstructure:"queue"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Overflow OverflowConfig `mapstructure:"overflow"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type QueueConfig struct {
	MaxSize      int           `mapstructure:"max_size"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Storage      StorageConfig `mapstructure:"storage"`
}

type StorageConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"` // directory for file and sqlite
	Key  string `mapstructure:"key"`
}

type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Cron          string        `mapstructure:"cron"`
	UserID        string        `mapstructure:"user_id"`
	NotifyBuffer  int           `mapstructure:"notify_buffer"`
}

type RemoteConfig struct {
	Type          string `mapstructure:"type"`
	DSN           string `mapstructure:"dsn"`
	MaxConns      int32  `mapstructure:"max_conns"`
	Table         string `mapstructure:"table"`
	NotifyChannel string `mapstructure:"notify_channel"`
}

type OverflowConfig struct {
	Type         string `mapstructure:"type"`
	Provider     string `mapstructure:"provider"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccountID    string `mapstructure:"account_id"`
	Prefix       string `mapstructure:"prefix"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	UseSSL       bool   `mapstructure:"use_ssl"`

	// EncryptionKey seals archived actions. Set it through
	// COACHSYNC_OVERFLOW_ENCRYPTION_KEY rather than a config file.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ConflictConfig struct {
	Strategies        map[string]string `mapstructure:"strategies"`
	PresenceConflicts bool              `mapstructure:"presence_conflicts"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Queue: QueueConfig{
			MaxSize:    100,
			MaxAge:     7 * 24 * time.Hour,
			MaxRetries: 3,
			Storage: StorageConfig{
				Type: StorageFile,
				Path: "./data",
				Key:  "offline_queue",
			},
		},
		Sync: SyncConfig{
			Interval:      30 * time.Second,
			ProbeInterval: 15 * time.Second,
			Timeout:       5 * time.Minute,
			NotifyBuffer:  16,
		},
		Remote: RemoteConfig{
			Type:          RemoteMemory,
			MaxConns:      4,
			Table:         "documents",
			NotifyChannel: "coachsync_documents",
		},
		Overflow: OverflowConfig{
			Type:     OverflowLog,
			Provider: "aws",
			Prefix:   "coachsync/",
		},
		Conflict: ConflictConfig{
			Strategies: map[string]string{},
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8090,
			AllowedOrigins: []string{"http://localhost:*", "wails://*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (optional; "" skips the file) on top of Default, then
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, apperrors.Wrap(apperrors.ErrConfig, "read config file", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrConfig, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key so environment variables can
// override keys that the file does not mention.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("queue.max_size", d.Queue.MaxSize)
	v.SetDefault("queue.max_age", d.Queue.MaxAge)
	v.SetDefault("queue.max_retries", d.Queue.MaxRetries)
	v.SetDefault("queue.retry_backoff", d.Queue.RetryBackoff)
	v.SetDefault("queue.storage.type", d.Queue.Storage.Type)
	v.SetDefault("queue.storage.path", d.Queue.Storage.Path)
	v.SetDefault("queue.storage.key", d.Queue.Storage.Key)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.probe_interval", d.Sync.ProbeInterval)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.notify_buffer", d.Sync.NotifyBuffer)
	v.SetDefault("sync.cron", d.Sync.Cron)
	v.SetDefault("sync.user_id", d.Sync.UserID)

	v.SetDefault("remote.type", d.Remote.Type)
	v.SetDefault("remote.dsn", d.Remote.DSN)
	v.SetDefault("remote.max_conns", d.Remote.MaxConns)
	v.SetDefault("remote.table", d.Remote.Table)
	v.SetDefault("remote.notify_channel", d.Remote.NotifyChannel)

	v.SetDefault("overflow.type", d.Overflow.Type)
	v.SetDefault("overflow.provider", d.Overflow.Provider)
	v.SetDefault("overflow.bucket", d.Overflow.Bucket)
	v.SetDefault("overflow.region", d.Overflow.Region)
	v.SetDefault("overflow.endpoint", d.Overflow.Endpoint)
	v.SetDefault("overflow.account_id", d.Overflow.AccountID)
	v.SetDefault("overflow.prefix", d.Overflow.Prefix)
	v.SetDefault("overflow.access_key", d.Overflow.AccessKey)
	v.SetDefault("overflow.secret_key", d.Overflow.SecretKey)
	v.SetDefault("overflow.use_path_style", d.Overflow.UsePathStyle)
	v.SetDefault("overflow.use_ssl", d.Overflow.UseSSL)
	v.SetDefault("overflow.encryption_key", d.Overflow.EncryptionKey)

	v.SetDefault("conflict.strategies", d.Conflict.Strategies)
	v.SetDefault("conflict.presence_conflicts", d.Conflict.PresenceConflicts)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate rejects configurations the core cannot run with. All problems
// are reported together.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Queue.MaxSize <= 0 {
		fail("queue.max_size must be positive")
	}
	if c.Queue.MaxAge <= 0 {
		fail("queue.max_age must be positive")
	}
	if c.Queue.MaxRetries <= 0 {
		fail("queue.max_retries must be positive")
	}
	if c.Queue.RetryBackoff < 0 {
		fail("queue.retry_backoff must not be negative")
	}
	switch c.Queue.Storage.Type {
	case StorageMemory:
	case StorageFile, StorageSQLite:
		if c.Queue.Storage.Path == "" {
			fail("queue.storage.path is required for %s storage", c.Queue.Storage.Type)
		}
	default:
		fail("queue.storage.type %q is not one of memory, file, sqlite", c.Queue.Storage.Type)
	}

	if c.Sync.Interval <= 0 {
		fail("sync.interval must be positive")
	}
	if c.Sync.ProbeInterval < 0 {
		fail("sync.probe_interval must not be negative")
	}
	if c.Sync.Timeout <= 0 {
		fail("sync.timeout must be positive")
	}
	if c.Sync.NotifyBuffer <= 0 {
		fail("sync.notify_buffer must be positive")
	}
	if c.Sync.Cron != "" {
		if _, err := cron.ParseStandard(c.Sync.Cron); err != nil {
			fail("sync.cron: %v", err)
		}
	}

	switch c.Remote.Type {
	case RemoteMemory:
	case RemotePostgres:
		if c.Remote.DSN == "" {
			fail("remote.dsn is required for postgres")
		}
	default:
		fail("remote.type %q is not one of memory, postgres", c.Remote.Type)
	}

	switch c.Overflow.Type {
	case OverflowLog:
	case OverflowS3:
		if c.Overflow.Bucket == "" {
			fail("overflow.bucket is required for s3")
		}
	default:
		fail("overflow.type %q is not one of log, s3", c.Overflow.Type)
	}

	for field, name := range c.Conflict.Strategies {
		if _, err := conflict.ParseStrategy(name); err != nil {
			fail("conflict.strategies.%s: %v", field, err)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		fail("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		fail("logging.format %q is not one of json, console", c.Logging.Format)
	}

	if len(errs) > 0 {
		return apperrors.Wrap(apperrors.ErrConfig, "invalid configuration", errors.Join(errs...))
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"db2es/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig           `yaml:"app"`
	Source     SourceConfig        `yaml:"source"`
	Index      IndexConfig         `yaml:"index"`
	Reader     ReaderConfig        `yaml:"reader"`
	Checkpoint CheckpointConfig    `yaml:"checkpoint"`
	DeadLetter DeadLetterConfig    `yaml:"dead_letter"`
	Redis      RedisConfig         `yaml:"redis"`
	Web        WebConfig           `yaml:"web"`
	Monitoring MonitoringConfig    `yaml:"monitoring"`
	Logging    LoggingConfig       `yaml:"logging"`
	Tasks      []models.TaskConfig `yaml:"tasks"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// SourceConfig configures the relational source and its connection pool.
type SourceConfig struct {
	Driver            string `yaml:"driver"`
	DSN               string `yaml:"dsn"`
	MaxOpenConns      int    `yaml:"max_open_conns"`
	MaxIdleConns      int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms"`
	ConnMaxIdleTimeMs int    `yaml:"conn_max_idle_time_ms"`
}

type IndexConfig struct {
	URL             string `yaml:"url"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	MaxAttempts     int    `yaml:"max_attempts"`
	RetryDelayMs    int    `yaml:"retry_delay_ms"`
}

type ReaderConfig struct {
	PageSize         int   `yaml:"page_size"`
	ChannelCapacity  int   `yaml:"channel_capacity"`
	IdleSleepMs      int   `yaml:"idle_sleep_ms"`
	ErrorBackoffMs   int   `yaml:"error_backoff_ms"`
	RewindIntervalMs int   `yaml:"rewind_interval_ms"`
	RewindWindow     int64 `yaml:"rewind_window"`
}

type CheckpointConfig struct {
	Path   string       `yaml:"path"`
	Backup BackupConfig `yaml:"backup"`
}

// BackupConfig controls periodic snapshots of the checkpoint file.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type DeadLetterConfig struct {
	Dir      string `yaml:"dir"`
	RedisKey string `yaml:"redis_key"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type WebConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Port      int             `yaml:"port"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.Driver) == "" {
		return errors.New("source driver is required")
	}
	if strings.TrimSpace(c.Source.DSN) == "" {
		return errors.New("source dsn is required")
	}
	if strings.TrimSpace(c.Index.URL) == "" {
		return errors.New("index url is required")
	}
	if len(c.Tasks) == 0 {
		return errors.New("at least one task is required")
	}

	return ValidateTasks(c.Tasks)
}

// ValidateTasks checks task descriptors. Identifiers are interpolated into SQL, so they must be plain names.
func ValidateTasks(tasks []models.TaskConfig) error {
	seen := make(map[string]bool)
	for i, task := range tasks {
		if task.TableName == "" {
			return fmt.Errorf("task #%d: table_name is required", i)
		}
		if task.CursorColumn == "" {
			return fmt.Errorf("task '%s': cursor_column is required", task.TableName)
		}
		if task.Index == "" {
			return fmt.Errorf("task '%s': index is required", task.TableName)
		}
		idents := append([]string{task.TableName, task.CursorColumn}, task.Columns...)
		if task.IDColumn != "" {
			idents = append(idents, task.IDColumn)
		}
		if task.TimestampColumn != "" {
			idents = append(idents, task.TimestampColumn)
		}
		if len(task.Columns) > 0 {
			for _, required := range []string{task.CursorColumn, task.DocumentIDColumn(), task.TimestampColumn} {
				if required != "" && !containsFold(task.Columns, required) {
					return fmt.Errorf("task '%s': column %q must be selected", task.TableName, required)
				}
			}
		}
		for _, ident := range idents {
			if !identifierPattern.MatchString(ident) {
				return fmt.Errorf("task '%s': invalid identifier %q", task.TableName, ident)
			}
		}
		if seen[task.Key()] {
			return fmt.Errorf("duplicate task name: %s", task.Key())
		}
		seen[task.Key()] = true
	}
	return nil
}

func containsFold(list []string, name string) bool {
	for _, item := range list {
		if strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.Source.ConnMaxLifetimeMs == 0 {
		c.Source.ConnMaxLifetimeMs = 600000
	}
	if c.Source.ConnMaxIdleTimeMs == 0 {
		c.Source.ConnMaxIdleTimeMs = 300000
	}
	if c.Source.MaxOpenConns == 0 {
		c.Source.MaxOpenConns = 10
	}
	if c.Source.MaxIdleConns == 0 {
		c.Source.MaxIdleConns = 2
	}

	if c.Index.BatchSize == 0 {
		c.Index.BatchSize = models.DefaultBatchSize
	}
	if c.Index.FlushIntervalMs == 0 {
		c.Index.FlushIntervalMs = int(models.DefaultFlushInterval / time.Millisecond)
	}
	if c.Index.TimeoutMs == 0 {
		c.Index.TimeoutMs = int(models.DefaultIndexTimeout / time.Millisecond)
	}
	if c.Index.MaxAttempts == 0 {
		c.Index.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Index.RetryDelayMs == 0 {
		c.Index.RetryDelayMs = int(models.DefaultRetryDelay / time.Millisecond)
	}
	c.Index.URL = strings.TrimRight(c.Index.URL, "/")

	if c.Reader.PageSize == 0 {
		c.Reader.PageSize = models.DefaultPageSize
	}
	if c.Reader.ChannelCapacity == 0 {
		c.Reader.ChannelCapacity = models.DefaultChannelCapacity
	}
	if c.Reader.IdleSleepMs == 0 {
		c.Reader.IdleSleepMs = int(models.DefaultIdleSleep / time.Millisecond)
	}
	if c.Reader.ErrorBackoffMs == 0 {
		c.Reader.ErrorBackoffMs = int(models.DefaultErrorBackoff / time.Millisecond)
	}
	if c.Reader.RewindIntervalMs == 0 {
		c.Reader.RewindIntervalMs = int(models.DefaultRewindInterval / time.Millisecond)
	}
	if c.Reader.RewindWindow == 0 {
		c.Reader.RewindWindow = models.DefaultRewindWindow
	}

	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "checkpoint.yaml"
	}
	if c.Checkpoint.Backup.Enabled && c.Checkpoint.Backup.StoragePath == "" {
		c.Checkpoint.Backup.StoragePath = filepath.Join(filepath.Dir(c.Checkpoint.Path), "backups")
	}
	if c.DeadLetter.Dir == "" {
		c.DeadLetter.Dir = "failed_data"
	}
	if c.DeadLetter.RedisKey == "" {
		c.DeadLetter.RedisKey = "db2es:deadletter"
	}

	if c.Web.Enabled && c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.RateLimit.RPS == 0 {
		c.Web.RateLimit.RPS = 10
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

// Duration converts a millisecond config value.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

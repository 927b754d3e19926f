package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	KeyServerAddress = "server.address"

	KeyStorageDriver        = "storage.driver"
	KeyStorageDSN           = "storage.dsn"
	KeyStorageMongoURI      = "storage.mongo.uri"
	KeyStorageMongoDatabase = "storage.mongo.database"

	KeyRedisEnabled = "redis.enabled"
	KeyRedisAddress = "redis.address"
	KeyRedisDB      = "redis.db"
	KeyRedisLockTTL = "redis.lock_ttl"

	KeySchedulerDrainInterval   = "scheduler.drain_interval"
	KeySchedulerRetryFailedJobs = "scheduler.retry_failed_jobs"

	KeyHTTPTimeout          = "http.timeout"
	KeyHTTPRateLimitWait    = "http.rate_limit_wait"
	KeyHTTPRateLimitRetries = "http.rate_limit_retries"

	KeyLogLevel      = "log.level"
	KeyLogFormat     = "log.format"
	KeyLogOutput     = "log.output"
	KeyLogFilePath   = "log.file_path"
	KeyLogMaxSizeMB  = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"
	KeyLogMaxAgeDays = "log.max_age_days"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required,hostname_port"`
}

type StorageConfig struct {
	Driver string      `mapstructure:"driver" validate:"required,oneof=sqlite mysql mongo"`
	DSN    string      `mapstructure:"dsn" validate:"required_unless=Driver mongo"`
	Mongo  MongoConfig `mapstructure:"mongo"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address" validate:"required_if=Enabled true"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" validate:"min=1s"`
}

type SchedulerConfig struct {
	DrainInterval   time.Duration `mapstructure:"drain_interval" validate:"min=1s"`
	RetryFailedJobs bool          `mapstructure:"retry_failed_jobs"`
}

type HTTPConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" validate:"min=1s"`
	RateLimitWait    time.Duration `mapstructure:"rate_limit_wait" validate:"min=0"`
	RateLimitRetries int           `mapstructure:"rate_limit_retries" validate:"min=0,max=10"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format      string `mapstructure:"format" validate:"oneof=json console"`
	Output      string `mapstructure:"output" validate:"oneof=stdout stderr file"`
	FilePath    string `mapstructure:"file_path" validate:"required_if=Output file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups  int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays  int    `mapstructure:"max_age_days" validate:"min=0"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults sets default values if not provided
func SetDefaults() {
	setDefaults(viper.GetViper())
}

// LoadAndValidate loads config from Viper and validates it
func LoadAndValidate() (*Config, error) {
	return loadAndValidateFromViper(viper.GetViper())
}

// ValidateYAMLContent validates configuration from raw YAML content.
func ValidateYAMLContent(content []byte) (*Config, error) {
	local := viper.New()
	setDefaults(local)
	local.SetConfigType("yaml")
	if err := local.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config content: %w", err)
	}
	return loadAndValidateFromViper(local)
}

func loadAndValidateFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerAddress, ":3000")
	v.SetDefault(KeyStorageDriver, "sqlite")
	v.SetDefault(KeyStorageDSN, "timer2ticket.db")
	v.SetDefault(KeyStorageMongoDatabase, "timer2ticketDB")
	v.SetDefault(KeyRedisEnabled, false)
	v.SetDefault(KeyRedisAddress, "localhost:6379")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyRedisLockTTL, "10m")
	v.SetDefault(KeySchedulerDrainInterval, "10s")
	v.SetDefault(KeySchedulerRetryFailedJobs, true)
	v.SetDefault(KeyHTTPTimeout, "30s")
	v.SetDefault(KeyHTTPRateLimitWait, "1.5s")
	v.SetDefault(KeyHTTPRateLimitRetries, 3)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyLogOutput, "stdout")
	v.SetDefault(KeyLogMaxSizeMB, 50)
	v.SetDefault(KeyLogMaxBackups, 5)
	v.SetDefault(KeyLogMaxAgeDays, 30)
}

func validateStorage(storage StorageConfig) error {
	if storage.Driver != "mongo" {
		return nil
	}
	uri := strings.TrimSpace(storage.Mongo.URI)
	if uri == "" {
		return fmt.Errorf("validation failed: storage.mongo.uri is required for the mongo driver")
	}
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return fmt.Errorf("validation failed: storage.mongo.uri %q must start with mongodb:// or mongodb+srv://", storage.Mongo.URI)
	}
	return nil
}

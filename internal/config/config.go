// Package config loads server configuration from the environment, an
// optional .env file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	// Server
	MetricsAddr string `mapstructure:"metrics_addr" validate:"required"`

	// Logging
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// Metadata ("postgres" or "badger")
	MetadataBackend string `mapstructure:"metadata_backend" validate:"oneof=postgres badger"`
	DatabaseURL     string `mapstructure:"database_url" validate:"required_if=MetadataBackend postgres"`
	BadgerPath      string `mapstructure:"badger_path" validate:"required_if=MetadataBackend badger"`
	MigrationsDir   string `mapstructure:"migrations_dir"`

	// Tenant settings ("static" or "database")
	SettingsSource     string `mapstructure:"settings_source" validate:"oneof=static database"`
	TenantSettingsFile string `mapstructure:"tenant_settings_file"`

	// Default storage backend ("local", "s3" or "hybrid")
	StorageBackend   string `mapstructure:"storage_backend" validate:"oneof=local s3 hybrid"`
	LocalStoragePath string `mapstructure:"local_storage_path" validate:"required"`
	LocalURLPrefix   string `mapstructure:"local_url_prefix"`

	// S3 storage
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`

	// Credential encryption master key (base64, 32 bytes decoded)
	SecretsMasterKey string `mapstructure:"secrets_master_key" validate:"required,base64"`

	// Default file limits
	MaxUploadSize      int64 `mapstructure:"max_upload_size" validate:"gt=0"`
	MaxVersionsPerFile int   `mapstructure:"max_versions_per_file" validate:"gte=0"`
	RetentionDays      int   `mapstructure:"retention_days" validate:"gte=0"`

	// Retention sweep
	SweepInterval        time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	DefaultRetentionDays int           `mapstructure:"default_retention_days" validate:"gt=0"`

	// Upload throttling (0 = unlimited)
	UploadsPerMinute int `mapstructure:"uploads_per_minute" validate:"gte=0"`

	// Events (optional Redis fan-out)
	RedisURL      string `mapstructure:"redis_url"`
	EventsChannel string `mapstructure:"events_channel"`
}

var validate = validator.New()

var defaults = map[string]any{
	"metrics_addr":           ":9090",
	"log_level":              "info",
	"log_format":             "json",
	"metadata_backend":       "postgres",
	"database_url":           "",
	"badger_path":            "./data/metadata",
	"migrations_dir":         "",
	"settings_source":        "static",
	"tenant_settings_file":   "",
	"storage_backend":        "local",
	"local_storage_path":     "./storage",
	"local_url_prefix":       "/files",
	"s3_endpoint":            "",
	"s3_bucket":              "",
	"s3_access_key":          "",
	"s3_secret_key":          "",
	"s3_region":              "us-east-1",
	"secrets_master_key":     "",
	"max_upload_size":        int64(100 * 1024 * 1024), // 100MB default
	"max_versions_per_file":  10,
	"retention_days":         0, // 0 = keep forever unless the sweep default applies
	"sweep_interval":         6 * time.Hour,
	"default_retention_days": 30,
	"uploads_per_minute":     0,
	"redis_url":              "",
	"events_channel":         "filecore.events",
}

// Load reads configuration. Environment variables use the upper-cased key
// names (DATABASE_URL, LOG_LEVEL, ...). A .env file in the working directory
// is loaded first when present; configPath, if non-empty, names a YAML file
// whose values sit between defaults and the environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return fmt.Errorf("config: S3_BUCKET is required when STORAGE_BACKEND=s3")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("config: %s failed '%s' validation (value: %v)", e.Field(), e.Tag(), e.Value())
	}
	return fmt.Errorf("config: %w", err)
}

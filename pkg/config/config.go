// Package config loads the snapvault repository engine's static
// configuration: logging, metrics, the repository's own policy knobs
// (compression, rate limits, chunk size, read-only), and the concrete
// blob store backend to mount. Grounded on the teacher's pkg/config
// (viper + mapstructure decode hooks for byte sizes/durations +
// go-playground/validator struct tags), following its
// Load/MustLoad/ApplyDefaults/GetDefaultConfig shape.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/snapvault/internal/bytesize"
)

// Config is the snapvault process configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (SNAPVAULT_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Repository configures the repository's own policy knobs, shared
	// across whichever blob store backend is mounted.
	Repository RepositoryConfig `mapstructure:"repository" yaml:"repository"`

	// Blobstore selects and configures the concrete C1 backend.
	Blobstore BlobstoreConfig `mapstructure:"blobstore" yaml:"blobstore"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP surface.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// RepositoryConfig holds the repository-level policy settings named in
// the blob layout section: compression, rate limits, chunk size, and the
// read-only switch.
type RepositoryConfig struct {
	// Name identifies this repository instance, used in logs and metrics
	// labels.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Backend selects which Blobstore section to mount: "localfs" or "s3".
	Backend string `mapstructure:"backend" validate:"required,oneof=localfs s3" yaml:"backend"`

	// Compress controls whether metadata blobs (catalogs, commit points,
	// snapshot info) are gzip-compressed.
	Compress bool `mapstructure:"compress" yaml:"compress"`

	// MaxSnapshotBytesPerSec throttles upload throughput during snapshot
	// creation. The field is unsigned, and ApplyDefaults replaces zero
	// with 40MB, so a configuration that passes through ApplyDefaults
	// cannot turn this throttle off.
	MaxSnapshotBytesPerSec bytesize.ByteSize `mapstructure:"max_snapshot_bytes_per_sec" yaml:"max_snapshot_bytes_per_sec"`

	// MaxRestoreBytesPerSec throttles download throughput during restore.
	// The field is unsigned, and ApplyDefaults replaces zero with 40MB, so
	// a configuration that passes through ApplyDefaults cannot turn this
	// throttle off.
	MaxRestoreBytesPerSec bytesize.ByteSize `mapstructure:"max_restore_bytes_per_sec" yaml:"max_restore_bytes_per_sec"`

	// Readonly disables delete/finalize/initialize; they fail with
	// ErrReadOnlyRepository.
	Readonly bool `mapstructure:"readonly" yaml:"readonly"`

	// ChunkSize is the maximum bytes per data-blob part. Must be positive.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" validate:"required,gt=0" yaml:"chunk_size"`

	// MaxConcurrentUploads bounds the per-shard upload fan-out (C11's
	// Grouped maxConcurrency).
	MaxConcurrentUploads int `mapstructure:"max_concurrent_uploads" validate:"omitempty,gt=0" yaml:"max_concurrent_uploads"`
}

// BlobstoreConfig holds every concrete backend's settings; only the one
// named by Repository.Backend is used.
type BlobstoreConfig struct {
	LocalFS LocalFSConfig `mapstructure:"localfs" yaml:"localfs"`
	S3      S3Config      `mapstructure:"s3" yaml:"s3"`
}

// LocalFSConfig configures the node-local filesystem blob store backend.
type LocalFSConfig struct {
	// Root is the directory the repository is rooted at.
	Root string `mapstructure:"root" yaml:"root"`
}

// S3Config configures the S3 blob store backend.
type S3Config struct {
	Endpoint           string            `mapstructure:"endpoint" yaml:"endpoint"`
	Region             string            `mapstructure:"region" yaml:"region"`
	Bucket             string            `mapstructure:"bucket" yaml:"bucket"`
	KeyPrefix          string            `mapstructure:"key_prefix" yaml:"key_prefix"`
	AccessKeyID        string            `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey    string            `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle     bool              `mapstructure:"force_path_style" yaml:"force_path_style"`
	MultipartThreshold bytesize.ByteSize `mapstructure:"multipart_threshold" yaml:"multipart_threshold"`
	PartSize           bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, returning an actionable error if
// configPath was explicitly given but does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories as
// needed.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// GetDefaultConfig returns a Config with every default applied, suitable
// for a fresh install with no config file present.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in any zero-valued field with its default.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyRepositoryDefaults(&cfg.Repository)
	applyS3Defaults(&cfg.Blobstore.S3)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyRepositoryDefaults(cfg *RepositoryConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "localfs"
	}
	if cfg.MaxSnapshotBytesPerSec == 0 {
		cfg.MaxSnapshotBytesPerSec = 40 * bytesize.MB
	}
	if cfg.MaxRestoreBytesPerSec == 0 {
		cfg.MaxRestoreBytesPerSec = 40 * bytesize.MB
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 64 * bytesize.MB
	}
	if cfg.MaxConcurrentUploads == 0 {
		cfg.MaxConcurrentUploads = 8
	}
}

func applyS3Defaults(cfg *S3Config) {
	if cfg.MultipartThreshold == 0 {
		cfg.MultipartThreshold = 100 * bytesize.MB
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = 16 * bytesize.MB
	}
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SNAPVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks composes the byte-size and duration string decode
// hooks the teacher's config package uses for human-readable values like
// "64MB" or "30s".
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "snapvault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "snapvault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

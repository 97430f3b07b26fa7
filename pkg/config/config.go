package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete configuration of an NTFS volume instance.
//
// This structure captures all configurable aspects of the filesystem including:
//   - Logging configuration
//   - Volume geometry (cluster, record and index buffer sizes)
//   - File record table selection and configuration (backend-specific)
//   - Cluster device selection and configuration (backend-specific)
//   - Metrics collection
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NTFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each table and device implementation defines its own configuration type and
// the factory decodes it from the section matching the selected type
// (e.g., table.badger, device.s3). Other sections are ignored.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Volume contains the on-disk geometry
	Volume VolumeConfig `mapstructure:"volume" yaml:"volume"`

	// Table specifies the file record table type and type-specific configuration
	Table TableConfig `mapstructure:"table" yaml:"table"`

	// Device specifies the cluster device type and type-specific configuration
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// VolumeConfig describes the volume geometry.
type VolumeConfig struct {
	// ClusterSize is the allocation unit of non-resident content in bytes
	ClusterSize int64 `mapstructure:"cluster_size" yaml:"cluster_size" validate:"required,gte=512"`

	// RecordSize is the fixed size of a file record in bytes
	RecordSize int `mapstructure:"record_size" yaml:"record_size" validate:"required,gte=512"`

	// IndexBufferSize is the size of an index allocation block in bytes
	IndexBufferSize int `mapstructure:"index_buffer_size" yaml:"index_buffer_size" validate:"required,gte=512"`

	// RandomSeed, when non-zero, makes object id generation deterministic
	RandomSeed int64 `mapstructure:"random_seed" yaml:"random_seed"`

	// VolumeID is recorded as the birth volume of new object ids (UUID string, optional)
	VolumeID string `mapstructure:"volume_id" yaml:"volume_id" validate:"omitempty,uuid"`
}

// TableConfig specifies file record table configuration.
//
// The Type field determines which table implementation is used.
// Only the corresponding type-specific configuration section is used.
type TableConfig struct {
	// Type specifies which table implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// MaxRecords caps the number of record slots; 0 means unlimited
	MaxRecords uint64 `mapstructure:"max_records" yaml:"max_records"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// DeviceConfig specifies cluster device configuration.
//
// The Type field determines which device implementation is used.
// Only the corresponding type-specific configuration section is used.
type DeviceConfig struct {
	// Type specifies which device implementation to use
	// Valid values: memory, file, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory file s3"`

	// Size is the device size in bytes
	Size int64 `mapstructure:"size" yaml:"size" validate:"required,gt=0"`

	// File contains image-file-specific configuration
	// Only used when Type = "file"
	File map[string]any `mapstructure:"file" yaml:"file"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled turns on the Prometheus registry and collectors
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NTFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys lists the scalar keys that can be set through the environment
// without appearing in the config file. AutomaticEnv only consults the
// environment for keys viper already knows about.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"volume.cluster_size",
	"volume.record_size",
	"volume.index_buffer_size",
	"volume.random_seed",
	"volume.volume_id",
	"table.type",
	"table.max_records",
	"device.type",
	"device.size",
	"metrics.enabled",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: NTFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/ntfs/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing config file is fine; defaults apply
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ntfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ntfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

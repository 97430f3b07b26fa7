package config

import (
	"path/filepath"
	"strings"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
)

const (
	// DefaultClusterSize is the default allocation unit (4KB)
	DefaultClusterSize = 4096

	// DefaultDeviceSize is the default device size (64MB)
	DefaultDeviceSize = 64 << 20
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend sections get defaults for every type so generated files are complete
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyVolumeDefaults(&cfg.Volume)
	applyTableDefaults(&cfg.Table)
	applyDeviceDefaults(&cfg.Device)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
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

// applyVolumeDefaults sets volume geometry defaults.
func applyVolumeDefaults(cfg *VolumeConfig) {
	if cfg.ClusterSize == 0 {
		cfg.ClusterSize = DefaultClusterSize
	}
	if cfg.RecordSize == 0 {
		cfg.RecordSize = mft.DefaultRecordSize
	}
	if cfg.IndexBufferSize == 0 {
		cfg.IndexBufferSize = ntfs.DefaultIndexBufferSize
	}
	// RandomSeed defaults to 0 (crypto-random object ids)
}

// applyTableDefaults sets file record table defaults.
func applyTableDefaults(cfg *TableConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(getConfigDir(), "mft")
	}
}

// applyDeviceDefaults sets cluster device defaults.
func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultDeviceSize
	}

	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = filepath.Join(getConfigDir(), "volume.img")
	}
	if _, ok := cfg.S3["block_size"]; !ok {
		cfg.S3["block_size"] = int64(1 << 20) // 1MB
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

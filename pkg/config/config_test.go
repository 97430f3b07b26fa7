package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// isolateConfigDir points the default config location at a temp directory.
func isolateConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "ntfs")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	isolateConfigDir(t)

	path := writeConfig(t, `
logging:
  level: "debug"

device:
  type: "memory"
  size: 8388608
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, int64(DefaultClusterSize), cfg.Volume.ClusterSize)
	assert.Equal(t, mft.DefaultRecordSize, cfg.Volume.RecordSize)
	assert.Equal(t, ntfs.DefaultIndexBufferSize, cfg.Volume.IndexBufferSize)
	assert.Equal(t, "badger", cfg.Table.Type)
	assert.Equal(t, "memory", cfg.Device.Type)
	assert.Equal(t, int64(8<<20), cfg.Device.Size)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_NoConfigFile(t *testing.T) {
	configDir := isolateConfigDir(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "file", cfg.Device.Type)
	assert.Equal(t, filepath.Join(configDir, "volume.img"), cfg.Device.File["path"])
	assert.Equal(t, filepath.Join(configDir, "mft"), cfg.Table.Badger["db_path"])
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	isolateConfigDir(t)

	path := writeConfig(t, `
table:
  type: "badger"
device:
  type: "file"
`)

	t.Setenv("NTFS_LOGGING_LEVEL", "WARN")
	t.Setenv("NTFS_TABLE_TYPE", "memory")
	t.Setenv("NTFS_DEVICE_TYPE", "memory")
	t.Setenv("NTFS_VOLUME_RANDOM_SEED", "42")
	t.Setenv("NTFS_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Table.Type)
	assert.Equal(t, "memory", cfg.Device.Type)
	assert.Equal(t, int64(42), cfg.Volume.RandomSeed)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_BackendSections(t *testing.T) {
	isolateConfigDir(t)

	path := writeConfig(t, `
table:
  type: "badger"
  badger:
    db_path: "/var/lib/ntfs/mft"
    block_cache_size_mb: 16
device:
  type: "s3"
  size: 1073741824
  s3:
    bucket: "volumes"
    region: "eu-west-1"
    endpoint: "http://localhost:4566"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ntfs/mft", cfg.Table.Badger["db_path"])
	assert.EqualValues(t, 16, cfg.Table.Badger["block_cache_size_mb"])
	assert.Equal(t, "volumes", cfg.Device.S3["bucket"])
	assert.Equal(t, "http://localhost:4566", cfg.Device.S3["endpoint"])
	assert.EqualValues(t, 1<<20, cfg.Device.S3["block_size"], "default block size is filled in")
}

func TestLoad_InvalidFile(t *testing.T) {
	isolateConfigDir(t)

	t.Run("Syntax", func(t *testing.T) {
		path := writeConfig(t, "logging: [unterminated")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("Validation", func(t *testing.T) {
		path := writeConfig(t, `
device:
  type: "floppy"
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
	})
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	isolateConfigDir(t)

	cfg := &Config{
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "stderr"},
		Volume:  VolumeConfig{ClusterSize: 8192, RecordSize: 4096, IndexBufferSize: 8192},
		Table:   TableConfig{Type: "memory"},
		Device: DeviceConfig{
			Type: "file",
			Size: 1 << 30,
			File: map[string]any{"path": "/srv/ntfs.img"},
		},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, int64(8192), cfg.Volume.ClusterSize)
	assert.Equal(t, 4096, cfg.Volume.RecordSize)
	assert.Equal(t, "memory", cfg.Table.Type)
	assert.Equal(t, int64(1<<30), cfg.Device.Size)
	assert.Equal(t, "/srv/ntfs.img", cfg.Device.File["path"])
	assert.NotNil(t, cfg.Device.S3)
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	isolateConfigDir(t)
	require.NoError(t, Validate(GetDefaultConfig()))
}

func TestValidate(t *testing.T) {
	isolateConfigDir(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "InvalidLogLevel",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "InvalidLogFormat",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "LowercaseLevelAccepted",
			mutate:  func(c *Config) { c.Logging.Level = "debug" },
			wantErr: "",
		},
		{
			name:    "UnknownTableType",
			mutate:  func(c *Config) { c.Table.Type = "sqlite" },
			wantErr: "Table.Type",
		},
		{
			name:    "UnknownDeviceType",
			mutate:  func(c *Config) { c.Device.Type = "tape" },
			wantErr: "Device.Type",
		},
		{
			name:    "ClusterSizeNotPowerOfTwo",
			mutate:  func(c *Config) { c.Volume.ClusterSize = 3000 },
			wantErr: "not a power of two",
		},
		{
			name:    "RecordSizeNotSectorMultiple",
			mutate:  func(c *Config) { c.Volume.RecordSize = 1000 },
			wantErr: "record_size",
		},
		{
			name:    "IndexBufferSmallerThanCluster",
			mutate:  func(c *Config) { c.Volume.ClusterSize = 8192 },
			wantErr: "smaller than cluster_size",
		},
		{
			name:    "DeviceSmallerThanCluster",
			mutate:  func(c *Config) { c.Device.Size = 1024 },
			wantErr: "smaller than one cluster",
		},
		{
			name:    "InvalidVolumeID",
			mutate:  func(c *Config) { c.Volume.VolumeID = "not-a-uuid" },
			wantErr: "VolumeID",
		},
		{
			name:    "ValidVolumeID",
			mutate:  func(c *Config) { c.Volume.VolumeID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8" },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitConfig(t *testing.T) {
	configDir := isolateConfigDir(t)

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(configDir, "config.yaml"), path)
	assert.True(t, ConfigExists())

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(content)
	assert.True(t, strings.HasPrefix(text, "# NTFS Configuration File"))
	for _, section := range []string{"logging:", "volume:", "table:", "device:", "metrics:"} {
		assert.Contains(t, text, section)
	}

	var parsed Config
	require.NoError(t, yaml.Unmarshal(content, &parsed), "generated config must be valid YAML")
	assert.Equal(t, "badger", parsed.Table.Type)

	// The written file loads back to the same configuration
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Volume, loaded.Volume)
	assert.Equal(t, "file", loaded.Device.Type)
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	isolateConfigDir(t)

	_, err := InitConfig(false)
	require.NoError(t, err)

	_, err = InitConfig(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = InitConfig(true)
	assert.NoError(t, err, "force overwrites")
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `"title": "NTFS Configuration"`)
	for _, field := range []string{"logging", "cluster_size", "index_buffer_size", "random_seed", "device"} {
		assert.Contains(t, text, `"`+field+`"`)
	}
}

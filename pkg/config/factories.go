package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/metrics"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/mft/badger"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
	"github.com/marmos91/dittofs-ntfs/pkg/volume"
	"github.com/mitchellh/mapstructure"
)

// ============================================================================
// Devices
// ============================================================================

// CreateDevice creates a cluster device based on configuration.
//
// This factory function uses the Type field to determine which device
// implementation to create, then decodes the type-specific configuration from
// the corresponding map and passes it to the device's constructor.
//
// Supported types:
//   - "memory": In-memory device (ephemeral, tests)
//   - "file": Image file on the local filesystem
//   - "s3": Fixed-size block objects in an S3 (or compatible) bucket
//
// Parameters:
//   - ctx: Context for initialization operations (retained by the S3 device)
//   - cfg: Device configuration
//   - m: Device metrics (nil for no-op)
//
// Returns:
//   - volume.Device: Initialized device
//   - error: Configuration or initialization error
func CreateDevice(ctx context.Context, cfg *DeviceConfig, m metrics.DeviceMetrics) (volume.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return volume.NewMemoryDevice(cfg.Size), nil
	case "file":
		return createFileDevice(cfg.File, cfg.Size)
	case "s3":
		return createS3Device(ctx, cfg.S3, cfg.Size, m)
	default:
		return nil, fmt.Errorf("unknown device type: %q (supported: memory, file, s3)", cfg.Type)
	}
}

// createFileDevice opens an image-file device.
func createFileDevice(options map[string]any, size int64) (volume.Device, error) {
	type FileDeviceConfig struct {
		Path string `mapstructure:"path"`
	}

	var devCfg FileDeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode file device config: %w", err)
	}

	if devCfg.Path == "" {
		return nil, fmt.Errorf("file device: path is required")
	}

	dev, err := volume.OpenFileDevice(devCfg.Path, size)
	if err != nil {
		return nil, fmt.Errorf("failed to create file device: %w", err)
	}

	logger.Debug("File device opened: path=%s size=%d", devCfg.Path, dev.Size())
	return dev, nil
}

// s3DeviceOptions is the device.s3 section.
type s3DeviceOptions struct {
	Region            string `mapstructure:"region"`
	Bucket            string `mapstructure:"bucket"`
	KeyPrefix         string `mapstructure:"key_prefix"`
	Endpoint          string `mapstructure:"endpoint"`
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	BlockSize         int64  `mapstructure:"block_size"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RequestsPerSecond uint   `mapstructure:"requests_per_second"`
}

// createS3Device creates an S3-backed device.
func createS3Device(ctx context.Context, options map[string]any, size int64, m metrics.DeviceMetrics) (volume.Device, error) {
	var devCfg s3DeviceOptions
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 device config: %w", err)
	}

	if devCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 device: bucket is required")
	}
	if devCfg.Region == "" {
		return nil, fmt.Errorf("S3 device: region is required")
	}

	client, err := newS3Client(ctx, devCfg)
	if err != nil {
		return nil, err
	}

	dev, err := volume.NewS3Device(ctx, volume.S3DeviceConfig{
		Client:            client,
		Bucket:            devCfg.Bucket,
		KeyPrefix:         devCfg.KeyPrefix,
		BlockSize:         devCfg.BlockSize,
		Size:              size,
		RequestsPerSecond: devCfg.RequestsPerSecond,
		Metrics:           m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 device: %w", err)
	}

	logger.Info("S3 device initialized: bucket=%s, region=%s, prefix=%s",
		devCfg.Bucket, devCfg.Region, devCfg.KeyPrefix)

	return dev, nil
}

// newS3Client builds an S3 client from the device.s3 section.
func newS3Client(ctx context.Context, devCfg s3DeviceOptions) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(devCfg.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if devCfg.AccessKeyID != "" && devCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(devCfg.AccessKeyID, devCfg.SecretAccessKey, ""),
		))
	}

	maxRetries := devCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if devCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(devCfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ============================================================================
// Tables
// ============================================================================

// CreateTable creates a file record table based on configuration.
//
// Supported types:
//   - "memory": mft.MemoryTable (ephemeral)
//   - "badger": pkg/mft/badger (BadgerDB storage, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Table configuration
//   - recordSize: Fixed file record size from the volume section
//
// Returns:
//   - mft.Table: Initialized table
//   - ntfs.ObjectIDIndex: Object id index stored alongside the table
//   - error: Configuration or initialization error
func CreateTable(ctx context.Context, cfg *TableConfig, recordSize int) (mft.Table, ntfs.ObjectIDIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	switch cfg.Type {
	case "memory":
		return mft.NewMemoryTable(recordSize, cfg.MaxRecords), mft.NewMemoryObjectIDs(), nil
	case "badger":
		return createBadgerTable(ctx, cfg, recordSize)
	default:
		return nil, nil, fmt.Errorf("unknown table type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerTable opens a BadgerDB-backed table.
func createBadgerTable(ctx context.Context, cfg *TableConfig, recordSize int) (mft.Table, ntfs.ObjectIDIndex, error) {
	var tableCfg badger.Config
	if err := mapstructure.Decode(cfg.Badger, &tableCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode badger table config: %w", err)
	}

	if tableCfg.DBPath == "" && !tableCfg.InMemory {
		return nil, nil, fmt.Errorf("badger table: db_path is required")
	}

	// Geometry comes from the volume section
	tableCfg.RecordSize = recordSize
	if tableCfg.MaxRecords == 0 {
		tableCfg.MaxRecords = cfg.MaxRecords
	}

	table, err := badger.Open(ctx, tableCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create badger table: %w", err)
	}

	return table, table.ObjectIDs(), nil
}

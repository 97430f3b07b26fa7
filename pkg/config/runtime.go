package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/google/uuid"
	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
	"github.com/marmos91/dittofs-ntfs/pkg/volume"
)

// Runtime bundles a FileSystem with the backends it was built on.
type Runtime struct {
	FileSystem *ntfs.FileSystem
	Table      mft.Table
	Device     volume.Device
	Volume     *volume.Volume
	Root       *ntfs.File
}

// Close syncs and closes the device and closes the table.
func (r *Runtime) Close() error {
	var errs []error
	if r.Device != nil {
		if err := r.Device.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync device: %w", err))
		}
		if err := r.Device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close device: %w", err))
		}
	}
	if r.Table != nil {
		if err := r.Table.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close table: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CreateFileSystem creates a fully wired FileSystem from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates the device and the volume over it
//  2. Creates the file record table and its object id index
//  3. Builds the FileSystem and rebuilds the cluster bitmap from the table
//  4. Opens the root directory, creating it on an empty table
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration loaded from config file
//
// Returns:
//   - *Runtime: The file system and its backends; the caller must Close it
//   - error: If any backend cannot be created or the table is inconsistent
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	rt, err := config.CreateFileSystem(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("Failed to open volume: %v", err)
//	}
//	defer rt.Close()
func CreateFileSystem(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	m := InitializeMetrics(cfg)
	rt := &Runtime{}

	fail := func(err error) (*Runtime, error) {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Warn("Failed to release backends: %v", closeErr)
		}
		return nil, err
	}

	// Step 1: device and volume
	dev, err := CreateDevice(ctx, &cfg.Device, m.DeviceMetrics)
	if err != nil {
		return fail(err)
	}
	rt.Device = dev

	vol, err := volume.New(dev, cfg.Volume.ClusterSize)
	if err != nil {
		return fail(fmt.Errorf("failed to create volume: %w", err))
	}
	rt.Volume = vol

	// Step 2: table
	table, objectIDs, err := CreateTable(ctx, &cfg.Table, cfg.Volume.RecordSize)
	if err != nil {
		return fail(err)
	}
	rt.Table = table

	// Step 3: file system
	var volumeID uuid.UUID
	if cfg.Volume.VolumeID != "" {
		if volumeID, err = uuid.Parse(cfg.Volume.VolumeID); err != nil {
			return fail(fmt.Errorf("invalid volume id: %w", err))
		}
	}

	fs, err := ntfs.NewFileSystem(ntfs.FileSystemConfig{
		Table:           table,
		Volume:          vol,
		ObjectIDs:       objectIDs,
		Random:          newRandom(cfg.Volume.RandomSeed),
		VolumeID:        volumeID,
		IndexBufferSize: cfg.Volume.IndexBufferSize,
		Metrics:         m.FileMetrics,
	})
	if err != nil {
		return fail(err)
	}
	rt.FileSystem = fs

	if err := fs.RebuildBitmap(ctx); err != nil {
		return fail(fmt.Errorf("failed to rebuild cluster bitmap: %w", err))
	}

	// Step 4: root directory
	root, err := openRoot(ctx, fs)
	if err != nil {
		return fail(err)
	}
	rt.Root = root

	logger.Debug("File system ready: table=%s device=%s cluster_size=%d record_size=%d",
		cfg.Table.Type, cfg.Device.Type, cfg.Volume.ClusterSize, cfg.Volume.RecordSize)

	return rt, nil
}

// openRoot returns the root directory, creating it when the table is empty.
func openRoot(ctx context.Context, fs *ntfs.FileSystem) (*ntfs.File, error) {
	allocated, err := fs.Table().IsAllocated(ctx, mft.RecordRootDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to check root directory: %w", err)
	}

	if !allocated {
		root, err := fs.CreateRootDirectory(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create root directory: %w", err)
		}
		logger.Info("Created root directory %s", root.Reference())
		return root, nil
	}

	root, err := fs.GetDirectoryByRef(ctx, mft.FileReference{Index: mft.RecordRootDirectory})
	if err != nil {
		return nil, fmt.Errorf("failed to open root directory: %w", err)
	}
	return root, nil
}

// newRandom returns the object id source for seed: a deterministic
// generator for a non-zero seed, nil (crypto random) otherwise.
func newRandom(seed int64) io.Reader {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}

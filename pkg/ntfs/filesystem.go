// Package ntfs implements the logical file layer of an NTFS-compatible
// filesystem.
//
// A File maps a master file table record, plus any extension records its
// attribute list points into, to the set of attributes making up the file.
// It keeps identity caches of attribute and index handles, converts
// attributes between resident and non-resident storage, and packs the base
// record on Persist so it never exceeds the table's fixed record size.
//
// The layers below are consumed through narrow types: mft.Table stores
// records, volume.Volume stores non-resident content, ObjectIDIndex registers
// object ids. FileSystem bundles them with the policy tables (attribute
// definitions, name collation) and the clock and random sources.
package ntfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/metrics"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/volume"
)

// ObjectIDIndex is the volume-wide registry of object ids ($O index of
// $Extend\$ObjId).
//
// mft.MemoryObjectIDs and the badger table's ObjectIDs implement it.
type ObjectIDIndex interface {
	// Add registers an object id. Returns mft.ErrObjectIDExists for
	// duplicates.
	Add(ctx context.Context, entry mft.ObjectIDEntry) error

	// Remove drops a registration. Returns mft.ErrObjectIDNotFound if absent.
	Remove(ctx context.Context, id uuid.UUID) error
}

// FileSystemConfig contains the collaborators of a FileSystem.
type FileSystemConfig struct {
	// Table stores file records (required)
	Table mft.Table

	// Volume stores non-resident content. Without one, attributes can only
	// be resident and packing can only fail.
	Volume *volume.Volume

	// ObjectIDs registers object ids (default: in-memory index)
	ObjectIDs ObjectIDIndex

	// AttributeDefinitions answers per-type storage policy
	// (default: DefaultAttributeDefinitions)
	AttributeDefinitions *AttributeDefinitions

	// Collator compares file names (default: UpcaseCollator)
	Collator NameCollator

	// Random is the source of new object ids (default: uuid.New)
	Random io.Reader

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time

	// VolumeID is recorded as the birth volume of new object ids
	VolumeID uuid.UUID

	// IndexBufferSize is the size of index allocation blocks
	// (default: DefaultIndexBufferSize)
	IndexBufferSize int

	// Metrics records persist and cache observability (nil for no-op)
	Metrics metrics.FileMetrics
}

// FileSystem is the context shared by the files of one volume.
//
// It hands out File instances and keeps at most one open File per record,
// so every caller resolving the same reference shares the same handle
// caches.
//
// Thread Safety:
// The open-file map is safe for concurrent use. Individual Files are not;
// see File.
type FileSystem struct {
	table           mft.Table
	volume          *volume.Volume
	objectIDs       ObjectIDIndex
	attrDefs        *AttributeDefinitions
	names           NameCollator
	random          io.Reader
	clock           func() time.Time
	volumeID        uuid.UUID
	indexBufferSize int
	metrics         metrics.FileMetrics

	mu    sync.Mutex
	files map[uint64]*File
}

// NewFileSystem creates a file system over the configured collaborators.
func NewFileSystem(cfg FileSystemConfig) (*FileSystem, error) {
	if cfg.Table == nil {
		return nil, fmt.Errorf("file record table is required")
	}

	fs := &FileSystem{
		table:           cfg.Table,
		volume:          cfg.Volume,
		objectIDs:       cfg.ObjectIDs,
		attrDefs:        cfg.AttributeDefinitions,
		names:           cfg.Collator,
		random:          cfg.Random,
		clock:           cfg.Clock,
		volumeID:        cfg.VolumeID,
		indexBufferSize: cfg.IndexBufferSize,
		metrics:         cfg.Metrics,
		files:           make(map[uint64]*File),
	}
	if fs.objectIDs == nil {
		fs.objectIDs = mft.NewMemoryObjectIDs()
	}
	if fs.attrDefs == nil {
		fs.attrDefs = DefaultAttributeDefinitions()
	}
	if fs.names == nil {
		fs.names = UpcaseCollator{}
	}
	if fs.clock == nil {
		fs.clock = time.Now
	}
	if fs.indexBufferSize == 0 {
		fs.indexBufferSize = DefaultIndexBufferSize
	}
	if fs.metrics == nil {
		fs.metrics = metrics.NoopFileMetrics()
	}

	if fs.indexBufferSize%mft.SectorSize != 0 {
		return nil, fmt.Errorf("index buffer size %d is not a multiple of %d", fs.indexBufferSize, mft.SectorSize)
	}
	if fs.volume != nil && int64(fs.indexBufferSize) < fs.volume.ClusterSize() {
		return nil, fmt.Errorf("index buffer size %d is smaller than cluster size %d", fs.indexBufferSize, fs.volume.ClusterSize())
	}
	return fs, nil
}

// Table returns the file record table.
func (fs *FileSystem) Table() mft.Table {
	return fs.table
}

// Volume returns the volume holding non-resident content, or nil.
func (fs *FileSystem) Volume() *volume.Volume {
	return fs.volume
}

// AttributeDefinitions returns the attribute definition table.
func (fs *FileSystem) AttributeDefinitions() *AttributeDefinitions {
	return fs.attrDefs
}

// RecordSize returns the fixed file record size.
func (fs *FileSystem) RecordSize() int {
	return fs.table.RecordSize()
}

func (fs *FileSystem) requireVolume(ref mft.FileReference) (*volume.Volume, error) {
	if fs.volume == nil {
		return nil, newError(ErrNotSupported, ref, "non-resident storage needs a volume")
	}
	return fs.volume, nil
}

// newObjectID draws an object id from the configured random source.
func (fs *FileSystem) newObjectID() (uuid.UUID, error) {
	if fs.random == nil {
		return uuid.New(), nil
	}
	id, err := uuid.NewRandomFromReader(fs.random)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate object id: %w", err)
	}
	return id, nil
}

// ============================================================================
// File access
// ============================================================================

// GetFile returns the file with the given reference.
//
// A zero sequence number matches any sequence. Returns ErrNotFound if the
// slot is free or the reference is stale, and ErrInvalidArgument for
// extension records, which are not files of their own.
func (fs *FileSystem) GetFile(ctx context.Context, ref mft.FileReference) (*File, error) {
	fs.mu.Lock()
	f, ok := fs.files[ref.Index]
	fs.mu.Unlock()
	if ok && (ref.Sequence == 0 || ref.Sequence == f.record.Sequence) {
		fs.metrics.RecordCacheHit("file")
		return f, nil
	}
	fs.metrics.RecordCacheMiss("file")

	rec, err := fs.table.GetRecord(ctx, ref)
	if err != nil {
		if errors.Is(err, mft.ErrRecordNotFound) || errors.Is(err, mft.ErrStaleReference) {
			return nil, &FileError{Code: ErrNotFound, Message: "file not found", Ref: ref, Err: err}
		}
		return nil, fmt.Errorf("failed to load record %s: %w", ref, err)
	}
	if rec.Flags&mft.RecordIsExtension != 0 {
		return nil, newError(ErrInvalidArgument, ref, "record is an extension of %s", rec.BaseRecord)
	}
	return fs.track(newFile(fs, rec)), nil
}

// track registers f as the open file for its record, returning the file
// already registered if another caller won the race.
func (fs *FileSystem) track(f *File) *File {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if existing, ok := fs.files[f.record.Index]; ok && existing.record.Sequence == f.record.Sequence {
		return existing
	}
	fs.files[f.record.Index] = f
	return f
}

func (fs *FileSystem) forget(f *File) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.files[f.record.Index] == f {
		delete(fs.files, f.record.Index)
	}
}

// GetDirectoryByRef returns the directory with the given reference.
//
// Returns ErrNotFound if it does not exist and ErrInvalidArgument if the
// record is not a directory.
func (fs *FileSystem) GetDirectoryByRef(ctx context.Context, ref mft.FileReference) (*File, error) {
	f, err := fs.GetFile(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !f.IsDirectory() {
		return nil, newError(ErrInvalidArgument, ref, "not a directory")
	}
	return f, nil
}

// AllocateFile reserves a new record and returns it as an empty file.
func (fs *FileSystem) AllocateFile(ctx context.Context, flags mft.RecordFlags) (*File, error) {
	rec, err := fs.table.AllocateRecord(ctx, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate file record: %w", err)
	}
	logger.Debug("[NTFS] allocated record %s", rec.Reference())
	return fs.track(newFile(fs, rec)), nil
}

// DeleteFile releases the record of f. Its reference goes stale.
func (fs *FileSystem) DeleteFile(ctx context.Context, f *File) error {
	if err := fs.table.FreeRecord(ctx, f.Reference()); err != nil {
		return fmt.Errorf("failed to free record %s: %w", f.Reference(), err)
	}
	fs.forget(f)
	logger.Debug("[NTFS] freed record %s", f.Reference())
	return nil
}

// RebuildBitmap marks the clusters of every non-resident attribute of every
// live record as allocated. Call it once after opening a volume whose
// records were written by an earlier session.
func (fs *FileSystem) RebuildBitmap(ctx context.Context) error {
	vol, err := fs.requireVolume(mft.FileReference{})
	if err != nil {
		return err
	}
	var clusters int64
	err = fs.table.ForEach(ctx, func(rec *mft.FileRecord) error {
		for _, a := range rec.Attributes {
			if !a.NonResident {
				continue
			}
			if err := vol.Bitmap().MarkAllocated(a.Runs); err != nil {
				return fmt.Errorf("record %s attribute %d: %w", rec.Reference(), a.ID, err)
			}
			clusters += volume.TotalClusters(a.Runs)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("[NTFS] cluster bitmap rebuilt: %d clusters in use, %d free", clusters, vol.Bitmap().FreeClusters())
	return nil
}

package mft

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned for record numbers that hold no live file.
	ErrRecordNotFound = errors.New("mft: file record not found")

	// ErrStaleReference is returned when a reference's sequence number no
	// longer matches the record it names.
	ErrStaleReference = errors.New("mft: stale file reference")

	// ErrRecordInUse is returned when allocating a slot that is already live.
	ErrRecordInUse = errors.New("mft: file record in use")

	// ErrTableFull is returned when no free record slot remains.
	ErrTableFull = errors.New("mft: no free file records")

	// ErrObjectIDExists is returned when registering a duplicate object id.
	ErrObjectIDExists = errors.New("mft: object id already registered")

	// ErrObjectIDNotFound is returned when an object id is not registered.
	ErrObjectIDNotFound = errors.New("mft: object id not found")
)

// DefaultRecordSize is the usual NTFS file record size.
const DefaultRecordSize = 1024

// Table stores the fixed-size file records of a volume.
//
// Records are handed out and returned as independent copies: mutating a
// returned record has no effect until it is passed to WriteRecord.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Serializing mutation of a
// single file is the caller's responsibility.
type Table interface {
	// RecordSize returns the fixed size of every record in bytes.
	RecordSize() int

	// GetRecord loads a live record. A zero sequence number in ref skips the
	// sequence check; otherwise a mismatch returns ErrStaleReference.
	GetRecord(ctx context.Context, ref FileReference) (*FileRecord, error)

	// WriteRecord stores rec in its slot. Records larger than RecordSize are
	// rejected with ErrRecordTooLarge.
	WriteRecord(ctx context.Context, rec *FileRecord) error

	// AllocateRecord reserves the lowest free slot at or above
	// FirstUserRecord and returns a fresh, already persisted, in-use record.
	AllocateRecord(ctx context.Context, flags RecordFlags) (*FileRecord, error)

	// AllocateRecordAt reserves a specific slot, used for system files.
	AllocateRecordAt(ctx context.Context, index uint64, flags RecordFlags) (*FileRecord, error)

	// FreeRecord releases a slot: the record is stripped, marked not in use
	// and its sequence number advanced so outstanding references go stale.
	FreeRecord(ctx context.Context, ref FileReference) error

	// IsAllocated reports whether the slot holds a live record.
	IsAllocated(ctx context.Context, index uint64) (bool, error)

	// ForEach calls fn for every live record in slot order.
	ForEach(ctx context.Context, fn func(*FileRecord) error) error

	// Close releases resources held by the table.
	Close() error
}

// ObjectIDEntry is one registration in the volume's object id index.
type ObjectIDEntry struct {
	ObjectID      uuid.UUID     `json:"object_id"`
	File          FileReference `json:"file"`
	BirthVolumeID uuid.UUID     `json:"birth_volume_id"`
	BirthObjectID uuid.UUID     `json:"birth_object_id"`
	DomainID      uuid.UUID     `json:"domain_id"`
	Registered    time.Time     `json:"registered"`
}

// nextSequence advances a sequence number, skipping zero which is reserved
// for "don't check".
func nextSequence(seq uint16) uint16 {
	seq++
	if seq == 0 {
		seq = 1
	}
	return seq
}

// NewRecordSequence returns the sequence number for a slot being reused after
// a record whose last sequence number was prev (0 if never used).
func NewRecordSequence(prev uint16) uint16 {
	if prev == 0 {
		return 1
	}
	return prev
}

// FreedSequence returns the sequence number stored in a slot when the record
// with sequence seq is freed.
func FreedSequence(seq uint16) uint16 {
	return nextSequence(seq)
}

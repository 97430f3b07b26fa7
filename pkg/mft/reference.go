// Package mft implements the master file table: fixed-size file records, the
// attribute records they host, and the Table that stores them.
//
// Record layout follows the on-disk NTFS format (FILE header, update sequence
// array, attribute records, end marker) so that a record's serialized size is
// exactly what would be written to the volume.
package mft

import (
	"fmt"
)

// Well-known record numbers of the NTFS system files.
const (
	RecordMFT           uint64 = 0
	RecordMFTMirror     uint64 = 1
	RecordLogFile       uint64 = 2
	RecordVolume        uint64 = 3
	RecordAttrDef       uint64 = 4
	RecordRootDirectory uint64 = 5
	RecordBitmap        uint64 = 6
	RecordBoot          uint64 = 7
	RecordBadClus       uint64 = 8
	RecordSecure        uint64 = 9
	RecordUpCase        uint64 = 10
	RecordExtend        uint64 = 11

	// FirstUserRecord is the first record number handed out to ordinary files.
	FirstUserRecord uint64 = 24
)

// indexMask keeps the 48-bit record number of a packed reference.
const indexMask = 1<<48 - 1

// FileReference identifies a file record: the record number within the table
// and the sequence number of the record's current incarnation. The sequence
// number changes whenever a record number is reused after deletion, which
// turns references held to the old file into stale references.
type FileReference struct {
	Index    uint64
	Sequence uint16
}

// NewFileReference unpacks the 64-bit on-disk form of a reference.
func NewFileReference(v uint64) FileReference {
	return FileReference{Index: v & indexMask, Sequence: uint16(v >> 48)}
}

// Value packs the reference into its 64-bit on-disk form.
func (r FileReference) Value() uint64 {
	return r.Index&indexMask | uint64(r.Sequence)<<48
}

// IsZero reports whether r is the null reference.
func (r FileReference) IsZero() bool {
	return r.Index == 0 && r.Sequence == 0
}

func (r FileReference) String() string {
	return fmt.Sprintf("%d#%d", r.Index, r.Sequence)
}

package mft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrRecordTooLarge is returned when a record's attributes do not fit in
	// the fixed record size.
	ErrRecordTooLarge = errors.New("mft: file record exceeds record size")

	// ErrAttributeIDsExhausted is returned when a record cannot issue another
	// attribute id.
	ErrAttributeIDsExhausted = errors.New("mft: attribute ids exhausted")

	// ErrCorruptRecord is returned when a record fails to parse.
	ErrCorruptRecord = errors.New("mft: corrupt file record")
)

// RecordFlags are the file record header flags.
type RecordFlags uint16

const (
	RecordInUse        RecordFlags = 0x0001
	RecordIsDirectory  RecordFlags = 0x0002
	RecordIsExtension  RecordFlags = 0x0004
	RecordHasViewIndex RecordFlags = 0x0008
)

const (
	recordMagic        = "FILE"
	recordHeaderSize   = 0x30
	sectorSize         = 512
	endMarkerSize      = 8
	maxAttributeID     = 0xFFFF
	updateSequenceOffs = recordHeaderSize
)

// FileRecord is one fixed-size record of the master file table.
//
// A base record hosts the attributes of a file directly. Extension records
// (RecordIsExtension, non-zero BaseRecord) host attributes that an attribute
// list in the base record points at.
type FileRecord struct {
	Index             uint64
	Sequence          uint16
	LogSequenceNumber uint64
	HardLinkCount     uint16
	Flags             RecordFlags
	BaseRecord        FileReference
	NextAttributeID   uint16
	Attributes        []*AttributeRecord

	recordSize     int
	updateSequence uint16
}

// NewFileRecord creates an empty record for the given slot and record size.
func NewFileRecord(index uint64, sequence uint16, recordSize int, flags RecordFlags) *FileRecord {
	return &FileRecord{
		Index:      index,
		Sequence:   sequence,
		Flags:      flags,
		recordSize: recordSize,
	}
}

// Reference returns the file reference of this record.
func (r *FileRecord) Reference() FileReference {
	return FileReference{Index: r.Index, Sequence: r.Sequence}
}

// RecordSize returns the fixed allocated size of the record.
func (r *FileRecord) RecordSize() int {
	return r.recordSize
}

// InUse reports whether the record holds a live file.
func (r *FileRecord) InUse() bool {
	return r.Flags&RecordInUse != 0
}

// IsDirectory reports whether the record is flagged as a directory.
func (r *FileRecord) IsDirectory() bool {
	return r.Flags&RecordIsDirectory != 0
}

func (r *FileRecord) firstAttributeOffset() int {
	return align8(updateSequenceOffs + 2*r.updateSequenceCount())
}

func (r *FileRecord) updateSequenceCount() int {
	return UpdateSequenceCount(r.recordSize)
}

// Size returns the serialized size of the record: header, update sequence
// array, every attribute record and the end marker.
func (r *FileRecord) Size() int {
	size := r.firstAttributeOffset() + endMarkerSize
	for _, a := range r.Attributes {
		size += a.Size()
	}
	return size
}

// GetAttribute returns the attribute with the given id, or nil.
func (r *FileRecord) GetAttribute(id uint16) *AttributeRecord {
	for _, a := range r.Attributes {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// FirstAttribute returns the first attribute with the given type and name.
func (r *FileRecord) FirstAttribute(t AttributeType, name string) *AttributeRecord {
	for _, a := range r.Attributes {
		if a.SameKey(t, name) {
			return a
		}
	}
	return nil
}

func (r *FileRecord) allocateID() (uint16, error) {
	if r.NextAttributeID == maxAttributeID {
		return 0, fmt.Errorf("record %d: %w", r.Index, ErrAttributeIDsExhausted)
	}
	id := r.NextAttributeID
	r.NextAttributeID++
	return id, nil
}

// CreateAttribute adds an empty resident attribute and returns it.
func (r *FileRecord) CreateAttribute(t AttributeType, name string, indexed bool, flags AttributeFlags) (*AttributeRecord, error) {
	id, err := r.allocateID()
	if err != nil {
		return nil, err
	}
	a := NewResidentAttribute(t, name, id, flags, indexed)
	r.insert(a)
	return a, nil
}

// CreateNonResidentAttribute adds an empty non-resident attribute and returns it.
func (r *FileRecord) CreateNonResidentAttribute(t AttributeType, name string, flags AttributeFlags) (*AttributeRecord, error) {
	id, err := r.allocateID()
	if err != nil {
		return nil, err
	}
	a := NewNonResidentAttribute(t, name, id, flags)
	r.insert(a)
	return a, nil
}

// insert places a keeping the record ordered by type, then name; new records
// go after existing ones with the same key.
func (r *FileRecord) insert(a *AttributeRecord) {
	pos := sort.Search(len(r.Attributes), func(i int) bool {
		other := r.Attributes[i]
		if other.Type != a.Type {
			return other.Type > a.Type
		}
		return other.Name > a.Name
	})
	r.Attributes = append(r.Attributes, nil)
	copy(r.Attributes[pos+1:], r.Attributes[pos:])
	r.Attributes[pos] = a
}

// RemoveAttribute removes the attribute with the given id. It reports whether
// an attribute was removed.
func (r *FileRecord) RemoveAttribute(id uint16) bool {
	for i, a := range r.Attributes {
		if a.ID == id {
			r.Attributes = append(r.Attributes[:i], r.Attributes[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceAttribute swaps old for replacement in place, keeping its position.
func (r *FileRecord) ReplaceAttribute(old, replacement *AttributeRecord) bool {
	for i, a := range r.Attributes {
		if a == old {
			r.Attributes[i] = replacement
			return true
		}
	}
	return false
}

// Reset drops every attribute, used when a record slot is freed.
func (r *FileRecord) Reset() {
	r.Attributes = nil
	r.HardLinkCount = 0
	r.NextAttributeID = 0
	r.BaseRecord = FileReference{}
}

// MarshalBinary serializes the record into exactly RecordSize bytes, applying
// the update sequence fixups to the last two bytes of every sector.
func (r *FileRecord) MarshalBinary() ([]byte, error) {
	if r.recordSize <= 0 || r.recordSize%sectorSize != 0 {
		return nil, fmt.Errorf("record %d: invalid record size %d", r.Index, r.recordSize)
	}
	size := r.Size()
	if size > r.recordSize {
		return nil, fmt.Errorf("record %d is %d bytes, limit %d: %w", r.Index, size, r.recordSize, ErrRecordTooLarge)
	}

	le := binary.LittleEndian
	buf := make([]byte, r.firstAttributeOffset(), r.recordSize)

	copy(buf[0:], recordMagic)
	le.PutUint16(buf[4:], updateSequenceOffs)
	le.PutUint16(buf[6:], uint16(r.updateSequenceCount()))
	le.PutUint64(buf[8:], r.LogSequenceNumber)
	le.PutUint16(buf[16:], r.Sequence)
	le.PutUint16(buf[18:], r.HardLinkCount)
	le.PutUint16(buf[20:], uint16(r.firstAttributeOffset()))
	le.PutUint16(buf[22:], uint16(r.Flags))
	le.PutUint32(buf[24:], uint32(size))
	le.PutUint32(buf[28:], uint32(r.recordSize))
	le.PutUint64(buf[32:], r.BaseRecord.Value())
	le.PutUint16(buf[40:], r.NextAttributeID)
	le.PutUint32(buf[44:], uint32(r.Index))

	var err error
	for _, a := range r.Attributes {
		if buf, err = a.marshal(buf); err != nil {
			return nil, fmt.Errorf("record %d attribute %d: %w", r.Index, a.ID, err)
		}
	}

	end := make([]byte, endMarkerSize)
	le.PutUint32(end, uint32(attributeEnd))
	buf = append(buf, end...)
	buf = buf[:r.recordSize]

	r.updateSequence++
	if r.updateSequence == 0 {
		r.updateSequence = 1
	}
	ProtectSectors(buf, updateSequenceOffs, r.updateSequence)

	return buf, nil
}

// UnmarshalBinary parses a serialized record, verifying and undoing the update
// sequence fixups.
func (r *FileRecord) UnmarshalBinary(data []byte) error {
	le := binary.LittleEndian
	if len(data) < recordHeaderSize || string(data[0:4]) != recordMagic {
		return fmt.Errorf("bad record header: %w", ErrCorruptRecord)
	}

	buf := append([]byte(nil), data...)
	usn, err := UnprotectSectors(buf, int(le.Uint16(buf[4:])), int(le.Uint16(buf[6:])))
	if err != nil {
		return err
	}

	*r = FileRecord{
		LogSequenceNumber: le.Uint64(buf[8:]),
		Sequence:          le.Uint16(buf[16:]),
		HardLinkCount:     le.Uint16(buf[18:]),
		Flags:             RecordFlags(le.Uint16(buf[22:])),
		BaseRecord:        NewFileReference(le.Uint64(buf[32:])),
		NextAttributeID:   le.Uint16(buf[40:]),
		Index:             uint64(le.Uint32(buf[44:])),
		recordSize:        int(le.Uint32(buf[28:])),
		updateSequence:    usn,
	}
	if r.recordSize != len(buf) {
		return fmt.Errorf("record declares %d bytes, got %d: %w", r.recordSize, len(buf), ErrCorruptRecord)
	}

	pos := int(le.Uint16(buf[20:]))
	for {
		if pos+4 > len(buf) {
			return fmt.Errorf("missing end marker: %w", ErrCorruptRecord)
		}
		if AttributeType(le.Uint32(buf[pos:])) == attributeEnd {
			break
		}
		a, n, err := unmarshalAttribute(buf[pos:])
		if err != nil {
			return fmt.Errorf("record %d: %v: %w", r.Index, err, ErrCorruptRecord)
		}
		r.Attributes = append(r.Attributes, a)
		pos += n
	}

	return nil
}

package ntfs

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FileAttributes are the DOS-style attribute flags carried by
// $STANDARD_INFORMATION and duplicated into every $FILE_NAME.
type FileAttributes uint32

const (
	FileAttributeReadOnly          FileAttributes = 0x00000001
	FileAttributeHidden            FileAttributes = 0x00000002
	FileAttributeSystem            FileAttributes = 0x00000004
	FileAttributeArchive           FileAttributes = 0x00000020
	FileAttributeDevice            FileAttributes = 0x00000040
	FileAttributeNormal            FileAttributes = 0x00000080
	FileAttributeTemporary         FileAttributes = 0x00000100
	FileAttributeSparse            FileAttributes = 0x00000200
	FileAttributeReparsePoint      FileAttributes = 0x00000400
	FileAttributeCompressed        FileAttributes = 0x00000800
	FileAttributeOffline           FileAttributes = 0x00001000
	FileAttributeNotContentIndexed FileAttributes = 0x00002000
	FileAttributeEncrypted         FileAttributes = 0x00004000

	// FileAttributeDirectory marks a file name whose file carries a $I30
	// index. $STANDARD_INFORMATION never holds it; it is derived from the
	// record flags when file names are freshened.
	FileAttributeDirectory FileAttributes = 0x10000000
)

const (
	standardInformationV1Size = 48
	standardInformationSize   = 72
)

// StandardInformation is the payload of the $STANDARD_INFORMATION attribute:
// the authoritative timestamps and attribute flags of a file.
type StandardInformation struct {
	CreationTime     time.Time
	ModificationTime time.Time
	MftChangeTime    time.Time
	LastAccessTime   time.Time
	FileAttributes   FileAttributes
	MaxVersions      uint32
	Version          uint32
	ClassID          uint32
	OwnerID          uint32
	SecurityID       uint32
	QuotaCharged     uint64
	UpdateSequence   uint64
}

// NewStandardInformation returns the standard information of a new file:
// all four timestamps set to now and the archive flag set.
func NewStandardInformation(now time.Time) *StandardInformation {
	now = truncateFiletime(now)
	return &StandardInformation{
		CreationTime:     now,
		ModificationTime: now,
		MftChangeTime:    now,
		LastAccessTime:   now,
		FileAttributes:   FileAttributeArchive,
	}
}

// MarshalBinary encodes the NTFS 3.x layout (72 bytes).
func (si *StandardInformation) MarshalBinary() ([]byte, error) {
	buf := make([]byte, standardInformationSize)
	le := binary.LittleEndian
	le.PutUint64(buf[0x00:], ToFiletime(si.CreationTime))
	le.PutUint64(buf[0x08:], ToFiletime(si.ModificationTime))
	le.PutUint64(buf[0x10:], ToFiletime(si.MftChangeTime))
	le.PutUint64(buf[0x18:], ToFiletime(si.LastAccessTime))
	le.PutUint32(buf[0x20:], uint32(si.FileAttributes))
	le.PutUint32(buf[0x24:], si.MaxVersions)
	le.PutUint32(buf[0x28:], si.Version)
	le.PutUint32(buf[0x2C:], si.ClassID)
	le.PutUint32(buf[0x30:], si.OwnerID)
	le.PutUint32(buf[0x34:], si.SecurityID)
	le.PutUint64(buf[0x38:], si.QuotaCharged)
	le.PutUint64(buf[0x40:], si.UpdateSequence)
	return buf, nil
}

// UnmarshalBinary decodes either the 48-byte NTFS 1.2 layout or the 72-byte
// NTFS 3.x layout.
func (si *StandardInformation) UnmarshalBinary(data []byte) error {
	if len(data) < standardInformationV1Size {
		return fmt.Errorf("standard information is %d bytes, need %d", len(data), standardInformationV1Size)
	}
	le := binary.LittleEndian
	*si = StandardInformation{
		CreationTime:     FromFiletime(le.Uint64(data[0x00:])),
		ModificationTime: FromFiletime(le.Uint64(data[0x08:])),
		MftChangeTime:    FromFiletime(le.Uint64(data[0x10:])),
		LastAccessTime:   FromFiletime(le.Uint64(data[0x18:])),
		FileAttributes:   FileAttributes(le.Uint32(data[0x20:])),
		MaxVersions:      le.Uint32(data[0x24:]),
		Version:          le.Uint32(data[0x28:]),
		ClassID:          le.Uint32(data[0x2C:]),
	}
	if len(data) >= standardInformationSize {
		si.OwnerID = le.Uint32(data[0x30:])
		si.SecurityID = le.Uint32(data[0x34:])
		si.QuotaCharged = le.Uint64(data[0x38:])
		si.UpdateSequence = le.Uint64(data[0x40:])
	}
	return nil
}

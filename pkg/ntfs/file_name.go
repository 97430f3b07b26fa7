package ntfs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// FileNameNamespace tells which naming rules a $FILE_NAME follows.
type FileNameNamespace uint8

const (
	NamespacePosix       FileNameNamespace = 0
	NamespaceWin32       FileNameNamespace = 1
	NamespaceDos         FileNameNamespace = 2
	NamespaceWin32AndDos FileNameNamespace = 3
)

func (n FileNameNamespace) String() string {
	switch n {
	case NamespacePosix:
		return "posix"
	case NamespaceWin32:
		return "win32"
	case NamespaceDos:
		return "dos"
	case NamespaceWin32AndDos:
		return "win32+dos"
	default:
		return fmt.Sprintf("namespace(%d)", uint8(n))
	}
}

const (
	fileNameHeaderSize = 0x42
	maxFileNameLength  = 255
)

// FileName is the payload of a $FILE_NAME attribute and the key of $I30
// directory index entries.
//
// Everything except ParentDirectory, Namespace and Name is a cached copy of
// $STANDARD_INFORMATION and the unnamed $DATA attribute, refreshed by
// File.FreshenFileName.
type FileName struct {
	ParentDirectory  mft.FileReference
	CreationTime     time.Time
	ModificationTime time.Time
	MftChangeTime    time.Time
	LastAccessTime   time.Time
	AllocatedSize    uint64
	RealSize         uint64
	Flags            FileAttributes
	ExtendedData     uint32
	Namespace        FileNameNamespace
	Name             string
}

// SameLink reports whether fn and other name the same link: same parent,
// namespace and name.
func (fn *FileName) SameLink(other *FileName) bool {
	return fn.ParentDirectory == other.ParentDirectory &&
		fn.Namespace == other.Namespace &&
		fn.Name == other.Name
}

// Clone returns a copy of fn.
func (fn *FileName) Clone() *FileName {
	c := *fn
	return &c
}

// MarshalBinary encodes the 66-byte header followed by the UTF-16LE name.
func (fn *FileName) MarshalBinary() ([]byte, error) {
	name, err := mft.EncodeName(fn.Name)
	if err != nil {
		return nil, err
	}
	if len(name)/2 > maxFileNameLength {
		return nil, fmt.Errorf("file name %q exceeds %d characters", fn.Name, maxFileNameLength)
	}

	buf := make([]byte, fileNameHeaderSize+len(name))
	le := binary.LittleEndian
	le.PutUint64(buf[0x00:], fn.ParentDirectory.Value())
	le.PutUint64(buf[0x08:], ToFiletime(fn.CreationTime))
	le.PutUint64(buf[0x10:], ToFiletime(fn.ModificationTime))
	le.PutUint64(buf[0x18:], ToFiletime(fn.MftChangeTime))
	le.PutUint64(buf[0x20:], ToFiletime(fn.LastAccessTime))
	le.PutUint64(buf[0x28:], fn.AllocatedSize)
	le.PutUint64(buf[0x30:], fn.RealSize)
	le.PutUint32(buf[0x38:], uint32(fn.Flags))
	le.PutUint32(buf[0x3C:], fn.ExtendedData)
	buf[0x40] = byte(len(name) / 2)
	buf[0x41] = byte(fn.Namespace)
	copy(buf[fileNameHeaderSize:], name)
	return buf, nil
}

// UnmarshalBinary decodes a $FILE_NAME payload.
func (fn *FileName) UnmarshalBinary(data []byte) error {
	if len(data) < fileNameHeaderSize {
		return fmt.Errorf("file name is %d bytes, need %d", len(data), fileNameHeaderSize)
	}
	le := binary.LittleEndian
	nameEnd := fileNameHeaderSize + 2*int(data[0x40])
	if nameEnd > len(data) {
		return fmt.Errorf("file name length %d overruns %d-byte payload", data[0x40], len(data))
	}
	name, err := mft.DecodeName(data[fileNameHeaderSize:nameEnd])
	if err != nil {
		return err
	}

	*fn = FileName{
		ParentDirectory:  mft.NewFileReference(le.Uint64(data[0x00:])),
		CreationTime:     FromFiletime(le.Uint64(data[0x08:])),
		ModificationTime: FromFiletime(le.Uint64(data[0x10:])),
		MftChangeTime:    FromFiletime(le.Uint64(data[0x18:])),
		LastAccessTime:   FromFiletime(le.Uint64(data[0x20:])),
		AllocatedSize:    le.Uint64(data[0x28:]),
		RealSize:         le.Uint64(data[0x30:]),
		Flags:            FileAttributes(le.Uint32(data[0x38:])),
		ExtendedData:     le.Uint32(data[0x3C:]),
		Namespace:        FileNameNamespace(data[0x41]),
		Name:             name,
	}
	return nil
}

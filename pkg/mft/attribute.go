package mft

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittofs-ntfs/pkg/volume"
)

// AttributeType is the type code of an attribute record.
type AttributeType uint32

const (
	AttributeStandardInformation AttributeType = 0x10
	AttributeAttributeList       AttributeType = 0x20
	AttributeFileName            AttributeType = 0x30
	AttributeObjectID            AttributeType = 0x40
	AttributeSecurityDescriptor  AttributeType = 0x50
	AttributeVolumeName          AttributeType = 0x60
	AttributeVolumeInformation   AttributeType = 0x70
	AttributeData                AttributeType = 0x80
	AttributeIndexRoot           AttributeType = 0x90
	AttributeIndexAllocation     AttributeType = 0xA0
	AttributeBitmap              AttributeType = 0xB0
	AttributeReparsePoint        AttributeType = 0xC0
	AttributeExtendedAttrInfo    AttributeType = 0xD0
	AttributeExtendedAttr        AttributeType = 0xE0
	AttributeLoggedUtilityStream AttributeType = 0x100

	// attributeEnd terminates the attribute sequence of a file record.
	attributeEnd AttributeType = 0xFFFFFFFF
)

func (t AttributeType) String() string {
	switch t {
	case AttributeStandardInformation:
		return "$STANDARD_INFORMATION"
	case AttributeAttributeList:
		return "$ATTRIBUTE_LIST"
	case AttributeFileName:
		return "$FILE_NAME"
	case AttributeObjectID:
		return "$OBJECT_ID"
	case AttributeSecurityDescriptor:
		return "$SECURITY_DESCRIPTOR"
	case AttributeVolumeName:
		return "$VOLUME_NAME"
	case AttributeVolumeInformation:
		return "$VOLUME_INFORMATION"
	case AttributeData:
		return "$DATA"
	case AttributeIndexRoot:
		return "$INDEX_ROOT"
	case AttributeIndexAllocation:
		return "$INDEX_ALLOCATION"
	case AttributeBitmap:
		return "$BITMAP"
	case AttributeReparsePoint:
		return "$REPARSE_POINT"
	case AttributeExtendedAttrInfo:
		return "$EA_INFORMATION"
	case AttributeExtendedAttr:
		return "$EA"
	case AttributeLoggedUtilityStream:
		return "$LOGGED_UTILITY_STREAM"
	default:
		return fmt.Sprintf("$UNKNOWN(0x%x)", uint32(t))
	}
}

// AttributeFlags are the per-record attribute flags.
type AttributeFlags uint16

const (
	AttributeFlagCompressed AttributeFlags = 0x0001
	AttributeFlagEncrypted  AttributeFlags = 0x4000
	AttributeFlagSparse     AttributeFlags = 0x8000
)

const (
	residentHeaderSize    = 0x18
	nonResidentHeaderSize = 0x40
)

// AttributeRecord is one attribute as hosted in a file record.
//
// Resident attributes carry their value in Data. Non-resident attributes carry
// a run list mapping virtual cluster numbers to volume clusters, plus the
// allocated, logical and initialized lengths of the stream.
type AttributeRecord struct {
	Type        AttributeType
	Name        string
	ID          uint16
	Flags       AttributeFlags
	NonResident bool

	// Resident form.
	Data    []byte
	Indexed bool

	// Non-resident form.
	StartVCN          uint64
	LastVCN           uint64
	CompressionUnit   uint16
	Runs              []volume.Run
	AllocatedLength   uint64
	DataLength        uint64
	InitializedLength uint64
}

// NewResidentAttribute creates an empty resident attribute record.
func NewResidentAttribute(t AttributeType, name string, id uint16, flags AttributeFlags, indexed bool) *AttributeRecord {
	return &AttributeRecord{Type: t, Name: name, ID: id, Flags: flags, Indexed: indexed}
}

// NewNonResidentAttribute creates an empty non-resident attribute record.
func NewNonResidentAttribute(t AttributeType, name string, id uint16, flags AttributeFlags) *AttributeRecord {
	return &AttributeRecord{Type: t, Name: name, ID: id, Flags: flags, NonResident: true}
}

// Length returns the logical length of the attribute's value.
func (a *AttributeRecord) Length() uint64 {
	if a.NonResident {
		return a.DataLength
	}
	return uint64(len(a.Data))
}

// Allocated returns the storage reserved for the value: the cluster allocation
// for non-resident attributes, the 8-byte aligned value length otherwise.
func (a *AttributeRecord) Allocated() uint64 {
	if a.NonResident {
		return a.AllocatedLength
	}
	return uint64(align8(len(a.Data)))
}

// Size returns the number of bytes the record occupies inside a file record.
func (a *AttributeRecord) Size() int {
	nameBytes := 2 * NameLength(a.Name)
	if a.NonResident {
		return align8(align8(nonResidentHeaderSize+nameBytes) + len(encodeRuns(a.Runs)))
	}
	return align8(align8(residentHeaderSize+nameBytes) + len(a.Data))
}

// SameKey reports whether a and b share type and name.
func (a *AttributeRecord) SameKey(t AttributeType, name string) bool {
	return a.Type == t && a.Name == name
}

// marshal appends the serialized attribute record to dst.
func (a *AttributeRecord) marshal(dst []byte) ([]byte, error) {
	name, err := EncodeName(a.Name)
	if err != nil {
		return nil, err
	}
	if len(name)/2 > 255 {
		return nil, fmt.Errorf("attribute name %q too long", a.Name)
	}

	size := a.Size()
	buf := make([]byte, size)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], uint32(a.Type))
	le.PutUint32(buf[4:], uint32(size))
	buf[9] = byte(len(name) / 2)
	le.PutUint16(buf[12:], uint16(a.Flags))
	le.PutUint16(buf[14:], a.ID)

	if a.NonResident {
		buf[8] = 1
		le.PutUint16(buf[10:], nonResidentHeaderSize)
		copy(buf[nonResidentHeaderSize:], name)

		runsOffset := align8(nonResidentHeaderSize + len(name))
		le.PutUint64(buf[16:], a.StartVCN)
		le.PutUint64(buf[24:], a.LastVCN)
		le.PutUint16(buf[32:], uint16(runsOffset))
		le.PutUint16(buf[34:], a.CompressionUnit)
		le.PutUint64(buf[40:], a.AllocatedLength)
		le.PutUint64(buf[48:], a.DataLength)
		le.PutUint64(buf[56:], a.InitializedLength)
		copy(buf[runsOffset:], encodeRuns(a.Runs))
	} else {
		le.PutUint16(buf[10:], residentHeaderSize)
		copy(buf[residentHeaderSize:], name)

		valueOffset := align8(residentHeaderSize + len(name))
		le.PutUint32(buf[16:], uint32(len(a.Data)))
		le.PutUint16(buf[20:], uint16(valueOffset))
		if a.Indexed {
			buf[22] = 1
		}
		copy(buf[valueOffset:], a.Data)
	}

	return append(dst, buf...), nil
}

// unmarshalAttribute parses one attribute record from buf, returning it and
// its on-disk length.
func unmarshalAttribute(buf []byte) (*AttributeRecord, int, error) {
	le := binary.LittleEndian
	if len(buf) < 16 {
		return nil, 0, fmt.Errorf("attribute header truncated")
	}

	length := int(le.Uint32(buf[4:]))
	if length < residentHeaderSize || length > len(buf) {
		return nil, 0, fmt.Errorf("attribute length %d out of bounds", length)
	}
	buf = buf[:length]

	a := &AttributeRecord{
		Type:        AttributeType(le.Uint32(buf[0:])),
		NonResident: buf[8] != 0,
		Flags:       AttributeFlags(le.Uint16(buf[12:])),
		ID:          le.Uint16(buf[14:]),
	}

	nameLen := int(buf[9]) * 2
	nameOff := int(le.Uint16(buf[10:]))
	if nameOff+nameLen > length {
		return nil, 0, fmt.Errorf("attribute name out of bounds")
	}
	name, err := DecodeName(buf[nameOff : nameOff+nameLen])
	if err != nil {
		return nil, 0, err
	}
	a.Name = name

	if a.NonResident {
		if length < nonResidentHeaderSize {
			return nil, 0, fmt.Errorf("non-resident attribute length %d too small", length)
		}
		a.StartVCN = le.Uint64(buf[16:])
		a.LastVCN = le.Uint64(buf[24:])
		runsOff := int(le.Uint16(buf[32:]))
		a.CompressionUnit = le.Uint16(buf[34:])
		a.AllocatedLength = le.Uint64(buf[40:])
		a.DataLength = le.Uint64(buf[48:])
		a.InitializedLength = le.Uint64(buf[56:])
		if runsOff > length {
			return nil, 0, fmt.Errorf("run list offset out of bounds")
		}
		runs, err := decodeRuns(buf[runsOff:])
		if err != nil {
			return nil, 0, err
		}
		a.Runs = runs
	} else {
		valueLen := int(le.Uint32(buf[16:]))
		valueOff := int(le.Uint16(buf[20:]))
		if valueOff+valueLen > length {
			return nil, 0, fmt.Errorf("resident value out of bounds")
		}
		a.Data = append([]byte(nil), buf[valueOff:valueOff+valueLen]...)
		a.Indexed = buf[22] != 0
	}

	return a, length, nil
}

// encodeRuns serializes runs as NTFS mapping pairs: per run a header byte whose
// low nibble is the size of the length field and high nibble the size of the
// signed LCN delta, followed by both fields, terminated by a zero byte.
func encodeRuns(runs []volume.Run) []byte {
	var out []byte
	var prevLCN int64
	for _, r := range runs {
		lengthBytes := signedBytes(r.Length)
		delta := r.LCN - prevLCN
		deltaBytes := signedBytes(delta)
		prevLCN = r.LCN

		out = append(out, byte(len(deltaBytes)<<4|len(lengthBytes)))
		out = append(out, lengthBytes...)
		out = append(out, deltaBytes...)
	}
	return append(out, 0)
}

func decodeRuns(buf []byte) ([]volume.Run, error) {
	var runs []volume.Run
	var lcn int64
	for i := 0; i < len(buf); {
		header := buf[i]
		if header == 0 {
			return runs, nil
		}
		lenSize := int(header & 0x0f)
		deltaSize := int(header >> 4)
		i++
		if lenSize == 0 || lenSize > 8 || deltaSize > 8 || i+lenSize+deltaSize > len(buf) {
			return nil, fmt.Errorf("malformed run list at offset %d", i-1)
		}
		length := readSigned(buf[i : i+lenSize])
		i += lenSize
		lcn += readSigned(buf[i : i+deltaSize])
		i += deltaSize
		runs = append(runs, volume.Run{LCN: lcn, Length: length})
	}
	return nil, fmt.Errorf("run list not terminated")
}

// signedBytes returns the shortest little-endian two's complement encoding of v.
func signedBytes(v int64) []byte {
	var out []byte
	for {
		b := byte(v)
		out = append(out, b)
		v >>= 8
		if (v == 0 && b&0x80 == 0) || (v == -1 && b&0x80 != 0) {
			return out
		}
	}
}

func readSigned(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	shift := uint(64 - 8*len(b))
	return v << shift >> shift
}

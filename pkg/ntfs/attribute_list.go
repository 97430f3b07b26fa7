package ntfs

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

const attributeListEntryHeaderSize = 0x1A

// AttributeListEntry locates one attribute of a file: the record hosting it
// and its id within that record.
type AttributeListEntry struct {
	Type        mft.AttributeType
	Name        string
	StartVCN    uint64
	BaseRecord  mft.FileReference
	AttributeID uint16
}

// AttributeList is the payload of the $ATTRIBUTE_LIST attribute.
type AttributeList struct {
	Entries []AttributeListEntry
}

// Add inserts an entry keeping the list ordered by type, then name.
func (l *AttributeList) Add(e AttributeListEntry) {
	pos := len(l.Entries)
	for i, cur := range l.Entries {
		if cur.Type > e.Type || (cur.Type == e.Type && cur.Name > e.Name) {
			pos = i
			break
		}
	}
	l.Entries = append(l.Entries, AttributeListEntry{})
	copy(l.Entries[pos+1:], l.Entries[pos:])
	l.Entries[pos] = e
}

// Remove drops the entry for attribute id hosted in record ref. It reports
// whether an entry was removed.
func (l *AttributeList) Remove(ref mft.FileReference, id uint16) bool {
	for i, e := range l.Entries {
		if e.BaseRecord == ref && e.AttributeID == id {
			l.Entries = append(l.Entries[:i], l.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// MarshalBinary encodes the entries, each padded to 8 bytes.
func (l *AttributeList) MarshalBinary() ([]byte, error) {
	var out []byte
	le := binary.LittleEndian
	for _, e := range l.Entries {
		name, err := mft.EncodeName(e.Name)
		if err != nil {
			return nil, err
		}
		size := (attributeListEntryHeaderSize + len(name) + 7) &^ 7
		buf := make([]byte, size)
		le.PutUint32(buf[0x00:], uint32(e.Type))
		le.PutUint16(buf[0x04:], uint16(size))
		buf[0x06] = byte(len(name) / 2)
		buf[0x07] = attributeListEntryHeaderSize
		le.PutUint64(buf[0x08:], e.StartVCN)
		le.PutUint64(buf[0x10:], e.BaseRecord.Value())
		le.PutUint16(buf[0x18:], e.AttributeID)
		copy(buf[attributeListEntryHeaderSize:], name)
		out = append(out, buf...)
	}
	return out, nil
}

// UnmarshalBinary decodes a sequence of attribute list entries.
func (l *AttributeList) UnmarshalBinary(data []byte) error {
	le := binary.LittleEndian
	l.Entries = nil
	for off := 0; off < len(data); {
		if len(data)-off < attributeListEntryHeaderSize {
			return fmt.Errorf("truncated attribute list entry at offset %d", off)
		}
		entry := data[off:]
		size := int(le.Uint16(entry[0x04:]))
		if size < attributeListEntryHeaderSize || size > len(entry) {
			return fmt.Errorf("bad attribute list entry length %d at offset %d", size, off)
		}
		nameOff := int(entry[0x07])
		nameEnd := nameOff + 2*int(entry[0x06])
		if nameEnd > size {
			return fmt.Errorf("attribute list entry name overruns entry at offset %d", off)
		}
		name, err := mft.DecodeName(entry[nameOff:nameEnd])
		if err != nil {
			return err
		}
		l.Entries = append(l.Entries, AttributeListEntry{
			Type:        mft.AttributeType(le.Uint32(entry[0x00:])),
			Name:        name,
			StartVCN:    le.Uint64(entry[0x08:]),
			BaseRecord:  mft.NewFileReference(le.Uint64(entry[0x10:])),
			AttributeID: le.Uint16(entry[0x18:]),
		})
		off += size
	}
	return nil
}

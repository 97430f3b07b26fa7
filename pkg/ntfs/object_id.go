package ntfs

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	objectIDShortSize = 16
	objectIDFullSize  = 64
)

// ObjectID is the payload of the $OBJECT_ID attribute. Only ObjectID is
// mandatory; the birth ids and domain id are written when any is set.
type ObjectID struct {
	ObjectID      uuid.UUID
	BirthVolumeID uuid.UUID
	BirthObjectID uuid.UUID
	DomainID      uuid.UUID
}

func (o *ObjectID) hasExtendedIDs() bool {
	return o.BirthVolumeID != uuid.Nil || o.BirthObjectID != uuid.Nil || o.DomainID != uuid.Nil
}

// MarshalBinary encodes 16 bytes, or 64 when extended ids are present. GUIDs
// use the Windows mixed-endian layout.
func (o *ObjectID) MarshalBinary() ([]byte, error) {
	size := objectIDShortSize
	if o.hasExtendedIDs() {
		size = objectIDFullSize
	}
	buf := make([]byte, size)
	putGUID(buf[0:], o.ObjectID)
	if size == objectIDFullSize {
		putGUID(buf[16:], o.BirthVolumeID)
		putGUID(buf[32:], o.BirthObjectID)
		putGUID(buf[48:], o.DomainID)
	}
	return buf, nil
}

// UnmarshalBinary decodes a 16 or 64-byte $OBJECT_ID payload.
func (o *ObjectID) UnmarshalBinary(data []byte) error {
	if len(data) < objectIDShortSize {
		return fmt.Errorf("object id is %d bytes, need %d", len(data), objectIDShortSize)
	}
	*o = ObjectID{ObjectID: getGUID(data[0:])}
	if len(data) >= objectIDFullSize {
		o.BirthVolumeID = getGUID(data[16:])
		o.BirthObjectID = getGUID(data[32:])
		o.DomainID = getGUID(data[48:])
	}
	return nil
}

// putGUID stores id with its first three fields little-endian.
func putGUID(dst []byte, id uuid.UUID) {
	dst[0], dst[1], dst[2], dst[3] = id[3], id[2], id[1], id[0]
	dst[4], dst[5] = id[5], id[4]
	dst[6], dst[7] = id[7], id[6]
	copy(dst[8:16], id[8:16])
}

func getGUID(src []byte) uuid.UUID {
	var id uuid.UUID
	id[0], id[1], id[2], id[3] = src[3], src[2], src[1], src[0]
	id[4], id[5] = src[5], src[4]
	id[6], id[7] = src[7], src[6]
	copy(id[8:16], src[8:16])
	return id
}

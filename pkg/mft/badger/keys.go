package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Database Key Namespace Design
// ==============================
//
// Data Type             Prefix   Key Format                    Value Type
// ==========================================================================
// File Records          "r:"     r:<8-byte big-endian index>   serialized FILE record
// Object IDs            "o:"     o:<uuid>                      ObjectIDEntry (JSON)
// Table Geometry        "cfg:"   cfg:record_size               uint32 (binary)
//
// Record keys use a big-endian index so that a prefix scan visits records in
// slot order, which allocation relies on to find the lowest free slot.

const (
	prefixRecord   = "r:"
	prefixObjectID = "o:"
	keyRecordSize  = "cfg:record_size"
)

func keyRecord(index uint64) []byte {
	key := make([]byte, len(prefixRecord)+8)
	copy(key, prefixRecord)
	binary.BigEndian.PutUint64(key[len(prefixRecord):], index)
	return key
}

func indexFromKey(key []byte) (uint64, error) {
	if len(key) != len(prefixRecord)+8 {
		return 0, fmt.Errorf("malformed record key %x", key)
	}
	return binary.BigEndian.Uint64(key[len(prefixRecord):]), nil
}

func keyObjectID(id uuid.UUID) []byte {
	return []byte(prefixObjectID + id.String())
}

package mft

import (
	"encoding/binary"
	"fmt"
)

// SectorSize is the granularity of update sequence protection.
const SectorSize = sectorSize

// UpdateSequenceCount returns the number of update sequence array entries
// protecting a structure of size bytes.
func UpdateSequenceCount(size int) int {
	return 1 + size/sectorSize
}

// ProtectSectors stamps usn into the update sequence array at usaOffset and
// into the last two bytes of every sector of buf, saving the displaced bytes
// in the array. A torn multi-sector write is detectable afterwards.
func ProtectSectors(buf []byte, usaOffset int, usn uint16) {
	le := binary.LittleEndian
	count := UpdateSequenceCount(len(buf))
	le.PutUint16(buf[usaOffset:], usn)
	for i := 1; i < count; i++ {
		tail := i*sectorSize - 2
		copy(buf[usaOffset+2*i:], buf[tail:tail+2])
		le.PutUint16(buf[tail:], usn)
	}
}

// UnprotectSectors verifies the update sequence stamps of buf and restores
// the displaced bytes. It returns the update sequence number.
func UnprotectSectors(buf []byte, usaOffset, usaCount int) (uint16, error) {
	le := binary.LittleEndian
	if usaCount < 1 || usaOffset+2*usaCount > len(buf) || (usaCount-1)*sectorSize > len(buf) {
		return 0, fmt.Errorf("bad update sequence array: %w", ErrCorruptRecord)
	}

	usn := le.Uint16(buf[usaOffset:])
	for i := 1; i < usaCount; i++ {
		tail := i*sectorSize - 2
		if le.Uint16(buf[tail:]) != usn {
			return 0, fmt.Errorf("torn write in sector %d: %w", i-1, ErrCorruptRecord)
		}
		copy(buf[tail:tail+2], buf[usaOffset+2*i:usaOffset+2*i+2])
	}
	return usn, nil
}

package ntfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CollationRule orders the keys of an index.
type CollationRule uint32

const (
	CollationBinary                CollationRule = 0x00
	CollationFilename              CollationRule = 0x01
	CollationUnicodeString         CollationRule = 0x02
	CollationUnsignedLong          CollationRule = 0x10
	CollationSID                   CollationRule = 0x11
	CollationSecurityHash          CollationRule = 0x12
	CollationMultipleUnsignedLongs CollationRule = 0x13
)

func (c CollationRule) String() string {
	switch c {
	case CollationBinary:
		return "binary"
	case CollationFilename:
		return "filename"
	case CollationUnicodeString:
		return "unicode-string"
	case CollationUnsignedLong:
		return "unsigned-long"
	case CollationSID:
		return "sid"
	case CollationSecurityHash:
		return "security-hash"
	case CollationMultipleUnsignedLongs:
		return "multiple-unsigned-longs"
	default:
		return fmt.Sprintf("collation(0x%x)", uint32(c))
	}
}

// NameCollator compares file names the way the volume does: case-insensitive
// under its upcase rules.
type NameCollator interface {
	CompareNames(a, b string) int
}

// UpcaseCollator compares names after Unicode upper-casing, the default
// volume collation.
type UpcaseCollator struct{}

// CompareNames orders a and b ignoring case.
func (UpcaseCollator) CompareNames(a, b string) int {
	// Casers keep state and must not be shared.
	upper := cases.Upper(language.Und)
	return strings.Compare(upper.String(a), upper.String(b))
}

// Compare orders two index keys under rule. Keys that fail to decode for
// their rule fall back to byte order so the index stays totally ordered.
func (c CollationRule) Compare(names NameCollator, a, b []byte) int {
	switch c {
	case CollationFilename:
		var fa, fb FileName
		if fa.UnmarshalBinary(a) == nil && fb.UnmarshalBinary(b) == nil {
			return names.CompareNames(fa.Name, fb.Name)
		}
	case CollationUnicodeString:
		sa, errA := mft.DecodeName(a)
		sb, errB := mft.DecodeName(b)
		if errA == nil && errB == nil {
			return names.CompareNames(sa, sb)
		}
	case CollationUnsignedLong:
		if len(a) >= 4 && len(b) >= 4 {
			return compareUint32(binary.LittleEndian.Uint32(a), binary.LittleEndian.Uint32(b))
		}
	case CollationMultipleUnsignedLongs:
		for i := 0; i+4 <= len(a) && i+4 <= len(b); i += 4 {
			if r := compareUint32(binary.LittleEndian.Uint32(a[i:]), binary.LittleEndian.Uint32(b[i:])); r != 0 {
				return r
			}
		}
		return compareInt(len(a), len(b))
	}
	return bytes.Compare(a, b)
}

func compareUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

package ntfs

import "time"

// FILETIME counts 100ns intervals since 1601-01-01 UTC.
const (
	filetimeEpochDelta = 116444736000000000
	filetimeTicks      = 100
)

// ToFiletime converts t to an NTFS timestamp. The zero time maps to 0.
func ToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/filetimeTicks + filetimeEpochDelta)
}

// FromFiletime converts an NTFS timestamp to a time.Time in UTC. 0 maps to
// the zero time.
func FromFiletime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDelta
	return time.Unix(0, ticks*filetimeTicks).UTC()
}

// truncateFiletime drops precision below NTFS resolution so round trips are
// exact.
func truncateFiletime(t time.Time) time.Time {
	return FromFiletime(ToFiletime(t))
}

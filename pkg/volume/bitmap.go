package volume

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoSpace is returned when the bitmap cannot satisfy an allocation.
var ErrNoSpace = errors.New("volume: no free clusters")

// Run is one extent of a non-resident attribute: Length clusters starting at
// logical cluster number LCN.
type Run struct {
	LCN    int64
	Length int64
}

// End returns the first cluster after the run.
func (r Run) End() int64 {
	return r.LCN + r.Length
}

// TotalClusters sums the lengths of runs.
func TotalClusters(runs []Run) int64 {
	var total int64
	for _, r := range runs {
		total += r.Length
	}
	return total
}

// AppendRuns appends extra to runs, merging the boundary when the new run
// continues the last one.
func AppendRuns(runs []Run, extra ...Run) []Run {
	for _, r := range extra {
		if r.Length == 0 {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].End() == r.LCN {
			runs[n-1].Length += r.Length
			continue
		}
		runs = append(runs, r)
	}
	return runs
}

// TrimRuns keeps the first keep clusters of runs and returns the kept prefix
// along with the released tail.
func TrimRuns(runs []Run, keep int64) (kept, released []Run) {
	for _, r := range runs {
		switch {
		case keep >= r.Length:
			kept = append(kept, r)
			keep -= r.Length
		case keep > 0:
			kept = append(kept, Run{LCN: r.LCN, Length: keep})
			released = append(released, Run{LCN: r.LCN + keep, Length: r.Length - keep})
			keep = 0
		default:
			released = append(released, r)
		}
	}
	return kept, released
}

// Bitmap tracks cluster usage for a volume.
//
// Allocation is first-fit starting at a rotating hint, preferring a single
// contiguous extent and falling back to multiple extents when the volume is
// fragmented.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Bitmap struct {
	mu       sync.Mutex
	bits     []byte
	clusters int64
	free     int64
	hint     int64
}

// NewBitmap creates a bitmap for the given number of clusters, all free.
func NewBitmap(clusters int64) *Bitmap {
	return &Bitmap{
		bits:     make([]byte, (clusters+7)/8),
		clusters: clusters,
		free:     clusters,
	}
}

func (b *Bitmap) isSet(c int64) bool {
	return b.bits[c/8]&(1<<(c%8)) != 0
}

func (b *Bitmap) set(c int64) {
	b.bits[c/8] |= 1 << (c % 8)
}

func (b *Bitmap) clear(c int64) {
	b.bits[c/8] &^= 1 << (c % 8)
}

// Clusters returns the total number of clusters tracked.
func (b *Bitmap) Clusters() int64 {
	return b.clusters
}

// FreeClusters returns the number of unallocated clusters.
func (b *Bitmap) FreeClusters() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free
}

// IsAllocated reports whether cluster c is in use.
func (b *Bitmap) IsAllocated(c int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return c >= 0 && c < b.clusters && b.isSet(c)
}

// Allocate reserves count clusters and returns the extents holding them.
func (b *Bitmap) Allocate(count int64) ([]Run, error) {
	if count <= 0 {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if count > b.free {
		return nil, fmt.Errorf("allocate %d clusters (%d free): %w", count, b.free, ErrNoSpace)
	}

	if start, ok := b.findContiguous(count); ok {
		b.markLocked(Run{LCN: start, Length: count})
		b.hint = start + count
		return []Run{{LCN: start, Length: count}}, nil
	}

	var runs []Run
	remaining := count
	for c := int64(0); c < b.clusters && remaining > 0; c++ {
		if b.isSet(c) {
			continue
		}
		runs = AppendRuns(runs, Run{LCN: c, Length: 1})
		b.set(c)
		b.free--
		remaining--
	}
	b.hint = runs[len(runs)-1].End()
	return runs, nil
}

// findContiguous locates count free clusters in a row, scanning from the hint
// and wrapping around once.
func (b *Bitmap) findContiguous(count int64) (int64, bool) {
	scan := func(from, to int64) (int64, bool) {
		var runStart, runLen int64
		for c := from; c < to; c++ {
			if b.isSet(c) {
				runLen = 0
				continue
			}
			if runLen == 0 {
				runStart = c
			}
			runLen++
			if runLen == count {
				return runStart, true
			}
		}
		return 0, false
	}

	hint := b.hint
	if hint >= b.clusters {
		hint = 0
	}
	if start, ok := scan(hint, b.clusters); ok {
		return start, true
	}
	return scan(0, b.clusters)
}

func (b *Bitmap) markLocked(r Run) {
	for c := r.LCN; c < r.End(); c++ {
		if !b.isSet(c) {
			b.set(c)
			b.free--
		}
	}
}

// MarkAllocated flags the clusters of runs as used. Used when rebuilding the
// bitmap from persisted records.
func (b *Bitmap) MarkAllocated(runs []Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range runs {
		if r.LCN < 0 || r.End() > b.clusters {
			return fmt.Errorf("run [%d,+%d) outside volume of %d clusters", r.LCN, r.Length, b.clusters)
		}
		b.markLocked(r)
	}
	return nil
}

// Free releases the clusters of runs.
func (b *Bitmap) Free(runs []Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range runs {
		if r.LCN < 0 || r.End() > b.clusters {
			return fmt.Errorf("run [%d,+%d) outside volume of %d clusters", r.LCN, r.Length, b.clusters)
		}
		for c := r.LCN; c < r.End(); c++ {
			if b.isSet(c) {
				b.clear(c)
				b.free++
			}
		}
	}
	return nil
}

package volume

import (
	"fmt"
)

// zeroChunk bounds the buffer used when zero-filling freshly allocated clusters.
const zeroChunk = 64 * 1024

// Volume couples a Device with its cluster geometry and allocation bitmap.
type Volume struct {
	device      Device
	clusterSize int64
	bitmap      *Bitmap
}

// New creates a volume over device with the given cluster size. Every cluster
// starts free; callers reconstruct usage with Bitmap().MarkAllocated.
func New(device Device, clusterSize int64) (*Volume, error) {
	if clusterSize <= 0 || clusterSize&(clusterSize-1) != 0 {
		return nil, fmt.Errorf("cluster size must be a positive power of two, got %d", clusterSize)
	}
	clusters := device.Size() / clusterSize
	if clusters == 0 {
		return nil, fmt.Errorf("device of %d bytes holds no %d-byte clusters", device.Size(), clusterSize)
	}

	return &Volume{
		device:      device,
		clusterSize: clusterSize,
		bitmap:      NewBitmap(clusters),
	}, nil
}

// ClusterSize returns the cluster size in bytes.
func (v *Volume) ClusterSize() int64 {
	return v.clusterSize
}

// Bitmap returns the cluster allocation bitmap.
func (v *Volume) Bitmap() *Bitmap {
	return v.bitmap
}

// Device returns the underlying device.
func (v *Volume) Device() Device {
	return v.device
}

// ClustersFor returns the number of clusters needed to hold n bytes.
func (v *Volume) ClustersFor(n int64) int64 {
	return (n + v.clusterSize - 1) / v.clusterSize
}

// Allocate reserves count clusters and zero-fills them on the device.
func (v *Volume) Allocate(count int64) ([]Run, error) {
	runs, err := v.bitmap.Allocate(count)
	if err != nil {
		return nil, err
	}

	if err := v.zero(runs); err != nil {
		_ = v.bitmap.Free(runs)
		return nil, err
	}
	return runs, nil
}

// Free releases runs back to the bitmap.
func (v *Volume) Free(runs []Run) error {
	return v.bitmap.Free(runs)
}

func (v *Volume) zero(runs []Run) error {
	buf := make([]byte, min(zeroChunk, v.clusterSize*TotalClusters(runs)))
	for _, r := range runs {
		off := r.LCN * v.clusterSize
		end := r.End() * v.clusterSize
		for off < end {
			n := min(int64(len(buf)), end-off)
			if _, err := v.device.WriteAt(buf[:n], off); err != nil {
				return fmt.Errorf("failed to zero clusters at %d: %w", off/v.clusterSize, err)
			}
			off += n
		}
	}
	return nil
}

// ReadRuns reads len(p) bytes starting at byte offset off of the stream whose
// clusters are described by runs.
func (v *Volume) ReadRuns(runs []Run, p []byte, off int64) error {
	return v.walkRuns(runs, int64(len(p)), off, func(devOff int64, lo, hi int) error {
		_, err := v.device.ReadAt(p[lo:hi], devOff)
		return err
	})
}

// WriteRuns writes p at byte offset off of the stream whose clusters are
// described by runs. The runs must already cover the written range.
func (v *Volume) WriteRuns(runs []Run, p []byte, off int64) error {
	return v.walkRuns(runs, int64(len(p)), off, func(devOff int64, lo, hi int) error {
		_, err := v.device.WriteAt(p[lo:hi], devOff)
		return err
	})
}

// walkRuns maps the stream range [off, off+n) onto device ranges and calls fn
// for each contiguous piece with the device offset and buffer bounds.
func (v *Volume) walkRuns(runs []Run, n, off int64, fn func(devOff int64, lo, hi int) error) error {
	var vcnBase int64
	done := int64(0)
	for _, r := range runs {
		if done == n {
			break
		}
		runStart := vcnBase * v.clusterSize
		runEnd := (vcnBase + r.Length) * v.clusterSize
		vcnBase += r.Length

		pos := off + done
		if pos >= runEnd {
			continue
		}
		chunk := min(runEnd-pos, n-done)
		devOff := r.LCN*v.clusterSize + (pos - runStart)
		if err := fn(devOff, int(done), int(done+chunk)); err != nil {
			return err
		}
		done += chunk
	}
	if done < n {
		return fmt.Errorf("range [%d,+%d) beyond %d allocated clusters", off, n, TotalClusters(runs))
	}
	return nil
}

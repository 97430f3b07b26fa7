package ntfs

import (
	"fmt"
	"io"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/volume"
)

// Attribute is the live handle of one attribute of a file.
//
// A File hands out at most one Attribute per attribute, so a residency
// conversion made through one holder is seen by every other holder: the
// handle re-points at the replacement record instead of being replaced
// itself.
//
// Thread Safety:
// Not safe for concurrent use; see File.
type Attribute struct {
	file   *File
	host   *mft.FileRecord
	record *mft.AttributeRecord
}

// ID returns the attribute id, unique within the hosting record.
func (a *Attribute) ID() uint16 {
	return a.record.ID
}

// Type returns the attribute type.
func (a *Attribute) Type() mft.AttributeType {
	return a.record.Type
}

// Name returns the attribute name ("" for unnamed attributes).
func (a *Attribute) Name() string {
	return a.record.Name
}

// IsNonResident reports whether the content is stored outside the record.
func (a *Attribute) IsNonResident() bool {
	return a.record.NonResident
}

// Length returns the logical length of the content.
func (a *Attribute) Length() uint64 {
	return a.record.Length()
}

// AllocatedLength returns the storage reserved for the content.
func (a *Attribute) AllocatedLength() uint64 {
	return a.record.Allocated()
}

// Record returns the attribute record currently backing the handle.
func (a *Attribute) Record() *mft.AttributeRecord {
	return a.record
}

// Host returns the reference of the record hosting the attribute.
func (a *Attribute) Host() mft.FileReference {
	return a.host.Reference()
}

func (a *Attribute) String() string {
	if a.record.Name == "" {
		return fmt.Sprintf("%s#%d", a.record.Type, a.record.ID)
	}
	return fmt.Sprintf("%s:%s#%d", a.record.Type, a.record.Name, a.record.ID)
}

func (a *Attribute) touch() {
	a.file.touch(a.host)
}

// OpenRaw opens the raw content of the attribute.
func (a *Attribute) OpenRaw(access Access) *Stream {
	return &Stream{attr: a, access: access}
}

// SetNonResident converts the attribute to the requested storage form.
// At most maxData bytes of content are carried over; a negative maxData
// carries everything.
//
// Returns ErrInvalidState if the attribute already has the requested form.
func (a *Attribute) SetNonResident(nonResident bool, maxData int) error {
	if a.record.NonResident == nonResident {
		form := "resident"
		if nonResident {
			form = "non-resident"
		}
		return newError(ErrInvalidState, a.file.Reference(), "attribute %s is already %s", a, form)
	}
	if maxData < 0 || uint64(maxData) > a.record.Length() {
		maxData = int(a.record.Length())
	}

	var err error
	if nonResident {
		err = a.toNonResident(maxData)
	} else {
		err = a.toResident(maxData)
	}
	if err != nil {
		return err
	}

	a.file.fs.metrics.RecordConversion(a.record.Type.String(), nonResident)
	logger.Debug("[NTFS] file %s: attribute %s now non-resident=%t (%d bytes)", a.file.Reference(), a, nonResident, maxData)
	return nil
}

func (a *Attribute) toNonResident(maxData int) error {
	vol, err := a.file.fs.requireVolume(a.file.Reference())
	if err != nil {
		return err
	}

	old := a.record
	data := old.Data[:maxData]
	replacement := mft.NewNonResidentAttribute(old.Type, old.Name, old.ID, old.Flags)
	a.host.ReplaceAttribute(old, replacement)
	a.record = replacement

	if len(data) > 0 {
		if _, err := a.writeNonResident(vol, data, 0); err != nil {
			_ = vol.Free(replacement.Runs)
			a.host.ReplaceAttribute(replacement, old)
			a.record = old
			return err
		}
	}
	a.touch()
	return nil
}

func (a *Attribute) toResident(maxData int) error {
	vol, err := a.file.fs.requireVolume(a.file.Reference())
	if err != nil {
		return err
	}

	old := a.record
	data := make([]byte, maxData)
	if err := vol.ReadRuns(old.Runs, data, 0); err != nil {
		return fmt.Errorf("failed to read attribute %s of file %s: %w", a, a.file.Reference(), err)
	}
	if err := vol.Free(old.Runs); err != nil {
		return fmt.Errorf("failed to release clusters of attribute %s: %w", a, err)
	}

	replacement := mft.NewResidentAttribute(old.Type, old.Name, old.ID, old.Flags, a.file.fs.attrDefs.IsIndexed(old.Type))
	replacement.Data = data
	a.host.ReplaceAttribute(old, replacement)
	a.record = replacement
	a.touch()
	return nil
}

// ============================================================================
// Content access
// ============================================================================

func (a *Attribute) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, newError(ErrInvalidArgument, a.file.Reference(), "negative offset %d", off)
	}
	length := int64(a.record.Length())
	if off >= length {
		return 0, io.EOF
	}
	n := len(p)
	if rem := length - off; int64(n) > rem {
		n = int(rem)
	}

	if a.record.NonResident {
		vol, err := a.file.fs.requireVolume(a.file.Reference())
		if err != nil {
			return 0, err
		}
		if err := vol.ReadRuns(a.record.Runs, p[:n], off); err != nil {
			return 0, fmt.Errorf("failed to read attribute %s of file %s: %w", a, a.file.Reference(), err)
		}
	} else {
		copy(p, a.record.Data[off:off+int64(n)])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (a *Attribute) writeAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, newError(ErrInvalidArgument, a.file.Reference(), "negative offset %d", off)
	}

	if a.record.NonResident {
		vol, err := a.file.fs.requireVolume(a.file.Reference())
		if err != nil {
			return 0, err
		}
		return a.writeNonResident(vol, p, off)
	}

	end := off + int64(len(p))
	if end > int64(len(a.record.Data)) {
		grown := make([]byte, end)
		copy(grown, a.record.Data)
		a.record.Data = grown
	}
	copy(a.record.Data[off:], p)
	a.touch()
	return len(p), nil
}

func (a *Attribute) writeNonResident(vol *volume.Volume, p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(a.record.DataLength) {
		if err := a.growNonResident(vol, end); err != nil {
			return 0, err
		}
	}
	if err := vol.WriteRuns(a.record.Runs, p, off); err != nil {
		return 0, fmt.Errorf("failed to write attribute %s of file %s: %w", a, a.file.Reference(), err)
	}
	return len(p), nil
}

func (a *Attribute) setLength(n int64) error {
	if n < 0 {
		return newError(ErrInvalidArgument, a.file.Reference(), "negative length %d", n)
	}

	if !a.record.NonResident {
		switch {
		case n < int64(len(a.record.Data)):
			a.record.Data = a.record.Data[:n:n]
		case n > int64(len(a.record.Data)):
			grown := make([]byte, n)
			copy(grown, a.record.Data)
			a.record.Data = grown
		default:
			return nil
		}
		a.touch()
		return nil
	}

	vol, err := a.file.fs.requireVolume(a.file.Reference())
	if err != nil {
		return err
	}
	switch {
	case n > int64(a.record.DataLength):
		return a.growNonResident(vol, n)
	case n < int64(a.record.DataLength):
		return a.shrinkNonResident(vol, n)
	}
	return nil
}

// growNonResident extends the stream to n bytes. New clusters come zeroed
// from the volume; stale bytes past the old length in the last cluster are
// zeroed here.
func (a *Attribute) growNonResident(vol *volume.Volume, n int64) error {
	r := a.record
	oldLen := int64(r.DataLength)
	oldAlloc := int64(r.AllocatedLength)

	if n > oldAlloc {
		need := vol.ClustersFor(n) - volume.TotalClusters(r.Runs)
		runs, err := vol.Allocate(need)
		if err != nil {
			return fmt.Errorf("failed to allocate %d clusters for attribute %s of file %s: %w", need, a, a.file.Reference(), err)
		}
		r.Runs = volume.AppendRuns(r.Runs, runs...)
		a.syncAllocation(vol)
	}

	if end := min(n, oldAlloc); end > oldLen {
		if err := vol.WriteRuns(r.Runs, make([]byte, end-oldLen), oldLen); err != nil {
			return fmt.Errorf("failed to clear attribute %s of file %s: %w", a, a.file.Reference(), err)
		}
	}

	r.DataLength = uint64(n)
	r.InitializedLength = uint64(n)
	a.touch()
	return nil
}

func (a *Attribute) shrinkNonResident(vol *volume.Volume, n int64) error {
	r := a.record
	kept, released := volume.TrimRuns(r.Runs, vol.ClustersFor(n))
	if err := vol.Free(released); err != nil {
		return fmt.Errorf("failed to release clusters of attribute %s: %w", a, err)
	}
	r.Runs = kept
	a.syncAllocation(vol)
	r.DataLength = uint64(n)
	r.InitializedLength = uint64(n)
	a.touch()
	return nil
}

func (a *Attribute) syncAllocation(vol *volume.Volume) {
	clusters := volume.TotalClusters(a.record.Runs)
	a.record.AllocatedLength = uint64(clusters * vol.ClusterSize())
	a.record.LastVCN = 0
	if clusters > 0 {
		a.record.LastVCN = uint64(clusters - 1)
	}
}

// content returns the full content of the attribute.
func (a *Attribute) content() ([]byte, error) {
	buf := make([]byte, a.record.Length())
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := a.readAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// replace sets the content and length of the attribute in one step.
func (a *Attribute) replace(data []byte) error {
	if !a.record.NonResident {
		a.record.Data = append([]byte(nil), data...)
		a.touch()
		return nil
	}
	if err := a.setLength(int64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := a.writeAt(data, 0)
	return err
}

package ntfs

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// packState is the state of the record packer.
type packState int

const (
	// packOverflowing: the record size has not been checked against the limit
	// since the last change.
	packOverflowing packState = iota

	// packPacking: the record is too large; try the reductions in order.
	packPacking

	// packFit: the record fits.
	packFit

	// packUnfixable: a full pass of reductions made no progress.
	packUnfixable
)

func (s packState) String() string {
	switch s {
	case packOverflowing:
		return "overflowing"
	case packPacking:
		return "packing"
	case packFit:
		return "fit"
	case packUnfixable:
		return "unfixable"
	default:
		return fmt.Sprintf("packState(%d)", int(s))
	}
}

// reduction shrinks the base record by one step, reporting whether it
// changed anything.
type reduction struct {
	name  string
	apply func(ctx context.Context) (bool, error)
}

// reductions returns the packing strategies in priority order.
func (f *File) reductions() []reduction {
	return []reduction{
		{name: "data", apply: f.convertFirstResidentData},
		{name: "non-resident", apply: f.convertFirstConvertible},
		{name: "index-root", apply: f.shrinkFirstIndexRoot},
	}
}

// Persist writes the file's dirty records to the table.
//
// A clean file is left alone. For a dirty base record, the $STANDARD_INFORMATION
// change time is first stamped with the transaction timestamp (if ctx carries
// a transaction), then the record is packed until it fits the table's record
// size:
//
//  1. the first resident $DATA attribute is made non-resident, else
//  2. the first resident attribute whose type may be non-resident is, else
//  3. the first index root is shrunk into an allocation block.
//
// Each successful step restarts from the top. When a full pass makes no
// progress the file is left dirty and ErrNotSupported is returned: spreading
// a file over several records is not implemented. Changes made by the steps
// that did succeed are kept in memory.
//
// Dirty extension records are written after the base record.
func (f *File) Persist(ctx context.Context) error {
	if !f.dirty && len(f.dirtyExtensions) == 0 {
		return nil
	}

	start := time.Now()
	extensions := len(f.dirtyExtensions)
	err := f.persist(ctx)
	elapsed := time.Since(start)
	f.fs.metrics.RecordPersist(elapsed, f.record.Size(), err)

	if err == nil && logger.Enabled(logger.LevelDebug) {
		logger.WithFields(map[string]any{
			"file":       f.Reference().String(),
			"bytes":      f.record.Size(),
			"extensions": extensions,
			"elapsed":    elapsed,
		}).Debug("[NTFS] persisted file record")
	}
	return err
}

func (f *File) persist(ctx context.Context) error {
	if f.dirty {
		if err := f.stampChangeTime(ctx); err != nil {
			return err
		}
		if err := f.pack(ctx); err != nil {
			return err
		}

		f.dirty = false
		if err := f.fs.table.WriteRecord(ctx, f.record); err != nil {
			f.dirty = true
			return fmt.Errorf("failed to write record %s: %w", f.Reference(), err)
		}
	}

	for index := range f.dirtyExtensions {
		rec := f.extensions[index]
		if size, limit := rec.Size(), f.fs.table.RecordSize(); size > limit {
			return newError(ErrNotSupported, f.Reference(), "extension record %s is %d bytes, limit %d", rec.Reference(), size, limit)
		}
		if err := f.fs.table.WriteRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to write extension record %s: %w", rec.Reference(), err)
		}
		delete(f.dirtyExtensions, index)
	}
	return nil
}

// stampChangeTime sets the record change time to the transaction timestamp.
func (f *File) stampChangeTime(ctx context.Context) error {
	tx, ok := TransactionFromContext(ctx)
	if !ok {
		return nil
	}
	a, err := f.FindAttribute(ctx, mft.AttributeStandardInformation, "")
	if err != nil || a == nil {
		return err
	}
	si, err := decodeContent[StandardInformation](a)
	if err != nil {
		return err
	}
	si.MftChangeTime = truncateFiletime(tx.Timestamp)
	data, err := si.MarshalBinary()
	if err != nil {
		return err
	}
	return a.replace(data)
}

// pack runs the packing state machine until the base record fits or no
// reduction makes progress.
func (f *File) pack(ctx context.Context) error {
	limit := f.fs.table.RecordSize()
	state := packOverflowing

	for {
		switch state {
		case packOverflowing:
			if f.record.Size() <= limit {
				state = packFit
			} else {
				state = packPacking
			}

		case packPacking:
			state = packUnfixable
			for _, r := range f.reductions() {
				progress, err := r.apply(ctx)
				if err != nil {
					return err
				}
				if progress {
					f.fs.metrics.RecordReduction(r.name)
					logger.Debug("[NTFS] file %s: packing step %q, record now %d bytes", f.Reference(), r.name, f.record.Size())
					state = packOverflowing
					break
				}
			}

		case packFit:
			return nil

		case packUnfixable:
			logger.Warn("[NTFS] file %s: record needs %d bytes, limit %d", f.Reference(), f.record.Size(), limit)
			return newError(ErrNotSupported, f.Reference(),
				"record needs %d bytes of %d and spanning multiple records is not supported", f.record.Size(), limit)
		}
	}
}

// firstResident returns the first resident attribute of the base record
// accepted by match.
func (f *File) firstResident(match func(*mft.AttributeRecord) bool) *mft.AttributeRecord {
	for _, a := range f.record.Attributes {
		if !a.NonResident && match(a) {
			return a
		}
	}
	return nil
}

func (f *File) convertFirstResidentData(ctx context.Context) (bool, error) {
	rec := f.firstResident(func(a *mft.AttributeRecord) bool {
		return a.Type == mft.AttributeData
	})
	if rec == nil {
		return false, nil
	}
	return true, f.handle(f.record, rec).SetNonResident(true, -1)
}

func (f *File) convertFirstConvertible(ctx context.Context) (bool, error) {
	rec := f.firstResident(func(a *mft.AttributeRecord) bool {
		return f.fs.attrDefs.CanBeNonResident(a.Type)
	})
	if rec == nil {
		return false, nil
	}
	return true, f.handle(f.record, rec).SetNonResident(true, -1)
}

func (f *File) shrinkFirstIndexRoot(ctx context.Context) (bool, error) {
	var rec *mft.AttributeRecord
	for _, a := range f.record.Attributes {
		if a.Type == mft.AttributeIndexRoot {
			rec = a
			break
		}
	}
	if rec == nil {
		return false, nil
	}
	ix, err := f.GetIndex(ctx, rec.Name)
	if err != nil {
		return false, err
	}
	return ix.ShrinkRoot(ctx)
}

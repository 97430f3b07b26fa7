package ntfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// CreateFile creates and persists a new file.
//
// The file gets, in order, a $STANDARD_INFORMATION with all timestamps set to
// now and the archive flag, an $OBJECT_ID with a fresh id registered in the
// object id index, and an empty unnamed $DATA attribute. It has no names and
// a hard link count of zero; linking it into a directory is the caller's job.
//
// If persisting fails the object id registration and the record are
// released again.
func (fs *FileSystem) CreateFile(ctx context.Context, flags mft.RecordFlags) (*File, error) {
	f, err := fs.AllocateFile(ctx, flags)
	if err != nil {
		return nil, err
	}

	objectID, err := f.populate(ctx)
	if err == nil {
		err = f.Persist(ctx)
	}
	if err != nil {
		if objectID != nil {
			if rmErr := fs.objectIDs.Remove(ctx, objectID.ObjectID); rmErr != nil {
				logger.Warn("[NTFS] file %s: failed to drop object id after failed create: %v", f.Reference(), rmErr)
			}
		}
		if freeErr := fs.DeleteFile(ctx, f); freeErr != nil {
			logger.Warn("[NTFS] file %s: failed to free record after failed create: %v", f.Reference(), freeErr)
		}
		return nil, err
	}

	logger.Debug("[NTFS] created file %s object_id=%s", f.Reference(), objectID.ObjectID)
	return f, nil
}

// populate attaches the attributes of a new file. It returns the registered
// object id, if registration happened.
func (f *File) populate(ctx context.Context) (*ObjectID, error) {
	fs := f.fs

	siID, err := f.CreateAttribute(ctx, mft.AttributeStandardInformation, "")
	if err != nil {
		return nil, err
	}
	if err := f.SetAttributeContent(ctx, siID, NewStandardInformation(fs.clock())); err != nil {
		return nil, err
	}

	id, err := fs.newObjectID()
	if err != nil {
		return nil, err
	}
	objectID := &ObjectID{ObjectID: id}
	oidAttr, err := f.CreateAttribute(ctx, mft.AttributeObjectID, "")
	if err != nil {
		return nil, err
	}
	if err := f.SetAttributeContent(ctx, oidAttr, objectID); err != nil {
		return nil, err
	}
	if err := fs.objectIDs.Add(ctx, mft.ObjectIDEntry{
		ObjectID:      id,
		File:          f.Reference(),
		BirthVolumeID: fs.volumeID,
		BirthObjectID: id,
	}); err != nil {
		if errors.Is(err, mft.ErrObjectIDExists) {
			return nil, &FileError{Code: ErrAlreadyExists, Message: "object id collision", Ref: f.Reference(), Err: err}
		}
		return nil, fmt.Errorf("failed to register object id %s: %w", id, err)
	}

	if _, err := f.CreateAttribute(ctx, mft.AttributeData, ""); err != nil {
		return objectID, err
	}
	return objectID, nil
}

// Delete removes the file.
//
// The file must have no remaining hard links. Its object id registration is
// dropped, every attribute is removed (releasing non-resident clusters),
// extension records are released and finally the base record is freed.
// Deletion is not atomic: a failure part way leaves a partially stripped
// file in memory.
//
// Returns ErrInvalidState if the hard link count is not zero.
func (f *File) Delete(ctx context.Context) error {
	if n := f.record.HardLinkCount; n != 0 {
		return newError(ErrInvalidState, f.Reference(), "file still has %d hard links", n)
	}

	oidAttr, err := f.FindAttribute(ctx, mft.AttributeObjectID, "")
	if err != nil {
		return err
	}
	if oidAttr != nil {
		oid, err := decodeContent[ObjectID](oidAttr)
		if err != nil {
			return err
		}
		if err := f.fs.objectIDs.Remove(ctx, oid.ObjectID); err != nil && !errors.Is(err, mft.ErrObjectIDNotFound) {
			return fmt.Errorf("failed to drop object id %s: %w", oid.ObjectID, err)
		}
	}

	attrs, err := f.AllAttributes(ctx)
	if err != nil {
		return err
	}
	// The attribute list goes last: it is what locates the others.
	var list *Attribute
	for _, a := range attrs {
		if a.Type() == mft.AttributeAttributeList && a.host == f.record {
			list = a
			continue
		}
		if err := f.removeAttribute(a); err != nil {
			return err
		}
	}
	if list != nil {
		if err := f.removeAttribute(list); err != nil {
			return err
		}
	}

	for index, ext := range f.extensions {
		if err := f.fs.table.FreeRecord(ctx, ext.Reference()); err != nil {
			return fmt.Errorf("failed to free extension record %s: %w", ext.Reference(), err)
		}
		delete(f.extensions, index)
		delete(f.dirtyExtensions, index)
	}

	if err := f.fs.DeleteFile(ctx, f); err != nil {
		return err
	}
	f.dirty = false
	logger.Debug("[NTFS] deleted file %s", f.Reference())
	return nil
}

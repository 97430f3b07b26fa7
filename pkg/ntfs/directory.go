package ntfs

import (
	"context"
	"fmt"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// rootDirectoryName is the single name of the root directory, linked into
// its own index.
const rootDirectoryName = "."

// ============================================================================
// Directory Creation
// ============================================================================

// CreateRootDirectory formats the root directory in its well-known record.
//
// The root is its own parent: it carries one $FILE_NAME "." pointing at
// itself, indexed in its own $I30.
//
// Returns an error wrapping mft.ErrRecordInUse if the volume already has a
// root.
func (fs *FileSystem) CreateRootDirectory(ctx context.Context) (*File, error) {
	rec, err := fs.table.AllocateRecordAt(ctx, mft.RecordRootDirectory, mft.RecordIsDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate root directory: %w", err)
	}
	root := fs.track(newFile(fs, rec))

	if err := root.formatDirectory(ctx); err != nil {
		_ = fs.DeleteFile(ctx, root)
		return nil, err
	}
	if err := fs.link(ctx, root, root, rootDirectoryName); err != nil {
		_ = fs.DeleteFile(ctx, root)
		return nil, err
	}
	if err := root.Persist(ctx); err != nil {
		_ = fs.DeleteFile(ctx, root)
		return nil, err
	}

	logger.Info("[NTFS] created root directory %s", root.Reference())
	return root, nil
}

// CreateDirectory creates a directory named name inside parent.
//
// The directory is created like a file by CreateFile, then gets an empty
// $I30 index in place of its unnamed $DATA, and is linked into parent.
// Both directories are persisted.
func (fs *FileSystem) CreateDirectory(ctx context.Context, parent *File, name string) (*File, error) {
	dir, err := fs.CreateFile(ctx, mft.RecordIsDirectory)
	if err != nil {
		return nil, err
	}

	data, err := dir.FindAttribute(ctx, mft.AttributeData, "")
	if err == nil && data != nil {
		err = dir.removeAttribute(data)
	}
	if err == nil {
		err = dir.formatDirectory(ctx)
	}
	if err == nil {
		err = fs.Link(ctx, parent, dir, name)
	}
	if err != nil {
		if delErr := dir.Delete(ctx); delErr != nil {
			logger.Warn("[NTFS] directory %s: cleanup after failed create: %v", dir.Reference(), delErr)
		}
		return nil, err
	}
	return dir, nil
}

// formatDirectory gives a directory record its standard information (if
// missing) and an empty file name index.
func (f *File) formatDirectory(ctx context.Context) error {
	si, err := f.FindAttribute(ctx, mft.AttributeStandardInformation, "")
	if err != nil {
		return err
	}
	if si == nil {
		id, err := f.CreateAttribute(ctx, mft.AttributeStandardInformation, "")
		if err != nil {
			return err
		}
		if err := f.SetAttributeContent(ctx, id, NewStandardInformation(f.fs.clock())); err != nil {
			return err
		}
	}
	_, err = f.CreateIndex(ctx, DirectoryIndexName, mft.AttributeFileName, CollationFilename)
	return err
}

// ============================================================================
// Links
// ============================================================================

// Lookup returns the reference of the file linked into dir as name.
//
// Returns ErrNotFound if dir has no such entry.
func (fs *FileSystem) Lookup(ctx context.Context, dir *File, name string) (mft.FileReference, error) {
	ix, err := dir.GetIndex(ctx, DirectoryIndexName)
	if err != nil {
		return mft.FileReference{}, err
	}
	key, err := (&FileName{ParentDirectory: dir.Reference(), Name: name}).MarshalBinary()
	if err != nil {
		return mft.FileReference{}, newError(ErrInvalidArgument, dir.Reference(), "file name %q: %v", name, err)
	}
	entry, err := ix.Find(ctx, key)
	if err != nil {
		return mft.FileReference{}, err
	}
	if entry == nil {
		return mft.FileReference{}, newError(ErrNotFound, dir.Reference(), "no entry %q", name)
	}
	return entry.FileReference(), nil
}

// Link gives f the name name inside dir and persists both.
//
// A $FILE_NAME attribute, freshened from f's metadata, is added to f, the
// matching entry is added to dir's $I30 index and f's hard link count is
// incremented.
//
// Returns ErrAlreadyExists if dir already has an entry with that name.
func (fs *FileSystem) Link(ctx context.Context, dir, f *File, name string) error {
	if err := fs.link(ctx, dir, f, name); err != nil {
		return err
	}
	if err := f.Persist(ctx); err != nil {
		return err
	}
	return dir.Persist(ctx)
}

func (fs *FileSystem) link(ctx context.Context, dir, f *File, name string) error {
	if !dir.IsDirectory() {
		return newError(ErrInvalidArgument, dir.Reference(), "not a directory")
	}
	ix, err := dir.GetIndex(ctx, DirectoryIndexName)
	if err != nil {
		return err
	}

	fn := &FileName{ParentDirectory: dir.Reference(), Namespace: NamespaceWin32, Name: name}
	if err := f.FreshenFileName(ctx, fn, false); err != nil {
		return err
	}
	entry, err := FileNameIndexEntry(fn, f.Reference())
	if err != nil {
		return newError(ErrInvalidArgument, f.Reference(), "file name %q: %v", name, err)
	}

	id, err := f.AddFileName(ctx, fn)
	if err != nil {
		return err
	}
	if err := ix.Add(ctx, entry); err != nil {
		if rmErr := f.RemoveAttribute(ctx, id); rmErr != nil {
			logger.Warn("[NTFS] file %s: failed to drop name %q after failed link: %v", f.Reference(), name, rmErr)
		}
		return err
	}
	f.SetHardLinkCount(f.HardLinkCount() + 1)

	logger.Debug("[NTFS] linked %s as %q in %s", f.Reference(), name, dir.Reference())
	return nil
}

// Unlink removes the name name of f from dir and persists both.
//
// The index entry and the $FILE_NAME attribute are removed and the hard
// link count decremented. The file itself survives; call File.Delete once
// its count reaches zero.
//
// Returns ErrNotFound if dir has no entry name pointing at f.
func (fs *FileSystem) Unlink(ctx context.Context, dir, f *File, name string) error {
	ix, err := dir.GetIndex(ctx, DirectoryIndexName)
	if err != nil {
		return err
	}

	_, fileNames, err := f.fileNames(ctx)
	if err != nil {
		return err
	}
	var fn *FileName
	for _, candidate := range fileNames {
		if candidate.ParentDirectory == dir.Reference() && fs.names.CompareNames(candidate.Name, name) == 0 {
			fn = candidate
			break
		}
	}
	if fn == nil {
		return newError(ErrNotFound, f.Reference(), "no name %q in %s", name, dir.Reference())
	}
	key, err := fn.MarshalBinary()
	if err != nil {
		return newError(ErrInvalidArgument, f.Reference(), "file name %q: %v", name, err)
	}

	removed, err := ix.Remove(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		return newError(ErrNotFound, dir.Reference(), "no entry %q", name)
	}
	if err := f.RemoveFileName(ctx, fn); err != nil {
		return err
	}
	if n := f.HardLinkCount(); n > 0 {
		f.SetHardLinkCount(n - 1)
	}

	if err := f.Persist(ctx); err != nil {
		return err
	}
	if err := dir.Persist(ctx); err != nil {
		return err
	}
	logger.Debug("[NTFS] unlinked %q from %s", name, dir.Reference())
	return nil
}

package ntfs

import (
	"context"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// PathSeparator joins the components of composed names.
const PathSeparator = `\`

// maxPathDepth bounds name composition on volumes with cyclic parent links.
const maxPathDepth = 256

func joinPath(parent, name string) string {
	return parent + PathSeparator + name
}

// fileNames decodes every $FILE_NAME attribute together with its handle.
func (f *File) fileNames(ctx context.Context) ([]*Attribute, []*FileName, error) {
	attrs, err := f.GetAttributes(ctx, mft.AttributeFileName)
	if err != nil {
		return nil, nil, err
	}
	names := make([]*FileName, len(attrs))
	for i, a := range attrs {
		if names[i], err = decodeContent[FileName](a); err != nil {
			return nil, nil, err
		}
	}
	return attrs, names, nil
}

// Names returns every path naming the file.
//
// The root directory has a single empty name. Any other file contributes,
// for each of its $FILE_NAME attributes, one path per name of the parent
// directory, so a file with two links under a directory that itself has two
// names has four paths.
func (f *File) Names(ctx context.Context) ([]string, error) {
	return f.names(ctx, 0)
}

func (f *File) names(ctx context.Context, depth int) ([]string, error) {
	if f.record.Index == mft.RecordRootDirectory {
		return []string{""}, nil
	}
	if depth > maxPathDepth {
		return nil, newError(ErrCorrupt, f.Reference(), "parent chain deeper than %d", maxPathDepth)
	}

	_, fileNames, err := f.fileNames(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, fn := range fileNames {
		parent, err := f.fs.GetDirectoryByRef(ctx, fn.ParentDirectory)
		if err != nil {
			return nil, err
		}
		parentNames, err := parent.names(ctx, depth+1)
		if err != nil {
			return nil, err
		}
		for _, p := range parentNames {
			out = append(out, joinPath(p, fn.Name))
		}
	}
	return out, nil
}

// CanonicalName returns a single path for the file, built from the first
// $FILE_NAME at each level. Returns "" for the root directory and for files
// with no name.
func (f *File) CanonicalName(ctx context.Context) (string, error) {
	return f.canonicalName(ctx, 0)
}

func (f *File) canonicalName(ctx context.Context, depth int) (string, error) {
	if f.record.Index == mft.RecordRootDirectory {
		return "", nil
	}
	if depth > maxPathDepth {
		return "", newError(ErrCorrupt, f.Reference(), "parent chain deeper than %d", maxPathDepth)
	}

	a, err := f.FindAttribute(ctx, mft.AttributeFileName, "")
	if err != nil || a == nil {
		return "", err
	}
	fn, err := decodeContent[FileName](a)
	if err != nil {
		return "", err
	}
	parent, err := f.fs.GetDirectoryByRef(ctx, fn.ParentDirectory)
	if err != nil {
		return "", err
	}
	parentName, err := parent.canonicalName(ctx, depth+1)
	if err != nil {
		return "", err
	}
	return joinPath(parentName, fn.Name), nil
}

// GetFileNameRecord returns a copy of one of the file's $FILE_NAME payloads.
//
// With an empty name the first file name is returned, or a blank record if
// the file has none yet (as during creation). Otherwise the file name equal
// to name under the volume's case-insensitive collation is returned.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: Name to look for, "" for the first
//   - freshen: Refresh timestamps, flags and sizes in the copy (see
//     FreshenFileName); the attribute itself is not updated
//
// Returns ErrNotFound if a non-empty name matches no file name.
func (f *File) GetFileNameRecord(ctx context.Context, name string, freshen bool) (*FileName, error) {
	_, fileNames, err := f.fileNames(ctx)
	if err != nil {
		return nil, err
	}

	var found *FileName
	switch {
	case name == "" && len(fileNames) == 0:
		found = &FileName{}
	case name == "":
		found = fileNames[0]
	default:
		for _, fn := range fileNames {
			if f.fs.names.CompareNames(fn.Name, name) == 0 {
				found = fn
				break
			}
		}
		if found == nil {
			return nil, newError(ErrNotFound, f.Reference(), "no file name %q", name)
		}
	}

	if freshen {
		if err := f.FreshenFileName(ctx, found, false); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// FreshenFileName refreshes rec from the file's authoritative metadata.
//
// Timestamps and attribute flags are copied from $STANDARD_INFORMATION; the
// directory flag is added for directories since $STANDARD_INFORMATION never
// carries it. If the file is dirty and ctx carries a transaction, the change
// time is the transaction timestamp. Sizes come from the unnamed $DATA
// attribute when there is one.
//
// With writeBack set, every $FILE_NAME attribute naming the same link as rec
// (same parent, namespace and name) is overwritten with it.
func (f *File) FreshenFileName(ctx context.Context, rec *FileName, writeBack bool) error {
	siAttr, err := f.FindAttribute(ctx, mft.AttributeStandardInformation, "")
	if err != nil {
		return err
	}
	if siAttr != nil {
		si, err := decodeContent[StandardInformation](siAttr)
		if err != nil {
			return err
		}
		rec.CreationTime = si.CreationTime
		rec.ModificationTime = si.ModificationTime
		rec.MftChangeTime = si.MftChangeTime
		rec.LastAccessTime = si.LastAccessTime
		rec.Flags = si.FileAttributes
	}
	if f.IsDirectory() {
		rec.Flags |= FileAttributeDirectory
	}
	if tx, ok := TransactionFromContext(ctx); ok && f.dirty {
		rec.MftChangeTime = truncateFiletime(tx.Timestamp)
	}

	data, err := f.FindAttribute(ctx, mft.AttributeData, "")
	if err != nil {
		return err
	}
	if data != nil {
		rec.RealSize = data.Length()
		rec.AllocatedSize = data.AllocatedLength()
	}

	if !writeBack {
		return nil
	}

	attrs, fileNames, err := f.fileNames(ctx)
	if err != nil {
		return err
	}
	content, err := rec.MarshalBinary()
	if err != nil {
		return newError(ErrInvalidArgument, f.Reference(), "encode file name: %v", err)
	}
	for i, fn := range fileNames {
		if !fn.SameLink(rec) {
			continue
		}
		if err := attrs[i].replace(content); err != nil {
			return err
		}
	}
	return nil
}

// AddFileName attaches a $FILE_NAME attribute holding rec. The hard link
// count is left to the caller.
func (f *File) AddFileName(ctx context.Context, rec *FileName) (uint16, error) {
	if rec.Name == "" {
		return 0, newError(ErrInvalidArgument, f.Reference(), "empty file name")
	}
	id, err := f.CreateAttribute(ctx, mft.AttributeFileName, "")
	if err != nil {
		return 0, err
	}
	if err := f.SetAttributeContent(ctx, id, rec); err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveFileName removes the $FILE_NAME attribute naming the same link as
// rec. The hard link count is left to the caller.
//
// Returns ErrNotFound if no file name matches.
func (f *File) RemoveFileName(ctx context.Context, rec *FileName) error {
	attrs, fileNames, err := f.fileNames(ctx)
	if err != nil {
		return err
	}
	for i, fn := range fileNames {
		if fn.SameLink(rec) {
			return f.removeAttribute(attrs[i])
		}
	}
	return newError(ErrNotFound, f.Reference(), "no file name %q under %s", rec.Name, rec.ParentDirectory)
}

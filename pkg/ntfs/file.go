package ntfs

import (
	"context"
	"encoding"
	"errors"
	"fmt"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// File is the logical view of one file: its base record, the extension
// records an attribute list points into, and identity caches of the
// attribute and index handles handed out so far.
//
// Mutations change the in-memory records and mark the file dirty; nothing
// reaches the table until Persist, which also packs the base record so it
// fits the table's fixed record size.
//
// Thread Safety:
// A File is not safe for concurrent mutation. Callers serialize every
// sequence of mutations and the Persist that follows them, typically with a
// per-file or volume-wide lock.
type File struct {
	fs     *FileSystem
	record *mft.FileRecord

	// extensions holds extension records loaded through the attribute list.
	extensions      map[uint64]*mft.FileRecord
	dirtyExtensions map[uint64]struct{}

	attributes map[attributeKey]*Attribute
	indexes    map[string]*Index

	dirty bool
}

// attributeKey identifies an attribute within a file. Ids are only unique
// within their hosting record.
type attributeKey struct {
	record uint64
	id     uint16
}

// resolvedAttribute is one attribute located by the resolver.
type resolvedAttribute struct {
	host   *mft.FileRecord
	record *mft.AttributeRecord
}

func newFile(fs *FileSystem, record *mft.FileRecord) *File {
	return &File{
		fs:              fs,
		record:          record,
		extensions:      make(map[uint64]*mft.FileRecord),
		dirtyExtensions: make(map[uint64]struct{}),
		attributes:      make(map[attributeKey]*Attribute),
		indexes:         make(map[string]*Index),
	}
}

// Reference returns the file reference (record index and sequence number).
func (f *File) Reference() mft.FileReference {
	return f.record.Reference()
}

// BaseRecord returns the in-memory base record.
func (f *File) BaseRecord() *mft.FileRecord {
	return f.record
}

// FileSystem returns the file system the file belongs to.
func (f *File) FileSystem() *FileSystem {
	return f.fs
}

// IsDirectory reports whether the base record is flagged as a directory.
func (f *File) IsDirectory() bool {
	return f.record.IsDirectory()
}

// HardLinkCount returns the number of directory entries naming the file.
func (f *File) HardLinkCount() uint16 {
	return f.record.HardLinkCount
}

// SetHardLinkCount updates the hard link count and marks the file dirty.
func (f *File) SetHardLinkCount(n uint16) {
	if f.record.HardLinkCount == n {
		return
	}
	f.record.HardLinkCount = n
	f.dirty = true
}

// IsDirty reports whether the base record has unpersisted changes.
func (f *File) IsDirty() bool {
	return f.dirty
}

// MarkDirty flags the base record as changed.
func (f *File) MarkDirty() {
	f.dirty = true
}

// touch marks the record hosting a changed attribute dirty.
func (f *File) touch(host *mft.FileRecord) {
	if host == f.record {
		f.dirty = true
		return
	}
	f.dirtyExtensions[host.Index] = struct{}{}
}

func (f *File) String() string {
	return f.Reference().String()
}

// ============================================================================
// Attribute resolution
// ============================================================================

// resolveAttributes returns the attributes that logically belong to the file,
// in record order.
//
// Without an attribute list these are the base record's own attributes. With
// one, the list is authoritative: the list attribute itself comes first,
// followed by every listed attribute looked up in its hosting record. Remote
// records are fetched from the table on first use and kept for the life of
// the File, so there is a single in-memory copy of each.
func (f *File) resolveAttributes(ctx context.Context) ([]resolvedAttribute, error) {
	listRecord := f.record.FirstAttribute(mft.AttributeAttributeList, "")
	if listRecord == nil {
		out := make([]resolvedAttribute, len(f.record.Attributes))
		for i, a := range f.record.Attributes {
			out[i] = resolvedAttribute{host: f.record, record: a}
		}
		return out, nil
	}

	list, err := f.attributeList(listRecord)
	if err != nil {
		return nil, err
	}

	out := make([]resolvedAttribute, 0, len(list.Entries)+1)
	out = append(out, resolvedAttribute{host: f.record, record: listRecord})
	for _, entry := range list.Entries {
		if entry.BaseRecord.Index == f.record.Index && entry.AttributeID == listRecord.ID {
			continue
		}
		host, err := f.hostRecord(ctx, entry.BaseRecord)
		if err != nil {
			return nil, err
		}
		a := host.GetAttribute(entry.AttributeID)
		if a == nil {
			return nil, newError(ErrCorrupt, f.Reference(), "attribute list names attribute %d of record %s, which does not exist", entry.AttributeID, entry.BaseRecord)
		}
		out = append(out, resolvedAttribute{host: host, record: a})
	}
	return out, nil
}

func (f *File) attributeList(listRecord *mft.AttributeRecord) (*AttributeList, error) {
	data, err := f.handle(f.record, listRecord).content()
	if err != nil {
		return nil, err
	}
	list := &AttributeList{}
	if err := list.UnmarshalBinary(data); err != nil {
		return nil, corruptError(f.Reference(), err, "attribute list")
	}
	return list, nil
}

// hostRecord returns the record identified by ref: the base record itself
// or a (cached) extension record.
func (f *File) hostRecord(ctx context.Context, ref mft.FileReference) (*mft.FileRecord, error) {
	if ref.Index == f.record.Index {
		return f.record, nil
	}
	if rec, ok := f.extensions[ref.Index]; ok {
		return rec, nil
	}

	rec, err := f.fs.table.GetRecord(ctx, ref)
	if err != nil {
		if errors.Is(err, mft.ErrRecordNotFound) || errors.Is(err, mft.ErrStaleReference) {
			return nil, corruptError(f.Reference(), err, "extension record %s", ref)
		}
		return nil, fmt.Errorf("failed to load extension record %s: %w", ref, err)
	}
	f.extensions[ref.Index] = rec
	return rec, nil
}

// updateAttributeList applies fn to the attribute list, if the file has one,
// and writes the result back.
func (f *File) updateAttributeList(fn func(*AttributeList)) error {
	listRecord := f.record.FirstAttribute(mft.AttributeAttributeList, "")
	if listRecord == nil {
		return nil
	}
	list, err := f.attributeList(listRecord)
	if err != nil {
		return err
	}
	fn(list)
	data, err := list.MarshalBinary()
	if err != nil {
		return err
	}
	return f.handle(f.record, listRecord).replace(data)
}

// ============================================================================
// Handle cache
// ============================================================================

// handle returns the cached handle for an attribute, creating it on first
// use.
func (f *File) handle(host *mft.FileRecord, record *mft.AttributeRecord) *Attribute {
	key := attributeKey{record: host.Index, id: record.ID}
	if a, ok := f.attributes[key]; ok {
		f.fs.metrics.RecordCacheHit("attribute")
		return a
	}
	f.fs.metrics.RecordCacheMiss("attribute")
	a := &Attribute{file: f, host: host, record: record}
	f.attributes[key] = a
	return a
}

// ============================================================================
// Attribute lookup
// ============================================================================

// AllAttributes returns handles for every attribute of the file, in resolver
// order.
func (f *File) AllAttributes(ctx context.Context) ([]*Attribute, error) {
	resolved, err := f.resolveAttributes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Attribute, len(resolved))
	for i, r := range resolved {
		out[i] = f.handle(r.host, r.record)
	}
	return out, nil
}

// GetAttribute returns the attribute with the given id.
//
// Repeated lookups return the same handle. Returns nil, nil if no attribute
// has the id.
func (f *File) GetAttribute(ctx context.Context, id uint16) (*Attribute, error) {
	resolved, err := f.resolveAttributes(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range resolved {
		if r.record.ID == id {
			return f.handle(r.host, r.record), nil
		}
	}
	return nil, nil
}

// FindAttribute returns the first attribute with the given type and name.
//
// Returns nil, nil if there is none.
func (f *File) FindAttribute(ctx context.Context, t mft.AttributeType, name string) (*Attribute, error) {
	resolved, err := f.resolveAttributes(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range resolved {
		if r.record.SameKey(t, name) {
			return f.handle(r.host, r.record), nil
		}
	}
	return nil, nil
}

// GetAttributes returns every unnamed attribute of type t, in resolver order.
func (f *File) GetAttributes(ctx context.Context, t mft.AttributeType) ([]*Attribute, error) {
	resolved, err := f.resolveAttributes(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Attribute
	for _, r := range resolved {
		if r.record.SameKey(t, "") {
			out = append(out, f.handle(r.host, r.record))
		}
	}
	return out, nil
}

func (f *File) requireAttribute(ctx context.Context, id uint16) (*Attribute, error) {
	a, err := f.GetAttribute(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, newError(ErrNotFound, f.Reference(), "no attribute with id %d", id)
	}
	return a, nil
}

// OpenStream opens the content of the attribute with the given type and
// name.
//
// Returns ErrNotFound if the file has no such attribute.
func (f *File) OpenStream(ctx context.Context, t mft.AttributeType, name string, access Access) (*Stream, error) {
	a, err := f.FindAttribute(ctx, t, name)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, newError(ErrNotFound, f.Reference(), "no %s attribute named %q", t, name)
	}
	return a.OpenRaw(access), nil
}

// ============================================================================
// Attribute mutation
// ============================================================================

// CreateAttribute adds an empty, resident attribute to the base record.
//
// The attribute is flagged as indexed when the attribute definitions say its
// type is. If the file has an attribute list, an entry for the new attribute
// is added to it. New attributes always go to the base record: extension
// records are never allocated, so a base record that cannot be packed small
// enough fails at Persist time.
//
// Parameters:
//   - ctx: Context for cancellation
//   - t: Attribute type
//   - name: Attribute name ("" for unnamed)
//
// Returns:
//   - uint16: The new attribute's id
//   - error: ErrNotSupported if the base record has no attribute ids left
func (f *File) CreateAttribute(ctx context.Context, t mft.AttributeType, name string) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	record, err := f.record.CreateAttribute(t, name, f.fs.attrDefs.IsIndexed(t), 0)
	if err != nil {
		return 0, &FileError{Code: ErrNotSupported, Message: "cannot create attribute", Ref: f.Reference(), Err: err}
	}
	f.dirty = true

	if t != mft.AttributeAttributeList {
		entry := AttributeListEntry{Type: t, Name: name, BaseRecord: f.Reference(), AttributeID: record.ID}
		if err := f.updateAttributeList(func(l *AttributeList) { l.Add(entry) }); err != nil {
			f.record.RemoveAttribute(record.ID)
			return 0, err
		}
	}

	logger.Debug("[NTFS] file %s: created attribute %s:%q id=%d", f.Reference(), t, name, record.ID)
	return record.ID, nil
}

// RemoveAttribute removes the attribute with the given id.
//
// The content is truncated to zero first, releasing any clusters, and only
// then is the record removed, so a failure never leaves clusters owned by a
// vanished attribute. Removing an $INDEX_ROOT evicts the cached index handle.
//
// Returns ErrNotFound if there is no attribute with the id.
func (f *File) RemoveAttribute(ctx context.Context, id uint16) error {
	a, err := f.requireAttribute(ctx, id)
	if err != nil {
		return err
	}
	return f.removeAttribute(a)
}

func (f *File) removeAttribute(a *Attribute) error {
	id := a.ID()
	if a.Type() == mft.AttributeIndexRoot {
		delete(f.indexes, a.Name())
	}
	if err := a.setLength(0); err != nil {
		return err
	}

	a.host.RemoveAttribute(id)
	delete(f.attributes, attributeKey{record: a.host.Index, id: id})
	f.touch(a.host)

	if a.Type() != mft.AttributeAttributeList {
		host := a.host.Reference()
		if err := f.updateAttributeList(func(l *AttributeList) { l.Remove(host, id) }); err != nil {
			return err
		}
	}

	logger.Debug("[NTFS] file %s: removed attribute %s", f.Reference(), a)
	return nil
}

// GetAttributeContent decodes the full content of attribute id as a T.
//
// Example:
//
//	si, err := ntfs.GetAttributeContent[ntfs.StandardInformation](ctx, file, id)
func GetAttributeContent[T any, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](ctx context.Context, f *File, id uint16) (*T, error) {
	a, err := f.requireAttribute(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeContent[T, PT](a)
}

func decodeContent[T any, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](a *Attribute) (*T, error) {
	data, err := a.content()
	if err != nil {
		return nil, err
	}
	v := PT(new(T))
	if err := v.UnmarshalBinary(data); err != nil {
		return nil, corruptError(a.file.Reference(), err, "attribute %s content", a)
	}
	return (*T)(v), nil
}

// SetAttributeContent encodes value and replaces the full content of
// attribute id with it, adjusting the length in the same step.
func (f *File) SetAttributeContent(ctx context.Context, id uint16, value encoding.BinaryMarshaler) error {
	a, err := f.requireAttribute(ctx, id)
	if err != nil {
		return err
	}
	data, err := value.MarshalBinary()
	if err != nil {
		return newError(ErrInvalidArgument, f.Reference(), "encode content of attribute %s: %v", a, err)
	}
	return a.replace(data)
}

// MakeAttributeNonResident moves the content of attribute id out of the
// record, carrying over at most maxData bytes (negative for all).
//
// Returns ErrInvalidState if the attribute is already non-resident.
func (f *File) MakeAttributeNonResident(ctx context.Context, id uint16, maxData int) error {
	a, err := f.requireAttribute(ctx, id)
	if err != nil {
		return err
	}
	return a.SetNonResident(true, maxData)
}

// MakeAttributeResident moves the content of attribute id into the record,
// carrying over at most maxData bytes (negative for all).
//
// Returns ErrInvalidState if the attribute is already resident.
func (f *File) MakeAttributeResident(ctx context.Context, id uint16, maxData int) error {
	a, err := f.requireAttribute(ctx, id)
	if err != nil {
		return err
	}
	return a.SetNonResident(false, maxData)
}

// ============================================================================
// Indexes
// ============================================================================

// CreateIndex creates an empty index backed by a new $INDEX_ROOT attribute
// named name and returns its handle.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: Index name, unique within the file ($I30 for directories)
//   - indexedType: Attribute type the index is keyed by, 0 for view indexes
//   - rule: Collation rule ordering the keys
//
// Returns ErrAlreadyExists if the file already has an index with that name.
func (f *File) CreateIndex(ctx context.Context, name string, indexedType mft.AttributeType, rule CollationRule) (*Index, error) {
	existing, err := f.FindAttribute(ctx, mft.AttributeIndexRoot, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, newError(ErrAlreadyExists, f.Reference(), "index %s already exists", name)
	}

	root := &indexRoot{
		indexedType: indexedType,
		collation:   rule,
		bufferSize:  uint32(f.fs.indexBufferSize),
		node:        newLeafNode(),
	}
	if f.fs.volume != nil {
		root.clustersPerNode = uint8(max(1, int64(f.fs.indexBufferSize)/f.fs.volume.ClusterSize()))
	}

	id, err := f.CreateAttribute(ctx, mft.AttributeIndexRoot, name)
	if err != nil {
		return nil, err
	}
	if err := f.SetAttributeContent(ctx, id, root); err != nil {
		return nil, err
	}
	return f.GetIndex(ctx, name)
}

// GetIndex returns the handle of the index with the given name.
//
// Repeated lookups return the same handle until the index root is removed.
// Returns ErrNotFound if the file has no such index.
func (f *File) GetIndex(ctx context.Context, name string) (*Index, error) {
	if ix, ok := f.indexes[name]; ok {
		f.fs.metrics.RecordCacheHit("index")
		return ix, nil
	}
	f.fs.metrics.RecordCacheMiss("index")

	root, err := f.FindAttribute(ctx, mft.AttributeIndexRoot, name)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, newError(ErrNotFound, f.Reference(), "no index named %s", name)
	}
	ix := &Index{file: f, name: name, root: root}
	f.indexes[name] = ix
	return ix, nil
}

package ntfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// DirectoryIndexName is the name of the file name index of a directory.
const DirectoryIndexName = "$I30"

// DefaultIndexBufferSize is the size of one index allocation block.
const DefaultIndexBufferSize = 4096

const (
	indexRootHeaderSize  = 0x10
	indexNodeHeaderSize  = 0x10
	indexEntryHeaderSize = 0x10

	indexBlockMagic       = "INDX"
	indexBlockUSAOffset   = 0x28
	indexBlockNodeOffset  = 0x18
	indexNodeHasChildren  = 0x01
	indexEntryHasChild    = 0x01
	indexEntryIsEnd       = 0x02
	indexEntryFileRefSize = 8
)

// IndexEntry is one key of an index with its associated data.
//
// For indexes over an attribute type (directories index $FILE_NAME), Data is
// the 8-byte reference of the file the key belongs to. View indexes carry
// arbitrary Data.
type IndexEntry struct {
	Key  []byte
	Data []byte

	child    int64
	hasChild bool
	end      bool
}

// FileReference decodes Data as a file reference.
func (e *IndexEntry) FileReference() mft.FileReference {
	if len(e.Data) < indexEntryFileRefSize {
		return mft.FileReference{}
	}
	return mft.NewFileReference(binary.LittleEndian.Uint64(e.Data))
}

// FileNameIndexEntry builds a directory index entry for name pointing at ref.
func FileNameIndexEntry(name *FileName, ref mft.FileReference) (IndexEntry, error) {
	key, err := name.MarshalBinary()
	if err != nil {
		return IndexEntry{}, err
	}
	data := make([]byte, indexEntryFileRefSize)
	binary.LittleEndian.PutUint64(data, ref.Value())
	return IndexEntry{Key: key, Data: data}, nil
}

// indexRoot is the decoded content of an $INDEX_ROOT attribute.
type indexRoot struct {
	indexedType     mft.AttributeType
	collation       CollationRule
	bufferSize      uint32
	clustersPerNode uint8
	node            indexNode
}

// indexNode is the entry list of the root or of one allocation block. The
// last entry is always the end entry.
type indexNode struct {
	entries     []IndexEntry
	hasChildren bool
}

func newLeafNode() indexNode {
	return indexNode{entries: []IndexEntry{{end: true}}}
}

func (n *indexNode) size(fileIndex bool) int {
	size := indexNodeHeaderSize
	for i := range n.entries {
		size += entrySize(&n.entries[i], fileIndex)
	}
	return size
}

// isMinimal reports whether the node holds nothing but the end entry.
func (n *indexNode) isMinimal() bool {
	return len(n.entries) == 1
}

func entrySize(e *IndexEntry, fileIndex bool) int {
	if e.end {
		if e.hasChild {
			return indexEntryHeaderSize + 8
		}
		return indexEntryHeaderSize
	}
	size := indexEntryHeaderSize + len(e.Key)
	if !fileIndex {
		size += len(e.Data)
	}
	size = (size + 7) &^ 7
	if e.hasChild {
		size += 8
	}
	return size
}

func encodeNode(n *indexNode, fileIndex bool, allocated int) []byte {
	le := binary.LittleEndian
	total := n.size(fileIndex)
	buf := make([]byte, total)

	le.PutUint32(buf[0x00:], indexNodeHeaderSize)
	le.PutUint32(buf[0x04:], uint32(total))
	le.PutUint32(buf[0x08:], uint32(max(allocated, total)))
	if n.hasChildren {
		buf[0x0C] = indexNodeHasChildren
	}

	off := indexNodeHeaderSize
	for i := range n.entries {
		e := &n.entries[i]
		size := entrySize(e, fileIndex)
		entry := buf[off : off+size]

		var flags uint16
		if e.hasChild {
			flags |= indexEntryHasChild
			le.PutUint64(entry[size-8:], uint64(e.child))
		}
		if e.end {
			flags |= indexEntryIsEnd
		} else {
			if fileIndex {
				copy(entry[0x00:0x08], e.Data)
			} else {
				le.PutUint16(entry[0x00:], uint16(indexEntryHeaderSize+len(e.Key)))
				le.PutUint16(entry[0x02:], uint16(len(e.Data)))
				copy(entry[indexEntryHeaderSize+len(e.Key):], e.Data)
			}
			le.PutUint16(entry[0x0A:], uint16(len(e.Key)))
			copy(entry[indexEntryHeaderSize:], e.Key)
		}
		le.PutUint16(entry[0x08:], uint16(size))
		le.PutUint16(entry[0x0C:], flags)
		off += size
	}
	return buf
}

func decodeNode(buf []byte, fileIndex bool) (indexNode, error) {
	le := binary.LittleEndian
	if len(buf) < indexNodeHeaderSize {
		return indexNode{}, fmt.Errorf("index node header truncated")
	}
	start := int(le.Uint32(buf[0x00:]))
	end := int(le.Uint32(buf[0x04:]))
	if start < indexNodeHeaderSize || end > len(buf) || start > end {
		return indexNode{}, fmt.Errorf("index node bounds %d..%d outside %d bytes", start, end, len(buf))
	}

	n := indexNode{hasChildren: buf[0x0C]&indexNodeHasChildren != 0}
	for off := start; off < end; {
		if end-off < indexEntryHeaderSize {
			return indexNode{}, fmt.Errorf("index entry truncated at offset %d", off)
		}
		entry := buf[off:end]
		size := int(le.Uint16(entry[0x08:]))
		flags := le.Uint16(entry[0x0C:])
		if size < indexEntryHeaderSize || size > len(entry) {
			return indexNode{}, fmt.Errorf("bad index entry length %d at offset %d", size, off)
		}
		entry = entry[:size]

		e := IndexEntry{end: flags&indexEntryIsEnd != 0, hasChild: flags&indexEntryHasChild != 0}
		if e.hasChild {
			e.child = int64(le.Uint64(entry[size-8:]))
		}
		if !e.end {
			keyLen := int(le.Uint16(entry[0x0A:]))
			if indexEntryHeaderSize+keyLen > size {
				return indexNode{}, fmt.Errorf("index key overruns entry at offset %d", off)
			}
			e.Key = append([]byte(nil), entry[indexEntryHeaderSize:indexEntryHeaderSize+keyLen]...)
			if fileIndex {
				e.Data = append([]byte(nil), entry[0x00:0x08]...)
			} else {
				dataOff := int(le.Uint16(entry[0x00:]))
				dataLen := int(le.Uint16(entry[0x02:]))
				if dataOff+dataLen > size {
					return indexNode{}, fmt.Errorf("index data overruns entry at offset %d", off)
				}
				e.Data = append([]byte(nil), entry[dataOff:dataOff+dataLen]...)
			}
		}
		n.entries = append(n.entries, e)
		off += size
		if e.end {
			break
		}
	}
	if len(n.entries) == 0 || !n.entries[len(n.entries)-1].end {
		return indexNode{}, fmt.Errorf("index node has no end entry")
	}
	return n, nil
}

func (r *indexRoot) fileIndex() bool {
	return r.indexedType != 0
}

func (r *indexRoot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, indexRootHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0x00:], uint32(r.indexedType))
	le.PutUint32(buf[0x04:], uint32(r.collation))
	le.PutUint32(buf[0x08:], r.bufferSize)
	buf[0x0C] = r.clustersPerNode
	return append(buf, encodeNode(&r.node, r.fileIndex(), 0)...), nil
}

func (r *indexRoot) UnmarshalBinary(data []byte) error {
	if len(data) < indexRootHeaderSize {
		return fmt.Errorf("index root is %d bytes, need %d", len(data), indexRootHeaderSize)
	}
	le := binary.LittleEndian
	r.indexedType = mft.AttributeType(le.Uint32(data[0x00:]))
	r.collation = CollationRule(le.Uint32(data[0x04:]))
	r.bufferSize = le.Uint32(data[0x08:])
	r.clustersPerNode = data[0x0C]

	node, err := decodeNode(data[indexRootHeaderSize:], r.fileIndex())
	if err != nil {
		return err
	}
	r.node = node
	return nil
}

// ============================================================================
// Index handle
// ============================================================================

// Index is the live handle of one named index of a file.
//
// The index root lives in the resident $INDEX_ROOT attribute of the same
// name. Once the root is shrunk its entries move into fixed-size blocks of
// the $INDEX_ALLOCATION attribute, tracked by the $BITMAP attribute, and the
// root keeps only an end entry pointing at the first block. Blocks are never
// split: an insertion that overflows a block fails with ErrNotSupported.
type Index struct {
	file *File
	name string
	root *Attribute
}

// Name returns the index name.
func (ix *Index) Name() string {
	return ix.name
}

// Root returns the $INDEX_ROOT attribute backing the index.
func (ix *Index) Root() *Attribute {
	return ix.root
}

func (ix *Index) ref() mft.FileReference {
	return ix.file.Reference()
}

func (ix *Index) readRoot() (*indexRoot, error) {
	data, err := ix.root.content()
	if err != nil {
		return nil, err
	}
	root := &indexRoot{}
	if err := root.UnmarshalBinary(data); err != nil {
		return nil, corruptError(ix.ref(), err, "index %s root", ix.name)
	}
	return root, nil
}

func (ix *Index) writeRoot(root *indexRoot) error {
	data, err := root.MarshalBinary()
	if err != nil {
		return err
	}
	return ix.root.replace(data)
}

// IndexedType returns the attribute type the index is keyed by (0 for view
// indexes).
func (ix *Index) IndexedType() (mft.AttributeType, error) {
	root, err := ix.readRoot()
	if err != nil {
		return 0, err
	}
	return root.indexedType, nil
}

// CollationRule returns the rule ordering the keys.
func (ix *Index) CollationRule() (CollationRule, error) {
	root, err := ix.readRoot()
	if err != nil {
		return 0, err
	}
	return root.collation, nil
}

func (ix *Index) compare(root *indexRoot, a, b []byte) int {
	return root.collation.Compare(ix.file.fs.names, a, b)
}

// ============================================================================
// Allocation blocks
// ============================================================================

func (ix *Index) allocation(ctx context.Context) (*Attribute, error) {
	return ix.file.FindAttribute(ctx, mft.AttributeIndexAllocation, ix.name)
}

func (ix *Index) bitmap(ctx context.Context) (*Attribute, error) {
	return ix.file.FindAttribute(ctx, mft.AttributeBitmap, ix.name)
}

func (ix *Index) blockOffset(vcn int64) int64 {
	return vcn * ix.file.fs.volume.ClusterSize()
}

func (ix *Index) readBlock(ctx context.Context, root *indexRoot, vcn int64) (indexNode, error) {
	alloc, err := ix.allocation(ctx)
	if err != nil {
		return indexNode{}, err
	}
	if alloc == nil {
		return indexNode{}, newError(ErrCorrupt, ix.ref(), "index %s references block %d but has no allocation", ix.name, vcn)
	}

	buf := make([]byte, root.bufferSize)
	if _, err := alloc.readAt(buf, ix.blockOffset(vcn)); err != nil {
		return indexNode{}, err
	}
	if string(buf[0:4]) != indexBlockMagic {
		return indexNode{}, newError(ErrCorrupt, ix.ref(), "index %s block %d has bad magic", ix.name, vcn)
	}
	le := binary.LittleEndian
	if _, err := mft.UnprotectSectors(buf, int(le.Uint16(buf[4:])), int(le.Uint16(buf[6:]))); err != nil {
		return indexNode{}, corruptError(ix.ref(), err, "index %s block %d", ix.name, vcn)
	}
	node, err := decodeNode(buf[indexBlockNodeOffset:], root.fileIndex())
	if err != nil {
		return indexNode{}, corruptError(ix.ref(), err, "index %s block %d", ix.name, vcn)
	}
	return node, nil
}

func (ix *Index) blockCapacity(root *indexRoot) int {
	usaEnd := indexBlockUSAOffset + 2*mft.UpdateSequenceCount(int(root.bufferSize))
	return int(root.bufferSize) - ((usaEnd + 7) &^ 7)
}

func (ix *Index) writeBlock(ctx context.Context, root *indexRoot, vcn int64, node *indexNode) error {
	if node.size(root.fileIndex())-indexNodeHeaderSize > ix.blockCapacity(root) {
		return newError(ErrNotSupported, ix.ref(), "index %s block %d is full and node splitting is not supported", ix.name, vcn)
	}
	alloc, err := ix.allocation(ctx)
	if err != nil {
		return err
	}

	le := binary.LittleEndian
	size := int(root.bufferSize)
	usaCount := mft.UpdateSequenceCount(size)
	nodeStart := (indexBlockUSAOffset + 2*usaCount + 7) &^ 7

	buf := make([]byte, size)
	copy(buf[0:], indexBlockMagic)
	le.PutUint16(buf[4:], indexBlockUSAOffset)
	le.PutUint16(buf[6:], uint16(usaCount))
	le.PutUint64(buf[0x10:], uint64(vcn))

	encoded := encodeNode(node, root.fileIndex(), size-indexBlockNodeOffset)
	// Entry offsets are relative to the node header, which sits before the
	// update sequence array in a block.
	shift := nodeStart - indexBlockNodeOffset - indexNodeHeaderSize
	le.PutUint32(encoded[0x00:], uint32(indexNodeHeaderSize+shift))
	le.PutUint32(encoded[0x04:], le.Uint32(encoded[0x04:])+uint32(shift))
	copy(buf[indexBlockNodeOffset:], encoded[:indexNodeHeaderSize])
	copy(buf[nodeStart:], encoded[indexNodeHeaderSize:])

	protectIndexBlock(buf)
	_, err = alloc.writeAt(buf, ix.blockOffset(vcn))
	return err
}

func protectIndexBlock(buf []byte) {
	le := binary.LittleEndian
	usn := le.Uint16(buf[indexBlockUSAOffset:]) + 1
	if usn == 0 {
		usn = 1
	}
	mft.ProtectSectors(buf, indexBlockUSAOffset, usn)
}

// allocateBlock reserves a free block, creating the allocation and bitmap
// attributes on first use, and returns its VCN.
func (ix *Index) allocateBlock(ctx context.Context, root *indexRoot) (int64, error) {
	vol, err := ix.file.fs.requireVolume(ix.ref())
	if err != nil {
		return 0, err
	}
	if int64(root.bufferSize) < vol.ClusterSize() {
		return 0, newError(ErrNotSupported, ix.ref(), "index block size %d below cluster size %d", root.bufferSize, vol.ClusterSize())
	}

	alloc, err := ix.allocation(ctx)
	if err != nil {
		return 0, err
	}
	if alloc == nil {
		id, err := ix.file.CreateAttribute(ctx, mft.AttributeIndexAllocation, ix.name)
		if err != nil {
			return 0, err
		}
		if err := ix.file.MakeAttributeNonResident(ctx, id, 0); err != nil {
			return 0, err
		}
		if alloc, err = ix.file.GetAttribute(ctx, id); err != nil {
			return 0, err
		}
	}

	bm, err := ix.bitmap(ctx)
	if err != nil {
		return 0, err
	}
	if bm == nil {
		id, err := ix.file.CreateAttribute(ctx, mft.AttributeBitmap, ix.name)
		if err != nil {
			return 0, err
		}
		if bm, err = ix.file.GetAttribute(ctx, id); err != nil {
			return 0, err
		}
	}

	bits, err := bm.content()
	if err != nil {
		return 0, err
	}
	block := 0
	for ; block < 8*len(bits); block++ {
		if bits[block/8]&(1<<(block%8)) == 0 {
			break
		}
	}
	if block/8 >= len(bits) {
		// Bitmaps grow eight bytes at a time.
		bits = append(bits, make([]byte, 8)...)
	}
	bits[block/8] |= 1 << (block % 8)
	if err := bm.replace(bits); err != nil {
		return 0, err
	}

	end := int64(block+1) * int64(root.bufferSize)
	if int64(alloc.Length()) < end {
		if err := alloc.setLength(end); err != nil {
			return 0, err
		}
	}
	return int64(block) * int64(root.bufferSize) / vol.ClusterSize(), nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// ShrinkRoot moves every entry of the root into a new allocation block,
// leaving the root with a single end entry pointing at it.
//
// Returns false, without changing anything, when the root is already at its
// minimum size (header plus one end entry).
func (ix *Index) ShrinkRoot(ctx context.Context) (bool, error) {
	root, err := ix.readRoot()
	if err != nil {
		return false, err
	}
	if root.node.isMinimal() {
		return false, nil
	}
	if root.node.hasChildren {
		// Non-leaf roots would need their children re-parented under a new
		// block level.
		return false, nil
	}

	vcn, err := ix.allocateBlock(ctx, root)
	if err != nil {
		return false, err
	}
	if err := ix.writeBlock(ctx, root, vcn, &root.node); err != nil {
		return false, err
	}

	moved := len(root.node.entries) - 1
	root.node = indexNode{
		entries:     []IndexEntry{{end: true, hasChild: true, child: vcn}},
		hasChildren: true,
	}
	if err := ix.writeRoot(root); err != nil {
		return false, err
	}

	logger.Debug("[NTFS] file %s: index %s root shrunk, %d entries moved to block %d", ix.ref(), ix.name, moved, vcn)
	return true, nil
}

// ============================================================================
// Entries
// ============================================================================

// Add inserts entry in key order.
//
// Returns ErrAlreadyExists if an equal key is present and ErrNotSupported if
// the target block is full.
func (ix *Index) Add(ctx context.Context, entry IndexEntry) error {
	root, err := ix.readRoot()
	if err != nil {
		return err
	}
	if root.fileIndex() && len(entry.Data) != indexEntryFileRefSize {
		return newError(ErrInvalidArgument, ix.ref(), "index %s entries carry an %d-byte file reference", ix.name, indexEntryFileRefSize)
	}
	entry.end, entry.hasChild, entry.child = false, false, 0

	inserted, err := ix.insert(ctx, root, &root.node, entry)
	if err != nil {
		return err
	}
	if inserted {
		return ix.writeRoot(root)
	}
	return nil
}

// insert places entry into node or below it. It reports whether node itself
// changed; changes to blocks below are written directly.
func (ix *Index) insert(ctx context.Context, root *indexRoot, node *indexNode, entry IndexEntry) (bool, error) {
	pos := sort.Search(len(node.entries), func(i int) bool {
		e := &node.entries[i]
		return e.end || ix.compare(root, e.Key, entry.Key) >= 0
	})
	at := &node.entries[pos]
	if !at.end && ix.compare(root, at.Key, entry.Key) == 0 {
		return false, newError(ErrAlreadyExists, ix.ref(), "index %s already holds the key", ix.name)
	}

	if at.hasChild {
		child, err := ix.readBlock(ctx, root, at.child)
		if err != nil {
			return false, err
		}
		changed, err := ix.insert(ctx, root, &child, entry)
		if err != nil || !changed {
			return false, err
		}
		return false, ix.writeBlock(ctx, root, at.child, &child)
	}

	node.entries = append(node.entries, IndexEntry{})
	copy(node.entries[pos+1:], node.entries[pos:])
	node.entries[pos] = entry
	return true, nil
}

// Remove deletes the entry with the given key. It reports whether an entry
// was removed.
func (ix *Index) Remove(ctx context.Context, key []byte) (bool, error) {
	root, err := ix.readRoot()
	if err != nil {
		return false, err
	}
	removed, changed, err := ix.remove(ctx, root, &root.node, key)
	if err != nil || !removed {
		return false, err
	}
	if changed {
		if err := ix.writeRoot(root); err != nil {
			return false, err
		}
	}
	return true, nil
}

// remove reports whether the key was found and whether node itself changed.
// Child blocks are written in place.
func (ix *Index) remove(ctx context.Context, root *indexRoot, node *indexNode, key []byte) (removed, changed bool, err error) {
	for i := range node.entries {
		e := &node.entries[i]
		cmp := 1
		if !e.end {
			cmp = ix.compare(root, e.Key, key)
		}
		if cmp == 0 {
			if e.hasChild {
				return false, false, newError(ErrNotSupported, ix.ref(), "removing interior keys of index %s is not supported", ix.name)
			}
			node.entries = append(node.entries[:i], node.entries[i+1:]...)
			return true, true, nil
		}
		if cmp > 0 {
			if !e.hasChild {
				return false, false, nil
			}
			child, err := ix.readBlock(ctx, root, e.child)
			if err != nil {
				return false, false, err
			}
			removed, childChanged, err := ix.remove(ctx, root, &child, key)
			if err != nil || !removed {
				return false, false, err
			}
			if childChanged {
				if err := ix.writeBlock(ctx, root, e.child, &child); err != nil {
					return false, false, err
				}
			}
			return true, false, nil
		}
	}
	return false, false, nil
}

// Find returns the entry with the given key, or nil.
func (ix *Index) Find(ctx context.Context, key []byte) (*IndexEntry, error) {
	root, err := ix.readRoot()
	if err != nil {
		return nil, err
	}
	node := root.node
	for {
		var next *IndexEntry
		for i := range node.entries {
			e := &node.entries[i]
			cmp := 1
			if !e.end {
				cmp = ix.compare(root, e.Key, key)
			}
			if cmp == 0 {
				found := *e
				found.hasChild, found.child = false, 0
				return &found, nil
			}
			if cmp > 0 {
				next = e
				break
			}
		}
		if next == nil || !next.hasChild {
			return nil, nil
		}
		if node, err = ix.readBlock(ctx, root, next.child); err != nil {
			return nil, err
		}
	}
}

// Entries returns every entry in key order.
func (ix *Index) Entries(ctx context.Context) ([]IndexEntry, error) {
	root, err := ix.readRoot()
	if err != nil {
		return nil, err
	}
	var out []IndexEntry
	err = ix.walk(ctx, root, &root.node, 0, func(e IndexEntry) {
		out = append(out, e)
	})
	return out, err
}

// Count returns the number of entries.
func (ix *Index) Count(ctx context.Context) (int, error) {
	entries, err := ix.Entries(ctx)
	return len(entries), err
}

// maxIndexDepth bounds traversal of corrupt, cyclic block pointers.
const maxIndexDepth = 32

func (ix *Index) walk(ctx context.Context, root *indexRoot, node *indexNode, depth int, fn func(IndexEntry)) error {
	if depth > maxIndexDepth {
		return newError(ErrCorrupt, ix.ref(), "index %s deeper than %d levels", ix.name, maxIndexDepth)
	}
	for _, e := range node.entries {
		if e.hasChild {
			child, err := ix.readBlock(ctx, root, e.child)
			if err != nil {
				return err
			}
			if err := ix.walk(ctx, root, &child, depth+1, fn); err != nil {
				return err
			}
		}
		if !e.end {
			e.hasChild, e.child = false, 0
			fn(e)
		}
	}
	return nil
}

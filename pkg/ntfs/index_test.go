package ntfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ulongKey(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func keysOf(entries []IndexEntry) []uint32 {
	out := make([]uint32, len(entries))
	for i, e := range entries {
		out[i] = binary.LittleEndian.Uint32(e.Key)
	}
	return out
}

func createViewIndex(t *testing.T, env *testEnv) (*File, *Index) {
	t.Helper()
	f := createTestFile(t, env.fs)
	ix, err := f.CreateIndex(context.Background(), "$O", 0, CollationUnsignedLong)
	require.NoError(t, err)
	return f, ix
}

func TestIndex_Create(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f, ix := createViewIndex(t, env)

	assert.Equal(t, "$O", ix.Name())
	indexedType, err := ix.IndexedType()
	require.NoError(t, err)
	assert.Equal(t, mft.AttributeType(0), indexedType)
	rule, err := ix.CollationRule()
	require.NoError(t, err)
	assert.Equal(t, CollationUnsignedLong, rule)

	same, err := f.GetIndex(ctx, "$O")
	require.NoError(t, err)
	assert.Same(t, ix, same)

	_, err = f.CreateIndex(ctx, "$O", 0, CollationUnsignedLong)
	assert.True(t, IsAlreadyExists(err))

	_, err = f.GetIndex(ctx, "$Q")
	assert.True(t, IsNotFound(err))

	count, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndex_AddFindRemove(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, ix := createViewIndex(t, env)

	for _, k := range []uint32{30, 10, 20} {
		require.NoError(t, ix.Add(ctx, IndexEntry{Key: ulongKey(k), Data: []byte{byte(k)}}))
	}
	err := ix.Add(ctx, IndexEntry{Key: ulongKey(20), Data: []byte{0}})
	assert.True(t, IsAlreadyExists(err))

	entries, err := ix.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 20, 30}, keysOf(entries))

	e, err := ix.Find(ctx, ulongKey(20))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte{20}, e.Data)

	e, err = ix.Find(ctx, ulongKey(25))
	require.NoError(t, err)
	assert.Nil(t, e)

	removed, err := ix.Remove(ctx, ulongKey(10))
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = ix.Remove(ctx, ulongKey(10))
	require.NoError(t, err)
	assert.False(t, removed)

	entries, err = ix.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{20, 30}, keysOf(entries))
}

func TestIndex_ShrinkRoot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f, ix := createViewIndex(t, env)

	shrunk, err := ix.ShrinkRoot(ctx)
	require.NoError(t, err)
	assert.False(t, shrunk, "an empty root is already minimal")

	for k := uint32(1); k <= 5; k++ {
		require.NoError(t, ix.Add(ctx, IndexEntry{Key: ulongKey(k * 10), Data: []byte("payload")}))
	}
	rootBefore := ix.Root().Length()

	shrunk, err = ix.ShrinkRoot(ctx)
	require.NoError(t, err)
	assert.True(t, shrunk)
	assert.Less(t, ix.Root().Length(), rootBefore)

	shrunk, err = ix.ShrinkRoot(ctx)
	require.NoError(t, err)
	assert.False(t, shrunk)

	bitmap, err := f.FindAttribute(ctx, mft.AttributeBitmap, "$O")
	require.NoError(t, err)
	require.NotNil(t, bitmap)
	bits, err := bitmap.OpenRaw(AccessRead).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, byte(1), bits[0]&1)

	// Entries now live in the allocation block.
	require.NoError(t, ix.Add(ctx, IndexEntry{Key: ulongKey(25), Data: []byte("late")}))
	removed, err := ix.Remove(ctx, ulongKey(40))
	require.NoError(t, err)
	assert.True(t, removed)

	require.NoError(t, f.Persist(ctx))
	reopened, err := env.reopen(t).GetFile(ctx, f.Reference())
	require.NoError(t, err)
	ix, err = reopened.GetIndex(ctx, "$O")
	require.NoError(t, err)

	entries, err := ix.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 20, 25, 30, 50}, keysOf(entries))

	e, err := ix.Find(ctx, ulongKey(25))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("late"), e.Data)
}

func TestIndex_BlockFull(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, ix := createViewIndex(t, env)
	require.NoError(t, ix.Add(ctx, IndexEntry{Key: ulongKey(0), Data: make([]byte, 8)}))
	shrunk, err := ix.ShrinkRoot(ctx)
	require.NoError(t, err)
	require.True(t, shrunk)

	var addErr error
	for k := uint32(1); k < 1000 && addErr == nil; k++ {
		addErr = ix.Add(ctx, IndexEntry{Key: ulongKey(k), Data: make([]byte, 200)})
	}
	assert.True(t, IsNotSupported(addErr))
}

func TestIndex_RemoveIndexRootEvictsHandle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f, ix := createViewIndex(t, env)

	require.NoError(t, f.RemoveAttribute(ctx, ix.Root().ID()))
	_, err := f.GetIndex(ctx, "$O")
	assert.True(t, IsNotFound(err))

	again, err := f.CreateIndex(ctx, "$O", 0, CollationUnsignedLong)
	require.NoError(t, err)
	assert.NotSame(t, ix, again)
}

func TestIndex_FileIndexRequiresReference(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)
	ix, err := root.GetIndex(ctx, DirectoryIndexName)
	require.NoError(t, err)

	key, err := (&FileName{Name: "x"}).MarshalBinary()
	require.NoError(t, err)
	err = ix.Add(ctx, IndexEntry{Key: key, Data: []byte{1, 2, 3}})
	code, _ := ErrorCodeOf(err)
	assert.Equal(t, ErrInvalidArgument, code)
}

func TestDirectory_LinkUnlink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)
	assert.Equal(t, uint16(1), root.HardLinkCount())

	self, err := env.fs.Lookup(ctx, root, ".")
	require.NoError(t, err)
	assert.Equal(t, root.Reference(), self)

	f := createTestFile(t, env.fs)
	require.NoError(t, env.fs.Link(ctx, root, f, "File.txt"))

	ref, err := env.fs.Lookup(ctx, root, "FILE.TXT")
	require.NoError(t, err)
	assert.Equal(t, f.Reference(), ref)

	// Names collide case-insensitively.
	g := createTestFile(t, env.fs)
	err = env.fs.Link(ctx, root, g, "file.txt")
	assert.True(t, IsAlreadyExists(err))
	assert.Equal(t, uint16(0), g.HardLinkCount())
	_, fileNames, err := g.fileNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, fileNames)

	err = env.fs.Link(ctx, f, g, "nope")
	code, _ := ErrorCodeOf(err)
	assert.Equal(t, ErrInvalidArgument, code)

	err = env.fs.Unlink(ctx, root, g, "file.txt")
	assert.True(t, IsNotFound(err))

	require.NoError(t, env.fs.Unlink(ctx, root, f, "file.txt"))
	_, err = env.fs.Lookup(ctx, root, "File.txt")
	assert.True(t, IsNotFound(err))

	_, err = env.fs.CreateRootDirectory(ctx)
	assert.ErrorIs(t, err, mft.ErrRecordInUse)
}

func TestDirectory_UnlinkAfterRootShrink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)

	// Long names fill the record until persisting moves $I30 entries out
	// of the root into an allocation block.
	var (
		last     *File
		lastName string
	)
	for i := 0; ; i++ {
		require.Less(t, i, 32, "root index never shrank")
		alloc, err := root.FindAttribute(ctx, mft.AttributeIndexAllocation, DirectoryIndexName)
		require.NoError(t, err)
		if alloc != nil {
			break
		}
		last = createTestFile(t, env.fs)
		lastName = fmt.Sprintf("quarterly-report-with-a-rather-long-name-%04d.txt", i)
		require.NoError(t, env.fs.Link(ctx, root, last, lastName))
	}
	require.Equal(t, uint16(1), last.HardLinkCount())

	require.NoError(t, env.fs.Unlink(ctx, root, last, lastName))

	_, err := env.fs.Lookup(ctx, root, lastName)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, uint16(0), last.HardLinkCount())
	_, fileNames, err := last.fileNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, fileNames)

	require.NoError(t, last.Delete(ctx))
}

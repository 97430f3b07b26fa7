package ntfs

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_Lifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)
	docs, err := env.fs.CreateDirectory(ctx, root, "docs")
	require.NoError(t, err)
	freeBefore := env.volume.Bitmap().FreeClusters()

	// Create
	f := createTestFile(t, env.fs)
	stored, err := env.table.GetRecord(ctx, f.Reference())
	require.NoError(t, err)
	require.Len(t, stored.Attributes, 3)
	assert.Equal(t, mft.AttributeStandardInformation, stored.Attributes[0].Type)
	assert.Equal(t, mft.AttributeObjectID, stored.Attributes[1].Type)
	assert.Equal(t, mft.AttributeData, stored.Attributes[2].Type)
	assert.Equal(t, uint16(0), stored.HardLinkCount)

	oid, err := GetAttributeContent[ObjectID](ctx, f, stored.Attributes[1].ID)
	require.NoError(t, err)

	// Write 10 MiB
	s, err := f.OpenStream(ctx, mft.AttributeData, "", AccessWrite)
	require.NoError(t, err)
	payload := patternBytes(10 << 20)
	_, err = s.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Persist(ctx))

	data := unnamedData(t, f)
	assert.True(t, data.IsNonResident())
	stored, err = env.table.GetRecord(ctx, f.Reference())
	require.NoError(t, err)
	assert.Less(t, stored.Size(), env.fs.RecordSize())
	assert.Equal(t, uint64(len(payload)), stored.FirstAttribute(mft.AttributeData, "").DataLength)

	// Two hard links
	require.NoError(t, env.fs.Link(ctx, root, f, "report.bin"))
	require.NoError(t, env.fs.Link(ctx, docs, f, "copy.bin"))
	assert.Equal(t, uint16(2), f.HardLinkCount())

	names, err := f.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{`\report.bin`, `\docs\copy.bin`}, names)

	fn, err := f.GetFileNameRecord(ctx, "COPY.BIN", false)
	require.NoError(t, err)
	assert.Equal(t, docs.Reference(), fn.ParentDirectory)
	assert.Equal(t, uint64(len(payload)), fn.RealSize)

	// Delete
	f.SetHardLinkCount(0)
	require.NoError(t, f.Delete(ctx))

	_, err = env.objectIDs.Get(ctx, oid.ObjectID)
	assert.ErrorIs(t, err, mft.ErrObjectIDNotFound)
	allocated, err := env.table.IsAllocated(ctx, f.Reference().Index)
	require.NoError(t, err)
	assert.False(t, allocated)
	_, err = env.fs.GetFile(ctx, f.Reference())
	assert.True(t, IsNotFound(err))
	assert.Equal(t, freeBefore, env.volume.Bitmap().FreeClusters())
}

func TestFile_DeleteWithLinks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)
	f := createTestFile(t, env.fs)
	require.NoError(t, env.fs.Link(ctx, root, f, "keep.txt"))

	before, err := f.AllAttributes(ctx)
	require.NoError(t, err)

	err = f.Delete(ctx)
	assert.True(t, IsInvalidState(err))

	after, err := f.AllAttributes(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, env.objectIDs.Len())

	// Unlinking the last name makes the file deletable.
	require.NoError(t, env.fs.Unlink(ctx, root, f, "keep.txt"))
	assert.Equal(t, uint16(0), f.HardLinkCount())
	require.NoError(t, f.Delete(ctx))
	assert.Equal(t, 0, env.objectIDs.Len())
}

// failingTable rejects every record write.
type failingTable struct {
	mft.Table
}

var errWriteFailed = errors.New("write failed")

func (failingTable) WriteRecord(ctx context.Context, rec *mft.FileRecord) error {
	return errWriteFailed
}

func TestFileSystem_CreateFileRollsBack(t *testing.T) {
	ctx := context.Background()
	table := mft.NewMemoryTable(0, 0)
	objectIDs := mft.NewMemoryObjectIDs()
	fs, err := NewFileSystem(FileSystemConfig{Table: failingTable{table}, ObjectIDs: objectIDs})
	require.NoError(t, err)

	_, err = fs.CreateFile(ctx, 0)
	assert.ErrorIs(t, err, errWriteFailed)
	assert.Equal(t, 0, objectIDs.Len())

	allocated, err := table.IsAllocated(ctx, mft.FirstUserRecord)
	require.NoError(t, err)
	assert.False(t, allocated)
}

func TestFileSystem_CreateFileUsesRandomSource(t *testing.T) {
	ctx := context.Background()
	seed := make([]byte, 16)
	for i := range seed {
		seed[i] = byte(i)
	}
	fs, err := NewFileSystem(FileSystemConfig{
		Table:  mft.NewMemoryTable(0, 0),
		Random: &repeatReader{b: seed},
	})
	require.NoError(t, err)

	f, err := fs.CreateFile(ctx, 0)
	require.NoError(t, err)
	a, err := f.FindAttribute(ctx, mft.AttributeObjectID, "")
	require.NoError(t, err)
	oid, err := GetAttributeContent[ObjectID](ctx, f, a.ID())
	require.NoError(t, err)

	// Version and variant bits are forced by the generator.
	assert.Equal(t, byte(0x00), oid.ObjectID[0])
	assert.Equal(t, byte(0x4), oid.ObjectID[6]>>4)

	// The same id again collides in the object id index.
	_, err = fs.CreateFile(ctx, 0)
	assert.True(t, IsAlreadyExists(err))
}

type repeatReader struct {
	b []byte
}

func (r *repeatReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		n += copy(p[n:], r.b)
	}
	return n, nil
}

func TestNewFileSystem_Validation(t *testing.T) {
	_, err := NewFileSystem(FileSystemConfig{})
	assert.Error(t, err)

	_, err = NewFileSystem(FileSystemConfig{Table: mft.NewMemoryTable(0, 0), IndexBufferSize: 1000})
	assert.Error(t, err)
}

package ntfs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/volume"
	"github.com/stretchr/testify/require"
)

const (
	testClusterSize = 4096
	testVolumeSize  = 32 << 20
)

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 500, time.UTC)

// countingTable counts record writes reaching the table.
type countingTable struct {
	mft.Table
	writes atomic.Int64
}

func (c *countingTable) WriteRecord(ctx context.Context, rec *mft.FileRecord) error {
	c.writes.Add(1)
	return c.Table.WriteRecord(ctx, rec)
}

type testEnv struct {
	fs        *FileSystem
	table     *countingTable
	volume    *volume.Volume
	objectIDs *mft.MemoryObjectIDs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	vol, err := volume.New(volume.NewMemoryDevice(testVolumeSize), testClusterSize)
	require.NoError(t, err)

	env := &testEnv{
		table:     &countingTable{Table: mft.NewMemoryTable(mft.DefaultRecordSize, 0)},
		volume:    vol,
		objectIDs: mft.NewMemoryObjectIDs(),
	}
	env.fs, err = NewFileSystem(FileSystemConfig{
		Table:     env.table,
		Volume:    vol,
		ObjectIDs: env.objectIDs,
		Clock:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return env
}

// reopen returns a file system over the same table and device with empty
// caches.
func (env *testEnv) reopen(t *testing.T) *FileSystem {
	t.Helper()
	fs, err := NewFileSystem(FileSystemConfig{
		Table:     env.table,
		Volume:    env.volume,
		ObjectIDs: env.objectIDs,
		Clock:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return fs
}

func createTestFile(t *testing.T, fs *FileSystem) *File {
	t.Helper()
	f, err := fs.CreateFile(context.Background(), 0)
	require.NoError(t, err)
	return f
}

func createTestRoot(t *testing.T, fs *FileSystem) *File {
	t.Helper()
	root, err := fs.CreateRootDirectory(context.Background())
	require.NoError(t, err)
	return root
}

func unnamedData(t *testing.T, f *File) *Attribute {
	t.Helper()
	a, err := f.FindAttribute(context.Background(), mft.AttributeData, "")
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func patternBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + i/251)
	}
	return buf
}

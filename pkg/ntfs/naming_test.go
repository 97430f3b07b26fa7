package ntfs

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_Names(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)

	names, err := root.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, names)

	// A directory with two names multiplies the paths of its children.
	a, err := env.fs.CreateDirectory(ctx, root, "a")
	require.NoError(t, err)
	require.NoError(t, env.fs.Link(ctx, root, a, "alias"))
	f := createTestFile(t, env.fs)
	require.NoError(t, env.fs.Link(ctx, a, f, "x.txt"))
	require.NoError(t, env.fs.Link(ctx, root, f, "y.txt"))

	names, err = f.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{`\a\x.txt`, `\alias\x.txt`, `\y.txt`}, names)

	canonical, err := f.CanonicalName(ctx)
	require.NoError(t, err)
	assert.Equal(t, `\a\x.txt`, canonical)

	unnamed := createTestFile(t, env.fs)
	canonical, err = unnamed.CanonicalName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", canonical)
	names, err = unnamed.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFile_GetFileNameRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)
	f := createTestFile(t, env.fs)

	blank, err := f.GetFileNameRecord(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, &FileName{}, blank)

	require.NoError(t, env.fs.Link(ctx, root, f, "Readme.md"))

	first, err := f.GetFileNameRecord(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, "Readme.md", first.Name)

	found, err := f.GetFileNameRecord(ctx, "README.MD", false)
	require.NoError(t, err)
	assert.Equal(t, root.Reference(), found.ParentDirectory)
	assert.Equal(t, NamespaceWin32, found.Namespace)

	_, err = f.GetFileNameRecord(ctx, "other.md", false)
	assert.True(t, IsNotFound(err))

	dir, err := env.fs.CreateDirectory(ctx, root, "sub")
	require.NoError(t, err)
	fn, err := dir.GetFileNameRecord(ctx, "sub", true)
	require.NoError(t, err)
	assert.NotZero(t, fn.Flags&FileAttributeDirectory)
}

func TestFile_FreshenFileName(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)
	f := createTestFile(t, env.fs)
	data := unnamedData(t, f)
	require.NoError(t, f.SetAttributeContent(ctx, data.ID(), RawContent(patternBytes(100))))
	require.NoError(t, env.fs.Link(ctx, root, f, "one.txt"))
	require.NoError(t, env.fs.Link(ctx, root, f, "two.txt"))

	siAttr, err := f.FindAttribute(ctx, mft.AttributeStandardInformation, "")
	require.NoError(t, err)
	si, err := decodeContent[StandardInformation](siAttr)
	require.NoError(t, err)
	later := truncateFiletime(testNow.Add(48 * time.Hour))
	si.ModificationTime = later
	require.NoError(t, f.SetAttributeContent(ctx, siAttr.ID(), si))

	for _, name := range []string{"one.txt", "two.txt"} {
		rec, err := f.GetFileNameRecord(ctx, name, false)
		require.NoError(t, err)
		require.NoError(t, f.FreshenFileName(ctx, rec, true))
	}

	_, fileNames, err := f.fileNames(ctx)
	require.NoError(t, err)
	require.Len(t, fileNames, 2)
	for _, fn := range fileNames {
		assert.True(t, fn.ModificationTime.Equal(later), fn.Name)
		assert.Equal(t, uint64(100), fn.RealSize, fn.Name)
	}

	t.Run("SizeChange", func(t *testing.T) {
		require.NoError(t, f.SetAttributeContent(ctx, data.ID(), RawContent(patternBytes(250))))
		rec, err := f.GetFileNameRecord(ctx, "one.txt", false)
		require.NoError(t, err)
		require.NoError(t, f.FreshenFileName(ctx, rec, true))

		one, err := f.GetFileNameRecord(ctx, "one.txt", false)
		require.NoError(t, err)
		two, err := f.GetFileNameRecord(ctx, "two.txt", false)
		require.NoError(t, err)
		assert.Equal(t, uint64(250), one.RealSize)
		assert.Equal(t, uint64(100), two.RealSize)
	})

	t.Run("FreshenWithoutWriteBack", func(t *testing.T) {
		rec, err := f.GetFileNameRecord(ctx, "two.txt", true)
		require.NoError(t, err)
		assert.Equal(t, uint64(250), rec.RealSize)

		stored, err := f.GetFileNameRecord(ctx, "two.txt", false)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), stored.RealSize)
	})

	t.Run("TransactionChangeTime", func(t *testing.T) {
		stamp := testNow.Add(72 * time.Hour)
		txCtx := WithTransaction(ctx, Transaction{Timestamp: stamp})
		require.True(t, f.IsDirty())

		rec, err := f.GetFileNameRecord(txCtx, "one.txt", true)
		require.NoError(t, err)
		assert.True(t, rec.MftChangeTime.Equal(truncateFiletime(stamp)))
	})
}

func TestFile_AddRemoveFileName(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := createTestFile(t, env.fs)
	parent := mft.FileReference{Index: mft.RecordRootDirectory, Sequence: 1}

	_, err := f.AddFileName(ctx, &FileName{ParentDirectory: parent})
	code, _ := ErrorCodeOf(err)
	assert.Equal(t, ErrInvalidArgument, code)

	rec := &FileName{ParentDirectory: parent, Namespace: NamespacePosix, Name: "n"}
	_, err = f.AddFileName(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), f.HardLinkCount())

	other := rec.Clone()
	other.Namespace = NamespaceDos
	assert.True(t, IsNotFound(f.RemoveFileName(ctx, other)))

	require.NoError(t, f.RemoveFileName(ctx, rec))
	_, fileNames, err := f.fileNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, fileNames)
}

package ntfs

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersist_CleanFileWritesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := createTestFile(t, env.fs)

	writes := env.table.writes.Load()
	require.NoError(t, f.Persist(ctx))
	require.NoError(t, f.Persist(ctx))
	assert.Equal(t, writes, env.table.writes.Load())

	f.MarkDirty()
	require.NoError(t, f.Persist(ctx))
	assert.Equal(t, writes+1, env.table.writes.Load())
	assert.False(t, f.IsDirty())
}

func TestPersist_LogsAtDebugLevel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := createTestFile(t, env.fs)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLevel("DEBUG")
	t.Cleanup(func() {
		logger.SetLevel("INFO")
		logger.SetOutput(os.Stdout)
	})

	f.MarkDirty()
	require.NoError(t, f.Persist(ctx))
	assert.Contains(t, buf.String(), "persisted file record")
	assert.Contains(t, buf.String(), f.Reference().String())

	buf.Reset()
	logger.SetLevel("INFO")
	f.MarkDirty()
	require.NoError(t, f.Persist(ctx))
	assert.NotContains(t, buf.String(), "persisted file record")
}

func TestPersist_ConvertsDataFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := createTestFile(t, env.fs)

	// $SECURITY_DESCRIPTOR sorts before $DATA and may be non-resident too.
	sdID, err := f.CreateAttribute(ctx, mft.AttributeSecurityDescriptor, "")
	require.NoError(t, err)
	require.NoError(t, f.SetAttributeContent(ctx, sdID, RawContent(patternBytes(500))))
	data := unnamedData(t, f)
	require.NoError(t, f.SetAttributeContent(ctx, data.ID(), RawContent(patternBytes(500))))
	require.Greater(t, f.BaseRecord().Size(), env.fs.RecordSize())

	require.NoError(t, f.Persist(ctx))

	sd, err := f.GetAttribute(ctx, sdID)
	require.NoError(t, err)
	assert.True(t, data.IsNonResident())
	assert.False(t, sd.IsNonResident())
	assert.LessOrEqual(t, f.BaseRecord().Size(), env.fs.RecordSize())
}

func TestPersist_ConvertsOtherAttributesAfterData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := createTestFile(t, env.fs)

	sdID, err := f.CreateAttribute(ctx, mft.AttributeSecurityDescriptor, "")
	require.NoError(t, err)
	require.NoError(t, f.SetAttributeContent(ctx, sdID, RawContent(patternBytes(900))))

	require.NoError(t, f.Persist(ctx))

	sd, err := f.GetAttribute(ctx, sdID)
	require.NoError(t, err)
	assert.True(t, sd.IsNonResident())
	assert.True(t, unnamedData(t, f).IsNonResident())
	assert.LessOrEqual(t, f.BaseRecord().Size(), env.fs.RecordSize())

	got, err := GetAttributeContent[RawContent](ctx, f, sdID)
	require.NoError(t, err)
	assert.Equal(t, patternBytes(900), []byte(*got))
}

func TestPersist_Unfixable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := createTestFile(t, env.fs)

	// $OBJECT_ID must stay resident, so nothing can shrink it.
	for i := 0; i < 12; i++ {
		id, err := f.CreateAttribute(ctx, mft.AttributeObjectID, string(rune('a'+i)))
		require.NoError(t, err)
		require.NoError(t, f.SetAttributeContent(ctx, id, RawContent(patternBytes(64))))
	}
	writes := env.table.writes.Load()

	err := f.Persist(ctx)
	assert.True(t, IsNotSupported(err))
	assert.True(t, f.IsDirty())
	assert.Equal(t, writes, env.table.writes.Load())
}

func TestPersist_ShrinksIndexRoot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := createTestRoot(t, env.fs)

	names := []string{
		"a-rather-long-file-name-that-takes-up-plenty-of-index-space-0001.txt",
		"a-rather-long-file-name-that-takes-up-plenty-of-index-space-0002.txt",
		"a-rather-long-file-name-that-takes-up-plenty-of-index-space-0003.txt",
		"a-rather-long-file-name-that-takes-up-plenty-of-index-space-0004.txt",
		"a-rather-long-file-name-that-takes-up-plenty-of-index-space-0005.txt",
		"a-rather-long-file-name-that-takes-up-plenty-of-index-space-0006.txt",
		"a-rather-long-file-name-that-takes-up-plenty-of-index-space-0007.txt",
	}
	refs := make(map[string]mft.FileReference)
	for _, name := range names {
		f := createTestFile(t, env.fs)
		require.NoError(t, env.fs.Link(ctx, root, f, name))
		refs[name] = f.Reference()
		assert.LessOrEqual(t, root.BaseRecord().Size(), env.fs.RecordSize())
	}

	alloc, err := root.FindAttribute(ctx, mft.AttributeIndexAllocation, DirectoryIndexName)
	require.NoError(t, err)
	require.NotNil(t, alloc)
	assert.True(t, alloc.IsNonResident())

	fresh, err := env.reopen(t).GetFile(ctx, root.Reference())
	require.NoError(t, err)
	for name, ref := range refs {
		got, err := env.fs.Lookup(ctx, fresh, name)
		require.NoError(t, err)
		assert.Equal(t, ref, got)
	}
}

func TestPersist_StampsTransactionTime(t *testing.T) {
	env := newTestEnv(t)
	f := createTestFile(t, env.fs)

	stamp := testNow.Add(time.Hour)
	ctx := WithTransaction(context.Background(), Transaction{Timestamp: stamp})
	f.MarkDirty()
	require.NoError(t, f.Persist(ctx))

	si, err := GetAttributeContent[StandardInformation](ctx, f, f.BaseRecord().FirstAttribute(mft.AttributeStandardInformation, "").ID)
	require.NoError(t, err)
	assert.True(t, si.MftChangeTime.Equal(truncateFiletime(stamp)))
	assert.True(t, si.ModificationTime.Equal(truncateFiletime(testNow)))
}

func TestPackState_String(t *testing.T) {
	assert.Equal(t, "overflowing", packOverflowing.String())
	assert.Equal(t, "packing", packPacking.String())
	assert.Equal(t, "fit", packFit.String())
	assert.Equal(t, "unfixable", packUnfixable.String())
	assert.Equal(t, "packState(9)", packState(9).String())
}

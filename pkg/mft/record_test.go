package mft

import (
	"bytes"
	"testing"

	"github.com/marmos91/dittofs-ntfs/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRecord_RoundTrip(t *testing.T) {
	rec := NewFileRecord(42, 7, DefaultRecordSize, RecordInUse|RecordIsDirectory)
	rec.HardLinkCount = 2
	rec.BaseRecord = FileReference{Index: 5, Sequence: 5}

	si, err := rec.CreateAttribute(AttributeStandardInformation, "", false, 0)
	require.NoError(t, err)
	si.Data = bytes.Repeat([]byte{0xab}, 72)

	fn, err := rec.CreateAttribute(AttributeFileName, "", true, 0)
	require.NoError(t, err)
	fn.Data = []byte("file name payload")

	data, err := rec.CreateNonResidentAttribute(AttributeData, "stream€", AttributeFlagSparse)
	require.NoError(t, err)
	data.Runs = []volume.Run{{LCN: 100, Length: 8}, {LCN: 20, Length: 300}, {LCN: 70000, Length: 1}}
	data.LastVCN = 308
	data.AllocatedLength = 309 * 4096
	data.DataLength = 309*4096 - 17
	data.InitializedLength = data.DataLength

	buf, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, buf, DefaultRecordSize)

	got := &FileRecord{}
	require.NoError(t, got.UnmarshalBinary(buf))

	assert.Equal(t, rec.Reference(), got.Reference())
	assert.Equal(t, rec.Flags, got.Flags)
	assert.Equal(t, rec.HardLinkCount, got.HardLinkCount)
	assert.Equal(t, rec.BaseRecord, got.BaseRecord)
	assert.Equal(t, rec.NextAttributeID, got.NextAttributeID)
	assert.Equal(t, rec.Size(), got.Size())
	require.Len(t, got.Attributes, 3)

	assert.Equal(t, si.Data, got.Attributes[0].Data)
	assert.True(t, got.Attributes[1].Indexed)
	gotData := got.Attributes[2]
	assert.True(t, gotData.NonResident)
	assert.Equal(t, "stream€", gotData.Name)
	assert.Equal(t, AttributeFlagSparse, gotData.Flags)
	assert.Equal(t, data.Runs, gotData.Runs)
	assert.Equal(t, data.DataLength, gotData.DataLength)
	assert.Equal(t, data.AllocatedLength, gotData.AllocatedLength)
}

func TestFileRecord_SizeLimit(t *testing.T) {
	rec := NewFileRecord(30, 1, DefaultRecordSize, RecordInUse)
	a, err := rec.CreateAttribute(AttributeData, "", false, 0)
	require.NoError(t, err)

	// Header (56 bytes) + resident header (24) + value + end marker (8).
	a.Data = make([]byte, DefaultRecordSize-56-24-8)
	assert.Equal(t, DefaultRecordSize, rec.Size())
	_, err = rec.MarshalBinary()
	require.NoError(t, err)

	a.Data = append(a.Data, 0)
	assert.Greater(t, rec.Size(), DefaultRecordSize)
	_, err = rec.MarshalBinary()
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestFileRecord_TornWriteDetected(t *testing.T) {
	rec := NewFileRecord(30, 1, DefaultRecordSize, RecordInUse)
	buf, err := rec.MarshalBinary()
	require.NoError(t, err)

	buf[sectorSize-1] ^= 0xff
	assert.ErrorIs(t, (&FileRecord{}).UnmarshalBinary(buf), ErrCorruptRecord)
}

func TestFileRecord_AttributeOrdering(t *testing.T) {
	rec := NewFileRecord(30, 1, DefaultRecordSize, RecordInUse)

	create := func(t2 AttributeType, name string) uint16 {
		a, err := rec.CreateAttribute(t2, name, false, 0)
		require.NoError(t, err)
		return a.ID
	}
	dataID := create(AttributeData, "")
	siID := create(AttributeStandardInformation, "")
	namedID := create(AttributeData, "ads")
	fn1 := create(AttributeFileName, "")
	fn2 := create(AttributeFileName, "")

	var ids []uint16
	for _, a := range rec.Attributes {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []uint16{siID, fn1, fn2, dataID, namedID}, ids)

	assert.True(t, rec.RemoveAttribute(fn1))
	assert.False(t, rec.RemoveAttribute(fn1))
	assert.Nil(t, rec.GetAttribute(fn1))
	assert.Equal(t, namedID, rec.FirstAttribute(AttributeData, "ads").ID)
}

func TestFileRecord_AttributeIDsExhausted(t *testing.T) {
	rec := NewFileRecord(30, 1, DefaultRecordSize, RecordInUse)
	rec.NextAttributeID = 0xFFFF

	_, err := rec.CreateAttribute(AttributeData, "", false, 0)
	assert.ErrorIs(t, err, ErrAttributeIDsExhausted)
}

func TestRunList_Encoding(t *testing.T) {
	tests := []struct {
		name string
		runs []volume.Run
	}{
		{name: "empty", runs: nil},
		{name: "single", runs: []volume.Run{{LCN: 1, Length: 1}}},
		{name: "backwards delta", runs: []volume.Run{{LCN: 5000, Length: 16}, {LCN: 12, Length: 4}}},
		{name: "large values", runs: []volume.Run{{LCN: 1 << 40, Length: 1 << 33}, {LCN: 128, Length: 128}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeRuns(encodeRuns(tt.runs))
			require.NoError(t, err)
			assert.Equal(t, tt.runs, got)
		})
	}
}

func TestFileReference(t *testing.T) {
	ref := FileReference{Index: 0x123456789a, Sequence: 0xbeef}
	assert.Equal(t, ref, NewFileReference(ref.Value()))
	assert.Equal(t, "78187493530#48879", ref.String())
	assert.True(t, FileReference{}.IsZero())
}

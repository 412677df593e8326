package version

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lsmdb/pkg/types"
)

func TestEditEncodeDecodeRoundTrips(t *testing.T) {
	e := NewEdit()
	e.SetComparatorName(types.ByteWiseComparatorName)
	e.SetLogNumber(7)
	e.SetPrevLogNumber(3)
	e.SetNextFileNumber(9)
	e.SetLastSequence(42)
	e.AddFile(0, FileMetaData{
		Number:   8,
		Size:     1024,
		Smallest: types.InternalKey{UserKey: []byte("a"), Seq: 1, Kind: types.TypeValue},
		Largest:  types.InternalKey{UserKey: []byte("z"), Seq: 5, Kind: types.TypeDeletion},
	})
	e.DeleteFile(1, 3)

	decoded, err := DecodeEdit(e.Encode())
	require.NoError(t, err)

	logNumber, ok := decoded.LogNumber()
	require.True(t, ok)
	require.EqualValues(t, 7, logNumber)

	nextFile, ok := decoded.NextFileNumber()
	require.True(t, ok)
	require.EqualValues(t, 9, nextFile)

	lastSeq, ok := decoded.LastSequence()
	require.True(t, ok)
	require.EqualValues(t, 42, lastSeq)

	require.Len(t, decoded.newFiles, 1)
	require.Equal(t, uint64(8), decoded.newFiles[0].Meta.Number)
	require.Len(t, decoded.deletedFiles, 1)
	require.Equal(t, uint64(3), decoded.deletedFiles[0].Number)
}

func TestEditEncodeIsStableAcrossReencode(t *testing.T) {
	e := NewEdit()
	e.SetLogNumber(1)
	e.AddFile(0, FileMetaData{Number: 2, Size: 10,
		Smallest: types.InternalKey{UserKey: []byte("a"), Seq: 1, Kind: types.TypeValue},
		Largest:  types.InternalKey{UserKey: []byte("b"), Seq: 1, Kind: types.TypeValue}})

	first := e.Encode()
	decoded, err := DecodeEdit(first)
	require.NoError(t, err)
	require.Equal(t, first, decoded.Encode())
}

func TestDecodeEditRejectsUnknownTag(t *testing.T) {
	_, err := DecodeEdit([]byte{99, 1})
	require.Error(t, err)
}

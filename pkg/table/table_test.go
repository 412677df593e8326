package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmdb/pkg/types"
)

func writeSample(t *testing.T, entries []KV) *Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "000001.ldb")
	_, err := BuildTable(path, entries, 0.01)
	require.NoError(t, err)
	r, err := Open(path, 1)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestBuildAndGetRoundTrips(t *testing.T) {
	entries := []KV{
		{Key: types.InternalKey{UserKey: []byte("a"), Seq: 3, Kind: types.TypeValue}, Value: []byte("a3")},
		{Key: types.InternalKey{UserKey: []byte("a"), Seq: 1, Kind: types.TypeValue}, Value: []byte("a1")},
		{Key: types.InternalKey{UserKey: []byte("b"), Seq: 2, Kind: types.TypeDeletion}, Value: nil},
	}
	r := writeSample(t, entries)

	v, res := r.Get([]byte("a"), 3)
	require.Equal(t, Found, res)
	require.Equal(t, []byte("a3"), v)

	v, res = r.Get([]byte("a"), 2)
	require.Equal(t, Found, res)
	require.Equal(t, []byte("a1"), v)

	_, res = r.Get([]byte("b"), 2)
	require.Equal(t, Deleted, res)

	_, res = r.Get([]byte("missing"), 100)
	require.Equal(t, Missing, res)
}

func TestBuildTableRejectsEmptyInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.ldb")
	_, err := BuildTable(path, nil, 0.01)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	require.Error(t, statErr) // rejected before any file is created
}

package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmdb/pkg/batch"
	"lsmdb/pkg/env"
)

func TestAppendAndReplayRoundTrips(t *testing.T) {
	e := env.Default()
	path := filepath.Join(t.TempDir(), "000001.log")

	w, err := Create(e, path)
	require.NoError(t, err)

	b1 := batch.New()
	b1.SetSequence(1)
	b1.Put([]byte("k1"), []byte("v1"))
	require.NoError(t, w.Append(b1))

	b2 := batch.New()
	b2.SetSequence(2)
	b2.Delete([]byte("k1"))
	require.NoError(t, w.Append(b2))

	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	var got []*batch.Batch
	err = Replay(e, path, true, func(b *batch.Batch) error {
		got = append(got, b)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].Sequence())
	require.Equal(t, uint64(2), got[1].Sequence())
}

func TestReopenAppendsAfterExistingRecords(t *testing.T) {
	e := env.Default()
	path := filepath.Join(t.TempDir(), "000001.log")

	w, err := Create(e, path)
	require.NoError(t, err)
	b := batch.New()
	b.SetSequence(1)
	b.Put([]byte("k"), []byte("v"))
	require.NoError(t, w.Append(b))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	w2, err := Reopen(e, path)
	require.NoError(t, err)
	b2 := batch.New()
	b2.SetSequence(2)
	b2.Put([]byte("k2"), []byte("v2"))
	require.NoError(t, w2.Append(b2))
	require.NoError(t, w2.Sync())
	require.NoError(t, w2.Close())

	var seqs []uint64
	err = Replay(e, path, true, func(b *batch.Batch) error {
		seqs = append(seqs, b.Sequence())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, seqs)
}

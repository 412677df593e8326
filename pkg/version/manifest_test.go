package version

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lsmdb/pkg/clock"
	"lsmdb/pkg/env"
	"lsmdb/pkg/types"
)

func newTestSet(t *testing.T) (*Set, string) {
	t.Helper()
	dir := t.TempDir()
	e := env.Default()
	require.NoError(t, e.CreateDir(dir))
	seq := clock.NewSequenceAllocator(0)
	s := New(dir, types.ByteWiseComparator, 7, seq, e, zerolog.Nop())
	return s, dir
}

func TestWriteInitialManifestThenRecoverReproducesState(t *testing.T) {
	s, dir := newTestSet(t)
	require.NoError(t, s.WriteInitialManifest())

	edit := NewEdit()
	edit.AddFile(0, FileMetaData{
		Number:   2,
		Size:     123,
		Smallest: key("a", 1),
		Largest:  key("b", 2),
	})
	edit.SetLogNumber(5)
	require.NoError(t, s.LogAndApply(edit))

	seq2 := clock.NewSequenceAllocator(0)
	s2 := New(dir, types.ByteWiseComparator, 7, seq2, env.Default(), zerolog.Nop())
	_, err := s2.Recover()
	require.NoError(t, err)

	v := s2.Current()
	defer v.Unref()
	require.Len(t, v.Files(0), 1)
	require.Equal(t, uint64(2), v.Files(0)[0].Number)
	require.EqualValues(t, 5, s2.LogNumber())
}

func TestAddLiveFilesIncludesPendingOutputs(t *testing.T) {
	s, _ := newTestSet(t)
	require.NoError(t, s.WriteInitialManifest())

	s.AddPendingOutput(99)
	live := make(map[uint64]struct{})
	s.AddLiveFiles(live)
	_, ok := live[99]
	require.True(t, ok)

	s.RemovePendingOutput(99)
	live = make(map[uint64]struct{})
	s.AddLiveFiles(live)
	_, ok = live[99]
	require.False(t, ok)
}

func TestNewFileNumberIsMonotonicAndReusable(t *testing.T) {
	s, _ := newTestSet(t)
	a := s.NewFileNumber()
	b := s.NewFileNumber()
	require.Equal(t, a+1, b)

	c := s.NewFileNumber()
	s.ReuseFileNumber(c)
	d := s.NewFileNumber()
	require.Equal(t, c, d, "reusing the most recently issued number should hand it out again")
}

func TestCurrentFileNamesTheManifest(t *testing.T) {
	s, dir := newTestSet(t)
	require.NoError(t, s.WriteInitialManifest())

	require.FileExists(t, filepath.Join(dir, "CURRENT"))
}

package memtable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmdb/pkg/types"
)

func TestInsertRejectsSequenceOutsideWindow(t *testing.T) {
	m := New(5, 4, nil) // window [5,8]
	err := m.Insert([]byte("a"), 9, types.TypeValue, []byte("v"))
	require.Error(t, err)

	err = m.Insert([]byte("a"), 4, types.TypeValue, []byte("v"))
	require.Error(t, err)

	require.NoError(t, m.Insert([]byte("a"), 5, types.TypeValue, []byte("v")))
}

func TestGetReturnsLargestSeqNotExceedingSnapshot(t *testing.T) {
	m := New(1, 8, nil)
	require.NoError(t, m.Insert([]byte("k"), 1, types.TypeValue, []byte("v1")))
	require.NoError(t, m.Insert([]byte("k"), 3, types.TypeValue, []byte("v3")))
	require.NoError(t, m.Insert([]byte("k"), 5, types.TypeDeletion, nil))

	v, res := m.Get([]byte("k"), 2)
	assert.Equal(t, Found, res)
	assert.Equal(t, []byte("v1"), v)

	v, res = m.Get([]byte("k"), 4)
	assert.Equal(t, Found, res)
	assert.Equal(t, []byte("v3"), v)

	_, res = m.Get([]byte("k"), 5)
	assert.Equal(t, Deleted, res)

	_, res = m.Get([]byte("missing"), 5)
	assert.Equal(t, Missing, res)
}

func TestAbleToFlushBecomesTrueOnlyAfterWindowFilled(t *testing.T) {
	m := New(1, 4, nil)
	for i := types.SeqN(1); i <= 3; i++ {
		require.NoError(t, m.Insert([]byte("k"), i, types.TypeValue, []byte("v")))
		assert.False(t, m.AbleToFlush())
	}
	require.NoError(t, m.Insert([]byte("k"), 4, types.TypeValue, []byte("v")))
	assert.True(t, m.AbleToFlush())
}

func TestConcurrentInsertsAllPublish(t *testing.T) {
	const window = 200
	m := New(1, window, nil)

	var wg sync.WaitGroup
	for i := types.SeqN(1); i <= window; i++ {
		wg.Add(1)
		go func(seq types.SeqN) {
			defer wg.Done()
			require.NoError(t, m.Insert([]byte("k"), seq, types.TypeValue, []byte("v")))
		}(i)
	}
	wg.Wait()

	assert.True(t, m.AbleToFlush())
	assert.Equal(t, uint64(window), m.KVCount())
}

func TestNewIteratorOrdersAscendingKeyDescendingSeq(t *testing.T) {
	m := New(1, 8, nil)
	require.NoError(t, m.Insert([]byte("b"), 1, types.TypeValue, []byte("b1")))
	require.NoError(t, m.Insert([]byte("a"), 2, types.TypeValue, []byte("a2")))
	require.NoError(t, m.Insert([]byte("a"), 4, types.TypeDeletion, nil))

	entries := m.NewIterator()
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("a"), entries[0].Key.UserKey)
	assert.Equal(t, types.SeqN(4), entries[0].Key.Seq)
	assert.Equal(t, []byte("a"), entries[1].Key.UserKey)
	assert.Equal(t, types.SeqN(2), entries[1].Key.Seq)
	assert.Equal(t, []byte("b"), entries[2].Key.UserKey)
}

package types

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareOrdersByUserKeyFirst(t *testing.T) {
	a := InternalKey{UserKey: Key("a"), Seq: 5, Kind: TypeValue}
	b := InternalKey{UserKey: Key("b"), Seq: 1, Kind: TypeValue}
	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
}

func TestCompareOrdersBySeqDescendingWithinAUserKey(t *testing.T) {
	newer := InternalKey{UserKey: Key("k"), Seq: 10, Kind: TypeValue}
	older := InternalKey{UserKey: Key("k"), Seq: 5, Kind: TypeValue}
	require.Negative(t, newer.Compare(older), "a higher sequence number must sort first")
	require.Positive(t, older.Compare(newer))
}

func TestCompareBreaksTiesDeletionBeforeValue(t *testing.T) {
	del := InternalKey{UserKey: Key("k"), Seq: 5, Kind: TypeDeletion}
	val := InternalKey{UserKey: Key("k"), Seq: 5, Kind: TypeValue}
	require.Negative(t, del.Compare(val))
	require.Positive(t, val.Compare(del))
	require.Zero(t, del.Compare(del))
}

func TestSortByCompareProducesTotalOrder(t *testing.T) {
	keys := []InternalKey{
		{UserKey: Key("b"), Seq: 1, Kind: TypeValue},
		{UserKey: Key("a"), Seq: 3, Kind: TypeValue},
		{UserKey: Key("a"), Seq: 1, Kind: TypeValue},
		{UserKey: Key("a"), Seq: 3, Kind: TypeDeletion},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	require.Equal(t, "a", string(keys[0].UserKey))
	require.Equal(t, SeqN(3), keys[0].Seq)
	require.Equal(t, TypeDeletion, keys[0].Kind)

	require.Equal(t, "a", string(keys[1].UserKey))
	require.Equal(t, SeqN(3), keys[1].Seq)
	require.Equal(t, TypeValue, keys[1].Kind)

	require.Equal(t, "a", string(keys[2].UserKey))
	require.Equal(t, SeqN(1), keys[2].Seq)

	require.Equal(t, "b", string(keys[3].UserKey))
}

func TestByteWiseComparator(t *testing.T) {
	require.Negative(t, ByteWiseComparator(Key("a"), Key("b")))
	require.Zero(t, ByteWiseComparator(Key("a"), Key("a")))
	require.Positive(t, ByteWiseComparator(Key("b"), Key("a")))
}

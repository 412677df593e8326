package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lsmdb/pkg/types"
)

func TestEncodeDecodeRoundTrips(t *testing.T) {
	b := New()
	b.Put(types.Key("a"), types.Value("1"))
	b.Delete(types.Key("b"))
	b.Put(types.Key("c"), types.Value("3"))
	b.SetSequence(10)

	decoded, err := Decode(b.Encode())
	require.NoError(t, err)
	require.Equal(t, types.SeqN(10), decoded.Sequence())
	require.Equal(t, 3, decoded.Count())

	var got []types.InternalKey
	var vals []types.Value
	decoded.Iterate(func(key types.InternalKey, value types.Value) {
		got = append(got, key)
		vals = append(vals, value)
	})
	require.Len(t, got, 3)
	require.Equal(t, "a", string(got[0].UserKey))
	require.Equal(t, types.SeqN(10), got[0].Seq)
	require.Equal(t, types.TypeValue, got[0].Kind)
	require.Equal(t, "b", string(got[1].UserKey))
	require.Equal(t, types.SeqN(11), got[1].Seq)
	require.Equal(t, types.TypeDeletion, got[1].Kind)
	require.Equal(t, "c", string(got[2].UserKey))
	require.Equal(t, types.SeqN(12), got[2].Seq)
}

func TestIterateAssignsConsecutiveSequenceNumbers(t *testing.T) {
	b := New()
	b.Put(types.Key("x"), types.Value("1"))
	b.Put(types.Key("y"), types.Value("2"))
	b.SetSequence(100)

	var seqs []types.SeqN
	b.Iterate(func(key types.InternalKey, value types.Value) {
		seqs = append(seqs, key.Seq)
	})
	require.Equal(t, []types.SeqN{100, 101}, seqs)
}

func TestClearResetsBatch(t *testing.T) {
	b := New()
	b.Put(types.Key("a"), types.Value("1"))
	b.SetSequence(5)
	b.Clear()

	require.Equal(t, 0, b.Count())
	require.Equal(t, types.SeqN(0), b.Sequence())
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	b := New()
	b.Put(types.Key("a"), types.Value("1"))
	encoded := b.Encode()
	encoded[headerSize] = 7 // corrupt the tag byte of the first mutation
	_, err := Decode(encoded)
	require.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	b := New()
	b.Put(types.Key("a"), types.Value("1"))
	encoded := append(b.Encode(), 0xff)
	_, err := Decode(encoded)
	require.Error(t, err)
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	b := New()
	b.Put(types.Key("a"), types.Value("1"))
	encoded := b.Encode()

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	for i := range encoded {
		encoded[i] = 0
	}

	var got string
	decoded.Iterate(func(key types.InternalKey, value types.Value) {
		got = string(key.UserKey)
	})
	require.Equal(t, "a", got)
}

// Package types holds the shared value types of the write path: the internal
// key model of §3 and the small aliases the rest of the module builds on.
package types

import "bytes"

// Key is a user-supplied key, compared with Compare below.
type Key = []byte

// Value is an opaque payload associated with a Key at a given SeqN.
type Value = []byte

// SeqN is the monotonically increasing sequence number assigned to every
// write; it defines MVCC order (§3, §4.A).
type SeqN = uint64

// ValueType distinguishes a live value from a tombstone within an internal
// key. Deletion sorts before Value at equal (user_key, seq) so that a
// tombstone masks an older put with the same sequence number if that tie
// ever occurred; in practice seq is unique per write so this never fires.
type ValueType uint8

const (
	TypeDeletion ValueType = 0
	TypeValue    ValueType = 1
)

// MaxSeqN is the largest representable sequence number. Seq and Kind are
// kept as two explicit fields rather than packed into one tail value,
// since InternalKey.Compare needs them separately far more often than
// packed.
const MaxSeqN SeqN = 1<<56 - 1

// InternalKey is the ordering unit of the memtable and of sorted tables:
// (user_key, seq, type). See §3 for the ordering rule.
type InternalKey struct {
	UserKey Key
	Seq     SeqN
	Kind    ValueType
}

// Compare orders two internal keys: ascending by user key, then descending
// by sequence number, then Deletion before Value at an (impossible) tie.
func (a InternalKey) Compare(b InternalKey) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	if a.Seq != b.Seq {
		if a.Seq > b.Seq {
			return -1
		}
		return 1
	}
	if a.Kind == b.Kind {
		return 0
	}
	if a.Kind == TypeDeletion {
		return -1
	}
	return 1
}

// Comparator orders user keys. The zero value is ByteWiseComparator.
type Comparator func(a, b Key) int

// ByteWiseComparator is the default user-key comparator: plain byte order.
func ByteWiseComparator(a, b Key) int {
	return bytes.Compare(a, b)
}

// ByteWiseComparatorName identifies ByteWiseComparator in the manifest (§4.G, VersionEdit.comparator_name).
const ByteWiseComparatorName = "rdmalsm.BytewiseComparator"

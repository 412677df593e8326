package memtable

import "lsmdb/pkg/types"

// version is one write to a single user key, held in a per-key chain
// because a plain concurrent map can only hold one value per key while §3
// requires every (user_key, seq, type) triple to remain visible until
// flush. The chain is short in practice: it only grows as many times as
// one memtable's window sees repeat writes to the same key.
type version struct {
	seq   types.SeqN
	kind  types.ValueType
	value types.Value
	next  *version
}

// Package memtable implements §4.B: an append-only ordered mapping
// (user_key, seq, type) -> value with a fixed sequence window, backed by
// a lock-free skip list (zhangyunhao116/skipmap) for concurrent insertion
// with a single concurrent reader.
package memtable

import (
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

// chain holds every version written to one user key within this memtable,
// linked newest-push-first. The skip list gives us a stable slot per key
// (LoadOrStoreLazy allocates it at most once); versions are then published
// onto chain.head with a CAS loop so concurrent writers to the same key
// within one window never lose an update.
type chain struct {
	head atomic.Pointer[version]
}

// FlushState is one of the four states of §3.
type FlushState int32

const (
	Open FlushState = iota
	FlushRequested
	FlushScheduled
	FlushDone
)

func (s FlushState) String() string {
	switch s {
	case Open:
		return "open"
	case FlushRequested:
		return "flush-requested"
	case FlushScheduled:
		return "flush-scheduled"
	case FlushDone:
		return "flush-done"
	default:
		return "unknown"
	}
}

// GetResult is the outcome of Get.
type GetResult int

const (
	Missing GetResult = iota
	Found
	Deleted
)

type keyMap = skipmap.FuncMap[types.Key, *chain]

// Memtable is the write-admitted, sequence-windowed buffer of §3/§4.B. A
// Memtable is created once per window and never reused; the roster (§4.D)
// hands out fresh instances on rotation, so there is no reset path here.
type Memtable struct {
	cmp types.Comparator

	firstSeq           types.SeqN
	largestSeqSupposed types.SeqN

	data *keyMap

	kvCount    atomic.Uint64
	memUsage   atomic.Int64
	flushState atomic.Int32
	refCount   atomic.Int32
}

// New allocates a memtable owning the sequence window
// [firstSeq, firstSeq+window-1].
func New(firstSeq types.SeqN, window uint64, cmp types.Comparator) *Memtable {
	if cmp == nil {
		cmp = types.ByteWiseComparator
	}
	m := &Memtable{
		cmp:                cmp,
		firstSeq:           firstSeq,
		largestSeqSupposed: firstSeq + types.SeqN(window) - 1,
		data:               skipmap.NewFunc[types.Key, *chain](func(a, b types.Key) bool { return cmp(a, b) < 0 }),
	}
	m.refCount.Store(1)
	return m
}

func (m *Memtable) FirstSeq() types.SeqN           { return m.firstSeq }
func (m *Memtable) LargestSeqSupposed() types.SeqN { return m.largestSeqSupposed }
func (m *Memtable) WindowWidth() uint64            { return uint64(m.largestSeqSupposed-m.firstSeq) + 1 }
func (m *Memtable) KVCount() uint64                { return m.kvCount.Load() }

// Contains reports whether seq falls within this memtable's window.
func (m *Memtable) Contains(seq types.SeqN) bool {
	return seq >= m.firstSeq && seq <= m.largestSeqSupposed
}

// Insert stores (userKey, seq, kind) -> value. Precondition:
// firstSeq <= seq <= largestSeqSupposed (§4.B). kv_count is incremented
// only after the entry is fully published, so a concurrent flush iterator
// never observes a torn write.
func (m *Memtable) Insert(userKey types.Key, seq types.SeqN, kind types.ValueType, value types.Value) error {
	if !m.Contains(seq) {
		return dberrors.New(dberrors.InvalidArgument, "memtable: sequence outside window")
	}

	v := &version{seq: seq, kind: kind, value: value}
	key := append(types.Key(nil), userKey...)

	c, _ := m.data.LoadOrStoreLazy(key, func() *chain { return &chain{} })
	for {
		head := c.head.Load()
		v.next = head
		if c.head.CompareAndSwap(head, v) {
			break
		}
	}

	m.memUsage.Add(int64(len(userKey) + len(value) + 24))
	m.kvCount.Add(1)
	return nil
}

// AbleToFlush reports whether every writer admitted to this memtable's
// window has finished inserting (§3, §9).
func (m *Memtable) AbleToFlush() bool {
	return m.kvCount.Load() == m.WindowWidth()
}

// SetFlushState installs the given state (§4.B).
func (m *Memtable) SetFlushState(s FlushState) { m.flushState.Store(int32(s)) }

// FlushStateOf returns the current flush state.
func (m *Memtable) FlushStateOf() FlushState { return FlushState(m.flushState.Load()) }

// CheckFlushScheduled reports whether a flush has already been scheduled
// or completed for this memtable.
func (m *Memtable) CheckFlushScheduled() bool {
	s := m.FlushStateOf()
	return s == FlushScheduled || s == FlushDone
}

// Get resolves the value visible for userKey at snapshotSeq: the entry
// with the largest seq <= snapshotSeq (§4.B).
func (m *Memtable) Get(userKey types.Key, snapshotSeq types.SeqN) (types.Value, GetResult) {
	c, ok := m.data.Load(userKey)
	if !ok {
		return nil, Missing
	}

	var best *version
	for v := c.head.Load(); v != nil; v = v.next {
		if v.seq <= snapshotSeq && (best == nil || v.seq > best.seq) {
			best = v
		}
	}
	if best == nil {
		return nil, Missing
	}
	if best.kind == types.TypeDeletion {
		return nil, Deleted
	}
	return best.value, Found
}

// ApproximateMemoryUsage estimates the bytes held by this memtable.
func (m *Memtable) ApproximateMemoryUsage() int64 {
	return m.memUsage.Load()
}

// Entry is one internal-key/value pair yielded by NewIterator, in the
// ordering of §3: ascending user key, then descending sequence number.
type Entry struct {
	Key   types.InternalKey
	Value types.Value
}

// NewIterator materializes every entry of this memtable in sorted order.
// It is used only by the flush worker (§4.B), which is this memtable's
// single concurrent reader once it has become immutable; a materialized
// snapshot is sufficient because nothing inserts into it afterward.
func (m *Memtable) NewIterator() []Entry {
	out := make([]Entry, 0, m.kvCount.Load())
	m.data.Range(func(key types.Key, c *chain) bool {
		var versions []*version
		for v := c.head.Load(); v != nil; v = v.next {
			versions = append(versions, v)
		}
		// Within one key, order descending by seq (§3).
		for i := 1; i < len(versions); i++ {
			for j := i; j > 0 && versions[j].seq > versions[j-1].seq; j-- {
				versions[j], versions[j-1] = versions[j-1], versions[j]
			}
		}
		for _, v := range versions {
			out = append(out, Entry{
				Key:   types.InternalKey{UserKey: key, Seq: v.seq, Kind: v.kind},
				Value: v.value,
			})
		}
		return true
	})
	return out
}

// Ref increments the shared-ownership count (§9).
func (m *Memtable) Ref() { m.refCount.Add(1) }

// Unref decrements the shared-ownership count; the last releaser drops the
// memtable. Since a Memtable holds no resource beyond Go-managed memory,
// "destroy" here just means it becomes eligible for garbage collection, but
// the protocol is kept explicit so every cross-goroutine holder (roster
// slot, flush worker, reader snapshot) follows the same discipline.
func (m *Memtable) Unref() {
	m.refCount.Add(-1)
}

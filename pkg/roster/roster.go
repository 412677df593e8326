// Package roster implements §4.D: the memtable roster holding the current
// (writable) memtable and at most one immutable memtable, and arbitrating
// the switch between them.
package roster

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"lsmdb/pkg/memtable"
)

// Roster holds the two single-slot cells of §4.D. current is never nil
// after New; immutable is nil unless a rotation is pending flush.
type Roster struct {
	current   atomic.Pointer[memtable.Memtable]
	immutable atomic.Pointer[memtable.Memtable]

	mu     sync.Mutex
	fullCV *sync.Cond

	log zerolog.Logger
}

// New starts the roster with cur as the writable memtable and no
// immutable one.
func New(cur *memtable.Memtable, log zerolog.Logger) *Roster {
	r := &Roster{log: log}
	r.fullCV = sync.NewCond(&r.mu)
	r.current.Store(cur)
	return r
}

// Snapshot atomically loads both pointers. Tearing between the two loads
// is allowed (§4.D): the admission loop re-reads after a failed CAS, so it
// never acts on a stale pairing.
func (r *Roster) Snapshot() (current, immutable *memtable.Memtable) {
	return r.current.Load(), r.immutable.Load()
}

// Current returns the writable memtable.
func (r *Roster) Current() *memtable.Memtable { return r.current.Load() }

// Immutable returns the pending-flush memtable, or nil.
func (r *Roster) Immutable() *memtable.Memtable { return r.immutable.Load() }

// TryRotate CAS-installs newCurrent as current, replacing oldCurrent.
// Precondition at the call site: immutable == nil and oldCurrent's window
// is exhausted. On success the caller has won the rotation and must call
// InstallImmutable next; on failure some other writer rotated first.
func (r *Roster) TryRotate(oldCurrent, newCurrent *memtable.Memtable) bool {
	return r.current.CompareAndSwap(oldCurrent, newCurrent)
}

// InstallImmutable stores the retired memtable into the immutable slot,
// marks it FlushRequested, and wakes any writer waiting on FullCV. It is
// called by the single winner of TryRotate.
func (r *Roster) InstallImmutable(retired *memtable.Memtable) {
	retired.SetFlushState(memtable.FlushRequested)
	r.immutable.Store(retired)
	r.log.Debug().
		Uint64("first_seq", retired.FirstSeq()).
		Uint64("largest_seq_supposed", retired.LargestSeqSupposed()).
		Msg("roster: rotated memtable to immutable")

	r.mu.Lock()
	r.fullCV.Broadcast()
	r.mu.Unlock()
}

// ClearImmutable is called by the flush worker after its commit; it frees
// the immutable slot and wakes blocked writers (§4.F step 8).
func (r *Roster) ClearImmutable() {
	r.immutable.Store(nil)
	r.mu.Lock()
	r.fullCV.Broadcast()
	r.mu.Unlock()
}

// WaitForRoom blocks the caller until the immutable slot is cleared. The
// predicate is taken and re-tested under mu on every wakeup (§4.E step 2a:
// "double-checked"), so a ClearImmutable/InstallImmutable broadcast that
// lands between the caller's last check and the call to WaitForRoom is
// never missed: the immutable slot is re-read here while holding the same
// mutex the broadcaster locks before signaling.
func (r *Roster) WaitForRoom() {
	r.mu.Lock()
	for r.immutable.Load() != nil {
		r.fullCV.Wait()
	}
	r.mu.Unlock()
}

// SignalFull wakes anyone waiting on the roster's condition variable
// without changing state; used by the flush worker's defensive nudge
// (§4.F step 2, §9).
func (r *Roster) SignalFull() {
	r.mu.Lock()
	r.fullCV.Broadcast()
	r.mu.Unlock()
}

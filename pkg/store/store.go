// Package store is the top-level database of the write path (§1–§9): Open
// wires the sequence allocator, memtable roster, WAL, and version set
// together; Put/Delete/Get drive writer admission and point lookups.
package store

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"lsmdb/pkg/batch"
	"lsmdb/pkg/clock"
	"lsmdb/pkg/dbconfig"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/env"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/roster"
	"lsmdb/pkg/table"
	"lsmdb/pkg/types"
	"lsmdb/pkg/version"
	"lsmdb/pkg/wal"
)

// DB is one open database directory.
type DB struct {
	dbname string
	opts   dbconfig.Options
	env    *env.Env
	log    zerolog.Logger
	cmp    types.Comparator

	seq      *clock.SequenceAllocator
	versions *version.Set
	roster   *roster.Roster
	lock     *env.FileLock

	walMu        sync.Mutex
	curLogNumber uint64

	// genWAL maps a memtable generation to the WAL it logs to, from
	// creation until it flushes; see walForGeneration.
	genMu  sync.Mutex
	genWAL map[*memtable.Memtable]*wal.WAL

	tablesMu sync.Mutex
	tables   map[uint64]*table.Reader

	mu             sync.Mutex
	hasImmutable   bool
	flushScheduled bool
	bgErr          error

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// Open opens or creates the database at dbname per §4.G's recovery
// algorithm.
func Open(dbname string, opts dbconfig.Options) (*DB, error) {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "lsmdb").Logger()
	e := env.Default()

	if !e.FileExists(dbname) {
		if !opts.CreateIfMissing {
			return nil, dberrors.New(dberrors.NotFound, "store: database directory does not exist")
		}
		if err := e.CreateDir(dbname); err != nil {
			return nil, dberrors.Wrap(dberrors.IoError, "store: create database directory", err)
		}
	}

	lock, err := e.LockFile(version.LockFileName(dbname))
	if err != nil {
		return nil, err
	}

	cmp := types.ByteWiseComparator
	seq := clock.NewSequenceAllocator(0)
	vs := version.New(dbname, cmp, opts.MaxLevels, seq, e, log)

	currentExists := e.FileExists(version.CurrentFileName(dbname))
	switch {
	case !currentExists && !opts.CreateIfMissing:
		e.UnlockFile(lock)
		return nil, dberrors.New(dberrors.NotFound, "store: CURRENT is missing and create_if_missing is false")
	case !currentExists:
		if err := vs.WriteInitialManifest(); err != nil {
			e.UnlockFile(lock)
			return nil, err
		}
	case opts.ErrorIfExists:
		e.UnlockFile(lock)
		return nil, dberrors.New(dberrors.InvalidArgument, "store: database already exists and error_if_exists is set")
	default:
		if _, err := vs.Recover(); err != nil {
			e.UnlockFile(lock)
			return nil, err
		}
	}

	db := &DB{
		dbname:   dbname,
		opts:     opts,
		env:      e,
		log:      log,
		cmp:      cmp,
		seq:      seq,
		versions: vs,
		lock:     lock,
		tables:   make(map[uint64]*table.Reader),
		genWAL:   make(map[*memtable.Memtable]*wal.WAL),
	}

	if err := db.recoverLogFiles(); err != nil {
		e.UnlockFile(lock)
		return nil, err
	}

	db.removeObsoleteFiles()
	db.log.Info().Str("dbname", dbname).Uint64("last_sequence", db.seq.LastSequence()).Msg("store: opened")
	return db, nil
}

// Close waits for any in-flight flush to finish, releases the DB lock, and
// closes all open file handles.
func (db *DB) Close() error {
	db.shutdown.Store(true)
	db.roster.SignalFull()
	db.wg.Wait()

	// Every open WAL, current and any not-yet-flushed immutable generation
	// left behind by a shutdown mid-flush, is reachable through genWAL.
	db.genMu.Lock()
	for mem, w := range db.genWAL {
		w.Close()
		delete(db.genWAL, mem)
	}
	db.genMu.Unlock()

	db.tablesMu.Lock()
	for number, r := range db.tables {
		r.Close()
		delete(db.tables, number)
	}
	db.tablesMu.Unlock()

	return db.env.UnlockFile(db.lock)
}

// Put appends a single-key mutation.
func (db *DB) Put(key, value []byte) error {
	b := batch.New()
	b.Put(key, value)
	return db.Write(b)
}

// Delete appends a single-key tombstone.
func (db *DB) Delete(key []byte) error {
	b := batch.New()
	b.Delete(key)
	return db.Write(b)
}

// Write assigns sequence numbers to every mutation in b, admits each one
// to its target memtable, and logs it to that memtable's own WAL
// generation before inserting (§4.E, data flow of §2). Admission must run
// before logging: a mutation's target memtable is only known once
// pickupTable has resolved it, and logging to whatever WAL happened to be
// active beforehand can durably lose the very write that triggers a
// window rollover, since the immutable memtable's log is later reclaimed
// once it flushes. Consecutive mutations that land in the same generation
// are grouped into a single WAL record, so a batch that does not itself
// cross a window boundary still logs as one all-or-nothing entry.
func (db *DB) Write(b *batch.Batch) error {
	if err := db.backgroundError(); err != nil {
		return err
	}
	n := uint64(b.Count())
	if n == 0 {
		return nil
	}

	seq := db.seq.Assign(n)
	b.SetSequence(seq)

	var (
		firstErr error
		groupMem *memtable.Memtable
		group    *batch.Batch
	)

	flushGroup := func() {
		if group == nil {
			return
		}
		if firstErr == nil {
			w := db.walForGeneration(groupMem)
			if err := db.appendToWAL(w, group); err != nil {
				firstErr = err
			} else {
				group.Iterate(func(key types.InternalKey, value types.Value) {
					if firstErr != nil {
						return
					}
					if err := groupMem.Insert(key.UserKey, key.Seq, key.Kind, value); err != nil {
						firstErr = err
					}
				})
			}
		}
		groupMem.Unref()
		group, groupMem = nil, nil
	}

	b.Iterate(func(key types.InternalKey, value types.Value) {
		if firstErr != nil {
			return
		}
		mem, err := db.pickupTable(key.Seq)
		if err != nil {
			firstErr = err
			return
		}

		if groupMem != mem {
			flushGroup()
			if firstErr != nil {
				mem.Unref()
				return
			}
			groupMem = mem
			group = batch.New()
			group.SetSequence(key.Seq)
		} else {
			mem.Unref()
		}

		if key.Kind == types.TypeDeletion {
			group.Delete(key.UserKey)
		} else {
			group.Put(key.UserKey, value)
		}
	})
	flushGroup()

	return firstErr
}

// Get returns the value most recently written to key at the database's
// current sequence, checking the writable memtable, the immutable
// memtable, and the sorted tables in that order (newest data first).
func (db *DB) Get(key types.Key) (types.Value, error) {
	if err := db.backgroundError(); err != nil {
		return nil, err
	}
	snapshot := types.SeqN(db.seq.LastSequence())

	cur, imm := db.roster.Snapshot()
	if cur != nil {
		cur.Ref()
		v, res := cur.Get(key, snapshot)
		cur.Unref()
		switch res {
		case memtable.Found:
			return v, nil
		case memtable.Deleted:
			return nil, dberrors.ErrNotFound
		}
	}
	if imm != nil {
		imm.Ref()
		v, res := imm.Get(key, snapshot)
		imm.Unref()
		switch res {
		case memtable.Found:
			return v, nil
		case memtable.Deleted:
			return nil, dberrors.ErrNotFound
		}
	}

	v := db.versions.Current()
	defer v.Unref()
	for level := 0; level < v.NumLevels(); level++ {
		files := v.Files(level)
		if level == 0 {
			for i := len(files) - 1; i >= 0; i-- {
				if val, done, res := db.getFromFile(files[i], key, snapshot); done {
					if res == table.Found {
						return val, nil
					}
					return nil, dberrors.ErrNotFound
				}
			}
			continue
		}
		for _, f := range files {
			if val, done, res := db.getFromFile(f, key, snapshot); done {
				if res == table.Found {
					return val, nil
				}
				return nil, dberrors.ErrNotFound
			}
		}
	}
	return nil, dberrors.ErrNotFound
}

func (db *DB) getFromFile(f version.FileMetaData, key types.Key, snapshot types.SeqN) (types.Value, bool, table.GetResult) {
	if db.cmp(key, f.Smallest.UserKey) < 0 || db.cmp(key, f.Largest.UserKey) > 0 {
		return nil, false, table.Missing
	}
	r, err := db.tableReader(f.Number)
	if err != nil {
		return nil, false, table.Missing
	}
	v, res := r.Get(key, snapshot)
	return v, res != table.Missing, res
}

func (db *DB) tableReader(number uint64) (*table.Reader, error) {
	db.tablesMu.Lock()
	defer db.tablesMu.Unlock()
	if r, ok := db.tables[number]; ok {
		return r, nil
	}
	r, err := table.Open(version.TableFileName(db.dbname, number), number)
	if err != nil {
		return nil, err
	}
	db.tables[number] = r
	return r, nil
}

func (db *DB) appendToWAL(w *wal.WAL, b *batch.Batch) error {
	db.walMu.Lock()
	err := w.Append(b)
	if err == nil {
		err = w.Sync()
	}
	db.walMu.Unlock()

	if err != nil {
		db.recordBackgroundError(err)
	}
	return err
}

// registerGeneration records which WAL a memtable generation logs to,
// from the moment the generation is created until it is flushed. Every
// admitted write looks up its target memtable's WAL here rather than
// through a single shared "current WAL" field, since that field can move
// on to a newer generation between a writer resolving its target
// memtable and appending to its log.
func (db *DB) registerGeneration(mem *memtable.Memtable, w *wal.WAL) {
	db.genMu.Lock()
	db.genWAL[mem] = w
	db.genMu.Unlock()
}

// walForGeneration returns the WAL registered for mem. It is always
// present: every memtable a caller can observe through the roster was
// registered before it became reachable.
func (db *DB) walForGeneration(mem *memtable.Memtable) *wal.WAL {
	db.genMu.Lock()
	defer db.genMu.Unlock()
	return db.genWAL[mem]
}

// forgetGeneration drops mem's WAL registration once mem has flushed and
// its log is no longer needed for recovery.
func (db *DB) forgetGeneration(mem *memtable.Memtable) {
	db.genMu.Lock()
	delete(db.genWAL, mem)
	db.genMu.Unlock()
}

func (db *DB) backgroundError() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.bgErr
}

// recordBackgroundError publishes err once (§7: never cleared in the same
// process) and wakes any writer blocked on backpressure so it observes
// the failure instead of hanging.
func (db *DB) recordBackgroundError(err error) {
	db.mu.Lock()
	if db.bgErr == nil {
		db.bgErr = err
		db.log.Error().Err(err).Msg("store: background error, refusing further writes")
	}
	db.mu.Unlock()
	db.roster.SignalFull()
}

// removeObsoleteFiles deletes WAL and table files no longer referenced by
// the current Version or its log-number watermark (§4.F step 8).
func (db *DB) removeObsoleteFiles() {
	live := make(map[uint64]struct{})
	db.versions.AddLiveFiles(live)

	children, err := db.env.GetChildren(db.dbname)
	if err != nil {
		db.log.Warn().Err(err).Msg("store: could not list directory for cleanup")
		return
	}

	logNumber := db.versions.LogNumber()
	prevLogNumber := db.versions.PrevLogNumber()

	for _, name := range children {
		number, typ, ok := version.ParseFileName(name)
		if !ok {
			continue
		}
		var keep bool
		switch typ {
		case version.FileTypeLog:
			keep = number >= logNumber || number == prevLogNumber
		case version.FileTypeTable:
			_, keep = live[number]
		default:
			keep = true
		}
		if keep {
			continue
		}
		if typ == version.FileTypeTable {
			db.tablesMu.Lock()
			if r, ok := db.tables[number]; ok {
				r.Close()
				delete(db.tables, number)
			}
			db.tablesMu.Unlock()
		}
		path := filepath.Join(db.dbname, name)
		if err := db.env.RemoveFile(path); err != nil {
			db.log.Warn().Err(err).Str("file", name).Msg("store: failed to remove obsolete file")
		} else {
			db.log.Debug().Str("file", name).Msg("store: removed obsolete file")
		}
	}
}

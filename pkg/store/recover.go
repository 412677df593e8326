package store

import (
	"sort"

	"lsmdb/pkg/batch"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/roster"
	"lsmdb/pkg/table"
	"lsmdb/pkg/types"
	"lsmdb/pkg/version"
	"lsmdb/pkg/wal"
)

// recoverLogFiles implements the tail of §4.G's Recover algorithm (steps
// 5–7): find every WAL the current Version doesn't yet account for,
// replay them into scratch memtables, flush any that overflow
// write_buffer_size, and either reuse the last WAL as the live one or
// start a fresh generation.
func (db *DB) recoverLogFiles() error {
	live := make(map[uint64]struct{})
	db.versions.AddLiveFiles(live)
	for number := range live {
		if !db.env.FileExists(version.TableFileName(db.dbname, number)) {
			return dberrors.New(dberrors.Corruption, "recover: version references a missing table file")
		}
	}

	children, err := db.env.GetChildren(db.dbname)
	if err != nil {
		return dberrors.Wrap(dberrors.IoError, "recover: list database directory", err)
	}

	logNumber := db.versions.LogNumber()
	prevLogNumber := db.versions.PrevLogNumber()

	var logNumbers []uint64
	for _, name := range children {
		number, typ, ok := version.ParseFileName(name)
		if !ok || typ != version.FileTypeLog {
			continue
		}
		if number >= logNumber || number == prevLogNumber {
			logNumbers = append(logNumbers, number)
		}
	}
	sort.Slice(logNumbers, func(i, j int) bool { return logNumbers[i] < logNumbers[j] })

	edit := version.NewEdit()
	addedFile := false
	var maxSeq types.SeqN

	scratch := memtable.New(types.SeqN(db.seq.LastSequence())+1, db.opts.MemtableSeqWindow, db.cmp)

	flushScratch := func() error {
		if scratch.KVCount() == 0 {
			return nil
		}
		entries := scratch.NewIterator()
		kvs := make([]table.KV, len(entries))
		for i, e := range entries {
			kvs[i] = table.KV{Key: e.Key, Value: e.Value}
		}
		fileNumber := db.versions.NewFileNumber()
		path := version.TableFileName(db.dbname, fileNumber)
		info, err := table.BuildTable(path, kvs, db.opts.BloomFilterFPRate)
		if err != nil {
			return err
		}
		base := db.versions.Current()
		level := version.PickLevelForMemTableOutput(base, info.Smallest, info.Largest, db.opts.MaxMemCompactLevel)
		base.Unref()
		edit.AddFile(level, version.FileMetaData{
			Number:   fileNumber,
			Size:     info.Size,
			Smallest: info.Smallest,
			Largest:  info.Largest,
		})
		addedFile = true
		return nil
	}

	reusedLast := false
	var finalWAL *wal.WAL
	var finalLogNumber uint64

	for i, number := range logNumbers {
		isLast := i == len(logNumbers)-1
		flushedDuringThisWAL := false
		path := version.LogFileName(db.dbname, number)

		err := wal.Replay(db.env, path, db.opts.ParanoidChecks, func(b *batch.Batch) error {
			var insertErr error
			b.Iterate(func(key types.InternalKey, value types.Value) {
				if insertErr != nil {
					return
				}
				// A flush's edit records the allocator's last sequence, which
				// can already cover the start of the live WAL's generation, so
				// an empty scratch memtable starts at the first replayed seq.
				if scratch.KVCount() == 0 && key.Seq < scratch.FirstSeq() {
					scratch = memtable.New(key.Seq, db.opts.MemtableSeqWindow, db.cmp)
				}
				for key.Seq > scratch.LargestSeqSupposed() {
					if err := flushScratch(); err != nil {
						insertErr = err
						return
					}
					flushedDuringThisWAL = true
					scratch = memtable.New(scratch.LargestSeqSupposed()+1, db.opts.MemtableSeqWindow, db.cmp)
				}
				if err := scratch.Insert(key.UserKey, key.Seq, key.Kind, value); err != nil {
					insertErr = err
					return
				}
				if key.Seq > maxSeq {
					maxSeq = key.Seq
				}
				if scratch.ApproximateMemoryUsage() >= db.opts.WriteBufferSize {
					if err := flushScratch(); err != nil {
						insertErr = err
						return
					}
					flushedDuringThisWAL = true
					scratch = memtable.New(scratch.LargestSeqSupposed()+1, db.opts.MemtableSeqWindow, db.cmp)
				}
			})
			return insertErr
		})
		if err != nil {
			return dberrors.Wrap(dberrors.Corruption, "recover: replay wal", err)
		}

		if isLast && db.opts.ReuseLogs && !flushedDuringThisWAL {
			if w, err := wal.Reopen(db.env, path); err == nil {
				finalWAL = w
				finalLogNumber = number
				reusedLast = true
			}
		}
	}

	if !reusedLast {
		if err := flushScratch(); err != nil {
			return err
		}
		finalLogNumber = db.versions.NewFileNumber()
		w, err := wal.Create(db.env, version.LogFileName(db.dbname, finalLogNumber))
		if err != nil {
			return dberrors.Wrap(dberrors.IoError, "recover: create fresh wal", err)
		}
		finalWAL = w
		nextSeq := types.SeqN(db.seq.LastSequence())
		if maxSeq > nextSeq {
			nextSeq = maxSeq
		}
		scratch = memtable.New(nextSeq+1, db.opts.MemtableSeqWindow, db.cmp)
	}

	if db.seq.LastSequence() < uint64(maxSeq) {
		db.seq.SetLastSequence(uint64(maxSeq))
	}

	if addedFile || finalLogNumber != logNumber {
		edit.SetLogNumber(finalLogNumber)
		edit.SetPrevLogNumber(0)
		if err := db.versions.LogAndApply(edit); err != nil {
			return err
		}
	}

	db.roster = roster.New(scratch, db.log)
	db.registerGeneration(scratch, finalWAL)
	db.curLogNumber = finalLogNumber
	return nil
}

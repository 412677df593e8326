// Package wal is the write-ahead log of §4.C: batch.Batch payloads framed
// by pkg/walrecord and appended to one <number>.log file per memtable
// generation. Appends go straight to the log file rather than through a
// fan-in goroutine; WAL itself does no locking, and the store serializes
// its Append and Sync calls with its own mutex.
package wal

import (
	"bufio"
	"io"
	"os"

	"lsmdb/pkg/batch"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/env"
	"lsmdb/pkg/walrecord"
)

// WAL appends and replays write batches for one log file.
type WAL struct {
	f      *os.File
	writer *walrecord.Writer
}

// Create opens a fresh log file at path for writing, through e's
// capability set (§6, §9).
func Create(e *env.Env, path string) (*WAL, error) {
	f, err := e.NewWritableFile(path)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IoError, "wal: create", err)
	}
	return &WAL{f: f, writer: walrecord.NewWriter(f, 0)}, nil
}

// Reopen appends to an existing log file, picking up the block offset
// implied by its current length (§4.G ReuseLogs).
func Reopen(e *env.Env, path string) (*WAL, error) {
	f, err := e.NewAppendableFile(path)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IoError, "wal: reopen", err)
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, dberrors.Wrap(dberrors.IoError, "wal: seek", err)
	}
	return &WAL{f: f, writer: walrecord.NewWriter(f, size)}, nil
}

// Append frames and writes b's encoded payload. It does not fsync.
func (w *WAL) Append(b *batch.Batch) error {
	return w.writer.Append(b.Encode())
}

// Sync fsyncs the log file.
func (w *WAL) Sync() error {
	return w.writer.Sync()
}

// Close closes the underlying file without an implicit fsync.
func (w *WAL) Close() error {
	return w.writer.Close()
}

// Replay reads every batch in the log file at path in order and calls fn
// for each, the way §4.G recovery reconstructs a memtable from its log.
// paranoidChecks controls whether corruption aborts replay or is skipped.
func Replay(e *env.Env, path string, paranoidChecks bool, fn func(*batch.Batch) error) error {
	f, err := e.NewSequentialFile(path)
	if err != nil {
		return dberrors.Wrap(dberrors.IoError, "wal: open for replay", err)
	}
	defer f.Close()

	reporter := walrecord.NopReporter{}
	reader := walrecord.NewReader(bufio.NewReader(f), reporter, paranoidChecks)
	for {
		payload, err := reader.ReadRecord()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		b, err := batch.Decode(payload)
		if err != nil {
			if paranoidChecks {
				return err
			}
			continue
		}
		if err := fn(b); err != nil {
			return err
		}
	}
}

package table

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/bits-and-blooms/bloom/v3"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

// KV is one entry handed to BuildTable, already in ascending internal-key
// order (§3): the same order memtable.NewIterator produces.
type KV struct {
	Key   types.InternalKey
	Value types.Value
}

// Info describes a table file once written, the fields a version edit
// needs (§4.F, §6).
type Info struct {
	Smallest types.InternalKey
	Largest  types.InternalKey
	Size     uint64
	Count    uint64
}

type indexEntry struct {
	key      types.InternalKey
	offset   uint64
	valueLen uint32
}

// countingWriter tracks bytes written so index offsets can point back into
// the data block as it streams to disk.
type countingWriter struct {
	w interface{ Write([]byte) (int, error) }
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// BuildTable drains entries into a new sorted table at path: a data block
// of internal-key/value pairs, an index block, a bloom filter over user
// keys, and a fixed footer (§4.F step 4).
func BuildTable(path string, entries []KV, fpRate float64) (Info, error) {
	if len(entries) == 0 {
		return Info{}, dberrors.New(dberrors.InvalidArgument, "table: cannot build an empty table")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Info{}, dberrors.Wrap(dberrors.IoError, "table: create", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	cw := &countingWriter{w: bw}

	index := make([]indexEntry, 0, len(entries))
	filter := bloom.NewWithEstimates(uint(len(entries)), fpRate)

	for _, e := range entries {
		offset := uint64(cw.n)
		if err := writeEntry(cw, e); err != nil {
			return Info{}, err
		}
		index = append(index, indexEntry{key: e.Key, offset: offset, valueLen: uint32(len(e.Value))})
		filter.Add(e.Key.UserKey)
	}

	indexOffset := uint64(cw.n)
	for _, ie := range index {
		if err := writeIndexEntry(cw, ie); err != nil {
			return Info{}, err
		}
	}
	indexLen := uint64(cw.n) - indexOffset

	bloomOffset := uint64(cw.n)
	if _, err := filter.WriteTo(cw); err != nil {
		return Info{}, dberrors.Wrap(dberrors.IoError, "table: write bloom filter", err)
	}
	bloomLen := uint64(cw.n) - bloomOffset

	ft := footer{
		indexOffset: indexOffset,
		indexLen:    indexLen,
		bloomOffset: bloomOffset,
		bloomLen:    bloomLen,
		count:       uint64(len(entries)),
	}
	if _, err := cw.Write(ft.encode()); err != nil {
		return Info{}, dberrors.Wrap(dberrors.IoError, "table: write footer", err)
	}

	if err := bw.Flush(); err != nil {
		return Info{}, dberrors.Wrap(dberrors.IoError, "table: flush", err)
	}
	if err := f.Sync(); err != nil {
		return Info{}, dberrors.Wrap(dberrors.IoError, "table: fsync", err)
	}

	return Info{
		Smallest: entries[0].Key,
		Largest:  entries[len(entries)-1].Key,
		Size:     uint64(cw.n),
		Count:    uint64(len(entries)),
	}, nil
}

func writeEntry(w *countingWriter, e KV) error {
	var tmp [binary.MaxVarintLen64]byte
	if err := writeVarBytes(w, tmp[:], e.Key.UserKey); err != nil {
		return err
	}
	if err := writeUvarint(w, tmp[:], e.Key.Seq); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(e.Key.Kind)}); err != nil {
		return dberrors.Wrap(dberrors.IoError, "table: write kind", err)
	}
	if err := writeVarBytes(w, tmp[:], e.Value); err != nil {
		return err
	}
	return nil
}

func writeIndexEntry(w *countingWriter, ie indexEntry) error {
	var tmp [binary.MaxVarintLen64]byte
	if err := writeVarBytes(w, tmp[:], ie.key.UserKey); err != nil {
		return err
	}
	if err := writeUvarint(w, tmp[:], ie.key.Seq); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(ie.key.Kind)}); err != nil {
		return dberrors.Wrap(dberrors.IoError, "table: write index kind", err)
	}
	if err := writeUvarint(w, tmp[:], ie.offset); err != nil {
		return err
	}
	if err := writeUvarint(w, tmp[:], uint64(ie.valueLen)); err != nil {
		return err
	}
	return nil
}

func writeUvarint(w *countingWriter, tmp []byte, v uint64) error {
	n := binary.PutUvarint(tmp, v)
	_, err := w.Write(tmp[:n])
	if err != nil {
		return dberrors.Wrap(dberrors.IoError, "table: write varint", err)
	}
	return nil
}

func writeVarBytes(w *countingWriter, tmp []byte, b []byte) error {
	if err := writeUvarint(w, tmp, uint64(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return dberrors.Wrap(dberrors.IoError, "table: write bytes", err)
	}
	return nil
}

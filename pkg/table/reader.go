package table

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/exp/mmap"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

// GetResult mirrors memtable.GetResult so store.Get can treat both the
// same way.
type GetResult int

const (
	Missing GetResult = iota
	Found
	Deleted
)

// Reader is a read-only, memory-mapped view of one table file (§4.F). It
// is safe for concurrent Get calls.
type Reader struct {
	ra     *mmap.ReaderAt
	data   []byte
	index  []indexEntry
	filter *bloom.BloomFilter
	number uint64
}

// Open memory-maps the table at path, copies the whole file into memory,
// and decodes its index and bloom filter from that copy; Get reads entries
// from the copy, not from the mapping.
func Open(path string, number uint64) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IoError, "table: open", err)
	}

	size := ra.Len()
	if size < footerSize {
		ra.Close()
		return nil, dberrors.New(dberrors.Corruption, "table: file too small for footer")
	}
	footerBuf := make([]byte, footerSize)
	if _, err := ra.ReadAt(footerBuf, int64(size-footerSize)); err != nil {
		ra.Close()
		return nil, dberrors.Wrap(dberrors.IoError, "table: read footer", err)
	}
	ft, ok := decodeFooter(footerBuf)
	if !ok {
		ra.Close()
		return nil, dberrors.New(dberrors.Corruption, "table: bad footer magic")
	}

	data := make([]byte, size)
	if _, err := ra.ReadAt(data, 0); err != nil {
		ra.Close()
		return nil, dberrors.Wrap(dberrors.IoError, "table: read table", err)
	}

	index, err := decodeIndex(data[ft.indexOffset:ft.indexOffset+ft.indexLen], ft.count)
	if err != nil {
		ra.Close()
		return nil, err
	}

	filter := &bloom.BloomFilter{}
	if ft.bloomLen > 0 {
		if _, err := filter.ReadFrom(bytes.NewReader(data[ft.bloomOffset : ft.bloomOffset+ft.bloomLen])); err != nil {
			ra.Close()
			return nil, dberrors.Wrap(dberrors.Corruption, "table: read bloom filter", err)
		}
	}

	return &Reader{ra: ra, data: data, index: index, filter: filter, number: number}, nil
}

func (r *Reader) Number() uint64 { return r.number }
func (r *Reader) Close() error {
	return r.ra.Close()
}

// Get returns the value for userKey visible at snapshotSeq, following the
// same "largest seq not exceeding snapshot" rule as memtable.Get (§4.B).
// It consults the bloom filter first, matching the source's PickupTable
// avoidance of touching cold tables (§4.F, §9 grounding).
func (r *Reader) Get(userKey types.Key, snapshotSeq types.SeqN) (types.Value, GetResult) {
	if r.filter != nil && !r.filter.Test(userKey) {
		return nil, Missing
	}

	target := types.InternalKey{UserKey: userKey, Seq: snapshotSeq, Kind: types.TypeDeletion}
	i := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].key.Compare(target) >= 0
	})
	if i >= len(r.index) || !bytes.Equal(r.index[i].key.UserKey, userKey) {
		return nil, Missing
	}

	entry := r.index[i]
	value := r.data[entry.offset:]
	kv, _, err := decodeEntry(value)
	if err != nil {
		return nil, Missing
	}
	if kv.Key.Kind == types.TypeDeletion {
		return nil, Deleted
	}
	return kv.Value, Found
}

// Smallest and Largest report the table's key range.
func (r *Reader) Smallest() types.InternalKey { return r.index[0].key }
func (r *Reader) Largest() types.InternalKey  { return r.index[len(r.index)-1].key }

func decodeIndex(buf []byte, count uint64) ([]indexEntry, error) {
	out := make([]indexEntry, 0, count)
	for len(buf) > 0 {
		userKey, rest, err := readVarBytes(buf)
		if err != nil {
			return nil, err
		}
		seq, rest, err := readUvarint(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, dberrors.New(dberrors.Corruption, "table: truncated index kind")
		}
		kind := types.ValueType(rest[0])
		rest = rest[1:]
		offset, rest, err := readUvarint(rest)
		if err != nil {
			return nil, err
		}
		valueLen, rest, err := readUvarint(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, indexEntry{
			key:      types.InternalKey{UserKey: userKey, Seq: seq, Kind: kind},
			offset:   offset,
			valueLen: uint32(valueLen),
		})
		buf = rest
	}
	if uint64(len(out)) != count {
		return nil, dberrors.New(dberrors.Corruption, "table: index entry count mismatch")
	}
	return out, nil
}

func decodeEntry(buf []byte) (KV, []byte, error) {
	userKey, rest, err := readVarBytes(buf)
	if err != nil {
		return KV{}, nil, err
	}
	seq, rest, err := readUvarint(rest)
	if err != nil {
		return KV{}, nil, err
	}
	if len(rest) < 1 {
		return KV{}, nil, dberrors.New(dberrors.Corruption, "table: truncated entry kind")
	}
	kind := types.ValueType(rest[0])
	rest = rest[1:]
	value, rest, err := readVarBytes(rest)
	if err != nil {
		return KV{}, nil, err
	}
	return KV{Key: types.InternalKey{UserKey: userKey, Seq: seq, Kind: kind}, Value: value}, rest, nil
}

func readUvarint(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, dberrors.New(dberrors.Corruption, "table: bad varint")
	}
	return v, buf[n:], nil
}

func readVarBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := readUvarint(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, dberrors.New(dberrors.Corruption, "table: truncated bytes")
	}
	return rest[:n], rest[n:], nil
}

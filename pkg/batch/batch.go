// Package batch implements the write-batch encoding of §6: the payload
// carried by one WAL record. A Write call's mutations share one
// contiguous run of sequence numbers, but that run can straddle a
// memtable window boundary; the store splits it into one Batch per
// memtable generation it admits to, so each resulting WAL record is
// all-or-nothing for the generation it was logged against.
package batch

import (
	"encoding/binary"
	"fmt"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

const (
	tagDelete = 0
	tagPut    = 1

	// headerSize is the fixed 8-byte sequence + 4-byte count prefix.
	headerSize = 8 + 4
)

// mutation is one entry of a batch: a Put carries a value, a Delete does not.
type mutation struct {
	key   types.Key
	value types.Value
	del   bool
}

// Batch groups multiple mutations that share one contiguous run of
// sequence numbers, assigned by the sequence allocator (§4.A) before the
// batch is appended to the WAL.
type Batch struct {
	seq  types.SeqN
	muts []mutation
}

// New returns an empty batch. Seq is filled in by SetSequence once the
// sequence allocator has reserved a range for it.
func New() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key types.Key, value types.Value) {
	b.muts = append(b.muts, mutation{key: append(types.Key(nil), key...), value: append(types.Value(nil), value...)})
}

func (b *Batch) Delete(key types.Key) {
	b.muts = append(b.muts, mutation{key: append(types.Key(nil), key...), del: true})
}

func (b *Batch) Clear() {
	b.muts = b.muts[:0]
	b.seq = 0
}

// Count returns the number of mutations in the batch.
func (b *Batch) Count() int {
	return len(b.muts)
}

// SetSequence records the first sequence number of the run reserved for
// this batch; mutation i is assigned seq+i.
func (b *Batch) SetSequence(seq types.SeqN) {
	b.seq = seq
}

// Sequence returns the first sequence number of the batch.
func (b *Batch) Sequence() types.SeqN {
	return b.seq
}

// Iterate calls fn for each mutation in order, with its resolved internal
// key. It is used both to insert a batch into a memtable and to encode it.
func (b *Batch) Iterate(fn func(key types.InternalKey, value types.Value)) {
	for i, m := range b.muts {
		kind := types.TypeValue
		if m.del {
			kind = types.TypeDeletion
		}
		fn(types.InternalKey{UserKey: m.key, Seq: b.seq + types.SeqN(i), Kind: kind}, m.value)
	}
}

// Encode produces the WAL payload of §6: 8-byte little-endian sequence,
// 4-byte little-endian count, then count entries of
// {tag: u8, key: varlen, [value: varlen]}.
func (b *Batch) Encode() []byte {
	size := headerSize
	for _, m := range b.muts {
		size += 1 + varintLen(uint64(len(m.key))) + len(m.key)
		if !m.del {
			size += varintLen(uint64(len(m.value))) + len(m.value)
		}
	}

	buf := make([]byte, headerSize, size)
	binary.LittleEndian.PutUint64(buf[0:8], b.seq)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(b.muts)))

	for _, m := range b.muts {
		if m.del {
			buf = append(buf, tagDelete)
			buf = appendVarBytes(buf, m.key)
		} else {
			buf = append(buf, tagPut)
			buf = appendVarBytes(buf, m.key)
			buf = appendVarBytes(buf, m.value)
		}
	}
	return buf
}

// Decode parses a WAL payload produced by Encode. It never aliases the
// input slice.
func Decode(payload []byte) (*Batch, error) {
	if len(payload) < headerSize {
		return nil, dberrors.New(dberrors.Corruption, "write batch shorter than header")
	}
	b := &Batch{
		seq: binary.LittleEndian.Uint64(payload[0:8]),
	}
	count := binary.LittleEndian.Uint32(payload[8:12])
	rest := payload[headerSize:]

	for i := uint32(0); i < count; i++ {
		if len(rest) < 1 {
			return nil, dberrors.New(dberrors.Corruption, "write batch truncated before tag")
		}
		tag := rest[0]
		rest = rest[1:]

		key, tail, err := readVarBytes(rest)
		if err != nil {
			return nil, err
		}
		rest = tail

		switch tag {
		case tagDelete:
			b.muts = append(b.muts, mutation{key: key, del: true})
		case tagPut:
			value, tail, err := readVarBytes(rest)
			if err != nil {
				return nil, err
			}
			rest = tail
			b.muts = append(b.muts, mutation{key: key, value: value})
		default:
			return nil, dberrors.New(dberrors.Corruption, fmt.Sprintf("write batch: unknown tag %d", tag))
		}
	}
	if len(rest) != 0 {
		return nil, dberrors.New(dberrors.Corruption, "write batch has trailing bytes")
	}
	return b, nil
}

func varintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func appendVarBytes(buf []byte, b []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(b)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, b...)
	return buf
}

func readVarBytes(buf []byte) ([]byte, []byte, error) {
	length, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, nil, dberrors.New(dberrors.Corruption, "write batch: bad varint length")
	}
	buf = buf[n:]
	if uint64(len(buf)) < length {
		return nil, nil, dberrors.New(dberrors.Corruption, "write batch: value shorter than declared length")
	}
	out := make([]byte, length)
	copy(out, buf[:length])
	return out, buf[length:], nil
}

// Package table implements the Level-0 sorted table format written by a
// flush (§4.F): an immutable, sorted run of internal keys with a trailing
// index and bloom filter, read back with a memory-mapped reader, built
// around the write path's InternalKey ordering and bloom.v3/x/exp/mmap.
package table

import "encoding/binary"

// footerSize is the fixed trailer written at the end of every table file:
// five little-endian uint64 fields plus a uint64 magic number.
const footerSize = 8 * 6

// magic identifies a well-formed table footer.
const magic uint64 = 0xd15a99edd0db1e

type footer struct {
	indexOffset uint64
	indexLen    uint64
	bloomOffset uint64
	bloomLen    uint64
	count       uint64
}

func (f footer) encode() []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.indexOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.indexLen)
	binary.LittleEndian.PutUint64(buf[16:24], f.bloomOffset)
	binary.LittleEndian.PutUint64(buf[24:32], f.bloomLen)
	binary.LittleEndian.PutUint64(buf[32:40], f.count)
	binary.LittleEndian.PutUint64(buf[40:48], magic)
	return buf
}

func decodeFooter(buf []byte) (footer, bool) {
	if len(buf) != footerSize {
		return footer{}, false
	}
	if binary.LittleEndian.Uint64(buf[40:48]) != magic {
		return footer{}, false
	}
	return footer{
		indexOffset: binary.LittleEndian.Uint64(buf[0:8]),
		indexLen:    binary.LittleEndian.Uint64(buf[8:16]),
		bloomOffset: binary.LittleEndian.Uint64(buf[16:24]),
		bloomLen:    binary.LittleEndian.Uint64(buf[24:32]),
		count:       binary.LittleEndian.Uint64(buf[32:40]),
	}, true
}

package walrecord

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"lsmdb/pkg/dberrors"
)

// Writer appends framed records to an underlying file, splitting any
// record that would cross a block boundary into First/Middle/Last pieces
// the way §4.C requires. It writes straight to a plain *os.File with an
// explicit Sync rather than through a buffered fan-in channel: one
// Writer belongs to exactly one caller (the active WAL's owner, or the
// version set serializing manifest appends), so there is nothing to fan
// in.
type Writer struct {
	f           *os.File
	blockOffset int
}

// NewWriter wraps f, an already-positioned file. destOffset is the current
// length of f (0 for a fresh file), used to compute the starting position
// within a 32 KiB block for append-mode reopens (§4.G ReuseLogs).
func NewWriter(f *os.File, destOffset int64) *Writer {
	return &Writer{f: f, blockOffset: int(destOffset % BlockSize)}
}

// Append frames record and writes it, splitting across block boundaries as
// needed. It does not fsync; call Sync for that.
func (w *Writer) Append(record []byte) error {
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			if leftover > 0 {
				if _, err := w.f.Write(make([]byte, leftover)); err != nil {
					return dberrors.Wrap(dberrors.IoError, "walrecord: pad block", err)
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		n := len(record)
		fragment := n
		end := true
		if fragment > avail {
			fragment = avail
			end = false
		}

		var typ RecordType
		switch {
		case begin && end:
			typ = TypeFull
		case begin:
			typ = TypeFirst
		case end:
			typ = TypeLast
		default:
			typ = TypeMiddle
		}

		if err := w.writePhysical(typ, record[:fragment]); err != nil {
			return err
		}

		record = record[fragment:]
		begin = false
		if len(record) == 0 {
			break
		}
	}
	return nil
}

func (w *Writer) writePhysical(typ RecordType, payload []byte) error {
	var header [HeaderSize]byte
	crc := crc32.ChecksumIEEE(payload)
	crc = crc32.Update(crc, crc32.IEEETable, []byte{byte(typ)})
	binary.LittleEndian.PutUint32(header[0:4], crc)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(payload)))
	header[6] = byte(typ)

	if _, err := w.f.Write(header[:]); err != nil {
		return dberrors.Wrap(dberrors.IoError, "walrecord: write header", err)
	}
	if len(payload) > 0 {
		if _, err := w.f.Write(payload); err != nil {
			return dberrors.Wrap(dberrors.IoError, "walrecord: write payload", err)
		}
	}
	w.blockOffset += HeaderSize + len(payload)
	return nil
}

// Sync fsyncs the underlying file.
func (w *Writer) Sync() error {
	if err := w.f.Sync(); err != nil {
		return dberrors.Wrap(dberrors.IoError, "walrecord: fsync", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

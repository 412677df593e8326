package walrecord

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"strconv"

	"lsmdb/pkg/dberrors"
)

// Reporter receives corruption notices from a Reader that has decided to
// tolerate them (ParanoidChecks off). bytesDropped counts the bytes that
// were skipped to resynchronize.
type Reporter interface {
	Corruption(bytesDropped int, reason error)
}

// NopReporter drops corruption notices.
type NopReporter struct{}

func (NopReporter) Corruption(int, error) {}

// Reader reconstructs logical records from a framed block stream, dropping
// or aborting on corruption per §4.C / §7.
type Reader struct {
	src            io.Reader
	reporter       Reporter
	paranoidChecks bool

	buf        [BlockSize]byte
	bufLen     int
	bufPos     int
	eof        bool
	lastRecord bool // never read; ReadRecord detects a missing First with its own inFragmentedRecord flag
}

// NewReader wraps src, which must yield the framed stream from its start.
func NewReader(src io.Reader, reporter Reporter, paranoidChecks bool) *Reader {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Reader{src: src, reporter: reporter, paranoidChecks: paranoidChecks}
}

// ReadRecord returns the next logical record, reassembling fragments
// across block boundaries. It returns io.EOF when the stream is exhausted
// cleanly.
func (r *Reader) ReadRecord() ([]byte, error) {
	var record []byte
	inFragmentedRecord := false

	for {
		payload, typ, err := r.readPhysical()
		if err == io.EOF {
			if inFragmentedRecord {
				return nil, r.corrupt(len(record), errPartialRecordAtEOF)
			}
			return nil, io.EOF
		}
		if err != nil {
			if r.paranoidChecks {
				return nil, err
			}
			r.reporter.Corruption(len(record), err)
			inFragmentedRecord = false
			record = nil
			continue
		}

		switch typ {
		case TypeFull:
			if inFragmentedRecord {
				if err := r.handleStrayStart(); err != nil {
					return nil, err
				}
			}
			return payload, nil
		case TypeFirst:
			if inFragmentedRecord {
				if err := r.handleStrayStart(); err != nil {
					return nil, err
				}
			}
			record = append([]byte(nil), payload...)
			inFragmentedRecord = true
		case TypeMiddle:
			if !inFragmentedRecord {
				if err := r.handleMissingStart("middle record without first"); err != nil {
					return nil, err
				}
				continue
			}
			record = append(record, payload...)
		case TypeLast:
			if !inFragmentedRecord {
				if err := r.handleMissingStart("last record without first"); err != nil {
					return nil, err
				}
				continue
			}
			record = append(record, payload...)
			return record, nil
		default:
			if err := r.handleMissingStart("unknown record type"); err != nil {
				return nil, err
			}
		}
	}
}

func (r *Reader) handleStrayStart() error {
	err := errUnexpectedFirst
	if r.paranoidChecks {
		return dberrors.Wrap(dberrors.Corruption, "walrecord: unexpected FIRST record", err)
	}
	r.reporter.Corruption(0, err)
	return nil
}

func (r *Reader) handleMissingStart(reason string) error {
	err := dberrors.New(dberrors.Corruption, "walrecord: "+reason)
	if r.paranoidChecks {
		return err
	}
	r.reporter.Corruption(0, err)
	return nil
}

var (
	errPartialRecordAtEOF = dberrors.New(dberrors.Corruption, "walrecord: partial record at end of file")
	errUnexpectedFirst    = dberrors.New(dberrors.Corruption, "walrecord: FIRST record before previous one finished")
)

func (r *Reader) corrupt(dropped int, err error) error {
	if r.paranoidChecks {
		return err
	}
	r.reporter.Corruption(dropped, err)
	return io.EOF
}

// readPhysical returns the payload and type of the next physical record in
// the block stream, refilling the block buffer as needed.
func (r *Reader) readPhysical() ([]byte, RecordType, error) {
	for {
		if r.bufLen-r.bufPos < HeaderSize {
			if r.eof {
				return nil, TypeZero, io.EOF
			}
			if err := r.fillBlock(); err != nil {
				if err == io.EOF {
					// Trailing garbage shorter than a header is discarded by
					// fillBlock itself, not treated as corruption, since a
					// clean writer never leaves a dangling header start.
					r.eof = true
					continue
				}
				return nil, TypeZero, dberrors.Wrap(dberrors.IoError, "walrecord: read block", err)
			}
			continue
		}

		header := r.buf[r.bufPos : r.bufPos+HeaderSize]
		crc := binary.LittleEndian.Uint32(header[0:4])
		length := int(binary.LittleEndian.Uint16(header[4:6]))
		typ := RecordType(header[6])

		if r.bufPos+HeaderSize+length > r.bufLen {
			// A record header claiming more bytes than remain in the block
			// is corruption: resync by discarding the rest of the block.
			dropped := r.bufLen - r.bufPos
			r.bufPos = r.bufLen
			return nil, TypeZero, dberrors.New(dberrors.Corruption, dropf("walrecord: record length exceeds block", dropped))
		}

		payload := r.buf[r.bufPos+HeaderSize : r.bufPos+HeaderSize+length]
		r.bufPos += HeaderSize + length

		if typ == TypeZero {
			// Writer never emits a zero-type header (its block-tail padding
			// is shorter than a header and fillBlock discards it); a zeroed
			// header is skipped without a checksum check.
			continue
		}

		gotCRC := crc32.ChecksumIEEE(payload)
		gotCRC = crc32.Update(gotCRC, crc32.IEEETable, []byte{byte(typ)})
		if gotCRC != crc {
			return nil, TypeZero, dberrors.New(dberrors.Corruption, "walrecord: checksum mismatch")
		}

		out := make([]byte, length)
		copy(out, payload)
		return out, typ, nil
	}
}

func (r *Reader) fillBlock() error {
	// Whatever is left here is fewer than HeaderSize bytes of zero padding
	// a writer left at the tail of the previous block when the next
	// record's header wouldn't fit (writer.go); it is never the start of a
	// real header. Blocks are read at fixed BlockSize offsets from the
	// stream, so this tail must be discarded rather than spliced onto the
	// next block's bytes, or every record after the first padded block
	// reads misaligned.
	r.bufPos = 0
	r.bufLen = 0

	n, err := io.ReadFull(r.src, r.buf[:])
	r.bufLen = n
	if n > 0 && err == io.ErrUnexpectedEOF {
		return nil
	}
	if n == 0 && err == io.EOF {
		return io.EOF
	}
	if err == io.EOF {
		return nil
	}
	return err
}

func dropf(msg string, dropped int) string {
	return msg + " (dropped " + strconv.Itoa(dropped) + " bytes)"
}

package version

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

// Edit tags, one per field, per §6: "varint-tagged records; each field has
// a distinct tag. Unknown tags are a corruption."
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagPrevLogNumber  = 9
	tagNewFile        = 5
	tagDeletedFile    = 6
)

// FileMetaData describes one sorted table (§3): opaque beyond these
// fields, which is all a version edit or a level list needs.
type FileMetaData struct {
	Number   uint64
	Size     uint64
	Smallest types.InternalKey
	Largest  types.InternalKey
}

type newFileEntry struct {
	Level int
	Meta  FileMetaData
}

type deletedFileEntry struct {
	Level  int
	Number uint64
}

// Edit is one delta between two Versions (§3), the unit appended to the
// manifest. Every field is optional except the file lists, which default
// to empty.
type Edit struct {
	hasComparator bool
	comparator    string

	hasLogNumber bool
	logNumber    uint64

	hasPrevLogNumber bool
	prevLogNumber    uint64

	hasNextFileNumber bool
	nextFileNumber    uint64

	hasLastSequence bool
	lastSequence    types.SeqN

	newFiles     []newFileEntry
	deletedFiles []deletedFileEntry
}

func NewEdit() *Edit { return &Edit{} }

func (e *Edit) SetComparatorName(name string) { e.hasComparator, e.comparator = true, name }
func (e *Edit) SetLogNumber(n uint64)         { e.hasLogNumber, e.logNumber = true, n }
func (e *Edit) SetPrevLogNumber(n uint64)     { e.hasPrevLogNumber, e.prevLogNumber = true, n }
func (e *Edit) SetNextFileNumber(n uint64)    { e.hasNextFileNumber, e.nextFileNumber = true, n }
func (e *Edit) SetLastSequence(s types.SeqN)  { e.hasLastSequence, e.lastSequence = true, s }

func (e *Edit) AddFile(level int, meta FileMetaData) {
	e.newFiles = append(e.newFiles, newFileEntry{Level: level, Meta: meta})
}

func (e *Edit) DeleteFile(level int, number uint64) {
	e.deletedFiles = append(e.deletedFiles, deletedFileEntry{Level: level, Number: number})
}

func (e *Edit) LogNumber() (uint64, bool)      { return e.logNumber, e.hasLogNumber }
func (e *Edit) NextFileNumber() (uint64, bool) { return e.nextFileNumber, e.hasNextFileNumber }
func (e *Edit) LastSequence() (types.SeqN, bool) { return e.lastSequence, e.hasLastSequence }

// Encode serializes the edit with the varint-tagged, stable field order of
// §6: re-encoding a decoded edit reproduces the same bytes.
func (e *Edit) Encode() []byte {
	var buf bytes.Buffer

	if e.hasComparator {
		putUvarint(&buf, tagComparator)
		putLenPrefixed(&buf, []byte(e.comparator))
	}
	if e.hasLogNumber {
		putUvarint(&buf, tagLogNumber)
		putUvarint(&buf, e.logNumber)
	}
	if e.hasPrevLogNumber {
		putUvarint(&buf, tagPrevLogNumber)
		putUvarint(&buf, e.prevLogNumber)
	}
	if e.hasNextFileNumber {
		putUvarint(&buf, tagNextFileNumber)
		putUvarint(&buf, e.nextFileNumber)
	}
	if e.hasLastSequence {
		putUvarint(&buf, tagLastSequence)
		putUvarint(&buf, uint64(e.lastSequence))
	}
	for _, d := range e.deletedFiles {
		putUvarint(&buf, tagDeletedFile)
		putUvarint(&buf, uint64(d.Level))
		putUvarint(&buf, d.Number)
	}
	for _, f := range e.newFiles {
		putUvarint(&buf, tagNewFile)
		putUvarint(&buf, uint64(f.Level))
		putUvarint(&buf, f.Meta.Number)
		putUvarint(&buf, f.Meta.Size)
		putInternalKey(&buf, f.Meta.Smallest)
		putInternalKey(&buf, f.Meta.Largest)
	}
	return buf.Bytes()
}

// DecodeEdit parses the payload produced by Encode.
func DecodeEdit(payload []byte) (*Edit, error) {
	e := &Edit{}
	r := bytes.NewReader(payload)

	for r.Len() > 0 {
		tag, err := getUvarint(r)
		if err != nil {
			return nil, dberrors.Wrap(dberrors.Corruption, "version edit: bad tag", err)
		}
		switch tag {
		case tagComparator:
			name, err := getLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			e.hasComparator, e.comparator = true, string(name)
		case tagLogNumber:
			n, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			e.hasLogNumber, e.logNumber = true, n
		case tagPrevLogNumber:
			n, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			e.hasPrevLogNumber, e.prevLogNumber = true, n
		case tagNextFileNumber:
			n, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			e.hasNextFileNumber, e.nextFileNumber = true, n
		case tagLastSequence:
			n, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			e.hasLastSequence, e.lastSequence = true, types.SeqN(n)
		case tagDeletedFile:
			level, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			number, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			e.deletedFiles = append(e.deletedFiles, deletedFileEntry{Level: int(level), Number: number})
		case tagNewFile:
			level, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			number, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			size, err := getUvarint(r)
			if err != nil {
				return nil, err
			}
			smallest, err := getInternalKey(r)
			if err != nil {
				return nil, err
			}
			largest, err := getInternalKey(r)
			if err != nil {
				return nil, err
			}
			e.newFiles = append(e.newFiles, newFileEntry{
				Level: int(level),
				Meta:  FileMetaData{Number: number, Size: size, Smallest: smallest, Largest: largest},
			})
		default:
			return nil, dberrors.New(dberrors.Corruption, fmt.Sprintf("version edit: unknown tag %d", tag))
		}
	}
	return e, nil
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putLenPrefixed(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func putInternalKey(buf *bytes.Buffer, k types.InternalKey) {
	putLenPrefixed(buf, k.UserKey)
	putUvarint(buf, uint64(k.Seq))
	putUvarint(buf, uint64(k.Kind))
}

func getUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, dberrors.Wrap(dberrors.Corruption, "version edit: truncated varint", err)
	}
	return v, nil
}

func getLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := getUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, dberrors.Wrap(dberrors.Corruption, "version edit: truncated bytes", err)
	}
	return out, nil
}

func getInternalKey(r *bytes.Reader) (types.InternalKey, error) {
	userKey, err := getLenPrefixed(r)
	if err != nil {
		return types.InternalKey{}, err
	}
	seq, err := getUvarint(r)
	if err != nil {
		return types.InternalKey{}, err
	}
	kind, err := getUvarint(r)
	if err != nil {
		return types.InternalKey{}, err
	}
	return types.InternalKey{UserKey: userKey, Seq: types.SeqN(seq), Kind: types.ValueType(kind)}, nil
}

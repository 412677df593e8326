package walrecord

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, records ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := NewWriter(f, 0)
	for _, r := range records {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	return path
}

func TestRoundTripSmallRecords(t *testing.T) {
	path := writeRecords(t, []byte("hello"), []byte("world"), []byte{})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewReader(f, nil, true)
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), rec)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), rec)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte{}, rec)

	_, err = r.ReadRecord()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecordSpanningBlockBoundaryIsReassembled(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, BlockSize*2+123)
	path := writeRecords(t, big)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewReader(f, nil, true)
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, big, rec)
}

func TestRecordAfterBlockTailPaddingIsAligned(t *testing.T) {
	// Sized so the first record leaves 3 bytes of block tail, too little
	// for another header, forcing the writer to zero-pad and start the
	// second record fresh in the next block.
	firstLen := BlockSize - HeaderSize - 3
	first := bytes.Repeat([]byte{0xCD}, firstLen)
	second := []byte("second record, fresh block")
	path := writeRecords(t, first, second)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewReader(f, nil, true)
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, first, rec)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, second, rec)

	_, err = r.ReadRecord()
	assert.ErrorIs(t, err, io.EOF)
}

type collectingReporter struct {
	drops []int
}

func (c *collectingReporter) Corruption(bytesDropped int, _ error) {
	c.drops = append(c.drops, bytesDropped)
}

func TestCorruptionToleratedWithoutParanoidChecks(t *testing.T) {
	path := writeRecords(t, []byte("first"), []byte("second"), []byte("third"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the second record's payload to break its CRC.
	data[HeaderSize+len("first")+HeaderSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	reporter := &collectingReporter{}
	r := NewReader(f, reporter, false)

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), rec)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("third"), rec)
	assert.NotEmpty(t, reporter.drops)
}

func TestCorruptionAbortsUnderParanoidChecks(t *testing.T) {
	path := writeRecords(t, []byte("first"), []byte("second"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[HeaderSize+len("first")+HeaderSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewReader(f, nil, true)
	_, err = r.ReadRecord()
	require.NoError(t, err) // "first" is unaffected

	_, err = r.ReadRecord()
	require.Error(t, err)
}

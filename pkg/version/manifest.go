package version

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/zhangyunhao116/skipset"

	"lsmdb/pkg/clock"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/env"
	"lsmdb/pkg/types"
	"lsmdb/pkg/walrecord"
)

// Set is the version set and manifest of §4.G: an append-only edits file,
// recovery, the live-file set, and the file-number allocator.
type Set struct {
	dbname string
	cmp    types.Comparator
	env    *env.Env
	log    zerolog.Logger

	maxLevels int
	seq       *clock.SequenceAllocator

	nextFileNumber     atomic.Uint64
	manifestFileNumber uint64
	logNumber          atomic.Uint64
	prevLogNumber      atomic.Uint64

	current atomic.Pointer[Version]

	// log_and_apply is serialized: mu guards the manifest writer and the
	// "one in flight" invariant of §4.G / §5.
	mu             sync.Mutex
	applyCond      *sync.Cond
	applyInFlight  bool
	manifestWriter *walrecord.Writer
	manifestFile   *os.File

	pendingOutputs *skipset.Uint64Set
}

// New constructs a Set that has not yet been recovered.
func New(dbname string, cmp types.Comparator, maxLevels int, seq *clock.SequenceAllocator, e *env.Env, log zerolog.Logger) *Set {
	if cmp == nil {
		cmp = types.ByteWiseComparator
	}
	s := &Set{
		dbname:         dbname,
		cmp:            cmp,
		env:            e,
		log:            log,
		maxLevels:      maxLevels,
		seq:            seq,
		pendingOutputs: skipset.NewUint64(),
	}
	s.applyCond = sync.NewCond(&s.mu)
	s.nextFileNumber.Store(2)
	s.current.Store(newVersion(cmp, maxLevels))
	return s
}

// Current returns the live Version, ref'd for the caller.
func (s *Set) Current() *Version {
	v := s.current.Load()
	v.Ref()
	return v
}

// NewFileNumber returns a monotonically increasing file number (§4.G).
// A number is handed out again only if ReuseFileNumber gives it back;
// otherwise a caller that abandons a number simply leaves a gap.
func (s *Set) NewFileNumber() uint64 {
	return s.nextFileNumber.Add(1) - 1
}

// ReuseFileNumber gives back a number if it is still the most recently
// issued one: used when a candidate file number was allocated but never
// installed anywhere (§4.G).
func (s *Set) ReuseFileNumber(n uint64) {
	s.nextFileNumber.CompareAndSwap(n+1, n)
}

func (s *Set) LogNumber() uint64     { return s.logNumber.Load() }
func (s *Set) PrevLogNumber() uint64 { return s.prevLogNumber.Load() }

// MarkFileNumberUsed advances the file-number allocator past n, so
// NewFileNumber never hands out n or any smaller number afterward.
func (s *Set) MarkFileNumberUsed(n uint64) {
	for {
		cur := s.nextFileNumber.Load()
		if n < cur {
			return
		}
		if s.nextFileNumber.CompareAndSwap(cur, n+1) {
			return
		}
	}
}

// AddPendingOutput and RemovePendingOutput maintain the set of file numbers
// currently being written; AddLiveFiles reports them as live, so they are
// never garbage collected until removed here or referenced by a committed
// Version (§3).
func (s *Set) AddPendingOutput(n uint64)    { s.pendingOutputs.Add(n) }
func (s *Set) RemovePendingOutput(n uint64) { s.pendingOutputs.Remove(n) }

// AddLiveFiles fills out with every file number referenced by any level of
// the current Version, plus any still-pending output (§3, §4.G).
func (s *Set) AddLiveFiles(out map[uint64]struct{}) {
	v := s.Current()
	defer v.Unref()
	for level := 0; level < v.NumLevels(); level++ {
		for _, f := range v.Files(level) {
			out[f.Number] = struct{}{}
		}
	}
	s.pendingOutputs.Range(func(n uint64) bool {
		out[n] = struct{}{}
		return true
	})
}

// LogAndApply appends edit to the manifest, fsyncs it, and installs the
// successor Version (§4.G). Only one LogAndApply is in flight at a time;
// a second caller waits on applyCond until the first completes.
func (s *Set) LogAndApply(edit *Edit) error {
	s.mu.Lock()
	for s.applyInFlight {
		s.applyCond.Wait()
	}
	s.applyInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.applyInFlight = false
		s.applyCond.Broadcast()
		s.mu.Unlock()
	}()

	if logNum, ok := edit.LogNumber(); ok {
		s.logNumber.Store(logNum)
	}
	if next, ok := edit.NextFileNumber(); ok {
		s.MarkFileNumberUsed(next - 1)
	}
	edit.SetNextFileNumber(s.nextFileNumber.Load())
	if lastSeq, ok := edit.LastSequence(); ok {
		s.seq.SetLastSequence(uint64(lastSeq))
	} else {
		edit.SetLastSequence(types.SeqN(s.seq.LastSequence()))
	}

	base := s.current.Load()
	newVer := apply(base, edit)

	if err := s.writeToManifest(edit); err != nil {
		return err
	}

	s.current.Store(newVer)
	s.log.Info().Msg("version set: applied edit, installed new version")
	return nil
}

// writeToManifest creates the manifest+CURRENT pair on the first call,
// otherwise appends to the existing manifest file (§4.G, §6).
func (s *Set) writeToManifest(edit *Edit) error {
	if s.manifestWriter == nil {
		if err := s.createManifest(); err != nil {
			return err
		}
	}

	if err := s.manifestWriter.Append(edit.Encode()); err != nil {
		return dberrors.Wrap(dberrors.IoError, "manifest: append edit", err)
	}
	if err := s.manifestWriter.Sync(); err != nil {
		return dberrors.Wrap(dberrors.IoError, "manifest: fsync", err)
	}
	return nil
}

func (s *Set) createManifest() error {
	s.manifestFileNumber = s.NewFileNumber()
	path := ManifestFileName(s.dbname, s.manifestFileNumber)

	f, err := s.env.NewWritableFile(path)
	if err != nil {
		return dberrors.Wrap(dberrors.IoError, "manifest: create", err)
	}
	s.manifestFile = f
	s.manifestWriter = walrecord.NewWriter(f, 0)

	// Seed the fresh manifest with a snapshot edit describing the current
	// Version, so a reader that starts from this file alone can rebuild
	// state without any earlier manifest.
	snapshot := NewEdit()
	snapshot.SetComparatorName(types.ByteWiseComparatorName)
	snapshot.SetLogNumber(s.logNumber.Load())
	snapshot.SetPrevLogNumber(s.prevLogNumber.Load())
	snapshot.SetNextFileNumber(s.nextFileNumber.Load())
	snapshot.SetLastSequence(types.SeqN(s.seq.LastSequence()))
	base := s.current.Load()
	for level := 0; level < base.NumLevels(); level++ {
		for _, file := range base.Files(level) {
			snapshot.AddFile(level, file)
		}
	}
	if err := s.manifestWriter.Append(snapshot.Encode()); err != nil {
		return dberrors.Wrap(dberrors.IoError, "manifest: write snapshot", err)
	}
	if err := s.manifestWriter.Sync(); err != nil {
		return dberrors.Wrap(dberrors.IoError, "manifest: fsync snapshot", err)
	}

	return s.setCurrentFile(s.manifestFileNumber)
}

func (s *Set) setCurrentFile(manifestNumber uint64) error {
	tmp := CurrentFileName(s.dbname) + fmt.Sprintf(".dbtmp-%d", manifestNumber)
	name := fmt.Sprintf("MANIFEST-%06d\n", manifestNumber)
	f, err := s.env.NewWritableFile(tmp)
	if err != nil {
		return dberrors.Wrap(dberrors.IoError, "manifest: write CURRENT temp", err)
	}
	if _, err := f.WriteString(name); err != nil {
		f.Close()
		return dberrors.Wrap(dberrors.IoError, "manifest: write CURRENT temp", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return dberrors.Wrap(dberrors.IoError, "manifest: fsync CURRENT temp", err)
	}
	if err := f.Close(); err != nil {
		return dberrors.Wrap(dberrors.IoError, "manifest: close CURRENT temp", err)
	}
	if err := s.env.RenameFile(tmp, CurrentFileName(s.dbname)); err != nil {
		_ = s.env.RemoveFile(tmp)
		return dberrors.Wrap(dberrors.IoError, "manifest: install CURRENT", err)
	}
	return nil
}

// Recover reads CURRENT, replays the manifest's edits to rebuild the
// current Version, and reports whether the manifest should be rotated
// (§4.G Recover). It must be called before any LogAndApply.
func (s *Set) Recover() (saveManifest bool, err error) {
	currentPath := CurrentFileName(s.dbname)
	cf, err := s.env.NewSequentialFile(currentPath)
	if err != nil {
		return false, dberrors.Wrap(dberrors.IoError, "recover: read CURRENT", err)
	}
	data, err := io.ReadAll(cf)
	cf.Close()
	if err != nil {
		return false, dberrors.Wrap(dberrors.IoError, "recover: read CURRENT", err)
	}
	name := strings.TrimSuffix(string(data), "\n")
	if name == "" {
		return false, dberrors.New(dberrors.Corruption, "recover: CURRENT file is empty")
	}
	number, typ, ok := ParseFileName(name)
	if !ok || typ != FileTypeManifest {
		return false, dberrors.New(dberrors.Corruption, "recover: CURRENT does not name a manifest")
	}
	s.manifestFileNumber = number

	f, err := s.env.NewSequentialFile(ManifestFileName(s.dbname, number))
	if err != nil {
		return false, dberrors.Wrap(dberrors.IoError, "recover: open manifest", err)
	}
	defer f.Close()

	v := newVersion(s.cmp, s.maxLevels)
	var (
		haveLogNumber      bool
		haveNextFileNumber bool
		haveLastSequence   bool
		haveComparator     bool
		editCount          int
	)

	reader := walrecord.NewReader(bufio.NewReader(f), walrecord.NopReporter{}, true)
	for {
		payload, rerr := reader.ReadRecord()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return false, rerr
		}
		editCount++
		edit, derr := DecodeEdit(payload)
		if derr != nil {
			return false, derr
		}
		if edit.hasComparator {
			if edit.comparator != types.ByteWiseComparatorName {
				return false, dberrors.New(dberrors.Corruption, "recover: manifest comparator does not match the configured comparator")
			}
			haveComparator = true
		}
		v = apply(v, edit)
		if n, has := edit.LogNumber(); has {
			s.logNumber.Store(n)
			haveLogNumber = true
		}
		if edit.hasPrevLogNumber {
			s.prevLogNumber.Store(edit.prevLogNumber)
		}
		if n, has := edit.NextFileNumber(); has {
			// A manifest can contain more than one next_file_number field
			// (the snapshot edit written at manifest creation records a
			// value already advanced past the manifest's own file number,
			// followed by whatever edit triggered creation). Take the
			// maximum seen rather than the last, or replay could hand out
			// a number the manifest itself already occupies.
			s.MarkFileNumberUsed(n - 1)
			haveNextFileNumber = true
		}
		if seq, has := edit.LastSequence(); has {
			s.seq.SetLastSequence(uint64(seq))
			haveLastSequence = true
		}
	}

	if !haveLogNumber || !haveNextFileNumber || !haveLastSequence || !haveComparator {
		return false, dberrors.New(dberrors.Corruption, "recover: manifest missing required fields")
	}

	s.current.Store(v)

	size, sizeErr := s.env.GetFileSize(ManifestFileName(s.dbname, number))
	tooBig := sizeErr == nil && size > 16<<20
	saveManifest = tooBig || editCount > 4096

	s.log.Info().
		Uint64("manifest_number", number).
		Uint64("log_number", s.logNumber.Load()).
		Uint64("last_sequence", s.seq.LastSequence()).
		Msg("version set: recovered manifest")

	return saveManifest, nil
}

// WriteInitialManifest bootstraps a fresh database directory (§4.G
// Recover step 2): comparator name, log_number=0, next_file=2,
// last_sequence=0, then a CURRENT pointer.
func (s *Set) WriteInitialManifest() error {
	edit := NewEdit()
	edit.SetComparatorName(types.ByteWiseComparatorName)
	edit.SetLogNumber(0)
	edit.SetNextFileNumber(2)
	edit.SetLastSequence(0)
	return s.LogAndApply(edit)
}

// MaxLevels returns the configured level cap.
func (s *Set) MaxLevels() int { return s.maxLevels }

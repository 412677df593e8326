package version

import (
	"sync/atomic"

	"lsmdb/pkg/types"
)

// Version is the result of applying every edit in order (§3): a map from
// level to its sorted-table descriptors. It is reference counted; the last
// holder releases the underlying file list for GC.
type Version struct {
	cmp    types.Comparator
	levels [][]FileMetaData
	refs   atomic.Int32
}

func newVersion(cmp types.Comparator, maxLevels int) *Version {
	v := &Version{cmp: cmp, levels: make([][]FileMetaData, maxLevels)}
	v.refs.Store(1)
	return v
}

func (v *Version) Ref()   { v.refs.Add(1) }
func (v *Version) Unref() { v.refs.Add(-1) }

// Files returns the descriptors at level, ordered by insertion (level 0
// may overlap; higher levels do not, though this spec never produces
// non-empty higher levels from compaction, which is out of scope).
func (v *Version) Files(level int) []FileMetaData {
	if level < 0 || level >= len(v.levels) {
		return nil
	}
	return v.levels[level]
}

func (v *Version) NumLevels() int { return len(v.levels) }

// clone deep-copies the level lists so an edit can be applied without
// mutating the Version other readers still hold.
func (v *Version) clone() *Version {
	nv := newVersion(v.cmp, len(v.levels))
	for i, files := range v.levels {
		nv.levels[i] = append([]FileMetaData(nil), files...)
	}
	return nv
}

// apply builds the successor Version from base by adding and removing the
// files named in edit (§4.G log_and_apply).
func apply(base *Version, edit *Edit) *Version {
	nv := base.clone()

	for _, d := range edit.deletedFiles {
		if d.Level < 0 || d.Level >= len(nv.levels) {
			continue
		}
		files := nv.levels[d.Level]
		for i, f := range files {
			if f.Number == d.Number {
				nv.levels[d.Level] = append(files[:i], files[i+1:]...)
				break
			}
		}
	}
	for _, f := range edit.newFiles {
		if f.Level < 0 || f.Level >= len(nv.levels) {
			continue
		}
		nv.levels[f.Level] = append(nv.levels[f.Level], f.Meta)
	}
	return nv
}

// overlapsRange reports whether any file at level overlaps
// [smallest, largest] by user key (§4.F step 5).
func (v *Version) overlapsRange(level int, smallest, largest types.InternalKey) bool {
	for _, f := range v.Files(level) {
		if v.cmp(f.Largest.UserKey, smallest.UserKey) < 0 || v.cmp(f.Smallest.UserKey, largest.UserKey) > 0 {
			continue
		}
		return true
	}
	return false
}

func (v *Version) totalSize(level int) uint64 {
	var sz uint64
	for _, f := range v.Files(level) {
		sz += f.Size
	}
	return sz
}

// PickLevelForMemTableOutput implements §4.F step 5's single-level
// non-overlap check: it does not select compaction inputs, only a flush's
// destination level. If base is nil (first flush ever) the result is
// always level 0.
func PickLevelForMemTableOutput(base *Version, smallest, largest types.InternalKey, maxLevel int) int {
	if base == nil {
		return 0
	}
	level := 0
	if base.overlapsRange(0, smallest, largest) {
		return 0
	}
	// Push down while the new range doesn't overlap level+1 and doesn't
	// grow level+1's overlap too much relative to level+2 (the same
	// two-level neighbor check the source's PickLevelForMemTableOutput
	// makes, without the multi-level compaction machinery around it).
	const maxGrandparentOverlapBytes = 20 << 20 // 20 MiB, matching the source's default target file size * 10
	for level < maxLevel {
		if base.overlapsRange(level+1, smallest, largest) {
			break
		}
		if level+2 < base.NumLevels() {
			overlap := overlapBytes(base, level+2, smallest, largest)
			if overlap > maxGrandparentOverlapBytes {
				break
			}
		}
		level++
	}
	return level
}

func overlapBytes(v *Version, level int, smallest, largest types.InternalKey) uint64 {
	var sum uint64
	for _, f := range v.Files(level) {
		if v.cmp(f.Largest.UserKey, smallest.UserKey) < 0 || v.cmp(f.Smallest.UserKey, largest.UserKey) > 0 {
			continue
		}
		sum += f.Size
	}
	return sum
}

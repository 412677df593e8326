package version

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// File naming follows §6: CURRENT, MANIFEST-<n>, <n>.log, <n>.ldb, LOCK,
// LOG/LOG.old, all relative to dbname.

func LogFileName(dbname string, number uint64) string {
	return filepath.Join(dbname, fmt.Sprintf("%06d.log", number))
}

func TableFileName(dbname string, number uint64) string {
	return filepath.Join(dbname, fmt.Sprintf("%06d.ldb", number))
}

func ManifestFileName(dbname string, number uint64) string {
	return filepath.Join(dbname, fmt.Sprintf("MANIFEST-%06d", number))
}

func CurrentFileName(dbname string) string {
	return filepath.Join(dbname, "CURRENT")
}

func LockFileName(dbname string) string {
	return filepath.Join(dbname, "LOCK")
}

func InfoLogFileName(dbname string) string {
	return filepath.Join(dbname, "LOG")
}

func OldInfoLogFileName(dbname string) string {
	return filepath.Join(dbname, "LOG.old")
}

// FileType classifies a path returned by Env.GetChildren.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeLog
	FileTypeTable
	FileTypeManifest
	FileTypeCurrent
	FileTypeLock
	FileTypeInfoLog
)

// ParseFileName recognizes one of §6's file naming conventions and
// extracts its file number where one applies.
func ParseFileName(name string) (number uint64, typ FileType, ok bool) {
	switch {
	case name == "CURRENT":
		return 0, FileTypeCurrent, true
	case name == "LOCK":
		return 0, FileTypeLock, true
	case name == "LOG" || name == "LOG.old":
		return 0, FileTypeInfoLog, true
	case strings.HasPrefix(name, "MANIFEST-"):
		n, err := strconv.ParseUint(strings.TrimPrefix(name, "MANIFEST-"), 10, 64)
		if err != nil {
			return 0, FileTypeUnknown, false
		}
		return n, FileTypeManifest, true
	case strings.HasSuffix(name, ".log"):
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			return 0, FileTypeUnknown, false
		}
		return n, FileTypeLog, true
	case strings.HasSuffix(name, ".ldb") || strings.HasSuffix(name, ".sst"):
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".ldb"), ".sst")
		n, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			return 0, FileTypeUnknown, false
		}
		return n, FileTypeTable, true
	default:
		return 0, FileTypeUnknown, false
	}
}

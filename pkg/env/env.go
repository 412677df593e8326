// Package env implements the Env capability set of §6/§9: a struct of
// function-shaped operations rather than an interface hierarchy, so a test
// can swap in an in-memory Env without an inheritance chain. The default
// Env wraps the OS filesystem and, for LockFile, golang.org/x/sys/unix's
// flock(2).
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"lsmdb/pkg/dberrors"
)

// FileLock represents a held exclusive lock on a LOCK file (§6).
type FileLock struct {
	f *os.File
}

// Env is the collaborator contract of §6, consumed by recovery, the WAL,
// and the manifest. It is a plain struct of closures instead of an
// interface so callers can replace individual operations in tests without
// implementing the whole surface.
type Env struct {
	CreateDir        func(dir string) error
	FileExists       func(path string) bool
	GetChildren      func(dir string) ([]string, error)
	NewWritableFile  func(path string) (*os.File, error)
	NewAppendableFile func(path string) (*os.File, error)
	NewSequentialFile func(path string) (*os.File, error)
	RenameFile       func(oldpath, newpath string) error
	RemoveFile       func(path string) error
	LockFile         func(path string) (*FileLock, error)
	UnlockFile       func(l *FileLock) error
	GetFileSize      func(path string) (int64, error)
	NowMicros        func() int64
}

// Default returns the Env backed by the real filesystem.
func Default() *Env {
	return &Env{
		CreateDir: func(dir string) error {
			return os.MkdirAll(dir, 0o755)
		},
		FileExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		GetChildren: func(dir string) ([]string, error) {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			sort.Strings(names)
			return names, nil
		},
		NewWritableFile: func(path string) (*os.File, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		},
		NewAppendableFile: func(path string) (*os.File, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		},
		NewSequentialFile: func(path string) (*os.File, error) {
			return os.Open(path)
		},
		RenameFile: os.Rename,
		RemoveFile: os.Remove,
		LockFile: func(path string) (*FileLock, error) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
			if err != nil {
				return nil, dberrors.Wrap(dberrors.IoError, "env: open lock file", err)
			}
			if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
				f.Close()
				return nil, dberrors.Wrap(dberrors.IoError, fmt.Sprintf("env: lock %s held by another process", path), err)
			}
			return &FileLock{f: f}, nil
		},
		UnlockFile: func(l *FileLock) error {
			if l == nil {
				return nil
			}
			if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
				l.f.Close()
				return dberrors.Wrap(dberrors.IoError, "env: unlock", err)
			}
			return l.f.Close()
		},
		GetFileSize: func(path string) (int64, error) {
			fi, err := os.Stat(path)
			if err != nil {
				return 0, err
			}
			return fi.Size(), nil
		},
		NowMicros: func() int64 {
			return time.Now().UnixMicro()
		},
	}
}

// JoinPath is a small helper most callers reach for alongside an Env.
func JoinPath(dir string, elems ...string) string {
	return filepath.Join(append([]string{dir}, elems...)...)
}

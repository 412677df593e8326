package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDirFileExistsGetChildrenRoundTrip(t *testing.T) {
	e := Default()
	base := t.TempDir()
	dir := filepath.Join(base, "sub")

	require.False(t, e.FileExists(dir))
	require.NoError(t, e.CreateDir(dir))
	require.True(t, e.FileExists(dir))

	f, err := e.NewWritableFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	f, err = e.NewWritableFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	children, err := e.GetChildren(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.txt"}, children)
}

func TestNewWritableFileTruncatesExistingContent(t *testing.T) {
	e := Default()
	path := filepath.Join(t.TempDir(), "f.txt")

	f, err := e.NewWritableFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("hello world")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = e.NewWritableFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestNewAppendableFilePreservesExistingContent(t *testing.T) {
	e := Default()
	path := filepath.Join(t.TempDir(), "f.txt")

	f, err := e.NewWritableFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("a")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = e.NewAppendableFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("b")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ab", string(data))
}

func TestRenameAndRemoveFile(t *testing.T) {
	e := Default()
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old")
	newPath := filepath.Join(dir, "new")

	f, err := e.NewWritableFile(oldPath)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, e.RenameFile(oldPath, newPath))
	require.False(t, e.FileExists(oldPath))
	require.True(t, e.FileExists(newPath))

	require.NoError(t, e.RemoveFile(newPath))
	require.False(t, e.FileExists(newPath))
}

func TestGetFileSizeReflectsContent(t *testing.T) {
	e := Default()
	path := filepath.Join(t.TempDir(), "f.txt")
	f, err := e.NewWritableFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("0123456789")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	size, err := e.GetFileSize(path)
	require.NoError(t, err)
	require.EqualValues(t, 10, size)
}

func TestLockFileExcludesSecondLockerUntilUnlocked(t *testing.T) {
	e := Default()
	path := filepath.Join(t.TempDir(), "LOCK")

	lock, err := e.LockFile(path)
	require.NoError(t, err)

	_, err = e.LockFile(path)
	require.Error(t, err, "a second lock attempt on a held lock file must fail")

	require.NoError(t, e.UnlockFile(lock))

	lock2, err := e.LockFile(path)
	require.NoError(t, err, "the lock must become available again once released")
	require.NoError(t, e.UnlockFile(lock2))
}

func TestUnlockFileOnNilIsANoop(t *testing.T) {
	e := Default()
	require.NoError(t, e.UnlockFile(nil))
}

func TestJoinPath(t *testing.T) {
	require.Equal(t, filepath.Join("a", "b", "c"), JoinPath("a", "b", "c"))
}

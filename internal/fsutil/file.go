// Package fsutil holds the file-system helpers shared by report, snapshot and
// config writers: atomic replacement of output files and an exclusive lock on
// an output directory so two runs never interleave their reports.
package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrAtomicWriteFailed = errors.New("fsutil: atomic write failed")
	ErrLocked            = errors.New("fsutil: directory locked by another process")
)

// LockFileName is created inside a locked directory.
const LockFileName = ".sramprint.lock"

// AtomicWriter writes to a temporary sibling file and renames it over the
// target on Commit. Readers never observe a partially written file.
type AtomicWriter struct {
	path     string
	tempFile *os.File
	tempPath string
}

// NewAtomicWriter creates the parent directory if needed and opens the
// temporary file with perm.
func NewAtomicWriter(path string, perm os.FileMode) (*AtomicWriter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tempPath := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	// The umask may have narrowed perm.
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("chmod temp file: %w", err)
	}
	return &AtomicWriter{path: path, tempFile: f, tempPath: tempPath}, nil
}

// Write writes data to the temporary file.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.tempFile.Write(p)
}

// Commit syncs the temporary file and renames it over the target.
func (w *AtomicWriter) Commit() error {
	if err := w.tempFile.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

// Abort discards the temporary file.
func (w *AtomicWriter) Abort() {
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

// AtomicWriteFile is os.WriteFile with atomic replacement.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	w, err := NewAtomicWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// DirLock is an exclusive advisory lock on a directory.
type DirLock struct {
	file *os.File
}

// LockDir takes the lock on dir without blocking. It returns ErrLocked when
// another process holds it.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return &DirLock{file: f}, nil
}

// Unlock releases the lock.
func (l *DirLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

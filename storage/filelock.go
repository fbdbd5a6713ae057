package storage

import (
	"os"
	"time"
)

const lockPollInterval = 10 * time.Millisecond

// FileLock is an advisory lock on path + ".lock" that keeps a second
// ingestion process away from a store file.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unheld lock for path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock polls for the lock until timeout, then returns ErrLockTimeout.
func (l *FileLock) Lock(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return &StorageError{Op: "lock", Entity: "lockfile", ID: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for tryLock(f) != nil {
		if !time.Now().Before(deadline) {
			f.Close()
			return ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
	l.file = f
	return nil
}

// Unlock releases a held lock; it is a no-op otherwise.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	err := unlock(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	os.Remove(l.path)
	return err
}

package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// lockPollInterval is how often Lock retries a held lock.
const lockPollInterval = 10 * time.Millisecond

// FileLock is an advisory, cross-process lock over a data directory. The
// holder's pid is written into the lock file so a blocked run can report it.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock backed by path + ".lock". Nothing is acquired
// until Lock is called.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Lock acquires the lock, polling until timeout. A lock still held at the
// deadline yields an error wrapping ErrLockTimeout.
func (l *FileLock) Lock(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return &StorageError{Op: "lock", Entity: "directory", ID: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		err := tryLock(f)
		if err == nil {
			break
		}
		if !isContention(err) {
			f.Close()
			return &StorageError{Op: "lock", Entity: "directory", ID: l.path, Err: err}
		}
		if !time.Now().Before(deadline) {
			f.Close()
			lockErr := &StorageError{Op: "lock", Entity: "directory", ID: l.path, Err: ErrLockTimeout}
			if pid := readHolder(l.path); pid != "" {
				return fmt.Errorf("%w (held by pid %s)", lockErr, pid)
			}
			return lockErr
		}
		time.Sleep(lockPollInterval)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	l.file = f
	return nil
}

// Unlock releases the lock. The lock file is kept so waiters never lock an
// unlinked inode.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	l.file.Truncate(0)
	err := unlock(l.file)
	if closeErr := l.file.Close(); err == nil {
		err = closeErr
	}
	l.file = nil
	if err != nil {
		return &StorageError{Op: "unlock", Entity: "directory", ID: l.path, Err: err}
	}
	return nil
}

func readHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

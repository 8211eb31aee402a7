// Package flock takes exclusive advisory locks on lock files so that only one
// writable handle opens a database directory at a time.
package flock

import (
	"errors"
	"os"
)

// ErrLocked is returned when another handle already holds the lock.
var ErrLocked = errors.New("flock: already locked")

// Lock is a held lock file.
type Lock struct {
	f *os.File
}

// Acquire creates path if needed and locks it without blocking.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file. The file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

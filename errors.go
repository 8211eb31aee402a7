package pgstore

import (
	"errors"
	"fmt"

	"github.com/qminer/qminer-sub006/backup"
	"github.com/qminer/qminer-sub006/internal/flock"
	"github.com/qminer/qminer-sub006/pgblob"
	"github.com/qminer/qminer-sub006/record"
)

var (
	// ErrLocked is returned when another writable Base holds the directory.
	ErrLocked = errors.New("pgstore: directory is locked")
	// ErrNotFound is returned when a directory holds no base.
	ErrNotFound = errors.New("pgstore: base not found")
	// ErrExists is returned by Create for a directory that already holds a base.
	ErrExists = errors.New("pgstore: base already exists")
	// ErrCorrupted matches damaged catalogs, pages and backups.
	ErrCorrupted = pgblob.ErrCorrupted
	// ErrCapacityExceeded matches values that do not fit a page.
	ErrCapacityExceeded = pgblob.ErrCapacityExceeded
	// ErrIO matches failed reads, writes and syncs.
	ErrIO = pgblob.ErrIO
	// ErrReadOnly is returned by writes through a read-only Base.
	ErrReadOnly = record.ErrReadOnly
	// ErrClosed is returned after Close.
	ErrClosed = record.ErrClosed
	// ErrSchema is returned for invalid store definitions.
	ErrSchema = record.ErrSchema
)

// ErrUnknownStore is returned for a store name the base does not hold.
type ErrUnknownStore struct {
	Name string
}

func (e *ErrUnknownStore) Error() string {
	return fmt.Sprintf("pgstore: unknown store %q", e.Name)
}

// ErrStoreExists is returned when creating a store whose name is taken.
type ErrStoreExists struct {
	Name string
}

func (e *ErrStoreExists) Error() string {
	return fmt.Sprintf("pgstore: store %q already exists", e.Name)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, flock.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}

	// Damage detected by the record and backup layers is reported as
	// corruption, like damage found by the blob engine.
	if !errors.Is(err, ErrCorrupted) &&
		(errors.Is(err, record.ErrBadCatalog) ||
			errors.Is(err, record.ErrCorruptRecord) ||
			errors.Is(err, backup.ErrBadManifest) ||
			errors.Is(err, backup.ErrChecksum)) {
		return fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	return err
}

package record

import (
	"errors"

	"github.com/qminer/qminer-sub006/pgblob"
)

var (
	// ErrUnknownRecord is returned for a record id the store does not hold.
	ErrUnknownRecord = errors.New("record: unknown record")
	// ErrUnknownField is returned for a field name not in the schema.
	ErrUnknownField = errors.New("record: unknown field")
	// ErrFieldKind is returned when a value does not match the field kind.
	ErrFieldKind = errors.New("record: value does not match field kind")
	// ErrNotNullable is returned when null is written to a non-nullable field.
	ErrNotNullable = errors.New("record: field is not nullable")
	// ErrNullValue is returned when reading a typed value of a null field.
	ErrNullValue = errors.New("record: field is null")
	// ErrMissingField is returned when a new record lacks a non-nullable field.
	ErrMissingField = errors.New("record: missing field")
	// ErrNoPrimaryKey is returned for key lookups on a store without one.
	ErrNoPrimaryKey = errors.New("record: store has no primary field")
	// ErrDuplicateKey is returned when a primary key is already taken by
	// another record.
	ErrDuplicateKey = errors.New("record: duplicate primary key")
	// ErrSchema is returned for invalid schema definitions.
	ErrSchema = errors.New("record: invalid schema")
	// ErrBadCatalog is returned when a catalog or memory file is damaged.
	ErrBadCatalog = errors.New("record: corrupt catalog")

	// ErrReadOnly is returned by writes to a store opened read-only.
	ErrReadOnly = pgblob.ErrReadOnly
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = pgblob.ErrClosed
)

// ErrCorruptRecord is returned when a serialized record cannot be decoded.
var ErrCorruptRecord = errors.New("record: corrupt record buffer")

package codestore

import (
	"context"
	"errors"
)

// Kind identifies the class of record stored for an identity.
type Kind string

const (
	KindSecret    Kind = "secret"
	KindChallenge Kind = "challenge"
	KindRecovery  Kind = "recovery"
	KindDevice    Kind = "device"
	KindRateLimit Kind = "ratelimit"
)

// Key addresses a single record. Ref disambiguates records of the same kind
// for one identity (e.g. the method name, or a token hash).
type Key struct {
	Identity string
	Kind     Kind
	Ref      string
}

// Record is a stored value with its optimistic-concurrency version.
// Version starts at 1 and increases by 1 on every successful write.
type Record struct {
	Key     Key
	Value   []byte
	Version int64
}

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("codestore: record not found")
	// ErrConflict is returned when a conditional write loses a race.
	ErrConflict = errors.New("codestore: version conflict")
)

// Store is the persistence contract the engine depends on. Implementations
// must make CompareAndSwap, CompareAndDelete and PutIfAbsent atomic with
// respect to concurrent writers of the same key, since the engine relies on
// them for exactly-once consumption and rate-limit accounting.
type Store interface {
	Get(ctx context.Context, key Key) (Record, error)

	// Put unconditionally creates or replaces the record.
	Put(ctx context.Context, key Key, value []byte) (Record, error)

	// PutIfAbsent creates the record only if no record exists for the key.
	// Returns ErrConflict if one does.
	PutIfAbsent(ctx context.Context, key Key, value []byte) (Record, error)

	// CompareAndSwap replaces the record only if its current version equals
	// expectedVersion. Returns ErrConflict on version mismatch and
	// ErrNotFound if the record no longer exists.
	CompareAndSwap(ctx context.Context, key Key, value []byte, expectedVersion int64) (Record, error)

	// CompareAndDelete deletes the record only if its current version equals
	// expectedVersion. Returns ErrConflict on version mismatch and
	// ErrNotFound if the record no longer exists, so a caller consuming a
	// record learns whether its own delete took effect.
	CompareAndDelete(ctx context.Context, key Key, expectedVersion int64) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key Key) error

	// List returns all records of the given kind for an identity.
	List(ctx context.Context, identity string, kind Kind) ([]Record, error)

	// DeleteAll removes every record of the given kinds for an identity.
	DeleteAll(ctx context.Context, identity string, kinds ...Kind) error
}

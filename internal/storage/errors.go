package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreCorrupted is returned by Connect when an existing database does
	// not match the expected schema. This is fatal: the caller must not retry
	// and should surface the error to a human.
	ErrStoreCorrupted = errors.New("the vorg database is corrupted")
	// ErrStoreIO is returned when an underlying read or write fails during a
	// query against an already-validated store.
	ErrStoreIO = errors.New("store I/O error")
	// ErrDuplicate is returned when an imported item's hash already exists.
	ErrDuplicate = errors.New("duplicate item")
)

// wrapIO tags err as a store I/O failure so callers can match it with
// errors.Is(err, ErrStoreIO).
func wrapIO(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", msg, ErrStoreIO, err)
}

package storage

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Store is a handle to one vorg database. A Store returned by Connect is
// guaranteed to match the expected schema exactly.
type Store struct {
	db *sql.DB
}

// Connect opens the vorg database at path.
//
// If no file exists at path, a fresh database is created and the schema is
// bootstrapped in a single transaction. If a file exists, it is opened
// read-write and structurally validated; on any mismatch Connect returns an
// error matching ErrStoreCorrupted and no usable handle. Corruption is fatal:
// callers must not retry.
func Connect(path string) (*Store, error) {
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)
	if statErr != nil && !fresh {
		return nil, statErr
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// The physical store takes at most one logical connection; database/sql
	// serializes all access through it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	if fresh {
		if err := bootstrap(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Store{db: db}, nil
	}

	if err := validate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// bootstrap creates the schema as one atomic unit. A partially created
// database would be indistinguishable from corruption on the next open.
func bootstrap(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(bootstrapSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bootstrapping schema: %w", err)
	}
	return tx.Commit()
}

package storage

import (
	"database/sql"
	"fmt"
)

// validate checks an opened database against the expected schema manifests.
// The five phases run in a fixed order (tables and columns before indexes and
// triggers, since the latter reference the former) and each phase stops at
// the first mismatch. Any mismatch is reported as ErrStoreCorrupted.
func validate(db *sql.DB) error {
	if err := validateTables(db); err != nil {
		return err
	}
	if err := validateFTSTableCount(db); err != nil {
		return err
	}
	if err := validateNames(db,
		`SELECT name FROM sqlite_master
		 WHERE type='index' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`,
		expectedIndexes, "index"); err != nil {
		return err
	}
	return validateNames(db,
		`SELECT name FROM sqlite_master
		 WHERE type='trigger'
		 ORDER BY name`,
		expectedTriggers, "trigger")
}

// validateTables compares the name-sorted list of non-FTS base tables against
// the expected list, position by position, and checks each table's columns.
func validateTables(db *sql.DB) error {
	rows, err := db.Query(
		`SELECT tbl_name FROM sqlite_master
		 WHERE type='table' AND tbl_name NOT LIKE 'title_fts%'
		 ORDER BY tbl_name`,
	)
	if err != nil {
		return wrapIO(err, "listing tables")
	}
	defer rows.Close()

	for _, expected := range expectedTables {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return wrapIO(err, "listing tables")
			}
			return fmt.Errorf("%w: missing table %s", ErrStoreCorrupted, expected)
		}
		var name string
		if err := rows.Scan(&name); err != nil {
			return wrapIO(err, "listing tables")
		}
		if name != expected {
			return fmt.Errorf("%w: found table %s, want %s", ErrStoreCorrupted, name, expected)
		}
	}
	if rows.Next() {
		var name string
		_ = rows.Scan(&name)
		return fmt.Errorf("%w: unexpected table %s", ErrStoreCorrupted, name)
	}
	if err := rows.Err(); err != nil {
		return wrapIO(err, "listing tables")
	}
	// rows must be fully drained before issuing the per-table column queries
	// on the single connection.
	_ = rows.Close()

	for _, table := range expectedTables {
		if err := validateColumns(db, table); err != nil {
			return err
		}
	}
	return nil
}

// validateColumns compares a table's columns, name-sorted, against the
// expected (name, declared type) pairs. Declared types are raw strings: a
// VARCHAR(64) that became VARCHAR(65) is corruption.
func validateColumns(db *sql.DB, table string) error {
	rows, err := db.Query(
		"SELECT name, type FROM pragma_table_info(?) ORDER BY name", table,
	)
	if err != nil {
		return wrapIO(err, "reading table info")
	}
	defer rows.Close()

	for _, expected := range expectedColumns[table] {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return wrapIO(err, "reading table info")
			}
			return fmt.Errorf("%w: table %s is missing column %s",
				ErrStoreCorrupted, table, expected.name)
		}
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return wrapIO(err, "reading table info")
		}
		if name != expected.name {
			return fmt.Errorf("%w: table %s has column %s, want %s",
				ErrStoreCorrupted, table, name, expected.name)
		}
		if typ != expected.typ {
			return fmt.Errorf("%w: column %s.%s is declared %s, want %s",
				ErrStoreCorrupted, table, name, typ, expected.typ)
		}
	}
	if rows.Next() {
		var name, typ string
		_ = rows.Scan(&name, &typ)
		return fmt.Errorf("%w: table %s has unexpected column %s",
			ErrStoreCorrupted, table, name)
	}
	return wrapIO(rows.Err(), "reading table info")
}

// validateFTSTableCount checks that the full-text index spawned exactly the
// expected number of shadow tables.
func validateFTSTableCount(db *sql.DB) error {
	var count int
	err := db.QueryRow(
		`SELECT count(tbl_name) FROM sqlite_master
		 WHERE type='table' AND tbl_name LIKE 'title_fts%'`,
	).Scan(&count)
	if err != nil {
		return wrapIO(err, "counting FTS tables")
	}
	if count != expectedFTSTableCount {
		return fmt.Errorf("%w: found %d FTS tables, want %d",
			ErrStoreCorrupted, count, expectedFTSTableCount)
	}
	return nil
}

// validateNames runs a name-listing query and compares the result,
// positionally, against an expected sorted list.
func validateNames(db *sql.DB, query string, expected []string, kind string) error {
	rows, err := db.Query(query)
	if err != nil {
		return wrapIO(err, "listing "+kind+"s")
	}
	defer rows.Close()

	for _, want := range expected {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return wrapIO(err, "listing "+kind+"s")
			}
			return fmt.Errorf("%w: missing %s %s", ErrStoreCorrupted, kind, want)
		}
		var name string
		if err := rows.Scan(&name); err != nil {
			return wrapIO(err, "listing "+kind+"s")
		}
		if name != want {
			return fmt.Errorf("%w: found %s %s, want %s", ErrStoreCorrupted, kind, name, want)
		}
	}
	if rows.Next() {
		var name string
		_ = rows.Scan(&name)
		return fmt.Errorf("%w: unexpected %s %s", ErrStoreCorrupted, kind, name)
	}
	return wrapIO(rows.Err(), "listing "+kind+"s")
}

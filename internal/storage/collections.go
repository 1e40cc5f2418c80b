package storage

import (
	"database/sql"
	"errors"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:generate mockgen -source=collections.go -destination=mocks/collections.go -package=mocks

// CollectionStore is the read contract route handlers consume.
type CollectionStore interface {
	GetCollections() ([]Collection, error)
}

// GetCollections returns every collection with its items eagerly assembled,
// all read under one transaction so the two queries see the same snapshot.
// Failures are reported as ErrStoreIO and never leave the transaction open.
func (s *Store) GetCollections() ([]Collection, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapIO(err, "beginning read transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Collections first, fully drained: the single connection cannot serve
	// the item sub-queries while this result set is open.
	rows, err := tx.Query("SELECT collection_id, title FROM collections")
	if err != nil {
		return nil, wrapIO(err, "querying collections")
	}
	var collections []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			_ = rows.Close()
			return nil, wrapIO(err, "scanning collection")
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapIO(err, "querying collections")
	}
	_ = rows.Close()

	for i := range collections {
		items, err := collectionItems(tx, collections[i].ID)
		if err != nil {
			return nil, err
		}
		collections[i].Items = items
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapIO(err, "committing read transaction")
	}
	return collections, nil
}

func collectionItems(tx *sql.Tx, collectionID int64) ([]Item, error) {
	rows, err := tx.Query(
		"SELECT hash, ext FROM items WHERE collection_id = ?", collectionID,
	)
	if err != nil {
		return nil, wrapIO(err, "querying items")
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Hash, &it.Ext); err != nil {
			return nil, wrapIO(err, "scanning item")
		}
		items = append(items, it)
	}
	return items, wrapIO(rows.Err(), "querying items")
}

// ImportFile records one imported blob: a fresh collection titled title, an
// item carrying (hash, ext), and the meta:Incomplete tag so the metadata can
// be filled in later. The three inserts commit atomically. A hash already in
// the store yields ErrDuplicate.
func (s *Store) ImportFile(title, hash, ext string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapIO(err, "beginning import transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.Exec("INSERT INTO collections (title) VALUES (?)", title)
	if err != nil {
		return wrapIO(err, "inserting collection")
	}
	collectionID, err := res.LastInsertId()
	if err != nil {
		return wrapIO(err, "inserting collection")
	}

	_, err = tx.Exec(
		"INSERT INTO items (collection_id, hash, ext) VALUES (?, ?, ?)",
		collectionID, hash, ext,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return wrapIO(err, "inserting item")
	}

	if err := addTag(tx, collectionID, "meta:Incomplete"); err != nil {
		return err
	}
	return wrapIO(tx.Commit(), "committing import transaction")
}

// addTag attaches a tag to a collection, creating the tag row if needed.
func addTag(tx *sql.Tx, collectionID int64, tag string) error {
	if _, err := tx.Exec("INSERT OR IGNORE INTO tags (name) VALUES (?)", tag); err != nil {
		return wrapIO(err, "inserting tag")
	}
	_, err := tx.Exec(
		`INSERT INTO collection_tag (collection_id, tag_id)
		 SELECT ?, tag_id FROM tags WHERE name = ?`,
		collectionID, tag,
	)
	return wrapIO(err, "tagging collection")
}

// GetItems returns every item joined with its collection and tags, ordered
// by hash. The integrity checker walks this list against the blob store.
func (s *Store) GetItems() ([]TaggedItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapIO(err, "beginning read transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.Query(
		`SELECT c.collection_id, c.title, i.hash, i.ext
		 FROM collections c
		 JOIN items i ON c.collection_id = i.collection_id
		 ORDER BY i.hash`,
	)
	if err != nil {
		return nil, wrapIO(err, "querying items")
	}
	var items []TaggedItem
	for rows.Next() {
		var it TaggedItem
		if err := rows.Scan(&it.CollectionID, &it.Title, &it.Hash, &it.Ext); err != nil {
			_ = rows.Close()
			return nil, wrapIO(err, "scanning item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapIO(err, "querying items")
	}
	_ = rows.Close()

	for i := range items {
		tags, err := collectionTags(tx, items[i].CollectionID)
		if err != nil {
			return nil, err
		}
		items[i].Tags = tags
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapIO(err, "committing read transaction")
	}
	return items, nil
}

func collectionTags(tx *sql.Tx, collectionID int64) ([]string, error) {
	rows, err := tx.Query(
		`SELECT t.name FROM tags t
		 JOIN collection_tag ct ON ct.tag_id = t.tag_id
		 WHERE ct.collection_id = ?
		 ORDER BY t.name`,
		collectionID,
	)
	if err != nil {
		return nil, wrapIO(err, "querying tags")
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapIO(err, "scanning tag")
		}
		tags = append(tags, name)
	}
	return tags, wrapIO(rows.Err(), "querying tags")
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

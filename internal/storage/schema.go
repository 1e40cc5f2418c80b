package storage

// bootstrapSQL creates the vorg schema from scratch. The shape it produces is
// the interop contract with existing repositories: the validator below checks
// opened databases against exactly this layout, so any change here must be
// mirrored in the expected manifests.
const bootstrapSQL = `
CREATE TABLE tags (
    tag_id INTEGER PRIMARY KEY NOT NULL,
    name TEXT NOT NULL
);
CREATE TABLE collections (
    collection_id INTEGER PRIMARY KEY NOT NULL,
    title TEXT NOT NULL
);
CREATE TABLE items (
    collection_id INTEGER NOT NULL,
    item_id INTEGER PRIMARY KEY NOT NULL,
    hash VARCHAR(64) NOT NULL,
    ext TEXT NOT NULL,
    FOREIGN KEY (collection_id) REFERENCES collections(collection_id)
);
CREATE TABLE collection_tag (
    collection_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL,
    PRIMARY KEY (collection_id, tag_id),
    FOREIGN KEY (collection_id) REFERENCES collections(collection_id),
    FOREIGN KEY (tag_id) REFERENCES tags(tag_id)
);
CREATE VIRTUAL TABLE title_fts USING fts5(
    title,
    content='collections',
    content_rowid='collection_id'
);
CREATE UNIQUE INDEX hash_index ON items (hash);
CREATE UNIQUE INDEX tag_index ON tags (name);
CREATE TRIGGER title_insert AFTER INSERT ON collections
BEGIN
    INSERT INTO title_fts(rowid, title) VALUES (new.collection_id, new.title);
END;
CREATE TRIGGER title_delete AFTER DELETE ON collections
BEGIN
    INSERT INTO title_fts(title_fts, rowid, title)
        VALUES ('delete', old.collection_id, old.title);
END;
CREATE TRIGGER title_update AFTER UPDATE ON collections
BEGIN
    INSERT INTO title_fts(title_fts, rowid, title)
        VALUES ('delete', old.collection_id, old.title);
    INSERT INTO title_fts(rowid, title) VALUES (new.collection_id, new.title);
END;
`

// column is one (name, declared type) pair as reported by pragma_table_info.
// Declared types are compared as raw strings, no normalization.
type column struct {
	name string
	typ  string
}

// Expected schema manifests, every list in name-sorted order to line up with
// the ORDER BY in the validator queries.
var (
	expectedTables = []string{"collection_tag", "collections", "items", "tags"}

	expectedColumns = map[string][]column{
		"collections": {
			{"collection_id", "INTEGER"},
			{"title", "TEXT"},
		},
		"collection_tag": {
			{"collection_id", "INTEGER"},
			{"tag_id", "INTEGER"},
		},
		"items": {
			{"collection_id", "INTEGER"},
			{"ext", "TEXT"},
			{"hash", "VARCHAR(64)"},
			{"item_id", "INTEGER"},
		},
		"tags": {
			{"name", "TEXT"},
			{"tag_id", "INTEGER"},
		},
	}

	expectedIndexes  = []string{"hash_index", "tag_index"}
	expectedTriggers = []string{"title_delete", "title_insert", "title_update"}
)

// FTS5 with external content spawns four shadow tables next to title_fts
// itself (_data, _idx, _docsize, _config).
const expectedFTSTableCount = 5

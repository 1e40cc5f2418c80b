package storage

import "path/filepath"

// Collection is a titled group of items. Collections own their items
// exclusively: an item belongs to exactly one collection.
type Collection struct {
	ID    int64
	Title string
	Items []Item
}

// Item is a content-addressed file reference.
type Item struct {
	Hash string // hex content hash, unique across the store
	Ext  string // original file extension, no leading dot
}

// StorePath derives the item's location inside the blob store: the first two
// hash characters shard the store into subdirectories, the remainder plus
// extension form the filename. The result is a pure function of (Hash, Ext).
func (it Item) StorePath() string {
	return filepath.Join(it.Hash[:2], it.Hash[2:]+"."+it.Ext)
}

// TaggedItem is one row of the flat item listing used by integrity checks:
// an item joined with its collection and tags.
type TaggedItem struct {
	CollectionID int64
	Title        string
	Hash         string
	Ext          string
	Tags         []string
}

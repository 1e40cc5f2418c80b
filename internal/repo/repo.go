// Package repo manages a vorg repository directory: the database, the
// content-addressed blob store, and the thumbnail store.
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lunacd/vorg/internal/storage"
)

// DBFileName is the database file inside a repository root.
const DBFileName = "vorg.db"

const (
	storeDirName     = "store"
	thumbnailDirName = "thumbnail"
)

// ErrUnsupported is returned when a file to import has no usable extension.
var ErrUnsupported = errors.New("unsupported file")

// Repo is an opened vorg repository.
type Repo struct {
	root  string
	store *storage.Store
}

// Open opens the repository at root, creating it if it does not exist yet.
// Existence is determined by the database file: when vorg.db is present the
// blob and thumbnail directories must already exist, and the database is
// validated on connect.
func Open(root string) (*Repo, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(root, DBFileName)
	if info, err := os.Stat(dbPath); err == nil && info.Mode().IsRegular() {
		for _, dir := range []string{storeDirName, thumbnailDirName} {
			p := filepath.Join(root, dir)
			if info, err := os.Stat(p); err != nil || !info.IsDir() {
				return nil, fmt.Errorf("%s does not exist or is not a directory at %s", dir, p)
			}
		}
	} else {
		for _, dir := range []string{storeDirName, thumbnailDirName} {
			if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
				return nil, err
			}
		}
	}

	store, err := storage.Connect(dbPath)
	if err != nil {
		return nil, err
	}
	return &Repo{root: root, store: store}, nil
}

// Store exposes the repository's database handle.
func (r *Repo) Store() *storage.Store {
	return r.store
}

// Close closes the underlying database.
func (r *Repo) Close() error {
	return r.store.Close()
}

// Import moves a file, or every file under a directory, into the blob store
// and records it in the database. Each imported file becomes a collection
// titled with its source path, tagged meta:Incomplete until its metadata is
// curated. During a directory import, duplicates and unsupported files are
// logged and skipped; I/O errors abort the import.
func (r *Repo) Import(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("the file to import cannot be found: %s", path)
	}

	if !info.IsDir() {
		return r.importFile(path)
	}

	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := r.importFile(p); err != nil {
			if errors.Is(err, storage.ErrDuplicate) || errors.Is(err, ErrUnsupported) {
				slog.Warn("skipping file", "path", p, "reason", err)
				return nil
			}
			return err
		}
		return nil
	})
}

func (r *Repo) importFile(path string) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return fmt.Errorf("%w: %s has no extension", ErrUnsupported, path)
	}

	hash, err := hashFile(path)
	if err != nil {
		return err
	}

	// Record first: a duplicate is detected by the unique hash index before
	// the blob moves, so the source file is never touched for duplicates.
	if err := r.store.ImportFile(path, hash, ext); err != nil {
		return err
	}

	shard := filepath.Join(r.root, storeDirName, hash[:2])
	if err := os.MkdirAll(shard, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(shard, hash[2:]+"."+ext)

	// Rename when possible; across filesystems fall back to copy and remove.
	if err := os.Rename(path, dest); err != nil {
		if err := copyFile(path, dest); err != nil {
			return err
		}
		return os.Remove(path)
	}
	return nil
}

// CheckDataIntegrity compares the blob store against the database and returns
// a textual report, one problem per line. An empty report means the repo is
// healthy. This walks every blob; do not run it on a hot path.
func (r *Repo) CheckDataIntegrity() (string, error) {
	dbItems, err := r.store.GetItems()
	if err != nil {
		return "", err
	}

	storeItems, err := r.listStoreFiles()
	if err != nil {
		return "", err
	}
	sort.Slice(storeItems, func(i, j int) bool {
		return storeItems[i].Hash < storeItems[j].Hash
	})

	var report strings.Builder
	i, j := 0, 0
	for i < len(dbItems) && j < len(storeItems) {
		dbIt, stIt := dbItems[i], storeItems[j]
		switch {
		case dbIt.Hash == stIt.Hash:
			if dbIt.Ext != stIt.Ext {
				fmt.Fprintf(&report, "ext: different extensions: %s in db but %s in store\n",
					dbIt.Ext, stIt.Ext)
			}
			i++
			j++
		case dbIt.Hash < stIt.Hash:
			fmt.Fprintf(&report, "store: missing file for %s\n", dbIt.Hash)
			i++
		default:
			fmt.Fprintf(&report, "store: unexpected file %s\n", stIt.StorePath())
			j++
		}
	}
	for ; i < len(dbItems); i++ {
		fmt.Fprintf(&report, "store: missing file for %s\n", dbItems[i].Hash)
	}
	for ; j < len(storeItems); j++ {
		fmt.Fprintf(&report, "store: unexpected file %s\n", storeItems[j].StorePath())
	}
	return report.String(), nil
}

// listStoreFiles reconstructs (hash, ext) pairs from blob store paths.
func (r *Repo) listStoreFiles() ([]storage.Item, error) {
	storeRoot := filepath.Join(r.root, storeDirName)
	var items []storage.Item
	err := filepath.WalkDir(storeRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(storeRoot, p)
		if err != nil {
			return err
		}
		shard := filepath.Dir(rel)
		name := filepath.Base(rel)
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		items = append(items, storage.Item{
			Hash: shard + strings.TrimSuffix(name, filepath.Ext(name)),
			Ext:  ext,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

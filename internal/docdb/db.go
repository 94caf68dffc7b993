package docdb

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// DB is a set of collections sharing a directory and a namespace prefix.
type DB struct {
	dir       string
	namespace string

	mu          sync.Mutex
	collections map[string]*Collection
}

// Open returns a DB storing its collections in dir as
// {namespace}.{collection}_*.json. An empty namespace keeps every
// collection in memory.
func Open(dir, namespace string) (*DB, error) {
	if namespace != "" {
		if err := validName(namespace); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directory
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	return &DB{dir: dir, namespace: namespace, collections: map[string]*Collection{}}, nil
}

// Dir returns the directory holding the collection files.
func (db *DB) Dir() string {
	return db.dir
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid name %q", name)}
	}
	return nil
}

func (db *DB) collectionNamespace(name string) string {
	if db.namespace == "" {
		return ""
	}
	return db.namespace + "." + name
}

// Collection returns the named collection, creating it on first use.
func (db *DB) Collection(name string) (*Collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.collections[name]; ok {
		return c, nil
	}
	c := newCollection(name, db.collectionNamespace(name), db.dir)
	db.collections[name] = c
	return c, nil
}

// RemoveCollection forgets the named collection and deletes its files.
func (db *DB) RemoveCollection(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	db.mu.Lock()
	c, ok := db.collections[name]
	delete(db.collections, name)
	db.mu.Unlock()
	if !ok {
		c = newCollection(name, db.collectionNamespace(name), db.dir)
	}
	if !c.Persistent() {
		return nil
	}
	if err := c.acquire(); err != nil {
		return err
	}
	var errs []error
	for _, err := range []error{c.itemsFile.remove(), c.upsertsFile.remove(), c.removesFile.remove()} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	c.items, c.upserts, c.removes = map[string]Document{}, map[string]Upsert{}, map[string]Document{}
	c.release()
	if err := os.Remove(c.flock.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CollectionNames returns the names of the open collections and of those
// found on disk.
func (db *DB) CollectionNames() ([]string, error) {
	db.mu.Lock()
	names := maps.Clone(db.collections)
	db.mu.Unlock()
	set := make(map[string]struct{}, len(names))
	for n := range names {
		set[n] = struct{}{}
	}
	if db.namespace != "" {
		entries, err := os.ReadDir(db.dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to list %s: %w", db.dir, err)
		}
		prefix := db.namespace + "."
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() || !strings.HasPrefix(n, prefix) {
				continue
			}
			for _, suffix := range []string{"_items.json", "_upserts.json", "_removes.json"} {
				if strings.HasSuffix(n, suffix) {
					if name := strings.TrimSuffix(strings.TrimPrefix(n, prefix), suffix); name != "" {
						set[name] = struct{}{}
					}
				}
			}
		}
	}
	return slices.Sorted(maps.Keys(set)), nil
}

// Path returns the file path of one of the collection's logs: "items",
// "upserts" or "removes".
func (c *Collection) Path(log string) string {
	switch log {
	case "items":
		return c.itemsFile.path
	case "upserts":
		return c.upsertsFile.path
	case "removes":
		return c.removesFile.path
	}
	return ""
}

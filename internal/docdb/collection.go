// Collection store: items, change logs and the find pipeline.

package docdb

import (
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"github.com/maruel/ksid"
)

// Upsert is an entry of the upsert log: the document written and the value
// it replaced, if any.
type Upsert struct {
	Doc  Document `json:"doc"`
	Base Document `json:"base"`
}

// FindOptions controls ordering and paging of Find results. Skip is applied
// before Limit. Zero values disable each option.
type FindOptions struct {
	Sort  SortSpec
	Skip  int
	Limit int
}

type dirty uint8

const (
	dirtyItems dirty = 1 << iota
	dirtyUpserts
	dirtyRemoves
)

// Collection is a set of documents keyed by _id.
//
// All methods are safe for concurrent use. Each call reloads the persisted
// files first.
type Collection struct {
	name      string
	namespace string

	mu    sync.Mutex
	flock *fileLock

	items   map[string]Document
	upserts map[string]Upsert
	removes map[string]Document

	itemsFile   jsonFile[Document]
	upsertsFile jsonFile[Upsert]
	removesFile jsonFile[Document]
}

// NewMemoryCollection returns a collection that is never persisted.
func NewMemoryCollection(name string) *Collection {
	return newCollection(name, "", "")
}

func newCollection(name, namespace, dir string) *Collection {
	c := &Collection{
		name:      name,
		namespace: namespace,
		items:     map[string]Document{},
		upserts:   map[string]Upsert{},
		removes:   map[string]Document{},
	}
	if namespace != "" {
		base := filepath.Join(dir, namespace)
		c.itemsFile = jsonFile[Document]{path: base + "_items.json"}
		c.upsertsFile = jsonFile[Upsert]{path: base + "_upserts.json"}
		c.removesFile = jsonFile[Document]{path: base + "_removes.json"}
		c.flock = &fileLock{path: base + ".lock"}
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Persistent reports whether the collection is backed by files.
func (c *Collection) Persistent() bool {
	return c.namespace != ""
}

func (c *Collection) files() []string {
	if !c.Persistent() {
		return nil
	}
	return []string{c.itemsFile.path, c.upsertsFile.path, c.removesFile.path}
}

// acquire takes the in-process and cross-process locks and reloads state.
func (c *Collection) acquire() error {
	c.mu.Lock()
	if c.flock != nil {
		if err := c.flock.lock(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.reload()
	return nil
}

func (c *Collection) release() {
	if c.flock != nil {
		c.flock.unlock()
	}
	c.mu.Unlock()
}

// reload replaces the in-memory state with the files' content. An
// unreadable file is logged and treated as empty.
func (c *Collection) reload() {
	if !c.Persistent() {
		return
	}
	items, err := c.itemsFile.load()
	if err != nil {
		slog.Warn("Failed to load collection items, treating as empty", "collection", c.name, "err", err)
	}
	ups, err := c.upsertsFile.load()
	if err != nil {
		slog.Warn("Failed to load collection upserts, treating as empty", "collection", c.name, "err", err)
	}
	rms, err := c.removesFile.load()
	if err != nil {
		slog.Warn("Failed to load collection removes, treating as empty", "collection", c.name, "err", err)
	}
	c.items = byID(items)
	c.removes = byID(rms)
	c.upserts = make(map[string]Upsert, len(ups))
	for _, u := range ups {
		if id := u.Doc.ID(); id != "" {
			c.upserts[id] = u
		}
	}
}

func byID(docs []Document) map[string]Document {
	out := make(map[string]Document, len(docs))
	for _, d := range docs {
		if id := d.ID(); id != "" {
			out[id] = d
		}
	}
	return out
}

// flush rewrites the files marked dirty, in items, upserts, removes order.
func (c *Collection) flush(d dirty) error {
	if !c.Persistent() {
		return nil
	}
	if d&dirtyItems != 0 {
		if err := c.itemsFile.replace(sortedValues(c.items)); err != nil {
			return err
		}
	}
	if d&dirtyUpserts != 0 {
		if err := c.upsertsFile.replace(sortedValues(c.upserts)); err != nil {
			return err
		}
	}
	if d&dirtyRemoves != 0 {
		if err := c.removesFile.replace(sortedValues(c.removes)); err != nil {
			return err
		}
	}
	return nil
}

func sortedValues[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}
	return out
}

func compileFindSelector(selector any) (Matcher, error) {
	if selector == nil {
		return func(Document) (bool, error) { return true, nil }, nil
	}
	return CompileSelector(selector)
}

// Find returns deep copies of the documents matching selector. A nil
// selector matches every document.
func (c *Collection) Find(selector any, opts *FindOptions) ([]Document, error) {
	match, err := compileFindSelector(selector)
	if err != nil {
		return nil, err
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	return c.find(match, opts)
}

// FindOne returns the first document Find would return, or nil.
func (c *Collection) FindOne(selector any, opts *FindOptions) (Document, error) {
	docs, err := c.Find(selector, withLimit(opts))
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func withLimit(opts *FindOptions) *FindOptions {
	o := FindOptions{Limit: 1}
	if opts != nil {
		o.Sort = opts.Sort
		o.Skip = opts.Skip
	}
	return &o
}

func (c *Collection) find(match Matcher, opts *FindOptions) ([]Document, error) {
	var out []Document
	for _, id := range slices.Sorted(maps.Keys(c.items)) {
		d := c.items[id].Clone()
		ok, err := match(d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	if opts == nil {
		return out, nil
	}
	if err := opts.Sort.Sort(out); err != nil {
		return nil, err
	}
	if opts.Skip > 0 {
		out = out[min(opts.Skip, len(out)):]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Upsert stores doc as the current value of its _id, generating one when
// missing, and records it in the upsert log. It returns the stored copy.
func (c *Collection) Upsert(doc Document) (Document, error) {
	out, err := c.UpsertMany([]Document{doc}, nil)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpsertWithBase is Upsert with an explicit base recorded in the upsert
// log.
func (c *Collection) UpsertWithBase(doc, base Document) (Document, error) {
	out, err := c.UpsertMany([]Document{doc}, []Document{base})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpsertMany upserts docs. bases[i], when present and non-nil, is the
// explicit base of docs[i]. Otherwise the base is the one already pending in
// the upsert log, or else the current stored value.
func (c *Collection) UpsertMany(docs, bases []Document) ([]Document, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	out, d, err := c.upsert(docs, bases)
	if err != nil {
		return nil, err
	}
	if err := c.flush(d); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Collection) upsert(docs, bases []Document) ([]Document, dirty, error) {
	prepared := make([]Document, len(docs))
	explicit := make([]Document, len(docs))
	for i, doc := range docs {
		nd, err := NormalizeDocument(doc)
		if err != nil {
			return nil, 0, configErrorf("bad document: %v", err)
		}
		if err := assignID(nd); err != nil {
			return nil, 0, err
		}
		prepared[i] = nd
		if i < len(bases) && bases[i] != nil {
			if explicit[i], err = NormalizeDocument(bases[i]); err != nil {
				return nil, 0, configErrorf("bad base: %v", err)
			}
		}
	}
	d := dirtyItems | dirtyUpserts
	out := make([]Document, len(prepared))
	for i, nd := range prepared {
		id := nd.ID()
		var base Document
		if explicit[i] != nil {
			base = explicit[i]
		} else if pending, ok := c.upserts[id]; ok {
			base = pending.Base
		} else if cur, ok := c.items[id]; ok {
			base = cur
		}
		c.items[id] = nd
		c.upserts[id] = Upsert{Doc: nd.Clone(), Base: base}
		if _, ok := c.removes[id]; ok {
			delete(c.removes, id)
			d |= dirtyRemoves
		}
		out[i] = nd.Clone()
	}
	return out, d, nil
}

func assignID(d Document) error {
	switch id := d["_id"].(type) {
	case nil:
		d["_id"] = ksid.NewID().String()
	case string:
		if id == "" {
			d["_id"] = ksid.NewID().String()
		}
	default:
		return configErrorf("_id must be a string, got %T", id)
	}
	return nil
}

// Remove deletes the document with this id and records a tombstone, even
// if the id was never stored.
func (c *Collection) Remove(id string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	return c.flush(c.remove(id))
}

// RemoveMatching removes every document matching selector and returns how
// many were removed.
func (c *Collection) RemoveMatching(selector any) (int, error) {
	match, err := CompileSelector(selector)
	if err != nil {
		return 0, err
	}
	if err := c.acquire(); err != nil {
		return 0, err
	}
	defer c.release()
	docs, err := c.find(match, nil)
	if err != nil {
		return 0, err
	}
	var d dirty
	for _, doc := range docs {
		d |= c.remove(doc.ID())
	}
	return len(docs), c.flush(d)
}

func (c *Collection) remove(id string) dirty {
	d := dirtyRemoves
	if cur, ok := c.items[id]; ok {
		c.removes[id] = cur
		delete(c.items, id)
		d |= dirtyItems
		if _, ok := c.upserts[id]; ok {
			delete(c.upserts, id)
			d |= dirtyUpserts
		}
	} else {
		c.removes[id] = Document{"_id": id}
	}
	return d
}

// Seed inserts documents whose _id is neither stored nor tombstoned,
// without recording them in the upsert log.
func (c *Collection) Seed(docs ...Document) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	changed := false
	for _, doc := range docs {
		nd, err := NormalizeDocument(doc)
		if err != nil {
			return configErrorf("bad document: %v", err)
		}
		id := nd.ID()
		if id == "" {
			continue
		}
		if _, ok := c.items[id]; ok {
			continue
		}
		if _, ok := c.removes[id]; ok {
			continue
		}
		c.items[id] = nd
		changed = true
	}
	if !changed {
		return nil
	}
	return c.flush(dirtyItems)
}

// CacheOne is CacheList for one document.
func (c *Collection) CacheOne(doc Document) error {
	return c.CacheList([]Document{doc})
}

// CacheList refreshes stored documents from a remote copy. Documents with
// local pending changes are left alone. A stored document is replaced when
// either side has no _rev or the incoming _rev is greater.
func (c *Collection) CacheList(docs []Document) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	changed := false
	for _, doc := range docs {
		nd, err := NormalizeDocument(doc)
		if err != nil {
			return configErrorf("bad document: %v", err)
		}
		id := nd.ID()
		if id == "" {
			continue
		}
		if _, ok := c.upserts[id]; ok {
			continue
		}
		if _, ok := c.removes[id]; ok {
			continue
		}
		cur, ok := c.items[id]
		replace := !ok || isFalsy(nd["_rev"]) || isFalsy(cur["_rev"])
		if !replace {
			cmp, err := Compare(nd["_rev"], cur["_rev"])
			if err != nil {
				return fmt.Errorf("failed to compare _rev of %s: %w", id, err)
			}
			replace = cmp > 0
		}
		if replace {
			c.items[id] = nd
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.flush(dirtyItems)
}

// PendingUpserts returns the upsert log.
func (c *Collection) PendingUpserts() ([]Upsert, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	out := sortedValues(c.upserts)
	for i := range out {
		out[i] = Upsert{Doc: out[i].Doc.Clone(), Base: out[i].Base.Clone()}
	}
	return out, nil
}

// PendingRemoves returns the ids in the remove log.
func (c *Collection) PendingRemoves() ([]string, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	return slices.Sorted(maps.Keys(c.removes)), nil
}

// ResolveUpserts acknowledges upsert log entries that a sync agent has
// pushed. An entry is dropped only if its document was not changed again
// since.
func (c *Collection) ResolveUpserts(upserts []Upsert) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	changed := false
	for _, u := range upserts {
		id := u.Doc.ID()
		pending, ok := c.upserts[id]
		if !ok {
			continue
		}
		if DeepEqual(map[string]any(pending.Doc), map[string]any(u.Doc)) {
			delete(c.upserts, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.flush(dirtyUpserts)
}

// ResolveRemove acknowledges a tombstone.
func (c *Collection) ResolveRemove(id string) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	if _, ok := c.removes[id]; !ok {
		return nil
	}
	delete(c.removes, id)
	return c.flush(dirtyRemoves)
}

// Tx is the view of a Collection inside Modify. Its methods operate on the
// locked state and must not be used after fn returns.
type Tx struct {
	c     *Collection
	dirty dirty
}

// Find is Collection.Find within the transaction.
func (tx *Tx) Find(selector any, opts *FindOptions) ([]Document, error) {
	match, err := compileFindSelector(selector)
	if err != nil {
		return nil, err
	}
	return tx.c.find(match, opts)
}

// FindOne is Collection.FindOne within the transaction.
func (tx *Tx) FindOne(selector any, opts *FindOptions) (Document, error) {
	docs, err := tx.Find(selector, withLimit(opts))
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Upsert is Collection.Upsert within the transaction.
func (tx *Tx) Upsert(doc Document) (Document, error) {
	out, d, err := tx.c.upsert([]Document{doc}, nil)
	if err != nil {
		return nil, err
	}
	tx.dirty |= d
	return out[0], nil
}

// Remove is Collection.Remove within the transaction.
func (tx *Tx) Remove(id string) {
	tx.dirty |= tx.c.remove(id)
}

// Modify runs fn while holding the collection's locks, then persists what
// fn changed. If fn returns an error nothing is persisted and the in-memory
// state is restored.
func (c *Collection) Modify(fn func(tx *Tx) error) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	items, ups, rms := maps.Clone(c.items), maps.Clone(c.upserts), maps.Clone(c.removes)
	tx := &Tx{c: c}
	if err := fn(tx); err != nil {
		c.items, c.upserts, c.removes = items, ups, rms
		return err
	}
	return c.flush(tx.dirty)
}

// FindAndModify atomically applies mutate to the first document matching
// selector and upserts the result, which it returns. It returns nil when
// nothing matches or when mutate returns a nil document.
func (c *Collection) FindAndModify(selector any, opts *FindOptions, mutate func(Document) (Document, error)) (Document, error) {
	var out Document
	err := c.Modify(func(tx *Tx) error {
		cur, err := tx.FindOne(selector, opts)
		if err != nil || cur == nil {
			return err
		}
		next, err := mutate(cur)
		if err != nil || next == nil {
			return err
		}
		next["_id"] = cur["_id"]
		out, err = tx.Upsert(next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package arbor

import (
	"bytes"
	"compress/flate"
	"io"
	"sync"
)

// compressionThreshold matches the original source's compression gate:
// values longer than this are candidates for deflate when compression is
// enabled on the resource.
const compressionThreshold = 10

// nameDictEntry is one registration in the shared, refcounted name
// dictionary.
type nameDictEntry struct {
	text     string
	refcount int
}

// nameDictionary is the per-revision refcounted mapping from name-hash to
// name-string (I7). It is shared between the writer and any node being
// prepared, guarded by the owning pageTransaction's mutex.
type nameDictionary struct {
	byKey  map[NameKey]*nameDictEntry
	byText map[string]NameKey
	nextID NameKey
}

func newNameDictionary() *nameDictionary {
	return &nameDictionary{
		byKey:  make(map[NameKey]*nameDictEntry),
		byText: make(map[string]NameKey),
	}
}

func (d *nameDictionary) clone() *nameDictionary {
	c := &nameDictionary{
		byKey:  make(map[NameKey]*nameDictEntry, len(d.byKey)),
		byText: make(map[string]NameKey, len(d.byText)),
		nextID: d.nextID,
	}
	for k, v := range d.byKey {
		e := *v
		c.byKey[k] = &e
	}
	for k, v := range d.byText {
		c.byText[k] = v
	}
	return c
}

func (d *nameDictionary) createOrIncrement(text string) NameKey {
	if key, ok := d.byText[text]; ok {
		d.byKey[key].refcount++
		return key
	}
	// The key is the name's 32-bit hash; a collision with a different name
	// already registered moves on to the next free key.
	key := NameKey(nameHash(text))
	for key == NullName || d.byKey[key] != nil {
		key++
	}
	d.byKey[key] = &nameDictEntry{text: text, refcount: 1}
	d.byText[text] = key
	return key
}

// remove decrements the refcount for key; when it reaches zero the entry is
// freed, as required by §4.2's create_name_key/remove_name contract.
func (d *nameDictionary) remove(key NameKey) {
	if key == NullName {
		return
	}
	e, ok := d.byKey[key]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(d.byKey, key)
		delete(d.byText, e.text)
	}
}

func (d *nameDictionary) text(key NameKey) string {
	if key == NullName {
		return ""
	}
	if e, ok := d.byKey[key]; ok {
		return e.text
	}
	return ""
}

// refcount reports the live reference count for key, used by tests
// checking P6.
func (d *nameDictionary) refcount(key NameKey) int {
	if e, ok := d.byKey[key]; ok {
		return e.refcount
	}
	return 0
}

// UberPage is the published, immutable root page of one committed
// revision: a snapshot of every live node key and the name dictionary at
// that revision.
type UberPage struct {
	Revision RevisionNumber
	Nodes    map[NodeKey]*Node
	Names    *nameDictionary
}

// RevisionNumber identifies a committed (or in-progress) revision.
type RevisionNumber int64

// pageTransaction is the in-memory reference implementation of the
// page-layer adapter contract (§4.2): get/prepare/finish/create/remove,
// name-dictionary ops, and commit/close. It owns exactly one revision's
// working set of nodes, cloned lazily from the read-base revision on first
// prepare of each key — a copy-on-write map, not a copy of every node.
type pageTransaction struct {
	mu sync.Mutex

	readBase   RevisionNumber
	writeRev   RevisionNumber
	base       map[NodeKey]*Node // read-only view of the base revision
	owned      map[NodeKey]*Node // nodes already cloned into this revision
	names      *nameDictionary
	nextKey    NodeKey
	compress   bool
	preparing  map[NodeKey]bool // guards against nested prepare on one key
	closed     bool
}

func newPageTransaction(readBase, writeRev RevisionNumber, base map[NodeKey]*Node, names *nameDictionary, nextKey NodeKey, compress bool) *pageTransaction {
	return &pageTransaction{
		readBase:  readBase,
		writeRev:  writeRev,
		base:      base,
		owned:     make(map[NodeKey]*Node),
		names:     names,
		nextKey:   nextKey,
		compress:  compress,
		preparing: make(map[NodeKey]bool),
	}
}

// get performs a read-only, cheap fetch of key, never cloning.
func (pt *pageTransaction) get(key NodeKey) (*Node, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if n, ok := pt.owned[key]; ok {
		return n, nil
	}
	if n, ok := pt.base[key]; ok {
		return n, nil
	}
	return nil, wrap("get", KindIO, ErrInvalidKey)
}

// prepare acquires a COW clone of key for mutation. No two prepare calls
// for the same key may nest within one logical edit.
func (pt *pageTransaction) prepare(key NodeKey) (*Node, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.preparing[key] {
		return nil, wrap("prepare", KindIO, ErrInvalidKey)
	}
	var n *Node
	if owned, ok := pt.owned[key]; ok {
		n = owned
	} else if base, ok := pt.base[key]; ok {
		n = base.Clone()
	} else {
		return nil, wrap("prepare", KindIO, ErrInvalidKey)
	}
	pt.preparing[key] = true
	return n, nil
}

// finish releases a node acquired via prepare, committing it into this
// revision's owned map. It is a no-op beyond bookkeeping: the COW clone
// already happened at prepare time.
func (pt *pageTransaction) finish(n *Node) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.owned[n.Key] = n
	delete(pt.preparing, n.Key)
}

// put installs n directly into the owned set without the prepare/finish
// protocol; used internally by the hash engine's postorder recompute,
// which already holds its own exclusively-owned clones.
func (pt *pageTransaction) put(n *Node) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.owned[n.Key] = n
	return nil
}

// create allocates the next key and persists a new node built from
// template (template.Key is overwritten).
func (pt *pageTransaction) create(template *Node) (*Node, error) {
	pt.mu.Lock()
	key := pt.nextKey
	pt.nextKey++
	pt.mu.Unlock()

	template.Key = key
	if err := pt.put(template); err != nil {
		return nil, err
	}
	return template, nil
}

// remove marks key dead in the current revision.
func (pt *pageTransaction) remove(key NodeKey) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.owned[key]; !ok {
		if _, ok := pt.base[key]; !ok {
			return wrap("remove", KindIO, ErrInvalidKey)
		}
	}
	pt.owned[key] = nil // tombstone: present in map, value nil means dead
	return nil
}

// isLive reports whether key refers to a node that has not been removed.
func (pt *pageTransaction) isLive(key NodeKey) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if n, ok := pt.owned[key]; ok {
		return n != nil
	}
	_, ok := pt.base[key]
	return ok
}

// createNameKey registers or refcount-increments text in the revision's
// name dictionary.
func (pt *pageTransaction) createNameKey(text string) NameKey {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.names.createOrIncrement(text)
}

// removeName decrements the refcount for key; entry is freed at zero.
func (pt *pageTransaction) removeName(key NameKey) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.names.remove(key)
}

// nameText resolves a name key to its string, or "" if absent.
func (pt *pageTransaction) nameText(key NameKey) string {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.names.text(key)
}

// nameRefcount reports the live refcount for key (test/diagnostic use).
func (pt *pageTransaction) nameRefcount(key NameKey) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.names.refcount(key)
}

// encodeValue applies the optional compression threshold (§11) to a text
// or attribute value, returning the stored bytes and whether they are
// compressed.
func (pt *pageTransaction) encodeValue(v []byte) ([]byte, bool) {
	if !pt.compress || len(v) <= compressionThreshold {
		return v, false
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return v, false
	}
	if _, err := w.Write(v); err != nil {
		return v, false
	}
	if err := w.Close(); err != nil {
		return v, false
	}
	return buf.Bytes(), true
}

// decodeValue reverses encodeValue.
func decodeValue(v []byte, compressed bool) []byte {
	if !compressed {
		return v
	}
	r := flate.NewReader(bytes.NewReader(v))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return v
	}
	return out
}

// snapshot materializes the current revision's full node map (base plus
// owned overrides, tombstones dropped) for publication as an UberPage.
func (pt *pageTransaction) snapshot() map[NodeKey]*Node {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make(map[NodeKey]*Node, len(pt.base)+len(pt.owned))
	for k, v := range pt.base {
		out[k] = v
	}
	for k, v := range pt.owned {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func (pt *pageTransaction) maxNodeKey() NodeKey {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.nextKey - 1
}

func (pt *pageTransaction) close() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.closed = true
}

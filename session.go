package arbor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Consistency is the resource's consistency setting, carried on
// ResourceConfig.
type Consistency int

const (
	// Strict repairs descendant counts and hashes synchronously on every
	// edit.
	Strict Consistency = iota
	// Eventual is accepted and stored, but the write transaction does not
	// read it: edits repair descendant counts and hashes synchronously
	// exactly as under Strict, and commit runs no extra post-order pass.
	Eventual
)

// ResourceConfig is the validated, immutable configuration a session
// applies to every write transaction it opens, mirroring the teacher's
// validated-options-struct idiom (LibraryOptions / FileOptions).
type ResourceConfig struct {
	HashKind           HashKind
	Consistency        Consistency
	Compression        bool
	MaxNodeCount       int64
	AutoCommitInterval time.Duration
}

// NewResourceConfig validates cfg, returning an error if MaxNodeCount or
// AutoCommitInterval is negative.
func NewResourceConfig(cfg ResourceConfig) (ResourceConfig, error) {
	if cfg.MaxNodeCount < 0 {
		return ResourceConfig{}, wrap("NewResourceConfig", KindUsage, ErrInvalidKey)
	}
	if cfg.AutoCommitInterval < 0 {
		return ResourceConfig{}, wrap("NewResourceConfig", KindUsage, ErrInvalidKey)
	}
	return cfg, nil
}

// Session is the in-memory stand-in for the host "session" interface of
// §6: it owns resource configuration, the published uber-page history,
// and coordinates page-write-transaction lifecycle, playing the role the
// teacher's Library plays relative to a Garland instance.
type Session struct {
	mu sync.Mutex

	id     uuid.UUID
	config ResourceConfig
	log    *slog.Logger

	pages       map[RevisionNumber]*UberPage
	lastRev     RevisionNumber
	haveCommits bool
}

// NewSession creates a session with an empty root revision (revision 0
// holding a single document-root node) and the given resource config.
func NewSession(config ResourceConfig) *Session {
	s := &Session{
		id:     uuid.New(),
		config: config,
		log:    slog.Default(),
		pages:  make(map[RevisionNumber]*UberPage),
	}

	rootNames := newNameDictionary()
	root := NewStructuralNode(KindRoot, 0, NullKey)
	if config.HashKind != HashNone {
		// H(root) starts at h(root); every later add folds onto it.
		root.Hash = intrinsicHash(root)
	}
	rootNodes := map[NodeKey]*Node{0: root}
	s.pages[0] = &UberPage{Revision: 0, Nodes: rootNodes, Names: rootNames}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Begin opens a new write transaction mounted at the latest committed
// revision.
func (s *Session) Begin() *Transaction {
	s.mu.Lock()
	base := s.lastRev
	pt := s.newPageTransactionLocked(base, base+1)
	s.mu.Unlock()

	return newTransaction(s, pt, base+1)
}

// newPageTransactionLocked constructs a pageTransaction reading from
// readBase and writing into writeRev. Callers must hold s.mu, or call it
// before any concurrent access is possible (e.g. during NewSession).
func (s *Session) newPageTransactionLocked(readBase, writeRev RevisionNumber) *pageTransaction {
	page, ok := s.pages[readBase]
	if !ok {
		page = s.pages[s.lastRev]
	}
	nextKey := NodeKey(0)
	for k := range page.Nodes {
		if k+1 > nextKey {
			nextKey = k + 1
		}
	}
	return newPageTransaction(readBase, writeRev, page.Nodes, page.Names.clone(), nextKey, s.config.Compression)
}

// publish records nodes/names as the uber-page for the revision that was
// being written (readBase+1, i.e. the transaction's own writeRev at the
// time Commit was called), returning the newly published page.
func (s *Session) publish(writtenRev RevisionNumber, nodes map[NodeKey]*Node, names *nameDictionary) *UberPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := &UberPage{Revision: writtenRev, Nodes: nodes, Names: names}
	s.pages[writtenRev] = page
	if writtenRev > s.lastRev || !s.haveCommits {
		s.lastRev = writtenRev
		s.haveCommits = true
	}
	return page
}

// lastCommittedRevision returns the most recently published revision, or
// 0 if none has been committed.
func (s *Session) lastCommittedRevision() RevisionNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRev
}

// hasRevision reports whether rev has a published uber-page.
func (s *Session) hasRevision(rev RevisionNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pages[rev]
	return ok
}

// ReadTransaction is a read-only, pinned view of one revision, used by
// independent readers (scenario 6) and by copy/replace-from-read-
// transaction operations.
type ReadTransaction struct {
	page *UberPage
}

// BeginNodeReadTrx opens a read-only transaction pinned to rev. Edits made
// by writers after this call are never visible through it.
func (s *Session) BeginNodeReadTrx(rev RevisionNumber) (*ReadTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[rev]
	if !ok {
		return nil, wrap("BeginNodeReadTrx", KindBadArgument, ErrInvalidKey)
	}
	return &ReadTransaction{page: page}, nil
}

// RevisionNumber returns the revision this read transaction is pinned to.
func (r *ReadTransaction) RevisionNumber() RevisionNumber { return r.page.Revision }

// Get fetches a node by key from the pinned revision.
func (r *ReadTransaction) Get(key NodeKey) (*Node, error) {
	n, ok := r.page.Nodes[key]
	if !ok {
		return nil, wrap("Get", KindIO, ErrInvalidKey)
	}
	return n, nil
}

// QName resolves a named node's qualified name through the pinned
// revision's name dictionary.
func (r *ReadTransaction) QName(n *Node) QName {
	return QName{Local: r.page.Names.text(n.NameKey), URI: r.page.Names.text(n.URIKey)}
}

// Value returns a valued node's decoded byte content.
func (r *ReadTransaction) Value(n *Node) []byte {
	return decodeValue(n.Value, n.Compressed)
}

// Visitor is implemented by callers driving a destination editor from a
// source subtree traversal (Copy Subtree, §4.4).
type Visitor interface {
	VisitElement(name QName, depth int) error
	VisitText(value []byte, depth int) error
	VisitAttribute(name QName, value []byte) error
	VisitNamespace(prefix, uri string) error
	Leave(depth int)
}

// Visit drives visitor over the subtree rooted at key in document order,
// visiting each element's attributes and namespaces immediately after the
// element itself, matching the original's acceptVisitor traversal.
func (r *ReadTransaction) Visit(key NodeKey, visitor Visitor) error {
	return r.visit(key, 0, visitor)
}

func (r *ReadTransaction) visit(key NodeKey, depth int, visitor Visitor) error {
	n, err := r.Get(key)
	if err != nil {
		return err
	}
	switch n.Kind {
	case KindElement:
		if err := visitor.VisitElement(r.QName(n), depth); err != nil {
			return err
		}
		for _, ak := range n.AttributeKeys {
			a, err := r.Get(ak)
			if err != nil {
				return err
			}
			if err := visitor.VisitAttribute(r.QName(a), r.Value(a)); err != nil {
				return err
			}
		}
		for _, nsk := range n.NamespaceKeys {
			ns, err := r.Get(nsk)
			if err != nil {
				return err
			}
			q := r.QName(ns)
			if err := visitor.VisitNamespace(q.Local, q.URI); err != nil {
				return err
			}
		}
	case KindText:
		if err := visitor.VisitText(r.Value(n), depth); err != nil {
			return err
		}
	}

	child := n.FirstChildKey
	for child != NullKey {
		cn, err := r.Get(child)
		if err != nil {
			return err
		}
		if err := r.visit(child, depth+1, visitor); err != nil {
			return err
		}
		child = cn.RightSiblingKey
	}
	visitor.Leave(depth)
	return nil
}

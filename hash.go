package arbor

import "hash/maphash"

// HashKind selects the subtree-hash maintenance strategy.
type HashKind int

const (
	// HashNone skips all hash maintenance.
	HashNone HashKind = iota

	// HashRolling maintains H(n) incrementally along the ancestor chain
	// on every mutation.
	HashRolling

	// HashPostorder recomputes H(n) from scratch via a post-order walk.
	HashPostorder
)

// prime is the multiplier used to fold a child's subtree hash into its
// parent's, per the defining recurrence H(n) = h(n) + P*sum(H(children)).
const prime uint64 = 77081

// processSeed is shared by every h(n) computation in the process so that
// intrinsic digests are stable for the process lifetime but not across
// restarts — this hash has no persistence or cross-process contract.
var processSeed = maphash.MakeSeed()

// intrinsicHash computes h(n): a 64-bit fold of n's intrinsic, non-link
// fields (kind, name key, uri key, value). It is not a cryptographic
// digest; nothing in this package claims collision resistance.
func intrinsicHash(n *Node) uint64 {
	var h maphash.Hash
	h.SetSeed(processSeed)
	h.WriteByte(byte(n.Kind))
	writeInt32(&h, int32(n.NameKey))
	writeInt32(&h, int32(n.URIKey))
	if n.Value != nil {
		_, _ = h.Write(n.Value)
	}
	return h.Sum64()
}

func writeInt32(h *maphash.Hash, v int32) {
	var buf [4]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	_, _ = h.Write(buf[:])
}

// hashEngine owns the hash-kind-dispatching maintenance operations used by
// the structural editor. It is parameterized over a pageTransaction so it
// never holds node pointers across calls that might trigger a COW clone.
type hashEngine struct {
	kind HashKind
	pt   *pageTransaction

	// bulkInsert, when set by the subtree ingest driver, suppresses all
	// per-edit hash maintenance below; the ingest driver runs a single
	// postorderRecompute plus addAncestorChain pass once the whole event
	// stream has been replayed, per §4.7's eventual-consistency bootstrap.
	bulkInsert bool
}

func newHashEngine(kind HashKind, pt *pageTransaction) *hashEngine {
	return &hashEngine{kind: kind, pt: pt}
}

// foldAncestors walks from startParent up to the document root, applying
// the defining equation's single-term fold at every level: each ancestor A
// had oldChild as the whole pre-change hash of the child on this path, and
// now has newChild as that child's whole post-change hash, so
// H(A) = H(A) - P*oldChild + P*newChild. The pair (oldChild, newChild) is
// then replaced by A's own (pre, post) hash before continuing upward — the
// original's rollingAdd/rollingRemove/rollingUpdate all re-derive from the
// same pair at every level rather than carrying a single contribution
// value, which is what makes the recurrence correct past the first
// ancestor.
func (e *hashEngine) foldAncestors(startParent NodeKey, oldChild, newChild uint64) error {
	cur := startParent
	for cur != NullKey {
		a, err := e.pt.prepare(cur)
		if err != nil {
			return err
		}
		oldAHash := a.Hash
		a.Hash = a.Hash - prime*oldChild + prime*newChild
		e.pt.finish(a)
		oldChild, newChild = oldAHash, a.Hash
		cur = a.ParentKey
	}
	return nil
}

// onAdd implements the Rolling "Add" recurrence after S has been linked
// into the tree: H(S) = h(S); then folds S's new contribution (there was
// no old one — S did not exist at its parent's last hash) up the chain.
func (e *hashEngine) onAdd(startKey NodeKey) error {
	if e.kind == HashNone || e.bulkInsert {
		return nil
	}
	if e.kind == HashPostorder {
		return e.recomputeAncestorChain(startKey)
	}

	s, err := e.pt.prepare(startKey)
	if err != nil {
		return err
	}
	s.Hash = intrinsicHash(s)
	parentKey := s.ParentKey
	newHash := s.Hash
	e.pt.finish(s)

	return e.foldAncestors(parentKey, 0, newHash)
}

// onRemove implements the Rolling "Remove" recurrence. The caller must
// capture removedHash (S's H value) before detaching S, then call this
// method with the key of S's former parent after S has been unlinked and
// physically removed. S's new contribution is zero — it no longer exists.
func (e *hashEngine) onRemove(removedHash uint64, parentKey NodeKey) error {
	if e.kind == HashNone || e.bulkInsert {
		return nil
	}
	if e.kind == HashPostorder {
		if parentKey == NullKey {
			return nil
		}
		return e.recomputeAncestorChain(parentKey)
	}

	return e.foldAncestors(parentKey, removedHash, 0)
}

// onUpdate implements the Rolling "Update" recurrence given the node's
// pre-change hash, after a rename/value change has written the node's new
// intrinsic fields.
func (e *hashEngine) onUpdate(key NodeKey, oldHash uint64) error {
	if e.kind == HashNone || e.bulkInsert {
		return nil
	}
	if e.kind == HashPostorder {
		return e.recomputeAncestorChain(key)
	}

	n, err := e.pt.prepare(key)
	if err != nil {
		return err
	}
	newH := intrinsicHash(n)
	n.Hash = n.Hash - oldHash + newH
	parentKey := n.ParentKey
	newHash := n.Hash
	e.pt.finish(n)

	return e.foldAncestors(parentKey, oldHash, newHash)
}

// onMoveAttach updates hashes after an existing subtree — whose own H
// value is still valid, since nothing beneath it changed — has been
// relinked at a new position. Unlike onAdd, it never overwrites the
// subtree root's own hash with its bare intrinsic digest, since that
// would discard the accumulated contribution of its children.
func (e *hashEngine) onMoveAttach(key NodeKey) error {
	if e.kind == HashNone || e.bulkInsert {
		return nil
	}
	if e.kind == HashPostorder {
		return e.recomputeAncestorChain(key)
	}
	return e.addAncestorChain(key)
}

// recomputeAncestorChain walks up from key to its topmost ancestor (the
// document root) and runs postorderRecompute over that whole tree; used by
// HashPostorder add/remove/update and move-attach.
func (e *hashEngine) recomputeAncestorChain(key NodeKey) error {
	n, err := e.pt.get(key)
	if err != nil {
		return err
	}
	root := key
	for n.ParentKey != NullKey {
		root = n.ParentKey
		n, err = e.pt.get(root)
		if err != nil {
			return err
		}
	}
	return e.postorderRecompute(root)
}

// postorderRecompute rewrites H(n) for every node in the subtree rooted at
// key, visiting children first, then attributes, then namespaces, folded
// with the prime multiplier, per the defining equation. Since it already
// walks the subtree bottom-up, it also repairs child_count and
// descendant_count along the way — the counts a bulk insert's suppressed
// per-edit maintenance left stale (I4).
func (e *hashEngine) postorderRecompute(key NodeKey) error {
	n, err := e.pt.get(key)
	if err != nil {
		return err
	}

	var sum uint64
	var childCount, descendantCount int64
	if n.Kind.IsStructural() {
		child := n.FirstChildKey
		for child != NullKey {
			if err := e.postorderRecompute(child); err != nil {
				return err
			}
			c, err := e.pt.get(child)
			if err != nil {
				return err
			}
			sum += c.Hash
			childCount++
			descendantCount += c.DescendantCount + 1
			child = c.RightSiblingKey
		}
	}
	if n.Kind == KindElement {
		for _, ak := range n.AttributeKeys {
			a, err := e.pt.get(ak)
			if err != nil {
				return err
			}
			a2 := a.Clone()
			a2.Hash = intrinsicHash(a2)
			if err := e.pt.put(a2); err != nil {
				return err
			}
			sum += a2.Hash
		}
		for _, nsk := range n.NamespaceKeys {
			ns, err := e.pt.get(nsk)
			if err != nil {
				return err
			}
			ns2 := ns.Clone()
			ns2.Hash = intrinsicHash(ns2)
			if err := e.pt.put(ns2); err != nil {
				return err
			}
			sum += ns2.Hash
		}
	}

	n2 := n.Clone()
	n2.Hash = intrinsicHash(n2) + prime*sum
	if n2.Kind.IsStructural() {
		n2.ChildCount = childCount
		n2.DescendantCount = descendantCount
	}
	return e.pt.put(n2)
}

// addAncestorChain folds subtreeRootKey's (already computed) hash up into
// every ancestor above it via the Rolling add-ancestor recurrence,
// regardless of the resource's configured HashKind — used by the subtree
// ingest driver after its post-order pass, per §4.7 and §4.5's note that
// Postorder-style hashing applies "after bulk subtree insertion regardless
// of kind".
func (e *hashEngine) addAncestorChain(subtreeRootKey NodeKey) error {
	s, err := e.pt.get(subtreeRootKey)
	if err != nil {
		return err
	}
	return e.foldAncestors(s.ParentKey, 0, s.Hash)
}

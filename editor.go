package arbor

// InsertHint selects the structural relationship a new node takes to the
// cursor's current node.
type InsertHint int

const (
	// AsFirstChild inserts the new node as the first child of self.
	AsFirstChild InsertHint = iota
	// AsLeftSibling inserts the new node immediately left of self.
	AsLeftSibling
	// AsRightSibling inserts the new node immediately right of self.
	AsRightSibling
)

// MoveAfter controls where the cursor lands after an attribute/namespace
// insertion.
type MoveAfter int

const (
	// MoveNone leaves the cursor on the newly inserted attribute/namespace.
	MoveNone MoveAfter = iota
	// MoveToParent restores the cursor to the owning element.
	MoveToParent
)

// editor implements the structural edit operations of the write
// transaction (§4.4). It is embedded into Transaction rather than used
// standalone, since every op needs the transaction's modification counter
// and hash engine.
type editor struct {
	pt     *pageTransaction
	hashes *hashEngine
	cursor *Cursor
	onEdit func() error // checkAccessAndCommit hook, supplied by Transaction
}

func newEditor(pt *pageTransaction, hashes *hashEngine, cursor *Cursor, onEdit func() error) *editor {
	return &editor{pt: pt, hashes: hashes, cursor: cursor, onEdit: onEdit}
}

// ---- Insert element / text --------------------------------------------

// InsertElement inserts a new, empty Element node relative to the cursor's
// current node per hint, and moves the cursor to it.
func (e *editor) InsertElement(hint InsertHint, name QName) (NodeKey, error) {
	if err := e.onEdit(); err != nil {
		return NullKey, err
	}
	self, err := e.cursor.node()
	if err != nil {
		return NullKey, err
	}
	if hint == AsFirstChild {
		if self.Kind != KindElement && self.Kind != KindRoot {
			return NullKey, wrap("InsertElement", KindUsage, ErrWrongKindForOp)
		}
	} else {
		if !self.Kind.IsStructural() {
			return NullKey, wrap("InsertElement", KindUsage, ErrWrongKindForOp)
		}
		if self.Kind == KindRoot {
			return NullKey, wrap("InsertElement", KindUsage, ErrWrongKindForOp)
		}
	}

	nameKey := e.registerName(name.String())
	uriKey := e.registerName(name.URI)

	newNode, err := e.pt.create(&Node{})
	if err != nil {
		return NullKey, err
	}
	built := NewStructuralNode(KindElement, newNode.Key, NullKey)
	built.NameKey = nameKey
	built.URIKey = uriKey
	if err := e.pt.put(built); err != nil {
		return NullKey, err
	}

	if err := e.linkStructural(built.Key, self.Key, hint); err != nil {
		return NullKey, err
	}
	if !e.hashes.bulkInsert {
		if err := e.incrementDescendantChainFrom(built.Key); err != nil {
			return NullKey, err
		}
	}
	if err := e.hashes.onAdd(built.Key); err != nil {
		return NullKey, err
	}
	e.cursor.To(built.Key)
	return built.Key, nil
}

// InsertText inserts a new Text node relative to the cursor's current
// node per hint, merging with an adjacent text node if one would result
// (I5), and moves the cursor to the resulting text node.
func (e *editor) InsertText(hint InsertHint, value []byte) (NodeKey, error) {
	if err := e.onEdit(); err != nil {
		return NullKey, err
	}
	self, err := e.cursor.node()
	if err != nil {
		return NullKey, err
	}
	if hint == AsFirstChild {
		if self.Kind != KindElement && self.Kind != KindText {
			return NullKey, wrap("InsertText", KindUsage, ErrWrongKindForOp)
		}
	} else {
		if self.Kind != KindElement && self.Kind != KindText {
			return NullKey, wrap("InsertText", KindUsage, ErrWrongKindForOp)
		}
	}

	// Determine the neighbor that would become adjacent to the new text
	// node; if it is already text, merge into it instead of inserting.
	var neighborKey NodeKey = NullKey
	switch hint {
	case AsFirstChild:
		if self.Kind.IsStructural() {
			neighborKey = self.FirstChildKey
		}
	case AsLeftSibling:
		neighborKey = self.LeftSiblingKey
	case AsRightSibling:
		neighborKey = self.RightSiblingKey
	}
	if neighborKey != NullKey {
		if neighbor, err := e.pt.get(neighborKey); err == nil && neighbor.Kind == KindText {
			return e.mergeTextInto(neighbor.Key, value, hint == AsLeftSibling)
		}
	}
	// Special case: inserting as left/right sibling directly against self
	// when self itself is text (e.g. first insertion with self==Text).
	if hint != AsFirstChild && self.Kind == KindText {
		return e.mergeTextInto(self.Key, value, hint == AsLeftSibling)
	}

	encoded, compressed := e.pt.encodeValue(value)
	newNode, err := e.pt.create(&Node{})
	if err != nil {
		return NullKey, err
	}
	built := NewStructuralNode(KindText, newNode.Key, NullKey)
	built.Value = encoded
	built.Compressed = compressed
	if err := e.pt.put(built); err != nil {
		return NullKey, err
	}

	if err := e.linkStructural(built.Key, self.Key, hint); err != nil {
		return NullKey, err
	}
	if !e.hashes.bulkInsert {
		if err := e.incrementDescendantChainFrom(built.Key); err != nil {
			return NullKey, err
		}
	}
	if err := e.hashes.onAdd(built.Key); err != nil {
		return NullKey, err
	}
	e.cursor.To(built.Key)
	return built.Key, nil
}

// incrementDescendantChainFrom increments descendant_count by one on
// newKey's parent and every ancestor above it, after newKey has just been
// linked into the tree as a single node (I4).
func (e *editor) incrementDescendantChainFrom(newKey NodeKey) error {
	n, err := e.pt.get(newKey)
	if err != nil {
		return err
	}
	return e.adjustDescendantChain(n.ParentKey, 1)
}

// adjustDescendantChain adds delta to descendant_count on key and every
// ancestor above it.
func (e *editor) adjustDescendantChain(key NodeKey, delta int64) error {
	cur := key
	for cur != NullKey {
		n, err := e.pt.prepare(cur)
		if err != nil {
			return err
		}
		n.DescendantCount += delta
		parent := n.ParentKey
		e.pt.finish(n)
		cur = parent
	}
	return nil
}

// mergeTextInto concatenates value onto the existing text node at key with
// a single-space separator, per the text-merge rule. If prepend is true,
// value is placed before the node's current content.
func (e *editor) mergeTextInto(key NodeKey, value []byte, prepend bool) (NodeKey, error) {
	n, err := e.pt.prepare(key)
	if err != nil {
		return NullKey, err
	}
	oldHash := n.Hash
	current := decodeValue(n.Value, n.Compressed)
	var merged []byte
	if prepend {
		merged = append(append(append([]byte{}, value...), ' '), current...)
	} else {
		merged = append(append(append([]byte{}, current...), ' '), value...)
	}
	encoded, compressed := e.pt.encodeValue(merged)
	n.Value = encoded
	n.Compressed = compressed
	e.pt.finish(n)

	if err := e.hashes.onUpdate(key, oldHash); err != nil {
		return NullKey, err
	}
	e.cursor.To(key)
	return key, nil
}

// linkStructural wires a newly created structural node into the tree at
// the position hint relative to refKey, updating sibling/first-child
// pointers and the owning structural ancestor's child_count (I2, I3).
func (e *editor) linkStructural(newKey, refKey NodeKey, hint InsertHint) error {
	ref, err := e.pt.get(refKey)
	if err != nil {
		return err
	}

	switch hint {
	case AsFirstChild:
		parentKey := refKey
		parent, err := e.pt.prepare(parentKey)
		if err != nil {
			return err
		}
		oldFirst := parent.FirstChildKey

		nn, err := e.pt.prepare(newKey)
		if err != nil {
			e.pt.finish(parent)
			return err
		}
		nn.ParentKey = parentKey
		nn.RightSiblingKey = oldFirst
		nn.LeftSiblingKey = NullKey
		e.pt.finish(nn)

		if oldFirst != NullKey {
			oldFirstNode, err := e.pt.prepare(oldFirst)
			if err != nil {
				e.pt.finish(parent)
				return err
			}
			oldFirstNode.LeftSiblingKey = newKey
			e.pt.finish(oldFirstNode)
		}
		parent.FirstChildKey = newKey
		parent.ChildCount++
		e.pt.finish(parent)

	case AsLeftSibling:
		parentKey := ref.ParentKey
		leftKey := ref.LeftSiblingKey

		nn, err := e.pt.prepare(newKey)
		if err != nil {
			return err
		}
		nn.ParentKey = parentKey
		nn.LeftSiblingKey = leftKey
		nn.RightSiblingKey = refKey
		e.pt.finish(nn)

		refPrep, err := e.pt.prepare(refKey)
		if err != nil {
			return err
		}
		refPrep.LeftSiblingKey = newKey
		e.pt.finish(refPrep)

		if leftKey != NullKey {
			leftNode, err := e.pt.prepare(leftKey)
			if err != nil {
				return err
			}
			leftNode.RightSiblingKey = newKey
			e.pt.finish(leftNode)
		} else if parentKey != NullKey {
			parent, err := e.pt.prepare(parentKey)
			if err != nil {
				return err
			}
			parent.FirstChildKey = newKey
			e.pt.finish(parent)
		}
		if parentKey != NullKey {
			parent, err := e.pt.prepare(parentKey)
			if err != nil {
				return err
			}
			parent.ChildCount++
			e.pt.finish(parent)
		}

	case AsRightSibling:
		parentKey := ref.ParentKey
		rightKey := ref.RightSiblingKey

		nn, err := e.pt.prepare(newKey)
		if err != nil {
			return err
		}
		nn.ParentKey = parentKey
		nn.LeftSiblingKey = refKey
		nn.RightSiblingKey = rightKey
		e.pt.finish(nn)

		refPrep, err := e.pt.prepare(refKey)
		if err != nil {
			return err
		}
		refPrep.RightSiblingKey = newKey
		e.pt.finish(refPrep)

		if rightKey != NullKey {
			rightNode, err := e.pt.prepare(rightKey)
			if err != nil {
				return err
			}
			rightNode.LeftSiblingKey = newKey
			e.pt.finish(rightNode)
		}
		if parentKey != NullKey {
			parent, err := e.pt.prepare(parentKey)
			if err != nil {
				return err
			}
			parent.ChildCount++
			e.pt.finish(parent)
		}
	}
	return nil
}

// registerName registers a possibly-empty name string in the name
// dictionary, returning NullName for the empty string.
func (e *editor) registerName(text string) NameKey {
	if text == "" {
		return NullName
	}
	return e.pt.createNameKey(text)
}

// ---- Insert attribute / namespace --------------------------------------

// InsertAttribute inserts or overwrites an attribute on the cursor's
// current element.
func (e *editor) InsertAttribute(name QName, value []byte, after MoveAfter) (NodeKey, error) {
	if err := e.onEdit(); err != nil {
		return NullKey, err
	}
	self, err := e.cursor.node()
	if err != nil {
		return NullKey, err
	}
	if self.Kind != KindElement {
		return NullKey, wrap("InsertAttribute", KindUsage, ErrWrongKindForOp)
	}
	h := attributeNameHash(name)
	if existingKey, ok := self.AttributeByNameHash(h); ok {
		existing, err := e.pt.get(existingKey)
		if err != nil {
			return NullKey, err
		}
		existingVal := decodeValue(existing.Value, existing.Compressed)
		if string(existingVal) == string(value) {
			return NullKey, wrap("InsertAttribute", KindUsage, ErrDuplicateAttribute)
		}
		prep, err := e.pt.prepare(existingKey)
		if err != nil {
			return NullKey, err
		}
		oldHash := prep.Hash
		encoded, compressed := e.pt.encodeValue(value)
		prep.Value = encoded
		prep.Compressed = compressed
		e.pt.finish(prep)
		if err := e.hashes.onUpdate(existingKey, oldHash); err != nil {
			return NullKey, err
		}
		if after == MoveToParent {
			e.cursor.To(self.Key)
		} else {
			e.cursor.To(existingKey)
		}
		return existingKey, nil
	}

	nameKey := e.registerName(name.String())
	uriKey := e.registerName(name.URI)
	encoded, compressed := e.pt.encodeValue(value)

	template, err := e.pt.create(&Node{})
	if err != nil {
		return NullKey, err
	}
	built := NewAttributeNode(template.Key, self.Key, nameKey, uriKey, encoded)
	built.Compressed = compressed
	if err := e.pt.put(built); err != nil {
		return NullKey, err
	}

	parent, err := e.pt.prepare(self.Key)
	if err != nil {
		return NullKey, err
	}
	parent.AttributeKeys = append(parent.AttributeKeys, built.Key)
	parent.setAttributeNameHash(h, built.Key)
	e.pt.finish(parent)

	if err := e.hashes.onAdd(built.Key); err != nil {
		return NullKey, err
	}

	if after == MoveToParent {
		e.cursor.To(self.Key)
	} else {
		e.cursor.To(built.Key)
	}
	return built.Key, nil
}

// InsertNamespace inserts a namespace binding on the cursor's current
// element. Fails with DuplicateNamespace if the prefix is already bound.
func (e *editor) InsertNamespace(prefix, uri string, after MoveAfter) (NodeKey, error) {
	if err := e.onEdit(); err != nil {
		return NullKey, err
	}
	self, err := e.cursor.node()
	if err != nil {
		return NullKey, err
	}
	if self.Kind != KindElement {
		return NullKey, wrap("InsertNamespace", KindUsage, ErrWrongKindForOp)
	}
	for _, nsk := range self.NamespaceKeys {
		ns, err := e.pt.get(nsk)
		if err != nil {
			return NullKey, err
		}
		if e.pt.nameText(ns.NameKey) == prefix {
			return NullKey, wrap("InsertNamespace", KindUsage, ErrDuplicateNamespace)
		}
	}

	nameKey := e.registerName(prefix)
	uriKey := e.registerName(uri)

	template, err := e.pt.create(&Node{})
	if err != nil {
		return NullKey, err
	}
	built := NewNamespaceNode(template.Key, self.Key, nameKey, uriKey)
	if err := e.pt.put(built); err != nil {
		return NullKey, err
	}

	parent, err := e.pt.prepare(self.Key)
	if err != nil {
		return NullKey, err
	}
	parent.NamespaceKeys = append(parent.NamespaceKeys, built.Key)
	e.pt.finish(parent)

	if err := e.hashes.onAdd(built.Key); err != nil {
		return NullKey, err
	}

	if after == MoveToParent {
		e.cursor.To(self.Key)
	} else {
		e.cursor.To(built.Key)
	}
	return built.Key, nil
}

// ---- Remove -------------------------------------------------------------

// Remove deletes the cursor's current node (and, for structural nodes, its
// entire subtree), repositioning the cursor per §4.4's fallback order.
func (e *editor) Remove() error {
	if err := e.onEdit(); err != nil {
		return err
	}
	self, err := e.cursor.node()
	if err != nil {
		return err
	}
	if self.Kind == KindRoot {
		return wrap("Remove", KindUsage, ErrCannotRemoveRoot)
	}

	parentKey := self.ParentKey
	leftKey := self.LeftSiblingKey
	rightKey := self.RightSiblingKey
	selfKey := self.Key
	selfHash := self.Hash
	selfDescCount := self.DescendantCount
	isStructural := self.Kind.IsStructural()

	if isStructural {
		if err := e.removeSubtreeNodes(selfKey); err != nil {
			return err
		}
	} else {
		if err := e.removeNonStructural(self); err != nil {
			return err
		}
		return nil
	}

	mergedGap := false
	if leftKey != NullKey && rightKey != NullKey {
		left, err := e.pt.get(leftKey)
		if err != nil {
			return err
		}
		right, err := e.pt.get(rightKey)
		if err != nil {
			return err
		}
		if left.Kind == KindText && right.Kind == KindText {
			rightVal := decodeValue(right.Value, right.Compressed)
			rightHash := right.Hash
			rightRightKey := right.RightSiblingKey
			if _, err := e.mergeTextInto(leftKey, rightVal, false); err != nil {
				return err
			}
			if err := e.unlinkAndDeleteText(rightKey); err != nil {
				return err
			}
			if err := e.relinkAfterAbsorb(leftKey, rightRightKey); err != nil {
				return err
			}
			if err := e.hashes.onRemove(rightHash, parentKey); err != nil {
				return err
			}
			mergedGap = true
		}
	}

	if !mergedGap {
		if leftKey != NullKey {
			l, err := e.pt.prepare(leftKey)
			if err != nil {
				return err
			}
			l.RightSiblingKey = rightKey
			e.pt.finish(l)
		}
		if rightKey != NullKey {
			r, err := e.pt.prepare(rightKey)
			if err != nil {
				return err
			}
			r.LeftSiblingKey = leftKey
			e.pt.finish(r)
		}
		if leftKey == NullKey && parentKey != NullKey {
			p, err := e.pt.prepare(parentKey)
			if err != nil {
				return err
			}
			p.FirstChildKey = rightKey
			e.pt.finish(p)
		}
	}

	if parentKey != NullKey {
		p, err := e.pt.prepare(parentKey)
		if err != nil {
			return err
		}
		p.ChildCount--
		if mergedGap {
			// the absorbed right-hand text node also leaves the sibling
			// chain, on top of self.
			p.ChildCount--
		}
		e.pt.finish(p)

		if !e.hashes.bulkInsert {
			if err := e.adjustDescendantChain(parentKey, -(1 + selfDescCount)); err != nil {
				return err
			}
		}
	}

	if err := e.hashes.onRemove(selfHash, parentKey); err != nil {
		return err
	}

	if mergedGap && !e.hashes.bulkInsert {
		if err := e.adjustDescendantChain(parentKey, -1); err != nil {
			return err
		}
	}

	if rightKey != NullKey && e.pt.isLive(rightKey) {
		e.cursor.To(rightKey)
	} else if leftKey != NullKey && e.pt.isLive(leftKey) {
		e.cursor.To(leftKey)
	} else if parentKey != NullKey {
		e.cursor.To(parentKey)
	}
	return nil
}

// removeNonStructural removes an attribute or namespace node from its
// owning element, decrementing the relevant name-dictionary refcounts.
func (e *editor) removeNonStructural(self *Node) error {
	parent, err := e.pt.prepare(self.ParentKey)
	if err != nil {
		return err
	}
	if self.Kind == KindAttribute {
		h := attributeNameHash(QName{Local: e.pt.nameText(self.NameKey), URI: e.pt.nameText(self.URIKey)})
		parent.deleteAttributeNameHash(h)
		parent.AttributeKeys = removeKey(parent.AttributeKeys, self.Key)
	} else {
		parent.NamespaceKeys = removeKey(parent.NamespaceKeys, self.Key)
	}
	e.pt.finish(parent)

	e.pt.removeName(self.NameKey)
	e.pt.removeName(self.URIKey)
	if err := e.pt.remove(self.Key); err != nil {
		return err
	}
	if err := e.hashes.onRemove(self.Hash, self.ParentKey); err != nil {
		return err
	}
	e.cursor.To(self.ParentKey)
	return nil
}

// removeSubtreeNodes walks the subtree rooted at key in document order and
// tombstones every node, decrementing name-dictionary refcounts for every
// attribute/namespace encountered along the way. It does not touch
// sibling/parent links; the caller handles relinking.
func (e *editor) removeSubtreeNodes(key NodeKey) error {
	n, err := e.pt.get(key)
	if err != nil {
		return err
	}
	if n.Kind == KindElement {
		for _, ak := range n.AttributeKeys {
			a, err := e.pt.get(ak)
			if err != nil {
				return err
			}
			e.pt.removeName(a.NameKey)
			e.pt.removeName(a.URIKey)
			if err := e.pt.remove(ak); err != nil {
				return err
			}
		}
		for _, nsk := range n.NamespaceKeys {
			ns, err := e.pt.get(nsk)
			if err != nil {
				return err
			}
			e.pt.removeName(ns.NameKey)
			e.pt.removeName(ns.URIKey)
			if err := e.pt.remove(nsk); err != nil {
				return err
			}
		}
	}
	if n.Kind.IsNamed() {
		e.pt.removeName(n.NameKey)
		e.pt.removeName(n.URIKey)
	}

	child := n.FirstChildKey
	for child != NullKey {
		cn, err := e.pt.get(child)
		if err != nil {
			return err
		}
		next := cn.RightSiblingKey
		if err := e.removeSubtreeNodes(child); err != nil {
			return err
		}
		child = next
	}

	return e.pt.remove(key)
}

// unlinkAndDeleteText removes a text node that has already been merged
// into its left neighbor: no name-dictionary work and no sibling
// relinking; the caller (Remove) relinks around it afterwards via
// relinkAfterAbsorb.
func (e *editor) unlinkAndDeleteText(key NodeKey) error {
	return e.pt.remove(key)
}

// relinkAfterAbsorb closes the sibling-chain gap left behind when a text
// node was absorbed into leftKey and deleted: leftKey must now point past
// it to newRightKey (the absorbed node's own former right sibling), and
// newRightKey's left pointer, if it exists, must point back to leftKey.
func (e *editor) relinkAfterAbsorb(leftKey, newRightKey NodeKey) error {
	l, err := e.pt.prepare(leftKey)
	if err != nil {
		return err
	}
	l.RightSiblingKey = newRightKey
	e.pt.finish(l)

	if newRightKey != NullKey {
		r, err := e.pt.prepare(newRightKey)
		if err != nil {
			return err
		}
		r.LeftSiblingKey = leftKey
		e.pt.finish(r)
	}
	return nil
}

func removeKey(keys []NodeKey, target NodeKey) []NodeKey {
	out := keys[:0]
	for _, k := range keys {
		if k != target {
			out = append(out, k)
		}
	}
	return out
}

// ---- Move subtree --------------------------------------------------------

// MoveSubtree relocates the subtree rooted at sourceKey to a position
// relative to the cursor's current node, per hint.
func (e *editor) MoveSubtree(sourceKey NodeKey, hint InsertHint) error {
	if err := e.onEdit(); err != nil {
		return err
	}
	self, err := e.cursor.node()
	if err != nil {
		return err
	}
	if sourceKey == self.Key {
		return wrap("MoveSubtree", KindBadArgument, ErrMoveToSelf)
	}
	if !e.pt.isLive(sourceKey) {
		return wrap("MoveSubtree", KindBadArgument, ErrInvalidKey)
	}
	if e.isAncestorOf(sourceKey, self.Key) {
		return wrap("MoveSubtree", KindBadArgument, ErrMoveToAncestor)
	}

	if e.alreadyAtPosition(sourceKey, self.Key, hint) {
		return nil
	}

	source, err := e.pt.get(sourceKey)
	if err != nil {
		return err
	}
	oldParentKey := source.ParentKey
	oldLeftKey := source.LeftSiblingKey
	oldRightKey := source.RightSiblingKey
	sourceHash := source.Hash
	subtreeSize := source.DescendantCount + 1

	if err := e.detachForMove(sourceKey, oldParentKey, oldLeftKey, oldRightKey); err != nil {
		return err
	}
	if oldParentKey != NullKey {
		if err := e.adjustDescendantChain(oldParentKey, -subtreeSize); err != nil {
			return err
		}
	}
	if err := e.hashes.onRemove(sourceHash, oldParentKey); err != nil {
		return err
	}

	merged, err := e.attachForMove(sourceKey, self.Key, hint)
	if err != nil {
		return err
	}
	if merged {
		// source's content was absorbed into an existing text neighbor;
		// no new node exists at the destination, and the old-chain
		// subtreeSize decrement above already accounts for source leaving
		// its prior position.
		e.cursor.To(self.Key)
		return nil
	}

	attached, err := e.pt.get(sourceKey)
	if err != nil {
		return err
	}
	if err := e.adjustDescendantChain(attached.ParentKey, subtreeSize); err != nil {
		return err
	}
	if err := e.hashes.onMoveAttach(sourceKey); err != nil {
		return err
	}

	e.cursor.To(sourceKey)
	return nil
}

// detachForMove removes source from its current neighbors, merging text
// at the vacated gap per §4.4's text-merge rule, then decrements the old
// parent's child_count.
func (e *editor) detachForMove(sourceKey, parentKey, leftKey, rightKey NodeKey) error {
	mergedGap := false
	if leftKey != NullKey && rightKey != NullKey {
		left, err := e.pt.get(leftKey)
		if err != nil {
			return err
		}
		right, err := e.pt.get(rightKey)
		if err != nil {
			return err
		}
		if left.Kind == KindText && right.Kind == KindText {
			rightVal := decodeValue(right.Value, right.Compressed)
			rightHash := right.Hash
			rightRightKey := right.RightSiblingKey
			if _, err := e.mergeTextInto(leftKey, rightVal, false); err != nil {
				return err
			}
			if err := e.pt.remove(rightKey); err != nil {
				return err
			}
			if err := e.relinkAfterAbsorb(leftKey, rightRightKey); err != nil {
				return err
			}
			if err := e.hashes.onRemove(rightHash, parentKey); err != nil {
				return err
			}
			mergedGap = true
		}
	}
	if !mergedGap {
		if leftKey != NullKey {
			l, err := e.pt.prepare(leftKey)
			if err != nil {
				return err
			}
			l.RightSiblingKey = rightKey
			e.pt.finish(l)
		}
		if rightKey != NullKey {
			r, err := e.pt.prepare(rightKey)
			if err != nil {
				return err
			}
			r.LeftSiblingKey = leftKey
			e.pt.finish(r)
		}
		if leftKey == NullKey && parentKey != NullKey {
			p, err := e.pt.prepare(parentKey)
			if err != nil {
				return err
			}
			p.FirstChildKey = rightKey
			e.pt.finish(p)
		}
	}
	if parentKey != NullKey {
		p, err := e.pt.prepare(parentKey)
		if err != nil {
			return err
		}
		p.ChildCount--
		if mergedGap {
			p.ChildCount--
		}
		e.pt.finish(p)
	}
	if mergedGap && !e.hashes.bulkInsert {
		return e.adjustDescendantChain(parentKey, -1)
	}
	return nil
}

// attachForMove links source at the destination position, merging text if
// the destination neighbor is also text (the merged node absorbs source,
// which is then deleted rather than relinked, matching the text-merge
// rule applying recursively to move operations). The returned bool reports
// whether the merge-absorb path was taken.
func (e *editor) attachForMove(sourceKey, refKey NodeKey, hint InsertHint) (bool, error) {
	source, err := e.pt.get(sourceKey)
	if err != nil {
		return false, err
	}
	if source.Kind == KindText {
		ref, err := e.pt.get(refKey)
		if err != nil {
			return false, err
		}
		var neighborKey NodeKey = NullKey
		switch hint {
		case AsFirstChild:
			if ref.Kind.IsStructural() {
				neighborKey = ref.FirstChildKey
			}
		case AsLeftSibling:
			neighborKey = ref.LeftSiblingKey
		case AsRightSibling:
			neighborKey = ref.RightSiblingKey
		}
		if neighborKey != NullKey {
			if neighbor, err := e.pt.get(neighborKey); err == nil && neighbor.Kind == KindText {
				val := decodeValue(source.Value, source.Compressed)
				if _, err := e.mergeTextInto(neighbor.Key, val, hint == AsLeftSibling); err != nil {
					return false, err
				}
				return true, e.pt.remove(sourceKey)
			}
		}
	}
	return false, e.linkStructural(sourceKey, refKey, hint)
}

// alreadyAtPosition reports whether source is already positioned exactly
// as hint relative to ref would place it (R2's no-op fast path).
func (e *editor) alreadyAtPosition(sourceKey, refKey NodeKey, hint InsertHint) bool {
	source, err := e.pt.get(sourceKey)
	if err != nil {
		return false
	}
	ref, err := e.pt.get(refKey)
	if err != nil {
		return false
	}
	switch hint {
	case AsFirstChild:
		return ref.Kind.IsStructural() && ref.FirstChildKey == sourceKey
	case AsLeftSibling:
		return source.RightSiblingKey == refKey
	case AsRightSibling:
		return source.LeftSiblingKey == refKey
	}
	return false
}

// isAncestorOf reports whether candidate is an ancestor of key.
func (e *editor) isAncestorOf(candidate, key NodeKey) bool {
	n, err := e.pt.get(key)
	if err != nil {
		return false
	}
	cur := n.ParentKey
	for cur != NullKey {
		if cur == candidate {
			return true
		}
		p, err := e.pt.get(cur)
		if err != nil {
			return false
		}
		cur = p.ParentKey
	}
	return false
}

// ---- Set qname / URI / value --------------------------------------------

// SetQName renames the cursor's current named node. No-op if unchanged.
func (e *editor) SetQName(name QName) error {
	if err := e.onEdit(); err != nil {
		return err
	}
	self, err := e.cursor.node()
	if err != nil {
		return err
	}
	if !self.Kind.IsNamed() {
		return wrap("SetQName", KindUsage, ErrWrongKindForOp)
	}
	if e.pt.nameText(self.NameKey) == name.String() {
		return nil
	}
	oldNameKey := self.NameKey
	newNameKey := e.registerName(name.String())

	prep, err := e.pt.prepare(self.Key)
	if err != nil {
		return err
	}
	oldHash := prep.Hash
	prep.NameKey = newNameKey
	e.pt.finish(prep)
	e.pt.removeName(oldNameKey)

	return e.hashes.onUpdate(self.Key, oldHash)
}

// SetURI rebinds the cursor's current named node's namespace URI. No-op
// if unchanged.
func (e *editor) SetURI(uri string) error {
	if err := e.onEdit(); err != nil {
		return err
	}
	self, err := e.cursor.node()
	if err != nil {
		return err
	}
	if !self.Kind.IsNamed() {
		return wrap("SetURI", KindUsage, ErrWrongKindForOp)
	}
	if e.pt.nameText(self.URIKey) == uri {
		return nil
	}
	oldURIKey := self.URIKey
	newURIKey := e.registerName(uri)

	prep, err := e.pt.prepare(self.Key)
	if err != nil {
		return err
	}
	oldHash := prep.Hash
	prep.URIKey = newURIKey
	e.pt.finish(prep)
	e.pt.removeName(oldURIKey)

	return e.hashes.onUpdate(self.Key, oldHash)
}

// SetValue overwrites the cursor's current valued node's content. No-op
// if unchanged (R3).
func (e *editor) SetValue(value []byte) error {
	if err := e.onEdit(); err != nil {
		return err
	}
	self, err := e.cursor.node()
	if err != nil {
		return err
	}
	if !self.Kind.IsValued() {
		return wrap("SetValue", KindUsage, ErrWrongKindForOp)
	}
	current := decodeValue(self.Value, self.Compressed)
	if string(current) == string(value) {
		return nil
	}
	encoded, compressed := e.pt.encodeValue(value)

	prep, err := e.pt.prepare(self.Key)
	if err != nil {
		return err
	}
	oldHash := prep.Hash
	prep.Value = encoded
	prep.Compressed = compressed
	e.pt.finish(prep)

	return e.hashes.onUpdate(self.Key, oldHash)
}

// ---- Replace node ---------------------------------------------------------

// ReplaceWithText replaces the cursor's current node with a single text
// node carrying value, preserving the replaced node's positional role.
func (e *editor) ReplaceWithText(value []byte) (NodeKey, error) {
	if err := e.onEdit(); err != nil {
		return NullKey, err
	}
	self, err := e.cursor.node()
	if err != nil {
		return NullKey, err
	}
	if self.Kind == KindAttribute || self.Kind == KindNamespace {
		return NullKey, wrap("ReplaceWithText", KindUsage, ErrIncompatibleReplacement)
	}
	return e.replaceStructural(self, func(hint InsertHint) (NodeKey, error) {
		return e.InsertText(hint, value)
	})
}

// ReplaceWithElement replaces the cursor's current structural node with a
// new, empty element, preserving positional role.
func (e *editor) ReplaceWithElement(name QName) (NodeKey, error) {
	if err := e.onEdit(); err != nil {
		return NullKey, err
	}
	self, err := e.cursor.node()
	if err != nil {
		return NullKey, err
	}
	if !self.Kind.IsStructural() {
		return NullKey, wrap("ReplaceWithElement", KindUsage, ErrIncompatibleReplacement)
	}
	return e.replaceStructural(self, func(hint InsertHint) (NodeKey, error) {
		return e.InsertElement(hint, name)
	})
}

// replaceStructural implements the original's exact positional-preservation
// rule: if the replaced node has a left sibling, the replacement is
// inserted as that sibling's right sibling (i.e. immediately left of the
// target, achieved here via AsLeftSibling on the target itself when the
// target is not the first child; when the target IS the first child, the
// replacement becomes the new first child, via insert(AsFirstChild) with
// the cursor on the parent). The original node is removed afterward.
func (e *editor) replaceStructural(self *Node, insert func(InsertHint) (NodeKey, error)) (NodeKey, error) {
	targetKey := self.Key
	hadLeftSibling := self.LeftSiblingKey != NullKey
	parentKey := self.ParentKey

	var newKey NodeKey
	var err error
	if hadLeftSibling || parentKey == NullKey {
		e.cursor.To(targetKey)
		newKey, err = insert(AsLeftSibling)
	} else {
		e.cursor.To(parentKey)
		newKey, err = insert(AsFirstChild)
	}
	if err != nil {
		return NullKey, err
	}

	e.cursor.To(targetKey)
	if removeErr := e.Remove(); removeErr != nil {
		return NullKey, removeErr
	}
	e.cursor.To(newKey)
	return newKey, nil
}

// ---- Copy subtree ---------------------------------------------------------

// copyVisitor drives the destination editor from a source ReadTransaction
// traversal, implementing the Visitor contract of session.go.
type copyVisitor struct {
	e         *editor
	anchorKey NodeKey // destination node that each depth-0 visit inserts relative to
	hint      InsertHint
	stack     []NodeKey // destination element key at each depth, for attribute/child attachment
	err       error
}

func (v *copyVisitor) VisitElement(name QName, depth int) error {
	if v.err != nil {
		return v.err
	}
	if depth == 0 {
		v.e.cursor.To(v.anchorKey)
		key, err := v.e.InsertElement(v.hint, name)
		if err != nil {
			v.err = err
			return err
		}
		v.stack = append(v.stack, key)
		return nil
	}
	parentKey := v.stack[len(v.stack)-1]
	key, err := v.e.appendChild(parentKey, func() (NodeKey, error) {
		return v.e.InsertElement(AsFirstChild, name)
	}, func() (NodeKey, error) {
		return v.e.InsertElement(AsRightSibling, name)
	})
	if err != nil {
		v.err = err
		return err
	}
	v.stack = append(v.stack, key)
	return nil
}

// appendChild inserts a new node as the last child of parentKey: as the
// first child if parentKey currently has none, otherwise as the right
// sibling of the current rightmost child. insertFirst/insertAfterCursor
// must each leave the cursor positioned appropriately before calling.
func (e *editor) appendChild(parentKey NodeKey, insertFirst, insertAfterCursor func() (NodeKey, error)) (NodeKey, error) {
	n, err := e.pt.get(parentKey)
	if err != nil {
		return NullKey, err
	}
	if !n.HasFirstChild() {
		e.cursor.To(parentKey)
		return insertFirst()
	}
	last := e.lastChildOf(parentKey)
	e.cursor.To(last)
	return insertAfterCursor()
}

func (v *copyVisitor) VisitText(value []byte, depth int) error {
	if v.err != nil {
		return v.err
	}
	if depth == 0 {
		v.e.cursor.To(v.anchorKey)
		key, err := v.e.InsertText(v.hint, value)
		if err != nil {
			v.err = err
			return err
		}
		v.stack = append(v.stack, key)
		return nil
	}
	parentKey := v.stack[len(v.stack)-1]
	key, err := v.e.appendChild(parentKey, func() (NodeKey, error) {
		return v.e.InsertText(AsFirstChild, value)
	}, func() (NodeKey, error) {
		return v.e.InsertText(AsRightSibling, value)
	})
	if err != nil {
		v.err = err
		return err
	}
	v.stack = append(v.stack, key)
	return nil
}

func (v *copyVisitor) VisitAttribute(name QName, value []byte) error {
	if v.err != nil {
		return v.err
	}
	elemKey := v.stack[len(v.stack)-1]
	v.e.cursor.To(elemKey)
	_, err := v.e.InsertAttribute(name, value, MoveToParent)
	if err != nil {
		v.err = err
	}
	return err
}

func (v *copyVisitor) VisitNamespace(prefix, uri string) error {
	if v.err != nil {
		return v.err
	}
	elemKey := v.stack[len(v.stack)-1]
	v.e.cursor.To(elemKey)
	_, err := v.e.InsertNamespace(prefix, uri, MoveToParent)
	if err != nil {
		v.err = err
	}
	return err
}

func (v *copyVisitor) Leave(depth int) {
	// The depth-0 entry stays: it is the copy's root, which CopySubtree returns.
	if depth > 0 && len(v.stack) > 0 {
		v.stack = v.stack[:len(v.stack)-1]
	}
}

// lastChildOf returns the key of the rightmost child of parentKey.
func (e *editor) lastChildOf(parentKey NodeKey) NodeKey {
	n, err := e.pt.get(parentKey)
	if err != nil {
		return NullKey
	}
	cur := n.FirstChildKey
	for cur != NullKey {
		c, err := e.pt.get(cur)
		if err != nil {
			return cur
		}
		if c.RightSiblingKey == NullKey {
			return cur
		}
		cur = c.RightSiblingKey
	}
	return NullKey
}

// CopySubtree traverses sourceKey in src (any revision of any resource) in
// document order and reissues create ops against this transaction,
// re-registering name keys in this transaction's name dictionary, per
// §4.4's Copy Subtree.
func (e *editor) CopySubtree(src *ReadTransaction, sourceKey NodeKey, hint InsertHint) (NodeKey, error) {
	if err := e.onEdit(); err != nil {
		return NullKey, err
	}
	self, err := e.cursor.node()
	if err != nil {
		return NullKey, err
	}
	v := &copyVisitor{e: e, anchorKey: self.Key, hint: hint}
	if err := src.Visit(sourceKey, v); err != nil {
		return NullKey, err
	}
	if len(v.stack) == 0 {
		return NullKey, wrap("CopySubtree", KindIO, ErrInvalidKey)
	}
	return v.stack[0], nil
}

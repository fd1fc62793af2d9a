package arbor

// Cursor holds the write transaction's single current position within the
// tree, by node key. There is exactly one cursor per write transaction.
type Cursor struct {
	pt  *pageTransaction
	key NodeKey
}

func newCursor(pt *pageTransaction) *Cursor {
	return &Cursor{pt: pt, key: 0}
}

// Key returns the node key the cursor currently sits on.
func (c *Cursor) Key() NodeKey { return c.key }

// node fetches the node the cursor currently sits on.
func (c *Cursor) node() (*Node, error) {
	return c.pt.get(c.key)
}

// Kind returns the kind of the current node.
func (c *Cursor) Kind() (Kind, error) {
	n, err := c.node()
	if err != nil {
		return 0, err
	}
	return n.Kind, nil
}

// QName returns the current node's qualified name, resolved through the
// name dictionary. Only valid on named kinds.
func (c *Cursor) QName() (QName, error) {
	n, err := c.node()
	if err != nil {
		return QName{}, err
	}
	if !n.Kind.IsNamed() {
		return QName{}, wrap("QName", KindUsage, ErrWrongKindForOp)
	}
	local := c.pt.nameText(n.NameKey)
	uri := c.pt.nameText(n.URIKey)
	return QName{Local: local, URI: uri}, nil
}

// Value returns the current node's decoded byte value. Only valid on
// valued kinds.
func (c *Cursor) Value() ([]byte, error) {
	n, err := c.node()
	if err != nil {
		return nil, err
	}
	if !n.Kind.IsValued() {
		return nil, wrap("Value", KindUsage, ErrWrongKindForOp)
	}
	return decodeValue(n.Value, n.Compressed), nil
}

// Hash returns the current node's stored subtree hash.
func (c *Cursor) Hash() (uint64, error) {
	n, err := c.node()
	if err != nil {
		return 0, err
	}
	return n.Hash, nil
}

// ChildCount returns the current node's child_count. Only valid on
// structural kinds.
func (c *Cursor) ChildCount() (int64, error) {
	n, err := c.node()
	if err != nil {
		return 0, err
	}
	if !n.Kind.IsStructural() {
		return 0, wrap("ChildCount", KindUsage, ErrWrongKindForOp)
	}
	return n.ChildCount, nil
}

// DescendantCount returns the current node's descendant_count. Only valid
// on structural kinds.
func (c *Cursor) DescendantCount() (int64, error) {
	n, err := c.node()
	if err != nil {
		return 0, err
	}
	if !n.Kind.IsStructural() {
		return 0, wrap("DescendantCount", KindUsage, ErrWrongKindForOp)
	}
	return n.DescendantCount, nil
}

// To moves the cursor directly to key. It fails, leaving the cursor
// unchanged, if key does not refer to a live node.
func (c *Cursor) To(key NodeKey) bool {
	if !c.pt.isLive(key) {
		return false
	}
	c.key = key
	return true
}

// ToDocumentRoot moves the cursor to node key 0.
func (c *Cursor) ToDocumentRoot() bool {
	return c.To(0)
}

// ToParent moves the cursor to the current node's parent.
func (c *Cursor) ToParent() bool {
	n, err := c.node()
	if err != nil || n.ParentKey == NullKey {
		return false
	}
	return c.To(n.ParentKey)
}

// ToFirstChild moves the cursor to the current node's first child. Fails
// if the current node is not structural or has no children.
func (c *Cursor) ToFirstChild() bool {
	n, err := c.node()
	if err != nil || !n.Kind.IsStructural() || n.FirstChildKey == NullKey {
		return false
	}
	return c.To(n.FirstChildKey)
}

// ToLeftSibling moves the cursor to the current node's left sibling.
func (c *Cursor) ToLeftSibling() bool {
	n, err := c.node()
	if err != nil || !n.Kind.IsStructural() || n.LeftSiblingKey == NullKey {
		return false
	}
	return c.To(n.LeftSiblingKey)
}

// ToRightSibling moves the cursor to the current node's right sibling.
func (c *Cursor) ToRightSibling() bool {
	n, err := c.node()
	if err != nil || !n.Kind.IsStructural() || n.RightSiblingKey == NullKey {
		return false
	}
	return c.To(n.RightSiblingKey)
}

// ToAttribute moves the cursor to the i-th attribute of the current
// element (0-indexed by insertion order).
func (c *Cursor) ToAttribute(i int) bool {
	n, err := c.node()
	if err != nil || n.Kind != KindElement || i < 0 || i >= len(n.AttributeKeys) {
		return false
	}
	return c.To(n.AttributeKeys[i])
}

// ToNamespace moves the cursor to the i-th namespace of the current
// element (0-indexed by insertion order).
func (c *Cursor) ToNamespace(i int) bool {
	n, err := c.node()
	if err != nil || n.Kind != KindElement || i < 0 || i >= len(n.NamespaceKeys) {
		return false
	}
	return c.To(n.NamespaceKeys[i])
}

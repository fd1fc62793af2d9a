package arbor

// NodeKey uniquely identifies a node within a resource. Keys are allocated
// monotonically starting at 0 (the root).
type NodeKey int64

// NullKey is the sentinel value meaning "absent" for any link field.
const NullKey NodeKey = -1

// NameKey identifies an entry in the per-revision name dictionary.
type NameKey int32

// NullName is the sentinel value meaning "no name" for name/uri key fields.
const NullName NameKey = -1

// Kind discriminates the five node shapes the tree can hold.
type Kind int

const (
	// KindRoot is the single document root; it is structural but unnamed
	// and unvalued, and holds at most one child (I9).
	KindRoot Kind = iota

	// KindElement is a structural, named node that may own attributes and
	// namespaces.
	KindElement

	// KindText is a structural, valued node holding opaque byte content.
	KindText

	// KindAttribute is a named, valued node owned by exactly one element.
	KindAttribute

	// KindNamespace is a named node owned by exactly one element.
	KindNamespace
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "Root"
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	case KindAttribute:
		return "Attribute"
	case KindNamespace:
		return "Namespace"
	default:
		return "Unknown"
	}
}

// IsStructural reports whether nodes of this kind carry sibling/child links.
func (k Kind) IsStructural() bool {
	return k == KindRoot || k == KindElement || k == KindText
}

// IsNamed reports whether nodes of this kind carry name_key/uri_key.
func (k Kind) IsNamed() bool {
	return k == KindElement || k == KindAttribute || k == KindNamespace
}

// IsValued reports whether nodes of this kind carry a byte value.
func (k Kind) IsValued() bool {
	return k == KindText || k == KindAttribute
}

// Delegate holds the fields every node kind shares.
type Delegate struct {
	Key       NodeKey
	ParentKey NodeKey
	Hash      uint64
}

// Node is the shared record layout for all five kinds. Mutators are total:
// they never fail, and each only ever touches the slots its kind owns. Kind
// dispatch is by the Kind tag; invariant enforcement belongs to the editor,
// not to Node itself.
type Node struct {
	Kind Kind
	Delegate

	// Structural fields (Root, Element, Text).
	FirstChildKey   NodeKey
	LeftSiblingKey  NodeKey
	RightSiblingKey NodeKey
	ChildCount      int64
	DescendantCount int64

	// Named fields (Element, Attribute, Namespace).
	NameKey NameKey
	URIKey  NameKey

	// Valued fields (Text, Attribute).
	Value      []byte
	Compressed bool

	// Element-only fields.
	AttributeKeys  []NodeKey
	NamespaceKeys  []NodeKey
	attrByNameHash map[uint32]NodeKey
}

// NewStructuralNode builds a Root/Element/Text node with empty links.
func NewStructuralNode(kind Kind, key, parent NodeKey) *Node {
	n := &Node{
		Kind: kind,
		Delegate: Delegate{
			Key:       key,
			ParentKey: parent,
		},
		FirstChildKey:   NullKey,
		LeftSiblingKey:  NullKey,
		RightSiblingKey: NullKey,
	}
	if kind == KindElement {
		n.NameKey = NullName
		n.URIKey = NullName
		n.attrByNameHash = make(map[uint32]NodeKey)
	}
	return n
}

// NewAttributeNode builds an Attribute node owned by parent.
func NewAttributeNode(key, parent NodeKey, nameKey, uriKey NameKey, value []byte) *Node {
	return &Node{
		Kind:     KindAttribute,
		Delegate: Delegate{Key: key, ParentKey: parent},
		NameKey:  nameKey,
		URIKey:   uriKey,
		Value:    value,
	}
}

// NewNamespaceNode builds a Namespace node owned by parent.
func NewNamespaceNode(key, parent NodeKey, nameKey, uriKey NameKey) *Node {
	return &Node{
		Kind:     KindNamespace,
		Delegate: Delegate{Key: key, ParentKey: parent},
		NameKey:  nameKey,
		URIKey:   uriKey,
	}
}

// Clone makes a shallow value copy of n, deep-copying only the slices the
// page adapter's copy-on-write protocol requires callers to mutate freely.
func (n *Node) Clone() *Node {
	c := *n
	if n.Value != nil {
		c.Value = append([]byte(nil), n.Value...)
	}
	if n.AttributeKeys != nil {
		c.AttributeKeys = append([]NodeKey(nil), n.AttributeKeys...)
	}
	if n.NamespaceKeys != nil {
		c.NamespaceKeys = append([]NodeKey(nil), n.NamespaceKeys...)
	}
	if n.attrByNameHash != nil {
		c.attrByNameHash = make(map[uint32]NodeKey, len(n.attrByNameHash))
		for k, v := range n.attrByNameHash {
			c.attrByNameHash[k] = v
		}
	}
	return &c
}

// AttributeByNameHash looks up an existing attribute key on an Element by
// the hash of its qualified name. Ok is false if none is registered.
func (n *Node) AttributeByNameHash(h uint32) (NodeKey, bool) {
	if n.attrByNameHash == nil {
		return NullKey, false
	}
	k, ok := n.attrByNameHash[h]
	return k, ok
}

// setAttributeNameHash registers or overwrites the attribute-key mapping
// for the given name-hash on an Element node.
func (n *Node) setAttributeNameHash(h uint32, key NodeKey) {
	if n.attrByNameHash == nil {
		n.attrByNameHash = make(map[uint32]NodeKey)
	}
	n.attrByNameHash[h] = key
}

// deleteAttributeNameHash removes the name-hash to attribute-key mapping.
func (n *Node) deleteAttributeNameHash(h uint32) {
	delete(n.attrByNameHash, h)
}

// HasLeftSibling reports whether the node has a left sibling.
func (n *Node) HasLeftSibling() bool { return n.LeftSiblingKey != NullKey }

// HasRightSibling reports whether the node has a right sibling.
func (n *Node) HasRightSibling() bool { return n.RightSiblingKey != NullKey }

// HasFirstChild reports whether the node has at least one child.
func (n *Node) HasFirstChild() bool { return n.FirstChildKey != NullKey }

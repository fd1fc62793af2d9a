package arbor

import "testing"

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		kind                        Kind
		structural, named, valued bool
	}{
		{KindRoot, true, false, false},
		{KindElement, true, true, false},
		{KindText, true, false, true},
		{KindAttribute, false, true, true},
		{KindNamespace, false, true, false},
	}
	for _, c := range cases {
		if got := c.kind.IsStructural(); got != c.structural {
			t.Errorf("%v.IsStructural() = %v, want %v", c.kind, got, c.structural)
		}
		if got := c.kind.IsNamed(); got != c.named {
			t.Errorf("%v.IsNamed() = %v, want %v", c.kind, got, c.named)
		}
		if got := c.kind.IsValued(); got != c.valued {
			t.Errorf("%v.IsValued() = %v, want %v", c.kind, got, c.valued)
		}
	}
}

func TestNodeCloneDeepCopiesSlices(t *testing.T) {
	n := NewStructuralNode(KindElement, 1, 0)
	n.AttributeKeys = []NodeKey{5, 6}
	n.NamespaceKeys = []NodeKey{7}
	n.setAttributeNameHash(42, 5)

	c := n.Clone()
	c.AttributeKeys[0] = 99
	c.setAttributeNameHash(42, 100)

	if n.AttributeKeys[0] != 5 {
		t.Fatalf("mutating clone's AttributeKeys mutated the original: %v", n.AttributeKeys)
	}
	if got, _ := n.AttributeByNameHash(42); got != 5 {
		t.Fatalf("mutating clone's name hash map mutated the original: got %v", got)
	}
}

func TestAttributeByNameHashRoundTrip(t *testing.T) {
	n := NewStructuralNode(KindElement, 1, 0)
	if _, ok := n.AttributeByNameHash(1); ok {
		t.Fatalf("expected no entry on a fresh element")
	}
	n.setAttributeNameHash(1, 10)
	if key, ok := n.AttributeByNameHash(1); !ok || key != 10 {
		t.Fatalf("got (%v, %v), want (10, true)", key, ok)
	}
	n.deleteAttributeNameHash(1)
	if _, ok := n.AttributeByNameHash(1); ok {
		t.Fatalf("expected entry to be gone after delete")
	}
}

func TestHasSiblingHelpers(t *testing.T) {
	n := NewStructuralNode(KindElement, 1, 0)
	if n.HasLeftSibling() || n.HasRightSibling() || n.HasFirstChild() {
		t.Fatalf("a freshly built node must start with no links")
	}
	n.LeftSiblingKey = 2
	n.RightSiblingKey = 3
	n.FirstChildKey = 4
	if !n.HasLeftSibling() || !n.HasRightSibling() || !n.HasFirstChild() {
		t.Fatalf("link helpers did not observe the assigned keys")
	}
}

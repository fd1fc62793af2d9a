package arbor

import "testing"

func newTestTransaction(t *testing.T) *Transaction {
	t.Helper()
	cfg, err := NewResourceConfig(ResourceConfig{HashKind: HashRolling})
	if err != nil {
		t.Fatalf("NewResourceConfig: %v", err)
	}
	session := NewSession(cfg)
	return session.Begin()
}

func TestCursorMovesAcrossSiblings(t *testing.T) {
	tx := newTestTransaction(t)

	logKey, err := tx.InsertElement(AsFirstChild, QName{Local: "log"})
	if err != nil {
		t.Fatalf("InsertElement(log): %v", err)
	}
	aKey, err := tx.InsertElement(AsFirstChild, QName{Local: "a"})
	if err != nil {
		t.Fatalf("InsertElement(a): %v", err)
	}
	bKey, err := tx.InsertElement(AsRightSibling, QName{Local: "b"})
	if err != nil {
		t.Fatalf("InsertElement(b): %v", err)
	}

	c := tx.Cursor()
	if !c.ToLeftSibling() || c.Key() != aKey {
		t.Fatalf("expected ToLeftSibling from b to land on a (%d), got %d", aKey, c.Key())
	}
	if !c.ToParent() || c.Key() != logKey {
		t.Fatalf("expected ToParent from a to land on log (%d), got %d", logKey, c.Key())
	}
	if !c.ToFirstChild() || c.Key() != aKey {
		t.Fatalf("expected ToFirstChild from log to land on a (%d), got %d", aKey, c.Key())
	}
	if !c.ToRightSibling() || c.Key() != bKey {
		t.Fatalf("expected ToRightSibling from a to land on b (%d), got %d", bKey, c.Key())
	}
	if !c.ToLeftSibling() || c.Key() != aKey {
		t.Fatalf("expected ToLeftSibling from b to land on a (%d), got %d", aKey, c.Key())
	}
	if c.ToLeftSibling() {
		t.Fatalf("a has no left sibling, ToLeftSibling should fail")
	}
}

func TestCursorToRejectsDeadKey(t *testing.T) {
	tx := newTestTransaction(t)
	c := tx.Cursor()
	if c.To(NodeKey(999)) {
		t.Fatalf("To should fail for an unknown key")
	}
	if c.Key() != 0 {
		t.Fatalf("failed To must leave the cursor unchanged, got key %d", c.Key())
	}
}

func TestCursorAccessorsRejectWrongKind(t *testing.T) {
	tx := newTestTransaction(t)
	if _, err := tx.InsertElement(AsFirstChild, QName{Local: "log"}); err != nil {
		t.Fatalf("InsertElement: %v", err)
	}
	c := tx.Cursor()
	if _, err := c.Value(); err == nil {
		t.Fatalf("Value() on an Element must fail")
	}
	c.ToDocumentRoot()
	if _, err := c.QName(); err == nil {
		t.Fatalf("QName() on Root must fail")
	}
}

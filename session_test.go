package arbor

import "testing"

// Scenario 6 (spec §8): a reader pinned to an earlier revision must not
// observe edits committed by a writer afterward.
func TestReadTransactionIsIsolatedFromLaterCommits(t *testing.T) {
	cfg, err := NewResourceConfig(ResourceConfig{HashKind: HashRolling})
	if err != nil {
		t.Fatalf("NewResourceConfig: %v", err)
	}
	session := NewSession(cfg)
	tx := session.Begin()

	if _, err := tx.InsertElement(AsFirstChild, QName{Local: "log"}); err != nil {
		t.Fatalf("InsertElement(log): %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	firstRev := session.lastCommittedRevision()

	reader, err := session.BeginNodeReadTrx(firstRev)
	if err != nil {
		t.Fatalf("BeginNodeReadTrx: %v", err)
	}

	c := tx.Cursor()
	c.ToDocumentRoot()
	c.ToFirstChild()
	if _, err := tx.InsertAttribute(QName{Local: "n"}, []byte("1"), MoveToParent); err != nil {
		t.Fatalf("InsertAttribute: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	root, err := reader.Get(0)
	if err != nil {
		t.Fatalf("Get(root): %v", err)
	}
	if root.ChildCount != 1 {
		t.Fatalf("pinned reader saw child_count(root) = %d, want 1", root.ChildCount)
	}
	logNode, err := reader.Get(root.FirstChildKey)
	if err != nil {
		t.Fatalf("Get(log): %v", err)
	}
	if len(logNode.AttributeKeys) != 0 {
		t.Fatalf("pinned reader observed %d attributes committed after its revision was opened, want 0", len(logNode.AttributeKeys))
	}

	if reader.RevisionNumber() != firstRev {
		t.Fatalf("RevisionNumber() = %d, want %d", reader.RevisionNumber(), firstRev)
	}
}

func TestBeginNodeReadTrxRejectsUnknownRevision(t *testing.T) {
	cfg, err := NewResourceConfig(ResourceConfig{HashKind: HashRolling})
	if err != nil {
		t.Fatalf("NewResourceConfig: %v", err)
	}
	session := NewSession(cfg)
	_, err = session.BeginNodeReadTrx(RevisionNumber(42))
	if !IsKind(err, KindBadArgument) {
		t.Fatalf("expected a BadArgument unknown-revision error, got %v", err)
	}
}

// recordingVisitor captures the event sequence Visit drives through it, in
// order, so the traversal shape can be asserted directly.
type recordingVisitor struct {
	events []string
}

func (v *recordingVisitor) VisitElement(name QName, depth int) error {
	v.events = append(v.events, "element:"+name.Local)
	return nil
}

func (v *recordingVisitor) VisitText(value []byte, depth int) error {
	v.events = append(v.events, "text:"+string(value))
	return nil
}

func (v *recordingVisitor) VisitAttribute(name QName, value []byte) error {
	v.events = append(v.events, "attribute:"+name.Local+"="+string(value))
	return nil
}

func (v *recordingVisitor) VisitNamespace(prefix, uri string) error {
	v.events = append(v.events, "namespace:"+prefix)
	return nil
}

func (v *recordingVisitor) Leave(depth int) {
	v.events = append(v.events, "leave")
}

func TestVisitTraversesInDocumentOrderWithAttributesFirst(t *testing.T) {
	cfg, err := NewResourceConfig(ResourceConfig{HashKind: HashRolling})
	if err != nil {
		t.Fatalf("NewResourceConfig: %v", err)
	}
	tx := NewSession(cfg).Begin()

	rootKey, err := tx.InsertElement(AsFirstChild, QName{Local: "log"})
	if err != nil {
		t.Fatalf("InsertElement(log): %v", err)
	}
	if _, err := tx.InsertAttribute(QName{Local: "id"}, []byte("1"), MoveToParent); err != nil {
		t.Fatalf("InsertAttribute: %v", err)
	}
	if _, err := tx.InsertText(AsFirstChild, []byte("hi")); err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader, err := tx.session.BeginNodeReadTrx(tx.RevisionNumber() - 1)
	if err != nil {
		t.Fatalf("BeginNodeReadTrx: %v", err)
	}

	v := &recordingVisitor{}
	if err := reader.Visit(rootKey, v); err != nil {
		t.Fatalf("Visit: %v", err)
	}

	want := []string{"element:log", "attribute:id=1", "text:hi", "leave", "leave"}
	if len(v.events) != len(want) {
		t.Fatalf("events = %v, want %v", v.events, want)
	}
	for i := range want {
		if v.events[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q (full: %v)", i, v.events[i], want[i], v.events)
		}
	}
}

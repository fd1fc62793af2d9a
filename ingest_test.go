package arbor

import "testing"

// IngestSubtree replays a full event stream under bulk_insert, then its
// single post-order pass must repair both hash and child/descendant counts
// exactly as if every node had been inserted one at a time (R4).
func TestIngestSubtreeRepairsCountsAndHashAfterBulkInsert(t *testing.T) {
	tx := newTestTransaction(t)
	logKey, err := tx.InsertElement(AsFirstChild, QName{Local: "log"})
	if err != nil {
		t.Fatalf("InsertElement(log): %v", err)
	}

	events := []Event{
		{Kind: EventStartDocument},
		{Kind: EventStartElement, Name: QName{Local: "entry"}, Attributes: []AttributeEvent{
			{Name: QName{Local: "id"}, Value: []byte("1")},
		}},
		{Kind: EventText, Value: []byte("hello")},
		{Kind: EventEndElement},
		{Kind: EventEndDocument},
	}
	src := NewSliceEventSource(events)

	c := tx.Cursor()
	c.To(logKey)
	rootKey, err := IngestSubtree(tx, src, AsFirstChild)
	if err != nil {
		t.Fatalf("IngestSubtree: %v", err)
	}

	c.To(rootKey)
	childCount, _ := c.ChildCount()
	descCount, _ := c.DescendantCount()
	if childCount != 1 {
		t.Errorf("entry.child_count = %d, want 1 (the text child)", childCount)
	}
	if descCount != 1 {
		t.Errorf("entry.descendant_count = %d, want 1", descCount)
	}

	c.To(logKey)
	logChildCount, _ := c.ChildCount()
	logDescCount, _ := c.DescendantCount()
	if logChildCount != 1 {
		t.Errorf("log.child_count = %d, want 1", logChildCount)
	}
	if logDescCount != 2 {
		t.Errorf("log.descendant_count = %d, want 2 (entry + its text child)", logDescCount)
	}

	hash, err := c.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == 0 {
		t.Errorf("log.hash after ingest repair = 0, want the folded subtree hash")
	}
}

// Ingesting a subtree whose root element has two child elements, each with
// their own text, must produce the correct structural shape, independent
// of the counts fix.
func TestIngestSubtreeBuildsNestedChildren(t *testing.T) {
	tx := newTestTransaction(t)
	logKey, err := tx.InsertElement(AsFirstChild, QName{Local: "log"})
	if err != nil {
		t.Fatalf("InsertElement(log): %v", err)
	}

	events := []Event{
		{Kind: EventStartElement, Name: QName{Local: "entry"}},
		{Kind: EventStartElement, Name: QName{Local: "a"}},
		{Kind: EventText, Value: []byte("one")},
		{Kind: EventEndElement},
		{Kind: EventStartElement, Name: QName{Local: "b"}},
		{Kind: EventText, Value: []byte("two")},
		{Kind: EventEndElement},
		{Kind: EventEndElement},
	}
	src := NewSliceEventSource(events)

	c := tx.Cursor()
	c.To(logKey)
	rootKey, err := IngestSubtree(tx, src, AsFirstChild)
	if err != nil {
		t.Fatalf("IngestSubtree: %v", err)
	}

	c.To(rootKey)
	name, _ := c.QName()
	if name.Local != "entry" {
		t.Fatalf("IngestSubtree root = %q, want %q", name.Local, "entry")
	}
	if !c.ToFirstChild() {
		t.Fatalf("entry has no first child")
	}
	aName, _ := c.QName()
	if aName.Local != "a" {
		t.Fatalf("entry.first_child = %q, want %q", aName.Local, "a")
	}
	if !c.ToRightSibling() {
		t.Fatalf("expected a second child \"b\"")
	}
	bName, _ := c.QName()
	if bName.Local != "b" {
		t.Fatalf("second child = %q, want %q", bName.Local, "b")
	}

	c.To(rootKey)
	entryChildCount, _ := c.ChildCount()
	if entryChildCount != 2 {
		t.Errorf("entry.child_count = %d, want 2", entryChildCount)
	}
	entryDescCount, _ := c.DescendantCount()
	if entryDescCount != 4 {
		t.Errorf("entry.descendant_count = %d, want 4 (a, a's text, b, b's text)", entryDescCount)
	}

	c.To(logKey)
	logChildCount, _ := c.ChildCount()
	if logChildCount != 1 {
		t.Errorf("log.child_count = %d, want 1", logChildCount)
	}
	logDescCount, _ := c.DescendantCount()
	if logDescCount != 5 {
		t.Errorf("log.descendant_count = %d, want 5", logDescCount)
	}
}

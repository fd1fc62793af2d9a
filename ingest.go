package arbor

// EventKind discriminates the shapes an ingest event stream can carry.
type EventKind int

const (
	// EventStartDocument marks the start of an event stream.
	EventStartDocument EventKind = iota
	// EventStartElement carries a qname plus its attributes/namespaces.
	EventStartElement
	// EventText carries a text value.
	EventText
	// EventEndElement closes the most recently opened element.
	EventEndElement
	// EventEndDocument marks the end of an event stream.
	EventEndDocument
)

// AttributeEvent is one attribute carried by a StartElement event.
type AttributeEvent struct {
	Name  QName
	Value []byte
}

// NamespaceEvent is one namespace binding carried by a StartElement event.
type NamespaceEvent struct {
	Prefix string
	URI    string
}

// Event is one item from an external event source (§6).
type Event struct {
	Kind       EventKind
	Name       QName
	Value      []byte
	Attributes []AttributeEvent
	Namespaces []NamespaceEvent
}

// EventSource is the abstract iterator the subtree ingest driver consumes.
// The core does not parse XML; producing well-formed event sequences from
// a wire format is entirely the caller's responsibility.
type EventSource interface {
	Next() (Event, bool, error)
}

// SliceEventSource adapts a pre-built []Event to EventSource, useful for
// tests and for callers who already have a parsed event list in memory.
type SliceEventSource struct {
	events []Event
	pos    int
}

// NewSliceEventSource wraps events as an EventSource.
func NewSliceEventSource(events []Event) *SliceEventSource {
	return &SliceEventSource{events: events}
}

// Next returns the next event, or ok=false once exhausted.
func (s *SliceEventSource) Next() (Event, bool, error) {
	if s.pos >= len(s.events) {
		return Event{}, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

// IngestSubtree replays src against t's editor starting at the position
// given by hint relative to the cursor's current node, suppressing
// per-edit hashing for the duration (bulk_insert=true), then performs a
// single post-order hash recomputation over the ingested subtree and
// folds the subtree's root hash up the ancestor chain to the document
// root, per §4.7.
func IngestSubtree(t *Transaction, src EventSource, hint InsertHint) (NodeKey, error) {
	unlock := t.lockForBulkInsert()
	defer unlock()

	anchor, err := t.cursor.node()
	if err != nil {
		return NullKey, err
	}

	var elementStack []NodeKey
	var rootKey NodeKey = NullKey
	insertStructural := func(makeNode func(InsertHint) (NodeKey, error)) (NodeKey, error) {
		if len(elementStack) == 0 {
			t.cursor.To(anchor.Key)
			key, err := makeNode(hint)
			if err != nil {
				return NullKey, err
			}
			rootKey = key
			return key, nil
		}
		parentKey := elementStack[len(elementStack)-1]
		return t.edit.appendChild(parentKey, func() (NodeKey, error) {
			t.cursor.To(parentKey)
			return makeNode(AsFirstChild)
		}, func() (NodeKey, error) {
			return makeNode(AsRightSibling)
		})
	}

	for {
		ev, ok, err := src.Next()
		if err != nil {
			return NullKey, newErr("IngestSubtree", KindIO, err)
		}
		if !ok {
			break
		}
		switch ev.Kind {
		case EventStartDocument, EventEndDocument:
			// no-op: the core has no document-level node to create.
		case EventStartElement:
			key, err := insertStructural(func(h InsertHint) (NodeKey, error) {
				return t.edit.InsertElement(h, ev.Name)
			})
			if err != nil {
				return NullKey, err
			}
			t.cursor.To(key)
			for _, a := range ev.Attributes {
				if _, err := t.edit.InsertAttribute(a.Name, a.Value, MoveToParent); err != nil {
					return NullKey, err
				}
			}
			for _, ns := range ev.Namespaces {
				if _, err := t.edit.InsertNamespace(ns.Prefix, ns.URI, MoveToParent); err != nil {
					return NullKey, err
				}
			}
			elementStack = append(elementStack, key)
		case EventText:
			key, err := insertStructural(func(h InsertHint) (NodeKey, error) {
				return t.edit.InsertText(h, ev.Value)
			})
			if err != nil {
				return NullKey, err
			}
			t.cursor.To(key)
		case EventEndElement:
			if len(elementStack) > 0 {
				elementStack = elementStack[:len(elementStack)-1]
			}
		}
	}

	if rootKey == NullKey {
		return NullKey, nil
	}

	if err := t.hashes.postorderRecompute(rootKey); err != nil {
		return NullKey, err
	}
	node, err := t.pt.get(rootKey)
	if err != nil {
		return NullKey, err
	}
	if node.ParentKey != NullKey {
		if err := t.edit.adjustDescendantChain(node.ParentKey, node.DescendantCount+1); err != nil {
			return NullKey, err
		}
		if err := t.hashes.addAncestorChain(rootKey); err != nil {
			return NullKey, err
		}
	}

	t.cursor.To(rootKey)
	return rootKey, nil
}

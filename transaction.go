package arbor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TxState is the write transaction's lifecycle state.
type TxState int

const (
	// TxOpen is the only state in which edits and commits are permitted.
	TxOpen TxState = iota
	// TxClosed is terminal.
	TxClosed
)

// Transaction is the write-side node transaction: cursor, structural
// editor, hash engine, and lifecycle state bound to one resource.
//
// editMu serialises every public edit/commit/abort/revert op against the
// auto-commit timer, per §5: it covers the edit, the hash update, and the
// access-counter bump as one atomic step. mu guards the smaller pieces of
// bookkeeping (state, modifications, pt swap) that checkAccessAndCommit
// touches while already running under editMu.
type Transaction struct {
	editMu sync.Mutex
	mu     sync.Mutex

	id     uuid.UUID
	state  TxState
	pt     *pageTransaction
	cursor *Cursor
	edit   *editor
	hashes *hashEngine

	session *Session

	modifications  int64
	bulkInsert     bool
	maxNodeCount   int64
	revision       RevisionNumber
	autoCommitStop chan struct{}
	autoCommitDone chan struct{}

	log *slog.Logger
}

// newTransaction wires up a Transaction against an already-open
// pageTransaction for writeRev, mounted on session.
func newTransaction(session *Session, pt *pageTransaction, writeRev RevisionNumber) *Transaction {
	t := &Transaction{
		id:           uuid.New(),
		state:        TxOpen,
		pt:           pt,
		session:      session,
		maxNodeCount: session.config.MaxNodeCount,
		revision:     writeRev,
		log:          session.log,
	}
	t.cursor = newCursor(pt)
	t.hashes = newHashEngine(session.config.HashKind, pt)
	t.edit = newEditor(pt, t.hashes, t.cursor, t.checkAccessAndCommit)

	if session.config.AutoCommitInterval > 0 {
		t.startAutoCommit(session.config.AutoCommitInterval)
	}
	return t
}

// ID returns the transaction's unique identifier.
func (t *Transaction) ID() uuid.UUID { return t.id }

// IsClosed reports whether the transaction has been closed.
func (t *Transaction) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TxClosed
}

// RevisionNumber returns the revision this transaction is currently
// writing into.
func (t *Transaction) RevisionNumber() RevisionNumber {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision
}

// MaxNodeKey returns the highest node key allocated so far.
func (t *Transaction) MaxNodeKey() NodeKey {
	return t.pt.maxNodeKey()
}

// Cursor returns the transaction's single cursor.
func (t *Transaction) Cursor() *Cursor { return t.cursor }

// String renders revision, modification count, bulk-insert flag, and
// cursor position for ad-hoc debugging.
func (t *Transaction) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return "Transaction{id=" + t.id.String() +
		", revision=" + itoa(int64(t.revision)) +
		", modifications=" + itoa(t.modifications) +
		", bulkInsert=" + boolstr(t.bulkInsert) +
		", cursor=" + itoa(int64(t.cursor.Key())) + "}"
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func boolstr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ---- Edit wrapper methods -------------------------------------------
//
// These are the package's public edit surface: each acquires editMu for
// its entire duration (the mutual-exclusion section §5 requires), then
// delegates to the unexported editor. checkAccessAndCommit, invoked by the
// editor itself, therefore always runs already under editMu and must not
// try to re-acquire it.

// InsertElement inserts a new Element node relative to the cursor.
func (t *Transaction) InsertElement(hint InsertHint, name QName) (NodeKey, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.InsertElement(hint, name)
}

// InsertText inserts a new Text node relative to the cursor, merging with
// an adjacent text node if one would result.
func (t *Transaction) InsertText(hint InsertHint, value []byte) (NodeKey, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.InsertText(hint, value)
}

// InsertAttribute inserts or overwrites an attribute on the cursor's
// current element.
func (t *Transaction) InsertAttribute(name QName, value []byte, after MoveAfter) (NodeKey, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.InsertAttribute(name, value, after)
}

// InsertNamespace inserts a namespace binding on the cursor's current
// element.
func (t *Transaction) InsertNamespace(prefix, uri string, after MoveAfter) (NodeKey, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.InsertNamespace(prefix, uri, after)
}

// Remove deletes the cursor's current node (and its subtree, if
// structural).
func (t *Transaction) Remove() error {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.Remove()
}

// MoveSubtree relocates the subtree rooted at sourceKey relative to the
// cursor's current node.
func (t *Transaction) MoveSubtree(sourceKey NodeKey, hint InsertHint) error {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.MoveSubtree(sourceKey, hint)
}

// SetQName renames the cursor's current named node.
func (t *Transaction) SetQName(name QName) error {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.SetQName(name)
}

// SetURI rebinds the cursor's current named node's namespace URI.
func (t *Transaction) SetURI(uri string) error {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.SetURI(uri)
}

// SetValue overwrites the cursor's current valued node's content.
func (t *Transaction) SetValue(value []byte) error {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.SetValue(value)
}

// ReplaceWithText replaces the cursor's current node with a text node.
func (t *Transaction) ReplaceWithText(value []byte) (NodeKey, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.ReplaceWithText(value)
}

// ReplaceWithElement replaces the cursor's current structural node with a
// new, empty element.
func (t *Transaction) ReplaceWithElement(name QName) (NodeKey, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.ReplaceWithElement(name)
}

// CopySubtree copies the subtree at sourceKey from src (pinned to any
// revision of any resource) to a position relative to the cursor, per
// hint, re-registering name keys in this transaction's dictionary.
func (t *Transaction) CopySubtree(src *ReadTransaction, sourceKey NodeKey, hint InsertHint) (NodeKey, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.edit.CopySubtree(src, sourceKey, hint)
}

// ---- checkAccessAndCommit ---------------------------------------------

// checkAccessAndCommit asserts the transaction is open, increments the
// modification counter, and triggers an intermediate commit if the
// configured threshold is exceeded. It always runs already under editMu
// (held by whichever wrapper method above called into the editor), so it
// must perform its own commit via commitLocked rather than Commit.
func (t *Transaction) checkAccessAndCommit() error {
	t.mu.Lock()
	if t.state != TxOpen {
		t.mu.Unlock()
		return wrap("checkAccessAndCommit", KindUsage, ErrTransactionClosed)
	}
	if !t.bulkInsert {
		t.modifications++
	}
	needsCommit := !t.bulkInsert && t.maxNodeCount > 0 && t.modifications > t.maxNodeCount
	t.mu.Unlock()

	if needsCommit {
		return t.commitLocked()
	}
	return nil
}

// ---- Commit / Abort / RevertTo / Close ---------------------------------

// Commit publishes the current revision's accumulated edits as a new
// uber-page, per §4.6.
func (t *Transaction) Commit() error {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.commitLocked()
}

// commitLocked performs the commit body. Callers must already hold
// editMu (either Commit's own lock, or a wrapper method's lock when an
// intermediate commit fires mid-edit).
func (t *Transaction) commitLocked() error {
	t.mu.Lock()
	if t.state != TxOpen {
		t.mu.Unlock()
		return wrap("Commit", KindUsage, ErrTransactionClosed)
	}
	pt := t.pt
	writeRev := t.revision
	t.mu.Unlock()

	root, err := pt.get(0)
	if err != nil {
		return newErr("Commit", KindIO, err)
	}
	if root.ChildCount > 1 {
		t.log.Error("commit rejected: root invariant violated", "tx", t.id, "childCount", root.ChildCount)
		return wrap("Commit", KindInvariantViolation, ErrRootMultipleChildren)
	}

	nodes := pt.snapshot()
	page := t.session.publish(writeRev, nodes, pt.names)

	t.mu.Lock()
	t.modifications = 0
	t.revision = page.Revision + 1
	t.pt = t.session.newPageTransactionLocked(page.Revision, t.revision)
	t.cursor.pt = t.pt
	t.hashes.pt = t.pt
	t.edit.pt = t.pt
	t.mu.Unlock()

	t.log.Info("transaction committed", "tx", t.id, "revision", page.Revision, "rootHash", root.Hash)
	return nil
}

// Abort discards uncommitted edits, resetting to the last committed
// revision (or revision 0 if none has been committed yet).
func (t *Transaction) Abort() error {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	t.mu.Lock()
	if t.state != TxOpen {
		t.mu.Unlock()
		return wrap("Abort", KindUsage, ErrTransactionClosed)
	}
	oldPt := t.pt
	t.mu.Unlock()

	lastCommitted := t.session.lastCommittedRevision()
	oldPt.close()
	newPt := t.session.newPageTransactionLocked(lastCommitted, lastCommitted+1)

	t.mu.Lock()
	t.modifications = 0
	t.pt = newPt
	t.revision = lastCommitted + 1
	t.mu.Unlock()

	t.cursor.pt = newPt
	t.cursor.key = 0
	t.hashes.pt = newPt
	t.edit.pt = newPt

	t.log.Info("transaction aborted", "tx", t.id, "revision", t.revision)
	return nil
}

// RevertTo rewinds the writer so that a new revision is built on top of
// rev's content, without discarding rev's own history.
func (t *Transaction) RevertTo(rev RevisionNumber) error {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	t.mu.Lock()
	if t.state != TxOpen {
		t.mu.Unlock()
		return wrap("RevertTo", KindUsage, ErrTransactionClosed)
	}
	current := t.revision
	oldPt := t.pt
	t.mu.Unlock()

	if !t.session.hasRevision(rev) {
		return wrap("RevertTo", KindBadArgument, ErrInvalidKey)
	}

	oldPt.close()
	newPt := t.session.newPageTransactionLocked(rev, current-1)

	t.mu.Lock()
	t.pt = newPt
	t.revision = current - 1
	t.modifications = 0
	t.mu.Unlock()

	t.cursor.pt = newPt
	t.cursor.key = 0
	t.hashes.pt = newPt
	t.edit.pt = newPt

	t.log.Info("transaction reverted", "tx", t.id, "toRevision", rev, "writeRevision", t.revision)
	return nil
}

// Close releases the transaction's resources. It fails with DirtyOnClose
// if there are uncommitted modifications.
func (t *Transaction) Close() error {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	t.mu.Lock()
	if t.state == TxClosed {
		t.mu.Unlock()
		return nil
	}
	if t.modifications > 0 {
		t.mu.Unlock()
		return wrap("Close", KindUsage, ErrDirtyOnClose)
	}
	t.state = TxClosed
	t.pt.close()
	stop := t.autoCommitStop
	done := t.autoCommitDone
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			return wrap("Close", KindThreadInterrupted, nil)
		}
	}
	t.log.Info("transaction closed", "tx", t.id)
	return nil
}

// startAutoCommit launches the wall-clock auto-commit ticker, grounded on
// the teacher's ticker-plus-stop-channel maintenance-worker pattern.
func (t *Transaction) startAutoCommit(interval time.Duration) {
	t.autoCommitStop = make(chan struct{})
	t.autoCommitDone = make(chan struct{})

	go func() {
		defer close(t.autoCommitDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.autoCommitStop:
				return
			case <-ticker.C:
				if err := t.Commit(); err != nil {
					t.log.Error("auto-commit failed", "tx", t.id, "err", err)
				}
			}
		}
	}()
}

// beginBulkInsert flips the bulk_insert flag, suppressing per-edit hashing
// in the editor/hash engine, for use by the subtree ingest driver (C7).
// Callers must hold editMu for the duration of the bulk insert.
func (t *Transaction) beginBulkInsert() {
	t.mu.Lock()
	t.bulkInsert = true
	t.hashes.bulkInsert = true
	t.mu.Unlock()
}

// endBulkInsert clears the bulk_insert flag.
func (t *Transaction) endBulkInsert() {
	t.mu.Lock()
	t.bulkInsert = false
	t.hashes.bulkInsert = false
	t.mu.Unlock()
}

// lockForBulkInsert acquires editMu for the duration of a bulk-insert
// session (§4.7); the ingest driver calls this once around the whole
// event-stream replay rather than per event.
func (t *Transaction) lockForBulkInsert() func() {
	t.editMu.Lock()
	t.beginBulkInsert()
	return func() {
		t.endBulkInsert()
		t.editMu.Unlock()
	}
}

package ydoc

import (
	"fmt"
	"time"
)

// DefaultCaptureTimeout is how close in time two changes must be to be
// undone as one step.
const DefaultCaptureTimeout = 500 * time.Millisecond

// UndoOptions configures an UndoManager. The zero value tracks changes of
// every origin and uses DefaultCaptureTimeout.
type UndoOptions struct {
	// TrackedOrigins limits capture to transactions with these origins. Empty
	// means all origins are tracked.
	TrackedOrigins []Origin

	// CaptureTimeout merges consecutive changes made within this window into
	// one stack item. Zero disables merging. Nil options default to 500ms.
	CaptureTimeout time.Duration

	// Clock supplies timestamps for merging. Defaults to time.Now.
	Clock func() time.Time
}

// stackItem is one undoable step: what it inserted and what it deleted.
type stackItem struct {
	insertions idSet
	deletions  idSet
}

// UndoManager records changes to a set of containers and reverts or
// reapplies them in new transactions.
type UndoManager struct {
	doc     *Document
	scope   []*branch
	origin  Origin
	tracked map[Origin]struct{}
	timeout time.Duration
	clock   func() time.Time

	undoStack []*stackItem
	redoStack []*stackItem

	undoing    bool
	redoing    bool
	lastChange time.Time

	sub *Subscription
}

// NewUndoManager starts tracking scope. Pass nil opts for defaults.
func NewUndoManager(scope Shared, opts *UndoOptions) *UndoManager {
	if opts == nil {
		opts = &UndoOptions{CaptureTimeout: DefaultCaptureTimeout}
	}
	um := &UndoManager{
		doc:     scope.Document(),
		scope:   []*branch{scope.branch()},
		origin:  NewOrigin(),
		tracked: map[Origin]struct{}{},
		timeout: opts.CaptureTimeout,
		clock:   opts.Clock,
	}
	if um.clock == nil {
		um.clock = time.Now
	}
	for _, o := range opts.TrackedOrigins {
		um.tracked[o] = struct{}{}
	}
	um.sub = um.doc.afterTransaction.add(um.afterTransaction)
	return um
}

// Origin is the origin of the transactions that undo and redo run in.
func (um *UndoManager) Origin() Origin { return um.origin }

// ExpandScope adds a container of the same document to the tracked set.
// Existing history is kept.
func (um *UndoManager) ExpandScope(s Shared) error {
	if s.Document() != um.doc {
		return ErrWrongDocument
	}
	b := s.branch()
	for _, e := range um.scope {
		if e == b {
			return nil
		}
	}
	um.scope = append(um.scope, b)
	return nil
}

// IncludeOrigin starts tracking transactions with origin o.
func (um *UndoManager) IncludeOrigin(o Origin) {
	um.tracked[o] = struct{}{}
}

// ExcludeOrigin stops tracking transactions with origin o. Once no origin is
// included, every origin is tracked again.
func (um *UndoManager) ExcludeOrigin(o Origin) {
	delete(um.tracked, o)
}

func (um *UndoManager) CanUndo() bool     { return len(um.undoStack) > 0 }
func (um *UndoManager) CanRedo() bool     { return len(um.redoStack) > 0 }
func (um *UndoManager) UndoStackLen() int { return len(um.undoStack) }
func (um *UndoManager) RedoStackLen() int { return len(um.redoStack) }

// StopCapturing makes the next change start a new stack item regardless of
// the capture timeout.
func (um *UndoManager) StopCapturing() {
	um.lastChange = time.Time{}
}

// Clear empties both stacks without changing the document.
func (um *UndoManager) Clear() {
	um.undoStack = nil
	um.redoStack = nil
}

// Close stops tracking. The stacks are kept but no longer grow.
func (um *UndoManager) Close() {
	um.sub.Close()
}

// Undo reverts the most recent step. It reports whether a step was undone,
// and fails with ErrTransactionUnavailable while another transaction is open.
func (um *UndoManager) Undo() (bool, error) {
	um.undoing = true
	defer func() { um.undoing = false }()
	return um.pop(&um.undoStack)
}

// Redo reapplies the most recently undone step.
func (um *UndoManager) Redo() (bool, error) {
	um.redoing = true
	defer func() { um.redoing = false }()
	return um.pop(&um.redoStack)
}

func (um *UndoManager) inScope(it *item) bool {
	for _, b := range um.scope {
		if b.isParentOf(it) {
			return true
		}
	}
	return false
}

func (um *UndoManager) tracks(t *Transaction) bool {
	if t.origin == um.origin || len(um.tracked) == 0 {
		return true
	}
	_, ok := um.tracked[t.origin]
	return ok
}

func (um *UndoManager) afterTransaction(t *Transaction) {
	if !um.tracks(t) {
		return
	}
	touched := false
	for _, b := range um.scope {
		if _, ok := t.changedParents[b]; ok {
			touched = true
			break
		}
	}
	if !touched {
		return
	}
	stack := &um.undoStack
	switch {
	case um.undoing:
		stack = &um.redoStack
		um.StopCapturing()
	case !um.redoing:
		um.redoStack = nil
	}
	insertions := idSet{}
	for c, after := range t.afterState {
		if before := t.beforeState[c]; after > before {
			insertions.add(c, before, after-before)
		}
	}
	now := um.clock()
	merge := !um.lastChange.IsZero() && now.Sub(um.lastChange) < um.timeout &&
		len(*stack) > 0 && !um.undoing && !um.redoing
	if merge {
		last := (*stack)[len(*stack)-1]
		last.deletions.merge(t.deleteSet)
		last.insertions.merge(insertions)
	} else {
		*stack = append(*stack, &stackItem{insertions: insertions, deletions: t.deleteSet.clone()})
	}
	if !um.undoing && !um.redoing {
		um.lastChange = now
	}
}

// pop applies stack items from the top of stack until one of them changes
// the document.
func (um *UndoManager) pop(stack *[]*stackItem) (bool, error) {
	if len(*stack) == 0 {
		return false, nil
	}
	t, err := um.doc.CreateTransactionWithOrigin(um.origin)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransactionUnavailable, err)
	}
	performed := false
	for len(*stack) > 0 && !performed {
		s := *stack
		si := s[len(s)-1]
		*stack = s[:len(s)-1]
		performed = um.apply(t, si)
	}
	if err := t.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return performed, nil
}

// apply deletes what si inserted and restores what it deleted.
func (um *UndoManager) apply(t *Transaction, si *stackItem) bool {
	store := um.doc.store
	var toDelete []*item
	si.insertions.each(func(id ID) {
		it := store.followRedone(id)
		if it != nil && !it.deleted && um.inScope(it) {
			toDelete = append(toDelete, it)
		}
	})
	var toRedo []*item
	redoSet := map[*item]struct{}{}
	si.deletions.each(func(id ID) {
		it := store.get(id)
		if it != nil && um.inScope(it) && !si.insertions.contains(id) {
			toRedo = append(toRedo, it)
			redoSet[it] = struct{}{}
		}
	})
	performed := false
	for _, it := range toRedo {
		if t.redoItem(it, redoSet, si.insertions) != nil {
			performed = true
		}
	}
	for i := len(toDelete) - 1; i >= 0; i-- {
		t.deleteItem(toDelete[i])
		performed = true
	}
	return performed
}

// redoItem restores a deleted item as a new item at its old position,
// recreating its parent first when the parent is restored by the same step.
// It returns nil when the item cannot be placed.
func (t *Transaction) redoItem(it *item, redoSet map[*item]struct{}, insertions idSet) *item {
	store := t.doc.store
	if it.redone != nil {
		return store.get(*it.redone)
	}
	if !it.deleted {
		return nil
	}
	parentItem := it.parent.item
	if parentItem != nil && parentItem.deleted {
		if parentItem.redone == nil {
			if _, ok := redoSet[parentItem]; !ok || t.redoItem(parentItem, redoSet, insertions) == nil {
				return nil
			}
		}
		parentItem = store.followRedone(parentItem.id)
	}
	parent := it.parent
	if parentItem != nil {
		tc, ok := parentItem.content.(*typeContent)
		if !ok {
			return nil
		}
		parent = tc.b
	}

	var left, right *item
	if !it.keyed {
		trace := func(n *item) *item {
			for n != nil && n.parent != parent {
				if n.redone == nil {
					return nil
				}
				n = store.get(*n.redone)
			}
			return n
		}
		for left = it.left; left != nil; left = left.left {
			if tr := trace(left); tr != nil {
				left = tr
				break
			}
		}
		for right = it; right != nil; right = right.right {
			if tr := trace(right); tr != nil {
				right = tr
				break
			}
		}
	} else if it.right != nil {
		left = it
		for left.right != nil && (left.right.redone != nil || insertions.contains(left.right.id)) {
			left = left.right
			for left.redone != nil {
				left = store.get(*left.redone)
			}
		}
		if left.right != nil {
			// a newer value from elsewhere took the key
			return nil
		}
	} else {
		left = parent.entries[it.parentSub]
	}

	n := &item{
		id:        t.nextID(),
		left:      left,
		right:     right,
		parent:    parent,
		keyed:     it.keyed,
		parentSub: it.parentSub,
		content:   it.content.copy(),
	}
	if left != nil {
		id := left.id
		n.origin = &id
	}
	if right != nil {
		id := right.id
		n.rightOrigin = &id
	}
	redone := n.id
	it.redone = &redone
	t.integrate(n)
	t.copyNested(it, n)
	return n
}

package ydoc

import (
	"sort"
)

// Path addresses a container relative to an observed ancestor: map keys
// (string) and sequence indexes (int) from the ancestor down.
type Path []any

// Delta is one operation of a sequence change. Exactly one of Insert, Retain
// and Delete is set. Array inserts carry a []any; text inserts a string or
// an embedded value.
type Delta struct {
	Insert     any            `json:"insert,omitempty"`
	Retain     int            `json:"retain,omitempty"`
	Delete     int            `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// EntryAction describes what happened to a key.
type EntryAction string

const (
	EntryAdd    EntryAction = "add"
	EntryUpdate EntryAction = "update"
	EntryDelete EntryAction = "delete"
)

// EntryChange describes the change of one map key or markup attribute.
type EntryChange struct {
	Action   EntryAction
	OldValue any
	NewValue any
}

// Event is delivered to container observers. Events are plain values built
// once when the transaction commits; the transaction they reference is only
// usable while the callback runs.
type Event interface {
	// Target is the container that changed.
	Target() Shared
	// Path leads from the observed container to Target.
	Path() Path
	// Transaction is the committing transaction.
	Transaction() *ReadTransaction
	rebase(Path) Event
}

type eventBase struct {
	target Shared
	path   Path
	txn    *ReadTransaction
}

func (e *eventBase) Target() Shared                { return e.target }
func (e *eventBase) Path() Path                    { return e.path }
func (e *eventBase) Transaction() *ReadTransaction { return e.txn }

// TextEvent describes changes to a Text.
type TextEvent struct {
	eventBase
	delta []Delta
}

// Delta returns the formatted insertions, retains and deletions.
func (e *TextEvent) Delta() []Delta { return e.delta }

func (e *TextEvent) rebase(p Path) Event {
	c := *e
	c.path = p
	return &c
}

// ArrayEvent describes changes to an Array.
type ArrayEvent struct {
	eventBase
	delta []Delta
}

func (e *ArrayEvent) Delta() []Delta { return e.delta }

func (e *ArrayEvent) rebase(p Path) Event {
	c := *e
	c.path = p
	return &c
}

// MapEvent describes changes to a Map.
type MapEvent struct {
	eventBase
	keys map[string]EntryChange
}

// Keys returns the changed keys.
func (e *MapEvent) Keys() map[string]EntryChange { return e.keys }

func (e *MapEvent) rebase(p Path) Event {
	c := *e
	c.path = p
	return &c
}

// XmlEvent describes changes to the children or attributes of an
// XmlFragment or XmlElement.
type XmlEvent struct {
	eventBase
	delta           []Delta
	keys            map[string]EntryChange
	childrenChanged bool
}

func (e *XmlEvent) Delta() []Delta                { return e.delta }
func (e *XmlEvent) Keys() map[string]EntryChange { return e.keys }
func (e *XmlEvent) ChildrenChanged() bool         { return e.childrenChanged }

func (e *XmlEvent) rebase(p Path) Event {
	c := *e
	c.path = p
	return &c
}

// XmlTextEvent describes changes to the content or attributes of an XmlText.
type XmlTextEvent struct {
	eventBase
	delta []Delta
	keys  map[string]EntryChange
}

func (e *XmlTextEvent) Delta() []Delta                { return e.delta }
func (e *XmlTextEvent) Keys() map[string]EntryChange { return e.keys }

func (e *XmlTextEvent) rebase(p Path) Event {
	c := *e
	c.path = p
	return &c
}

// TransactionEvent is delivered to document observers after a transaction
// that changed the document. All fields describe the same commit.
type TransactionEvent struct {
	// BeforeState and AfterState are encoded state vectors.
	BeforeState []byte
	AfterState  []byte
	// DeleteSet is the encoded set of items deleted by the transaction.
	DeleteSet []byte
	// Update holds everything the transaction added, ready for ApplyUpdate.
	Update []byte

	txn *ReadTransaction
}

func (e *TransactionEvent) Transaction() *ReadTransaction { return e.txn }

// SubdocsEvent lists the GUIDs of sub-documents a transaction added, removed
// or loaded.
type SubdocsEvent struct {
	Added   []string
	Removed []string
	Loaded  []string
}

func sortedGUIDs(m map[string]*Document) []string {
	out := make([]string, 0, len(m))
	for g := range m {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// dispatchEvents builds one event per changed container and calls shallow
// observers, then deep observers of every ancestor with the events beneath
// it, shallowest first.
func (t *Transaction) dispatchEvents() {
	t.changedParents = map[*branch][]Event{}
	var parents []*branch
	for _, b := range t.changedOrder {
		if b.kind == KindUndefined || b.hasDeletedAncestor() {
			continue
		}
		ev := t.newEvent(b, t.changed[b])
		for p := b; ; p = p.item.parent {
			if _, ok := t.changedParents[p]; !ok {
				parents = append(parents, p)
			}
			t.changedParents[p] = append(t.changedParents[p], ev)
			if p.item == nil || p.item.parent == nil {
				break
			}
		}
		t.countObserverCalls("shallow", b.observers.trigger(ev))
	}
	for _, p := range parents {
		if p.deepObservers.empty() {
			continue
		}
		events := t.changedParents[p]
		rebased := make([]Event, len(events))
		for i, e := range events {
			rebased[i] = e.rebase(pathTo(p, e.Target().branch()))
		}
		sort.SliceStable(rebased, func(i, j int) bool {
			return len(rebased[i].Path()) < len(rebased[j].Path())
		})
		t.countObserverCalls("deep", p.deepObservers.trigger(rebased))
	}
}

func (t *Transaction) newEvent(b *branch, cs *changeSet) Event {
	base := eventBase{target: b.shared(), path: Path{}, txn: t.read}
	switch b.kind {
	case KindText:
		return &TextEvent{eventBase: base, delta: t.textDelta(b)}
	case KindArray:
		return &ArrayEvent{eventBase: base, delta: t.sequenceDelta(b)}
	case KindMap:
		return &MapEvent{eventBase: base, keys: t.keyChanges(b, cs)}
	case KindXmlText:
		return &XmlTextEvent{eventBase: base, delta: t.textDelta(b), keys: t.keyChanges(b, cs)}
	default:
		return &XmlEvent{
			eventBase:       base,
			delta:           t.sequenceDelta(b),
			keys:            t.keyChanges(b, cs),
			childrenChanged: cs.seq,
		}
	}
}

func (t *Transaction) adds(it *item) bool {
	return it.id.Clock >= t.beforeState[it.id.Client]
}

func (t *Transaction) deletes(it *item) bool {
	return t.deleteSet.contains(it.id)
}

func (t *Transaction) sequenceDelta(b *branch) []Delta {
	var out []Delta
	var cur *Delta
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for it := b.start; it != nil; it = it.right {
		if !it.content.countable() {
			continue
		}
		switch {
		case it.deleted:
			if t.deletes(it) && !t.adds(it) {
				if cur == nil || cur.Delete == 0 {
					flush()
					cur = &Delta{}
				}
				cur.Delete++
			}
		case t.adds(it):
			if cur == nil || cur.Insert == nil {
				flush()
				cur = &Delta{Insert: []any{}}
			}
			cur.Insert = append(cur.Insert.([]any), valueOf(it))
		default:
			if cur == nil || cur.Retain == 0 {
				flush()
				cur = &Delta{}
			}
			cur.Retain++
		}
	}
	if cur != nil && cur.Retain == 0 {
		flush()
	}
	return out
}

type deltaAction uint8

const (
	actNone deltaAction = iota
	actInsert
	actRetain
	actDelete
)

// textDelta walks the text once, tracking the attributes in effect now and
// before the transaction, and emits formatted runs.
func (t *Transaction) textDelta(b *branch) []Delta {
	var (
		out     []Delta
		current = Attrs{}
		old     = Attrs{}
		changed = Attrs{}
		action  = actNone
		runes   []rune
		embed   any
		hasEmb  bool
		retain  int
		deleted int
	)
	addOp := func() {
		switch action {
		case actDelete:
			if deleted > 0 {
				out = append(out, Delta{Delete: deleted})
			}
			deleted = 0
		case actInsert:
			var op *Delta
			if hasEmb {
				op = &Delta{Insert: embed}
			} else if len(runes) > 0 {
				op = &Delta{Insert: string(runes)}
			}
			if op != nil {
				op.Attributes = current.toGo()
				out = append(out, *op)
			}
			runes, embed, hasEmb = runes[:0], nil, false
		case actRetain:
			if retain > 0 {
				op := Delta{Retain: retain}
				if len(changed) > 0 {
					op.Attributes = make(map[string]any, len(changed))
					for k, v := range changed {
						op.Attributes[k] = FromValue(v)
					}
				}
				out = append(out, op)
			}
			retain = 0
		}
		action = actNone
	}
	setAction := func(a deltaAction) {
		if action != a {
			addOp()
			action = a
		}
	}

	for it := b.start; it != nil; it = it.right {
		switch c := it.content.(type) {
		case stringContent:
			switch {
			case t.adds(it):
				if !t.deletes(it) {
					setAction(actInsert)
					runes = append(runes, c.r)
				}
			case t.deletes(it):
				setAction(actDelete)
				deleted++
			case !it.deleted:
				setAction(actRetain)
				retain++
			}
		case embedContent, anyContent, *typeContent, *docContent:
			switch {
			case t.adds(it):
				if !t.deletes(it) {
					addOp()
					action = actInsert
					embed, hasEmb = valueOf(it), true
					addOp()
				}
			case t.deletes(it):
				setAction(actDelete)
				deleted++
			case !it.deleted:
				setAction(actRetain)
				retain++
			}
		case formatContent:
			key, value := c.key, c.v
			switch {
			case t.adds(it):
				if !t.deletes(it) && !valuesEqual(current.get(key), value) {
					if action == actRetain {
						addOp()
					}
					if valuesEqual(value, old.get(key)) {
						delete(changed, key)
					} else {
						changed[key] = value
					}
				}
			case t.deletes(it):
				old[key] = value
				if cur := current.get(key); !valuesEqual(cur, value) {
					if action == actRetain {
						addOp()
					}
					changed[key] = cur
				}
			case !it.deleted:
				old[key] = value
				if attr, ok := changed[key]; ok && !valuesEqual(attr, value) {
					if action == actRetain {
						addOp()
					}
					if _, null := value.(Null); null {
						delete(changed, key)
					} else {
						changed[key] = value
					}
				}
			}
			if !it.deleted {
				if action == actInsert {
					addOp()
				}
				current.apply(key, value)
			}
		}
	}
	addOp()
	for len(out) > 0 {
		last := out[len(out)-1]
		if last.Retain == 0 || last.Attributes != nil {
			break
		}
		out = out[:len(out)-1]
	}
	return out
}

// keyChanges reports the net change of each key touched by the transaction.
func (t *Transaction) keyChanges(b *branch, cs *changeSet) map[string]EntryChange {
	out := map[string]EntryChange{}
	for key := range cs.keys {
		it := b.entries[key]
		if it == nil {
			continue
		}
		if t.adds(it) {
			prev := it.left
			for prev != nil && t.adds(prev) {
				prev = prev.left
			}
			switch {
			case t.deletes(it):
				if prev == nil || !t.deletes(prev) {
					continue
				}
				out[key] = EntryChange{Action: EntryDelete, OldValue: valueOf(prev)}
			case prev != nil && t.deletes(prev):
				out[key] = EntryChange{Action: EntryUpdate, OldValue: valueOf(prev), NewValue: valueOf(it)}
			default:
				out[key] = EntryChange{Action: EntryAdd, NewValue: valueOf(it)}
			}
		} else if t.deletes(it) {
			out[key] = EntryChange{Action: EntryDelete, OldValue: valueOf(it)}
		}
	}
	return out
}

// pathTo returns the path from ancestor down to b.
func pathTo(ancestor, b *branch) Path {
	var rev Path
	for b != ancestor && b.item != nil && b.item.parent != nil {
		it := b.item
		if it.keyed {
			rev = append(rev, it.parentSub)
		} else {
			i := 0
			for c := it.parent.start; c != nil && c != it; c = c.right {
				if c.visible() {
					i++
				}
			}
			rev = append(rev, i)
		}
		b = it.parent
	}
	out := make(Path, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out
}

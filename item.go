package ydoc

import "fmt"

// Kind identifies the type of a shared container.
type Kind uint8

const (
	KindArray       Kind = 0
	KindMap         Kind = 1
	KindText        Kind = 2
	KindXmlElement  Kind = 3
	KindXmlFragment Kind = 4
	KindXmlText     Kind = 6
	// KindUndefined is a root known only from remote updates, not yet
	// requested locally with a concrete kind.
	KindUndefined Kind = 15
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindText:
		return "text"
	case KindXmlElement:
		return "xml-element"
	case KindXmlFragment:
		return "xml-fragment"
	case KindXmlText:
		return "xml-text"
	case KindUndefined:
		return "undefined"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindArray, KindMap, KindText, KindXmlElement, KindXmlFragment, KindXmlText} {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUndefined, fmt.Errorf("unknown kind %q", s)
}

// Wire references of item content.
const (
	refDeleted = 1
	refString  = 4
	refEmbed   = 5
	refFormat  = 6
	refType    = 7
	refAny     = 8
	refDoc     = 9
	refSkip    = 10
)

type content interface {
	ref() uint8
	// countable content occupies an index position in its sequence.
	countable() bool
	copy() content
}

type deletedContent struct{}

type stringContent struct{ r rune }

type embedContent struct{ v Value }

type formatContent struct {
	key string
	v   Value
}

type typeContent struct {
	kind Kind
	tag  string
	// b is nil until the content is integrated.
	b *branch
}

type anyContent struct{ v Value }

type docContent struct {
	guid       string
	shouldLoad bool
	doc        *Document
}

func (deletedContent) ref() uint8 { return refDeleted }
func (stringContent) ref() uint8  { return refString }
func (embedContent) ref() uint8   { return refEmbed }
func (formatContent) ref() uint8  { return refFormat }
func (*typeContent) ref() uint8   { return refType }
func (anyContent) ref() uint8     { return refAny }
func (*docContent) ref() uint8    { return refDoc }

func (deletedContent) countable() bool { return false }
func (stringContent) countable() bool  { return true }
func (embedContent) countable() bool   { return true }
func (formatContent) countable() bool  { return false }
func (*typeContent) countable() bool   { return true }
func (anyContent) countable() bool     { return true }
func (*docContent) countable() bool    { return true }

func (c deletedContent) copy() content { return c }
func (c stringContent) copy() content  { return c }
func (c embedContent) copy() content   { return c }
func (c formatContent) copy() content  { return c }
func (c anyContent) copy() content     { return c }

func (c *typeContent) copy() content {
	return &typeContent{kind: c.kind, tag: c.tag}
}

func (c *docContent) copy() content {
	return &docContent{guid: c.guid, shouldLoad: c.shouldLoad}
}

// item is one unit of replicated history: a character, an array element, an
// embed, a formatting marker, a map value or a nested container.
type item struct {
	id          ID
	origin      *ID
	rightOrigin *ID
	left, right *item
	parent      *branch
	// orphanOf is set instead of parent when the parent item is not a container.
	orphanOf  *parentRef
	keyed     bool
	parentSub string
	content   content
	deleted   bool
	// redone points at the copy created when undo/redo restored this item.
	redone *ID
}

func (it *item) visible() bool {
	return !it.deleted && it.content.countable()
}

// branch is the engine side of a shared container.
type branch struct {
	doc  *Document
	kind Kind
	// name is set for roots, item for nested containers.
	name string
	item *item
	tag  string

	start   *item
	entries map[string]*item
	length  int

	observers     observers[Event]
	deepObservers observers[[]Event]
	handle        Shared
}

func newBranch(doc *Document, kind Kind, tag string) *branch {
	return &branch{doc: doc, kind: kind, tag: tag, entries: map[string]*item{}}
}

// hasDeletedAncestor reports whether the container or any container above it
// was removed from the document.
func (b *branch) hasDeletedAncestor() bool {
	for it := b.item; it != nil; {
		if it.deleted {
			return true
		}
		if it.parent == nil {
			return false
		}
		it = it.parent.item
	}
	return false
}

// isParentOf reports whether it lives anywhere beneath b.
func (b *branch) isParentOf(it *item) bool {
	for it != nil {
		if it.parent == b {
			return true
		}
		if it.parent == nil {
			return false
		}
		it = it.parent.item
	}
	return false
}

// entry returns the live value item under key.
func (b *branch) entry(key string) (*item, bool) {
	it, ok := b.entries[key]
	if !ok || it.deleted {
		return nil, false
	}
	return it, true
}

// at returns the visible item at a countable index.
func (b *branch) at(index int) (*item, error) {
	if index >= 0 {
		n := index
		for it := b.start; it != nil; it = it.right {
			if !it.visible() {
				continue
			}
			if n == 0 {
				return it, nil
			}
			n--
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
}

// blockStore holds every integrated item, indexed by client and clock.
type blockStore map[uint64][]*item

func (s blockStore) get(id ID) *item {
	items := s[id.Client]
	if id.Clock >= uint64(len(items)) {
		return nil
	}
	return items[id.Clock]
}

func (s blockStore) state(client uint64) uint64 {
	return uint64(len(s[client]))
}

func (s blockStore) stateVector() StateVector {
	sv := make(StateVector, len(s))
	for c, items := range s {
		if len(items) > 0 {
			sv[c] = uint64(len(items))
		}
	}
	return sv
}

func (s blockStore) push(it *item) {
	s[it.id.Client] = append(s[it.id.Client], it)
}

// deleteSet collects every deleted item in the store.
func (s blockStore) deleteSet() idSet {
	ds := idSet{}
	for c, items := range s {
		for _, it := range items {
			if it.deleted {
				ds.add(c, it.id.Clock, 1)
			}
		}
	}
	return ds
}

// followRedone resolves the latest copy of an item restored by undo/redo.
func (s blockStore) followRedone(id ID) *item {
	it := s.get(id)
	for it != nil && it.redone != nil {
		it = s.get(*it.redone)
	}
	return it
}

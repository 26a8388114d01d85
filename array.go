package ydoc

import (
	"fmt"
	"iter"
	"sort"
)

// Array is a shared ordered sequence of values and nested containers.
type Array struct {
	b *branch
}

func (a *Array) Kind() Kind           { return a.b.kind }
func (a *Array) Document() *Document { return a.b.doc }
func (a *Array) branch() *branch     { return a.b }

// Equal reports whether s is a handle to the same array.
func (a *Array) Equal(s Shared) bool {
	return s != nil && s.branch() == a.b
}

// Len returns the number of elements.
func (a *Array) Len(txn ReadTxn) int {
	a.b.check(txn)
	return a.b.length
}

// Get returns the element at index: a plain value, a container handle or a
// sub-document.
func (a *Array) Get(txn ReadTxn, index int) (any, error) {
	a.b.check(txn)
	it, err := a.b.at(index)
	if err != nil {
		return nil, err
	}
	return valueOf(it), nil
}

// All yields the elements in order.
func (a *Array) All(txn ReadTxn) iter.Seq2[int, any] {
	a.b.check(txn)
	return func(yield func(int, any) bool) {
		i := 0
		for it := a.b.start; it != nil; it = it.right {
			if !it.visible() {
				continue
			}
			if !yield(i, valueOf(it)) {
				return
			}
			i++
		}
	}
}

// Insert inserts value at index.
func (a *Array) Insert(txn *Transaction, index int, value any) error {
	if err := a.b.prepare(txn); err != nil {
		return err
	}
	c, err := contentFor(value)
	if err != nil {
		return err
	}
	_, err = insertAt(txn, a.b, index, c)
	return err
}

// Push appends value.
func (a *Array) Push(txn *Transaction, value any) error {
	return a.Insert(txn, a.b.length, value)
}

// InsertPlaceholder inserts an empty nested container of the given kind at
// index and returns its handle. Markup elements and text can only be created
// inside an XmlFragment or XmlElement.
func (a *Array) InsertPlaceholder(txn *Transaction, index int, kind Kind) (Shared, error) {
	if err := a.b.prepare(txn); err != nil {
		return nil, err
	}
	c, err := placeholderContent(kind)
	if err != nil {
		return nil, err
	}
	it, err := insertAt(txn, a.b, index, c)
	if err != nil {
		return nil, err
	}
	return it.content.(*typeContent).b.shared(), nil
}

func (a *Array) InsertTextPlaceholder(txn *Transaction, index int) (*Text, error) {
	s, err := a.InsertPlaceholder(txn, index, KindText)
	if err != nil {
		return nil, err
	}
	return s.(*Text), nil
}

func (a *Array) InsertArrayPlaceholder(txn *Transaction, index int) (*Array, error) {
	s, err := a.InsertPlaceholder(txn, index, KindArray)
	if err != nil {
		return nil, err
	}
	return s.(*Array), nil
}

func (a *Array) InsertMapPlaceholder(txn *Transaction, index int) (*Map, error) {
	s, err := a.InsertPlaceholder(txn, index, KindMap)
	if err != nil {
		return nil, err
	}
	return s.(*Map), nil
}

func (a *Array) InsertXmlFragmentPlaceholder(txn *Transaction, index int) (*XmlFragment, error) {
	s, err := a.InsertPlaceholder(txn, index, KindXmlFragment)
	if err != nil {
		return nil, err
	}
	return s.(*XmlFragment), nil
}

// InsertDoc embeds sub as a sub-document at index and loads it.
func (a *Array) InsertDoc(txn *Transaction, index int, sub *Document) error {
	if err := a.b.prepare(txn); err != nil {
		return err
	}
	c, err := embedDoc(txn, sub)
	if err != nil {
		return err
	}
	if _, err := insertAt(txn, a.b, index, c); err != nil {
		return err
	}
	return sub.Load(txn)
}

// Move moves the element at source so it ends up before the element that is
// currently at target. Nested containers are copied to the new position.
func (a *Array) Move(txn *Transaction, source, target int) error {
	if err := a.b.prepare(txn); err != nil {
		return err
	}
	if target < 0 || target > a.b.length {
		return fmt.Errorf("%w: move target %d of %d", ErrIndexOutOfRange, target, a.b.length)
	}
	src, err := a.b.at(source)
	if err != nil {
		return err
	}
	if source == target || source+1 == target {
		return nil
	}
	pos, _ := findTextPos(a.b, target)
	moved := txn.insertItem(a.b, pos.left, pos.right, movedContent(src.content))
	txn.copyNested(src, moved)
	txn.deleteItem(src)
	return nil
}

// RemoveRange deletes length elements starting at index.
func (a *Array) RemoveRange(txn *Transaction, index, length int) error {
	if err := a.b.prepare(txn); err != nil {
		return err
	}
	if err := checkRange(a.b, index, length); err != nil {
		return err
	}
	txn.removeRange(a.b, index, length)
	return nil
}

// ToJSON renders the array as plain data, nested containers included.
func (a *Array) ToJSON(txn ReadTxn) []any {
	a.b.check(txn)
	out := make([]any, 0, a.b.length)
	for it := a.b.start; it != nil; it = it.right {
		if it.visible() {
			out = append(out, jsonOf(txn, valueOf(it)))
		}
	}
	return out
}

// Observe calls fn for every committed change of this array's elements.
func (a *Array) Observe(fn func(*ArrayEvent)) *Subscription {
	return observeShallow(a.b, fn)
}

// ObserveDeep calls fn with the events of this array and every container beneath it.
func (a *Array) ObserveDeep(fn func([]Event)) *Subscription {
	return observeDeep(a.b, fn)
}

func insertAt(txn *Transaction, b *branch, index int, c content) (*item, error) {
	pos, err := findTextPos(b, index)
	if err != nil {
		return nil, err
	}
	return txn.insertItem(b, pos.left, pos.right, c), nil
}

// movedContent keeps a sub-document attached to the same Document when its
// item is replaced by a copy.
func movedContent(c content) content {
	if dc, ok := c.(*docContent); ok {
		return &docContent{guid: dc.guid, shouldLoad: dc.shouldLoad, doc: dc.doc}
	}
	return c.copy()
}

// copyNested fills the container created for dst with copies of what src holds.
func (t *Transaction) copyNested(src, dst *item) {
	sc, ok := src.content.(*typeContent)
	if !ok {
		return
	}
	from, to := sc.b, dst.content.(*typeContent).b
	var left *item
	for it := from.start; it != nil; it = it.right {
		if it.deleted {
			continue
		}
		left = t.insertItem(to, left, nil, movedContent(it.content))
		t.copyNested(it, left)
	}
	keys := make([]string, 0, len(from.entries))
	for k, it := range from.entries {
		if !it.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		it := from.entries[k]
		n := t.setEntry(to, k, movedContent(it.content))
		t.copyNested(it, n)
	}
}

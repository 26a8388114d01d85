package ydoc

import (
	"fmt"
	"iter"
	"sort"
	"strings"
)

// XmlFragment is an ordered list of markup nodes: XmlElement and XmlText.
type XmlFragment struct {
	b *branch
}

func (f *XmlFragment) Kind() Kind           { return f.b.kind }
func (f *XmlFragment) Document() *Document { return f.b.doc }
func (f *XmlFragment) branch() *branch     { return f.b }

// Equal reports whether s is a handle to the same node.
func (f *XmlFragment) Equal(s Shared) bool {
	return s != nil && s.branch() == f.b
}

// Len returns the number of child nodes.
func (f *XmlFragment) Len(txn ReadTxn) int {
	f.b.check(txn)
	return f.b.length
}

// Get returns the child node at index.
func (f *XmlFragment) Get(txn ReadTxn, index int) (Shared, error) {
	f.b.check(txn)
	it, err := f.b.at(index)
	if err != nil {
		return nil, err
	}
	s, _ := valueOf(it).(Shared)
	return s, nil
}

// Children yields the child nodes in order.
func (f *XmlFragment) Children(txn ReadTxn) iter.Seq[Shared] {
	f.b.check(txn)
	return childrenOf(f.b.start)
}

// InsertText inserts an empty XmlText child at index.
func (f *XmlFragment) InsertText(txn *Transaction, index int) (*XmlText, error) {
	it, err := f.insertNode(txn, index, &typeContent{kind: KindXmlText})
	if err != nil {
		return nil, err
	}
	return it.(*XmlText), nil
}

// InsertElement inserts an empty XmlElement child with the given tag at index.
func (f *XmlFragment) InsertElement(txn *Transaction, index int, tag string) (*XmlElement, error) {
	it, err := f.insertNode(txn, index, &typeContent{kind: KindXmlElement, tag: tag})
	if err != nil {
		return nil, err
	}
	return it.(*XmlElement), nil
}

func (f *XmlFragment) insertNode(txn *Transaction, index int, c *typeContent) (Shared, error) {
	if err := f.b.prepare(txn); err != nil {
		return nil, err
	}
	it, err := insertAt(txn, f.b, index, c)
	if err != nil {
		return nil, err
	}
	return it.content.(*typeContent).b.shared(), nil
}

// RemoveRange deletes length children starting at index.
func (f *XmlFragment) RemoveRange(txn *Transaction, index, length int) error {
	if err := f.b.prepare(txn); err != nil {
		return err
	}
	if err := checkRange(f.b, index, length); err != nil {
		return err
	}
	txn.removeRange(f.b, index, length)
	return nil
}

// Parent returns the container holding this node, or nil for a root.
func (f *XmlFragment) Parent(txn ReadTxn) Shared {
	f.b.check(txn)
	return parentOf(f.b)
}

// String renders the children as markup.
func (f *XmlFragment) String(txn ReadTxn) string {
	f.b.check(txn)
	var sb strings.Builder
	writeChildren(&sb, f.b)
	return sb.String()
}

// Observe calls fn for every committed change of this node's children or attributes.
func (f *XmlFragment) Observe(fn func(*XmlEvent)) *Subscription {
	return observeShallow(f.b, fn)
}

// ObserveDeep calls fn with the events of this node and all its descendants.
func (f *XmlFragment) ObserveDeep(fn func([]Event)) *Subscription {
	return observeDeep(f.b, fn)
}

// XmlElement is a markup element: a tag, string attributes and children.
type XmlElement struct {
	XmlFragment
}

// Tag returns the element name.
func (e *XmlElement) Tag() string { return e.b.tag }

func (e *XmlElement) String(txn ReadTxn) string {
	e.b.check(txn)
	var sb strings.Builder
	writeElement(&sb, e.b)
	return sb.String()
}

// Siblings yields the nodes following this one in its parent.
func (e *XmlElement) Siblings(txn ReadTxn) iter.Seq[Shared] {
	e.b.check(txn)
	return siblingsOf(e.b)
}

func (e *XmlElement) InsertAttribute(txn *Transaction, name, value string) error {
	return insertAttribute(txn, e.b, name, value)
}

func (e *XmlElement) Attribute(txn ReadTxn, name string) (string, error) {
	e.b.check(txn)
	return attributeOf(e.b, name)
}

func (e *XmlElement) RemoveAttribute(txn *Transaction, name string) error {
	return removeAttribute(txn, e.b, name)
}

// Attributes yields the attributes ordered by name.
func (e *XmlElement) Attributes(txn ReadTxn) iter.Seq2[string, string] {
	e.b.check(txn)
	return attributesOf(e.b)
}

// XmlText is formatted text inside markup. It supports the Text operations
// plus attributes.
type XmlText struct {
	Text
}

// Equal reports whether s is a handle to the same node.
func (x *XmlText) Equal(s Shared) bool {
	return s != nil && s.branch() == x.b
}

// String renders the text with formatting attributes as nested tags.
func (x *XmlText) String(txn ReadTxn) string {
	x.b.check(txn)
	var sb strings.Builder
	writeText(&sb, x.b)
	return sb.String()
}

// Parent returns the fragment or element holding this text.
func (x *XmlText) Parent(txn ReadTxn) Shared {
	x.b.check(txn)
	return parentOf(x.b)
}

// Siblings yields the nodes following this one in its parent.
func (x *XmlText) Siblings(txn ReadTxn) iter.Seq[Shared] {
	x.b.check(txn)
	return siblingsOf(x.b)
}

func (x *XmlText) InsertAttribute(txn *Transaction, name, value string) error {
	return insertAttribute(txn, x.b, name, value)
}

func (x *XmlText) Attribute(txn ReadTxn, name string) (string, error) {
	x.b.check(txn)
	return attributeOf(x.b, name)
}

func (x *XmlText) RemoveAttribute(txn *Transaction, name string) error {
	return removeAttribute(txn, x.b, name)
}

func (x *XmlText) Attributes(txn ReadTxn) iter.Seq2[string, string] {
	x.b.check(txn)
	return attributesOf(x.b)
}

// Observe calls fn for every committed change of this text or its attributes.
func (x *XmlText) Observe(fn func(*XmlTextEvent)) *Subscription {
	return observeShallow(x.b, fn)
}

func parentOf(b *branch) Shared {
	if b.item == nil || b.item.parent == nil {
		return nil
	}
	return b.item.parent.shared()
}

func childrenOf(start *item) iter.Seq[Shared] {
	return func(yield func(Shared) bool) {
		for it := start; it != nil; it = it.right {
			if !it.visible() {
				continue
			}
			if tc, ok := it.content.(*typeContent); ok {
				if !yield(tc.b.shared()) {
					return
				}
			}
		}
	}
}

func siblingsOf(b *branch) iter.Seq[Shared] {
	if b.item == nil {
		return func(func(Shared) bool) {}
	}
	return childrenOf(b.item.right)
}

func insertAttribute(txn *Transaction, b *branch, name, value string) error {
	if err := b.prepare(txn); err != nil {
		return err
	}
	txn.setEntry(b, name, anyContent{String(value)})
	return nil
}

func removeAttribute(txn *Transaction, b *branch, name string) error {
	if err := b.prepare(txn); err != nil {
		return err
	}
	it, ok := b.entry(name)
	if !ok {
		return fmt.Errorf("%w: attribute %q", ErrKeyNotFound, name)
	}
	txn.deleteItem(it)
	return nil
}

func attributeOf(b *branch, name string) (string, error) {
	it, ok := b.entry(name)
	if !ok {
		return "", fmt.Errorf("%w: attribute %q", ErrKeyNotFound, name)
	}
	return attributeString(it), nil
}

func attributesOf(b *branch) iter.Seq2[string, string] {
	names := liveKeys(b)
	return func(yield func(string, string) bool) {
		for _, n := range names {
			if !yield(n, attributeString(b.entries[n])) {
				return
			}
		}
	}
}

func attributeString(it *item) string {
	v := valueOf(it)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func writeChildren(sb *strings.Builder, b *branch) {
	for it := b.start; it != nil; it = it.right {
		if !it.visible() {
			continue
		}
		tc, ok := it.content.(*typeContent)
		if !ok {
			continue
		}
		switch tc.kind {
		case KindXmlElement:
			writeElement(sb, tc.b)
		case KindXmlText:
			writeText(sb, tc.b)
		default:
			writeChildren(sb, tc.b)
		}
	}
}

func writeElement(sb *strings.Builder, b *branch) {
	sb.WriteString("<" + b.tag)
	for name, value := range attributesOf(b) {
		fmt.Fprintf(sb, " %s=\"%s\"", name, value)
	}
	sb.WriteString(">")
	writeChildren(sb, b)
	sb.WriteString("</" + b.tag + ">")
}

func writeText(sb *strings.Builder, b *branch) {
	for run, attrs := range textRuns(b) {
		names := make([]string, 0, len(attrs))
		for k := range attrs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, n := range names {
			sb.WriteString("<" + n)
			if obj, ok := attrs[n].(map[string]any); ok {
				keys := make([]string, 0, len(obj))
				for k := range obj {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(sb, " %s=\"%v\"", k, obj[k])
				}
			}
			sb.WriteString(">")
		}
		if s, ok := run.(string); ok {
			sb.WriteString(s)
		} else {
			fmt.Fprint(sb, run)
		}
		for i := len(names) - 1; i >= 0; i-- {
			sb.WriteString("</" + names[i] + ">")
		}
	}
}

package ydoc

import (
	"fmt"
)

// Shared is a handle to a container in a document: *Text, *Array, *Map,
// *XmlFragment, *XmlElement or *XmlText. Handles are live views; reads and
// writes go through a transaction of the owning document.
type Shared interface {
	Kind() Kind
	Document() *Document
	branch() *branch
}

// shared returns the handle for b, creating it on first use so that every
// handle of one container is the same pointer.
func (b *branch) shared() Shared {
	if b.handle != nil {
		return b.handle
	}
	switch b.kind {
	case KindText:
		b.handle = &Text{b}
	case KindArray:
		b.handle = &Array{b}
	case KindMap:
		b.handle = &Map{b}
	case KindXmlFragment:
		b.handle = &XmlFragment{b}
	case KindXmlElement:
		b.handle = &XmlElement{XmlFragment{b}}
	case KindXmlText:
		b.handle = &XmlText{Text{b}}
	default:
		return nil
	}
	return b.handle
}

// valueOf converts item content to what container reads return: plain Go
// values, container handles and sub-documents.
func valueOf(it *item) any {
	switch c := it.content.(type) {
	case anyContent:
		return FromValue(c.v)
	case embedContent:
		return FromValue(c.v)
	case stringContent:
		return string(c.r)
	case *typeContent:
		return c.b.shared()
	case *docContent:
		return c.doc
	}
	return nil
}

// contentFor converts a value for insertion into an Array or Map.
func contentFor(v any) (content, error) {
	switch v.(type) {
	case *XmlElement, *XmlText:
		return nil, fmt.Errorf("%w: %T must be inserted through an XmlFragment or XmlElement", ErrInvalidNesting, v)
	case Shared:
		return nil, fmt.Errorf("%w: %T cannot be attached; insert a placeholder instead", ErrUnsupportedValue, v)
	case *Document:
		return nil, fmt.Errorf("%w: use InsertDoc for sub-documents", ErrUnsupportedValue)
	}
	tv, err := ToValue(v)
	if err != nil {
		return nil, err
	}
	return anyContent{tv}, nil
}

// placeholderContent returns the content of an empty nested container that
// may live in an Array or Map.
func placeholderContent(kind Kind) (content, error) {
	switch kind {
	case KindText, KindArray, KindMap, KindXmlFragment:
		return &typeContent{kind: kind}, nil
	case KindXmlElement, KindXmlText:
		return nil, fmt.Errorf("%w: %s outside an XmlFragment or XmlElement", ErrInvalidNesting, kind)
	}
	return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedValue, kind)
}

// embedDoc prepares a document for insertion as a sub-document.
func embedDoc(txn *Transaction, sub *Document) (content, error) {
	if sub == nil || sub == txn.doc {
		return nil, fmt.Errorf("%w: cannot embed document into itself", ErrInvalidNesting)
	}
	if sub.item != nil {
		return nil, fmt.Errorf("%w: document %s is already embedded", ErrInvalidNesting, sub.guid)
	}
	return &docContent{guid: sub.guid, shouldLoad: sub.shouldLoad, doc: sub}, nil
}

// jsonOf renders a value read from a container as plain JSON-compatible data.
func jsonOf(txn ReadTxn, v any) any {
	switch x := v.(type) {
	case *Text:
		return x.String(txn)
	case *Array:
		return x.ToJSON(txn)
	case *Map:
		return x.ToJSON(txn)
	case *XmlFragment:
		return x.String(txn)
	case *XmlElement:
		return x.String(txn)
	case *XmlText:
		return x.String(txn)
	case *Document:
		return map[string]any{"guid": x.guid}
	}
	return v
}

// check validates a read transaction against the container's document.
func (b *branch) check(txn ReadTxn) *Transaction {
	return b.doc.readable(txn)
}

// prepare validates a mutation of the container.
func (b *branch) prepare(txn *Transaction) error {
	return txn.writable(b.doc)
}

// observeShallow and observeDeep adapt typed callbacks onto the registry.
func observeShallow[E Event](b *branch, fn func(E)) *Subscription {
	return b.observers.add(func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	})
}

func observeDeep(b *branch, fn func([]Event)) *Subscription {
	return b.deepObservers.add(fn)
}

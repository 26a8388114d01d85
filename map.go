package ydoc

import (
	"fmt"
	"iter"
	"sort"
)

// Map is a shared string-keyed map of values and nested containers. When
// replicas write the same key concurrently, one value wins everywhere.
type Map struct {
	b *branch
}

func (m *Map) Kind() Kind           { return m.b.kind }
func (m *Map) Document() *Document { return m.b.doc }
func (m *Map) branch() *branch     { return m.b }

// Equal reports whether s is a handle to the same map.
func (m *Map) Equal(s Shared) bool {
	return s != nil && s.branch() == m.b
}

// Len returns the number of keys.
func (m *Map) Len(txn ReadTxn) int {
	m.b.check(txn)
	n := 0
	for _, it := range m.b.entries {
		if !it.deleted {
			n++
		}
	}
	return n
}

// Get returns the value under key.
func (m *Map) Get(txn ReadTxn, key string) (any, error) {
	m.b.check(txn)
	it, ok := m.b.entry(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return valueOf(it), nil
}

// Keys yields a sorted snapshot of the keys present when it is called.
func (m *Map) Keys(txn ReadTxn) iter.Seq[string] {
	m.b.check(txn)
	keys := liveKeys(m.b)
	return func(yield func(string) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}
}

// Insert sets key to value.
func (m *Map) Insert(txn *Transaction, key string, value any) error {
	if err := m.b.prepare(txn); err != nil {
		return err
	}
	c, err := contentFor(value)
	if err != nil {
		return err
	}
	txn.setEntry(m.b, key, c)
	return nil
}

// InsertPlaceholder sets key to an empty nested container of the given kind
// and returns its handle.
func (m *Map) InsertPlaceholder(txn *Transaction, key string, kind Kind) (Shared, error) {
	if err := m.b.prepare(txn); err != nil {
		return nil, err
	}
	c, err := placeholderContent(kind)
	if err != nil {
		return nil, err
	}
	it := txn.setEntry(m.b, key, c)
	return it.content.(*typeContent).b.shared(), nil
}

func (m *Map) InsertTextPlaceholder(txn *Transaction, key string) (*Text, error) {
	s, err := m.InsertPlaceholder(txn, key, KindText)
	if err != nil {
		return nil, err
	}
	return s.(*Text), nil
}

func (m *Map) InsertArrayPlaceholder(txn *Transaction, key string) (*Array, error) {
	s, err := m.InsertPlaceholder(txn, key, KindArray)
	if err != nil {
		return nil, err
	}
	return s.(*Array), nil
}

func (m *Map) InsertMapPlaceholder(txn *Transaction, key string) (*Map, error) {
	s, err := m.InsertPlaceholder(txn, key, KindMap)
	if err != nil {
		return nil, err
	}
	return s.(*Map), nil
}

func (m *Map) InsertXmlFragmentPlaceholder(txn *Transaction, key string) (*XmlFragment, error) {
	s, err := m.InsertPlaceholder(txn, key, KindXmlFragment)
	if err != nil {
		return nil, err
	}
	return s.(*XmlFragment), nil
}

// InsertDoc embeds sub as a sub-document under key and loads it.
func (m *Map) InsertDoc(txn *Transaction, key string, sub *Document) error {
	if err := m.b.prepare(txn); err != nil {
		return err
	}
	c, err := embedDoc(txn, sub)
	if err != nil {
		return err
	}
	txn.setEntry(m.b, key, c)
	return sub.Load(txn)
}

// Remove deletes key.
func (m *Map) Remove(txn *Transaction, key string) error {
	if err := m.b.prepare(txn); err != nil {
		return err
	}
	it, ok := m.b.entry(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	txn.deleteItem(it)
	return nil
}

// ToJSON renders the map as plain data, nested containers included.
func (m *Map) ToJSON(txn ReadTxn) map[string]any {
	m.b.check(txn)
	out := map[string]any{}
	for k, it := range m.b.entries {
		if !it.deleted {
			out[k] = jsonOf(txn, valueOf(it))
		}
	}
	return out
}

// Observe calls fn for every committed change of this map's keys.
func (m *Map) Observe(fn func(*MapEvent)) *Subscription {
	return observeShallow(m.b, fn)
}

// ObserveDeep calls fn with the events of this map and every container beneath it.
func (m *Map) ObserveDeep(fn func([]Event)) *Subscription {
	return observeDeep(m.b, fn)
}

func liveKeys(b *branch) []string {
	keys := make([]string, 0, len(b.entries))
	for k, it := range b.entries {
		if !it.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

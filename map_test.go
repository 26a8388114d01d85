package ydoc

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMap(t *testing.T, client uint64) (*Document, *Map) {
	t.Helper()
	doc := NewDocument(&DocumentOptions{ClientID: client})
	m, err := doc.GetOrInsertMap("map")
	require.NoError(t, err)
	return doc, m
}

func TestMapCRUD(t *testing.T) {
	t.Parallel()
	doc, m := newMap(t, 1)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, m.Insert(txn, "b", 2.5))
		require.NoError(t, m.Insert(txn, "a", "x"))
		require.NoError(t, m.Insert(txn, "c", map[string]any{"nested": []any{"y"}}))
		assert.Equal(t, 3, m.Len(txn))
		assert.Equal(t, []string{"a", "b", "c"}, slices.Collect(m.Keys(txn)))

		require.NoError(t, m.Insert(txn, "a", "z"))
		v, err := m.Get(txn, "a")
		require.NoError(t, err)
		assert.Equal(t, "z", v)
		assert.Equal(t, 3, m.Len(txn))

		require.NoError(t, m.Remove(txn, "b"))
		_, err = m.Get(txn, "b")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.ErrorIs(t, m.Remove(txn, "b"), ErrKeyNotFound)
		assert.ErrorIs(t, m.Remove(txn, "never"), ErrKeyNotFound)

		assert.Equal(t, map[string]any{
			"a": "z",
			"c": map[string]any{"nested": []any{"y"}},
		}, m.ToJSON(txn))
		return nil
	}))
}

func TestMapKeysSnapshot(t *testing.T) {
	t.Parallel()
	doc, m := newMap(t, 1)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, m.Insert(txn, "a", 1))
		require.NoError(t, m.Insert(txn, "b", 2))
		var keys []string
		for k := range m.Keys(txn) {
			keys = append(keys, k)
			require.NoError(t, m.Remove(txn, k))
			require.NoError(t, m.Insert(txn, k+k, 0))
		}
		assert.Equal(t, []string{"a", "b"}, keys)
		assert.Equal(t, []string{"aa", "bb"}, slices.Collect(m.Keys(txn)))
		return nil
	}))
}

func TestMapPlaceholderVisible(t *testing.T) {
	t.Parallel()
	doc, m := newMap(t, 1)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		arr, err := m.InsertArrayPlaceholder(txn, "list")
		require.NoError(t, err)
		require.NoError(t, arr.Push(txn, "first"))
		text, err := m.InsertTextPlaceholder(txn, "title")
		require.NoError(t, err)
		require.NoError(t, text.Insert(txn, 0, "hi", nil))
		inner, err := m.InsertMapPlaceholder(txn, "inner")
		require.NoError(t, err)
		require.NoError(t, inner.Insert(txn, "k", false))
		_, err = m.InsertXmlFragmentPlaceholder(txn, "xml")
		require.NoError(t, err)

		got, err := m.Get(txn, "list")
		require.NoError(t, err)
		assert.Equal(t, []any{"first"}, got.(*Array).ToJSON(txn))
		assert.Equal(t, map[string]any{
			"list":  []any{"first"},
			"title": "hi",
			"inner": map[string]any{"k": false},
			"xml":   "",
		}, m.ToJSON(txn))

		_, err = m.InsertPlaceholder(txn, "bad", KindXmlElement)
		assert.ErrorIs(t, err, ErrInvalidNesting)
		_, err = m.InsertPlaceholder(txn, "bad", KindUndefined)
		assert.ErrorIs(t, err, ErrUnsupportedValue)
		return nil
	}))
}

func TestMapConflict(t *testing.T) {
	t.Parallel()
	a, ma := newMap(t, 1)
	b, mb := newMap(t, 2)
	require.NoError(t, a.Transact(func(txn *Transaction) error { return ma.Insert(txn, "k", "from a") }))
	require.NoError(t, b.Transact(func(txn *Transaction) error { return mb.Insert(txn, "k", "from b") }))
	syncDocs(t, a, b)
	syncDocs(t, b, a)

	var va, vb any
	require.NoError(t, a.Transact(func(txn *Transaction) (err error) {
		va, err = ma.Get(txn, "k")
		return err
	}))
	require.NoError(t, b.Transact(func(txn *Transaction) (err error) {
		vb, err = mb.Get(txn, "k")
		return err
	}))
	assert.Equal(t, va, vb)
	assert.Equal(t, "from b", va)
}

func TestMapEvent(t *testing.T) {
	t.Parallel()
	doc, m := newMap(t, 1)
	var changes []map[string]EntryChange
	sub := m.Observe(func(e *MapEvent) { changes = append(changes, e.Keys()) })
	defer sub.Close()

	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, m.Insert(txn, "a", 1))
		return m.Insert(txn, "b", "x")
	}))
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, m.Insert(txn, "a", 2))
		require.NoError(t, m.Remove(txn, "b"))
		require.NoError(t, m.Insert(txn, "tmp", 0))
		return m.Remove(txn, "tmp")
	}))

	assert.Equal(t, []map[string]EntryChange{
		{
			"a": {Action: EntryAdd, NewValue: float64(1)},
			"b": {Action: EntryAdd, NewValue: "x"},
		},
		{
			"a": {Action: EntryUpdate, OldValue: float64(1), NewValue: float64(2)},
			"b": {Action: EntryDelete, OldValue: "x"},
		},
	}, changes)
}

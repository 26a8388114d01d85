package ydoc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustUndo(t *testing.T, um *UndoManager, want bool) {
	t.Helper()
	ok, err := um.Undo()
	require.NoError(t, err)
	require.Equal(t, want, ok)
}

func mustRedo(t *testing.T, um *UndoManager, want bool) {
	t.Helper()
	ok, err := um.Redo()
	require.NoError(t, err)
	require.Equal(t, want, ok)
}

func TestUndoText(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	um := NewUndoManager(text, &UndoOptions{})
	defer um.Close()
	str := func() (s string) {
		require.NoError(t, doc.Transact(func(txn *Transaction) error { s = text.String(txn); return nil }))
		return s
	}
	insert := func(i int, s string) {
		require.NoError(t, doc.Transact(func(txn *Transaction) error { return text.Insert(txn, i, s, nil) }))
	}

	insert(0, "hello")
	insert(5, " world")
	assert.Equal(t, 2, um.UndoStackLen())

	mustUndo(t, um, true)
	assert.Equal(t, "hello", str())
	assert.True(t, um.CanRedo())
	mustUndo(t, um, true)
	assert.Equal(t, "", str())
	mustUndo(t, um, false)
	assert.False(t, um.CanUndo())

	mustRedo(t, um, true)
	assert.Equal(t, "hello", str())
	mustRedo(t, um, true)
	assert.Equal(t, "hello world", str())
	mustRedo(t, um, false)

	mustUndo(t, um, true)
	assert.Equal(t, "hello", str())
	assert.Equal(t, 1, um.RedoStackLen())
	insert(5, "!")
	assert.Equal(t, "hello!", str())
	assert.False(t, um.CanRedo(), "a new change drops the redo history")
}

func TestUndoArray(t *testing.T) {
	t.Parallel()
	doc, a := newArray(t, 1)
	um := NewUndoManager(a, &UndoOptions{})
	defer um.Close()
	values := func() (v []any) {
		require.NoError(t, doc.Transact(func(txn *Transaction) error { v = a.ToJSON(txn); return nil }))
		return v
	}

	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, a.Push(txn, 1))
		return a.Push(txn, 2)
	}))
	require.NoError(t, doc.Transact(func(txn *Transaction) error { return a.RemoveRange(txn, 0, 1) }))
	assert.Equal(t, []any{float64(2)}, values())

	mustUndo(t, um, true)
	assert.Equal(t, []any{float64(1), float64(2)}, values())
	mustUndo(t, um, true)
	assert.Empty(t, values())
	mustRedo(t, um, true)
	assert.Equal(t, []any{float64(1), float64(2)}, values())
	mustRedo(t, um, true)
	assert.Equal(t, []any{float64(2)}, values())
}

func TestUndoMap(t *testing.T) {
	t.Parallel()
	doc, m := newMap(t, 1)
	um := NewUndoManager(m, &UndoOptions{})
	defer um.Close()
	contents := func() (v map[string]any) {
		require.NoError(t, doc.Transact(func(txn *Transaction) error { v = m.ToJSON(txn); return nil }))
		return v
	}
	tx := func(fn func(*Transaction) error) {
		t.Helper()
		require.NoError(t, doc.Transact(fn))
	}

	tx(func(txn *Transaction) error { return m.Insert(txn, "a", 1) })
	tx(func(txn *Transaction) error { return m.Insert(txn, "a", 2) })
	tx(func(txn *Transaction) error { return m.Remove(txn, "a") })
	assert.Empty(t, contents())

	mustUndo(t, um, true)
	assert.Equal(t, map[string]any{"a": float64(2)}, contents())
	mustUndo(t, um, true)
	assert.Equal(t, map[string]any{"a": float64(1)}, contents())
	mustUndo(t, um, true)
	assert.Empty(t, contents())

	mustRedo(t, um, true)
	assert.Equal(t, map[string]any{"a": float64(1)}, contents())
	mustRedo(t, um, true)
	assert.Equal(t, map[string]any{"a": float64(2)}, contents())
	mustRedo(t, um, true)
	assert.Empty(t, contents())
}

func TestUndoRestoresNestedContent(t *testing.T) {
	t.Parallel()
	doc, m := newMap(t, 1)
	um := NewUndoManager(m, &UndoOptions{})
	defer um.Close()
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		inner, err := m.InsertMapPlaceholder(txn, "inner")
		if err != nil {
			return err
		}
		return inner.Insert(txn, "k", "v")
	}))
	require.NoError(t, doc.Transact(func(txn *Transaction) error { return m.Remove(txn, "inner") }))

	mustUndo(t, um, true)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		assert.Equal(t, map[string]any{"inner": map[string]any{"k": "v"}}, m.ToJSON(txn))
		return nil
	}))
}

func TestUndoCaptureTimeout(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	doc, text := newText(t, 1)
	um := NewUndoManager(text, &UndoOptions{
		CaptureTimeout: time.Second,
		Clock:          func() time.Time { return now },
	})
	defer um.Close()
	typeText := func(s string, after time.Duration) {
		now = now.Add(after)
		require.NoError(t, doc.Transact(func(txn *Transaction) error {
			return text.Insert(txn, text.Len(txn), s, nil)
		}))
	}

	typeText("a", 0)
	typeText("b", 500*time.Millisecond)
	assert.Equal(t, 1, um.UndoStackLen())
	typeText("c", 2*time.Second)
	assert.Equal(t, 2, um.UndoStackLen())
	um.StopCapturing()
	typeText("d", time.Millisecond)
	assert.Equal(t, 3, um.UndoStackLen())

	mustUndo(t, um, true)
	mustUndo(t, um, true)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		assert.Equal(t, "ab", text.String(txn))
		return nil
	}))
	mustUndo(t, um, true)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		assert.Equal(t, "", text.String(txn))
		return nil
	}))
}

func TestUndoDefaultOptions(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	um := NewUndoManager(text, nil)
	defer um.Close()
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, doc.Transact(func(txn *Transaction) error { return text.Insert(txn, 0, s, nil) }))
	}
	assert.Equal(t, 1, um.UndoStackLen(), "quick successive edits merge")
}

func TestUndoTrackedOrigins(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	local := NamedOrigin("local")
	um := NewUndoManager(text, &UndoOptions{TrackedOrigins: []Origin{local}})
	defer um.Close()
	insert := func(o Origin, s string) {
		require.NoError(t, doc.TransactWithOrigin(o, func(txn *Transaction) error {
			return text.Insert(txn, text.Len(txn), s, nil)
		}))
	}

	insert(local, "a")
	insert(NamedOrigin("remote"), "b")
	insert(Origin{}, "c")
	assert.Equal(t, 1, um.UndoStackLen())

	var undoOrigin Origin
	defer text.Observe(func(e *TextEvent) { undoOrigin = e.Transaction().Origin() }).Close()
	mustUndo(t, um, true)
	assert.Equal(t, um.Origin(), undoOrigin)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		assert.Equal(t, "bc", text.String(txn))
		return nil
	}))

	um.ExcludeOrigin(local)
	insert(NamedOrigin("remote"), "d")
	assert.Equal(t, 1, um.UndoStackLen(), "no included origin tracks everything")
	um.IncludeOrigin(NamedOrigin("remote"))
	insert(local, "e")
	assert.Equal(t, 1, um.UndoStackLen())
}

func TestUndoWhileTransactionOpen(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	um := NewUndoManager(text, &UndoOptions{})
	defer um.Close()
	require.NoError(t, doc.Transact(func(txn *Transaction) error { return text.Insert(txn, 0, "x", nil) }))

	txn, err := doc.CreateTransaction()
	require.NoError(t, err)
	_, err = um.Undo()
	assert.ErrorIs(t, err, ErrTransactionUnavailable)
	assert.ErrorIs(t, err, ErrTransactionActive)
	_, err = um.Redo()
	assert.NoError(t, err, "an empty stack needs no transaction")
	require.NoError(t, txn.Commit())

	mustUndo(t, um, true)
}

func TestUndoScope(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	m, err := doc.GetOrInsertMap("map")
	require.NoError(t, err)
	um := NewUndoManager(text, &UndoOptions{})
	defer um.Close()

	require.NoError(t, doc.Transact(func(txn *Transaction) error { return m.Insert(txn, "k", 1) }))
	assert.Zero(t, um.UndoStackLen())

	require.NoError(t, um.ExpandScope(m))
	require.NoError(t, um.ExpandScope(m))
	require.NoError(t, doc.Transact(func(txn *Transaction) error { return m.Insert(txn, "k", 2) }))
	assert.Equal(t, 1, um.UndoStackLen())

	_, other := newText(t, 2)
	assert.ErrorIs(t, um.ExpandScope(other), ErrWrongDocument)

	mustUndo(t, um, true)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		v, err := m.Get(txn, "k")
		require.NoError(t, err)
		assert.Equal(t, float64(1), v)
		return nil
	}))

	um.Clear()
	assert.False(t, um.CanUndo())
	assert.False(t, um.CanRedo())
	mustRedo(t, um, false)

	um.Close()
	require.NoError(t, doc.Transact(func(txn *Transaction) error { return text.Insert(txn, 0, "x", nil) }))
	assert.Zero(t, um.UndoStackLen())
}

package ydoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type run struct {
	Insert any
	Attrs  map[string]any
}

func diffOf(txn ReadTxn, text *Text) []run {
	var out []run
	for r, attrs := range text.Diff(txn) {
		out = append(out, run{r, attrs})
	}
	return out
}

func TestTextInsertRemove(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, text.Insert(txn, 0, "ab", nil))
		require.NoError(t, text.Insert(txn, 1, "X", nil))
		require.NoError(t, text.RemoveRange(txn, 0, 1))
		assert.Equal(t, "Xb", text.String(txn))
		assert.Equal(t, 2, text.Len(txn))
		return nil
	}))
}

func TestTextCodePoints(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, text.Insert(txn, 0, "héllo😀", nil))
		assert.Equal(t, 6, text.Len(txn))
		require.NoError(t, text.Insert(txn, 6, "!", nil))
		require.NoError(t, text.RemoveRange(txn, 1, 1))
		assert.Equal(t, "hllo😀!", text.String(txn))
		return nil
	}))
}

func TestTextOutOfRange(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, text.Insert(txn, 0, "abc", nil))
		assert.ErrorIs(t, text.Insert(txn, 4, "x", nil), ErrIndexOutOfRange)
		assert.ErrorIs(t, text.Insert(txn, -1, "x", nil), ErrIndexOutOfRange)
		assert.ErrorIs(t, text.RemoveRange(txn, 2, 2), ErrIndexOutOfRange)
		assert.ErrorIs(t, text.Format(txn, 0, 4, map[string]any{"b": true}), ErrIndexOutOfRange)
		assert.Equal(t, "abc", text.String(txn))
		return nil
	}))
}

func TestTextFormatting(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	bold := map[string]any{"bold": true}
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, text.Insert(txn, 0, "hello world", nil))
		require.NoError(t, text.Format(txn, 0, 5, bold))
		assert.Equal(t, []run{
			{"hello", bold},
			{" world", nil},
		}, diffOf(txn, text))

		// plain inserts inherit the formatting in effect
		require.NoError(t, text.Insert(txn, 5, "!", nil))
		// explicit attributes replace it
		require.NoError(t, text.Insert(txn, 0, ">", map[string]any{}))
		assert.Equal(t, []run{
			{">", nil},
			{"hello!", bold},
			{" world", nil},
		}, diffOf(txn, text))

		require.NoError(t, text.Format(txn, 1, 6, map[string]any{"bold": nil}))
		assert.Equal(t, []run{{">hello! world", nil}}, diffOf(txn, text))
		assert.Equal(t, ">hello! world", text.String(txn))
		return nil
	}))
}

func TestTextEmbed(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	require.NoError(t, doc.Transact(func(txn *Transaction) error {
		require.NoError(t, text.Insert(txn, 0, "ab", nil))
		require.NoError(t, text.InsertEmbed(txn, 1, map[string]any{"image": "cat.png"}, map[string]any{"width": 10}))
		assert.Equal(t, 3, text.Len(txn))
		assert.Equal(t, "ab", text.String(txn))
		assert.Equal(t, []run{
			{"a", nil},
			{map[string]any{"image": "cat.png"}, map[string]any{"width": float64(10)}},
			{"b", nil},
		}, diffOf(txn, text))

		assert.ErrorIs(t, text.InsertEmbed(txn, 0, struct{}{}, nil), ErrUnsupportedValue)
		assert.ErrorIs(t, text.InsertEmbed(txn, 0, text, nil), ErrUnsupportedValue)
		return nil
	}))
}

func TestTextDelta(t *testing.T) {
	t.Parallel()
	doc, text := newText(t, 1)
	var deltas [][]Delta
	sub := text.Observe(func(e *TextEvent) { deltas = append(deltas, e.Delta()) })
	defer sub.Close()

	tx := func(fn func(*Transaction) error) {
		t.Helper()
		require.NoError(t, doc.Transact(fn))
	}
	tx(func(txn *Transaction) error { return text.Insert(txn, 0, "ab", nil) })
	tx(func(txn *Transaction) error { return text.Insert(txn, 1, "X", nil) })
	tx(func(txn *Transaction) error { return text.RemoveRange(txn, 0, 1) })
	tx(func(txn *Transaction) error { return text.Format(txn, 0, 1, map[string]any{"i": true}) })
	tx(func(txn *Transaction) error { return text.Insert(txn, 2, "c", map[string]any{"u": true}) })

	assert.Equal(t, [][]Delta{
		{{Insert: "ab"}},
		{{Retain: 1}, {Insert: "X"}},
		{{Delete: 1}},
		{{Retain: 1, Attributes: map[string]any{"i": true}}},
		{{Retain: 2}, {Insert: "c", Attributes: map[string]any{"u": true}}},
	}, deltas)
}

func TestTextConcurrentInserts(t *testing.T) {
	t.Parallel()
	a, ta := newText(t, 1)
	b, tb := newText(t, 2)
	require.NoError(t, a.Transact(func(txn *Transaction) error { return ta.Insert(txn, 0, "base", nil) }))
	syncDocs(t, a, b)

	require.NoError(t, a.Transact(func(txn *Transaction) error { return ta.Insert(txn, 4, " A", nil) }))
	require.NoError(t, b.Transact(func(txn *Transaction) error {
		if err := tb.Insert(txn, 4, " B", nil); err != nil {
			return err
		}
		return tb.RemoveRange(txn, 0, 1)
	}))
	syncDocs(t, a, b)
	syncDocs(t, b, a)

	var sa, sb string
	require.NoError(t, a.Transact(func(txn *Transaction) error { sa = ta.String(txn); return nil }))
	require.NoError(t, b.Transact(func(txn *Transaction) error { sb = tb.String(txn); return nil }))
	assert.Equal(t, sa, sb)
	assert.Equal(t, "ase A B", sa, "lower client id goes first")
}

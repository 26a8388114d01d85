package ydoc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func benchmarkTextAppend(factor int, b *testing.B) {
	doc := NewDocument(&DocumentOptions{ClientID: 1})
	text, err := doc.GetOrInsertText("text")
	require.NoError(b, err)
	b.ResetTimer()
	for n := 0; n < factor*b.N; n++ {
		_ = doc.Transact(func(txn *Transaction) error {
			return text.Insert(txn, text.Len(txn), "x", nil)
		})
	}
}

func BenchmarkTextAppend1(b *testing.B)   { benchmarkTextAppend(1, b) }
func BenchmarkTextAppend10(b *testing.B)  { benchmarkTextAppend(10, b) }
func BenchmarkTextAppend100(b *testing.B) { benchmarkTextAppend(100, b) }

func benchmarkMapInsert(factor int, b *testing.B) {
	doc := NewDocument(&DocumentOptions{ClientID: 1})
	m, err := doc.GetOrInsertMap("map")
	require.NoError(b, err)
	keys := []string{"a", "b", "c", "d"}
	b.ResetTimer()
	_ = doc.Transact(func(txn *Transaction) error {
		for n := 0; n < factor*b.N; n++ {
			if err := m.Insert(txn, keys[n%len(keys)], n); err != nil {
				return err
			}
		}
		return nil
	})
}

func BenchmarkMapInsert1(b *testing.B)   { benchmarkMapInsert(1, b) }
func BenchmarkMapInsert10(b *testing.B)  { benchmarkMapInsert(10, b) }
func BenchmarkMapInsert100(b *testing.B) { benchmarkMapInsert(100, b) }

func editedDoc(b *testing.B, n int) *Document {
	doc := NewDocument(&DocumentOptions{ClientID: 1})
	text, err := doc.GetOrInsertText("text")
	require.NoError(b, err)
	for i := 0; i < n; i++ {
		require.NoError(b, doc.Transact(func(txn *Transaction) error {
			if i%3 == 2 {
				return text.RemoveRange(txn, i%text.Len(txn), 1)
			}
			return text.Insert(txn, i%(text.Len(txn)+1), "ab", nil)
		}))
	}
	return doc
}

func benchmarkEncode(n int, b *testing.B) {
	doc := editedDoc(b, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := doc.Update(nil)
		require.NoError(b, err)
	}
}

func BenchmarkEncode100(b *testing.B) { benchmarkEncode(100, b) }
func BenchmarkEncode1k(b *testing.B)  { benchmarkEncode(1_000, b) }
func BenchmarkEncode10k(b *testing.B) { benchmarkEncode(10_000, b) }

func benchmarkApply(n int, b *testing.B) {
	u, err := editedDoc(b, n).Update(nil)
	require.NoError(b, err)
	b.SetBytes(int64(len(u)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doc := NewDocument(&DocumentOptions{ClientID: 2})
		require.NoError(b, doc.Transact(func(txn *Transaction) error {
			return doc.ApplyUpdate(txn, u)
		}))
	}
}

func BenchmarkApply100(b *testing.B) { benchmarkApply(100, b) }
func BenchmarkApply1k(b *testing.B)  { benchmarkApply(1_000, b) }
func BenchmarkApply10k(b *testing.B) { benchmarkApply(10_000, b) }

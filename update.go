package ydoc

import (
	"fmt"
	"sort"
)

// EncodeStateVector returns the encoded state vector of doc.
func EncodeStateVector(doc *Document) []byte {
	return doc.State()
}

// ApplyUpdate integrates b into the document txn belongs to. Applying the
// same update twice leaves the document as applying it once.
func ApplyUpdate(txn *Transaction, b []byte) error {
	return txn.doc.ApplyUpdate(txn, b)
}

// MergeUpdates combines updates into one whose effect on any document equals
// applying all of them, in any order. Overlapping structs are kept once.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	us := make([]*update, 0, len(updates))
	for i, b := range updates {
		u, err := decodeUpdate(b)
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		us = append(us, u)
	}
	return mergeDecoded(us).encode(), nil
}

// DiffUpdate returns the part of update b that a peer with the given encoded
// state vector has not seen. Deletions are always kept. A nil or empty state
// vector keeps everything, as with Document.Update.
func DiffUpdate(b, stateVector []byte) ([]byte, error) {
	u, err := decodeUpdate(b)
	if err != nil {
		return nil, err
	}
	sv := StateVector{}
	if len(stateVector) > 0 {
		if sv, err = DecodeStateVector(stateVector); err != nil {
			return nil, err
		}
	}
	for c, g := range u.groups {
		kept := g[:0]
		for _, b := range g {
			if b.end() > sv[c] && !b.isSkip() {
				kept = append(kept, b)
			}
		}
		u.groups[c] = kept
	}
	return mergeDecoded([]*update{u}).encode(), nil
}

// EncodeStateVectorFromUpdate returns the state vector a fresh document would
// have after applying update b: per client, the clocks covered contiguously
// from zero.
func EncodeStateVectorFromUpdate(b []byte) ([]byte, error) {
	u, err := decodeUpdate(b)
	if err != nil {
		return nil, err
	}
	u = mergeDecoded([]*update{u})
	sv := StateVector{}
	for c, g := range u.groups {
		if g[0].id.Clock != 0 {
			continue
		}
		var clock uint64
		for _, b := range g {
			if b.isSkip() {
				break
			}
			clock = b.end()
		}
		sv[c] = clock
	}
	return sv.Encode(), nil
}

// mergeDecoded unions the structs and delete sets of us. Each client's
// structs are laid out from its lowest clock with skips over unknown gaps.
func mergeDecoded(us []*update) *update {
	out := newUpdate()
	byClient := map[uint64]map[uint64]*block{}
	for _, u := range us {
		for c, g := range u.groups {
			for _, b := range g {
				if b.isSkip() {
					continue
				}
				m := byClient[c]
				if m == nil {
					m = map[uint64]*block{}
					byClient[c] = m
				}
				if _, ok := m[b.id.Clock]; !ok {
					m[b.id.Clock] = b
				}
			}
		}
		out.ds.merge(u.ds)
	}
	for c, m := range byClient {
		clocks := make([]uint64, 0, len(m))
		for k := range m {
			clocks = append(clocks, k)
		}
		sort.Slice(clocks, func(i, j int) bool { return clocks[i] < clocks[j] })
		g := make([]*block, 0, len(clocks))
		next := clocks[0]
		for _, k := range clocks {
			if k > next {
				g = append(g, &block{id: ID{c, next}, skip: k - next})
			}
			b := m[k]
			g = append(g, b)
			next = b.end()
		}
		out.groups[c] = g
	}
	return out
}

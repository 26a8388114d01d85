package ydoc

import (
	"fmt"
	"sort"
)

// ID names one item of replicated history: the replica that created it and
// that replica's logical clock at creation.
type ID struct {
	Client uint64
	Clock  uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Client, id.Clock)
}

// StateVector maps each replica to the number of its items a document has
// integrated. Clocks are dense, so clock c is known iff c < sv[client].
type StateVector map[uint64]uint64

// Contains reports whether the item is covered by the state vector.
func (sv StateVector) Contains(id ID) bool {
	return id.Clock < sv[id.Client]
}

// Equal compares two state vectors, treating absent and zero clocks alike.
func (sv StateVector) Equal(o StateVector) bool {
	for c, n := range sv {
		if o[c] != n {
			return false
		}
	}
	for c, n := range o {
		if sv[c] != n {
			return false
		}
	}
	return true
}

func (sv StateVector) clients() []uint64 {
	out := make([]uint64, 0, len(sv))
	for c, n := range sv {
		if n > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (sv StateVector) clone() StateVector {
	out := make(StateVector, len(sv))
	for c, n := range sv {
		out[c] = n
	}
	return out
}

type idRange struct {
	clock, len uint64
}

func (r idRange) end() uint64 { return r.clock + r.len }

// idSet is a set of item IDs stored as sorted, non-overlapping clock ranges
// per client. It is used for delete sets and undo stack items.
type idSet map[uint64][]idRange

func (s idSet) add(client, clock, n uint64) {
	if n == 0 {
		return
	}
	rs := s[client]
	i := sort.Search(len(rs), func(i int) bool { return rs[i].end() >= clock })
	end := clock + n
	j := i
	for j < len(rs) && rs[j].clock <= end {
		if rs[j].clock < clock {
			clock = rs[j].clock
		}
		if e := rs[j].end(); e > end {
			end = e
		}
		j++
	}
	merged := append([]idRange{{clock, end - clock}}, rs[j:]...)
	s[client] = append(rs[:i], merged...)
}

func (s idSet) contains(id ID) bool {
	rs := s[id.Client]
	i := sort.Search(len(rs), func(i int) bool { return rs[i].end() > id.Clock })
	return i < len(rs) && rs[i].clock <= id.Clock
}

func (s idSet) merge(o idSet) {
	for c, rs := range o {
		for _, r := range rs {
			s.add(c, r.clock, r.len)
		}
	}
}

func (s idSet) empty() bool {
	for _, rs := range s {
		if len(rs) > 0 {
			return false
		}
	}
	return true
}

func (s idSet) clone() idSet {
	out := make(idSet, len(s))
	for c, rs := range s {
		out[c] = append([]idRange(nil), rs...)
	}
	return out
}

func (s idSet) clients() []uint64 {
	out := make([]uint64, 0, len(s))
	for c, rs := range s {
		if len(rs) > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// each visits every ID in client then clock order.
func (s idSet) each(fn func(ID)) {
	for _, c := range s.clients() {
		for _, r := range s[c] {
			for k := r.clock; k < r.end(); k++ {
				fn(ID{c, k})
			}
		}
	}
}

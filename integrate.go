package ydoc

import (
	"sort"
)

func (t *Transaction) nextID() ID {
	c := t.doc.clientID
	return ID{c, t.doc.store.state(c)}
}

// insertItem creates a local sequence item between left and right.
func (t *Transaction) insertItem(parent *branch, left, right *item, c content) *item {
	it := &item{id: t.nextID(), left: left, right: right, parent: parent, content: c}
	if left != nil {
		id := left.id
		it.origin = &id
	}
	if right != nil {
		id := right.id
		it.rightOrigin = &id
	}
	t.integrate(it)
	return it
}

// setEntry creates a local keyed item, displacing the current value.
func (t *Transaction) setEntry(parent *branch, key string, c content) *item {
	left := parent.entries[key]
	it := &item{id: t.nextID(), left: left, parent: parent, keyed: true, parentSub: key, content: c}
	if left != nil {
		id := left.id
		it.origin = &id
	}
	t.integrate(it)
	return it
}

func sameID(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// integrate links it into its parent, resolving concurrent insertions at
// the same position: items with the same origin are ordered by client ID,
// and items whose origin lies inside the conflicting run stay to its right.
func (t *Transaction) integrate(it *item) {
	p := it.parent
	if (it.left == nil && (it.right == nil || it.right.left != nil)) || (it.left != nil && it.left.right != it.right) {
		left := it.left
		var o *item
		switch {
		case left != nil:
			o = left.right
		case it.keyed:
			o = p.entries[it.parentSub]
			for o != nil && o.left != nil {
				o = o.left
			}
		default:
			o = p.start
		}
		conflicting := map[*item]struct{}{}
		beforeOrigin := map[*item]struct{}{}
		for o != nil && o != it.right {
			beforeOrigin[o] = struct{}{}
			conflicting[o] = struct{}{}
			if sameID(it.origin, o.origin) {
				if o.id.Client < it.id.Client {
					left = o
					clear(conflicting)
				} else if sameID(it.rightOrigin, o.rightOrigin) {
					break
				}
			} else if oo := t.originItem(o); oo != nil && has(beforeOrigin, oo) {
				if !has(conflicting, oo) {
					left = o
					clear(conflicting)
				}
			} else {
				break
			}
			o = o.right
		}
		it.left = left
	}

	if it.left != nil {
		it.right = it.left.right
		it.left.right = it
	} else {
		var r *item
		if it.keyed {
			r = p.entries[it.parentSub]
			for r != nil && r.left != nil {
				r = r.left
			}
		} else {
			r = p.start
			p.start = it
		}
		it.right = r
	}
	if it.right != nil {
		it.right.left = it
	} else if it.keyed {
		p.entries[it.parentSub] = it
		if it.left != nil {
			t.deleteItem(it.left)
		}
	}
	if !it.keyed && it.content.countable() && !it.deleted {
		p.length++
	}
	t.doc.store.push(it)
	t.integrateContent(it)
	t.addChanged(p, it.keyed, it.parentSub)
	if (p.item != nil && p.item.deleted) || (it.keyed && it.right != nil) {
		t.deleteItem(it)
	}
}

func (t *Transaction) originItem(o *item) *item {
	if o.origin == nil {
		return nil
	}
	return t.doc.store.get(*o.origin)
}

func has(set map[*item]struct{}, it *item) bool {
	_, ok := set[it]
	return ok
}

func (t *Transaction) integrateContent(it *item) {
	d := t.doc
	switch c := it.content.(type) {
	case *typeContent:
		if c.b == nil {
			c.b = newBranch(d, c.kind, c.tag)
		}
		c.b.item = it
	case *docContent:
		if c.doc == nil {
			c.doc = NewDocument(&DocumentOptions{GUID: c.guid, Logger: d.logger, Metrics: d.metrics})
			c.doc.shouldLoad = c.shouldLoad
		}
		moved := c.doc.item != nil
		c.doc.item = it
		d.subdocs[c.guid] = c.doc
		if !moved {
			t.subdocsAdded[c.guid] = c.doc
			if c.doc.shouldLoad {
				t.subdocsLoaded[c.guid] = c.doc
			}
		}
	case deletedContent:
		t.deleteItem(it)
	}
}

func (t *Transaction) deleteItem(it *item) {
	if it.deleted {
		return
	}
	it.deleted = true
	t.deleteSet.add(it.id.Client, it.id.Clock, 1)
	if it.parent == nil {
		return
	}
	if !it.keyed && it.content.countable() {
		it.parent.length--
	}
	t.addChanged(it.parent, it.keyed, it.parentSub)
	if c, ok := it.content.(*docContent); ok && c.doc != nil && c.doc.item == it {
		delete(t.doc.subdocs, c.guid)
		if t.subdocsAdded[c.guid] == c.doc {
			delete(t.subdocsAdded, c.guid)
			delete(t.subdocsLoaded, c.guid)
		} else {
			t.subdocsRemoved[c.guid] = c.doc
		}
	}
}

// addChanged records that b changed, unless b itself was created in this
// transaction: observers of new containers have nothing to compare against.
func (t *Transaction) addChanged(b *branch, keyed bool, key string) {
	if it := b.item; it != nil && (it.id.Clock >= t.beforeState[it.id.Client] || it.deleted) {
		return
	}
	cs, ok := t.changed[b]
	if !ok {
		cs = &changeSet{keys: map[string]struct{}{}}
		t.changed[b] = cs
		t.changedOrder = append(t.changedOrder, b)
	}
	if keyed {
		cs.keys[key] = struct{}{}
	} else {
		cs.seq = true
	}
}

// applyUpdate integrates remote blocks and deletions. Blocks whose
// dependencies are unknown, and deletions of unknown items, are kept on the
// document and retried by the next update.
func (t *Transaction) applyUpdate(u *update) {
	d := t.doc
	queue := d.pending
	d.pending = nil
	for _, c := range u.clients() {
		queue = append(queue, u.groups[c]...)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].id.Client != queue[j].id.Client {
			return queue[i].id.Client < queue[j].id.Client
		}
		return queue[i].id.Clock < queue[j].id.Clock
	})

	integrated := 0
	for len(queue) > 0 {
		progress := false
		rest := queue[:0:0]
		for _, b := range queue {
			if b.isSkip() {
				continue
			}
			state := d.store.state(b.id.Client)
			if b.id.Clock < state {
				continue
			}
			if b.id.Clock > state || !t.ready(b) {
				rest = append(rest, b)
				continue
			}
			t.integrateBlock(b)
			integrated++
			progress = true
		}
		queue = rest
		if !progress {
			break
		}
	}
	d.pending = dedupeBlocks(queue)

	ds := d.pendingDeletes
	ds.merge(u.ds)
	d.pendingDeletes = idSet{}
	for client, rs := range ds {
		state := d.store.state(client)
		for _, r := range rs {
			known := r.end()
			if known > state {
				known = state
			}
			for k := r.clock; k < known; k++ {
				t.deleteItem(d.store.get(ID{client, k}))
			}
			if r.end() > state {
				from := max(r.clock, state)
				d.pendingDeletes.add(client, from, r.end()-from)
			}
		}
	}
	d.logger.Debug("update applied",
		"guid", d.guid,
		"integrated", integrated,
		"pending", len(d.pending))
}

func dedupeBlocks(bs []*block) []*block {
	seen := map[ID]struct{}{}
	out := bs[:0]
	for _, b := range bs {
		if _, ok := seen[b.id]; ok {
			continue
		}
		seen[b.id] = struct{}{}
		out = append(out, b)
	}
	return out
}

func (t *Transaction) ready(b *block) bool {
	s := t.doc.store
	if b.origin != nil && s.get(*b.origin) == nil {
		return false
	}
	if b.rightOrigin != nil && s.get(*b.rightOrigin) == nil {
		return false
	}
	if !b.parent.root && s.get(b.parent.id) == nil {
		return false
	}
	return true
}

// integrateBlock turns a ready remote block into an item.
func (t *Transaction) integrateBlock(b *block) {
	d := t.doc
	it := &item{
		id:          b.id,
		origin:      b.origin,
		rightOrigin: b.rightOrigin,
		keyed:       b.keyed,
		parentSub:   b.parentSub,
		content:     b.content,
	}
	var parent *branch
	if b.parent.root {
		parent, _ = d.root(b.parent.name, KindUndefined, "")
	} else if tc, ok := d.store.get(b.parent.id).content.(*typeContent); ok && tc.b != nil {
		parent = tc.b
	}
	if it.origin != nil {
		it.left = d.store.get(*it.origin)
	}
	if it.rightOrigin != nil {
		it.right = d.store.get(*it.rightOrigin)
	}
	if parent == nil || !fits(it.left, parent, it) || !fits(it.right, parent, it) {
		t.orphan(it, b.parent)
		return
	}
	it.parent = parent
	t.integrate(it)
}

// fits reports whether neighbor can be linked next to it.
func fits(neighbor *item, parent *branch, it *item) bool {
	if neighbor == nil {
		return true
	}
	return neighbor.parent == parent && neighbor.keyed == it.keyed &&
		(!it.keyed || neighbor.parentSub == it.parentSub)
}

// orphan keeps the clock of a block that cannot be placed as a deleted
// placeholder, so later clocks of the same client still integrate.
func (t *Transaction) orphan(it *item, p parentRef) {
	it.orphanOf = &p
	it.left, it.right = nil, nil
	it.content = deletedContent{}
	t.doc.store.push(it)
	t.deleteItem(it)
	t.doc.logger.Warn("dropped struct with inconsistent parent", "id", it.id)
}

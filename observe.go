package ydoc

import "sync"

// Subscription keeps a registered callback alive until Close.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close unregisters the callback. No invocation starts after Close returns,
// including for events of a commit that is in progress. Close is idempotent
// and may be called from inside the callback itself.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

type subscriber[E any] struct {
	fn     func(E)
	closed bool
}

// observers is a callback registry. Callbacks run synchronously on the
// goroutine that commits the transaction.
type observers[E any] struct {
	subs []*subscriber[E]
}

func (o *observers[E]) add(fn func(E)) *Subscription {
	s := &subscriber[E]{fn: fn}
	o.subs = append(o.subs, s)
	return &Subscription{cancel: func() {
		s.closed = true
		kept := make([]*subscriber[E], 0, len(o.subs))
		for _, e := range o.subs {
			if e != s {
				kept = append(kept, e)
			}
		}
		o.subs = kept
	}}
}

func (o *observers[E]) empty() bool { return len(o.subs) == 0 }

// trigger calls every live subscriber and returns how many ran.
func (o *observers[E]) trigger(e E) int {
	n := 0
	for _, s := range o.subs {
		if s.closed {
			continue
		}
		s.fn(e)
		n++
	}
	return n
}

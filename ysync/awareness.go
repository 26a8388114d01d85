package ysync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jrhy/ydoc"
)

// DefaultOutdatedTimeout is how long a remote client may stay silent before
// its state is dropped.
const DefaultOutdatedTimeout = 30 * time.Second

// Topic distinguishes awareness notifications. Change fires only when a
// state was added, removed or altered; Update also fires for renewals.
type Topic string

const (
	TopicChange Topic = "change"
	TopicUpdate Topic = "update"
)

// Origins of awareness changes not caused by an applied update.
const (
	OriginLocal   = "local"
	OriginTimeout = "timeout"
)

// AwarenessChange lists the clients affected by one awareness change.
type AwarenessChange struct {
	Added   []uint64
	Updated []uint64
	Removed []uint64
	Origin  string
}

// ClientMeta is the bookkeeping kept per client.
type ClientMeta struct {
	Clock       uint64
	LastUpdated time.Time
}

// State is a client's JSON awareness state.
type State = map[string]any

// AwarenessOptions configures an Awareness. Nil options select defaults.
type AwarenessOptions struct {
	OutdatedTimeout time.Duration
	Clock           func() time.Time
	Logger          *slog.Logger
}

// Awareness tracks the presence states of the local client and its peers.
// It is safe for concurrent use; observers run without the lock held.
type Awareness struct {
	clientID uint64
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	meta   map[uint64]ClientMeta
	states map[uint64]State
	subs   map[string]func(Topic, AwarenessChange)
}

// NewAwareness creates the awareness of doc's client with an empty local state.
func NewAwareness(doc *ydoc.Document, opts *AwarenessOptions) *Awareness {
	if opts == nil {
		opts = &AwarenessOptions{}
	}
	a := &Awareness{
		clientID: doc.ClientID(),
		timeout:  opts.OutdatedTimeout,
		now:      opts.Clock,
		logger:   opts.Logger,
		meta:     map[uint64]ClientMeta{},
		states:   map[uint64]State{},
		subs:     map[string]func(Topic, AwarenessChange){},
	}
	if a.timeout <= 0 {
		a.timeout = DefaultOutdatedTimeout
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.SetLocalState(State{})
	return a
}

func (a *Awareness) ClientID() uint64 { return a.clientID }

// States returns a copy of the known states by client.
func (a *Awareness) States() map[uint64]State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]State, len(a.states))
	for c, s := range a.states {
		out[c] = s
	}
	return out
}

// Meta returns a copy of the per-client bookkeeping.
func (a *Awareness) Meta() map[uint64]ClientMeta {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]ClientMeta, len(a.meta))
	for c, m := range a.meta {
		out[c] = m
	}
	return out
}

// LocalState returns the local state, or nil once it was removed.
func (a *Awareness) LocalState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[a.clientID]
}

type pendingEmit struct {
	topic  Topic
	change AwarenessChange
}

// SetLocalState replaces the local state; nil removes it. The local clock
// advances either way.
func (a *Awareness) SetLocalState(state State) {
	a.mu.Lock()
	emits := a.setLocalStateLocked(state)
	a.mu.Unlock()
	a.emit(emits)
}

func (a *Awareness) setLocalStateLocked(state State) []pendingEmit {
	id := a.clientID
	var clock uint64
	if m, ok := a.meta[id]; ok {
		clock = m.Clock + 1
	}
	prev, hadPrev := a.states[id]
	if state == nil {
		delete(a.states, id)
	} else {
		a.states[id] = state
	}
	a.meta[id] = ClientMeta{Clock: clock, LastUpdated: a.now()}

	var added, updated, filtered, removed []uint64
	switch {
	case state == nil:
		removed = append(removed, id)
	case !hadPrev:
		added = append(added, id)
	default:
		updated = append(updated, id)
		if !sameState(prev, state) {
			filtered = append(filtered, id)
		}
	}
	var out []pendingEmit
	if len(added)+len(filtered)+len(removed) > 0 {
		out = append(out, pendingEmit{TopicChange, AwarenessChange{added, filtered, removed, OriginLocal}})
	}
	return append(out, pendingEmit{TopicUpdate, AwarenessChange{added, updated, removed, OriginLocal}})
}

// SetLocalStateField sets one field of the local state, if there is one.
func (a *Awareness) SetLocalStateField(field string, value any) {
	a.mu.Lock()
	cur, ok := a.states[a.clientID]
	if !ok {
		a.mu.Unlock()
		return
	}
	next := make(State, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[field] = value
	emits := a.setLocalStateLocked(next)
	a.mu.Unlock()
	a.emit(emits)
}

// RemoveStates drops the states of the given clients.
func (a *Awareness) RemoveStates(clients []uint64, origin string) {
	a.mu.Lock()
	emits := a.removeStatesLocked(clients, origin)
	a.mu.Unlock()
	a.emit(emits)
}

func (a *Awareness) removeStatesLocked(clients []uint64, origin string) []pendingEmit {
	var removed []uint64
	for _, c := range clients {
		if _, ok := a.states[c]; !ok {
			continue
		}
		delete(a.states, c)
		if c == a.clientID {
			a.meta[c] = ClientMeta{Clock: a.meta[c].Clock + 1, LastUpdated: a.now()}
		}
		removed = append(removed, c)
	}
	if len(removed) == 0 {
		return nil
	}
	ch := AwarenessChange{Removed: removed, Origin: origin}
	return []pendingEmit{{TopicChange, ch}, {TopicUpdate, ch}}
}

// RemoveOutdated renews the local state when half the timeout has passed
// and drops remote clients silent for the whole timeout.
func (a *Awareness) RemoveOutdated() {
	a.mu.Lock()
	now := a.now()
	var emits []pendingEmit
	if local, ok := a.states[a.clientID]; ok && now.Sub(a.meta[a.clientID].LastUpdated) >= a.timeout/2 {
		emits = a.setLocalStateLocked(local)
	}
	var stale []uint64
	for c, m := range a.meta {
		if _, ok := a.states[c]; ok && c != a.clientID && now.Sub(m.LastUpdated) >= a.timeout {
			stale = append(stale, c)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	emits = append(emits, a.removeStatesLocked(stale, OriginTimeout)...)
	a.mu.Unlock()
	if len(stale) > 0 {
		a.logger.Debug("removed outdated awareness states", "clients", stale)
	}
	a.emit(emits)
}

// Run calls RemoveOutdated every tenth of the timeout until ctx is done.
func (a *Awareness) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.timeout / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.RemoveOutdated()
		}
	}
}

// EncodeUpdate encodes the states of the given clients.
func (a *Awareness) EncodeUpdate(clients []uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := protowire.AppendVarint(nil, uint64(len(clients)))
	for _, c := range clients {
		state, ok := a.states[c]
		js := []byte("null")
		if ok {
			var err error
			if js, err = json.Marshal(state); err != nil {
				return nil, fmt.Errorf("client %d state: %w", c, err)
			}
		}
		buf = protowire.AppendVarint(buf, c)
		buf = protowire.AppendVarint(buf, a.meta[c].Clock)
		buf = protowire.AppendBytes(buf, js)
	}
	return buf, nil
}

// ApplyUpdate merges an encoded awareness update. Newer clocks win; a
// remote removal of the local state only bumps the local clock.
func (a *Awareness) ApplyUpdate(update []byte, origin string) error {
	d := NewDecoder(update)
	n, err := d.ReadVarUint()
	if err != nil {
		return err
	}
	type entry struct {
		client, clock uint64
		state         State
	}
	entries := make([]entry, 0, min(n, uint64(len(update))))
	for i := uint64(0); i < n; i++ {
		var e entry
		if e.client, err = d.ReadVarUint(); err != nil {
			return err
		}
		if e.clock, err = d.ReadVarUint(); err != nil {
			return err
		}
		js, err := d.ReadVarString()
		if err != nil {
			return err
		}
		if js != "" {
			if err := json.Unmarshal([]byte(js), &e.state); err != nil {
				return fmt.Errorf("%w: client %d state: %v", ErrProtocol, e.client, err)
			}
		}
		entries = append(entries, e)
	}

	a.mu.Lock()
	now := a.now()
	var added, updated, filtered, removed []uint64
	for _, e := range entries {
		meta, known := a.meta[e.client]
		prev, hadState := a.states[e.client]
		clock := e.clock
		if !(meta.Clock < clock || (meta.Clock == clock && e.state == nil && hadState)) {
			continue
		}
		if e.state == nil {
			if e.client == a.clientID && hadState {
				clock++
			} else {
				delete(a.states, e.client)
			}
		} else {
			a.states[e.client] = e.state
		}
		a.meta[e.client] = ClientMeta{Clock: clock, LastUpdated: now}
		switch {
		case !known && e.state != nil:
			added = append(added, e.client)
		case known && e.state == nil:
			removed = append(removed, e.client)
		case e.state != nil:
			if !sameState(prev, e.state) {
				filtered = append(filtered, e.client)
			}
			updated = append(updated, e.client)
		}
	}
	a.mu.Unlock()

	var emits []pendingEmit
	if len(added)+len(filtered)+len(removed) > 0 {
		emits = append(emits, pendingEmit{TopicChange, AwarenessChange{added, filtered, removed, origin}})
	}
	if len(added)+len(updated)+len(removed) > 0 {
		emits = append(emits, pendingEmit{TopicUpdate, AwarenessChange{added, updated, removed, origin}})
	}
	a.emit(emits)
	return nil
}

// Observe registers fn for awareness notifications and returns the id to
// pass to Unobserve.
func (a *Awareness) Observe(fn func(Topic, AwarenessChange)) string {
	id := uuid.NewString()
	a.mu.Lock()
	a.subs[id] = fn
	a.mu.Unlock()
	return id
}

func (a *Awareness) Unobserve(id string) {
	a.mu.Lock()
	delete(a.subs, id)
	a.mu.Unlock()
}

func (a *Awareness) emit(emits []pendingEmit) {
	if len(emits) == 0 {
		return
	}
	a.mu.Lock()
	ids := make([]string, 0, len(a.subs))
	for id := range a.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fns := make([]func(Topic, AwarenessChange), len(ids))
	for i, id := range ids {
		fns[i] = a.subs[id]
	}
	a.mu.Unlock()
	for _, e := range emits {
		for _, fn := range fns {
			fn(e.topic, e.change)
		}
	}
}

// IsDisconnectMessage reports whether an awareness message, still carrying
// its length prefix, announces that a single client left.
func IsDisconnectMessage(message []byte) (bool, error) {
	payload, err := NewDecoder(message).ReadMessage()
	if err != nil {
		return false, err
	}
	d := NewDecoder(payload)
	n, err := d.ReadVarUint()
	if err != nil || n != 1 {
		return false, err
	}
	for i := 0; i < 2; i++ {
		if _, err := d.ReadVarUint(); err != nil {
			return false, err
		}
	}
	s, err := d.ReadVarString()
	return s == "null", err
}

func sameState(a, b State) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

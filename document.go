package ydoc

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"
)

// DocumentOptions sets identity and ambient collaborators of a Document. The
// zero value selects a random client ID, a fresh GUID, slog.Default and no metrics.
type DocumentOptions struct {
	// ClientID identifies this replica in update history. 0 means pick one at random.
	ClientID uint64

	// GUID is the stable identity of the document, used to track sub-documents.
	GUID string

	// Logger receives debug records of commits and applied updates.
	Logger *slog.Logger

	// Metrics, if set, counts transactions, updates and observer calls.
	Metrics *Metrics

	// Validate, if set, vets every remote update before it is applied. It
	// receives a twin document holding the current content with the update
	// already applied; returning an error rejects the update and leaves this
	// document untouched.
	Validate func(twin *Document) error
}

// Document is a replica of a tree of shared containers. Documents are not
// safe for concurrent use: callers serialize access, and at most one
// Transaction may be open at a time.
type Document struct {
	clientID uint64
	guid     string
	logger   *slog.Logger
	metrics  *Metrics
	validate func(*Document) error

	store     blockStore
	roots     map[string]*branch
	rootOrder []string

	pending        []*block
	pendingDeletes idSet

	txn *Transaction

	// item holds this document when it is embedded in a parent document.
	item       *item
	shouldLoad bool
	subdocs    map[string]*Document

	observers        observers[*TransactionEvent]
	subdocsObservers observers[*SubdocsEvent]
	afterTransaction observers[*Transaction]
}

// NewDocument creates an empty document.
func NewDocument(opts *DocumentOptions) *Document {
	if opts == nil {
		opts = &DocumentOptions{}
	}
	d := &Document{
		clientID:       opts.ClientID,
		guid:           opts.GUID,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		validate:       opts.Validate,
		store:          blockStore{},
		roots:          map[string]*branch{},
		pendingDeletes: idSet{},
		subdocs:        map[string]*Document{},
		shouldLoad:     true,
	}
	for d.clientID == 0 {
		d.clientID = rand.Uint64() >> 11
	}
	if d.guid == "" {
		d.guid = uuid.NewString()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// ClientID returns the replica identifier used for local history.
func (d *Document) ClientID() uint64 { return d.clientID }

// GUID returns the document's globally unique identity.
func (d *Document) GUID() string { return d.guid }

func (d *Document) root(name string, kind Kind, tag string) (*branch, error) {
	b, ok := d.roots[name]
	if !ok {
		b = newBranch(d, kind, tag)
		b.name = name
		d.roots[name] = b
		d.rootOrder = append(d.rootOrder, name)
		return b, nil
	}
	if b.kind == KindUndefined && kind != KindUndefined {
		b.kind = kind
		return b, nil
	}
	if kind != KindUndefined && b.kind != kind {
		return nil, fmt.Errorf("%w: %q is %s, not %s", ErrTypeMismatch, name, b.kind, kind)
	}
	return b, nil
}

// GetOrInsertText returns the root text registered under name, creating it if needed.
func (d *Document) GetOrInsertText(name string) (*Text, error) {
	b, err := d.root(name, KindText, "")
	if err != nil {
		return nil, err
	}
	return b.shared().(*Text), nil
}

// GetOrInsertArray returns the root array registered under name, creating it if needed.
func (d *Document) GetOrInsertArray(name string) (*Array, error) {
	b, err := d.root(name, KindArray, "")
	if err != nil {
		return nil, err
	}
	return b.shared().(*Array), nil
}

// GetOrInsertMap returns the root map registered under name, creating it if needed.
func (d *Document) GetOrInsertMap(name string) (*Map, error) {
	b, err := d.root(name, KindMap, "")
	if err != nil {
		return nil, err
	}
	return b.shared().(*Map), nil
}

// GetOrInsertXmlFragment returns the root markup fragment registered under name.
func (d *Document) GetOrInsertXmlFragment(name string) (*XmlFragment, error) {
	b, err := d.root(name, KindXmlFragment, "")
	if err != nil {
		return nil, err
	}
	return b.shared().(*XmlFragment), nil
}

// Roots enumerates the top-level containers. Roots known only from remote
// updates and never requested with a kind map to nil.
func (d *Document) Roots(txn ReadTxn) map[string]Shared {
	d.readable(txn)
	out := make(map[string]Shared, len(d.roots))
	for name, b := range d.roots {
		if b.kind == KindUndefined {
			out[name] = nil
			continue
		}
		out[name] = b.shared()
	}
	return out
}

// CreateTransaction opens the document's owned transaction.
func (d *Document) CreateTransaction() (*Transaction, error) {
	return d.CreateTransactionWithOrigin(Origin{})
}

// CreateTransactionWithOrigin opens the document's owned transaction tagged with origin.
func (d *Document) CreateTransactionWithOrigin(origin Origin) (*Transaction, error) {
	if d.txn != nil {
		return nil, ErrTransactionActive
	}
	t := newTransaction(d, origin)
	d.txn = t
	return t, nil
}

// Transact runs fn in a new transaction and commits it. The commit happens
// even when fn fails or panics, since mutations already made cannot be
// rolled back. A panic is propagated after the commit.
func (d *Document) Transact(fn func(*Transaction) error) error {
	return d.TransactWithOrigin(Origin{}, fn)
}

// TransactWithOrigin is Transact with an origin tag.
func (d *Document) TransactWithOrigin(origin Origin, fn func(*Transaction) error) error {
	t, err := d.CreateTransactionWithOrigin(origin)
	if err != nil {
		return err
	}
	defer t.Drop()
	fnErr := fn(t)
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return fnErr
}

// State returns the encoded state vector of everything integrated so far.
func (d *Document) State() []byte {
	return d.store.stateVector().Encode()
}

// Update encodes the history a peer with the given encoded state vector is
// missing. A nil or empty state vector requests the whole document.
func (d *Document) Update(stateVector []byte) ([]byte, error) {
	sv := StateVector{}
	if len(stateVector) > 0 {
		var err error
		sv, err = DecodeStateVector(stateVector)
		if err != nil {
			return nil, err
		}
	}
	u := d.encodeUpdate(sv, d.store.deleteSet())
	if len(d.pending) == 0 && d.pendingDeletes.empty() {
		return u.encode(), nil
	}
	p := newUpdate()
	for _, b := range d.pending {
		if b.id.Clock >= sv[b.id.Client] {
			p.groups[b.id.Client] = append(p.groups[b.id.Client], b)
		}
	}
	p.ds = d.pendingDeletes.clone()
	return mergeDecoded([]*update{u, p}).encode(), nil
}

// vet replays the document and b into a twin and runs the validator on it.
func (d *Document) vet(b []byte) error {
	current, err := d.Update(nil)
	if err != nil {
		return err
	}
	twin := NewDocument(&DocumentOptions{ClientID: d.clientID, GUID: d.guid, Logger: d.logger})
	err = twin.Transact(func(txn *Transaction) error {
		if err := twin.ApplyUpdate(txn, current); err != nil {
			return err
		}
		return twin.ApplyUpdate(txn, b)
	})
	if err != nil {
		return fmt.Errorf("twin: %w", err)
	}
	if err := d.validate(twin); err != nil {
		return fmt.Errorf("%w: %w", ErrRejectedUpdate, err)
	}
	return nil
}

// encodeUpdate collects integrated items above sv together with ds.
func (d *Document) encodeUpdate(sv StateVector, ds idSet) *update {
	u := newUpdate()
	for c, items := range d.store {
		from := sv[c]
		if from >= uint64(len(items)) {
			continue
		}
		g := make([]*block, 0, uint64(len(items))-from)
		for _, it := range items[from:] {
			g = append(g, blockOf(it))
		}
		u.groups[c] = g
	}
	u.ds = ds
	return u
}

// ApplyUpdate integrates a remote update within txn. Items already known are
// ignored; items whose dependencies are missing wait for a later update.
// With DocumentOptions.Validate set, an update that fails validation returns
// ErrRejectedUpdate and changes nothing.
func (d *Document) ApplyUpdate(txn *Transaction, b []byte) error {
	if err := txn.writable(d); err != nil {
		return err
	}
	u, err := decodeUpdate(b)
	if err != nil {
		return err
	}
	if d.validate != nil {
		if err := d.vet(b); err != nil {
			d.logger.Debug("update rejected", "guid", d.guid, "err", err)
			return err
		}
	}
	txn.applyUpdate(u)
	if d.metrics != nil {
		d.metrics.UpdatesApplied.Inc()
		d.metrics.UpdateBytes.Add(float64(len(b)))
		d.metrics.PendingStructs.Set(float64(len(d.pending)))
	}
	return nil
}

// Observe registers fn to run after every transaction that changed the document.
func (d *Document) Observe(fn func(*TransactionEvent)) *Subscription {
	return d.observers.add(fn)
}

// ObserveSubdocs registers fn to run when sub-documents are added, removed or loaded.
func (d *Document) ObserveSubdocs(fn func(*SubdocsEvent)) *Subscription {
	return d.subdocsObservers.add(fn)
}

// Load marks an embedded sub-document for loading within a transaction of
// its parent document.
func (d *Document) Load(parent *Transaction) error {
	if d.item == nil || d.item.parent == nil {
		return ErrNotEmbedded
	}
	if err := parent.writable(d.item.parent.doc); err != nil {
		return err
	}
	d.shouldLoad = true
	if c, ok := d.item.content.(*docContent); ok {
		c.shouldLoad = true
	}
	parent.subdocsLoaded[d.guid] = d
	return nil
}

// ShouldLoad reports whether the sub-document's content was requested.
func (d *Document) ShouldLoad() bool { return d.shouldLoad }

// Parent returns the document embedding d, or nil.
func (d *Document) Parent() *Document {
	if d.item == nil || d.item.parent == nil {
		return nil
	}
	return d.item.parent.doc
}

// Subdocs returns the live sub-documents ordered by GUID.
func (d *Document) Subdocs() []*Document {
	out := make([]*Document, 0, len(d.subdocs))
	for _, s := range d.subdocs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].guid < out[j].guid })
	return out
}

// readable checks that txn may be used to read d.
func (d *Document) readable(txn ReadTxn) *Transaction {
	t := txn.transaction()
	if t.doc != d {
		panic(ErrWrongDocument)
	}
	return t
}

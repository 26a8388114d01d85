package ydoc

import (
	"github.com/google/uuid"
)

// Origin tags a transaction so observers and undo managers can tell where a
// change came from. The zero Origin means untagged.
type Origin uuid.UUID

// NewOrigin returns a random origin.
func NewOrigin() Origin { return Origin(uuid.New()) }

// NamedOrigin derives a stable origin from a name, so independent components
// agree on the tag for e.g. "remote" or "import".
func NamedOrigin(name string) Origin {
	return Origin(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))
}

// IsZero reports whether the origin is untagged.
func (o Origin) IsZero() bool { return o == Origin{} }

func (o Origin) String() string { return uuid.UUID(o).String() }

// ReadTxn is a transaction that may be used for reads: either the owned
// *Transaction or the *ReadTransaction handed to observers.
type ReadTxn interface {
	Origin() Origin
	transaction() *Transaction
}

type txnPhase uint8

const (
	phaseOpen txnPhase = iota
	phaseCommitting
	phaseClosed
)

type changeSet struct {
	seq  bool
	keys map[string]struct{}
}

// Transaction is the owned, mutable transaction of a Document. Changes made
// through it are published to observers by Commit.
type Transaction struct {
	doc    *Document
	origin Origin
	phase  txnPhase

	beforeState StateVector
	afterState  StateVector
	deleteSet   idSet

	changed      map[*branch]*changeSet
	changedOrder []*branch
	// changedParents maps every ancestor of a changed container to the
	// events beneath it; filled during commit.
	changedParents map[*branch][]Event

	subdocsAdded   map[string]*Document
	subdocsRemoved map[string]*Document
	subdocsLoaded  map[string]*Document

	read *ReadTransaction
}

func newTransaction(d *Document, origin Origin) *Transaction {
	t := &Transaction{
		doc:            d,
		origin:         origin,
		beforeState:    d.store.stateVector(),
		deleteSet:      idSet{},
		changed:        map[*branch]*changeSet{},
		subdocsAdded:   map[string]*Document{},
		subdocsRemoved: map[string]*Document{},
		subdocsLoaded:  map[string]*Document{},
	}
	t.read = &ReadTransaction{t: t}
	return t
}

// Origin returns the tag the transaction was opened with.
func (t *Transaction) Origin() Origin { return t.origin }

// Document returns the document the transaction belongs to.
func (t *Transaction) Document() *Document { return t.doc }

func (t *Transaction) transaction() *Transaction {
	if t.phase == phaseClosed {
		panic(ErrTransactionClosed)
	}
	return t
}

// writable checks that t may mutate d.
func (t *Transaction) writable(d *Document) error {
	switch t.phase {
	case phaseCommitting:
		return ErrReadOnlyTransaction
	case phaseClosed:
		return ErrTransactionClosed
	}
	if t.doc != d {
		return ErrWrongDocument
	}
	return nil
}

// Commit publishes the transaction's changes to observers and releases the
// document for the next transaction. Observers receive a read-only view of
// the transaction; mutating through t while they run fails with
// ErrReadOnlyTransaction.
func (t *Transaction) Commit() error {
	switch t.phase {
	case phaseCommitting:
		return ErrReadOnlyTransaction
	case phaseClosed:
		return ErrTransactionClosed
	}
	t.phase = phaseCommitting
	d := t.doc
	defer func() {
		t.phase = phaseClosed
		t.read.t = nil
		if d.txn == t {
			d.txn = nil
		}
	}()

	t.afterState = d.store.stateVector()
	t.dispatchEvents()
	d.afterTransaction.trigger(t)

	changed := !t.deleteSet.empty() || !t.beforeState.Equal(t.afterState)
	if changed && !d.observers.empty() {
		ev := &TransactionEvent{
			BeforeState: t.beforeState.Encode(),
			AfterState:  t.afterState.Encode(),
			DeleteSet:   appendIDSet(nil, t.deleteSet),
			Update:      d.encodeUpdate(t.beforeState, t.deleteSet).encode(),
			txn:         t.read,
		}
		t.countObserverCalls("document", d.observers.trigger(ev))
	}
	if len(t.subdocsAdded)+len(t.subdocsRemoved)+len(t.subdocsLoaded) > 0 && !d.subdocsObservers.empty() {
		ev := &SubdocsEvent{
			Added:   sortedGUIDs(t.subdocsAdded),
			Removed: sortedGUIDs(t.subdocsRemoved),
			Loaded:  sortedGUIDs(t.subdocsLoaded),
		}
		t.countObserverCalls("subdocs", d.subdocsObservers.trigger(ev))
	}

	if d.metrics != nil {
		d.metrics.Transactions.Inc()
	}
	d.logger.Debug("transaction committed",
		"guid", d.guid,
		"origin", t.origin,
		"changed", len(t.changedOrder),
		"inserted", t.insertedCount(),
		"deleteSetClients", len(t.deleteSet.clients()))
	return nil
}

// Drop ends the transaction, committing it if it is still open.
func (t *Transaction) Drop() {
	if t.phase == phaseOpen {
		_ = t.Commit()
	}
}

func (t *Transaction) insertedCount() uint64 {
	var n uint64
	for c, after := range t.afterState {
		n += after - t.beforeState[c]
	}
	return n
}

func (t *Transaction) countObserverCalls(kind string, n int) {
	if t.doc.metrics != nil && n > 0 {
		t.doc.metrics.ObserverCalls.WithLabelValues(kind).Add(float64(n))
	}
}

// ReadTransaction is the read-only view of a transaction handed to
// observers. It is valid only until the callback returns; use afterwards
// panics with ErrTransactionClosed.
type ReadTransaction struct {
	t *Transaction
}

// Origin returns the origin of the underlying transaction.
func (r *ReadTransaction) Origin() Origin { return r.transaction().origin }

// Document returns the document being committed.
func (r *ReadTransaction) Document() *Document { return r.transaction().doc }

func (r *ReadTransaction) transaction() *Transaction {
	if r.t == nil {
		panic(ErrTransactionClosed)
	}
	return r.t
}

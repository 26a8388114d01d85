package ydoc

import "errors"

var (
	// ErrTransactionActive is returned when a document already has an owned transaction open.
	ErrTransactionActive = errors.New("already in a transaction")

	// ErrReadOnlyTransaction is returned when a mutation is attempted through a
	// transaction that is only borrowed, e.g. from inside an observer callback.
	ErrReadOnlyTransaction = errors.New("transaction is read-only")

	// ErrTransactionClosed is returned when a transaction is used after commit or drop.
	ErrTransactionClosed = errors.New("transaction closed")

	// ErrWrongDocument is returned when a container is used with a transaction
	// belonging to another document.
	ErrWrongDocument = errors.New("transaction belongs to a different document")

	// ErrIndexOutOfRange is returned for sequence positions beyond the current length.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrKeyNotFound is returned by map and attribute lookups of absent keys.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnsupportedValue is returned when a host value has no tagged representation.
	ErrUnsupportedValue = errors.New("type not supported")

	// ErrInvalidNesting is returned when markup nodes are inserted anywhere but
	// into an XmlFragment or XmlElement.
	ErrInvalidNesting = errors.New("invalid nesting")

	// ErrTypeMismatch is returned when a root is requested with a kind other
	// than the one it was registered with.
	ErrTypeMismatch = errors.New("root type mismatch")

	// ErrDecode is returned for malformed update or state vector bytes.
	ErrDecode = errors.New("cannot decode")

	// ErrTransactionUnavailable is returned by undo/redo when no transaction
	// could be acquired.
	ErrTransactionUnavailable = errors.New("transaction unavailable")

	// ErrNotEmbedded is returned when loading a document that is not a sub-document.
	ErrNotEmbedded = errors.New("document is not embedded")

	// ErrRejectedUpdate is returned by ApplyUpdate when the document's validator
	// refuses the state an update would produce.
	ErrRejectedUpdate = errors.New("update rejected")

	// ErrIntegrity is returned when an archived blob does not match its name.
	ErrIntegrity = errors.New("content does not match link")
)

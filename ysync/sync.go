// Package ysync frames documents for the y-protocol sync exchange: a peer
// sends its state vector (step 1), the other answers with the updates it is
// missing (step 2), and later changes travel as update messages. It also
// tracks awareness, the ephemeral per-client presence state.
//
// ysync only encodes and decodes messages; moving them between peers is up
// to the caller.
package ysync

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jrhy/ydoc"
)

// MessageType is the first byte of every protocol message.
type MessageType byte

const (
	MessageSync      MessageType = 0
	MessageAwareness MessageType = 1
)

// SyncMessageType is the second byte of a sync message.
type SyncMessageType byte

const (
	SyncStep1  SyncMessageType = 0
	SyncStep2  SyncMessageType = 1
	SyncUpdate SyncMessageType = 2
)

// RemoteOrigin tags transactions that apply updates received from peers.
var RemoteOrigin = ydoc.NamedOrigin("ysync.remote")

var emptyUpdate = []byte{0, 0}

// WriteVarUint encodes n as an unsigned LEB128 varint.
func WriteVarUint(n uint64) []byte {
	return protowire.AppendVarint(nil, n)
}

func createMessage(data []byte, t SyncMessageType) []byte {
	buf := []byte{byte(MessageSync), byte(t)}
	return protowire.AppendBytes(buf, data)
}

// CreateSyncStep1 wraps an encoded state vector.
func CreateSyncStep1(stateVector []byte) []byte {
	return createMessage(stateVector, SyncStep1)
}

// CreateSyncStep2 wraps the update answering a step 1.
func CreateSyncStep2(update []byte) []byte {
	return createMessage(update, SyncStep2)
}

// CreateUpdateMessage wraps an incremental update.
func CreateUpdateMessage(update []byte) []byte {
	return createMessage(update, SyncUpdate)
}

// CreateSyncMessage starts a sync with doc's current state.
func CreateSyncMessage(doc *ydoc.Document) []byte {
	return CreateSyncStep1(doc.State())
}

// HandleSyncMessage processes a sync message without its leading
// MessageSync byte. A step 1 is answered with the step 2 to send back;
// step 2 and update messages are applied to doc and produce no reply.
func HandleSyncMessage(message []byte, doc *ydoc.Document) ([]byte, error) {
	if len(message) == 0 {
		return nil, ErrProtocol
	}
	payload, err := NewDecoder(message[1:]).ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("sync message: %w", err)
	}
	switch SyncMessageType(message[0]) {
	case SyncStep1:
		update, err := doc.Update(payload)
		if err != nil {
			return nil, fmt.Errorf("step 1: %w", err)
		}
		return CreateSyncStep2(update), nil
	case SyncStep2, SyncUpdate:
		if bytes.Equal(payload, emptyUpdate) {
			return nil, nil
		}
		err := doc.TransactWithOrigin(RemoteOrigin, func(txn *ydoc.Transaction) error {
			return doc.ApplyUpdate(txn, payload)
		})
		if err != nil {
			return nil, fmt.Errorf("apply: %w", err)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: sync message type %d", ErrProtocol, message[0])
}

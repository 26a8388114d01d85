package ysync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrhy/ydoc"
)

type envelope struct {
	msg      []byte
	from, to *peer
}

// network delivers messages in order once the sending transaction finished.
type network struct {
	queue []envelope
}

type peer struct {
	net       *network
	doc       *ydoc.Document
	connected []*peer
}

func newPeer(t *testing.T, net *network, client uint64) *peer {
	p := &peer{net: net, doc: ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: client})}
	p.doc.Observe(func(ev *ydoc.TransactionEvent) {
		for _, c := range p.connected {
			net.queue = append(net.queue, envelope{CreateUpdateMessage(ev.Update), p, c})
		}
	})
	return p
}

func (p *peer) connect(others ...*peer) {
	p.connected = append(p.connected, others...)
	for _, o := range others {
		p.net.queue = append(p.net.queue, envelope{CreateSyncMessage(p.doc), p, o})
	}
}

func (n *network) run(t *testing.T) {
	for len(n.queue) > 0 {
		e := n.queue[0]
		n.queue = n.queue[1:]
		require.Equal(t, byte(MessageSync), e.msg[0])
		reply, err := HandleSyncMessage(e.msg[1:], e.to.doc)
		require.NoError(t, err)
		if reply != nil {
			n.queue = append(n.queue, envelope{reply, e.to, e.from})
		}
	}
}

func push(t *testing.T, p *peer, v any) {
	a, err := p.doc.GetOrInsertArray("array")
	require.NoError(t, err)
	require.NoError(t, p.doc.Transact(func(txn *ydoc.Transaction) error {
		return a.Push(txn, v)
	}))
}

func contents(t *testing.T, p *peer) []any {
	a, err := p.doc.GetOrInsertArray("array")
	require.NoError(t, err)
	var out []any
	require.NoError(t, p.doc.Transact(func(txn *ydoc.Transaction) error {
		out = a.ToJSON(txn)
		return nil
	}))
	return out
}

func TestSync(t *testing.T) {
	net := &network{}
	doc0 := newPeer(t, net, 100)
	doc1 := newPeer(t, net, 101)
	doc0.connect(doc1)
	doc1.connect(doc0)
	net.run(t)

	push(t, doc0, 0)
	net.run(t)
	assert.Equal(t, []any{0.0}, contents(t, doc1))

	// doc2 reaches doc1 only through doc0
	doc2 := newPeer(t, net, 102)
	doc2.connect(doc0)
	doc0.connect(doc2)
	net.run(t)
	assert.Equal(t, []any{0.0}, contents(t, doc2))

	push(t, doc2, 1)
	net.run(t)
	assert.Equal(t, []any{0.0, 1.0}, contents(t, doc0))
	assert.Equal(t, []any{0.0, 1.0}, contents(t, doc1))
}

func TestEmptyUpdateIgnored(t *testing.T) {
	doc := ydoc.NewDocument(nil)
	fired := 0
	doc.Observe(func(*ydoc.TransactionEvent) { fired++ })
	reply, err := HandleSyncMessage(CreateUpdateMessage([]byte{0, 0})[1:], doc)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Zero(t, fired)
}

func TestStep1Reply(t *testing.T) {
	doc := ydoc.NewDocument(nil)
	msg := CreateSyncMessage(doc)
	assert.Equal(t, []byte{0, 0, 1, 0}, msg)

	reply, err := HandleSyncMessage(msg[1:], doc)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(MessageSync), byte(SyncStep2), 2, 0, 0}, reply)
}

func TestHandleMalformed(t *testing.T) {
	doc := ydoc.NewDocument(nil)
	_, err := HandleSyncMessage(nil, doc)
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = HandleSyncMessage([]byte{9, 0}, doc)
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = HandleSyncMessage([]byte{byte(SyncUpdate), 3, 1, 2, 3}, doc)
	assert.ErrorIs(t, err, ydoc.ErrDecode)
}

func TestWriteVarUint(t *testing.T) {
	assert.Equal(t, []byte{0x80, 0x01}, WriteVarUint(128))
}

func TestDecoder(t *testing.T) {
	_, err := NewDecoder(nil).ReadVarUint()
	assert.EqualError(t, err, "Y protocol error")

	collect := func(b []byte) [][]byte {
		var out [][]byte
		for m, err := range NewDecoder(b).Messages() {
			require.NoError(t, err)
			out = append(out, m)
		}
		return out
	}
	assert.Empty(t, collect(nil))
	assert.Equal(t, [][]byte{{}}, collect([]byte{0}))

	s, err := NewDecoder(nil).ReadVarString()
	require.NoError(t, err)
	assert.Equal(t, "", s)
	s, err = NewDecoder([]byte("\x05Hello")).ReadVarString()
	require.NoError(t, err)
	assert.Equal(t, "Hello", s)

	_, err = NewDecoder([]byte{5, 'a'}).ReadMessage()
	assert.ErrorIs(t, err, ErrProtocol)
}

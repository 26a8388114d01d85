package ysync

import (
	"errors"
	"io"
	"iter"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrProtocol is returned for truncated or malformed messages.
var ErrProtocol = errors.New("Y protocol error")

// Decoder reads varints and length-prefixed messages from a buffer.
type Decoder struct {
	buf []byte
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

func (d *Decoder) ReadVarUint() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		return 0, ErrProtocol
	}
	d.buf = d.buf[n:]
	return v, nil
}

// ReadMessage returns the next length-prefixed message, or io.EOF once the
// buffer is exhausted.
func (d *Decoder) ReadMessage() ([]byte, error) {
	if len(d.buf) == 0 {
		return nil, io.EOF
	}
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		return nil, ErrProtocol
	}
	d.buf = d.buf[n:]
	return v, nil
}

// Messages yields the remaining messages, stopping at the first error.
func (d *Decoder) Messages() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			m, err := d.ReadMessage()
			if err == io.EOF {
				return
			}
			if !yield(m, err) || err != nil {
				return
			}
		}
	}
}

// ReadVarString reads a length-prefixed UTF-8 string; an exhausted buffer
// reads as "".
func (d *Decoder) ReadVarString() (string, error) {
	m, err := d.ReadMessage()
	if err == io.EOF {
		return "", nil
	}
	return string(m), err
}

package ydoc

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

type inMemoryStore struct {
	entries map[string][]byte
	l       sync.Mutex
}

// NewInMemoryStore provides a Persist that keeps blobs in a map, usually for
// testing.
func NewInMemoryStore() Persist {
	return &inMemoryStore{}
}

func (ims *inMemoryStore) Store(ctx context.Context, name string, value []byte) error {
	ims.l.Lock()
	defer ims.l.Unlock()
	if ims.entries == nil {
		ims.entries = map[string][]byte{}
	}
	ims.entries[name] = append([]byte(nil), value...)
	return nil
}

func (ims *inMemoryStore) Load(ctx context.Context, name string) ([]byte, error) {
	ims.l.Lock()
	value, ok := ims.entries[name]
	ims.l.Unlock()
	if !ok {
		return nil, fmt.Errorf("in-memory blob %s: %w", name, fs.ErrNotExist)
	}
	return value, nil
}

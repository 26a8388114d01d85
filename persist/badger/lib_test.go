package badger

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Persist {
	t.Helper()
	p, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestStoreLoad(t *testing.T) {
	ctx := context.Background()
	p := openTest(t)

	require.NoError(t, p.Store(ctx, "a", []byte("alpha")))
	b, err := p.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), b)

	require.NoError(t, p.Store(ctx, "a", []byte("other")))
	b, err = p.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), b, "names are immutable")
}

func TestLoadMissing(t *testing.T) {
	_, err := openTest(t).Load(context.Background(), "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, p.Store(ctx, "k", []byte("v")))
	require.NoError(t, p.Close())

	p, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer p.Close()
	b, err := p.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), b)
}

func TestPathRequired(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

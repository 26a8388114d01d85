package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Persist implements the ydoc.Persist interface for storing and loading
// blobs as files in a directory.
type Persist struct {
	basepath string
}

// Load loads the bytes persisted in the named file.
func (p Persist) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(p.basepath, name))
}

// Store persists the given bytes in a file of the given name, if it
// doesn't exist already. The file appears atomically.
func (p Persist) Store(ctx context.Context, name string, bytes []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(p.basepath, name)
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	tmp, err := os.CreateTemp(p.basepath, ".tmp-"+name+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(bytes); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// NewPersistForPath returns a Persist that loads and stores blobs as
// files in the directory at the given path, creating it if needed.
//
//	p, err := NewPersistForPath("/var/db/ydoc")
//	blob, err := p.Load(ctx, "mQ2cN1f3O1Jr0d0Zq3rX2l0b2yF3i9d5oQv6w8m7YpA")
func NewPersistForPath(path string) (Persist, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Persist{}, err
	}
	return Persist{path}, nil
}

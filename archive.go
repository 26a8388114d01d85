package ydoc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minio/blake2b-simd"
)

// Persist is the interface for loading and storing archived blobs. A name
// always refers to the same immutable content.
type Persist interface {
	// Store makes the given bytes accessible by the given name.
	Store(context.Context, string, []byte) error
	// Load retrieves the previously-stored bytes by the given name.
	Load(context.Context, string) ([]byte, error)
}

// ArchiveConfig controls where an Archive keeps its blobs.
type ArchiveConfig struct {
	// StoreImmutablePartsWith stores and loads update blobs and checkpoints.
	StoreImmutablePartsWith Persist

	// BlobCache caches loaded blobs and remembers which were already stored.
	// It may be shared by archives over the same Persist.
	BlobCache BlobCache

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Archive stores document updates as content-addressed blobs: the name of a
// blob is the base64url blake2b-256 hash of its bytes.
type Archive struct {
	persist Persist
	cache   BlobCache
	logger  *slog.Logger
}

// Checkpoint identifies a version of a document whose history is accessible
// in an archive: applying the linked updates in order reproduces it.
type Checkpoint struct {
	GUID        string   `json:"guid"`
	Links       []string `json:"links"`
	StateVector []byte   `json:"stateVector"`
}

// NewArchive creates an archive over cfg.StoreImmutablePartsWith.
func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	if cfg.StoreImmutablePartsWith == nil {
		return nil, errors.New("archive needs a Persist")
	}
	a := &Archive{persist: cfg.StoreImmutablePartsWith, cache: cfg.BlobCache, logger: cfg.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

func linkOf(b []byte) string {
	sum := blake2b.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Put stores blob and returns its link.
func (a *Archive) Put(ctx context.Context, blob []byte) (string, error) {
	link := linkOf(blob)
	if a.cache != nil && a.cache.Contains(link) {
		return link, nil
	}
	if err := a.persist.Store(ctx, link, blob); err != nil {
		return "", fmt.Errorf("persist store: %w", err)
	}
	if a.cache != nil {
		a.cache.Add(link, blob)
	}
	a.logger.Debug("archived blob", "link", link, "bytes", len(blob))
	return link, nil
}

// Get loads the blob named link and verifies it against the link.
func (a *Archive) Get(ctx context.Context, link string) ([]byte, error) {
	if a.cache != nil {
		if v, ok := a.cache.Get(link); ok {
			return v.([]byte), nil
		}
	}
	blob, err := a.persist.Load(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("persist load %s: %w", link, err)
	}
	if linkOf(blob) != link {
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, link)
	}
	if a.cache != nil {
		a.cache.Add(link, blob)
	}
	return blob, nil
}

// Save archives what doc holds beyond prev and returns the checkpoint of the
// document's current state. prev may be nil to archive everything.
func (a *Archive) Save(ctx context.Context, doc *Document, prev *Checkpoint) (*Checkpoint, error) {
	cp := &Checkpoint{GUID: doc.GUID()}
	var sv []byte
	if prev != nil {
		if prev.GUID != cp.GUID {
			return nil, fmt.Errorf("checkpoint of %s cannot extend %s", prev.GUID, cp.GUID)
		}
		cp.Links = append(cp.Links, prev.Links...)
		sv = prev.StateVector
	}
	update, err := doc.Update(sv)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	link, err := a.Put(ctx, update)
	if err != nil {
		return nil, err
	}
	if len(cp.Links) == 0 || cp.Links[len(cp.Links)-1] != link {
		cp.Links = append(cp.Links, link)
	}
	cp.StateVector = doc.State()
	return cp, nil
}

// Restore applies the updates of cp within txn.
func (a *Archive) Restore(ctx context.Context, cp *Checkpoint, txn *Transaction) error {
	for _, link := range cp.Links {
		update, err := a.Get(ctx, link)
		if err != nil {
			return err
		}
		if err := txn.Document().ApplyUpdate(txn, update); err != nil {
			return fmt.Errorf("apply %s: %w", link, err)
		}
	}
	return nil
}

// Compact merges the updates of cp into a single blob and returns the
// equivalent checkpoint linking only that blob.
func (a *Archive) Compact(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	updates := make([][]byte, 0, len(cp.Links))
	for _, link := range cp.Links {
		update, err := a.Get(ctx, link)
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	merged, err := MergeUpdates(updates...)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	link, err := a.Put(ctx, merged)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("compacted checkpoint", "guid", cp.GUID, "links", len(cp.Links))
	return &Checkpoint{GUID: cp.GUID, Links: []string{link}, StateVector: cp.StateVector}, nil
}

// PutCheckpoint stores cp itself and returns its link.
func (a *Archive) PutCheckpoint(ctx context.Context, cp *Checkpoint) (string, error) {
	b, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return a.Put(ctx, b)
}

// GetCheckpoint loads a checkpoint stored with PutCheckpoint.
func (a *Archive) GetCheckpoint(ctx context.Context, link string) (*Checkpoint, error) {
	b, err := a.Get(ctx, link)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", link, err)
	}
	return &cp, nil
}

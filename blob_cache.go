package ydoc

import lru "github.com/hashicorp/golang-lru"

// BlobCache caches archived blobs by link. It is also used to avoid storing
// a blob twice, so a cache should not outlive a switch to another Persist.
type BlobCache interface {
	// Add records a blob that was stored or loaded.
	Add(key, value interface{})
	// Contains indicates the blob with the given link was already stored.
	Contains(key interface{}) bool
	// Get returns the cached blob with the given link.
	Get(key interface{}) (value interface{}, ok bool)
}

// NewBlobCache creates an adaptive replacement cache of the given number of
// blobs.
func NewBlobCache(size int) BlobCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}

package truth

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BufferHandle is the opaque 32-bit handle a Buffer Store hands back for
// an immutable byte blob.
type BufferHandle uint32

type bufferEntry struct {
	data     []byte
	hash     uint64
	refcount int32
}

// bufferLookupCacheSize bounds the hash->handle dedup cache so a long
// session streaming many one-off buffers doesn't grow it unboundedly;
// entries falling out of the cache just mean the next add() with the same
// hash allocates a fresh handle instead of reusing one, which is
// correctness-neutral.
const bufferLookupCacheSize = 8192

// Buffers is the external Buffer Store collaborator: opaque immutable
// byte blobs referenced by a reference-counted handle. The Store takes
// over the single reference handed to it by Add's caller.
type Buffers struct {
	mu      sync.Mutex
	entries map[BufferHandle]*bufferEntry
	next    BufferHandle
	byHash  *lru.Cache[uint64, BufferHandle]
}

// NewBuffers builds an empty Buffers store.
func NewBuffers() *Buffers {
	cache, _ := lru.New[uint64, BufferHandle](bufferLookupCacheSize)
	return &Buffers{entries: make(map[BufferHandle]*bufferEntry), byHash: cache}
}

// Add stores data under hash (computed by the caller, e.g. a content
// hash) and returns a handle holding the single reference the caller is
// transferring to the store. If hash already has a live entry, its
// handle is retained and returned instead of storing a duplicate.
func (b *Buffers) Add(data []byte, hash uint64) BufferHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.byHash.Get(hash); ok {
		if e, ok := b.entries[existing]; ok {
			e.refcount++
			return existing
		}
	}
	b.next++
	h := b.next
	b.entries[h] = &bufferEntry{data: data, hash: hash, refcount: 1}
	b.byHash.Add(hash, h)
	return h
}

// Retain increments h's reference count.
func (b *Buffers) Retain(h BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[h]; ok {
		e.refcount++
	}
}

// Release decrements h's reference count, freeing the blob once it
// reaches zero.
func (b *Buffers) Release(h BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[h]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(b.entries, h)
	}
}

// Get returns h's bytes and content hash, or ok=false if h is unknown or
// already released.
func (b *Buffers) Get(h BufferHandle) (data []byte, hash uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[h]
	if !ok {
		return nil, 0, false
	}
	return e.data, e.hash, true
}

// Lookup returns the handle already holding hash's content, if any.
func (b *Buffers) Lookup(hash uint64) (BufferHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.byHash.Get(hash)
	if !ok {
		return 0, false
	}
	if _, live := b.entries[h]; !live {
		return 0, false
	}
	return h, true
}

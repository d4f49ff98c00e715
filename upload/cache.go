// Package upload defines the content-cache collaborator that lets the
// Gemini dialect reference identical image bytes by URI instead of
// re-sending them, plus the per-content-hash locking that keeps
// concurrent batch items from uploading the same bytes twice.
package upload

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// ContentCache is the external upload cache contract. Implementations
// (Files API, object storage) return a URI for the given bytes, uploading
// only when the content was not seen before. An empty URI with nil error
// means the cache declined and the caller should inline the bytes.
type ContentCache interface {
	GetOrUpload(ctx context.Context, data []byte, filename, mime string) (string, error)
}

// ContentHash returns the hex digest used to key upload deduplication.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyedLock is a bounded table of per-key mutexes. Locks on disjoint keys
// never contend; the table evicts least-recently-used idle entries so a
// long-running process does not accumulate one mutex per hash ever seen.
type KeyedLock struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*lockEntry
}

type lockEntry struct {
	key  string
	mu   sync.Mutex
	refs int
	elem *list.Element
}

// NewKeyedLock creates a lock table bounded to maxSize idle entries.
func NewKeyedLock(maxSize int) *KeyedLock {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &KeyedLock{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*lockEntry),
	}
}

// Lock acquires the mutex for key and returns its unlock function.
func (l *KeyedLock) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{key: key}
		e.elem = l.order.PushFront(e)
		l.entries[key] = e
		l.evictIdle()
	} else {
		l.order.MoveToFront(e.elem)
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		l.mu.Unlock()
	}
}

// evictIdle drops least-recently-used entries nobody holds or waits on.
// Caller holds l.mu.
func (l *KeyedLock) evictIdle() {
	for len(l.entries) > l.maxSize {
		elem := l.order.Back()
		if elem == nil {
			return
		}
		e := elem.Value.(*lockEntry)
		if e.refs > 0 {
			// Oldest entry is busy; give up rather than scan the list.
			return
		}
		l.order.Remove(elem)
		delete(l.entries, e.key)
	}
}

// Len returns the number of tracked entries.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// LockedCache wraps a ContentCache with per-content-hash locking so
// concurrent requests for identical bytes collapse into one upload.
type LockedCache struct {
	inner ContentCache
	locks *KeyedLock
}

// NewLockedCache wraps inner with a lock table of the given bound.
func NewLockedCache(inner ContentCache, maxLocks int) *LockedCache {
	return &LockedCache{inner: inner, locks: NewKeyedLock(maxLocks)}
}

// GetOrUpload serializes callers holding identical bytes, then delegates.
func (c *LockedCache) GetOrUpload(ctx context.Context, data []byte, filename, mime string) (string, error) {
	unlock := c.locks.Lock(ContentHash(data))
	defer unlock()
	return c.inner.GetOrUpload(ctx, data, filename, mime)
}

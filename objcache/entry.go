package objcache

import (
	"context"

	"github.com/google/uuid"

	"keeperd/tlock"
)

// Entry pairs a cached value with the thread-level lock coordinating access
// to it. Its acquire operations are LockExclusive and LockShared; callers
// obtain a tlock.Lock handle and release it by passing that same handle to
// Unlock, exactly as tlock itself expects.
type Entry struct {
	key        string
	value      interface{}
	slot       *tlock.Slot
	generation uuid.UUID
}

func newEntry(key string, value interface{}) *Entry {
	return &Entry{
		key:        key,
		value:      value,
		slot:       tlock.NewSlot(),
		generation: uuid.New(),
	}
}

// Key returns the entry's cache key.
func (e *Entry) Key() string { return e.key }

// Value returns the cached object. It is the caller's responsibility to
// hold a lock (of the appropriate mode) around any access that requires it.
func (e *Entry) Value() interface{} { return e.value }

// Generation identifies this particular cache incarnation of Key. If the
// entry is evicted and the key is later looked up again, the new Entry
// carries a different Generation, letting a caller that cached an *Entry
// across a yield point detect that it is now stale.
func (e *Entry) Generation() uuid.UUID { return e.generation }

// LockExclusive acquires the entry's slot exclusively.
func (e *Entry) LockExclusive(ctx context.Context) (*tlock.Lock, error) {
	return e.slot.AcquireExclusive(ctx)
}

// LockShared acquires the entry's slot in shared mode, coalescing onto an
// existing shared holder if one is already installed.
func (e *Entry) LockShared(ctx context.Context) (*tlock.Lock, error) {
	return e.slot.AcquireShared(ctx)
}

// Unlock releases a handle previously returned by LockExclusive/LockShared.
func (e *Entry) Unlock(l *tlock.Lock) error {
	return e.slot.Release(l)
}

func (e *Entry) idle() bool {
	return e.slot.IsIdle()
}

package locking

import (
	"context"
	"sync"

	"keeperd/lockcore"
)

// LockHolder is an actor that may hold many resources at once but waits on
// at most one at a time (spec.md §4.4). It participates in the process-wide
// wait-for graph via its Manager.
type LockHolder struct {
	id  HolderID
	mgr *Manager

	mu        sync.Mutex
	held      map[string]*LockedResource
	waitingOn *LockedResource
}

func newLockHolder(id HolderID, mgr *Manager) *LockHolder {
	return &LockHolder{
		id:   id,
		mgr:  mgr,
		held: make(map[string]*LockedResource),
	}
}

// ID returns the holder's identity.
func (h *LockHolder) ID() HolderID {
	return h.id
}

// AcquireExclusive acquires key in exclusive mode, blocking until granted,
// aborted (context cancellation or a deadlock-detector victim selection), or
// recognized as a no-op (h already holds key exclusively).
func (h *LockHolder) AcquireExclusive(ctx context.Context, key string) error {
	return h.acquire(ctx, key, lockcore.Exclusive)
}

// AcquireShared acquires key in shared mode; a no-op if h is already present
// in key's holder set.
func (h *LockHolder) AcquireShared(ctx context.Context, key string) error {
	return h.acquire(ctx, key, lockcore.Shared)
}

func (h *LockHolder) acquire(ctx context.Context, key string, mode lockcore.LockMode) error {
	key, err := ValidateResourceKey(key)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.waitingOn != nil {
		h.mu.Unlock()
		return ErrDoubleAcquire
	}
	resource, already := h.held[key]
	h.mu.Unlock()

	if resource == nil {
		resource = h.mgr.resourceFor(key)
	}

	if already {
		if mode == lockcore.Shared {
			// acquire_shared is a no-op for an existing shared holder.
			return nil
		}
		if snap := resource.Snapshot(); snap.ExclusiveHolder != nil && *snap.ExclusiveHolder == h.id {
			// acquire_exclusive is a no-op for the current exclusive holder.
			return nil
		}
		// Already a shared holder requesting exclusive: falls through to
		// enqueue an upgrade ticket below, handled by attemptAdmit.
	}

	h.mu.Lock()
	h.waitingOn = resource
	h.mu.Unlock()

	resource.enqueue(h.id, mode)
	h.mgr.graph.setWaiting(h.id, key)
	h.mgr.bumpQueued()

	defer func() {
		h.mu.Lock()
		h.waitingOn = nil
		h.mu.Unlock()
		h.mgr.graph.clearWaiting(h.id)
	}()

	for {
		granted, removed, waitCh := resource.attemptAdmit(h.id)
		if removed {
			return ErrDeadlockVictim
		}
		if granted {
			h.mu.Lock()
			h.held[key] = resource
			h.mu.Unlock()
			h.mgr.bumpGranted()
			return nil
		}

		select {
		case <-waitCh:
		case <-ctx.Done():
			if resource.cancelWaiting(h.id) {
				h.mgr.maybeEvict(resource)
			}
			return ctx.Err()
		}
	}
}

// Release releases key, if held, and runs the resource's eviction check.
func (h *LockHolder) Release(key string) error {
	h.mu.Lock()
	resource, ok := h.held[key]
	if ok {
		delete(h.held, key)
	}
	h.mu.Unlock()

	if !ok {
		return ErrNotHeld
	}

	resource.release(h.id)
	h.mgr.maybeEvict(resource)
	return nil
}

// Abort cancels h's in-flight acquire, if any: its queued ticket is removed
// and the wait-for graph edge is cleared. The blocked acquire call (in
// whichever goroutine issued it) returns ErrDeadlockVictim, the lock-layer
// outcome being indistinguishable from a detector-initiated abort.
func (h *LockHolder) Abort() {
	h.mu.Lock()
	resource := h.waitingOn
	h.mu.Unlock()

	if resource == nil {
		return
	}
	if resource.cancelWaiting(h.id) {
		h.mgr.maybeEvict(resource)
	}
}

// ReleaseAll cancels any in-flight wait and releases every resource h holds,
// returning the set of affected resource keys so the caller can notify
// successors on each via LockedResource.HoldersToNotify.
func (h *LockHolder) ReleaseAll() []string {
	h.mu.Lock()
	waiting := h.waitingOn
	held := h.held
	h.held = make(map[string]*LockedResource)
	h.mu.Unlock()

	if waiting != nil {
		if waiting.cancelWaiting(h.id) {
			h.mgr.maybeEvict(waiting)
		}
	}
	h.mgr.graph.clearWaiting(h.id)

	affected := make([]string, 0, len(held))
	for key, resource := range held {
		resource.release(h.id)
		h.mgr.maybeEvict(resource)
		affected = append(affected, key)
	}
	return affected
}

// Idle reports whether h currently holds nothing and is not waiting on
// anything, making it safe for a caller (e.g. httpserver) to Forget.
func (h *LockHolder) Idle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.held) == 0 && h.waitingOn == nil
}

// HasLock reports whether h currently holds key in the given mode.
func (h *LockHolder) HasLock(key string, mode lockcore.LockMode) bool {
	h.mu.Lock()
	resource, ok := h.held[key]
	h.mu.Unlock()
	if !ok {
		return false
	}

	snap := resource.Snapshot()
	if mode == lockcore.Exclusive {
		return snap.ExclusiveHolder != nil && *snap.ExclusiveHolder == h.id
	}
	for _, hh := range snap.Holders {
		if hh == h.id {
			return snap.ExclusiveHolder == nil
		}
	}
	return false
}

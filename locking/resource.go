package locking

import (
	"sort"
	"sync"

	"keeperd/lockcore"
)

// LockedResource is the per-resource lock state: the current holder set, an
// exclusive-holder slot, a FIFO queue of pending tickets, and a broadcast
// channel standing in for the "lock_released" event of spec.md §4.6. It is
// the transaction-level counterpart of tlock.Lock's single slot.
//
// Invariants (maintained by every mutation; not asserted at runtime):
//   - exclusiveHolder set implies holders == {*exclusiveHolder}.
//   - a holder appears at most once across holders and the queue, except
//     transiently during its own upgrade.
type LockedResource struct {
	mu sync.Mutex

	key             string
	queue           *lockcore.TicketQueue
	holders         map[HolderID]struct{}
	exclusiveHolder *HolderID
	notifyCh        chan struct{}

	// onEmpty is the eviction callback supplied by the owner. LockedResource
	// itself never invokes it: release and cancelWaiting only report whether
	// both holders and the queue became empty, and their callers run the
	// Manager's eviction check.
	onEmpty func()
}

func newLockedResource(key string, onEmpty func()) *LockedResource {
	return &LockedResource{
		key:      key,
		queue:    lockcore.NewTicketQueue(),
		holders:  make(map[HolderID]struct{}),
		notifyCh: make(chan struct{}),
		onEmpty:  onEmpty,
	}
}

// Key returns the resource's key.
func (r *LockedResource) Key() string {
	return r.key
}

// broadcastLocked wakes every current waiter. Called with mu held.
func (r *LockedResource) broadcastLocked() {
	close(r.notifyCh)
	r.notifyCh = make(chan struct{})
}

// enqueue appends a ticket for holder in the given mode.
func (r *LockedResource) enqueue(holder HolderID, mode lockcore.LockMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue.Enqueue(holder.String(), mode)
}

// attemptAdmit is the admission decision of spec.md §4.4 ("try_acquire"). It
// is evaluated and applied atomically under r.mu, and returns the resource's
// current notify channel in the same critical section so a caller can
// select on it without a lost-wakeup window between checking admission and
// waiting for the next state change.
func (r *LockedResource) attemptAdmit(holder HolderID) (granted bool, removed bool, waitCh <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waitCh = r.notifyCh

	ticket, queued := r.queue.Get(holder.String())
	if !queued {
		// The ticket is gone. If we are the exclusive holder, a previous
		// call already admitted it (re-entrant check). Otherwise it was
		// removed out from under us by Abort or a deadlock-detector victim
		// abort, including an aborted upgrade where we still hold the
		// resource shared.
		granted = r.exclusiveHolder != nil && *r.exclusiveHolder == holder
		removed = !granted
		return
	}

	front := r.queue.Peek()
	assertInvariant(front != nil, "ticket queued but queue reports no front")

	if front.Holder == holder.String() {
		if r.exclusiveHolder != nil {
			if *r.exclusiveHolder == holder {
				// Idempotent re-entry by the current exclusive holder.
				r.queue.Dequeue()
				granted = true
				r.broadcastLocked()
			}
			return
		}

		if len(r.holders) > 0 {
			// Only shared holders are present.
			if front.Mode == lockcore.Shared {
				r.holders[holder] = struct{}{}
				r.queue.Dequeue()
				granted = true
				r.broadcastLocked()
				return
			}
			if _, sole := r.holders[holder]; sole && len(r.holders) == 1 {
				// Upgrade: we are the sole shared holder holding the front
				// exclusive ticket.
				r.setExclusiveLocked(holder)
				r.queue.Dequeue()
				granted = true
				r.broadcastLocked()
			}
			return
		}

		// No holders at all.
		if front.Mode == lockcore.Exclusive {
			r.setExclusiveLocked(holder)
		} else {
			r.holders[holder] = struct{}{}
		}
		r.queue.Dequeue()
		granted = true
		r.broadcastLocked()
		return
	}

	// Our ticket is not at the front. One unfair exception: if the
	// resource currently has only shared holders, we are the sole one, and
	// our queued ticket is EXCLUSIVE, skip the queue and upgrade in place.
	// Without this, an unrelated holder ahead of us waiting on this same
	// resource would wait for us to release while we wait for it to pop —
	// a hidden deadlock the graph-level detector would not see until its
	// next sweep.
	if ticket.Mode == lockcore.Exclusive && r.exclusiveHolder == nil && len(r.holders) == 1 {
		if _, sole := r.holders[holder]; sole {
			r.queue.Cancel(holder.String())
			r.setExclusiveLocked(holder)
			granted = true
			r.broadcastLocked()
		}
	}

	return
}

func (r *LockedResource) setExclusiveLocked(holder HolderID) {
	h := holder
	r.exclusiveHolder = &h
	r.holders = map[HolderID]struct{}{holder: {}}
}

// cancelWaiting removes holder's queued ticket, if any, and wakes waiters so
// they can reconsider the (now-shorter) queue. Returns whether the resource
// became idle as a result.
func (r *LockedResource) cancelWaiting(holder HolderID) (becameEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue.Cancel(holder.String()) {
		r.broadcastLocked()
	}
	return len(r.holders) == 0 && r.queue.Len() == 0
}

// release drops holder from the holder set (and clears the exclusive slot
// if it was the exclusive holder), then wakes waiters.
func (r *LockedResource) release(holder HolderID) (becameEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exclusiveHolder != nil && *r.exclusiveHolder == holder {
		r.exclusiveHolder = nil
	}
	delete(r.holders, holder)
	r.broadcastLocked()
	return len(r.holders) == 0 && r.queue.Len() == 0
}

// HoldersToNotify is the pure wake-up policy of spec.md §4.3: a caller
// invokes it after a release to decide which holders to resume.
func (r *LockedResource) HoldersToNotify() []HolderID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holdersToNotifyLocked()
}

func (r *LockedResource) holdersToNotifyLocked() []HolderID {
	if len(r.holders) == 0 {
		head := r.queue.Peek()
		if head == nil {
			return nil
		}
		if head.Mode == lockcore.Exclusive {
			return []HolderID{holderIDFromString(head.Holder)}
		}
		prefix := r.queue.SharedPrefix()
		out := make([]HolderID, 0, len(prefix))
		for _, t := range prefix {
			out = append(out, holderIDFromString(t.Holder))
		}
		return out
	}

	if len(r.holders) == 1 && r.exclusiveHolder == nil {
		var sole HolderID
		for h := range r.holders {
			sole = h
		}
		if ticket, ok := r.queue.Get(sole.String()); ok && ticket.Mode == lockcore.Exclusive {
			return []HolderID{sole}
		}
	}

	return nil
}

// holdersSnapshot returns the current holder set, used by the wait-for
// graph to derive edges from a waiting holder to each current holder.
func (r *LockedResource) holdersSnapshot() []HolderID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HolderID, 0, len(r.holders))
	for h := range r.holders {
		out = append(out, h)
	}
	return out
}

func (r *LockedResource) isIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders) == 0 && r.queue.Len() == 0
}

// ResourceSnapshot is a point-in-time view of a resource's lock state, used
// for diagnostics (Manager.Inspect, the /debug/locks HTTP endpoint).
type ResourceSnapshot struct {
	Key             string
	Holders         []HolderID
	ExclusiveHolder *HolderID
	Queue           []QueuedTicket
}

// QueuedTicket describes one pending ticket in a ResourceSnapshot.
type QueuedTicket struct {
	Holder HolderID
	Mode   lockcore.LockMode
}

// Snapshot returns a diagnostic view of the resource's current state.
func (r *LockedResource) Snapshot() ResourceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := ResourceSnapshot{Key: r.key}
	for h := range r.holders {
		snap.Holders = append(snap.Holders, h)
	}
	sort.Slice(snap.Holders, func(i, j int) bool {
		return snap.Holders[i].String() < snap.Holders[j].String()
	})

	if r.exclusiveHolder != nil {
		h := *r.exclusiveHolder
		snap.ExclusiveHolder = &h
	}

	for _, t := range r.queue.All() {
		snap.Queue = append(snap.Queue, QueuedTicket{
			Holder: holderIDFromString(t.Holder),
			Mode:   t.Mode,
		})
	}

	return snap
}

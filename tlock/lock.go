// Package tlock implements the thread-level lock of spec.md §4.2: a
// single-slot, refcounted, event-driven reader-writer primitive intended for
// coordinating cooperative tasks around one cached object (see objcache).
//
// It is the lighter-weight sibling of the locking package's transaction-level
// LockHolder/LockedResource pair: same FIFO ticket queue and shared/exclusive
// vocabulary (lockcore), but a single live Lock per slot instead of a holder
// set, and refcounted coalescing in place of a holder map.
//
// Grounded on the teacher's locking.ticketImpl, whose acquiredChan is the
// direct ancestor of Slot's broadcast channel, generalized here to a
// close-and-replace channel (the same idiom locking.LockedResource uses) so
// an arbitrary number of waiters can be woken by one release instead of the
// teacher's single-shot per-ticket channel.
package tlock

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/atomic"

	"keeperd/lockcore"
)

var seq atomic.Uint64

func nextWaiterID() string {
	return "w" + strconv.FormatUint(seq.Inc(), 10)
}

// Lock is a handle on a slot's current holder. A shared Lock may be held by
// several callers at once via coalescing; each holds the SAME *Lock value,
// and RefCount reports how many. An exclusive Lock always has RefCount 1.
//
// Per spec.md §4.2's documented asymmetry with the transaction-level holder,
// Lock does not support re-entrant acquisition by the same logical owner:
// calling Acquire again while already holding is indistinguishable, from the
// slot's point of view, from a second independent caller.
type Lock struct {
	slot *Slot

	mu             sync.Mutex
	mode           lockcore.LockMode
	refCount       int32
	upgradePending bool
}

// Mode returns the lock's current mode.
func (l *Lock) Mode() lockcore.LockMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// RefCount returns the number of coalesced shared holders (always 1 for an
// exclusive lock).
func (l *Lock) RefCount() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refCount
}

// Slot is a single-slot lock, intended to be embedded one-per-cached-object
// (see objcache.Entry). At most one Lock is ever live on a Slot at a time.
type Slot struct {
	mu       sync.Mutex
	queue    *lockcore.TicketQueue
	current  *Lock
	notifyCh chan struct{}
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{
		queue:    lockcore.NewTicketQueue(),
		notifyCh: make(chan struct{}),
	}
}

func (s *Slot) broadcastLocked() {
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
}

// IsIdle reports whether the slot has no live lock and no queued waiters,
// used by objcache to decide whether an entry is safe to evict.
func (s *Slot) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == nil && s.queue.Len() == 0
}

// AcquireExclusive blocks until the slot is empty and this waiter's ticket
// reaches the front, then installs a fresh exclusive Lock.
func (s *Slot) AcquireExclusive(ctx context.Context) (*Lock, error) {
	return s.acquire(ctx, lockcore.Exclusive)
}

// AcquireShared blocks until this waiter's ticket reaches the front and
// either the slot is empty (install a fresh shared Lock) or the slot already
// holds a shared Lock (coalesce onto it, incrementing its refcount).
func (s *Slot) AcquireShared(ctx context.Context) (*Lock, error) {
	return s.acquire(ctx, lockcore.Shared)
}

func (s *Slot) acquire(ctx context.Context, mode lockcore.LockMode) (*Lock, error) {
	waiter := nextWaiterID()

	s.mu.Lock()
	if s.current == nil && s.queue.Len() == 0 {
		lock := &Lock{slot: s, mode: mode, refCount: 1}
		s.current = lock
		s.mu.Unlock()
		return lock, nil
	}
	s.queue.Enqueue(waiter, mode)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		waitCh := s.notifyCh

		front := s.queue.Peek()
		if front == nil || front.Holder != waiter {
			s.mu.Unlock()
			select {
			case <-waitCh:
				continue
			case <-ctx.Done():
				s.mu.Lock()
				s.queue.Cancel(waiter)
				s.broadcastLocked()
				s.mu.Unlock()
				return nil, ctx.Err()
			}
		}

		if s.current == nil {
			lock := &Lock{slot: s, mode: mode, refCount: 1}
			s.current = lock
			s.queue.Dequeue()
			s.broadcastLocked()
			s.mu.Unlock()
			return lock, nil
		}

		if mode == lockcore.Shared && s.current.mode == lockcore.Shared {
			lock := s.current
			s.queue.Dequeue()
			s.mu.Unlock()

			lock.mu.Lock()
			lock.refCount++
			lock.mu.Unlock()
			return lock, nil
		}

		// Front of queue but the slot is held in an incompatible mode
		// (exclusive, or shared while we want exclusive): keep waiting.
		s.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			s.mu.Lock()
			s.queue.Cancel(waiter)
			s.broadcastLocked()
			s.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// Release decrements the lock's refcount; at zero it clears the slot. Every
// call publishes lock_released, whether or not the slot actually cleared, so
// waiters re-evaluate the (possibly unchanged) state.
func (s *Slot) Release(l *Lock) error {
	s.mu.Lock()
	if s.current != l {
		s.mu.Unlock()
		return ErrNotHeld
	}

	l.mu.Lock()
	l.refCount--
	empty := l.refCount <= 0
	l.mu.Unlock()

	if empty || l.mode == lockcore.Exclusive {
		s.current = nil
	}
	s.broadcastLocked()
	s.mu.Unlock()
	return nil
}

// TryUpgrade attempts shared -> exclusive on l. A lock already exclusive
// upgrades trivially. If another upgrade is already pending on this same
// handle, it fails immediately (self-deadlock avoidance) rather than
// blocking. Otherwise it enqueues an exclusive ticket and blocks until every
// other coalesced sharer has released.
func (s *Slot) TryUpgrade(ctx context.Context, l *Lock) (bool, error) {
	l.mu.Lock()
	if l.mode == lockcore.Exclusive {
		l.mu.Unlock()
		return true, nil
	}
	if l.upgradePending {
		l.mu.Unlock()
		return false, nil
	}
	l.upgradePending = true
	l.mu.Unlock()

	waiter := nextWaiterID()
	s.mu.Lock()
	s.queue.Enqueue(waiter, lockcore.Exclusive)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		waitCh := s.notifyCh
		front := s.queue.Peek()

		if front != nil && front.Holder == waiter {
			l.mu.Lock()
			ready := l.refCount == 1
			l.mu.Unlock()

			if ready {
				s.queue.Dequeue()
				l.mu.Lock()
				l.mode = lockcore.Exclusive
				l.upgradePending = false
				l.mu.Unlock()
				s.broadcastLocked()
				s.mu.Unlock()
				return true, nil
			}
		}
		s.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			s.mu.Lock()
			s.queue.Cancel(waiter)
			s.broadcastLocked()
			s.mu.Unlock()
			l.mu.Lock()
			l.upgradePending = false
			l.mu.Unlock()
			return false, ctx.Err()
		}
	}
}

// Downgrade flips an exclusive lock back to shared and publishes
// lock_released so any queued sharers may coalesce onto it. Like Release, it
// fails loudly (ErrNotHeld) on a handle that is no longer the slot's current
// lock rather than silently mutating a dead lock's state.
func (s *Slot) Downgrade(l *Lock) error {
	s.mu.Lock()
	if s.current != l {
		s.mu.Unlock()
		return ErrNotHeld
	}

	l.mu.Lock()
	l.mode = lockcore.Shared
	l.mu.Unlock()

	s.broadcastLocked()
	s.mu.Unlock()
	return nil
}

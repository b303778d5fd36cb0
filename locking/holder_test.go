package locking

import (
	"context"
	"testing"
	"time"

	"keeperd/lockcore"
)

const holderTestTimeout = 200 * time.Millisecond

func newTestManager() *Manager {
	// A long detector interval keeps the sweep from interfering with tests
	// that exercise ordinary contention rather than deadlocks; tests of the
	// detector itself call BreakDeadlocksNow explicitly.
	return NewManager(Config{DeadlockDetectorInterval: time.Hour})
}

func TestAcquireSharedBatchAdmitsAllConcurrently(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a, b, c := mgr.NewHolder(), mgr.NewHolder(), mgr.NewHolder()
	ctx, cancel := context.WithTimeout(context.Background(), holderTestTimeout)
	defer cancel()

	errs := make(chan error, 3)
	for _, h := range []*LockHolder{a, b, c} {
		h := h
		go func() { errs <- h.AcquireShared(ctx, "r") }()
	}
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("expected all three shared acquires to succeed, got %v", err)
		}
	}

	snap, _ := mgr.Inspect("r")
	if len(snap.Holders) != 3 {
		t.Fatalf("expected 3 holders, got %d", len(snap.Holders))
	}
}

func TestAcquireExclusiveIsNoOpForCurrentHolder(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	ctx := context.Background()

	if err := a.AcquireExclusive(ctx, "r"); err != nil {
		t.Fatal(err)
	}
	if err := a.AcquireExclusive(ctx, "r"); err != nil {
		t.Fatalf("expected a re-acquire by the current exclusive holder to be a no-op, got %v", err)
	}
	if !a.HasLock("r", lockcore.Exclusive) {
		t.Fatalf("expected a to still hold the resource exclusively")
	}
}

func TestAcquireSharedIsNoOpForExistingSharer(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	ctx := context.Background()

	if err := a.AcquireShared(ctx, "r"); err != nil {
		t.Fatal(err)
	}
	if err := a.AcquireShared(ctx, "r"); err != nil {
		t.Fatalf("expected a repeat shared acquire to be a no-op, got %v", err)
	}
}

func TestDoubleAcquireFromSameHolderFails(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	x, a := mgr.NewHolder(), mgr.NewHolder()
	ctx := context.Background()

	if err := x.AcquireExclusive(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, holderTestTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.AcquireExclusive(waitCtx, "r1") }()
	time.Sleep(20 * time.Millisecond)

	if err := a.AcquireExclusive(ctx, "r2"); err != ErrDoubleAcquire {
		t.Fatalf("expected ErrDoubleAcquire while a already waits on r1, got %v", err)
	}

	x.Release("r1")
	if err := <-done; err != nil {
		t.Fatalf("expected a's original wait to succeed, got %v", err)
	}
}

func TestReleaseUnheldReturnsErrNotHeld(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	if err := a.Release("r"); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	x, a := mgr.NewHolder(), mgr.NewHolder()
	if err := x.AcquireExclusive(context.Background(), "r"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := a.AcquireExclusive(ctx, "r"); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	snap, _ := mgr.Inspect("r")
	if len(snap.Queue) != 0 {
		t.Fatalf("expected a's cancelled ticket to be removed from the queue, got %+v", snap.Queue)
	}
}

func TestAbortCancelsInFlightWait(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	x, a := mgr.NewHolder(), mgr.NewHolder()
	ctx := context.Background()
	if err := x.AcquireExclusive(ctx, "r"); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, holderTestTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.AcquireExclusive(waitCtx, "r") }()
	time.Sleep(20 * time.Millisecond)

	a.Abort()
	if err := <-done; err != ErrDeadlockVictim {
		t.Fatalf("expected Abort to surface ErrDeadlockVictim to the blocked acquire, got %v", err)
	}
}

func TestReleaseAllReturnsAffectedKeysAndClearsWait(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	ctx := context.Background()
	if err := a.AcquireExclusive(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := a.AcquireExclusive(ctx, "r2"); err != nil {
		t.Fatal(err)
	}

	affected := a.ReleaseAll()
	if len(affected) != 2 {
		t.Fatalf("expected 2 affected keys, got %+v", affected)
	}
	if !a.Idle() {
		t.Fatalf("expected a to be idle after ReleaseAll")
	}

	if _, locked := mgr.IsLocked("r1"); locked {
		t.Fatalf("expected r1 to be unlocked after ReleaseAll")
	}
}

func TestIdleReportsFalseWhileHolding(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	if !a.Idle() {
		t.Fatalf("expected a fresh holder to be idle")
	}

	if err := a.AcquireExclusive(context.Background(), "r"); err != nil {
		t.Fatal(err)
	}
	if a.Idle() {
		t.Fatalf("expected a holding a resource to not be idle")
	}
}

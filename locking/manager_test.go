package locking

import (
	"context"
	"testing"
	"time"
)

func TestInspectOnUnknownKeyIsEmpty(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	snap, err := mgr.Inspect("never/touched")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Holders) != 0 || snap.ExclusiveHolder != nil || len(snap.Queue) != 0 {
		t.Fatalf("expected an empty snapshot, got %+v", snap)
	}
}

func TestInspectRejectsInvalidKey(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	if _, err := mgr.Inspect("bad//key"); err != ErrKeyInvalid {
		t.Fatalf("expected ErrKeyInvalid, got %v", err)
	}
}

func TestResourceIsEvictedOnceIdle(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	if err := a.AcquireExclusive(context.Background(), "r"); err != nil {
		t.Fatal(err)
	}
	if keys := mgr.Keys(); len(keys) != 1 {
		t.Fatalf("expected r to be tracked while held, got %+v", keys)
	}

	if err := a.Release("r"); err != nil {
		t.Fatal(err)
	}
	if keys := mgr.Keys(); len(keys) != 0 {
		t.Fatalf("expected r to be evicted once idle, got %+v", keys)
	}
}

func TestResourceIsEvictedAfterCancelledWaitLeavesItIdle(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := a.AcquireExclusive(ctx, "r"); err != nil {
		t.Fatal(err)
	}
	a.Release("r")

	b := mgr.NewHolder()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer waitCancel()

	// Pin the resource busy, queue a second waiter, then cancel it: the
	// resource must still be reclaimed once both the holder and the queue
	// are empty, even though nothing was ever released while busy.
	if err := b.AcquireExclusive(context.Background(), "r"); err != nil {
		t.Fatal(err)
	}
	c := mgr.NewHolder()
	cDone := make(chan error, 1)
	go func() { cDone <- c.AcquireExclusive(waitCtx, "r") }()
	time.Sleep(20 * time.Millisecond)
	c.Abort()
	<-cDone

	b.Release("r")
	if keys := mgr.Keys(); len(keys) != 0 {
		t.Fatalf("expected r to be evicted after the cancelled waiter left it idle, got %+v", keys)
	}
}

func TestForgetRemovesHolderRegistration(t *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	a := mgr.NewHolder()
	if _, ok := mgr.Holder(a.ID()); !ok {
		t.Fatalf("expected a to be registered")
	}

	mgr.Forget(a)
	if _, ok := mgr.Holder(a.ID()); ok {
		t.Fatalf("expected a to be unregistered after Forget")
	}
}

func TestSetDeadlockDetectorIntervalIsNoopWhenUnchanged(t *testing.T) {
	mgr := NewManager(Config{DeadlockDetectorInterval: time.Second})
	mgr.Start()
	defer mgr.Stop()

	before, _ := mgr.LastSweep()
	mgr.SetDeadlockDetectorInterval(time.Second)
	// A no-op call must not restart the detector (and so must not disturb
	// its sweep cadence); nothing to assert beyond it not panicking or
	// deadlocking with Stop below.
	_ = before
}

func TestSetDeadlockDetectorIntervalRestartsDetector(t *testing.T) {
	mgr := NewManager(Config{DeadlockDetectorInterval: time.Hour})
	mgr.Start()
	defer mgr.Stop()

	a, b := mgr.NewHolder(), mgr.NewHolder()
	ctx := context.Background()
	a.AcquireExclusive(ctx, "r1")
	b.AcquireExclusive(ctx, "r2")

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	aDone := make(chan error, 1)
	bDone := make(chan error, 1)
	go func() { aDone <- a.AcquireExclusive(waitCtx, "r2") }()
	go func() { bDone <- b.AcquireExclusive(waitCtx, "r1") }()
	time.Sleep(20 * time.Millisecond)

	mgr.SetDeadlockDetectorInterval(20 * time.Millisecond)

	select {
	case <-aDone:
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the shortened interval to drive a sweep that breaks the cycle")
	}
}

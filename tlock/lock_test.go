package tlock

import (
	"context"
	"testing"
	"time"

	"keeperd/lockcore"
)

const testTimeout = 200 * time.Millisecond

func mustAcquireExclusive(t *testing.T, s *Slot) *Lock {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	l, err := s.AcquireExclusive(ctx)
	if err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}
	return l
}

func mustAcquireShared(t *testing.T, s *Slot) *Lock {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	l, err := s.AcquireShared(ctx)
	if err != nil {
		t.Fatalf("AcquireShared: %v", err)
	}
	return l
}

func TestAcquireExclusiveOnEmptySlotInstalls(t *testing.T) {
	s := NewSlot()
	l := mustAcquireExclusive(t, s)
	if l.Mode() != lockcore.Exclusive {
		t.Fatalf("expected exclusive mode")
	}
	if l.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", l.RefCount())
	}
}

func TestAcquireSharedCoalesces(t *testing.T) {
	s := NewSlot()
	a := mustAcquireShared(t, s)
	b := mustAcquireShared(t, s)

	if a != b {
		t.Fatalf("expected coalesced shared holders to share the same handle")
	}
	if a.RefCount() != 2 {
		t.Fatalf("expected refcount 2 after coalescing, got %d", a.RefCount())
	}
}

func TestAcquireSharedWaitsBehindExclusive(t *testing.T) {
	s := NewSlot()
	excl := mustAcquireExclusive(t, s)

	done := make(chan *Lock, 1)
	go func() {
		l, err := s.AcquireShared(context.Background())
		if err != nil {
			return
		}
		done <- l
	}()

	select {
	case <-done:
		t.Fatalf("shared acquire should not succeed while exclusive is held")
	case <-time.After(50 * time.Millisecond):
	}

	if err := s.Release(excl); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case l := <-done:
		if l.Mode() != lockcore.Shared {
			t.Fatalf("expected shared mode after install")
		}
	case <-time.After(testTimeout):
		t.Fatalf("shared acquire never unblocked after release")
	}
}

func TestReleaseOnReleasedHandleFails(t *testing.T) {
	s := NewSlot()
	l := mustAcquireExclusive(t, s)
	if err := s.Release(l); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := s.Release(l); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld on post-release use, got %v", err)
	}
}

func TestTryUpgradeTrivialWhenAlreadyExclusive(t *testing.T) {
	s := NewSlot()
	l := mustAcquireExclusive(t, s)

	ok, err := s.TryUpgrade(context.Background(), l)
	if err != nil {
		t.Fatalf("TryUpgrade: %v", err)
	}
	if !ok {
		t.Fatalf("expected trivial upgrade to succeed")
	}
}

func TestTryUpgradeSoleSharerCommits(t *testing.T) {
	s := NewSlot()
	l := mustAcquireShared(t, s)

	ok, err := s.TryUpgrade(context.Background(), l)
	if err != nil {
		t.Fatalf("TryUpgrade: %v", err)
	}
	if !ok {
		t.Fatalf("expected sole-sharer upgrade to succeed")
	}
	if l.Mode() != lockcore.Exclusive {
		t.Fatalf("expected exclusive mode after upgrade")
	}
}

func TestTryUpgradeWaitsForOtherSharersToRelease(t *testing.T) {
	s := NewSlot()
	a := mustAcquireShared(t, s)
	b := mustAcquireShared(t, s)
	if a != b {
		t.Fatalf("expected coalesced handle")
	}

	done := make(chan bool, 1)
	go func() {
		ok, err := s.TryUpgrade(context.Background(), a)
		if err != nil {
			return
		}
		done <- ok
	}()

	select {
	case <-done:
		t.Fatalf("upgrade should not commit while another sharer is present")
	case <-time.After(50 * time.Millisecond):
	}

	if err := s.Release(b); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected upgrade to eventually commit")
		}
	case <-time.After(testTimeout):
		t.Fatalf("upgrade never committed after peer released")
	}
}

func TestTryUpgradeDoublePendingFails(t *testing.T) {
	s := NewSlot()
	a := mustAcquireShared(t, s)
	_ = mustAcquireShared(t, s) // coalesces onto a, refcount 2

	upgrading := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		close(upgrading)
		s.TryUpgrade(ctx, a)
	}()
	<-upgrading
	time.Sleep(10 * time.Millisecond)

	ok, err := s.TryUpgrade(context.Background(), a)
	if err != nil {
		t.Fatalf("TryUpgrade: %v", err)
	}
	if ok {
		t.Fatalf("expected second upgrade attempt on the same handle to fail immediately")
	}
}

func TestDowngradeAllowsSharerToCoalesce(t *testing.T) {
	s := NewSlot()
	l := mustAcquireExclusive(t, s)
	if err := s.Downgrade(l); err != nil {
		t.Fatalf("Downgrade: %v", err)
	}

	if l.Mode() != lockcore.Shared {
		t.Fatalf("expected shared mode after downgrade")
	}

	other := mustAcquireShared(t, s)
	if other != l {
		t.Fatalf("expected new shared acquire to coalesce onto the downgraded handle")
	}
	if l.RefCount() != 2 {
		t.Fatalf("expected refcount 2, got %d", l.RefCount())
	}
}

func TestDowngradeOnReleasedHandleFails(t *testing.T) {
	s := NewSlot()
	l := mustAcquireExclusive(t, s)
	if err := s.Release(l); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.Downgrade(l); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld on post-release use, got %v", err)
	}
}

func TestAcquireExclusiveContextCancelDoesNotWedgeQueue(t *testing.T) {
	s := NewSlot()
	excl := mustAcquireExclusive(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	aborted := make(chan error, 1)
	go func() {
		_, err := s.AcquireExclusive(ctx)
		aborted <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-aborted:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatalf("cancelled waiter never returned")
	}

	if err := s.Release(excl); err != nil {
		t.Fatalf("Release: %v", err)
	}

	next := mustAcquireExclusive(t, s)
	if next == nil {
		t.Fatalf("queue should not be wedged by the cancelled waiter")
	}
}

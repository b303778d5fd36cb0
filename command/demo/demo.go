// Package demo implements the "demo" CLI command: it runs the lock
// manager's own canonical end-to-end scenarios in-process and prints a
// trace of what happened, so the core's behavior can be inspected without
// standing up an HTTP client.
//
// Grounded on the teacher's command/version command (a trivial cli.Command
// wrapping a single operation); the concurrent holder orchestration within
// each scenario uses golang.org/x/sync/errgroup instead of hand-rolled
// sync.WaitGroup plus error-channel plumbing.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/cli"
	"golang.org/x/sync/errgroup"

	"keeperd/locking"
)

func NewFactory(ui cli.Ui) cli.CommandFactory {
	return func() (cli.Command, error) {
		return &cmd{ui: ui}, nil
	}
}

type cmd struct {
	ui cli.Ui
}

func (c *cmd) Run(_ []string) int {
	scenarios := []struct {
		name string
		run  func() error
	}{
		{"shared batch", sharedBatch},
		{"writer preference via FIFO", writerPreference},
		{"sole-holder upgrade", soleHolderUpgrade},
		{"upgrade contention", upgradeContention},
		{"cycle detection", cycleDetection},
		{"mid-queue cancel", midQueueCancel},
	}

	ok := true
	for _, s := range scenarios {
		c.ui.Output("=== " + s.name + " ===")
		if err := s.run(); err != nil {
			c.ui.Error(s.name + " failed: " + err.Error())
			ok = false
			continue
		}
		c.ui.Output(s.name + ": ok")
	}

	if !ok {
		return 1
	}
	return 0
}

func (c *cmd) Synopsis() string {
	return "Run the lock manager's canonical scenarios and print a trace"
}

func (c *cmd) Help() string {
	return `Usage: keeperd demo

  Runs the lock manager's shared-batch, writer-preference, upgrade, deadlock,
  and cancellation scenarios in-process and reports the outcome of each.`
}

const demoTimeout = 2 * time.Second

func newManager() *locking.Manager {
	m := locking.NewManager(locking.Config{DeadlockDetectorInterval: 50 * time.Millisecond})
	m.Start()
	return m
}

// sharedBatch: holders A, B, C all call AcquireShared(r) on idle r. All
// three must be admitted simultaneously.
func sharedBatch() error {
	m := newManager()
	defer m.Stop()

	a, b, cc := m.NewHolder(), m.NewHolder(), m.NewHolder()

	g, ctx := errgroup.WithContext(context.Background())
	for _, h := range []*locking.LockHolder{a, b, cc} {
		h := h
		g.Go(func() error { return h.AcquireShared(ctx, "r") })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("expected all three shared acquires to succeed: %w", err)
	}

	snap, _ := m.Inspect("r")
	if len(snap.Holders) != 3 {
		return fmt.Errorf("expected 3 holders, got %d", len(snap.Holders))
	}
	return nil
}

// writerPreference: r held shared by A. B requests exclusive, C requests
// shared. A releases; B (the queue head) is admitted while C keeps
// waiting. B releases; C is then admitted.
func writerPreference() error {
	m := newManager()
	defer m.Stop()

	a, b, cc := m.NewHolder(), m.NewHolder(), m.NewHolder()
	ctx := context.Background()

	if err := a.AcquireShared(ctx, "r"); err != nil {
		return err
	}

	bDone := make(chan error, 1)
	go func() { bDone <- b.AcquireExclusive(ctx, "r") }()
	time.Sleep(20 * time.Millisecond)

	ccDone := make(chan error, 1)
	go func() { ccDone <- cc.AcquireShared(ctx, "r") }()
	time.Sleep(20 * time.Millisecond)

	if err := a.Release("r"); err != nil {
		return err
	}

	if err := <-bDone; err != nil {
		return fmt.Errorf("expected B to be admitted first: %w", err)
	}

	select {
	case err := <-ccDone:
		return fmt.Errorf("expected C to still be waiting behind B, got %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if err := b.Release("r"); err != nil {
		return err
	}
	if err := <-ccDone; err != nil {
		return fmt.Errorf("expected C to be admitted after B released: %w", err)
	}
	return nil
}

// soleHolderUpgrade: A holds r shared, then upgrades. The upgrade must
// succeed immediately since A is the only holder.
func soleHolderUpgrade() error {
	m := newManager()
	defer m.Stop()

	a := m.NewHolder()
	ctx := context.Background()

	if err := a.AcquireShared(ctx, "r"); err != nil {
		return err
	}

	upgradeCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := a.AcquireExclusive(upgradeCtx, "r"); err != nil {
		return fmt.Errorf("expected sole-holder upgrade to succeed immediately: %w", err)
	}

	snap, _ := m.Inspect("r")
	if snap.ExclusiveHolder == nil || *snap.ExclusiveHolder != a.ID() {
		return fmt.Errorf("expected A to hold r exclusively after upgrade")
	}
	return nil
}

// upgradeContention: A and B both hold r shared. A upgrades and blocks at
// the front with an exclusive ticket; B's own upgrade attempt cannot commit
// behind it and is ended by a short timeout. B releases; A's upgrade then
// completes.
func upgradeContention() error {
	m := newManager()
	defer m.Stop()

	a, b := m.NewHolder(), m.NewHolder()
	ctx := context.Background()

	if err := a.AcquireShared(ctx, "r"); err != nil {
		return err
	}
	if err := b.AcquireShared(ctx, "r"); err != nil {
		return err
	}

	aDone := make(chan error, 1)
	upgradeCtx, cancel := context.WithTimeout(ctx, demoTimeout)
	defer cancel()
	go func() { aDone <- a.AcquireExclusive(upgradeCtx, "r") }()
	time.Sleep(20 * time.Millisecond)

	select {
	case err := <-aDone:
		return fmt.Errorf("expected A's upgrade to block on B, got %v", err)
	default:
	}

	bUpgradeCtx, bCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer bCancel()
	if err := b.AcquireExclusive(bUpgradeCtx, "r"); err == nil {
		return fmt.Errorf("expected B's own upgrade attempt to fail behind A's pending upgrade")
	}

	if err := b.Release("r"); err != nil {
		return err
	}
	if err := <-aDone; err != nil {
		return fmt.Errorf("expected A's upgrade to complete once B released: %w", err)
	}
	return nil
}

// cycleDetection: A holds r1 and waits on r2; B holds r2 and waits on r1.
// The detector must pick at least one victim within a few sweeps; the
// survivor then proceeds.
func cycleDetection() error {
	m := newManager()
	defer m.Stop()

	a, b := m.NewHolder(), m.NewHolder()
	ctx := context.Background()

	if err := a.AcquireExclusive(ctx, "r1"); err != nil {
		return err
	}
	if err := b.AcquireExclusive(ctx, "r2"); err != nil {
		return err
	}

	aWaits := make(chan error, 1)
	bWaits := make(chan error, 1)
	waitCtx, cancel := context.WithTimeout(ctx, demoTimeout)
	defer cancel()
	go func() { aWaits <- a.AcquireExclusive(waitCtx, "r2") }()
	go func() { bWaits <- b.AcquireExclusive(waitCtx, "r1") }()

	deadline := time.After(demoTimeout)
	select {
	case err := <-aWaits:
		if err != locking.ErrDeadlockVictim {
			return fmt.Errorf("expected A to be a deadlock victim, got %v", err)
		}
		return waitForSurvivor(bWaits, deadline)
	case err := <-bWaits:
		if err != locking.ErrDeadlockVictim {
			return fmt.Errorf("expected B to be a deadlock victim, got %v", err)
		}
		return waitForSurvivor(aWaits, deadline)
	case <-deadline:
		return fmt.Errorf("detector never broke the cycle within %s", demoTimeout)
	}
}

func waitForSurvivor(survivor chan error, deadline <-chan time.Time) error {
	select {
	case err := <-survivor:
		if err != nil {
			return fmt.Errorf("expected the survivor to proceed, got %v", err)
		}
		return nil
	case <-deadline:
		return fmt.Errorf("survivor never proceeded after its peer was aborted")
	}
}

// midQueueCancel: A, B, C all queue behind exclusive holder X on r, in that
// order. B is cancelled. X releases; A is admitted and the queue's new
// head is C, not the cancelled B.
func midQueueCancel() error {
	m := newManager()
	defer m.Stop()

	x, a, b, cc := m.NewHolder(), m.NewHolder(), m.NewHolder(), m.NewHolder()
	ctx := context.Background()

	if err := x.AcquireExclusive(ctx, "r"); err != nil {
		return err
	}

	aDone := make(chan error, 1)
	bDone := make(chan error, 1)
	ccDone := make(chan error, 1)
	waitCtx, cancel := context.WithTimeout(ctx, demoTimeout)
	defer cancel()

	go func() { aDone <- a.AcquireExclusive(waitCtx, "r") }()
	time.Sleep(10 * time.Millisecond)
	go func() { bDone <- b.AcquireExclusive(waitCtx, "r") }()
	time.Sleep(10 * time.Millisecond)
	go func() { ccDone <- cc.AcquireExclusive(waitCtx, "r") }()
	time.Sleep(10 * time.Millisecond)

	b.Abort()
	if err := <-bDone; err != locking.ErrDeadlockVictim {
		return fmt.Errorf("expected B's cancelled acquire to return ErrDeadlockVictim, got %v", err)
	}

	if err := x.Release("r"); err != nil {
		return err
	}
	if err := <-aDone; err != nil {
		return fmt.Errorf("expected A to be admitted after X released: %w", err)
	}

	snap, _ := m.Inspect("r")
	if len(snap.Queue) != 1 || snap.Queue[0].Holder != cc.ID() {
		return fmt.Errorf("expected C to be the sole remaining queued ticket, got %+v", snap.Queue)
	}

	if err := a.Release("r"); err != nil {
		return err
	}
	if err := <-ccDone; err != nil {
		return fmt.Errorf("expected C to be admitted after A released: %w", err)
	}
	return nil
}

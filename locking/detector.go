package locking

import (
	"sort"
	"time"

	"github.com/facebookgo/clock"
)

// DeadlockDetector periodically walks the wait-for graph looking for
// cycles, per spec.md §4.5. The default period is 3 seconds; it is clocked
// by an injectable clock.Clock so tests can drive sweeps deterministically
// with clock.NewMock() instead of sleeping on wall-clock time.
type DeadlockDetector struct {
	mgr      *Manager
	clk      clock.Clock
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func newDeadlockDetector(mgr *Manager, clk clock.Clock, interval time.Duration) *DeadlockDetector {
	return &DeadlockDetector{mgr: mgr, clk: clk, interval: interval}
}

func (d *DeadlockDetector) start() {
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	ticker := d.clk.Ticker(d.interval)

	go func() {
		defer close(d.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.BreakDeadlocks()
			case <-d.stop:
				return
			}
		}
	}()
}

func (d *DeadlockDetector) stopAndWait() {
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.done
}

// BreakDeadlocks runs one DFS sweep over the wait-for graph, aborts every
// nominated victim via LockHolder.ReleaseAll, and returns the victims. After
// it returns, waiting_for is acyclic (spec.md §8, property 4).
func (d *DeadlockDetector) BreakDeadlocks() []HolderID {
	victims := d.detectVictims()
	defer d.mgr.recordSweep(victims)

	for _, v := range victims {
		holder := d.mgr.lookupHolder(v)
		if holder == nil {
			continue
		}

		affected := holder.ReleaseAll()
		d.mgr.bumpDeadlockVictim()

		for _, key := range affected {
			if resource := d.mgr.lookupResource(key); resource != nil {
				// The resource's own broadcast already woke any blocked
				// acquire loops; HoldersToNotify documents and exercises
				// the wake-up decision for callers (tests, diagnostics)
				// that want to know who benefits without re-deriving it.
				resource.HoldersToNotify()
			}
		}
	}

	return victims
}

// detectVictims performs the DFS cycle search described in spec.md §4.5.
// Holders are visited in ascending HolderID order so a sweep is
// deterministic given a fixed graph (the spec does not require any
// particular order, only that at least one holder per cycle is found).
func (d *DeadlockDetector) detectVictims() []HolderID {
	waitFor := d.mgr.graph.snapshot()

	holders := make([]HolderID, 0, len(waitFor))
	for h := range waitFor {
		holders = append(holders, h)
	}
	sortHolderIDs(holders)

	open := make(map[HolderID]bool)
	closed := make(map[HolderID]bool)
	victimSet := make(map[HolderID]bool)
	var victims []HolderID

	var visit func(v HolderID)
	visit = func(v HolderID) {
		if closed[v] || victimSet[v] {
			return
		}

		resourceKey, waiting := waitFor[v]
		open[v] = true

		if waiting {
			if resource := d.mgr.lookupResource(resourceKey); resource != nil {
				children := resource.holdersSnapshot()
				sortHolderIDs(children)

				for _, child := range children {
					if child == v || victimSet[child] {
						continue
					}
					if open[child] {
						// child is already on the current DFS path: the
						// edge v -> child is a back-edge and the cycle
						// closes at child. Nominate it, and remove it from
						// the working graph so further traversal does not
						// re-enter through it.
						victims = append(victims, child)
						victimSet[child] = true
						open[child] = false
						continue
					}
					if !closed[child] {
						visit(child)
					}
				}
			}
		}

		open[v] = false
		closed[v] = true
	}

	for _, h := range holders {
		visit(h)
	}

	return victims
}

func sortHolderIDs(ids []HolderID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

package locking

import (
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/stats"
	"github.com/spacemonkeygo/monotime"
)

// Manager is the transaction-level lock manager: it owns every
// LockedResource (created lazily per key, evicted when idle), every
// registered LockHolder, the process-wide WaitForGraph, and the periodic
// DeadlockDetector sweep.
//
// Grounded on the teacher's locking.managerImpl: a coarse manager-level
// mutex guards the resource map; resource.go's per-resource mutex guards
// the resource's own state once found, the same nested-locking shape the
// teacher (and other_examples/chaisql-chai's lock.go) use.
type Manager struct {
	mu        sync.Mutex
	resources map[string]*LockedResource
	holders   map[HolderID]*LockHolder

	graph    *WaitForGraph
	detector *DeadlockDetector
	cfg      Config

	startedAt int64

	sweepMu     sync.Mutex
	lastSweepAt int64
	lastVictims []HolderID
}

// NewManager creates a lock manager. Call Start to begin the deadlock
// detector's periodic sweeps.
func NewManager(config Config) *Manager {
	config = config.withDefaults()

	m := &Manager{
		resources: make(map[string]*LockedResource),
		holders:   make(map[HolderID]*LockHolder),
		graph:     newWaitForGraph(),
		cfg:       config,
		startedAt: monotime.Monotonic(),
	}
	m.detector = newDeadlockDetector(m, config.Clock, config.DeadlockDetectorInterval)
	return m
}

// Start begins the deadlock detector's periodic sweeps.
func (m *Manager) Start() {
	m.detector.start()
}

// SetDeadlockDetectorInterval restarts the detector with a new sweep
// interval, for config hot-reload (command/server watches its YAML config
// file with fsnotify). A no-op if the interval is unchanged.
func (m *Manager) SetDeadlockDetectorInterval(interval time.Duration) {
	m.mu.Lock()
	if interval <= 0 || interval == m.cfg.DeadlockDetectorInterval {
		m.mu.Unlock()
		return
	}
	clk := m.cfg.Clock
	m.cfg.DeadlockDetectorInterval = interval
	m.mu.Unlock()

	m.detector.stopAndWait()
	m.detector = newDeadlockDetector(m, clk, interval)
	m.detector.start()
}

// Stop halts the deadlock detector.
func (m *Manager) Stop() {
	m.detector.stopAndWait()
}

// NewHolder registers and returns a fresh LockHolder.
func (m *Manager) NewHolder() *LockHolder {
	h := newLockHolder(NewHolderID(), m)

	m.mu.Lock()
	m.holders[h.id] = h
	m.mu.Unlock()

	return h
}

// Forget unregisters a holder that will never acquire again (e.g. its
// owning task/transaction has finished). It does not release any locks; the
// caller must call LockHolder.ReleaseAll first if needed.
func (m *Manager) Forget(h *LockHolder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holders, h.id)
}

func (m *Manager) resourceFor(key string) *LockedResource {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.resources[key]; ok {
		return r
	}

	r := newLockedResource(key, func() { m.maybeEvict0(key) })
	m.resources[key] = r
	return r
}

func (m *Manager) lookupResource(key string) *LockedResource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resources[key]
}

func (m *Manager) lookupHolder(id HolderID) *LockHolder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holders[id]
}

// Holder returns the registered holder for id, for callers (such as
// httpserver) that only have the string form of a holder's identity on
// hand, e.g. from a prior NewHolder response.
func (m *Manager) Holder(id HolderID) (*LockHolder, bool) {
	h := m.lookupHolder(id)
	return h, h != nil
}

// Keys returns the resource keys the manager currently tracks state for
// (anything with a live holder or a queued waiter), for diagnostics.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.resources))
	for k := range m.resources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// maybeEvict re-checks a resource under the manager lock and removes it
// from the resource map if it is still idle, matching the "destroyed via
// its on_empty callback when idle" lifecycle of spec.md §3.
func (m *Manager) maybeEvict(r *LockedResource) {
	m.maybeEvict0(r.Key())
}

func (m *Manager) maybeEvict0(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.resources[key]
	if !ok {
		return
	}
	if r.isIdle() {
		delete(m.resources, key)
	}
}

// IsLocked reports the exclusive holder of key, if any.
func (m *Manager) IsLocked(key string) (HolderID, bool) {
	r := m.lookupResource(key)
	if r == nil {
		return HolderID{}, false
	}
	snap := r.Snapshot()
	if snap.ExclusiveHolder == nil {
		return HolderID{}, false
	}
	return *snap.ExclusiveHolder, true
}

// Inspect returns a diagnostic snapshot of key's lock state. A key with no
// outstanding holders or waiters returns an empty snapshot.
func (m *Manager) Inspect(key string) (ResourceSnapshot, error) {
	key, err := ValidateResourceKey(key)
	if err != nil {
		return ResourceSnapshot{}, err
	}

	r := m.lookupResource(key)
	if r == nil {
		return ResourceSnapshot{Key: key}, nil
	}
	return r.Snapshot(), nil
}

// BreakDeadlocksNow forces an out-of-cycle deadlock sweep, useful for tests
// and for the CLI demo that do not want to wait for the detector's ticker.
func (m *Manager) BreakDeadlocksNow() []HolderID {
	return m.detector.BreakDeadlocks()
}

// recordSweep is called by DeadlockDetector after every sweep, including
// empty ones, so LastSweep can report freshness even when nothing is found.
func (m *Manager) recordSweep(victims []HolderID) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	m.lastSweepAt = monotime.Monotonic()
	m.lastVictims = victims
}

// LastSweep returns the monotonic timestamp of the most recent deadlock
// sweep and the victims it found, for the /debug/locks diagnostic surface.
func (m *Manager) LastSweep() (at int64, victims []HolderID) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	return m.lastSweepAt, m.lastVictims
}

func (m *Manager) bumpQueued() {
	stats.BumpSum(m.cfg.Stats, "locking.acquire.queued", 1)
}

func (m *Manager) bumpGranted() {
	stats.BumpSum(m.cfg.Stats, "locking.acquire.granted", 1)
}

func (m *Manager) bumpDeadlockVictim() {
	stats.BumpSum(m.cfg.Stats, "locking.deadlock.victim", 1)
}

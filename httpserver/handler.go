package httpserver

import (
	"context"
	"errors"
	"net/http"

	"keeperd/lockcore"
	"keeperd/locking"
)

// handler is the HTTP control plane for a locking.Manager. A POST acquires
// (returning a holder ID the caller must present to release or upgrade), a
// DELETE releases, and a PATCH upgrades an already-held shared lock to
// exclusive. GET on a resource path inspects its lock state; GET on
// /debug/locks surfaces the whole wait-for graph and the most recent
// deadlock sweep.
type handler struct {
	manager *locking.Manager
}

// NewHandler wraps manager in an http.Handler.
func NewHandler(manager *locking.Manager) http.Handler {
	return &handler{manager: manager}
}

func (h *handler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/debug/locks" && req.Method == http.MethodGet {
		h.serveDebugLocks(resp, req)
		return
	}

	var err error
	switch req.Method {
	case http.MethodPost:
		err = h.serveAcquire(resp, req)
	case http.MethodDelete:
		err = h.serveRelease(resp, req)
	case http.MethodPatch:
		err = h.serveUpgrade(resp, req)
	case http.MethodGet:
		err = h.serveInspect(resp, req)
	default:
		err = respondError(resp, "method_not_allowed", "Method not allowed", 405)
	}

	if err != nil {
		respondError(resp, "internal_server_error", "Internal server error", 500)
	}
}

func (h *handler) serveAcquire(resp http.ResponseWriter, req *http.Request) error {
	key, err := locking.ValidateResourceKey(req.URL.Path)
	if err != nil {
		return respondNotFound(resp)
	}

	timeoutStr := req.FormValue("timeout")
	if timeoutStr == "" {
		return respondError(resp, "missing_timeout", "Missing form parameter timeout", 400)
	}
	timeout, err := ParseDuration(timeoutStr)
	if err != nil {
		return respondError(resp, "invalid_timeout", "Invalid timeout", 400)
	}

	mode := req.FormValue("mode")
	if mode == "" {
		mode = "exclusive"
	}
	if mode != "exclusive" && mode != "shared" {
		return respondError(resp, "invalid_mode", "Mode must be exclusive or shared", 400)
	}

	holder := h.manager.NewHolder()

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	if mode == "shared" {
		err = holder.AcquireShared(ctx, key)
	} else {
		err = holder.AcquireExclusive(ctx, key)
	}

	if err != nil {
		h.manager.Forget(holder)
		return respondAcquireError(resp, err)
	}

	return respondJson(resp, map[string]interface{}{
		"holder_id": holder.ID().String(),
	}, 200)
}

func (h *handler) serveRelease(resp http.ResponseWriter, req *http.Request) error {
	key, err := locking.ValidateResourceKey(req.URL.Path)
	if err != nil {
		return respondNotFound(resp)
	}

	holder, code, message, ok := h.lookupHolder(req)
	if !ok {
		if code == "" {
			return respondNotFound(resp)
		}
		return respondError(resp, code, message, 400)
	}

	if err := holder.Release(key); err != nil {
		if errors.Is(err, locking.ErrNotHeld) {
			return respondNotFound(resp)
		}
		return err
	}

	if holder.Idle() {
		h.manager.Forget(holder)
	}

	return respondJson(resp, map[string]interface{}{}, 200)
}

func (h *handler) serveUpgrade(resp http.ResponseWriter, req *http.Request) error {
	key, err := locking.ValidateResourceKey(req.URL.Path)
	if err != nil {
		return respondNotFound(resp)
	}

	timeoutStr := req.FormValue("timeout")
	if timeoutStr == "" {
		return respondError(resp, "missing_timeout", "Missing form parameter timeout", 400)
	}
	timeout, err := ParseDuration(timeoutStr)
	if err != nil {
		return respondError(resp, "invalid_timeout", "Invalid timeout", 400)
	}

	holder, code, message, ok := h.lookupHolder(req)
	if !ok {
		if code == "" {
			return respondNotFound(resp)
		}
		return respondError(resp, code, message, 400)
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	if err := holder.AcquireExclusive(ctx, key); err != nil {
		return respondAcquireError(resp, err)
	}

	return respondJson(resp, map[string]interface{}{}, 200)
}

func (h *handler) serveInspect(resp http.ResponseWriter, req *http.Request) error {
	key, err := locking.ValidateResourceKey(req.URL.Path)
	if err != nil {
		return respondNotFound(resp)
	}

	snap, err := h.manager.Inspect(key)
	if err != nil {
		return respondNotFound(resp)
	}

	return respondJson(resp, snapshotToJson(snap), 200)
}

func (h *handler) serveDebugLocks(resp http.ResponseWriter, req *http.Request) {
	keys := h.manager.Keys()
	resources := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		snap, err := h.manager.Inspect(key)
		if err != nil {
			continue
		}
		resources = append(resources, snapshotToJson(snap))
	}

	_, victims := h.manager.LastSweep()
	victimStrs := make([]string, 0, len(victims))
	for _, v := range victims {
		victimStrs = append(victimStrs, v.String())
	}

	respondJson(resp, map[string]interface{}{
		"resources":          resources,
		"last_sweep_victims": victimStrs,
	}, 200)
}

// lookupHolder resolves the holder_id form parameter. ok is false either
// because the parameter was missing/malformed (code/message set, caller
// responds 400) or because it parsed but names no registered holder (code
// empty, caller responds 404).
func (h *handler) lookupHolder(req *http.Request) (holder *locking.LockHolder, code string, message string, ok bool) {
	idStr := req.FormValue("holder_id")
	if idStr == "" {
		return nil, "missing_holder_id", "Missing form parameter holder_id", false
	}
	id, err := locking.ParseHolderID(idStr)
	if err != nil {
		return nil, "invalid_holder_id", "Invalid holder_id", false
	}
	holder, found := h.manager.Holder(id)
	if !found {
		return nil, "", "", false
	}
	return holder, "", "", true
}

func respondAcquireError(resp http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return respondError(resp, "timeout", "Timed out waiting to acquire lock", 408)
	case errors.Is(err, locking.ErrDeadlockVictim):
		return respondError(resp, "deadlock_victim", "Selected as a deadlock victim", 409)
	case errors.Is(err, locking.ErrDoubleAcquire):
		return respondError(resp, "double_acquire", "Holder already waiting on another resource", 409)
	default:
		return err
	}
}

func snapshotToJson(snap locking.ResourceSnapshot) map[string]interface{} {
	holders := make([]string, 0, len(snap.Holders))
	for _, h := range snap.Holders {
		holders = append(holders, h.String())
	}

	queue := make([]map[string]interface{}, 0, len(snap.Queue))
	for _, q := range snap.Queue {
		queue = append(queue, map[string]interface{}{
			"holder": q.Holder.String(),
			"mode":   modeToJson(q.Mode),
		})
	}

	out := map[string]interface{}{
		"key":     snap.Key,
		"holders": holders,
		"queue":   queue,
	}
	if snap.ExclusiveHolder != nil {
		out["exclusive_holder"] = snap.ExclusiveHolder.String()
	}
	return out
}

func modeToJson(mode lockcore.LockMode) string {
	if mode == lockcore.Exclusive {
		return "exclusive"
	}
	return "shared"
}

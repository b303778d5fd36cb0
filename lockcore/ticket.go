package lockcore

import "go.uber.org/atomic"

// ticketSeq is the process-wide ticket ID source. Ticket identity only needs
// to be unique for diagnostics (Inspect output, test assertions); it carries
// no locking semantics itself.
var ticketSeq atomic.Uint64

// Ticket is a single queued lock intent: a holder's request to acquire a
// resource in a given mode. A ticket lives from enqueue until it is dequeued
// or cancelled; it never migrates between queues.
type Ticket struct {
	ID     uint64
	Holder string
	Mode   LockMode
}

func newTicket(holder string, mode LockMode) *Ticket {
	return &Ticket{
		ID:     ticketSeq.Inc(),
		Holder: holder,
		Mode:   mode,
	}
}

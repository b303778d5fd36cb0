package lockcore

import "container/list"

// TicketQueue is a FIFO of lock-intent tickets. Enqueue, peek, and dequeue of
// the head are O(1) amortised; a ticket's owner may also cancel it from an
// arbitrary position in the queue in O(1), without disturbing the order of
// the remaining tickets. Cancel splices the ticket's list element out
// directly; Peek additionally skips any front element whose holder no longer
// maps to it.
type TicketQueue struct {
	order    *list.List
	byHolder map[string]*list.Element
}

// NewTicketQueue returns an empty queue.
func NewTicketQueue() *TicketQueue {
	return &TicketQueue{
		order:    list.New(),
		byHolder: make(map[string]*list.Element),
	}
}

// Enqueue appends a new ticket for holder in the given mode and returns it.
func (q *TicketQueue) Enqueue(holder string, mode LockMode) *Ticket {
	t := newTicket(holder, mode)
	el := q.order.PushBack(t)
	q.byHolder[holder] = el
	return el.Value.(*Ticket)
}

// Peek returns the earliest still-live ticket, advancing past any tombstoned
// entries left by cancellation. It returns nil if the queue is empty.
func (q *TicketQueue) Peek() *Ticket {
	for {
		front := q.order.Front()
		if front == nil {
			return nil
		}
		t := front.Value.(*Ticket)
		if _, live := q.byHolder[t.Holder]; live {
			return t
		}
		q.order.Remove(front)
	}
}

// Dequeue removes and returns the ticket Peek would have returned.
func (q *TicketQueue) Dequeue() *Ticket {
	t := q.Peek()
	if t == nil {
		return nil
	}
	q.removeTicket(t)
	return t
}

// Cancel removes holder's queued ticket, if any, regardless of its position.
// It reports whether a ticket was found and removed.
func (q *TicketQueue) Cancel(holder string) bool {
	el, ok := q.byHolder[holder]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.byHolder, holder)
	return true
}

// removeTicket removes a specific, still-queued ticket (used by Dequeue,
// which already knows the head element).
func (q *TicketQueue) removeTicket(t *Ticket) {
	el, ok := q.byHolder[t.Holder]
	if !ok {
		return
	}
	q.order.Remove(el)
	delete(q.byHolder, t.Holder)
}

// Has reports whether holder currently has a queued ticket.
func (q *TicketQueue) Has(holder string) bool {
	_, ok := q.byHolder[holder]
	return ok
}

// Get returns holder's queued ticket, if any.
func (q *TicketQueue) Get(holder string) (*Ticket, bool) {
	el, ok := q.byHolder[holder]
	if !ok {
		return nil, false
	}
	return el.Value.(*Ticket), true
}

// Len returns the number of live tickets in the queue.
func (q *TicketQueue) Len() int {
	return len(q.byHolder)
}

// SharedPrefix returns the contiguous run of SHARED tickets at the head of
// the queue (possibly empty), used to implement batch admission.
func (q *TicketQueue) SharedPrefix() []*Ticket {
	var out []*Ticket
	for el := q.order.Front(); el != nil; el = el.Next() {
		t := el.Value.(*Ticket)
		if _, live := q.byHolder[t.Holder]; !live {
			continue
		}
		if t.Mode != Shared {
			break
		}
		out = append(out, t)
	}
	return out
}

// All returns every live ticket in queue order, for inspection/diagnostics.
func (q *TicketQueue) All() []*Ticket {
	var out []*Ticket
	for el := q.order.Front(); el != nil; el = el.Next() {
		t := el.Value.(*Ticket)
		if _, live := q.byHolder[t.Holder]; live {
			out = append(out, t)
		}
	}
	return out
}

// Package lockcore provides the leaf primitives shared by the thread-level
// and transaction-level lock implementations: lock modes, tickets, and the
// FIFO ticket queue that backs both.
package lockcore

// LockMode is the mode a ticket or holder requests a resource in.
type LockMode int

const (
	// Shared allows any number of concurrent holders.
	Shared LockMode = iota
	// Exclusive allows exactly one holder.
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// IsCompatibleWith reports whether a holder in mode m can coexist with a
// holder in mode other on the same resource.
func (m LockMode) IsCompatibleWith(other LockMode) bool {
	return m == Shared && other == Shared
}

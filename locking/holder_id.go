package locking

import "github.com/google/uuid"

// HolderID identifies a holder (transaction, worker task) across the lock
// manager's lifetime.
type HolderID uuid.UUID

// NewHolderID generates a fresh, random holder identity.
func NewHolderID() HolderID {
	return HolderID(uuid.New())
}

func (h HolderID) String() string {
	return uuid.UUID(h).String()
}

// holderIDFromString parses a holder key previously produced by
// HolderID.String(). It panics on malformed input, which can only happen if
// the lock core itself mismanaged a ticket's holder key.
func holderIDFromString(s string) HolderID {
	u, err := uuid.Parse(s)
	if err != nil {
		panic("locking: malformed holder id " + s)
	}
	return HolderID(u)
}

// ParseHolderID parses a holder identity from its string form. Unlike
// holderIDFromString, it returns an error rather than panicking, since
// external callers (httpserver) may hand it arbitrary client input.
func ParseHolderID(s string) (HolderID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return HolderID{}, ErrInvalidHolderID
	}
	return HolderID(u), nil
}

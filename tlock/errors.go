package tlock

import "github.com/pkg/errors"

// ErrNotHeld is returned by Release or Downgrade when called on a Lock
// handle that has already been released (post-release use, spec.md §4.2's
// "failure modes fail loudly"). TryUpgrade's own failure mode — another
// upgrade already pending on this same handle — is a detected potential
// deadlock, not a released-handle error: it reports failure via its bool
// return (false, nil) per spec.md §7's "UpgradePending: ... Return failure,
// do not throw."
var ErrNotHeld = errors.New("tlock: use of a released lock handle")

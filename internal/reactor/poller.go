package reactor

import "time"

// Poller is the Readiness Poller capability set (spec.md §4.C): block on
// the OS readiness primitive, and let the Descriptor Table's owner add,
// remove, and change interest for individual descriptors. Concrete variants
// are {select, poll, epoll, kqueue}; the implementer picks one per build —
// this module ships epoll (Linux) and poll (other unix targets), chosen by
// NewPoller at compile time via build tags.
type Poller interface {
	// AddFD begins tracking d with the given initial interest mask.
	AddFD(d Descriptor, mask EventMask) error

	// RemoveFD stops tracking d. Idempotent: removing an untracked
	// descriptor is not an error.
	RemoveFD(d Descriptor) error

	// SetInterest updates d's interest mask. d must already be tracked via
	// AddFD.
	SetInterest(d Descriptor, mask EventMask) error

	// Poll blocks at most timeout, then returns every tracked descriptor
	// whose revents are non-empty. Iteration order is stable within one
	// call (ascending by descriptor) but no ordering is promised across
	// calls (spec.md §4.C "Ordering"). Poll does not drain sockets; it
	// only reports readiness (spec.md §4.C "Backpressure").
	Poll(timeout time.Duration) ([]ReadyEvent, error)

	// Close releases the poller's OS resources (e.g. the epoll fd).
	Close() error
}

// msec clamps a time.Duration to the millisecond integer most poll-family
// syscalls expect, rounding up so a sub-millisecond timeout never becomes
// an accidental "block forever" (-1 would mean exactly that).
func msec(d time.Duration) int {
	if d <= 0 {
		return 0
	}

	m := d.Milliseconds()
	if m == 0 {
		return 1
	}
	if m > int64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1) //nolint:gosec // clamp to platform int max
	}

	return int(m)
}

package hub

import (
	"errors"

	"github.com/pavel-pimenov/verlihub/internal/conn"
	"github.com/pavel-pimenov/verlihub/internal/reactor"
)

// Kind re-exports reactor.Kind so callers outside internal/reactor can
// classify a Context-level failure without importing internal/reactor
// directly — the same abstract taxonomy (spec.md §7), tagged at the point
// hub wraps an error from conn, reactor or a raw syscall.
type Kind = reactor.Kind

const (
	KindUnknown            = reactor.KindUnknown
	KindTransientIO        = reactor.KindTransientIO
	KindProtocolViolation  = reactor.KindProtocolViolation
	KindResourceExhaustion = reactor.KindResourceExhaustion
	KindConfigOrStartup    = reactor.KindConfigOrStartup
)

// KindError is hub's copy of reactor.KindError; distinct type so
// errors.As(err, &hub.KindError{}) classifies a hub-raised error without
// reaching into internal/reactor, while KindOf below still recognizes
// either package's tagging.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string { return e.Err.Error() }
func (e *KindError) Unwrap() error { return e.Err }

// KindOf classifies err per spec.md §7, recognizing both hub.KindError
// (raised here) and reactor.KindError (raised by internal/reactor and
// surfaced unchanged through hub's call sites).
func KindOf(err error) Kind {
	var he *KindError
	if errors.As(err, &he) {
		return he.Kind
	}
	return reactor.KindOf(err)
}

// mapStartupError tags a Listen-time syscall failure as config-or-startup
// (spec.md §7: fatal, abort startup) — mirrors the teacher's
// mapManagerError switch in internal/server/server.go, generalized from
// ConnectRPC codes to spec.md's abstract kinds.
func mapStartupError(err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: KindConfigOrStartup, Err: err}
}

// mapLoginError tags LoginUser's state-transition failure as
// protocol-violation: a peer tried to log in from a Connection state that
// does not permit it, which per spec.md §7 closes the connection rather
// than taking down the hub.
func mapLoginError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, conn.ErrIllegalTransition) {
		return &KindError{Kind: KindProtocolViolation, Err: err}
	}
	return &KindError{Kind: KindUnknown, Err: err}
}

package reactor

import "errors"

// Kind classifies a failure into spec.md §7's abstract error-kind taxonomy
// so callers can branch on what happened without string-matching error
// text — grounded on the teacher's mapManagerError switch in
// internal/server/server.go, generalized here from ConnectRPC codes to the
// abstract kinds spec.md §7 defines.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransientIO
	KindProtocolViolation
	KindResourceExhaustion
	KindConfigOrStartup
	// KindExternalLookupMiss and KindExternalLookupFailure round out
	// spec.md §7's six kinds, but internal/geoip never constructs a
	// KindError for them: a lookup miss or a missing database file
	// degrades to a sentinel string return (SentinelNotFoundCode etc.),
	// never a Go error, so there is nothing for a caller to classify.
	KindExternalLookupMiss
	KindExternalLookupFailure
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient-io"
	case KindProtocolViolation:
		return "protocol-violation"
	case KindResourceExhaustion:
		return "resource-exhaustion"
	case KindConfigOrStartup:
		return "config-or-startup"
	case KindExternalLookupMiss:
		return "external-lookup-miss"
	case KindExternalLookupFailure:
		return "external-lookup-failure"
	default:
		return "unknown"
	}
}

// KindError pairs a sentinel error with its abstract Kind. Unwrap exposes
// the sentinel so existing errors.Is(err, reactor.ErrFoo) call sites keep
// working unchanged; errors.As(err, &kindErr) additionally exposes the
// kind to callers that want to classify without matching a specific
// sentinel.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string { return e.Err.Error() }
func (e *KindError) Unwrap() error { return e.Err }

// KindOf classifies err per spec.md §7. Any error this package did not
// itself tag reports KindUnknown.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// mapTableError tags the Descriptor Table's sentinel errors with their
// spec.md §7 kind, mirroring the teacher's mapManagerError switch.
// ErrAlreadyPresent, ErrNilConn and ErrNegativeDescriptor are all misuse of
// Table.Add's contract by its caller rather than a peer's wire behavior, so
// all three land on protocol-violation: the closest of spec.md's six
// abstract kinds to "the calling code violated an API invariant."
func mapTableError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyPresent), errors.Is(err, ErrNilConn), errors.Is(err, ErrNegativeDescriptor):
		return &KindError{Kind: KindProtocolViolation, Err: err}
	default:
		return &KindError{Kind: KindUnknown, Err: err}
	}
}

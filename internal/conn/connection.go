package conn

import (
	"time"

	"github.com/pavel-pimenov/verlihub/internal/reactor"
)

// UserRef is the minimal handle a Connection needs into a logged-in user
// record. internal/users.User satisfies it; kept as an interface here so
// this package never imports internal/users (spec.md §9: the Hub Context
// owns Connections, Connections hold a non-owning back-reference — the
// same discipline applies to the user record, which this package treats
// as opaque).
type UserRef interface {
	Nick() string
}

// Connection is the live peer session described in spec.md §3. It
// exclusively owns its descriptor and its buffers for as long as it is
// tracked by a reactor.Table; the Table is the owner, this struct merely
// carries its own identity.
type Connection struct {
	descriptor   reactor.Descriptor
	peerAddr     string
	state        State
	inbound      []byte
	outbound     []byte
	lastActivity time.Time
	features     FeatureFlag
	user         UserRef
	countryCode  string
	closeRequest bool
	maxFrameSize int
	now          func() time.Time
}

// New creates a Connection in StateAccepting for a freshly accepted
// descriptor. now is the Hub Context's clock (pass time.Now in production,
// a fake in tests per spec.md's eviction-sweep testability requirement).
func New(d reactor.Descriptor, peerAddr string, maxFrameSize int, now func() time.Time) *Connection {
	if now == nil {
		now = time.Now
	}
	return &Connection{
		descriptor:   d,
		peerAddr:     peerAddr,
		state:        StateAccepting,
		maxFrameSize: maxFrameSize,
		now:          now,
		lastActivity: now(),
	}
}

// Descriptor satisfies reactor.Conn.
func (c *Connection) Descriptor() reactor.Descriptor { return c.descriptor }

// State returns the current lifecycle state.
func (c *Connection) State() State { return c.state }

// PeerAddr returns the remote address string supplied at construction.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// LastActivity returns the timestamp of the most recent Touch.
func (c *Connection) LastActivity() time.Time { return c.lastActivity }

// Touch records activity at the current clock time. Called whenever bytes
// are read from or written to the peer.
func (c *Connection) Touch() { c.lastActivity = c.now() }

// Features returns the negotiated feature-support bitset.
func (c *Connection) Features() FeatureFlag { return c.features }

// SetFeatures overwrites the negotiated feature-support bitset. Called
// once, at the end of handshaking, with the result of ParseSupportTokens.
func (c *Connection) SetFeatures(f FeatureFlag) { c.features = f }

// User returns the logged-in user record, or nil before login completes.
func (c *Connection) User() UserRef { return c.user }

// SetUser attaches the logged-in user record.
func (c *Connection) SetUser(u UserRef) { c.user = u }

// CountryCode returns the Geo/ASN Lookup Cache's country-code annotation for
// this connection's peer address, or "" if it was never annotated (spec.md
// §2: component E is consulted when a newly accepted connection's peer
// address must be annotated).
func (c *Connection) CountryCode() string { return c.countryCode }

// SetCountryCode attaches the country-code annotation resolved at accept
// time. Called once, from the Hub Context's accept path.
func (c *Connection) SetCountryCode(code string) { c.countryCode = code }

// RequestClose sets the close-requested bit. The connection is guaranteed
// to see no further readable dispatch after the tick in which this is
// called completes (spec.md §5 "Cancellation").
func (c *Connection) RequestClose() { c.closeRequest = true }

// CloseRequested reports whether RequestClose has been called.
func (c *Connection) CloseRequested() bool { return c.closeRequest }

// BeginHandshake transitions accepting -> handshaking, called when the
// first bytes arrive on a freshly accepted descriptor.
func (c *Connection) BeginHandshake() error {
	if err := checkTransition(c.state, StateHandshaking); err != nil {
		return err
	}
	c.state = StateHandshaking
	return nil
}

// Activate transitions handshaking -> normal, called once NICK and
// features have been exchanged.
func (c *Connection) Activate() error {
	if err := checkTransition(c.state, StateNormal); err != nil {
		return err
	}
	c.state = StateNormal
	return nil
}

// BeginClosing transitions into StateClosing from any pre-closing state,
// the graceful-close path: outbound bytes may still drain before Close.
func (c *Connection) BeginClosing() error {
	if c.state == StateClosing || c.state == StateClosed {
		return nil
	}
	if err := checkTransition(c.state, StateClosing); err != nil {
		return err
	}
	c.state = StateClosing
	return nil
}

// Close transitions unconditionally into StateClosed — the abortive-close
// path available from any state (spec.md §4.D: "any --fatal error--> closed").
// Idempotent.
func (c *Connection) Close() {
	c.state = StateClosed
}

// InterestMask computes the initial interest mask for the connection's
// current state (spec.md §4.D "Per-state interest mask"). The caller is
// responsible for pushing this into the Event Registrar.
func (c *Connection) InterestMask() reactor.EventMask {
	switch c.state {
	case StateAccepting:
		return reactor.Readable
	case StateHandshaking:
		mask := reactor.Readable
		if len(c.outbound) > 0 {
			mask |= reactor.Writable
		}
		return mask
	case StateNormal:
		mask := reactor.Readable
		if len(c.outbound) > 0 {
			mask |= reactor.Writable
		}
		if c.closeRequest {
			mask |= reactor.Close
		}
		return mask
	case StateClosing:
		if len(c.outbound) > 0 {
			return reactor.Writable
		}
		return 0
	default:
		return 0
	}
}

// ReadInbound appends newly-read bytes to the inbound buffer and extracts
// every complete frame now available. On ErrFrameTooLarge the connection is
// transitioned to StateClosed per spec.md §4.D ("Oversize frames ... above
// a configured max) transition to closed") and the error is returned
// alongside any frames already extracted.
func (c *Connection) ReadInbound(data []byte) ([][]byte, error) {
	c.Touch()
	c.inbound = append(c.inbound, data...)

	frames, remainder, err := ExtractFrames(c.inbound, c.maxFrameSize)
	if err != nil {
		c.Close()
		return frames, err
	}

	// Copy the remainder: ExtractFrames' remainder aliases c.inbound, and
	// the next append would otherwise corrupt already-returned frames.
	next := make([]byte, len(remainder))
	copy(next, remainder)
	c.inbound = next

	return frames, nil
}

// QueueOutbound appends data to the outbound buffer for the next writable
// dispatch to drain.
func (c *Connection) QueueOutbound(data []byte) {
	c.outbound = append(c.outbound, data...)
}

// HasPendingOutbound reports whether any outbound bytes remain unwritten.
func (c *Connection) HasPendingOutbound() bool { return len(c.outbound) > 0 }

// OutboundBytes returns the unwritten outbound buffer, for a caller to
// attempt a write(2)-equivalent against the socket.
func (c *Connection) OutboundBytes() []byte { return c.outbound }

// DrainOutbound removes the first n bytes of the outbound buffer, the
// amount actually written by the caller's last write attempt.
func (c *Connection) DrainOutbound(n int) {
	c.Touch()
	if n >= len(c.outbound) {
		c.outbound = c.outbound[:0]
		return
	}
	c.outbound = append(c.outbound[:0], c.outbound[n:]...)
}

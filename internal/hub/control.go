package hub

import (
	"github.com/pavel-pimenov/verlihub/internal/conn"
)

// InUserSupports reports whether nick's negotiated feature set includes
// flag. flag is first tried against the closed feature enumeration; if
// it names nothing there and the CompatNumericFeatureFallback config
// quirk is enabled, it is parsed as a decimal bitmask instead (spec.md
// §4.D). A nick with no bound connection never supports anything.
func (h *Context) InUserSupports(nick, flag string) bool {
	c, ok := h.connsByNick[nick]
	if !ok {
		return false
	}
	return conn.MatchesSupportToken(c.Features(), flag, h.cfg.Reactor.CompatNumericFeatureFallback)
}

// ReportUser queues message as a framed notice to nick's connection,
// arming writable interest so the next tick drains it. Reports whether
// nick currently has a bound connection to deliver to.
func (h *Context) ReportUser(nick, message string) bool {
	c, ok := h.connsByNick[nick]
	if !ok {
		return false
	}

	frame := append([]byte(message), conn.Sentinel)
	c.QueueOutbound(frame)
	h.syncInterest(c.Descriptor(), c.InterestMask())
	return true
}

// IsUserOnline reports whether nick is currently a live occupant, real or
// bot (original_source/plugins/perl/callbacks.cpp's IsUserOnline).
func (h *Context) IsUserOnline(nick string) bool {
	_, ok := h.live[nick]
	return ok
}

// IsBot reports whether nick is a currently-registered synthetic occupant.
func (h *Context) IsBot(nick string) bool {
	l, ok := h.live[nick]
	return ok && l.IsBot()
}

// SetLiveClass updates a live occupant's class, applied once an async
// registered-user store lookup completes (spec.md §8's worker-pool lookup;
// see protocol.handleValidateNick). A no-op if nick has since left.
func (h *Context) SetLiveClass(nick string, class int) {
	if l, ok := h.live[nick]; ok {
		l.Class = class
	}
}

// GetTopic returns the current hub topic string.
func (h *Context) GetTopic() string {
	return h.topic
}

// SetTopic sets the hub topic string. Always succeeds; the bool return
// mirrors the original callback's signature for the script bridge.
func (h *Context) SetTopic(topic string) bool {
	h.topic = topic
	return true
}

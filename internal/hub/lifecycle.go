package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/pavel-pimenov/verlihub/internal/conn"
	"github.com/pavel-pimenov/verlihub/internal/reactor"
	"github.com/pavel-pimenov/verlihub/internal/users"
	"golang.org/x/sys/unix"
)

// Listen opens the TCP listening socket and registers it with the
// Readiness Poller. Must be called exactly once before Run.
func (h *Context) Listen() error {
	fd, err := listenTCP(h.cfg.Listen.Port)
	if err != nil {
		return mapStartupError(err)
	}

	d := reactor.Descriptor(fd)
	if err := h.poller.AddFD(d, reactor.Readable); err != nil {
		closeFD(fd)
		return mapStartupError(fmt.Errorf("hub: register listener with poller: %w", err))
	}

	h.listenFD = d
	h.log.Info("listening", slog.Int("port", h.cfg.Listen.Port), slog.Int("fd", fd))
	return nil
}

// ListenPort returns the port the listening socket is actually bound to —
// useful when Listen was called with port 0 and the OS assigned one.
func (h *Context) ListenPort() (int, error) {
	return localPort(int(h.listenFD))
}

// acceptReady drains every pending connection on the listening socket in
// one call, until accept(2) reports EAGAIN — spec.md §8 scenario 1 requires
// that 1024 simultaneously pending connections all land in the Descriptor
// Table within the same tick, not trickle in over several.
func (h *Context) acceptReady() {
	for {
		fd, peerAddr, err := acceptOne(int(h.listenFD))
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				h.log.Warn("accept failed", slog.Any("error", err))
			}
			return
		}

		d := reactor.Descriptor(fd)
		c := conn.New(d, peerAddr, h.cfg.Reactor.MaxFrameSize, h.clock)
		h.annotateGeo(c, peerAddr)

		if err := h.poller.AddFD(d, c.InterestMask()); err != nil {
			h.log.Warn("poller add accepted fd failed", slog.Int("fd", fd), slog.Any("error", err))
			closeFD(fd)
			continue
		}

		if err := h.table.Add(c); err != nil {
			h.log.Warn("descriptor table add failed", slog.Int("fd", fd), slog.Any("error", err))
			h.poller.RemoveFD(d)
			closeFD(fd)
			continue
		}

		h.syncInterest(d, c.InterestMask())
		h.conns[d] = c
		h.metrics.SetConnections(h.table.Len())
		h.metrics.RecordStateTransition("none", c.State().String())

		h.log.Debug("accepted connection", slog.String("peer", peerAddr), slog.Int("fd", fd))
	}
}

// annotateGeo resolves peerAddr's country code via the Geo/ASN Lookup Cache
// and stores it on c (spec.md §2: component E is consulted by the accept
// path when a newly accepted connection's peer address must be annotated).
// GetCountryCode never returns an empty string, even on a cache miss or a
// malformed address — the sentinel codes in internal/geoip are themselves
// meaningful annotations, so the result is stored unconditionally.
func (h *Context) annotateGeo(c *conn.Connection, peerAddr string) {
	host, _, err := net.SplitHostPort(peerAddr)
	if err != nil {
		host = peerAddr
	}
	code, _ := h.geoLookup.GetCountryCode(host)
	c.SetCountryCode(code)
}

// closeConnection tears down d's side of an open connection: removes it
// from the Descriptor Table (which clears its Registrar bits), stops the
// Poller from tracking it, closes the raw socket, and drops any
// live-occupant bookkeeping.
func (h *Context) closeConnection(d reactor.Descriptor) {
	c, ok := h.conns[d]
	if !ok {
		return
	}

	from := c.State().String()
	c.Close()
	h.metrics.RecordStateTransition(from, c.State().String())

	h.table.RemoveDescriptor(d)
	if err := h.poller.RemoveFD(d); err != nil {
		h.log.Warn("poller remove fd failed", slog.Int("fd", int(d)), slog.Any("error", err))
	}
	closeFD(int(d))

	delete(h.conns, d)
	if u := c.User(); u != nil {
		delete(h.live, u.Nick())
		delete(h.connsByNick, u.Nick())
	}

	h.metrics.SetConnections(h.table.Len())
	h.log.Debug("closed connection", slog.String("peer", c.PeerAddr()), slog.Int("fd", int(d)))
}

// loggedInUser adapts a plain nick string to conn.UserRef, the minimal
// back-reference a Connection carries once login completes.
type loggedInUser string

func (n loggedInUser) Nick() string { return string(n) }

// LoginUser completes a handshaking connection's login: transitions it to
// StateNormal, attaches the nick as its UserRef, and adds a real occupant
// to the live roster so IsUserOnline/ReportUser/InUserSupports can reach it
// by nick (spec.md §4.D login; mirrors RegisterBot for the real-user case).
func (h *Context) LoginUser(nick string, c *conn.Connection) (*users.Live, error) {
	if err := c.Activate(); err != nil {
		return nil, mapLoginError(err)
	}

	c.SetUser(loggedInUser(nick))
	l := users.NewRealUser(nick, c)
	h.live[nick] = l
	h.connsByNick[nick] = c

	h.syncInterest(c.Descriptor(), c.InterestMask())
	return l, nil
}

// RegisterBot adds a synthetic, connection-less occupant to the live
// roster (spec.md §4.D "Bot registration").
func (h *Context) RegisterBot(nick, description, speed, email string, shareSize int64, class int) *users.Live {
	b := users.NewBot(nick, description, speed, email, shareSize, class)
	h.live[nick] = b
	return b
}

// UnregisterBot removes a synthetic occupant from the live roster.
// Idempotent.
func (h *Context) UnregisterBot(nick string) {
	delete(h.live, nick)
}

// flushBots clears every synthetic occupant from the live roster as the
// first step of Shutdown, before any connection or database is torn down.
func (h *Context) flushBots() {
	for nick, l := range h.live {
		if l.IsBot() {
			delete(h.live, nick)
		}
	}
}

// Shutdown tears the hub down in order: flush bots, close every live
// connection, close the registered-user store and geo databases, then
// close the logger's underlying transport if it owns one (e.g. a syslog
// connection opened by -S/--syslog).
func (h *Context) Shutdown(_ context.Context) error {
	h.closing = true

	h.flushBots()

	for d := range h.conns {
		h.closeConnection(d)
	}

	if h.listenFD != reactor.Invalid {
		h.poller.RemoveFD(h.listenFD)
		closeFD(int(h.listenFD))
		h.listenFD = reactor.Invalid
	}

	h.stopStorePool()

	var firstErr error
	if err := h.store.Close(); err != nil {
		firstErr = fmt.Errorf("hub: close user store: %w", err)
	}

	h.geoLookup.Close()

	if err := h.poller.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("hub: close poller: %w", err)
	}

	closeLogTransport(h.log)

	return firstErr
}

// closeLogTransport releases the logger's underlying transport if its
// handler owns a closeable resource (the syslog writer opened by
// logging.NewSyslog). Loggers backed by stderr have nothing to close.
func closeLogTransport(log *slog.Logger) {
	type closer interface{ Close() error }
	if c, ok := log.Handler().(closer); ok {
		_ = c.Close()
	}
}

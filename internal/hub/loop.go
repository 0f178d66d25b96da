package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pavel-pimenov/verlihub/internal/conn"
	"github.com/pavel-pimenov/verlihub/internal/reactor"
	"golang.org/x/sys/unix"
)

const readBufferSize = 64 * 1024

// FrameHandler processes a single extracted protocol frame for c. The hub
// itself only knows about descriptors and bytes; the Direct Connect
// command grammar and script-bridge dispatch live above this package and
// are wired in through SetFrameHandler so internal/hub stays a pure
// reactor/lifecycle layer.
type FrameHandler func(h *Context, c *conn.Connection, frame []byte)

// SetFrameHandler installs the callback invoked for every complete frame
// extracted from an inbound connection.
func (h *Context) SetFrameHandler(fn FrameHandler) {
	h.onFrame = fn
}

// Run drives the reactor tick (poll -> dispatch ready -> run timers)
// until ctx is cancelled or Shutdown has been called (spec.md §5). It
// returns nil on a clean, context-cancelled exit.
func (h *Context) Run(ctx context.Context) error {
	for {
		if h.closing {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := h.tick(); err != nil {
			return err
		}
	}
}

func (h *Context) tick() error {
	events, err := h.poller.Poll(h.cfg.Reactor.PollTimeout)
	if err != nil {
		return err
	}

	h.metrics.IncPollTick(len(events))

	for _, ev := range events {
		if ev.Descriptor == h.listenFD {
			if ev.Revents.Any(reactor.Readable) {
				h.acceptReady()
			}
			continue
		}

		h.dispatch(ev)
	}

	h.geoCache.Sweep()
	h.drainStoreResults()

	return nil
}

// dispatch handles one ready descriptor's events in the order spec.md §4.D
// prescribes: fatal conditions first, then writable drain, then readable
// ingestion, then a close-requested connection with a drained outbound
// buffer is finally torn down.
func (h *Context) dispatch(ev reactor.ReadyEvent) {
	d := ev.Descriptor
	c, ok := h.conns[d]
	if !ok {
		return
	}

	if ev.Revents.Any(reactor.Error | reactor.Close) {
		h.closeConnection(d)
		return
	}

	if ev.Revents.Any(reactor.Writable) && c.HasPendingOutbound() {
		h.drainWritable(d, c)
		if c.State() == conn.StateClosed {
			return
		}
	}

	if ev.Revents.Any(reactor.Readable) {
		h.drainReadable(d, c)
		if c.State() == conn.StateClosed {
			return
		}
	}

	if c.CloseRequested() && !c.HasPendingOutbound() {
		h.closeConnection(d)
		return
	}

	h.syncInterest(d, c.InterestMask())
}

func (h *Context) drainWritable(d reactor.Descriptor, c *conn.Connection) {
	n, err := writeFD(int(d), c.OutboundBytes())
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		h.log.Debug("write failed, closing", slog.Int("fd", int(d)), slog.Any("error", err))
		h.closeConnection(d)
		return
	}
	c.DrainOutbound(n)
}

func (h *Context) drainReadable(d reactor.Descriptor, c *conn.Connection) {
	buf := make([]byte, readBufferSize)
	n, err := readFD(int(d), buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		h.log.Debug("read failed, closing", slog.Int("fd", int(d)), slog.Any("error", err))
		h.closeConnection(d)
		return
	}

	if n == 0 {
		// Peer half-closed the connection: no more data will ever arrive.
		h.closeConnection(d)
		return
	}

	if c.State() == conn.StateAccepting {
		if err := c.BeginHandshake(); err != nil {
			h.log.Warn("illegal state transition on first bytes", slog.Any("error", err))
			h.closeConnection(d)
			return
		}
	}

	frames, err := c.ReadInbound(buf[:n])
	if err != nil {
		h.metrics.IncFramesDropped()
		h.log.Warn("oversize frame, closing connection", slog.Int("fd", int(d)), slog.Any("error", err))
		h.closeConnection(d)
		return
	}

	for _, frame := range frames {
		if h.onFrame != nil {
			h.onFrame(h, c, frame)
		}
	}
}

// Package protocol implements the Direct Connect command grammar that sits
// above the Hub Context: parsing '|'-terminated frames into named commands,
// driving login (ValidateNick/Supports), and routing chat/PM/search frames
// through the scripting bridge's veto/rewrite hooks before they reach the
// rest of the hub. Kept out of internal/hub so that package stays a pure
// reactor/lifecycle layer (internal/hub/loop.go's FrameHandler doc comment).
package protocol

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavel-pimenov/verlihub/internal/conn"
	"github.com/pavel-pimenov/verlihub/internal/hub"
	"github.com/pavel-pimenov/verlihub/internal/script"
	"github.com/pavel-pimenov/verlihub/internal/users"
)

// Dispatcher holds the scripting bridge and logger a frame handler needs.
// The pending map is allocated by New but no handler reads or writes it.
type Dispatcher struct {
	bridge  *script.Bridge
	log     *slog.Logger
	pending map[string]string // peer addr -> nick chosen by $ValidateNick
}

// New creates a Dispatcher. bridge may be nil, in which case script hooks
// are simply skipped (no scripts loaded).
func New(bridge *script.Bridge, log *slog.Logger) *Dispatcher {
	return &Dispatcher{bridge: bridge, log: log, pending: make(map[string]string)}
}

// HandleFrame is an internal/hub.FrameHandler: dispatched once per complete
// inbound frame.
func (d *Dispatcher) HandleFrame(h *hub.Context, c *conn.Connection, frame []byte) {
	cmd, rest := splitCommand(frame)

	switch cmd {
	case "$ValidateNick":
		d.handleValidateNick(h, c, rest)
	case "$Supports":
		c.SetFeatures(conn.ParseSupportTokens(strings.Fields(rest)))
	case "$To:":
		d.handlePM(h, c, rest)
	case "$Search":
		d.handleSearch(h, c, rest)
	case "$Quit":
		d.handleQuit(h, c)
	default:
		if cmd == "" && len(bytes.TrimSpace(frame)) > 0 {
			// A bare "<nick> message" main-chat line carries no leading $.
			d.handleChat(h, c, string(frame))
		}
	}
}

// NewConnHook fires the scripting bridge's NewConn hook for a freshly
// accepted peer. Nothing in this module calls it: the hub's accept path
// does not invoke it, so the hook fires only where a caller does so.
func (d *Dispatcher) NewConnHook(peerAddr string) {
	if d.bridge == nil {
		return
	}
	if _, _, err := d.bridge.Dispatch(script.HookNewConn, peerAddr); err != nil {
		d.log.Warn("script NewConn hook failed", slog.Any("error", err))
	}
}

// CloseConnHook fires the scripting bridge's CloseConn hook for nick, if
// nick ever completed login.
func (d *Dispatcher) CloseConnHook(nick string) {
	if d.bridge == nil || nick == "" {
		return
	}
	if _, _, err := d.bridge.Dispatch(script.HookCloseConn, nick); err != nil {
		d.log.Warn("script CloseConn hook failed", slog.Any("error", err))
	}
}

func (d *Dispatcher) handleValidateNick(h *hub.Context, c *conn.Connection, nick string) {
	nick = strings.TrimSpace(nick)
	if nick == "" {
		c.RequestClose()
		return
	}

	if _, ok := h.Live(nick); ok {
		c.QueueOutbound([]byte(fmt.Sprintf("$ValidateDenide %s%c", nick, conn.Sentinel)))
		c.RequestClose()
		return
	}

	if _, err := h.LoginUser(nick, c); err != nil {
		d.log.Warn("login failed", slog.String("nick", nick), slog.Any("error", err))
		c.RequestClose()
		return
	}

	c.QueueOutbound([]byte(fmt.Sprintf("$Hello %s%c", nick, conn.Sentinel)))
	d.lookupRegisteredClass(h, nick)
}

// lookupRegisteredClass asks the registered-user store, off the reactor
// goroutine, whether nick has a registered class to elevate to. The
// connection logs in immediately at the default class; SetLiveClass is only
// applied once the store answers, through QueryStore's buffered results
// channel, never from the worker goroutine itself.
func (d *Dispatcher) lookupRegisteredClass(h *hub.Context, nick string) {
	h.QueryStore(func(store users.Store) (any, error) {
		rec, err := store.Find(context.Background(), nick)
		if err != nil {
			return nil, err
		}
		return rec.Class, nil
	}, func(val any, err error) {
		if err != nil {
			return // unregistered nick, or a lookup failure: stays at the default class
		}
		h.SetLiveClass(nick, val.(int))
	})
}

// handleChat runs a bare main-chat line through the ParsedMsgChat hook.
// Broadcasting the (possibly rewritten) line to other occupants is a room
// abstraction this dispatcher does not own; a veto or rewrite here is only
// observable to a caller that also wires a broadcast layer on top.
func (d *Dispatcher) handleChat(h *hub.Context, c *conn.Connection, line string) {
	nick := loginNick(c)
	if nick == "" {
		return
	}

	text := line
	if idx := strings.Index(line, " <"+nick+"> "); idx >= 0 {
		text = line[idx+len(" <"+nick+"> "):]
	}

	d.dispatchHook(script.HookParsedMsgChat, nick, text)
}

func (d *Dispatcher) handlePM(h *hub.Context, c *conn.Connection, rest string) {
	// "$To: <target> From: <nick> $<text>"
	toIdx := strings.Index(rest, "From: ")
	if toIdx < 0 {
		return
	}
	target := strings.TrimSpace(rest[:toIdx])
	from := rest[toIdx+len("From: "):]
	dollar := strings.Index(from, "$")
	if dollar < 0 {
		return
	}
	nick := strings.TrimSpace(from[:dollar])
	text := from[dollar+1:]

	veto, rewrite, ok := d.dispatchHook(script.HookParsedMsgPM, nick, target, text)
	if ok && veto {
		return
	}
	if ok && rewrite != "" {
		text = rewrite
	}

	h.ReportUser(target, fmt.Sprintf("$To: %s From: %s $%s", target, nick, text))
}

func (d *Dispatcher) handleSearch(h *hub.Context, c *conn.Connection, rest string) {
	nick := loginNick(c)
	d.dispatchHook(script.HookParsedMsgSearch, nick, rest)
}

func (d *Dispatcher) handleQuit(h *hub.Context, c *conn.Connection) {
	nick := loginNick(c)
	if nick == "" {
		return
	}
	h.UnbindUser(nick)
	c.RequestClose()
}

// dispatchHook calls the scripting bridge if one is installed, reporting ok
// = false when there is no bridge so callers can skip veto/rewrite handling
// entirely rather than misreading a no-op dispatch as an explicit allow.
func (d *Dispatcher) dispatchHook(hook string, args ...any) (veto bool, rewrite string, ok bool) {
	if d.bridge == nil {
		return false, "", false
	}
	veto, rewrite, err := d.bridge.Dispatch(hook, args...)
	if err != nil {
		d.log.Warn("script hook failed", slog.String("hook", hook), slog.Any("error", err))
		return false, "", false
	}
	return veto, rewrite, true
}

// loginNick reads the nick a Connection logged in with, or "" before login.
func loginNick(c *conn.Connection) string {
	u := c.User()
	if u == nil {
		return ""
	}
	return u.Nick()
}

// splitCommand splits a frame into its leading "$Command" token (if any)
// and the remainder, trimmed of the separating space. Frames with no
// leading '$' return cmd == "".
func splitCommand(frame []byte) (cmd, rest string) {
	s := string(frame)
	if !strings.HasPrefix(s, "$") {
		return "", s
	}
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		return s[:idx], strings.TrimSpace(s[idx+1:])
	}
	return s, ""
}

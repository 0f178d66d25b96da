// Package script implements the embeddable scripting bridge, grounded on
// original_source/plugins/perl/callbacks.cpp: a fixed table of named
// callback hooks invoked with marshalled arguments, plus a set of
// Go-implemented functions scripts call back into the hub through. This
// module swaps the original's embedded Perl interpreter for an embeddable
// Lua one (github.com/yuin/gopher-lua) — same role, same hook names.
package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/pavel-pimenov/verlihub/internal/users"
)

// Hook names a loaded script may define. Any hook the script leaves
// undefined is simply never called — scripts opt into the events they
// care about.
const (
	HookNewConn         = "NewConn"
	HookCloseConn       = "CloseConn"
	HookParsedMsgChat   = "ParsedMsgChat"
	HookParsedMsgPM     = "ParsedMsgPM"
	HookParsedMsgSearch = "ParsedMsgSearch"
)

// HubAPI is the narrow surface of Hub Context operations a script may call
// back into (callbacks.cpp's nCallback functions), kept as an interface so
// this package never imports internal/hub and the two cannot cycle.
type HubAPI interface {
	IsUserOnline(nick string) bool
	IsBot(nick string) bool
	InUserSupports(nick, flag string) bool
	ReportUser(nick, message string) bool
	RegisterBot(nick, description, speed, email string, shareSize int64, class int) *users.Live
	UnregisterBot(nick string)
	GetTopic() string
	SetTopic(topic string) bool
}

// Bridge owns one *lua.LState. It is called only from the reactor
// goroutine, once per dispatched frame — no locking, the same
// single-threaded discipline internal/hub relies on.
type Bridge struct {
	state *lua.LState
	api   HubAPI
}

// New creates a Bridge backed by a fresh Lua state with every HubAPI
// callback registered as a global function.
func New(api HubAPI) *Bridge {
	b := &Bridge{state: lua.NewState(), api: api}
	b.registerCallbacks()
	return b
}

// LoadFile compiles and executes path in the bridge's Lua state,
// registering whatever hook functions it defines as globals.
func (b *Bridge) LoadFile(path string) error {
	if err := b.state.DoFile(path); err != nil {
		return fmt.Errorf("script: load %s: %w", path, err)
	}
	return nil
}

// Close releases the Lua state.
func (b *Bridge) Close() {
	b.state.Close()
}

func (b *Bridge) registerCallbacks() {
	b.state.SetGlobal("IsUserOnline", b.state.NewFunction(b.luaIsUserOnline))
	b.state.SetGlobal("IsBot", b.state.NewFunction(b.luaIsBot))
	b.state.SetGlobal("InUserSupports", b.state.NewFunction(b.luaInUserSupports))
	b.state.SetGlobal("ReportUser", b.state.NewFunction(b.luaReportUser))
	b.state.SetGlobal("RegBot", b.state.NewFunction(b.luaRegBot))
	b.state.SetGlobal("UnRegBot", b.state.NewFunction(b.luaUnRegBot))
	b.state.SetGlobal("GetTopic", b.state.NewFunction(b.luaGetTopic))
	b.state.SetGlobal("SetTopic", b.state.NewFunction(b.luaSetTopic))
}

func (b *Bridge) luaIsUserOnline(L *lua.LState) int {
	L.Push(lua.LBool(b.api.IsUserOnline(L.CheckString(1))))
	return 1
}

func (b *Bridge) luaIsBot(L *lua.LState) int {
	L.Push(lua.LBool(b.api.IsBot(L.CheckString(1))))
	return 1
}

func (b *Bridge) luaInUserSupports(L *lua.LState) int {
	nick := L.CheckString(1)
	flag := L.CheckString(2)
	L.Push(lua.LBool(b.api.InUserSupports(nick, flag)))
	return 1
}

func (b *Bridge) luaReportUser(L *lua.LState) int {
	nick := L.CheckString(1)
	msg := L.CheckString(2)
	L.Push(lua.LBool(b.api.ReportUser(nick, msg)))
	return 1
}

func (b *Bridge) luaRegBot(L *lua.LState) int {
	nick := L.CheckString(1)
	class := L.CheckInt(2)
	desc := L.CheckString(3)
	speed := L.CheckString(4)
	email := L.CheckString(5)
	share := L.CheckInt64(6)

	bot := b.api.RegisterBot(nick, desc, speed, email, share, class)
	L.Push(lua.LBool(bot != nil))
	return 1
}

func (b *Bridge) luaUnRegBot(L *lua.LState) int {
	b.api.UnregisterBot(L.CheckString(1))
	L.Push(lua.LBool(true))
	return 1
}

func (b *Bridge) luaGetTopic(L *lua.LState) int {
	L.Push(lua.LString(b.api.GetTopic()))
	return 1
}

func (b *Bridge) luaSetTopic(L *lua.LState) int {
	L.Push(lua.LBool(b.api.SetTopic(L.CheckString(1))))
	return 1
}

// Dispatch invokes the named hook if the loaded script defines it,
// marshalling args positionally. Returns veto (the hook's first return
// value, coerced to bool — true means the event should be suppressed) and
// rewrite (its second return value, coerced to string — a replacement for
// the dispatched text, empty when the hook left it unset). A hook the
// script never defined is a no-op: veto=false, rewrite="", err=nil.
func (b *Bridge) Dispatch(hook string, args ...any) (veto bool, rewrite string, err error) {
	fn := b.state.GetGlobal(hook)
	if fn == lua.LNil {
		return false, "", nil
	}

	luaArgs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		luaArgs = append(luaArgs, toLua(a))
	}

	if err := b.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    2,
		Protect: true,
	}, luaArgs...); err != nil {
		return false, "", fmt.Errorf("script: hook %s: %w", hook, err)
	}

	vetoVal := b.state.Get(-2)
	rewriteVal := b.state.Get(-1)
	b.state.Pop(2)

	return lua.LVAsBool(vetoVal), lua.LVAsString(rewriteVal), nil
}

func toLua(a any) lua.LValue {
	switch v := a.(type) {
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case nil:
		return lua.LNil
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

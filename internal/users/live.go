package users

import "fmt"

// Kind distinguishes a real, connection-backed user from a synthetic bot
// (spec.md §9 "Synthetic users": "model them as a tagged variant of the
// user entity; only the real variant carries a Connection reference").
type Kind uint8

const (
	// KindReal is a user with a live underlying Connection.
	KindReal Kind = iota
	// KindBot is a synthetic user with no descriptor at all.
	KindBot
)

// ConnRef is the minimum a Connection must supply for a Live user to carry
// a back-reference to it. internal/conn.Connection satisfies this; kept as
// an interface so this package never imports internal/conn (same
// non-owning back-reference discipline as internal/conn.UserRef).
type ConnRef interface {
	PeerAddr() string
}

// Live is a currently-present hub occupant: either a real connected user
// or a synthetic bot. It is distinct from Record, which is the persisted
// registered-user row — a Live user need not be registered at all.
type Live struct {
	Kind Kind

	Nick        string
	Description string
	Speed       string
	Email       string
	ShareSize   int64
	Class       int

	// Conn is nil for KindBot, non-nil for KindReal.
	Conn ConnRef
}

// NewRealUser creates a Live occupant backed by an open connection.
func NewRealUser(nick string, conn ConnRef) *Live {
	return &Live{Kind: KindReal, Nick: nick, Conn: conn}
}

// NewBot creates a synthetic, connection-less occupant (spec.md §4.D "Bot
// registration").
func NewBot(nick, description, speed, email string, shareSize int64, class int) *Live {
	return &Live{
		Kind:        KindBot,
		Nick:        nick,
		Description: description,
		Speed:       speed,
		Email:       email,
		ShareSize:   shareSize,
		Class:       class,
	}
}

// IsBot reports whether this occupant has no underlying connection.
func (l *Live) IsBot() bool { return l.Kind == KindBot }

// MyINFO renders the server-produced $MyINFO frame the hub broadcasts on
// registration, edit, and whenever a bot's description changes. Format
// follows the standard DC MyINFO layout the corpus's cuser.cpp builds for
// bots: "$MyINFO $ALL <nick> <description>$ $<speed>\x01$<email>$<share>$".
func (l *Live) MyINFO() string {
	return fmt.Sprintf("$MyINFO $ALL %s %s$ $%s\x01$%s$%d$",
		l.Nick, l.Description, l.Speed, l.Email, l.ShareSize)
}

// IsOperator reports whether this occupant's class qualifies for the
// operator-list broadcast (spec.md §4.D: "class >= 3 bots additionally
// broadcast an operator-list refresh").
func (l *Live) IsOperator() bool { return l.Class >= 3 }

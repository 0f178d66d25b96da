package users_test

import (
	"strings"
	"testing"

	"github.com/pavel-pimenov/verlihub/internal/users"
)

func TestBotMyINFOAndOperatorThreshold(t *testing.T) {
	bot := users.NewBot("OpBot", "operator bot", "1000", "bot@example.com", 0, 4)

	if !bot.IsBot() {
		t.Fatal("IsBot() = false for a bot")
	}
	if !bot.IsOperator() {
		t.Fatal("IsOperator() = false for class 4")
	}

	info := bot.MyINFO()
	if !strings.HasPrefix(info, "$MyINFO $ALL OpBot ") {
		t.Fatalf("MyINFO() = %q, want $MyINFO $ALL OpBot ...", info)
	}
	if !strings.Contains(info, "bot@example.com") {
		t.Fatalf("MyINFO() = %q, missing email", info)
	}
}

func TestBotBelowOperatorThreshold(t *testing.T) {
	bot := users.NewBot("ChatBot", "chat relay", "1000", "", 0, 2)
	if bot.IsOperator() {
		t.Fatal("IsOperator() = true for class 2, want false")
	}
}

type fakeConnRef struct{ addr string }

func (f fakeConnRef) PeerAddr() string { return f.addr }

func TestRealUserIsNotBot(t *testing.T) {
	u := users.NewRealUser("Dan", fakeConnRef{addr: "1.2.3.4"})
	if u.IsBot() {
		t.Fatal("IsBot() = true for a real user")
	}
	if u.Conn == nil {
		t.Fatal("real user should carry its Connection back-reference")
	}
}

package reactor_test

import (
	"errors"
	"testing"

	"github.com/pavel-pimenov/verlihub/internal/reactor"
)

func TestTableErrorsClassifyAsProtocolViolation(t *testing.T) {
	table := reactor.NewTable(nil)

	if err := table.Add(nil); reactor.KindOf(err) != reactor.KindProtocolViolation {
		t.Fatalf("KindOf(Add(nil)) = %v, want KindProtocolViolation", reactor.KindOf(err))
	}
	if err := table.Add(fakeConn{d: -1}); reactor.KindOf(err) != reactor.KindProtocolViolation {
		t.Fatalf("KindOf(Add(negative)) = %v, want KindProtocolViolation", reactor.KindOf(err))
	}

	c := fakeConn{d: 5}
	if err := table.Add(c); err != nil {
		t.Fatalf("Add(c): %v", err)
	}
	dup := table.Add(c)
	if reactor.KindOf(dup) != reactor.KindProtocolViolation {
		t.Fatalf("KindOf(Add(dup)) = %v, want KindProtocolViolation", reactor.KindOf(dup))
	}
	if !errors.Is(dup, reactor.ErrAlreadyPresent) {
		t.Fatal("errors.Is(dup, ErrAlreadyPresent) = false, want true — KindError must still unwrap to the sentinel")
	}
}

func TestKindOfUnknownForUntaggedErrors(t *testing.T) {
	if got := reactor.KindOf(errors.New("plain")); got != reactor.KindUnknown {
		t.Fatalf("KindOf(plain error) = %v, want KindUnknown", got)
	}
	if got := reactor.KindOf(nil); got != reactor.KindUnknown {
		t.Fatalf("KindOf(nil) = %v, want KindUnknown", got)
	}
}

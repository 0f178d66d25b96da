package reactor_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pavel-pimenov/verlihub/internal/reactor"
)

func TestRegistrarOptInOptOutRoundTrip(t *testing.T) {
	reg := reactor.NewRegistrar()

	reg.OptIn(4, reactor.Readable)
	if got := reg.OptGet(4); got != reactor.Readable {
		t.Fatalf("OptGet(4) = %v, want Readable", got)
	}

	reg.OptIn(4, reactor.Writable)
	if got := reg.OptGet(4); !got.Has(reactor.Readable) || !got.Has(reactor.Writable) {
		t.Fatalf("OptGet(4) = %v, want Readable|Writable", got)
	}

	reg.OptOut(4, reactor.Readable)
	got := reg.OptGet(4)
	if got.Has(reactor.Readable) {
		t.Fatal("Readable bit survived OptOut")
	}
	if !got.Has(reactor.Writable) {
		t.Fatal("OptOut(Readable) should not clear Writable")
	}
}

func TestRegistrarOptOutUntrackedIsNoop(t *testing.T) {
	reg := reactor.NewRegistrar()
	reg.OptOut(10, reactor.All) // never added; must not panic or grow oddly
	if got := reg.OptGet(10); got != 0 {
		t.Fatalf("OptGet(10) = %v, want 0", got)
	}
}

func TestRegistrarRevEventsLifecycle(t *testing.T) {
	reg := reactor.NewRegistrar()

	reg.SetRevents(7, reactor.Readable)
	if !reg.RevTest(7) {
		t.Fatal("RevTest(7) = false after SetRevents(Readable)")
	}
	if got := reg.RevGet(7); got != reactor.Readable {
		t.Fatalf("RevGet(7) = %v, want Readable", got)
	}

	reg.ClearRevents(7)
	if reg.RevTest(7) {
		t.Fatal("RevTest(7) = true after ClearRevents")
	}
}

func TestRegistrarSyncCallbackFiresOnChange(t *testing.T) {
	reg := reactor.NewRegistrar()

	var gotDescriptor reactor.Descriptor
	var gotMask reactor.EventMask
	calls := 0
	reg.SetSync(func(d reactor.Descriptor, mask reactor.EventMask) {
		calls++
		gotDescriptor = d
		gotMask = mask
	})

	reg.OptIn(9, reactor.Readable)
	if calls != 1 {
		t.Fatalf("sync called %d times, want 1", calls)
	}
	if gotDescriptor != 9 || gotMask != reactor.Readable {
		t.Fatalf("sync saw (%d, %v), want (9, Readable)", gotDescriptor, gotMask)
	}

	reg.OptOut(9, reactor.Readable)
	if calls != 2 {
		t.Fatalf("sync called %d times after OptOut, want 2", calls)
	}
	if gotMask != 0 {
		t.Fatalf("sync saw mask %v after clearing, want 0", gotMask)
	}
}

func TestRegistrarConnOverloads(t *testing.T) {
	reg := reactor.NewRegistrar()
	c := fakeConn{d: 11}

	reg.OptInConn(c, reactor.Writable)
	if got := reg.OptGetConn(c); got != reactor.Writable {
		t.Fatalf("OptGetConn = %v, want Writable", got)
	}

	reg.SetRevents(c.Descriptor(), reactor.Writable)
	if !reg.RevTestConn(c) {
		t.Fatal("RevTestConn = false, want true")
	}

	reg.OptOutConn(c, reactor.Writable)
	if got := reg.OptGetConn(c); got != 0 {
		t.Fatalf("OptGetConn after OptOutConn = %v, want 0", got)
	}

	// nil Conn overloads must not panic and report zero values.
	if reg.OptGetConn(nil) != 0 || reg.RevGetConn(nil) != 0 || reg.RevTestConn(nil) {
		t.Fatal("nil Conn overloads should report zero values")
	}
}

// TestCloseBitSynthesizesImmediateWakeup wires a real Registrar to a real
// Poller the way Context does, then opts a tracked descriptor into Close
// while a Poll call is blocked on a long timeout. spec.md §4.B requires the
// poller to synthesize an immediate wakeup for this rather than waiting out
// the timeout, the contract the eventfd (epoll)/self-pipe (poll) wiring in
// each backend exists to satisfy.
func TestCloseBitSynthesizesImmediateWakeup(t *testing.T) {
	poller, err := reactor.NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer poller.Close()

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	d := reactor.Descriptor(fds[0])
	if err := poller.AddFD(d, 0); err != nil {
		t.Fatalf("AddFD: %v", err)
	}
	defer poller.RemoveFD(d)

	reg := reactor.NewRegistrar()
	reg.SetSync(func(d reactor.Descriptor, mask reactor.EventMask) {
		if err := poller.SetInterest(d, mask); err != nil {
			t.Errorf("SetInterest: %v", err)
		}
	})
	reg.OptIn(d, 0) // establishes a synced baseline before the blocking Poll

	go func() {
		time.Sleep(20 * time.Millisecond)
		reg.OptIn(d, reactor.Close)
	}()

	start := time.Now()
	if _, err := poller.Poll(2 * time.Second); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed >= time.Second {
		t.Fatalf("Poll took %v to return, want a near-immediate wakeup well under the 2s timeout", elapsed)
	}
}

func TestRegistrarGrowthPreservesPriorMappings(t *testing.T) {
	reg := reactor.NewRegistrar()

	reg.OptIn(1, reactor.Readable)
	reg.OptIn(300, reactor.Writable)

	if got := reg.OptGet(1); got != reactor.Readable {
		t.Fatalf("OptGet(1) after growth = %v, want Readable", got)
	}
	if got := reg.OptGet(300); got != reactor.Writable {
		t.Fatalf("OptGet(300) = %v, want Writable", got)
	}
}

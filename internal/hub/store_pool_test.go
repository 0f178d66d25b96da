package hub

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pavel-pimenov/verlihub/internal/config"
	"github.com/pavel-pimenov/verlihub/internal/users"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Listen.Port = 0
	cfg.Geo.DBDir = t.TempDir()
	cfg.DB.DSN = ""
	cfg.Reactor.PollTimeout = 50 * time.Millisecond
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// waitDrain polls drainStoreResults until fn reports the expected result
// landed, or fails the test after a short timeout. There is no reactor
// goroutine running in this test, so calling drainStoreResults directly
// from the test goroutine is safe (mirrors what tick() does each cycle).
func waitDrain(t *testing.T, h *Context, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.drainStoreResults()
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for store result to drain")
}

func TestQueryStoreDeliversResultOnDrain(t *testing.T) {
	h, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown(context.Background())

	if err := h.store.Create(context.Background(), &users.Record{Nick: "alice", Class: 3}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	var gotClass int
	var gotErr error
	applied := false
	h.QueryStore(func(s users.Store) (any, error) {
		rec, err := s.Find(context.Background(), "alice")
		if err != nil {
			return nil, err
		}
		return rec.Class, nil
	}, func(val any, err error) {
		gotErr = err
		if err == nil {
			gotClass = val.(int)
		}
		applied = true
	})

	waitDrain(t, h, func() bool { return applied })

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotClass != 3 {
		t.Fatalf("class = %d, want 3", gotClass)
	}
}

func TestQueryStoreNotFoundSurfacesError(t *testing.T) {
	h, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown(context.Background())

	var gotErr error
	applied := false
	h.QueryStore(func(s users.Store) (any, error) {
		return s.Find(context.Background(), "nobody")
	}, func(_ any, err error) {
		gotErr = err
		applied = true
	})

	waitDrain(t, h, func() bool { return applied })

	if gotErr != users.ErrNotFound {
		t.Fatalf("err = %v, want users.ErrNotFound", gotErr)
	}
}

func TestSetLiveClassUpdatesLiveOccupant(t *testing.T) {
	h, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown(context.Background())

	h.RegisterBot("bob", "desc", "1000", "b@example.com", 0, 1)
	h.SetLiveClass("bob", 5)

	l, ok := h.Live("bob")
	if !ok {
		t.Fatal("bob not found after RegisterBot")
	}
	if l.Class != 5 {
		t.Fatalf("Class = %d, want 5", l.Class)
	}

	// A nick with no live occupant is a harmless no-op.
	h.SetLiveClass("nobody", 9)
}

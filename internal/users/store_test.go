package users_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pavel-pimenov/verlihub/internal/users"
)

func TestMemStoreCreateFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemStore()

	r := &users.Record{Nick: "Dan", Class: 5, Email: "dan@example.com"}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Find(ctx, "Dan")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Class != 5 || got.Email != "dan@example.com" {
		t.Fatalf("Find returned %+v, want matching fields", got)
	}
}

func TestMemStoreCreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemStore()

	if err := store.Create(ctx, &users.Record{Nick: "Dan"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}

	err := store.Create(ctx, &users.Record{Nick: "Dan"})
	if !errors.Is(err, users.ErrAlreadyRegistered) {
		t.Fatalf("second Create err = %v, want ErrAlreadyRegistered", err)
	}
}

func TestMemStoreFindMissingIsNotFound(t *testing.T) {
	store := users.NewMemStore()
	_, err := store.Find(context.Background(), "Ghost")
	if !errors.Is(err, users.ErrNotFound) {
		t.Fatalf("Find err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreListByClassSorted(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemStore()

	for _, r := range []*users.Record{
		{Nick: "Zara", Class: 3},
		{Nick: "Amy", Class: 3},
		{Nick: "Bob", Class: 1},
	} {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s): %v", r.Nick, err)
		}
	}

	nicks, err := store.ListByClass(ctx, 3)
	if err != nil {
		t.Fatalf("ListByClass: %v", err)
	}
	want := []string{"Amy", "Zara"}
	if len(nicks) != len(want) || nicks[0] != want[0] || nicks[1] != want[1] {
		t.Fatalf("ListByClass(3) = %v, want %v", nicks, want)
	}
}

func TestMemStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemStore()

	if err := store.Create(ctx, &users.Record{Nick: "Dan"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, "Dan"); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := store.Delete(ctx, "Dan"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := store.Find(ctx, "Dan"); !errors.Is(err, users.ErrNotFound) {
		t.Fatalf("Find after Delete err = %v, want ErrNotFound", err)
	}
}

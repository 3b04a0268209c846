// Package storagetest runs the same behavioural checks against every Store implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage"
)

// Harness builds a fresh store and seeds leak records the way the ingestion process would.
type Harness struct {
	New       func(t *testing.T) storage.Store
	SeedLeaks func(t *testing.T, s storage.Store, leaks []domain.Leak)
}

// Run executes the store contract checks.
func Run(t *testing.T, h Harness) {
	t.Run("subscribers", func(t *testing.T) { testSubscribers(t, h) })
	t.Run("leaks", func(t *testing.T) { testLeaks(t, h) })
	t.Run("cursor", func(t *testing.T) { testCursor(t, h) })
}

func testSubscribers(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	defer s.Close()

	subs, err := s.ListSubscribers(ctx)
	if err != nil || len(subs) != 0 {
		t.Fatalf("empty store: subs=%v err=%v", subs, err)
	}

	if err := s.CreateSubscriber(ctx, "bob@x.io", 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateSubscriber(ctx, "bob@x.io", 43); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate create err = %v, want ErrAlreadyExists", err)
	}
	ok, err := s.SubscriberExists(ctx, "bob@x.io")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	subs, err = s.ListSubscribers(ctx)
	if err != nil || subs["bob@x.io"] != 42 || len(subs) != 1 {
		t.Fatalf("subs = %v, err = %v", subs, err)
	}

	if err := s.DeleteSubscriber(ctx, "bob@x.io"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteSubscriber(ctx, "bob@x.io"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
	ok, err = s.SubscriberExists(ctx, "bob@x.io")
	if err != nil || ok {
		t.Fatalf("exists after delete = %v, %v", ok, err)
	}
}

func testLeaks(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	defer s.Close()

	info := "passwords"
	h.SeedLeaks(t, s, []domain.Leak{
		{ID: "l1", Email: "bob@x.io", Source: "BreachDB"},
		{ID: "l2", Email: "amy@x.io", Source: "Paste", LeakInfo: &info},
	})

	leaks, err := s.ListLeaks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leaks) != 2 || leaks[0].ID != "l1" || leaks[1].ID != "l2" {
		t.Fatalf("leaks = %+v", leaks)
	}
	if leaks[0].LeakInfo != nil || leaks[1].LeakInfo == nil || *leaks[1].LeakInfo != info {
		t.Fatalf("leak_info not preserved: %+v", leaks)
	}

	if err := s.MarkLeakNotified(ctx, "l1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkLeakNotified(ctx, "l1"); err != nil {
		t.Fatalf("second mark must be a no-op, got %v", err)
	}
	if err := s.MarkLeakNotified(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}

	leaks, err = s.ListLeaks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !leaks[0].Notified || leaks[1].Notified {
		t.Fatalf("notified flags = %v/%v, want true/false", leaks[0].Notified, leaks[1].Notified)
	}
}

func testCursor(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	defer s.Close()

	cs, ok := s.(storage.CursorStore)
	if !ok {
		t.Skip("store does not persist the offset")
	}
	off, err := cs.LoadOffset(ctx)
	if err != nil || off != 0 {
		t.Fatalf("initial offset = %d, %v", off, err)
	}
	if err := cs.SaveOffset(ctx, 15); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cs.SaveOffset(ctx, 9); err != nil {
		t.Fatalf("save lower: %v", err)
	}
	off, err = cs.LoadOffset(ctx)
	if err != nil || off != 15 {
		t.Fatalf("offset = %d, %v; want 15", off, err)
	}
}

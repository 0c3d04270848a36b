package store_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store/memory"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

type failingBackend struct{}

func (failingBackend) Load(context.Context, string) (*types.LockDocument, error) {
	return nil, errors.New("disk on fire")
}

func (failingBackend) Save(context.Context, string, *types.LockDocument) error {
	return errors.New("disk on fire")
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	s := store.New(failingBackend{}, "front-door", zap.NewNop())

	s.Load(context.Background())

	if got := s.UserCount(); got != 0 {
		t.Fatalf("expected empty store after failed load, got %d users", got)
	}
	if err := s.Save(context.Background()); err == nil {
		t.Fatal("expected save error to surface")
	}
}

func TestSaveThenLoadKeepsUsers(t *testing.T) {
	backend := memory.NewDocumentBackend()
	ctx := context.Background()

	s := store.New(backend, "front-door", zap.NewNop())
	s.PutUser(&types.SlotRecord{Slot: 2, Name: "alice", CodeType: types.CodeTypePIN, Code: "1234"})
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := store.New(backend, "front-door", zap.NewNop())
	reloaded.Load(ctx)

	rec, ok := reloaded.User(2)
	if !ok {
		t.Fatal("expected slot 2 after reload")
	}
	if rec.Name != "alice" || rec.Code != "1234" {
		t.Fatalf("unexpected record after reload: %+v", rec)
	}
}

func TestUserReturnsCopy(t *testing.T) {
	s := store.New(memory.NewDocumentBackend(), "front-door", zap.NewNop())
	s.PutUser(&types.SlotRecord{Slot: 1, Name: "alice", CodeType: types.CodeTypePIN})

	rec, _ := s.User(1)
	rec.Name = "mallory"

	again, _ := s.User(1)
	if again.Name != "alice" {
		t.Fatalf("mutation through returned record leaked into store: %q", again.Name)
	}
}

func TestUsersSortedBySlot(t *testing.T) {
	s := store.New(memory.NewDocumentBackend(), "front-door", zap.NewNop())
	for _, slot := range []int{7, 2, 11} {
		s.PutUser(&types.SlotRecord{Slot: slot, CodeType: types.CodeTypePIN})
	}

	users := s.Users()
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	for i, want := range []int{2, 7, 11} {
		if users[i].Slot != want {
			t.Fatalf("users[%d].Slot = %d, want %d", i, users[i].Slot, want)
		}
	}
}

func TestClearEmptiesSlotMap(t *testing.T) {
	s := store.New(memory.NewDocumentBackend(), "front-door", zap.NewNop())
	s.PutUser(&types.SlotRecord{Slot: 1, CodeType: types.CodeTypePIN})
	s.PutUser(&types.SlotRecord{Slot: 2, CodeType: types.CodeTypeFOB})

	s.Clear()

	if got := s.UserCount(); got != 0 {
		t.Fatalf("expected 0 users after clear, got %d", got)
	}
	if _, ok := s.User(1); ok {
		t.Fatal("expected slot 1 gone after clear")
	}
}

func TestLoadAdoptsConfiguredIdentity(t *testing.T) {
	backend := memory.NewDocumentBackend()
	ctx := context.Background()

	stale := types.NewLockDocument("old-name")
	stale.Users["4"] = &types.SlotRecord{Slot: 4, Name: "bob", CodeType: types.CodeTypePIN}
	if err := backend.Save(ctx, "front-door", stale); err != nil {
		t.Fatalf("seed backend: %v", err)
	}

	s := store.New(backend, "front-door", zap.NewNop())
	s.Load(ctx)

	doc := s.Export()
	if doc.LockIdentity != "front-door" {
		t.Fatalf("expected adopted identity front-door, got %q", doc.LockIdentity)
	}
	if _, ok := s.User(4); !ok {
		t.Fatal("expected existing users to survive identity adoption")
	}
}

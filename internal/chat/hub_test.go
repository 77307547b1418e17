package chat

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"noob2root-bot/internal/domain"
)

func newTestHub() *Hub {
	h := NewHub(zap.NewNop())
	h.AddChannel("game", "quiz-game")
	h.AddMember(domain.Member{ID: "alice", DisplayName: "Alice"})
	h.AddMember(domain.Member{ID: "bob", DisplayName: "Bob"})
	h.AddMember(domain.Member{ID: "carol", DisplayName: "Carol"})
	return h
}

func TestSubscribeFiltersByScopeAndMatch(t *testing.T) {
	ctx := context.Background()
	h := newTestHub()
	thread, err := h.OpenScope(ctx, "game", "duel", []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("open scope: %v", err)
	}

	onlyBob := h.Subscribe(thread, func(m domain.Message) bool { return m.AuthorID == "bob" })
	defer onlyBob.Cancel()
	everything := h.Subscribe("", nil)
	defer everything.Cancel()

	if err := h.Publish(ctx, domain.Message{ScopeID: thread, AuthorID: "alice", Content: "1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Publish(ctx, domain.Message{ScopeID: thread, AuthorID: "bob", Content: "2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Send(ctx, "game", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := <-onlyBob.Messages(); got.AuthorID != "bob" || got.Content != "2" {
		t.Fatalf("unexpected message %+v", got)
	}
	select {
	case extra := <-onlyBob.Messages():
		t.Fatalf("filtered subscription got %+v", extra)
	default:
	}
	for i, want := range []string{"1", "2", "hello"} {
		got := <-everything.Messages()
		if got.Content != want {
			t.Fatalf("message %d = %q, want %q", i, got.Content, want)
		}
	}
}

func TestPrivateScopeMembership(t *testing.T) {
	ctx := context.Background()
	h := newTestHub()
	thread, err := h.OpenScope(ctx, "game", "duel", []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("open scope: %v", err)
	}

	if err := h.Publish(ctx, domain.Message{ScopeID: thread, AuthorID: "carol", Content: "1"}); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("outsider posted into a private scope: %v", err)
	}
	if h.CanRead("carol", thread) || !h.CanRead("bob", thread) || !h.CanRead("carol", "game") {
		t.Fatalf("unexpected visibility")
	}
	if got := h.Scopes("carol"); len(got) != 1 || got[0].ID != "game" {
		t.Fatalf("carol should only see the channel, got %+v", got)
	}
	if _, err := h.OpenScope(ctx, "missing", "duel", []string{"alice"}); !errors.Is(err, domain.ErrScopeNotFound) {
		t.Fatalf("expected ErrScopeNotFound, got %v", err)
	}
}

func TestCloseScope(t *testing.T) {
	ctx := context.Background()
	h := newTestHub()
	kept, _ := h.OpenScope(ctx, "game", "duel", []string{"alice", "bob"})
	gone, _ := h.OpenScope(ctx, "game", "group", []string{"alice", "bob"})
	sub := h.Subscribe(gone, nil)

	if err := h.CloseScope(ctx, kept, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	sc, ok := h.Scope(kept)
	if !ok || !sc.Locked || !sc.Archived {
		t.Fatalf("expected locked archive, got %+v", sc)
	}
	if err := h.Send(ctx, kept, "late"); !errors.Is(err, domain.ErrScopeClosed) {
		t.Fatalf("expected ErrScopeClosed, got %v", err)
	}

	if err := h.CloseScope(ctx, gone, true); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, ok := h.Scope(gone); ok {
		t.Fatalf("destroyed scope still listed")
	}
	if _, open := <-sub.Messages(); open {
		t.Fatalf("subscription to a destroyed scope should be closed")
	}
	sub.Cancel()
}

func TestRoles(t *testing.T) {
	ctx := context.Background()
	h := newTestHub()
	if err := h.GrantRole(ctx, "alice", "Cyber Pro"); err == nil {
		t.Fatalf("granting a missing role should fail")
	}
	if err := h.EnsureRole(ctx, "Cyber Pro"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.GrantRole(ctx, "alice", "Cyber Pro"); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	m, _ := h.Member(ctx, "alice")
	if len(m.Roles) != 1 || m.Roles[0] != "Cyber Pro" {
		t.Fatalf("unexpected roles %v", m.Roles)
	}
}

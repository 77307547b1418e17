package redis

import (
	"context"
	"errors"
	"testing"

	"noob2root-bot/internal/domain"
)

func TestDocumentStoreRoundTrip(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewDocumentStore(client)
	ctx := context.Background()

	var state domain.ChallengeState
	if err := store.Load(ctx, "challenges", "current", &state); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	spec := domain.DefaultChallengeCatalog[0]
	want := domain.ChallengeState{
		Date:     "2025-01-01",
		Current:  &spec,
		Progress: map[string]domain.ChallengeProgress{"u1": {QuestionsAnswered: 3, QuestionsCorrect: 2}},
	}
	if err := store.Save(ctx, "challenges", "current", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("doc:challenges:current") {
		t.Fatalf("expected doc key")
	}
	if err := store.Load(ctx, "challenges", "current", &state); err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Current == nil || state.Current.Type != domain.ChallengeQuizMaster || state.Progress["u1"].QuestionsCorrect != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestLeaderboardTop(t *testing.T) {
	_, client := newTestClient(t)
	lb := NewLeaderboard(client)
	ctx := context.Background()

	for id, pts := range map[string]int{"u1": 5, "u2": 50, "u3": 20} {
		if err := lb.Record(ctx, id, pts); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	top, err := lb.Top(ctx, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "u2" || top[0].Rank != 1 || top[1].UserID != "u3" || top[1].Score != 20 {
		t.Fatalf("unexpected top %+v", top)
	}
}

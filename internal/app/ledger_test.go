package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/infra/memory"
)

func TestLedgerCreatesRecordsLazily(t *testing.T) {
	ledger, _ := newScoringLedger(t)
	rec, err := ledger.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Points != 0 || rec.Streak != 0 || rec.CategoryPoints == nil || len(rec.Roles) != 0 {
		t.Fatalf("unexpected empty record %+v", rec)
	}
}

func TestApplyDeltaNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newScoringLedger(t)
	if _, err := ledger.ApplyDelta(ctx, "alice", 5, "webdev", 5); err != nil {
		t.Fatalf("apply: %v", err)
	}
	rec, err := ledger.ApplyDelta(ctx, "alice", -20, "webdev", -20)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Points != 0 || rec.CategoryPoints["webdev"] != 0 {
		t.Fatalf("expected clamped record, got %+v", rec)
	}
}

func TestStreakAdvancesOncePerDay(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newScoringLedger(t)
	today := domain.Day(day1)

	for i := 0; i < 4; i++ {
		if _, err := ledger.RecordActivity(ctx, "alice", today); err != nil {
			t.Fatalf("activity: %v", err)
		}
	}
	rec, _ := ledger.Get(ctx, "alice")
	if rec.Streak != 1 || rec.LastActivity != today {
		t.Fatalf("expected streak 1 after one day, got %+v", rec)
	}

	tomorrow := domain.Day(day1.AddDate(0, 0, 1))
	if _, err := ledger.RecordActivity(ctx, "alice", tomorrow); err != nil {
		t.Fatalf("activity: %v", err)
	}
	if _, err := ledger.RecordActivity(ctx, "alice", tomorrow); err != nil {
		t.Fatalf("activity: %v", err)
	}
	rec, _ = ledger.Get(ctx, "alice")
	if rec.Streak != 2 {
		t.Fatalf("expected streak 2 after two days, got %d", rec.Streak)
	}
}

func TestReconcileRolesGrantsOnce(t *testing.T) {
	ctx := context.Background()
	roles := newFakeRoles()
	ledger := app.NewLedger(memory.NewDocumentStore(), roles, nil, zap.NewNop())

	if _, err := ledger.ApplyDelta(ctx, "alice", 1200, "blender", 2100); err != nil {
		t.Fatalf("apply: %v", err)
	}
	granted, err := ledger.ReconcileRoles(ctx, "alice")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(granted) != 2 || granted[0] != "Cyber Pro" || granted[1] != "Blender Guru" {
		t.Fatalf("unexpected grants %v", granted)
	}

	// drop below and cross the thresholds again
	if _, err := ledger.ApplyDelta(ctx, "alice", -1200, "blender", -2100); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := ledger.ApplyDelta(ctx, "alice", 5000, "blender", 5000); err != nil {
		t.Fatalf("apply: %v", err)
	}
	granted, err = ledger.ReconcileRoles(ctx, "alice")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(granted) != 0 {
		t.Fatalf("roles granted twice: %v", granted)
	}
	if got := roles.granted("alice"); len(got) != 2 {
		t.Fatalf("expected two grants in total, got %v", got)
	}
	rec, _ := ledger.Get(ctx, "alice")
	if !rec.HasRole("Cyber Pro") || !rec.HasRole("Blender Guru") || len(rec.Roles) != 2 {
		t.Fatalf("unexpected roles %v", rec.Roles)
	}
}

func TestReconcileRolesRetriesFailedGrant(t *testing.T) {
	ctx := context.Background()
	roles := newFakeRoles()
	roles.failGrant = true
	ledger := app.NewLedger(memory.NewDocumentStore(), roles, nil, zap.NewNop(),
		app.WithRoleThresholds([]domain.RoleThreshold{{Name: "Starter", Points: 10, Scope: "general"}}))

	if _, err := ledger.ApplyDelta(ctx, "alice", 10, "", 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if granted, _ := ledger.ReconcileRoles(ctx, "alice"); len(granted) != 0 {
		t.Fatalf("failed grant reported as granted: %v", granted)
	}
	if rec, _ := ledger.Get(ctx, "alice"); rec.HasRole("Starter") {
		t.Fatalf("failed grant was stored")
	}

	roles.mu.Lock()
	roles.failGrant = false
	roles.mu.Unlock()
	if granted, _ := ledger.ReconcileRoles(ctx, "alice"); len(granted) != 1 {
		t.Fatalf("expected the grant to be retried, got %v", granted)
	}
	if roles.created["Starter"] != 2 {
		t.Fatalf("role should be ensured on each attempt, got %d", roles.created["Starter"])
	}
}

func TestLedgerSerializesUpdatesPerUser(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newScoringLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.ApplyDelta(ctx, "alice", 1, "general", 1); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()
	rec, _ := ledger.Get(ctx, "alice")
	if rec.Points != 50 || rec.CategoryPoints["general"] != 50 {
		t.Fatalf("lost updates: %+v", rec)
	}
}

func TestLedgerTopJoinsRecords(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newScoringLedger(t)
	for id, pts := range map[string]int{"alice": 30, "bob": 50, "carol": 10} {
		if _, err := ledger.ApplyDelta(ctx, id, pts, "", 0); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if _, err := ledger.RecordActivity(ctx, "bob", domain.Day(day1)); err != nil {
		t.Fatalf("activity: %v", err)
	}

	top, err := ledger.Top(ctx, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "bob" || top[0].Record.Streak != 1 || top[1].UserID != "alice" || top[1].Rank != 2 {
		t.Fatalf("unexpected standings %+v", top)
	}
}

func TestLedgerSurfacesStoreErrors(t *testing.T) {
	store := &failingStore{DocumentStore: memory.NewDocumentStore()}
	store.breakNow()
	ledger := app.NewLedger(store, nil, nil, zap.NewNop())

	if _, err := ledger.ApplyDelta(context.Background(), "alice", 1, "", 0); err == nil {
		t.Fatalf("expected a persistence error")
	} else if errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("store failure must not look like a missing document: %v", err)
	}
}

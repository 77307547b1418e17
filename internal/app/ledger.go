package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"noob2root-bot/internal/domain"
)

// MaxLeaderboardSize caps Top.
const MaxLeaderboardSize = 10

// Standing is one leaderboard row joined with its progress record.
type Standing struct {
	Rank   int
	UserID string
	Record domain.ProgressRecord
}

// Ledger owns the per-user progress documents. Each read-modify-write of
// one record runs under that user's lock.
type Ledger struct {
	store      DocumentStore
	roles      RoleGranter
	board      Leaderboard
	thresholds []domain.RoleThreshold
	logger     *zap.Logger
	now        func() time.Time

	locks keyedMutex
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithRoleThresholds replaces the role unlock table.
func WithRoleThresholds(t []domain.RoleThreshold) LedgerOption {
	return func(l *Ledger) { l.thresholds = append([]domain.RoleThreshold(nil), t...) }
}

// WithLedgerClock is used by tests to pin the calendar day.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store DocumentStore, roles RoleGranter, board Leaderboard, logger *zap.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:      store,
		roles:      roles,
		board:      board,
		thresholds: domain.DefaultRoleThresholds,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today is the ledger's calendar day.
func (l *Ledger) Today() string {
	return domain.Day(l.now())
}

// Get returns the user's record, or an empty one if none exists yet.
func (l *Ledger) Get(ctx context.Context, userID string) (domain.ProgressRecord, error) {
	rec, err := l.load(ctx, userID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	return rec, nil
}

// Update applies fn to the user's record and saves it atomically with
// respect to other updates of the same user.
func (l *Ledger) Update(ctx context.Context, userID string, fn func(*domain.ProgressRecord)) (domain.ProgressRecord, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	rec, err := l.load(ctx, userID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	fn(&rec)
	clampRecord(&rec)
	if err := l.store.Save(ctx, CollectionProgress, userID, rec); err != nil {
		return domain.ProgressRecord{}, fmt.Errorf("save progress %s: %w", userID, err)
	}
	l.publish(ctx, userID, rec.Points)
	return rec.Clone(), nil
}

// ApplyDelta adds points to the total and categoryDelta to category.
// Totals never drop below zero.
func (l *Ledger) ApplyDelta(ctx context.Context, userID string, pointsDelta int, category string, categoryDelta int) (domain.ProgressRecord, error) {
	return l.Update(ctx, userID, func(rec *domain.ProgressRecord) {
		rec.Points += pointsDelta
		if category != "" {
			rec.CategoryPoints[category] += categoryDelta
		}
	})
}

// RecordActivity advances the streak if day is a new activity day.
func (l *Ledger) RecordActivity(ctx context.Context, userID, day string) (domain.ProgressRecord, error) {
	return l.Update(ctx, userID, func(rec *domain.ProgressRecord) {
		TouchStreak(rec, day)
	})
}

// TouchStreak increments the streak once per distinct activity day.
func TouchStreak(rec *domain.ProgressRecord, day string) bool {
	if rec.LastActivity == day {
		return false
	}
	rec.Streak++
	rec.LastActivity = day
	return true
}

// ReconcileRoles grants every threshold role the user has reached and not
// yet unlocked. A failed grant is logged and left for the next call.
func (l *Ledger) ReconcileRoles(ctx context.Context, userID string) ([]string, error) {
	rec, err := l.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var granted []string
	for _, t := range l.thresholds {
		if rec.HasRole(t.Name) || !reached(rec, t) {
			continue
		}
		if l.roles != nil {
			if err := l.roles.EnsureRole(ctx, t.Name); err != nil {
				l.logger.Warn("ensure role failed", zap.String("role", t.Name), zap.Error(err))
				continue
			}
			if err := l.roles.GrantRole(ctx, userID, t.Name); err != nil {
				l.logger.Warn("grant role failed", zap.String("user_id", userID), zap.String("role", t.Name), zap.Error(err))
				continue
			}
		}
		granted = append(granted, t.Name)
	}
	if len(granted) == 0 {
		return nil, nil
	}

	_, err = l.Update(ctx, userID, func(rec *domain.ProgressRecord) {
		for _, name := range granted {
			if !rec.HasRole(name) {
				rec.Roles = append(rec.Roles, name)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("roles unlocked", zap.String("user_id", userID), zap.Strings("roles", granted))
	return granted, nil
}

// Top returns up to limit users by total points, capped at MaxLeaderboardSize.
func (l *Ledger) Top(ctx context.Context, limit int) ([]Standing, error) {
	if l.board == nil {
		return nil, nil
	}
	if limit <= 0 || limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}
	entries, err := l.board.Top(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard top: %w", err)
	}
	out := make([]Standing, 0, len(entries))
	for i, e := range entries {
		rec, err := l.Get(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, Standing{Rank: i + 1, UserID: e.UserID, Record: rec})
	}
	return out, nil
}

func (l *Ledger) load(ctx context.Context, userID string) (domain.ProgressRecord, error) {
	var rec domain.ProgressRecord
	err := l.store.Load(ctx, CollectionProgress, userID, &rec)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return domain.ProgressRecord{}, fmt.Errorf("load progress %s: %w", userID, err)
	}
	if rec.CategoryPoints == nil {
		rec.CategoryPoints = make(map[string]int)
	}
	if rec.Roles == nil {
		rec.Roles = []string{}
	}
	return rec, nil
}

// publish mirrors the total onto the leaderboard; failures only get logged.
func (l *Ledger) publish(ctx context.Context, userID string, points int) {
	if l.board == nil {
		return
	}
	if err := l.board.Record(ctx, userID, points); err != nil {
		l.logger.Warn("leaderboard update failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func reached(rec domain.ProgressRecord, t domain.RoleThreshold) bool {
	if t.Scope == "general" || t.Scope == "" {
		return rec.Points >= t.Points
	}
	return rec.CategoryPoints[t.Scope] >= t.Points
}

func clampRecord(rec *domain.ProgressRecord) {
	if rec.Points < 0 {
		rec.Points = 0
	}
	for k, v := range rec.CategoryPoints {
		if v < 0 {
			rec.CategoryPoints[k] = 0
		}
	}
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

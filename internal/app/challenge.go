package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/monitoring"
)

const challengeKey = "current"

// ChallengeReward reports a daily challenge credit made while recording an answer.
type ChallengeReward struct {
	Points int
	Task   string
}

// ChallengeTrackerConfig holds the tracker knobs.
type ChallengeTrackerConfig struct {
	// AnnounceScope receives the rotation announcement; empty disables it.
	AnnounceScope string
	// ClaimOnce credits the reward only the first time the objective is met each day.
	ClaimOnce   bool
	RotateEvery time.Duration
	Catalog     []domain.ChallengeSpec
}

// ChallengeTracker holds the single daily challenge document.
type ChallengeTracker struct {
	store    DocumentStore
	ledger   *Ledger
	platform Platform
	cfg      ChallengeTrackerConfig
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewChallengeTracker(store DocumentStore, ledger *Ledger, platform Platform, cfg ChallengeTrackerConfig, logger *zap.Logger, m *monitoring.Metrics) *ChallengeTracker {
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = domain.DefaultChallengeCatalog
	}
	if cfg.RotateEvery <= 0 {
		cfg.RotateEvery = 24 * time.Hour
	}
	return &ChallengeTracker{
		store:    store,
		ledger:   ledger,
		platform: platform,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock pins the tracker's day in tests.
func (t *ChallengeTracker) SetClock(now func() time.Time) { t.now = now }

// Current returns the stored challenge document; an empty state if none exists.
func (t *ChallengeTracker) Current(ctx context.Context) (domain.ChallengeState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked(ctx)
}

// Rotate replaces the challenge with a uniformly drawn catalog entry and
// clears all progress, then announces it.
func (t *ChallengeTracker) Rotate(ctx context.Context) (domain.ChallengeState, error) {
	t.mu.Lock()
	spec := t.cfg.Catalog[t.rnd.Intn(len(t.cfg.Catalog))]
	state := domain.ChallengeState{
		Date:     domain.Day(t.now()),
		Current:  &spec,
		Progress: make(map[string]domain.ChallengeProgress),
	}
	err := t.store.Save(ctx, CollectionChallenges, challengeKey, state)
	t.mu.Unlock()
	if err != nil {
		return domain.ChallengeState{}, fmt.Errorf("save challenge: %w", err)
	}

	t.logger.Info("daily challenge rotated", zap.String("date", state.Date), zap.String("type", string(spec.Type)))
	if t.platform != nil && t.cfg.AnnounceScope != "" {
		text := fmt.Sprintf("🌟 **Daily Challenge (%s):** %s (+%d points)", state.Date, spec.Task, spec.Points)
		if err := t.platform.Send(ctx, t.cfg.AnnounceScope, text); err != nil {
			t.logger.Warn("announce daily challenge", zap.Error(err))
		}
	}
	return state, nil
}

// RecordAnswer updates the user's quiz_master progress for one answered round
// and credits the reward through the ledger when the objective is met.
func (t *ChallengeTracker) RecordAnswer(ctx context.Context, userID, category string, correct bool) (*ChallengeReward, error) {
	t.mu.Lock()
	state, err := t.loadLocked(ctx)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if !state.ActiveOn(domain.Day(t.now())) || state.Current.Type != domain.ChallengeQuizMaster {
		t.mu.Unlock()
		return nil, nil
	}
	spec := *state.Current
	progress := state.Progress[userID]
	progress.QuestionsAnswered++
	if correct {
		progress.QuestionsCorrect++
	}

	credit := false
	if progress.Ratio() >= spec.Requirements.Ratio && progress.QuestionsAnswered >= spec.Requirements.Count {
		progress.Completed = true
		if !t.cfg.ClaimOnce || !progress.Claimed {
			credit = true
			progress.Claimed = true
		}
	}
	state.Progress[userID] = progress
	err = t.store.Save(ctx, CollectionChallenges, challengeKey, state)
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}
	if !credit {
		return nil, nil
	}

	if _, err := t.ledger.ApplyDelta(ctx, userID, spec.Points, category, spec.Points); err != nil {
		return nil, err
	}
	t.metrics.ChallengeRewarded()
	t.logger.Info("daily challenge credited", zap.String("user_id", userID), zap.Int("points", spec.Points))
	return &ChallengeReward{Points: spec.Points, Task: spec.Task}, nil
}

// Progress returns today's challenge and the user's progress on it.
func (t *ChallengeTracker) Progress(ctx context.Context, userID string) (*domain.ChallengeSpec, domain.ChallengeProgress, string, error) {
	state, err := t.Current(ctx)
	if err != nil {
		return nil, domain.ChallengeProgress{}, "", err
	}
	if state.Current == nil {
		return nil, domain.ChallengeProgress{}, "", nil
	}
	return state.Current, state.Progress[userID], state.Date, nil
}

// RunScheduler rotates right away when no challenge is set for today and
// then on every tick until ctx is done.
func (t *ChallengeTracker) RunScheduler(ctx context.Context) error {
	state, err := t.Current(ctx)
	if err != nil {
		return err
	}
	if !state.ActiveOn(domain.Day(t.now())) {
		if _, err := t.Rotate(ctx); err != nil {
			t.logger.Error("rotate daily challenge", zap.Error(err))
		}
	}

	ticker := time.NewTicker(t.cfg.RotateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := t.Rotate(ctx); err != nil {
				t.logger.Error("rotate daily challenge", zap.Error(err))
			}
		}
	}
}

func (t *ChallengeTracker) loadLocked(ctx context.Context) (domain.ChallengeState, error) {
	var state domain.ChallengeState
	err := t.store.Load(ctx, CollectionChallenges, challengeKey, &state)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return domain.ChallengeState{}, fmt.Errorf("load challenge: %w", err)
	}
	if state.Progress == nil {
		state.Progress = make(map[string]domain.ChallengeProgress)
	}
	return state, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/monitoring"
)

// SessionRequest describes a quiz someone asked for.
type SessionRequest struct {
	Mode       domain.Mode
	Category   string
	Difficulty string
	Rounds     int
	Initiator  string
	Invitees   []string
	// ScopeID is where the command was issued. Solo quizzes play there,
	// duels open their private scope under it.
	ScopeID string
}

// SessionResult summarizes a finished session.
type SessionResult struct {
	SessionID  string
	Mode       domain.Mode
	State      domain.SessionState
	Cancelled  bool
	Played     int
	Skipped    int
	Scoreboard domain.Leaderboard
	Winners    []string
	// Earned is points credited per participant, bonus included.
	Earned map[string]int
}

// CoordinatorConfig holds the session timings and the winner bonus.
type CoordinatorConfig struct {
	AnswerWindow     time.Duration
	AcceptanceWindow time.Duration
	RoundPause       time.Duration
	WinnerBonus      int
}

// DefaultCoordinatorConfig mirrors the timings users know from the bot.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		AnswerWindow:     20 * time.Second,
		AcceptanceWindow: 60 * time.Second,
		RoundPause:       2 * time.Second,
		WinnerBonus:      10,
	}
}

// Coordinator drives sessions through their lifecycle.
type Coordinator struct {
	platform  Platform
	source    *QuestionSource
	collector *Collector
	scorer    *Scorer
	ledger    *Ledger
	sessions  SessionRepository
	cfg       CoordinatorConfig
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// CoordinatorDeps bundles the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Platform  Platform
	Source    *QuestionSource
	Collector *Collector
	Scorer    *Scorer
	Ledger    *Ledger
	Sessions  SessionRepository
	Logger    *zap.Logger
	Metrics   *monitoring.Metrics
}

func NewCoordinator(deps CoordinatorDeps, cfg CoordinatorConfig) *Coordinator {
	def := DefaultCoordinatorConfig()
	if cfg.AnswerWindow <= 0 {
		cfg.AnswerWindow = def.AnswerWindow
	}
	if cfg.AcceptanceWindow <= 0 {
		cfg.AcceptanceWindow = def.AcceptanceWindow
	}
	if cfg.RoundPause < 0 {
		cfg.RoundPause = 0
	}
	collector := deps.Collector
	if collector == nil {
		collector = NewCollector(deps.Platform, deps.Metrics)
	}
	return &Coordinator{
		platform:  deps.Platform,
		source:    deps.Source,
		collector: collector,
		scorer:    deps.Scorer,
		ledger:    deps.Ledger,
		sessions:  deps.Sessions,
		cfg:       cfg,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("noob2root-bot/internal/app"),
		now:       time.Now,
	}
}

// SetClock makes session timestamps deterministic in tests.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// Prepare validates req and returns a session ready to Run.
func (c *Coordinator) Prepare(ctx context.Context, req SessionRequest) (*Session, error) {
	category, ok := domain.NormalizeCategory(req.Category)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCategory, req.Category)
	}
	difficulty, ok := domain.NormalizeDifficulty(req.Difficulty)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDifficulty, req.Difficulty)
	}
	req.Category, req.Difficulty = category, difficulty
	req.Rounds = clampRounds(req.Mode, req.Rounds)

	switch req.Mode {
	case domain.ModeSolo:
		req.Invitees = nil
	case domain.ModeDuel:
		if len(req.Invitees) != 1 {
			return nil, fmt.Errorf("%w: a duel needs exactly one opponent", domain.ErrInvalidInvitees)
		}
	case domain.ModeGroup:
		if len(req.Invitees) < 1 || len(req.Invitees) > 5 {
			return nil, fmt.Errorf("%w: tag 1-5 users", domain.ErrInvalidInvitees)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInvitees, req.Mode)
	}

	unique := make(map[string]struct{}, len(req.Invitees))
	for _, id := range req.Invitees {
		if id == req.Initiator {
			return nil, domain.ErrSelfChallenge
		}
		if _, dup := unique[id]; dup {
			return nil, fmt.Errorf("%w: %s tagged twice", domain.ErrInvalidInvitees, id)
		}
		unique[id] = struct{}{}
		m, err := c.platform.Member(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInviteeNotEligible, id, err)
		}
		if m.Bot {
			return nil, fmt.Errorf("%w: %s is a bot", domain.ErrInviteeNotEligible, id)
		}
	}

	return NewSessionWithClock(uuid.NewString(), req, c.now), nil
}

func clampRounds(mode domain.Mode, n int) int {
	if n < 1 {
		return 1
	}
	if limit := mode.MaxRounds(); n > limit {
		return limit
	}
	return n
}

// Run plays s to the end. Errors are persistence failures or cancellation;
// the scope is closed in every case.
func (c *Coordinator) Run(ctx context.Context, s *Session) (SessionResult, error) {
	ctx, span := c.tracer.Start(ctx, "quiz.session", trace.WithAttributes(
		attribute.String("session.id", s.ID()),
		attribute.String("session.mode", string(s.Mode())),
		attribute.String("quiz.category", s.Category()),
		attribute.Int("quiz.rounds", s.Rounds()),
	))
	defer span.End()

	if c.sessions != nil {
		c.sessions.Register(s)
		defer c.sessions.Remove(s.ID())
	}
	defer s.closeSubscribers()

	log := c.logger.With(zap.String("session_id", s.ID()), zap.String("mode", string(s.Mode())))
	c.metrics.SessionStarted(string(s.Mode()))
	log.Info("session started", zap.String("initiator", s.Initiator()), zap.Strings("invitees", s.Invitees()))

	res, err := c.run(ctx, s, log)
	res.SessionID = s.ID()
	res.Mode = s.Mode()
	res.State = s.State()
	res.Played, res.Skipped = s.Played()
	res.Scoreboard = s.Scoreboard()

	outcome := "complete"
	switch {
	case err != nil:
		outcome = "aborted"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Cancelled:
		outcome = "cancelled"
	}
	c.metrics.SessionFinished(string(s.Mode()), outcome)
	log.Info("session finished", zap.String("outcome", outcome), zap.Int("played", res.Played), zap.Int("skipped", res.Skipped))
	return res, err
}

func (c *Coordinator) run(ctx context.Context, s *Session, log *zap.Logger) (SessionResult, error) {
	res := SessionResult{Earned: make(map[string]int)}
	s.join(s.Initiator(), c.displayName(ctx, s.Initiator()))

	if s.Mode() != domain.ModeSolo {
		accepted, err := c.invite(ctx, s, log)
		if err != nil {
			return res, c.abort(ctx, s, log, err)
		}
		if len(accepted) == 0 {
			c.say(ctx, s.ScopeID(), "❌ No one accepted the challenge. Duel cancelled.")
			res.Cancelled = true
			c.archive(ctx, s, log, false)
			return res, nil
		}
		for _, id := range accepted {
			s.join(id, c.displayName(ctx, id))
		}
	}
	if s.State() != domain.StateActive {
		if err := s.Transition(domain.StateActive); err != nil {
			return res, c.abort(ctx, s, log, err)
		}
	}

	day := c.ledger.Today()
	for _, id := range s.ParticipantIDs() {
		if _, err := c.ledger.RecordActivity(ctx, id, day); err != nil {
			return res, c.abort(ctx, s, log, err)
		}
	}

	for n := 1; n <= s.Rounds(); n++ {
		if err := c.round(ctx, s, n, res.Earned, log); err != nil {
			return res, c.abort(ctx, s, log, err)
		}
		if n < s.Rounds() && s.Mode() != domain.ModeSolo {
			if err := c.pause(ctx); err != nil {
				return res, c.abort(ctx, s, log, err)
			}
		}
	}

	if err := s.Transition(domain.StateComplete); err != nil {
		return res, c.abort(ctx, s, log, err)
	}
	winners, err := c.finish(ctx, s, res.Earned)
	res.Winners = winners
	if err != nil {
		return res, c.abort(ctx, s, log, err)
	}
	c.archive(ctx, s, log, s.Mode() == domain.ModeGroup)
	return res, nil
}

// invite posts the invitation and waits on every invitee at once. Each
// waiter is subscribed before the invitation goes out.
func (c *Coordinator) invite(ctx context.Context, s *Session, log *zap.Logger) ([]string, error) {
	invitees := s.Invitees()
	names := make([]string, len(invitees))
	for i, id := range invitees {
		names[i] = c.displayName(ctx, id)
	}
	scope, err := c.platform.OpenScope(ctx, s.ScopeID(), scopeName(c.displayName(ctx, s.Initiator()), names),
		append([]string{s.Initiator()}, invitees...))
	if err != nil {
		return nil, fmt.Errorf("open duel scope: %w", err)
	}
	s.setScope(scope)

	waiters := make([]*Waiter, len(invitees))
	for i, id := range invitees {
		waiters[i] = Expect(c.platform, scope, func(m domain.Message) bool {
			if m.AuthorID != id {
				return false
			}
			reply := strings.ToLower(strings.TrimSpace(m.Content))
			return reply == "accept" || reply == "decline"
		})
	}

	c.say(ctx, scope, invitationText(s, c.platform.Mention(s.Initiator()), c.mentions(invitees)))

	var (
		mu       sync.Mutex
		accepted = make([]bool, len(invitees))
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range invitees {
		g.Go(func() error {
			msg, err := waiters[i].Wait(gctx, c.cfg.AcceptanceWindow)
			switch {
			case errors.Is(err, domain.ErrAwaitTimeout):
				suffix := " Challenge cancelled for them."
				if s.Mode() == domain.ModeDuel {
					suffix = " Challenge cancelled."
				}
				c.say(gctx, scope, fmt.Sprintf("⌛ %s did not respond in time.%s", c.platform.Mention(id), suffix))
				return nil
			case err != nil:
				return err
			}
			if strings.EqualFold(strings.TrimSpace(msg.Content), "decline") {
				c.say(gctx, scope, fmt.Sprintf("❌ %s declined the challenge.", c.platform.Mention(id)))
				return nil
			}
			mu.Lock()
			accepted[i] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for i, id := range invitees {
		if accepted[i] {
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		if s.Mode() == domain.ModeDuel {
			c.say(ctx, scope, "✅ Challenge accepted! The quiz will begin shortly.")
		} else {
			c.say(ctx, scope, fmt.Sprintf("✅ Challenge accepted by: %s! The quiz will begin shortly.", strings.Join(c.mentions(out), " ")))
		}
	}
	log.Info("acceptance phase finished", zap.Strings("accepted", out))
	return out, nil
}

func (c *Coordinator) round(ctx context.Context, s *Session, n int, earned map[string]int, log *zap.Logger) error {
	ctx, span := c.tracer.Start(ctx, "quiz.round", trace.WithAttributes(attribute.Int("round", n)))
	defer span.End()

	scope := s.ScopeID()
	q, err := c.source.AcquireUnique(ctx, s.Category(), s.Difficulty(), s.Seen(), s.Mode() == domain.ModeGroup)
	if errors.Is(err, domain.ErrNoQuestion) {
		s.skipRound()
		c.metrics.RoundSkipped(string(s.Mode()))
		span.SetAttributes(attribute.Bool("round.skipped", true))
		log.Warn("no unique question", zap.Int("round", n))
		c.say(ctx, scope, noQuestionText(s, n))
		return nil
	}
	if err != nil {
		return err
	}

	ids := s.ParticipantIDs()
	players := c.mentions(ids)
	rc := c.collector.Begin(scope, ids)
	c.say(ctx, scope, questionText(s, n, q, players, c.cfg.AnswerWindow))
	answers := rc.Collect(ctx, c.cfg.AnswerWindow)
	if err := ctx.Err(); err != nil {
		return err
	}

	outcomes, err := c.scorer.ScoreRound(ctx, q, s.Category(), ids, answers)
	s.applyRound(outcomes)
	for _, out := range outcomes {
		earned[out.UserID] += out.Award
		if out.Challenge != nil {
			earned[out.UserID] += out.Challenge.Points
		}
	}
	if err != nil {
		return err
	}
	c.metrics.RoundPlayed(string(s.Mode()))
	span.SetAttributes(attribute.Int("round.answers", len(answers)))

	correct := q.CorrectOption()
	for i, out := range outcomes {
		mention := players[i]
		switch {
		case s.Mode() == domain.ModeSolo && out.Correct:
			c.say(ctx, scope, fmt.Sprintf("✅ Correct, %s! 🎉 (+%d points)", mention, out.Award))
		case s.Mode() == domain.ModeSolo && out.Answered:
			c.say(ctx, scope, fmt.Sprintf("❌ Wrong, %s. Correct: %s.", mention, correct))
		case s.Mode() == domain.ModeSolo:
			c.say(ctx, scope, fmt.Sprintf("⌛ Time’s up, %s! Correct: %s.", mention, correct))
		case out.Correct:
			c.say(ctx, scope, fmt.Sprintf("✅ %s got it right! (+%d points)", mention, out.Award))
		case out.Answered:
			c.say(ctx, scope, fmt.Sprintf("❌ %s got it wrong. Answer: %d", mention, out.Answer))
		default:
			c.say(ctx, scope, fmt.Sprintf("❌ %s got it wrong.", mention))
		}
	}
	if s.Mode() != domain.ModeSolo {
		c.say(ctx, scope, "Correct: "+correct)
	}
	for i, out := range outcomes {
		if out.Challenge == nil {
			continue
		}
		if s.Mode() == domain.ModeSolo {
			c.say(ctx, scope, fmt.Sprintf("🎉 Completed daily challenge! +%d points", out.Challenge.Points))
		} else {
			c.say(ctx, scope, fmt.Sprintf("🎉 %s completed daily challenge! +%d points", players[i], out.Challenge.Points))
		}
	}
	return nil
}

// finish resolves winners, credits bonuses and posts the summary.
func (c *Coordinator) finish(ctx context.Context, s *Session, earned map[string]int) ([]string, error) {
	scope := s.ScopeID()
	ps := s.Participants()

	switch s.Mode() {
	case domain.ModeSolo:
		p := ps[0]
		c.say(ctx, scope, fmt.Sprintf("🏁 Quiz session complete! You answered %d/%d correctly and earned %d points.", p.Score, s.Rounds(), earned[p.UserID]))
		return nil, nil

	case domain.ModeDuel:
		a, b := ps[0], ps[len(ps)-1]
		summary := fmt.Sprintf("🏁 Duel complete! %s: %d, %s: %d.", c.platform.Mention(a.UserID), a.Score, c.platform.Mention(b.UserID), b.Score)
		w, ok := DuelWinner(a, b)
		if !ok {
			c.say(ctx, scope, fmt.Sprintf("%s 🤝 It's a tie at %d-%d!", summary, a.Score, b.Score))
			return nil, nil
		}
		if _, err := c.scorer.AwardBonus(ctx, w.UserID, s.Category(), c.cfg.WinnerBonus); err != nil {
			return nil, err
		}
		earned[w.UserID] += c.cfg.WinnerBonus
		c.say(ctx, scope, fmt.Sprintf("%s 🏆 %s wins %d-%d! (+%d bonus points)", summary, c.platform.Mention(w.UserID), a.Score, b.Score, c.cfg.WinnerBonus))
		return []string{w.UserID}, nil
	}

	winners, best := GroupWinners(ps)
	ids := make([]string, 0, len(winners))
	for _, w := range winners {
		if _, err := c.scorer.AwardBonus(ctx, w.UserID, s.Category(), c.cfg.WinnerBonus); err != nil {
			return ids, err
		}
		earned[w.UserID] += c.cfg.WinnerBonus
		ids = append(ids, w.UserID)
	}
	c.say(ctx, scope, fmt.Sprintf("🏁 Group Duel complete! 🏆 %s win(s) with %d points! (+%d bonus points each)",
		strings.Join(c.mentions(ids), " & "), best, c.cfg.WinnerBonus))
	return ids, nil
}

// abort reports a fatal error in the scope and tears the session down.
func (c *Coordinator) abort(ctx context.Context, s *Session, log *zap.Logger, err error) error {
	bg := context.WithoutCancel(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn("session interrupted", zap.Error(err))
		c.say(bg, s.ScopeID(), "⚠️ Quiz interrupted.")
	} else {
		log.Error("session aborted", zap.Error(err))
		c.say(bg, s.ScopeID(), "⚠️ Quiz aborted: progress could not be saved. Please try again later.")
	}
	c.archive(bg, s, log, s.Mode() == domain.ModeGroup)
	return err
}

// archive closes the session's private scope; solo play has none.
func (c *Coordinator) archive(ctx context.Context, s *Session, log *zap.Logger, destroy bool) {
	if err := s.Transition(domain.StateArchived); err != nil {
		log.Debug("archive transition", zap.Error(err))
	}
	if !s.ownsScope() {
		return
	}
	if err := c.platform.CloseScope(context.WithoutCancel(ctx), s.ScopeID(), destroy); err != nil {
		log.Warn("close scope failed", zap.String("scope_id", s.ScopeID()), zap.Error(err))
	}
}

func (c *Coordinator) pause(ctx context.Context) error {
	if c.cfg.RoundPause <= 0 {
		return nil
	}
	t := time.NewTimer(c.cfg.RoundPause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) say(ctx context.Context, scopeID, text string) {
	if err := c.platform.Send(ctx, scopeID, text); err != nil {
		c.logger.Warn("send failed", zap.String("scope_id", scopeID), zap.Error(err))
	}
}

func (c *Coordinator) displayName(ctx context.Context, userID string) string {
	m, err := c.platform.Member(ctx, userID)
	if err != nil || m.DisplayName == "" {
		return userID
	}
	return m.DisplayName
}

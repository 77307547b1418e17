package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/domain"
)

// Config holds the router's channel and permission settings.
type Config struct {
	// GameChannel restricts quiz commands to one channel; empty allows any.
	GameChannel string
	ModRole     string
}

// Router turns chat commands into engine calls.
type Router struct {
	platform   app.Platform
	coord      *app.Coordinator
	ledger     *app.Ledger
	challenges *app.ChallengeTracker
	bank       app.QuestionBank
	cfg        Config
	logger     *zap.Logger

	wg sync.WaitGroup
}

func NewRouter(p app.Platform, coord *app.Coordinator, ledger *app.Ledger, challenges *app.ChallengeTracker, bank app.QuestionBank, cfg Config, logger *zap.Logger) *Router {
	if cfg.ModRole == "" {
		cfg.ModRole = "MOD"
	}
	return &Router{
		platform:   p,
		coord:      coord,
		ledger:     ledger,
		challenges: challenges,
		bank:       bank,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run handles commands from every scope until ctx is done, then waits for
// the sessions it started.
func (r *Router) Run(ctx context.Context) error {
	sub := r.platform.Subscribe("", func(m domain.Message) bool {
		return !m.Bot && strings.HasPrefix(strings.TrimSpace(m.Content), "/")
	})
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				r.wg.Wait()
				return nil
			}
			r.Handle(ctx, msg)
		}
	}
}

// Wait blocks until every session started by the router finished.
func (r *Router) Wait() { r.wg.Wait() }

// Handle executes one command. Quiz sessions continue in the background.
func (r *Router) Handle(ctx context.Context, msg domain.Message) {
	cmd, err := ParseCommand(msg.Content)
	if err != nil {
		r.reply(ctx, msg.ScopeID, "❌ "+err.Error())
		return
	}
	log := r.logger.With(zap.String("command", cmd.Name), zap.String("user_id", msg.AuthorID), zap.String("scope_id", msg.ScopeID))
	log.Debug("command received")

	switch cmd.Name {
	case "quiz":
		r.startSession(ctx, msg, cmd, domain.ModeSolo, 1)
	case "duel":
		r.startSession(ctx, msg, cmd, domain.ModeDuel, 5)
	case "challenge", "challenge_friend":
		r.startSession(ctx, msg, cmd, domain.ModeGroup, 5)
	case "progress":
		r.progress(ctx, msg, cmd)
	case "leaderboard":
		r.leaderboard(ctx, msg, cmd)
	case "daily_challenge":
		r.dailyChallenge(ctx, msg)
	case "quiz_add":
		r.quizAdd(ctx, msg, cmd)
	default:
		r.reply(ctx, msg.ScopeID, fmt.Sprintf("❌ Unknown command /%s.", cmd.Name))
	}
}

func (r *Router) startSession(ctx context.Context, msg domain.Message, cmd Command, mode domain.Mode, defaultRounds int) {
	if r.cfg.GameChannel != "" && msg.ScopeID != r.cfg.GameChannel {
		r.reply(ctx, msg.ScopeID, fmt.Sprintf("❌ Use this in <#%s> only.", r.cfg.GameChannel))
		return
	}
	rounds, err := cmd.Int("questions", defaultRounds)
	if err != nil {
		r.reply(ctx, msg.ScopeID, "❌ questions must be a number.")
		return
	}

	req := app.SessionRequest{
		Mode:       mode,
		Category:   cmd.Option("category", "general"),
		Difficulty: cmd.Option("difficulty", "medium"),
		Rounds:     rounds,
		Initiator:  msg.AuthorID,
		Invitees:   cmd.Mentions,
		ScopeID:    msg.ScopeID,
	}
	session, err := r.coord.Prepare(ctx, req)
	if err != nil {
		r.reply(ctx, msg.ScopeID, prepareError(err))
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res, err := r.coord.Run(ctx, session)
		if err != nil {
			r.logger.Error("session failed", zap.String("session_id", session.ID()), zap.Error(err))
			return
		}
		r.logger.Debug("session result", zap.String("session_id", res.SessionID), zap.Strings("winners", res.Winners))
	}()
}

func prepareError(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCategory):
		return fmt.Sprintf("❌ Invalid category. Choose from: %s.", strings.Join(domain.Categories, ", "))
	case errors.Is(err, domain.ErrInvalidDifficulty):
		return fmt.Sprintf("❌ Invalid difficulty. Choose from: %s.", strings.Join(domain.Difficulties, ", "))
	case errors.Is(err, domain.ErrSelfChallenge):
		return "❌ You cannot challenge yourself!"
	case errors.Is(err, domain.ErrInviteeNotEligible):
		return "❌ All challenged users must be real, non-bot members."
	case errors.Is(err, domain.ErrInvalidInvitees):
		return "❌ Tag 1-5 real users to challenge."
	}
	return "❌ Could not start the quiz."
}

func (r *Router) progress(ctx context.Context, msg domain.Message, cmd Command) {
	target := msg.AuthorID
	if len(cmd.Mentions) > 0 {
		target = cmd.Mentions[0]
	}
	rec, err := r.ledger.Get(ctx, target)
	if err != nil {
		r.logger.Error("load progress", zap.String("user_id", target), zap.Error(err))
		r.reply(ctx, msg.ScopeID, "❌ Could not load progress right now.")
		return
	}
	r.reply(ctx, msg.ScopeID, FormatProgress(r.displayName(ctx, target), rec))
}

// FormatProgress renders a progress record the way /progress shows it.
func FormatProgress(name string, rec domain.ProgressRecord) string {
	cats := make([]string, 0, len(rec.CategoryPoints))
	for k := range rec.CategoryPoints {
		cats = append(cats, k)
	}
	sort.Strings(cats)
	parts := make([]string, len(cats))
	for i, k := range cats {
		parts[i] = fmt.Sprintf("%s: %d", k, rec.CategoryPoints[k])
	}
	return fmt.Sprintf("📊 Progress for %s\nTotal Points: %d\nStreak: %d days\nCategory Points: %s\nRoles: %s",
		name, rec.Points, rec.Streak, orNone(strings.Join(parts, ", ")), orNone(strings.Join(rec.Roles, ", ")))
}

func (r *Router) leaderboard(ctx context.Context, msg domain.Message, cmd Command) {
	limit, err := cmd.Int("limit", 5)
	if _, named := cmd.Options["limit"]; !named && len(cmd.Args) > 0 {
		limit, err = strconv.Atoi(cmd.Args[0])
	}
	if err != nil {
		r.reply(ctx, msg.ScopeID, "❌ limit must be a number.")
		return
	}
	standings, err := r.ledger.Top(ctx, limit)
	if err != nil {
		r.logger.Error("load leaderboard", zap.Error(err))
		r.reply(ctx, msg.ScopeID, "❌ Could not load the leaderboard right now.")
		return
	}
	lines := []string{"🏆 Leaderboard"}
	for _, s := range standings {
		lines = append(lines, fmt.Sprintf("%d. %s — %d points (Streak: %d)", s.Rank, r.displayName(ctx, s.UserID), s.Record.Points, s.Record.Streak))
	}
	r.reply(ctx, msg.ScopeID, strings.Join(lines, "\n"))
}

func (r *Router) dailyChallenge(ctx context.Context, msg domain.Message) {
	spec, progress, date, err := r.challenges.Progress(ctx, msg.AuthorID)
	if err != nil {
		r.logger.Error("load challenge", zap.Error(err))
		r.reply(ctx, msg.ScopeID, "❌ Could not load the daily challenge right now.")
		return
	}
	if spec == nil {
		r.reply(ctx, msg.ScopeID, "❌ No challenge today. Check back later!")
		return
	}
	text := fmt.Sprintf("🌟 Daily Challenge (%s)\n%s\nReward: +%d points", date, spec.Task, spec.Points)
	if progress.QuestionsAnswered > 0 {
		text += "\nYour Progress: " + progress.String()
	}
	r.reply(ctx, msg.ScopeID, text)
}

// quizAdd expects: /quiz_add topic | question | opt1 | opt2 | opt3 | opt4 | answer [| difficulty]
func (r *Router) quizAdd(ctx context.Context, msg domain.Message, cmd Command) {
	member, err := r.platform.Member(ctx, msg.AuthorID)
	if err != nil || !hasRole(member, r.cfg.ModRole) {
		r.reply(ctx, msg.ScopeID, fmt.Sprintf("❌ You need the %s role!", r.cfg.ModRole))
		return
	}
	fields := strings.Split(cmd.Raw, "|")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 7 || len(fields) > 8 {
		r.reply(ctx, msg.ScopeID, "❌ Usage: /quiz_add topic | question | option1 | option2 | option3 | option4 | answer [| difficulty]")
		return
	}
	topic, ok := domain.NormalizeCategory(fields[0])
	if !ok {
		r.reply(ctx, msg.ScopeID, "❌ Invalid topic.")
		return
	}
	difficulty := "medium"
	if len(fields) == 8 {
		if difficulty, ok = domain.NormalizeDifficulty(fields[7]); !ok {
			r.reply(ctx, msg.ScopeID, "❌ Invalid difficulty.")
			return
		}
	}
	answer, err := strconv.Atoi(fields[6])
	if err != nil || answer < 1 || answer > 4 {
		r.reply(ctx, msg.ScopeID, "❌ Answer must be 1-4.")
		return
	}
	q := domain.Question{
		Text:       fields[1],
		Options:    fields[2:6],
		Answer:     answer,
		Provenance: domain.ProvenanceCurated,
		Difficulty: difficulty,
		Category:   topic,
	}
	if err := r.bank.Add(ctx, q); err != nil {
		r.logger.Warn("quiz_add rejected", zap.Error(err))
		if errors.Is(err, domain.ErrInvalidQuestion) {
			r.reply(ctx, msg.ScopeID, "❌ Question and all four options are required.")
			return
		}
		r.reply(ctx, msg.ScopeID, "❌ Could not save the question right now.")
		return
	}
	r.reply(ctx, msg.ScopeID, fmt.Sprintf("✅ Added quiz question to %s (%s).", topic, difficulty))
}

func (r *Router) reply(ctx context.Context, scopeID, text string) {
	if err := r.platform.Send(ctx, scopeID, text); err != nil {
		r.logger.Warn("reply failed", zap.String("scope_id", scopeID), zap.Error(err))
	}
}

func (r *Router) displayName(ctx context.Context, userID string) string {
	m, err := r.platform.Member(ctx, userID)
	if err != nil || m.DisplayName == "" {
		return userID
	}
	return m.DisplayName
}

func hasRole(m domain.Member, role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/monitoring"
)

// DefaultModels is the ordered model list tried for every question.
var DefaultModels = []string{
	"mistralai/mistral-7b-instruct:free",
	"deepseek/deepseek-chat-v3.1:free",
	"deepseek/deepseek-chat-v3-0324:free",
	"z-ai/glm-4.5-air:free",
	"mistralai/mistral-small-3.2-24b-instruct:free",
	"cognitivecomputations/dolphin-mistral-24b-venice-edition:free",
}

// DefaultAttemptBudget bounds repeated acquisition for one round.
const DefaultAttemptBudget = 5

var optionNumbering = regexp.MustCompile(`^\s*[1-4]\s*[.)]\s*`)

// QuestionSource obtains validated questions from the provider with
// per-model fallback, and from the curated bank when asked to.
type QuestionSource struct {
	provider QuestionProvider
	bank     QuestionBank
	models   []string
	budget   int
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu  sync.Mutex
	rnd *rand.Rand
}

// SourceOption customizes a QuestionSource.
type SourceOption func(*QuestionSource)

// WithModels replaces the ordered model list.
func WithModels(models []string) SourceOption {
	return func(s *QuestionSource) {
		if len(models) > 0 {
			s.models = append([]string(nil), models...)
		}
	}
}

// WithAttemptBudget sets how many acquisitions a round may spend.
func WithAttemptBudget(n int) SourceOption {
	return func(s *QuestionSource) {
		if n > 0 {
			s.budget = n
		}
	}
}

// WithSourceMetrics records provider attempts.
func WithSourceMetrics(m *monitoring.Metrics) SourceOption {
	return func(s *QuestionSource) { s.metrics = m }
}

// WithRand makes bank fallback picks deterministic in tests.
func WithRand(rnd *rand.Rand) SourceOption {
	return func(s *QuestionSource) { s.rnd = rnd }
}

func NewQuestionSource(provider QuestionProvider, bank QuestionBank, logger *zap.Logger, opts ...SourceOption) *QuestionSource {
	s := &QuestionSource{
		provider: provider,
		bank:     bank,
		models:   append([]string(nil), DefaultModels...),
		budget:   DefaultAttemptBudget,
		logger:   logger,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire asks each model in order until one yields a valid question.
// When all fail it returns the placeholder question and ErrProviderExhausted.
func (s *QuestionSource) Acquire(ctx context.Context, category, difficulty string) (domain.Question, error) {
	if s.provider == nil {
		return Placeholder(category), domain.ErrProviderExhausted
	}
	for _, model := range s.models {
		if err := ctx.Err(); err != nil {
			return Placeholder(category), err
		}
		raw, err := s.provider.Complete(ctx, model, category, difficulty)
		if err != nil {
			s.metrics.ProviderAttempt(model, "error")
			s.logger.Warn("question provider failed", zap.String("model", model), zap.String("category", category), zap.Error(err))
			continue
		}
		q, err := ParseQuestion(raw)
		if err != nil {
			s.metrics.ProviderAttempt(model, "invalid")
			s.logger.Warn("invalid question format", zap.String("model", model), zap.String("category", category), zap.String("raw", raw))
			continue
		}
		s.metrics.ProviderAttempt(model, "ok")
		q.Provenance = domain.ProvenanceAI
		q.Category = category
		q.Difficulty = difficulty
		s.logger.Info("generated question", zap.String("model", model), zap.String("category", category), zap.String("question", q.Text))
		s.archive(ctx, q)
		return q, nil
	}
	return Placeholder(category), domain.ErrProviderExhausted
}

// AcquireUnique spends up to the attempt budget looking for a question whose
// fingerprint is not in seen. With fallback set, an unseen bank entry of the
// same category and difficulty is used once the budget is gone. The chosen
// fingerprint is added to seen.
func (s *QuestionSource) AcquireUnique(ctx context.Context, category, difficulty string, seen map[string]struct{}, fallback bool) (domain.Question, error) {
	for attempt := 0; attempt < s.budget; attempt++ {
		q, err := s.Acquire(ctx, category, difficulty)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Question{}, ctxErr
		}
		if err != nil || q.Placeholder {
			continue
		}
		fp := q.Fingerprint()
		if _, dup := seen[fp]; dup {
			s.logger.Debug("duplicate question", zap.String("category", category), zap.Int("attempt", attempt+1))
			continue
		}
		seen[fp] = struct{}{}
		return q, nil
	}

	if fallback {
		q, err := s.fromBank(ctx, category, difficulty, seen)
		if err == nil {
			seen[q.Fingerprint()] = struct{}{}
			return q, nil
		}
		if !errors.Is(err, domain.ErrNoQuestion) {
			return domain.Question{}, err
		}
	}
	return domain.Question{}, domain.ErrNoQuestion
}

func (s *QuestionSource) fromBank(ctx context.Context, category, difficulty string, seen map[string]struct{}) (domain.Question, error) {
	if s.bank == nil {
		return domain.Question{}, domain.ErrNoQuestion
	}
	questions, err := s.bank.Questions(ctx, category)
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question bank: %w", err)
	}
	available := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		d := q.Difficulty
		if d == "" {
			d = "medium"
		}
		if d != difficulty || !q.Valid() {
			continue
		}
		if _, dup := seen[q.Fingerprint()]; dup {
			continue
		}
		available = append(available, q)
	}
	if len(available) == 0 {
		return domain.Question{}, domain.ErrNoQuestion
	}
	s.mu.Lock()
	q := available[s.rnd.Intn(len(available))]
	s.mu.Unlock()
	if q.Provenance == "" {
		q.Provenance = domain.ProvenanceCurated
	}
	q.Category = category
	return q, nil
}

// archive keeps generated questions in the bank so group play can fall back on them.
func (s *QuestionSource) archive(ctx context.Context, q domain.Question) {
	if s.bank == nil {
		return
	}
	if err := s.bank.Add(ctx, q); err != nil {
		s.logger.Error("archive generated question", zap.String("category", q.Category), zap.Error(err))
	}
}

// Placeholder is the stand-in question used when no model produced one.
func Placeholder(category string) domain.Question {
	return domain.Question{
		Text:        fmt.Sprintf("Failed to generate %s question.", category),
		Options:     []string{"N/A", "N/A", "N/A", "N/A"},
		Answer:      1,
		Provenance:  domain.ProvenanceCurated,
		Category:    category,
		Placeholder: true,
	}
}

// ParseQuestion reads a model reply of the form
// {"question": "...", "options": [4 strings], "answer": 1..4}.
// Markdown fences are dropped and single-quoted pseudo JSON is accepted.
func ParseQuestion(raw string) (domain.Question, error) {
	text := stripFences(strings.TrimSpace(raw))
	if !gjson.Valid(text) {
		text = strings.ReplaceAll(text, "'", `"`)
		if !gjson.Valid(text) {
			return domain.Question{}, fmt.Errorf("%w: not json", domain.ErrInvalidQuestion)
		}
	}
	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return domain.Question{}, fmt.Errorf("%w: not an object", domain.ErrInvalidQuestion)
	}

	question := doc.Get("question")
	if question.Type != gjson.String || strings.TrimSpace(question.Str) == "" {
		return domain.Question{}, fmt.Errorf("%w: missing question", domain.ErrInvalidQuestion)
	}
	options := doc.Get("options")
	if !options.IsArray() {
		return domain.Question{}, fmt.Errorf("%w: options is not a list", domain.ErrInvalidQuestion)
	}
	items := options.Array()
	if len(items) != 4 {
		return domain.Question{}, fmt.Errorf("%w: expected 4 options, got %d", domain.ErrInvalidQuestion, len(items))
	}
	opts := make([]string, 0, 4)
	for _, item := range items {
		opt := stripNumbering(item.String())
		if item.Type != gjson.String || opt == "" {
			return domain.Question{}, fmt.Errorf("%w: empty option", domain.ErrInvalidQuestion)
		}
		opts = append(opts, opt)
	}
	answer := doc.Get("answer")
	if answer.Type != gjson.Number || answer.Num != math.Trunc(answer.Num) || answer.Num < 1 || answer.Num > 4 {
		return domain.Question{}, fmt.Errorf("%w: answer must be 1-4", domain.ErrInvalidQuestion)
	}

	return domain.Question{
		Text:    strings.TrimSpace(question.Str),
		Options: opts,
		Answer:  int(answer.Num),
	}, nil
}

func stripNumbering(option string) string {
	return strings.TrimSpace(optionNumbering.ReplaceAllString(option, ""))
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

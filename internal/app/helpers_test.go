package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/chat"
	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/infra/memory"
)

var day1 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// sequenceProvider returns a fresh question on every call; answer is always 1.
type sequenceProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *sequenceProvider) Complete(_ context.Context, _, category, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return fmt.Sprintf(`{"question":"%s question number %d?","options":["right","wrong","wrong too","nope"],"answer":1}`, category, p.calls), nil
}

// fixedProvider always answers with the same raw text, or err when set.
type fixedProvider struct {
	raw string
	err error

	mu     sync.Mutex
	models []string
}

func (p *fixedProvider) Complete(_ context.Context, model, _, _ string) (string, error) {
	p.mu.Lock()
	p.models = append(p.models, model)
	p.mu.Unlock()
	return p.raw, p.err
}

func (p *fixedProvider) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.models...)
}

// modelProvider replies per model name; unknown models fail.
type modelProvider map[string]string

func (p modelProvider) Complete(_ context.Context, model, _, _ string) (string, error) {
	raw, ok := p[model]
	if !ok {
		return "", errors.New("model unavailable")
	}
	return raw, nil
}

// fakeRoles records role creation and grants. failGrant makes every grant fail.
type fakeRoles struct {
	mu        sync.Mutex
	created   map[string]int
	grants    map[string][]string
	failGrant bool
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{created: make(map[string]int), grants: make(map[string][]string)}
}

func (r *fakeRoles) EnsureRole(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[name]++
	return nil
}

func (r *fakeRoles) GrantRole(_ context.Context, userID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGrant {
		return errors.New("missing permissions")
	}
	r.grants[userID] = append(r.grants[userID], name)
	return nil
}

func (r *fakeRoles) granted(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.grants[userID]...)
}

// failingStore fails every operation once broken is set.
type failingStore struct {
	app.DocumentStore
	mu     sync.Mutex
	broken bool
}

func (s *failingStore) breakNow() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

func (s *failingStore) Load(ctx context.Context, collection, key string, dst any) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errors.New("store offline")
	}
	return s.DocumentStore.Load(ctx, collection, key, dst)
}

func (s *failingStore) Save(ctx context.Context, collection, key string, doc any) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errors.New("store offline")
	}
	return s.DocumentStore.Save(ctx, collection, key, doc)
}

func newHub(members ...string) *chat.Hub {
	hub := chat.NewHub(zap.NewNop())
	hub.AddChannel("game", "quiz-game")
	hub.AddChannel("news", "announcements")
	for _, id := range members {
		hub.AddMember(domain.Member{ID: id, DisplayName: strings.ToUpper(id[:1]) + id[1:]})
	}
	return hub
}

type engine struct {
	hub     *chat.Hub
	store   app.DocumentStore
	ledger  *app.Ledger
	bank    *app.DocumentBank
	coord   *app.Coordinator
	source  *app.QuestionSource
	roles   *fakeRoles
	tracker *app.ChallengeTracker
}

type engineOption func(*engineConfig)

type engineConfig struct {
	provider app.QuestionProvider
	store    app.DocumentStore
	cfg      app.CoordinatorConfig
	tracker  bool
}

func withProvider(p app.QuestionProvider) engineOption {
	return func(c *engineConfig) { c.provider = p }
}

func withStore(s app.DocumentStore) engineOption {
	return func(c *engineConfig) { c.store = s }
}

func withTracker() engineOption {
	return func(c *engineConfig) { c.tracker = true }
}

func newEngine(t *testing.T, hub *chat.Hub, opts ...engineOption) *engine {
	t.Helper()
	ec := engineConfig{
		provider: &sequenceProvider{},
		store:    memory.NewDocumentStore(),
		cfg: app.CoordinatorConfig{
			AnswerWindow:     500 * time.Millisecond,
			AcceptanceWindow: 300 * time.Millisecond,
			WinnerBonus:      10,
		},
	}
	for _, opt := range opts {
		opt(&ec)
	}
	logger := zap.NewNop()
	roles := newFakeRoles()
	ledger := app.NewLedger(ec.store, roles, memory.NewLeaderboard(), logger)
	bank := app.NewDocumentBank(ec.store)
	source := app.NewQuestionSource(ec.provider, bank, logger, app.WithModels([]string{"m1"}))

	var tracker *app.ChallengeTracker
	if ec.tracker {
		tracker = app.NewChallengeTracker(ec.store, ledger, hub, app.ChallengeTrackerConfig{
			Catalog: domain.DefaultChallengeCatalog[:1],
		}, logger, nil)
	}
	coord := app.NewCoordinator(app.CoordinatorDeps{
		Platform: hub,
		Source:   source,
		Scorer:   app.NewScorer(ledger, tracker, true, logger),
		Ledger:   ledger,
		Sessions: memory.NewSessionStore(),
		Logger:   logger,
	}, ec.cfg)

	return &engine{
		hub:     hub,
		store:   ec.store,
		ledger:  ledger,
		bank:    bank,
		coord:   coord,
		source:  source,
		roles:   roles,
		tracker: tracker,
	}
}

// player scripts how one member reacts during a session.
type player struct {
	// reply to the invitation: "accept", "decline" or "" for silence.
	invite string
	// answers per round, 1-based; missing or zero means no answer.
	answers map[int]string
}

// table records every bot message seen while autoPlay runs.
type table struct {
	sub  app.Subscription
	done chan struct{}

	mu   sync.Mutex
	seen []domain.Message
}

// stop ends the bot and returns everything the bot posted.
func (tb *table) stop() []domain.Message {
	tb.sub.Cancel()
	<-tb.done
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return append([]domain.Message(nil), tb.seen...)
}

// autoPlay answers invitations and questions posted by the bot until stop
// is called.
func autoPlay(t *testing.T, hub *chat.Hub, players map[string]player) *table {
	t.Helper()
	tb := &table{
		sub:  hub.Subscribe("", func(m domain.Message) bool { return m.Bot }),
		done: make(chan struct{}),
	}
	go func() {
		defer close(tb.done)
		rounds := make(map[string]int)
		for msg := range tb.sub.Messages() {
			tb.mu.Lock()
			tb.seen = append(tb.seen, msg)
			tb.mu.Unlock()
			switch {
			case strings.Contains(msg.Content, "type 'accept'"):
				for id, p := range players {
					if p.invite == "" {
						continue
					}
					_ = hub.Publish(context.Background(), domain.Message{ScopeID: msg.ScopeID, AuthorID: id, Content: p.invite})
				}
			case strings.HasPrefix(msg.Content, "🧩"):
				rounds[msg.ScopeID]++
				n := rounds[msg.ScopeID]
				for id, p := range players {
					if answer := p.answers[n]; answer != "" {
						_ = hub.Publish(context.Background(), domain.Message{ScopeID: msg.ScopeID, AuthorID: id, Content: answer})
					}
				}
			}
		}
	}()
	return tb
}

func answersFor(rounds int, correctUpTo int) map[int]string {
	out := make(map[int]string, rounds)
	for n := 1; n <= rounds; n++ {
		if n <= correctUpTo {
			out[n] = "1"
		} else {
			out[n] = "2"
		}
	}
	return out
}

func contains(msgs []domain.Message, text string) bool {
	for _, m := range msgs {
		if strings.Contains(m.Content, text) {
			return true
		}
	}
	return false
}

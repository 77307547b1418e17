package app_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/infra/memory"
)

const validRaw = `{"question":"Which tag makes a link?","options":["<a>","<p>","<div>","<span>"],"answer":1}`

func TestParseQuestion(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want domain.Question
	}{
		{
			name: "plain json",
			raw:  validRaw,
			want: domain.Question{Text: "Which tag makes a link?", Options: []string{"<a>", "<p>", "<div>", "<span>"}, Answer: 1},
		},
		{
			name: "fenced with numbered options",
			raw:  "```json\n{\"question\":\"What is SQLi?\",\"options\":[\"1. An injection\",\"2) A cipher\",\"3. A port\",\"4. A hash\"],\"answer\":1}\n```",
			want: domain.Question{Text: "What is SQLi?", Options: []string{"An injection", "A cipher", "A port", "A hash"}, Answer: 1},
		},
		{
			name: "single quoted",
			raw:  "{ 'question': 'Who mints NFTs?', 'options': ['1. Miners', '2. Creators', '3. Routers', '4. Nobody'], 'answer': 2 }",
			want: domain.Question{Text: "Who mints NFTs?", Options: []string{"Miners", "Creators", "Routers", "Nobody"}, Answer: 2},
		},
	}
	for _, tc := range cases {
		got, err := app.ParseQuestion(tc.raw)
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.name, err)
		}
		if got.Text != tc.want.Text || got.Answer != tc.want.Answer || len(got.Options) != 4 {
			t.Fatalf("%s: unexpected question %+v", tc.name, got)
		}
		for i := range got.Options {
			if got.Options[i] != tc.want.Options[i] {
				t.Fatalf("%s: option %d = %q, want %q", tc.name, i+1, got.Options[i], tc.want.Options[i])
			}
		}
	}
}

func TestParseQuestionRejects(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":       "Sure! Here is a question: what is HTML?",
		"three options":  `{"question":"Q?","options":["a","b","c"],"answer":1}`,
		"five options":   `{"question":"Q?","options":["a","b","c","d","e"],"answer":1}`,
		"answer zero":    `{"question":"Q?","options":["a","b","c","d"],"answer":0}`,
		"answer five":    `{"question":"Q?","options":["a","b","c","d"],"answer":5}`,
		"answer string":  `{"question":"Q?","options":["a","b","c","d"],"answer":"1"}`,
		"fractional":     `{"question":"Q?","options":["a","b","c","d"],"answer":1.5}`,
		"empty option":   `{"question":"Q?","options":["a","","c","d"],"answer":1}`,
		"missing prompt": `{"options":["a","b","c","d"],"answer":1}`,
		"array":          `[1,2,3]`,
	} {
		if _, err := app.ParseQuestion(raw); !errors.Is(err, domain.ErrInvalidQuestion) {
			t.Fatalf("%s: expected ErrInvalidQuestion, got %v", name, err)
		}
	}
}

func TestAcquireFallsThroughModels(t *testing.T) {
	ctx := context.Background()
	bank := app.NewDocumentBank(memory.NewDocumentStore())
	provider := modelProvider{
		"broken-json": "I cannot do that",
		"good":        validRaw,
	}
	source := app.NewQuestionSource(provider, bank, zap.NewNop(),
		app.WithModels([]string{"offline", "broken-json", "good"}))

	q, err := source.Acquire(ctx, "webdev", "easy")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if q.Provenance != domain.ProvenanceAI || q.Category != "webdev" || q.Difficulty != "easy" || q.Placeholder {
		t.Fatalf("unexpected question %+v", q)
	}

	archived, err := bank.Questions(ctx, "webdev")
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	if len(archived) != 1 || archived[0].Text != q.Text {
		t.Fatalf("generated question should be archived, bank = %+v", archived)
	}
}

func TestAcquireExhaustedReturnsPlaceholder(t *testing.T) {
	provider := &fixedProvider{err: errors.New("503")}
	source := app.NewQuestionSource(provider, nil, zap.NewNop(), app.WithModels([]string{"a", "b", "c"}))

	q, err := source.Acquire(context.Background(), "blender", "hard")
	if !errors.Is(err, domain.ErrProviderExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if !q.Placeholder || q.Provenance == domain.ProvenanceAI || !q.Valid() {
		t.Fatalf("expected a valid non-AI placeholder, got %+v", q)
	}
	if q.IsCorrect(q.Answer) {
		t.Fatalf("placeholder answers never count as correct")
	}
	if calls := provider.calls(); len(calls) != 3 || calls[0] != "a" || calls[2] != "c" {
		t.Fatalf("expected each model once in order, got %v", calls)
	}
}

func TestAcquireUniqueGivesUpAfterBudget(t *testing.T) {
	provider := &fixedProvider{raw: validRaw}
	source := app.NewQuestionSource(provider, nil, zap.NewNop(), app.WithModels([]string{"m1"}))
	seen := map[string]struct{}{domain.Fingerprint("Which tag makes a link?"): {}}

	_, err := source.AcquireUnique(context.Background(), "webdev", "medium", seen, false)
	if !errors.Is(err, domain.ErrNoQuestion) {
		t.Fatalf("expected ErrNoQuestion, got %v", err)
	}
	if n := len(provider.calls()); n != app.DefaultAttemptBudget {
		t.Fatalf("expected %d attempts, got %d", app.DefaultAttemptBudget, n)
	}
}

func TestAcquireUniqueRecordsFingerprint(t *testing.T) {
	source := app.NewQuestionSource(&sequenceProvider{}, nil, zap.NewNop(), app.WithAttemptBudget(2))
	seen := make(map[string]struct{})

	first, err := source.AcquireUnique(context.Background(), "general", "easy", seen, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := source.AcquireUnique(context.Background(), "general", "easy", seen, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first.Fingerprint() == second.Fingerprint() {
		t.Fatalf("expected distinct questions")
	}
	if len(seen) != 2 {
		t.Fatalf("expected two fingerprints, got %d", len(seen))
	}
}

func TestAcquireUniqueFallsBackToBank(t *testing.T) {
	ctx := context.Background()
	bank := app.NewDocumentBank(memory.NewDocumentStore())
	for _, q := range []domain.Question{
		{Text: "Seen already?", Options: []string{"a", "b", "c", "d"}, Answer: 1, Category: "blockchain", Difficulty: "easy"},
		{Text: "Too hard?", Options: []string{"a", "b", "c", "d"}, Answer: 1, Category: "blockchain", Difficulty: "hard"},
		{Text: "What is a block?", Options: []string{"a", "b", "c", "d"}, Answer: 3, Category: "blockchain", Difficulty: "easy"},
	} {
		if err := bank.Add(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	provider := &fixedProvider{err: errors.New("down")}
	source := app.NewQuestionSource(provider, bank, zap.NewNop(), app.WithRand(rand.New(rand.NewSource(1))))
	seen := map[string]struct{}{domain.Fingerprint("Seen already?"): {}}

	q, err := source.AcquireUnique(ctx, "blockchain", "easy", seen, true)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if q.Text != "What is a block?" || q.Provenance != domain.ProvenanceCurated {
		t.Fatalf("unexpected fallback %+v", q)
	}
	if _, ok := seen[q.Fingerprint()]; !ok {
		t.Fatalf("fallback fingerprint not recorded")
	}

	if _, err := source.AcquireUnique(ctx, "blockchain", "easy", seen, true); !errors.Is(err, domain.ErrNoQuestion) {
		t.Fatalf("expected ErrNoQuestion once the bank is used up, got %v", err)
	}
}

func TestCuratedQuestionEarnsNoAIBonus(t *testing.T) {
	curated := domain.Question{Text: "Q?", Options: []string{"a", "b", "c", "d"}, Answer: 2, Provenance: domain.ProvenanceCurated}
	if got := app.RoundAward(curated, 2); got != app.BasePoints {
		t.Fatalf("curated award = %d, want %d", got, app.BasePoints)
	}
	ai := curated
	ai.Provenance = domain.ProvenanceAI
	if got := app.RoundAward(ai, 2); got != app.BasePoints+app.AIBonus {
		t.Fatalf("ai award = %d, want %d", got, app.BasePoints+app.AIBonus)
	}
	if got := app.RoundAward(ai, 3); got != 0 {
		t.Fatalf("wrong answers award nothing, got %d", got)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"noob2root-bot/internal/domain"
)

type bankDocument struct {
	Questions []domain.Question `json:"questions"`
}

// DocumentBank keeps one question_bank document per category.
type DocumentBank struct {
	store    DocumentStore
	validate *validator.Validate

	mu sync.Mutex
}

func NewDocumentBank(store DocumentStore) *DocumentBank {
	return &DocumentBank{store: store, validate: validator.New()}
}

// Questions returns the category's bank; a missing document is an empty bank.
func (b *DocumentBank) Questions(ctx context.Context, category string) ([]domain.Question, error) {
	doc, err := b.load(ctx, category)
	if err != nil {
		return nil, err
	}
	for i := range doc.Questions {
		if doc.Questions[i].Difficulty == "" {
			doc.Questions[i].Difficulty = "medium"
		}
		doc.Questions[i].Category = category
	}
	return doc.Questions, nil
}

// Add validates q and appends it unless the category already holds the same text.
func (b *DocumentBank) Add(ctx context.Context, q domain.Question) error {
	if q.Placeholder {
		return fmt.Errorf("%w: placeholder", domain.ErrInvalidQuestion)
	}
	if err := b.validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidQuestion, err)
	}
	category, ok := domain.NormalizeCategory(q.Category)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCategory, q.Category)
	}
	q.Category = category
	q.Options = append([]string(nil), q.Options...)
	for i, opt := range q.Options {
		q.Options[i] = stripNumbering(opt)
	}
	if q.Difficulty == "" {
		q.Difficulty = "medium"
	}
	if q.Provenance == "" {
		q.Provenance = domain.ProvenanceCurated
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load(ctx, category)
	if err != nil {
		return err
	}
	fp := q.Fingerprint()
	for _, existing := range doc.Questions {
		if existing.Fingerprint() == fp {
			return nil
		}
	}
	doc.Questions = append(doc.Questions, q)
	if err := b.store.Save(ctx, CollectionBank, category, doc); err != nil {
		return fmt.Errorf("save question bank %s: %w", category, err)
	}
	return nil
}

func (b *DocumentBank) load(ctx context.Context, category string) (bankDocument, error) {
	var doc bankDocument
	err := b.store.Load(ctx, CollectionBank, category, &doc)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return bankDocument{}, nil
	}
	if err != nil {
		return bankDocument{}, fmt.Errorf("load question bank %s: %w", category, err)
	}
	return doc, nil
}

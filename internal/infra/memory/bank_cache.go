package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/domain"
)

// CachedBank caches per-category banks with TTL to avoid repeated store hits.
type CachedBank struct {
	next  app.QuestionBank
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedCategory
}

type cachedCategory struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCachedBank(next app.QuestionBank, ttl time.Duration) *CachedBank {
	return &CachedBank{
		next:  next,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedCategory),
	}
}

func (b *CachedBank) Questions(ctx context.Context, category string) ([]domain.Question, error) {
	now := b.clock()

	b.mu.RLock()
	if entry, ok := b.cache[category]; ok && entry.expiresAt.After(now) {
		b.mu.RUnlock()
		return entry.questions, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do(category, func() (interface{}, error) {
		now := b.clock()
		b.mu.RLock()
		if entry, ok := b.cache[category]; ok && entry.expiresAt.After(now) {
			b.mu.RUnlock()
			return entry.questions, nil
		}
		b.mu.RUnlock()

		questions, err := b.next.Questions(ctx, category)
		if err != nil {
			return nil, err
		}

		expiresAt := now.Add(b.ttlWithJitter())
		b.mu.Lock()
		b.cache[category] = cachedCategory{
			questions: questions,
			expiresAt: expiresAt,
		}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Add writes through and drops the category from the cache.
func (b *CachedBank) Add(ctx context.Context, q domain.Question) error {
	if err := b.next.Add(ctx, q); err != nil {
		return err
	}
	category, _ := domain.NormalizeCategory(q.Category)
	b.mu.Lock()
	delete(b.cache, category)
	b.mu.Unlock()
	return nil
}

// ttlWithJitter must be called without b.mu held.
func (b *CachedBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

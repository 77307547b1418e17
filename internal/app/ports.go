package app

import (
	"context"

	"noob2root-bot/internal/domain"
)

// Document collections shared by the stores.
const (
	CollectionProgress   = "progress"
	CollectionBank       = "question_bank"
	CollectionChallenges = "challenges"
)

// DocumentStore persists whole JSON documents keyed by collection and key.
// Load returns domain.ErrDocumentNotFound for missing keys. There are no
// partial updates: callers load, mutate in memory and save the document.
type DocumentStore interface {
	Load(ctx context.Context, collection, key string, dst any) error
	Save(ctx context.Context, collection, key string, doc any) error
}

// MatchFunc filters messages for a subscription.
type MatchFunc func(domain.Message) bool

// Subscription delivers matching messages until Cancel is called.
type Subscription interface {
	Messages() <-chan domain.Message
	Cancel()
}

// Platform is the chat surface sessions talk through.
type Platform interface {
	Send(ctx context.Context, scopeID, text string) error
	// Subscribe observes messages in scopeID ("" for every scope) that satisfy match.
	Subscribe(scopeID string, match MatchFunc) Subscription
	OpenScope(ctx context.Context, parentID, name string, members []string) (string, error)
	// CloseScope locks and archives a scope; destroy also deletes it.
	CloseScope(ctx context.Context, scopeID string, destroy bool) error
	Member(ctx context.Context, userID string) (domain.Member, error)
	Mention(userID string) string
}

// RoleGranter creates roles on demand and grants them to members.
type RoleGranter interface {
	EnsureRole(ctx context.Context, name string) error
	GrantRole(ctx context.Context, userID, name string) error
}

// QuestionProvider asks one model for a question and returns its raw text.
type QuestionProvider interface {
	Complete(ctx context.Context, model, category, difficulty string) (string, error)
}

// QuestionBank holds curated questions per category.
type QuestionBank interface {
	Questions(ctx context.Context, category string) ([]domain.Question, error)
	Add(ctx context.Context, q domain.Question) error
}

// Leaderboard ranks users by total points.
type Leaderboard interface {
	Record(ctx context.Context, userID string, points int) error
	Top(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// SessionRepository abstracts where live sessions are tracked (in-memory, Redis, etc).
type SessionRepository interface {
	Register(s *Session)
	Get(id string) (*Session, bool)
	Remove(id string)
	Active() []*Session
}

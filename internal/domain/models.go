package domain

import (
	"fmt"
	"strings"
	"time"
)

// Provenance records where a question came from.
type Provenance string

const (
	ProvenanceAI      Provenance = "ai"
	ProvenanceCurated Provenance = "curated"
)

// Question models an MCQ question with exactly four options.
type Question struct {
	Text       string     `json:"question" yaml:"question" validate:"required"`
	Options    []string   `json:"options" yaml:"options" validate:"len=4,dive,required"`
	Answer     int        `json:"answer" yaml:"answer" validate:"min=1,max=4"`
	Provenance Provenance `json:"provenance" yaml:"provenance"`
	Difficulty string     `json:"difficulty" yaml:"difficulty"`
	Category   string     `json:"category" yaml:"category"`
	// Placeholder marks the stand-in returned when every model failed.
	Placeholder bool `json:"placeholder,omitempty" yaml:"-"`
}

// Valid reports whether the question has four options and an in-range answer.
func (q Question) Valid() bool {
	return strings.TrimSpace(q.Text) != "" && len(q.Options) == 4 && q.Answer >= 1 && q.Answer <= 4
}

// IsCorrect reports whether answer picks the correct option.
func (q Question) IsCorrect(answer int) bool {
	return !q.Placeholder && answer == q.Answer
}

// CorrectOption returns the text of the correct option.
func (q Question) CorrectOption() string {
	if q.Answer < 1 || q.Answer > len(q.Options) {
		return ""
	}
	return q.Options[q.Answer-1]
}

// Fingerprint is the normalized text used to detect repeats within a session.
func (q Question) Fingerprint() string {
	return Fingerprint(q.Text)
}

// Mode is the session flavour.
type Mode string

const (
	ModeSolo  Mode = "solo"
	ModeDuel  Mode = "duel"
	ModeGroup Mode = "group"
)

// MaxRounds is the upper bound for the requested round count.
func (m Mode) MaxRounds() int {
	if m == ModeSolo {
		return 20
	}
	return 10
}

// SessionState is a step of the session lifecycle.
type SessionState string

const (
	StatePendingAcceptance SessionState = "PENDING_ACCEPTANCE"
	StateActive            SessionState = "ACTIVE"
	StateComplete          SessionState = "COMPLETE"
	StateArchived          SessionState = "ARCHIVED"
)

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case StatePendingAcceptance:
		return next == StateActive || next == StateArchived
	case StateActive:
		return next == StateComplete || next == StateArchived
	case StateComplete:
		return next == StateArchived
	}
	return false
}

// Participant represents a quiz participant and their accumulated score.
type Participant struct {
	UserID      string
	DisplayName string
	Score       int
	Answered    int
	LastUpdated time.Time
}

// LeaderboardEntry is a snapshot-friendly view of a ranked user or participant.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
}

// Leaderboard captures the ordered scoreboard for a quiz session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// ProgressRecord is the persistent per-user ledger entry.
type ProgressRecord struct {
	Points         int            `json:"points"`
	CategoryPoints map[string]int `json:"category_points"`
	Streak         int            `json:"streak"`
	LastActivity   string         `json:"last_activity,omitempty"`
	Roles          []string       `json:"roles_assigned"`
}

// HasRole reports whether name was already unlocked.
func (p ProgressRecord) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out to callers.
func (p ProgressRecord) Clone() ProgressRecord {
	out := p
	out.CategoryPoints = make(map[string]int, len(p.CategoryPoints))
	for k, v := range p.CategoryPoints {
		out.CategoryPoints[k] = v
	}
	out.Roles = append([]string(nil), p.Roles...)
	return out
}

// RoleThreshold unlocks a named role once a point total is reached.
// Scope "general" compares total points, anything else names a category.
type RoleThreshold struct {
	Name   string
	Points int
	Scope  string
}

// ChallengeType identifies a daily objective kind.
type ChallengeType string

const (
	ChallengeQuizMaster     ChallengeType = "quiz_master"
	ChallengeProjectGuru    ChallengeType = "project_guru"
	ChallengeResourceHunter ChallengeType = "resource_hunter"
)

// ChallengeRequirements holds the thresholds for any objective kind.
type ChallengeRequirements struct {
	Ratio    float64 `json:"quiz_score,omitempty"`
	Count    int     `json:"num_questions,omitempty"`
	Category string  `json:"category,omitempty"`
	Upvotes  int     `json:"upvotes,omitempty"`
	Featured bool    `json:"featured,omitempty"`
}

// ChallengeSpec is one entry of the daily challenge catalog.
type ChallengeSpec struct {
	Type         ChallengeType         `json:"type"`
	Task         string                `json:"task"`
	Requirements ChallengeRequirements `json:"requirements"`
	Points       int                   `json:"points"`
	Category     string                `json:"category,omitempty"`
}

// ChallengeProgress is one user's partial progress on today's objective.
type ChallengeProgress struct {
	QuestionsAnswered int  `json:"num_questions"`
	QuestionsCorrect  int  `json:"quiz_score"`
	Completed         bool `json:"completed,omitempty"`
	Claimed           bool `json:"claimed,omitempty"`
}

// Ratio is the accuracy so far, zero when nothing was answered.
func (p ChallengeProgress) Ratio() float64 {
	if p.QuestionsAnswered == 0 {
		return 0
	}
	return float64(p.QuestionsCorrect) / float64(p.QuestionsAnswered)
}

func (p ChallengeProgress) String() string {
	return fmt.Sprintf("answered: %d, correct: %d", p.QuestionsAnswered, p.QuestionsCorrect)
}

// ChallengeState is the platform-wide daily challenge document.
type ChallengeState struct {
	Date     string                       `json:"date"`
	Current  *ChallengeSpec               `json:"current"`
	Progress map[string]ChallengeProgress `json:"user_progress"`
}

// ActiveOn reports whether a challenge is set for day.
func (s ChallengeState) ActiveOn(day string) bool {
	return s.Current != nil && s.Date == day
}

// Member is a chat platform user.
type Member struct {
	ID          string
	DisplayName string
	Bot         bool
	Roles       []string
}

// Message is a chat message observed in a channel or thread.
type Message struct {
	ScopeID  string    `json:"scopeId"`
	AuthorID string    `json:"authorId"`
	Content  string    `json:"content"`
	Bot      bool      `json:"bot,omitempty"`
	SentAt   time.Time `json:"sentAt"`
}

package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"noob2root-bot/internal/domain"
)

// Session is the in-memory state of one solo, duel or group quiz.
type Session struct {
	id         string
	mode       domain.Mode
	category   string
	difficulty string
	rounds     int
	initiator  string
	invitees   []string
	createdAt  time.Time
	now        func() time.Time

	mu           sync.RWMutex
	state        domain.SessionState
	scopeID      string
	private      bool
	order        []string
	participants map[string]*domain.Participant
	seen         map[string]struct{}
	played       int
	skipped      int
	subscribers  map[chan domain.Leaderboard]struct{}
}

// NewSessionWithClock builds a session stamped by now.
func NewSessionWithClock(id string, req SessionRequest, now func() time.Time) *Session {
	state := domain.StatePendingAcceptance
	if req.Mode == domain.ModeSolo {
		state = domain.StateActive
	}
	return &Session{
		id:           id,
		mode:         req.Mode,
		category:     req.Category,
		difficulty:   req.Difficulty,
		rounds:       req.Rounds,
		initiator:    req.Initiator,
		invitees:     append([]string(nil), req.Invitees...),
		createdAt:    now(),
		now:          now,
		state:        state,
		scopeID:      req.ScopeID,
		participants: make(map[string]*domain.Participant),
		seen:         make(map[string]struct{}),
		subscribers:  make(map[chan domain.Leaderboard]struct{}),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Mode() domain.Mode    { return s.mode }
func (s *Session) Category() string     { return s.category }
func (s *Session) Difficulty() string   { return s.difficulty }
func (s *Session) Rounds() int          { return s.rounds }
func (s *Session) Initiator() string    { return s.initiator }
func (s *Session) Invitees() []string   { return append([]string(nil), s.invitees...) }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) ScopeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopeID
}

// setScope records the private scope opened for this session.
func (s *Session) setScope(id string) {
	s.mu.Lock()
	s.scopeID = id
	s.private = true
	s.mu.Unlock()
}

func (s *Session) ownsScope() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.private
}

// Transition moves the session along its lifecycle.
func (s *Session) Transition(next domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.state, next)
	}
	if next == domain.StateActive && len(s.order) == 0 {
		return fmt.Errorf("%w: no participants", domain.ErrInvalidTransition)
	}
	s.state = next
	return nil
}

// join adds a participant; joining twice keeps the first position.
func (s *Session) join(userID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if participant, ok := s.participants[userID]; ok {
		participant.DisplayName = displayName
		participant.LastUpdated = now
		return
	}
	s.participants[userID] = &domain.Participant{
		UserID:      userID,
		DisplayName: displayName,
		LastUpdated: now,
	}
	s.order = append(s.order, userID)
	s.broadcastLocked()
}

// ParticipantIDs returns the participants in join order (initiator first).
func (s *Session) ParticipantIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Participants returns copies in join order.
func (s *Session) Participants() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.participants[id])
	}
	return out
}

// Seen is the set of question fingerprints issued so far. Only the
// session's own goroutine may use it.
func (s *Session) Seen() map[string]struct{} {
	return s.seen
}

// applyRound counts correct answers per participant.
func (s *Session) applyRound(outcomes []RoundOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, out := range outcomes {
		p, ok := s.participants[out.UserID]
		if !ok {
			continue
		}
		if out.Answered {
			p.Answered++
		}
		if out.Correct {
			p.Score++
			p.LastUpdated = now
		}
	}
	s.played++
	s.broadcastLocked()
}

func (s *Session) skipRound() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

// Played returns rounds played and skipped.
func (s *Session) Played() (played, skipped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.played, s.skipped
}

// Scoreboard ranks participants by correct answers, then by who reached the
// score first, then by name.
func (s *Session) Scoreboard() domain.Leaderboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe streams scoreboard updates; the first value is the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.snapshotLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// closeSubscribers ends every scoreboard stream once the session is over.
func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Session) broadcastLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	lb := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- lb:
		default:
			// slow reader: replace its stale update
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

func (s *Session) snapshotLocked() domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(s.order))
	for _, id := range s.order {
		p := s.participants[id]
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := s.participants[entries[i].UserID]
		pj := s.participants[entries[j].UserID]
		if !pi.LastUpdated.Equal(pj.LastUpdated) {
			return pi.LastUpdated.Before(pj.LastUpdated)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return domain.Leaderboard{
		SessionID: s.id,
		Entries:   entries,
		UpdatedAt: s.now(),
	}
}

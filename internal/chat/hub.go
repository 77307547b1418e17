package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/domain"
)

// BotID is the author of every message the hub sends on the bot's behalf.
const BotID = "bot"

const subscriptionBuffer = 64

// Scope is a snapshot of a channel or private thread.
type Scope struct {
	ID       string   `json:"id"`
	ParentID string   `json:"parentId,omitempty"`
	Name     string   `json:"name"`
	Private  bool     `json:"private"`
	Locked   bool     `json:"locked"`
	Archived bool     `json:"archived"`
	Members  []string `json:"members,omitempty"`
}

type scope struct {
	Scope
	members  map[string]struct{}
	messages []domain.Message
}

// Hub is an in-process chat server: members, channels, private threads
// and role assignments. It implements app.Platform and app.RoleGranter.
type Hub struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	members map[string]domain.Member
	roles   map[string]struct{}
	scopes  map[string]*scope
	subs    map[*subscription]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		now:     time.Now,
		members: make(map[string]domain.Member),
		roles:   make(map[string]struct{}),
		scopes:  make(map[string]*scope),
		subs:    make(map[*subscription]struct{}),
	}
}

// AddMember registers or replaces a member.
func (h *Hub) AddMember(m domain.Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m.Roles = append([]string(nil), m.Roles...)
	for _, r := range m.Roles {
		h.roles[r] = struct{}{}
	}
	h.members[m.ID] = m
}

// AddChannel creates a public channel. Adding an existing id is a no-op.
func (h *Hub) AddChannel(id, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.scopes[id]; ok {
		return
	}
	h.scopes[id] = &scope{Scope: Scope{ID: id, Name: name}}
}

func (h *Hub) Member(_ context.Context, userID string) (domain.Member, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[userID]
	if !ok {
		return domain.Member{}, fmt.Errorf("%w: %s", domain.ErrMemberNotFound, userID)
	}
	m.Roles = append([]string(nil), m.Roles...)
	return m, nil
}

func (h *Hub) Mention(userID string) string {
	return "<@" + userID + ">"
}

// Send posts text as the bot.
func (h *Hub) Send(_ context.Context, scopeID, text string) error {
	return h.post(domain.Message{ScopeID: scopeID, AuthorID: BotID, Content: text, Bot: true}, false)
}

// Publish posts a message written by a member.
func (h *Hub) Publish(_ context.Context, msg domain.Message) error {
	h.mu.RLock()
	m, ok := h.members[msg.AuthorID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMemberNotFound, msg.AuthorID)
	}
	msg.Bot = m.Bot
	return h.post(msg, true)
}

func (h *Hub) post(msg domain.Message, checkMember bool) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = h.now()
	}

	h.mu.Lock()
	sc, ok := h.scopes[msg.ScopeID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrScopeNotFound, msg.ScopeID)
	}
	if sc.Archived || (checkMember && sc.Locked) {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrScopeClosed, msg.ScopeID)
	}
	if checkMember && sc.Private {
		if _, member := sc.members[msg.AuthorID]; !member {
			h.mu.Unlock()
			return fmt.Errorf("%w: %s is not in %s", domain.ErrMemberNotFound, msg.AuthorID, msg.ScopeID)
		}
	}
	sc.messages = append(sc.messages, msg)
	targets := make([]*subscription, 0, len(h.subs))
	for sub := range h.subs {
		if sub.scopeID == "" || sub.scopeID == msg.ScopeID {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(msg, h.logger)
	}
	return nil
}

// Subscribe observes messages in scopeID, or in every scope when it is empty.
func (h *Hub) Subscribe(scopeID string, match app.MatchFunc) app.Subscription {
	sub := &subscription{
		hub:     h,
		scopeID: scopeID,
		match:   match,
		ch:      make(chan domain.Message, subscriptionBuffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// OpenScope creates a private thread under parentID visible to members only.
func (h *Hub) OpenScope(_ context.Context, parentID, name string, members []string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.scopes[parentID]; !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrScopeNotFound, parentID)
	}
	set := make(map[string]struct{}, len(members))
	for _, id := range members {
		if _, ok := h.members[id]; !ok {
			return "", fmt.Errorf("%w: %s", domain.ErrMemberNotFound, id)
		}
		set[id] = struct{}{}
	}
	id := "thread-" + uuid.NewString()
	h.scopes[id] = &scope{
		Scope:   Scope{ID: id, ParentID: parentID, Name: name, Private: true},
		members: set,
	}
	h.logger.Debug("scope opened", zap.String("scope_id", id), zap.String("name", name))
	return id, nil
}

// CloseScope locks and archives the scope, and deletes it when destroy is set.
func (h *Hub) CloseScope(_ context.Context, scopeID string, destroy bool) error {
	h.mu.Lock()
	sc, ok := h.scopes[scopeID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrScopeNotFound, scopeID)
	}
	sc.Locked, sc.Archived = true, true
	var orphaned []*subscription
	if destroy {
		delete(h.scopes, scopeID)
		for sub := range h.subs {
			if sub.scopeID == scopeID {
				delete(h.subs, sub)
				orphaned = append(orphaned, sub)
			}
		}
	}
	h.mu.Unlock()

	for _, sub := range orphaned {
		sub.close()
	}
	h.logger.Debug("scope closed", zap.String("scope_id", scopeID), zap.Bool("destroyed", destroy))
	return nil
}

// Scope returns a snapshot of scopeID.
func (h *Hub) Scope(scopeID string) (Scope, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sc, ok := h.scopes[scopeID]
	if !ok {
		return Scope{}, false
	}
	out := sc.Scope
	for id := range sc.members {
		out.Members = append(out.Members, id)
	}
	sort.Strings(out.Members)
	return out, true
}

// Scopes lists the scopes visible to userID, public channels included.
func (h *Hub) Scopes(userID string) []Scope {
	h.mu.RLock()
	ids := make([]string, 0, len(h.scopes))
	for id, sc := range h.scopes {
		if !sc.Private {
			ids = append(ids, id)
			continue
		}
		if _, ok := sc.members[userID]; ok {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	out := make([]Scope, 0, len(ids))
	for _, id := range ids {
		if sc, ok := h.Scope(id); ok {
			out = append(out, sc)
		}
	}
	return out
}

// CanRead reports whether userID may observe scopeID.
func (h *Hub) CanRead(userID, scopeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sc, ok := h.scopes[scopeID]
	if !ok {
		return false
	}
	if !sc.Private {
		return true
	}
	_, member := sc.members[userID]
	return member
}

// Transcript returns the messages posted to scopeID so far.
func (h *Hub) Transcript(scopeID string) []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sc, ok := h.scopes[scopeID]
	if !ok {
		return nil
	}
	return append([]domain.Message(nil), sc.messages...)
}

// EnsureRole creates the role if the server does not have it yet.
func (h *Hub) EnsureRole(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.roles[name]; !ok {
		h.roles[name] = struct{}{}
		h.logger.Info("role created", zap.String("role", name))
	}
	return nil
}

// GrantRole assigns an existing role to a member.
func (h *Hub) GrantRole(_ context.Context, userID, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.roles[name]; !ok {
		return fmt.Errorf("role %q does not exist", name)
	}
	m, ok := h.members[userID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMemberNotFound, userID)
	}
	for _, r := range m.Roles {
		if r == name {
			return nil
		}
	}
	m.Roles = append(m.Roles, name)
	h.members[userID] = m
	return nil
}

type subscription struct {
	hub     *Hub
	scopeID string
	match   app.MatchFunc

	mu     sync.Mutex
	closed bool
	ch     chan domain.Message
}

func (s *subscription) Messages() <-chan domain.Message { return s.ch }

func (s *subscription) Cancel() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.close()
}

func (s *subscription) deliver(msg domain.Message, logger *zap.Logger) {
	if s.match != nil && !s.match(msg) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		logger.Warn("subscriber buffer full, dropping message", zap.String("scope_id", msg.ScopeID))
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

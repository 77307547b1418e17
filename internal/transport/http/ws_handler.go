package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/chat"
	"noob2root-bot/internal/domain"
)

// Handler exposes the chat hub over websockets plus a small JSON API.
type Handler struct {
	hub        *chat.Hub
	sessions   app.SessionRepository
	ledger     *app.Ledger
	challenges *app.ChallengeTracker
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

func NewHandler(hub *chat.Hub, sessions app.SessionRepository, ledger *app.Ledger, challenges *app.ChallengeTracker, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		sessions:   sessions,
		ledger:     ledger,
		challenges: challenges,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("GET /api/progress/{userID}", h.progress)
	mux.HandleFunc("GET /api/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /api/challenge", h.challenge)
	mux.HandleFunc("GET /api/sessions", h.activeSessions)
	mux.HandleFunc("GET /api/scopes/{scopeID}/messages", h.transcript)
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type postPayload struct {
	ScopeID string `json:"scopeId"`
	Content string `json:"content"`
}

type watchPayload struct {
	SessionID string `json:"sessionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	UserID string       `json:"userId"`
	Scopes []chat.Scope `json:"scopes"`
}

// ServeWS upgrades the request and bridges one member into the hub: messages
// of every readable scope flow out, posts flow in through Publish.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if userID == "" || displayName == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}
	if _, err := h.hub.Member(r.Context(), userID); errors.Is(err, domain.ErrMemberNotFound) {
		h.hub.AddMember(domain.Member{ID: userID, DisplayName: displayName})
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	log := h.logger.With(zap.String("user_id", userID))

	sub := h.hub.Subscribe("", func(m domain.Message) bool {
		return h.hub.CanRead(userID, m.ScopeID)
	})
	defer sub.Cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	var forwarders sync.WaitGroup

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	forward := func(typ string, next func() (any, bool)) {
		forwarders.Add(1)
		go func() {
			defer forwarders.Done()
			for {
				v, ok := next()
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: typ, Payload: v}:
				case <-closeSignals:
					return
				}
			}
		}()
	}
	recv := func(ch <-chan domain.Message) func() (any, bool) {
		return func() (any, bool) {
			select {
			case m, ok := <-ch:
				return m, ok
			case <-closeSignals:
				return nil, false
			}
		}
	}
	forward("message", recv(sub.Messages()))

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{UserID: userID, Scopes: h.hub.Scopes(userID)}}

	var watches []func()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "message":
			var payload postPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.ScopeID == "" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid message payload"}}
				continue
			}
			err := h.hub.Publish(r.Context(), domain.Message{ScopeID: payload.ScopeID, AuthorID: userID, Content: payload.Content})
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "watch":
			var payload watchPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid watch payload"}}
				continue
			}
			session, ok := h.sessions.Get(payload.SessionID)
			if !ok {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: domain.ErrSessionNotFound.Error()}}
				continue
			}
			updates, cancel := session.Subscribe()
			watches = append(watches, cancel)
			forward("scoreboard", func() (any, bool) {
				select {
				case lb, ok := <-updates:
					return lb, ok
				case <-closeSignals:
					return nil, false
				}
			})
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	for _, cancel := range watches {
		cancel()
	}
	forwarders.Wait()
	close(send)
	<-writerDone
}

type standingResponse struct {
	Rank   int    `json:"rank"`
	UserID string `json:"userId"`
	Points int    `json:"points"`
	Streak int    `json:"streak"`
}

type challengeResponse struct {
	Date     string                    `json:"date"`
	Current  *domain.ChallengeSpec     `json:"current"`
	Progress *domain.ChallengeProgress `json:"progress,omitempty"`
}

type sessionResponse struct {
	ID           string              `json:"id"`
	Mode         domain.Mode         `json:"mode"`
	State        domain.SessionState `json:"state"`
	Category     string              `json:"category"`
	Difficulty   string              `json:"difficulty"`
	Rounds       int                 `json:"rounds"`
	Participants []string            `json:"participants"`
	Scoreboard   domain.Leaderboard  `json:"scoreboard"`
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Get(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be a number", http.StatusBadRequest)
			return
		}
		limit = n
	}
	standings, err := h.ledger.Top(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]standingResponse, len(standings))
	for i, s := range standings {
		out[i] = standingResponse{Rank: s.Rank, UserID: s.UserID, Points: s.Record.Points, Streak: s.Record.Streak}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) challenge(w http.ResponseWriter, r *http.Request) {
	spec, progress, date, err := h.challenges.Progress(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	res := challengeResponse{Date: date, Current: spec}
	if r.URL.Query().Get("userId") != "" && spec != nil {
		res.Progress = &progress
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) activeSessions(w http.ResponseWriter, _ *http.Request) {
	active := h.sessions.Active()
	out := make([]sessionResponse, 0, len(active))
	for _, s := range active {
		out = append(out, sessionResponse{
			ID:           s.ID(),
			Mode:         s.Mode(),
			State:        s.State(),
			Category:     s.Category(),
			Difficulty:   s.Difficulty(),
			Rounds:       s.Rounds(),
			Participants: s.ParticipantIDs(),
			Scoreboard:   s.Scoreboard(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// transcript lists a scope's messages to a member allowed to read it.
func (h *Handler) transcript(w http.ResponseWriter, r *http.Request) {
	scopeID := r.PathValue("scopeID")
	if !h.hub.CanRead(r.URL.Query().Get("userId"), scopeID) {
		http.Error(w, "scope not found", http.StatusNotFound)
		return
	}
	msgs := h.hub.Transcript(scopeID)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.logger.Error("api request failed", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

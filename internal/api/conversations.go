package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/techflow/internal/directory"
	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/identity"
	"github.com/go-chi/chi/v5"
)

type createConversationRequest struct {
	AgentID string `json:"agent_id" validate:"required,max=128"`
}

type sendMessageRequest struct {
	Text             string                   `json:"text" validate:"required,max=16000"`
	TechnicalContext *domain.TechnicalContext `json:"technical_context,omitempty"`
}

type chatRequest struct {
	AgentID          string                   `json:"agent_id,omitempty" validate:"omitempty,max=128"`
	Text             string                   `json:"text" validate:"required,max=16000"`
	TechnicalContext *domain.TechnicalContext `json:"technical_context,omitempty"`
}

type conversationResponse struct {
	*domain.ConversationSession
	Messages []domain.Turn `json:"messages,omitempty"`
}

// ListAgents returns the built-in personas and those owned by the caller.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	personas, err := h.agents.List(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if personas == nil {
		personas = []*domain.AgentPersona{}
	}
	JSON(w, http.StatusOK, personas)
}

// GetAgent returns one persona visible to the caller.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	persona, err := h.agents.Resolve(r.Context(), chi.URLParam(r, "agentID"), directory.OwnedBy(identity.UserIDFromContext(r.Context())))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, persona)
}

// CreateConversation starts a new session with an agent.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())

	var req createConversationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.agents.Resolve(r.Context(), req.AgentID, directory.OwnedBy(owner)); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.conversations.CreateSession(r.Context(), owner, req.AgentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.analytics.RecordConversationStart(context.WithoutCancel(r.Context()), req.AgentID); err != nil {
		h.logger.Warn("failed to record conversation start", "agent_id", req.AgentID, "error", err)
	}
	JSON(w, http.StatusCreated, session)
}

// ListConversations returns the caller's sessions, most recent first,
// optionally filtered by agent_id.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	limit := queryLimit(r)

	var (
		sessions []*domain.ConversationSession
		err      error
	)
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		sessions, err = h.conversations.ListByAgent(r.Context(), owner, agentID, limit)
	} else {
		sessions, err = h.conversations.ListByOwner(r.Context(), owner, limit)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.ConversationSession{}
	}
	JSON(w, http.StatusOK, sessions)
}

// SearchConversations returns the caller's sessions with a turn containing q.
func (h *Handler) SearchConversations(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		Error(w, http.StatusBadRequest, "q is required")
		return
	}
	sessions, err := h.conversations.Search(r.Context(), identity.UserIDFromContext(r.Context()), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.ConversationSession{}
	}
	JSON(w, http.StatusOK, sessions)
}

// ownedSession loads a session and hides sessions of other owners.
func (h *Handler) ownedSession(r *http.Request) (*domain.ConversationSession, error) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.conversations.Get(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerRef != identity.UserIDFromContext(r.Context()) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return session, nil
}

// GetConversation returns a session with its messages.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	turns, err := h.conversations.ReadAll(r.Context(), session.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, conversationResponse{ConversationSession: session, Messages: turns})
}

// ListMessages returns a session's turns in order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	turns, err := h.conversations.ReadAll(r.Context(), session.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	JSON(w, http.StatusOK, turns)
}

// DeleteConversation removes a session and its turns.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.conversations.Delete(r.Context(), session.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage runs an exchange in an existing session.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.exchange(w, r, domain.InboundMessage{
		Channel:          domain.ChannelWeb,
		ExternalIdentity: identity.UserIDFromContext(r.Context()),
		Text:             req.Text,
		TechnicalContext: req.TechnicalContext,
		SessionID:        chi.URLParam(r, "sessionID"),
	})
}

// Chat runs an exchange in the caller's active web session, selecting
// agent_id first when given.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.exchange(w, r, domain.InboundMessage{
		Channel:          domain.ChannelWeb,
		ExternalIdentity: identity.UserIDFromContext(r.Context()),
		Text:             req.Text,
		TechnicalContext: req.TechnicalContext,
		AgentID:          req.AgentID,
	})
}

func (h *Handler) exchange(w http.ResponseWriter, r *http.Request, msg domain.InboundMessage) {
	reply, err := h.chat.Handle(r.Context(), msg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

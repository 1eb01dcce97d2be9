// Package api provides HTTP handlers for the TechFlow web surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/techflow/internal/analytics"
	"github.com/ashureev/techflow/internal/directory"
	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/validation"
	"github.com/go-chi/chi/v5"
)

const maxRequestBytes = 1 << 20

// Agents resolves and lists personas.
type Agents interface {
	Resolve(ctx context.Context, agentID string, allow directory.OwnerPredicate) (*domain.AgentPersona, error)
	List(ctx context.Context, ownerRef string) ([]*domain.AgentPersona, error)
}

// Conversations is the conversation store as seen by the web surface.
type Conversations interface {
	CreateSession(ctx context.Context, ownerRef, agentID string) (*domain.ConversationSession, error)
	Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
	ReadAll(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Delete(ctx context.Context, sessionID string) error
	ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*domain.ConversationSession, error)
	ListByAgent(ctx context.Context, ownerRef, agentID string, limit int) ([]*domain.ConversationSession, error)
	Search(ctx context.Context, ownerRef, query string) ([]*domain.ConversationSession, error)
}

// Exchanger runs one chat exchange.
type Exchanger interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (*domain.OutboundReply, error)
}

// Analytics records and reads per-agent usage.
type Analytics interface {
	RecordConversationStart(ctx context.Context, agentID string) error
	RecordSatisfaction(ctx context.Context, agentID string, score int) error
	ForAgent(ctx context.Context, agentID string, from, to time.Time) ([]*domain.AnalyticsRecord, error)
	Summarize(ctx context.Context, agentIDs []string, from, to time.Time) (*analytics.Summary, error)
}

// Handler serves the web API.
type Handler struct {
	agents        Agents
	conversations Conversations
	chat          Exchanger
	analytics     Analytics
	validator     *validation.Validator
	logger        *slog.Logger
	now           func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(agents Agents, conversations Conversations, chat Exchanger, stats Analytics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		agents:        agents,
		conversations: conversations,
		chat:          chat,
		analytics:     stats,
		validator:     validation.New(),
		logger:        logger,
		now:           time.Now,
	}
}

// RegisterRoutes registers the web API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{agentID}", h.GetAgent)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Post("/", h.CreateConversation)
			r.Get("/search", h.SearchConversations)
			r.Get("/{sessionID}", h.GetConversation)
			r.Delete("/{sessionID}", h.DeleteConversation)
			r.Get("/{sessionID}/messages", h.ListMessages)
			r.Post("/{sessionID}/messages", h.SendMessage)
		})

		r.Post("/chat", h.Chat)

		r.Get("/analytics/summary", h.AnalyticsSummary)
		r.Get("/analytics/{agentID}", h.AgentAnalytics)
		r.Post("/analytics/{agentID}/satisfaction", h.SubmitSatisfaction)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error onto an HTTP status by its taxonomy class.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. Internal failures are
// logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, status, "internal server error")
		return
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		JSON(w, status, map[string]interface{}{"error": "validation failed", "fields": verr.Fields})
		return
	}
	if status == http.StatusNotFound {
		Error(w, status, "not found")
		return
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return validation.NewError("body", "invalid JSON: "+err.Error())
	}
	return h.validator.Struct(v)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

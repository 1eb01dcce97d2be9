package api

import (
	"net/http"
	"time"

	"github.com/ashureev/techflow/internal/directory"
	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/identity"
	"github.com/ashureev/techflow/internal/validation"
	"github.com/go-chi/chi/v5"
)

const defaultAnalyticsWindow = 30 * 24 * time.Hour

type satisfactionRequest struct {
	Score int `json:"score" validate:"required,min=1,max=5"`
}

// dateRange reads from and to (YYYY-MM-DD) from the query. Missing bounds
// default to the last 30 days ending today.
func (h *Handler) dateRange(r *http.Request) (time.Time, time.Time, error) {
	now := h.now()
	to := now
	from := now.Add(-defaultAnalyticsWindow)

	q := r.URL.Query()
	if v := q.Get("to"); v != "" {
		t, err := time.ParseInLocation(domain.DayLayout, v, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, validation.NewError("to", "to must be a YYYY-MM-DD date")
		}
		to = t
	}
	if v := q.Get("from"); v != "" {
		t, err := time.ParseInLocation(domain.DayLayout, v, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, validation.NewError("from", "from must be a YYYY-MM-DD date")
		}
		from = t
	}
	return from, to, nil
}

// AgentAnalytics returns an agent's daily records in a date range.
func (h *Handler) AgentAnalytics(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	agentID := chi.URLParam(r, "agentID")
	if _, err := h.agents.Resolve(r.Context(), agentID, directory.OwnedBy(owner)); err != nil {
		h.writeError(w, r, err)
		return
	}

	from, to, err := h.dateRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.analytics.ForAgent(r.Context(), agentID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.AnalyticsRecord{}
	}
	JSON(w, http.StatusOK, records)
}

// AnalyticsSummary aggregates the records of every agent visible to the
// caller in a date range.
func (h *Handler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	personas, err := h.agents.List(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids := make([]string, len(personas))
	for i, p := range personas {
		ids[i] = p.ID
	}

	summary, err := h.analytics.Summarize(r.Context(), ids, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}

// SubmitSatisfaction folds a 1..5 rating into today's record for an agent.
func (h *Handler) SubmitSatisfaction(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, err := h.agents.Resolve(r.Context(), agentID, directory.OwnedBy(identity.UserIDFromContext(r.Context()))); err != nil {
		h.writeError(w, r, err)
		return
	}

	var req satisfactionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.analytics.RecordSatisfaction(r.Context(), agentID, req.Score); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/techflow/internal/domain"
)

// Summary aggregates analytics across agents and days.
type Summary struct {
	TotalConversations int64   `json:"total_conversations"`
	TotalMessages      int64   `json:"total_messages"`
	AvgResponseTimeMs  float64 `json:"avg_response_time_ms"`
	AvgSatisfaction    float64 `json:"avg_satisfaction"`
	Records            int     `json:"records"`
}

// ForAgent returns an agent's records between from and to inclusive, by day.
func (a *Aggregator) ForAgent(ctx context.Context, agentID string, from, to time.Time) ([]*domain.AnalyticsRecord, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("range end before start: %w", domain.ErrValidation)
	}
	records, err := a.store.ListAnalytics(ctx, agentID, domain.DayOf(from), domain.DayOf(to))
	if err != nil {
		return nil, fmt.Errorf("list analytics: %w", err)
	}
	return records, nil
}

// Today returns today's record for an agent, zeroed when no events arrived yet.
func (a *Aggregator) Today(ctx context.Context, agentID string) (*domain.AnalyticsRecord, error) {
	day := domain.DayOf(a.now())
	record, err := a.store.GetAnalytics(ctx, agentID, day)
	if err != nil {
		return nil, fmt.Errorf("load analytics: %w", err)
	}
	if record == nil {
		record = &domain.AnalyticsRecord{AgentID: agentID, Day: day}
	}
	return record, nil
}

// Summarize totals the agents' counts between from and to and averages the
// per-record averages of records that carry samples.
func (a *Aggregator) Summarize(ctx context.Context, agentIDs []string, from, to time.Time) (*Summary, error) {
	var all []*domain.AnalyticsRecord
	for _, id := range agentIDs {
		records, err := a.ForAgent(ctx, id, from, to)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return Summarize(all), nil
}

// Summarize folds records into a Summary.
func Summarize(records []*domain.AnalyticsRecord) *Summary {
	s := &Summary{Records: len(records)}
	var respSum, satSum float64
	var respN, satN int
	for _, r := range records {
		s.TotalConversations += r.ConversationsCount
		s.TotalMessages += r.MessagesCount
		if r.ResponseSamples > 0 {
			respSum += r.AvgResponseTimeMs
			respN++
		}
		if r.SatisfactionSamples > 0 {
			satSum += r.AvgSatisfaction
			satN++
		}
	}
	if respN > 0 {
		s.AvgResponseTimeMs = respSum / float64(respN)
	}
	if satN > 0 {
		s.AvgSatisfaction = satSum / float64(satN)
	}
	return s
}

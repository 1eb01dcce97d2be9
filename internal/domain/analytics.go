package domain

import "time"

// DayLayout is the calendar-day key format used for analytics records.
const DayLayout = "2006-01-02"

// AnalyticsRecord holds per-agent, per-day usage counters.
type AnalyticsRecord struct {
	AgentID             string    `json:"agent_id"`
	Day                 string    `json:"day"`
	ConversationsCount  int64     `json:"conversations_count"`
	MessagesCount       int64     `json:"messages_count"`
	AvgResponseTimeMs   float64   `json:"avg_response_time_ms"`
	ResponseSamples     int64     `json:"response_samples"`
	AvgSatisfaction     float64   `json:"avg_satisfaction"`
	SatisfactionSamples int64     `json:"satisfaction_samples"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DayOf returns the calendar-day key for t in t's location.
func DayOf(t time.Time) string {
	return t.Format(DayLayout)
}

// RollingAverage folds a sample into a recency-weighted average. A fresh
// record starts at zero, so the first sample is halved too.
func RollingAverage(current, sample float64) float64 {
	return (current + sample) / 2
}

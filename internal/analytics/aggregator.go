// Package analytics aggregates per-agent, per-day usage counters.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/keylock"
	"github.com/ashureev/techflow/internal/store"
)

// Aggregator applies read-modify-write updates to analytics records.
// Updates for the same (agent, day) are serialized; different keys run
// in parallel.
type Aggregator struct {
	store  store.AnalyticsStore
	locks  *keylock.Map
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used to pick the calendar day.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator.
func New(records store.AnalyticsStore, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		store:  records,
		locks:  keylock.New(),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordConversationStart counts a new conversation.
func (a *Aggregator) RecordConversationStart(ctx context.Context, agentID string) error {
	return a.update(ctx, agentID, func(r *domain.AnalyticsRecord) {
		r.ConversationsCount++
	})
}

// RecordMessage counts one message.
func (a *Aggregator) RecordMessage(ctx context.Context, agentID string) error {
	return a.RecordMessages(ctx, agentID, 1)
}

// RecordMessages counts n messages in a single update.
func (a *Aggregator) RecordMessages(ctx context.Context, agentID string, n int64) error {
	if n <= 0 {
		return nil
	}
	return a.update(ctx, agentID, func(r *domain.AnalyticsRecord) {
		r.MessagesCount += n
	})
}

// RecordResponseTime folds a latency sample into the rolling average.
func (a *Aggregator) RecordResponseTime(ctx context.Context, agentID string, ms int64) error {
	if ms < 0 {
		return fmt.Errorf("response time %d: %w", ms, domain.ErrValidation)
	}
	return a.update(ctx, agentID, func(r *domain.AnalyticsRecord) {
		r.AvgResponseTimeMs = domain.RollingAverage(r.AvgResponseTimeMs, float64(ms))
		r.ResponseSamples++
	})
}

// RecordSatisfaction folds a 1..5 rating into the rolling average.
func (a *Aggregator) RecordSatisfaction(ctx context.Context, agentID string, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("satisfaction score %d must be between 1 and 5: %w", score, domain.ErrValidation)
	}
	return a.update(ctx, agentID, func(r *domain.AnalyticsRecord) {
		r.AvgSatisfaction = domain.RollingAverage(r.AvgSatisfaction, float64(score))
		r.SatisfactionSamples++
	})
}

func (a *Aggregator) update(ctx context.Context, agentID string, apply func(*domain.AnalyticsRecord)) error {
	now := a.now()
	day := domain.DayOf(now)
	key := agentID + "|" + day

	unlock, err := a.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock analytics %s: %w", key, err)
	}
	defer unlock()

	record, err := a.store.GetAnalytics(ctx, agentID, day)
	if err != nil {
		return fmt.Errorf("load analytics: %w", err)
	}
	if record == nil {
		record = &domain.AnalyticsRecord{AgentID: agentID, Day: day}
	}

	apply(record)
	record.UpdatedAt = now

	if err := a.store.PutAnalytics(ctx, record); err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}
	return nil
}

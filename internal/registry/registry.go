// Package registry tracks which agent and conversation session is active
// for each (channel, external identity) pair.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/keylock"
	"github.com/ashureev/techflow/internal/store"
)

// Sessions is the part of the conversation store the registry needs.
type Sessions interface {
	CreateSession(ctx context.Context, ownerRef, agentID string) (*domain.ConversationSession, error)
	Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
}

// Registry maps (channel, identity) pairs to their active session.
type Registry struct {
	pointers store.PointerStore
	sessions Sessions
	locks    *keylock.Map
	idleTTL  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIdleTTL sets how long a pointer may go untouched before Sweep evicts it.
func WithIdleTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.idleTTL = ttl }
}

// New creates a Registry.
func New(pointers store.PointerStore, sessions Sessions, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		pointers: pointers,
		sessions: sessions,
		locks:    keylock.New(),
		idleTTL:  24 * time.Hour,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select makes agentID active for the pair. The existing session is kept
// when the pointer already targets agentID; otherwise a new session is
// created and the pointer overwritten. The previous session is never touched.
func (r *Registry) Select(ctx context.Context, channel domain.Channel, externalIdentity, agentID string) (string, bool, error) {
	unlock, err := r.locks.Lock(ctx, domain.PointerKey(channel, externalIdentity))
	if err != nil {
		return "", false, fmt.Errorf("lock pointer: %w", err)
	}
	defer unlock()

	current, err := r.pointers.GetPointer(ctx, channel, externalIdentity)
	if err != nil {
		return "", false, fmt.Errorf("get pointer: %w", err)
	}

	if current != nil && current.AgentID == agentID && r.live(current) {
		_, err := r.sessions.Get(ctx, current.SessionID)
		switch {
		case err == nil:
			current.LastTouchedAt = r.now()
			if err := r.pointers.PutPointer(ctx, current); err != nil {
				return "", false, fmt.Errorf("touch pointer: %w", err)
			}
			return current.SessionID, false, nil
		case errors.Is(err, domain.ErrNotFound):
			r.logger.Warn("active pointer references missing session, starting fresh",
				"channel", channel, "identity", externalIdentity, "session_id", current.SessionID)
		default:
			return "", false, err
		}
	}

	session, err := r.sessions.CreateSession(ctx, externalIdentity, agentID)
	if err != nil {
		return "", false, err
	}

	pointer := &domain.ActiveSessionPointer{
		Channel:          channel,
		ExternalIdentity: externalIdentity,
		AgentID:          agentID,
		SessionID:        session.SessionID,
		LastTouchedAt:    r.now(),
	}
	if err := r.pointers.PutPointer(ctx, pointer); err != nil {
		return "", false, fmt.Errorf("put pointer: %w", err)
	}

	r.logger.Info("agent selected",
		"channel", channel, "identity", externalIdentity,
		"agent_id", agentID, "session_id", session.SessionID)
	return session.SessionID, true, nil
}

// Current returns the active pointer, or nil when none exists or it has gone idle.
func (r *Registry) Current(ctx context.Context, channel domain.Channel, externalIdentity string) (*domain.ActiveSessionPointer, error) {
	pointer, err := r.pointers.GetPointer(ctx, channel, externalIdentity)
	if err != nil {
		return nil, fmt.Errorf("get pointer: %w", err)
	}
	if pointer == nil || !r.live(pointer) {
		return nil, nil
	}
	return pointer, nil
}

// live reports whether p is within the idle TTL. Pointers past it are
// treated as absent even before Sweep removes them.
func (r *Registry) live(p *domain.ActiveSessionPointer) bool {
	return p.IdleFor(r.now()) <= r.idleTTL
}

// Touch refreshes the pointer's activity time if it still targets sessionID.
func (r *Registry) Touch(ctx context.Context, channel domain.Channel, externalIdentity, sessionID string) error {
	unlock, err := r.locks.Lock(ctx, domain.PointerKey(channel, externalIdentity))
	if err != nil {
		return fmt.Errorf("lock pointer: %w", err)
	}
	defer unlock()

	pointer, err := r.pointers.GetPointer(ctx, channel, externalIdentity)
	if err != nil {
		return fmt.Errorf("get pointer: %w", err)
	}
	if pointer == nil || pointer.SessionID != sessionID {
		return nil
	}
	pointer.LastTouchedAt = r.now()
	if err := r.pointers.PutPointer(ctx, pointer); err != nil {
		return fmt.Errorf("touch pointer: %w", err)
	}
	return nil
}

// Clear removes the pointer. Clearing an absent pointer is not an error.
func (r *Registry) Clear(ctx context.Context, channel domain.Channel, externalIdentity string) error {
	unlock, err := r.locks.Lock(ctx, domain.PointerKey(channel, externalIdentity))
	if err != nil {
		return fmt.Errorf("lock pointer: %w", err)
	}
	defer unlock()

	if err := r.pointers.DeletePointer(ctx, channel, externalIdentity); err != nil {
		return fmt.Errorf("clear pointer: %w", err)
	}
	r.logger.Info("active session cleared", "channel", channel, "identity", externalIdentity)
	return nil
}

// Sweep evicts pointers idle longer than the configured TTL. An eviction
// racing a Select at worst causes one extra session to be created.
func (r *Registry) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.idleTTL)
	n, err := r.pointers.DeleteIdlePointers(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep idle pointers: %w", err)
	}
	return n, nil
}

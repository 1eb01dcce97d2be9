// Package conversation implements the append-only per-session message log.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/keylock"
	"github.com/ashureev/techflow/internal/store"
	"github.com/google/uuid"
)

// Store serializes appends per session on top of a store.SessionStore.
// Appends to different sessions never wait on each other.
type Store struct {
	sessions store.SessionStore
	locks    *keylock.Map
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a conversation Store.
func New(sessions store.SessionStore, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: sessions,
		locks:    keylock.New(),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession allocates a new empty session with a fresh random ID.
func (s *Store) CreateSession(ctx context.Context, ownerRef, agentID string) (*domain.ConversationSession, error) {
	now := s.now()
	session := &domain.ConversationSession{
		SessionID:      uuid.NewString(),
		AgentID:        agentID,
		OwnerRef:       ownerRef,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("conversation session created",
		"session_id", session.SessionID, "agent_id", agentID, "owner", ownerRef)
	return session, nil
}

// Get returns the session header.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return session, nil
}

// AppendTurn appends one turn to the session.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	return s.AppendTurns(ctx, sessionID, turn)
}

// AppendTurns appends turns contiguously: no other append to the same
// session lands between them. Timestamps are clamped so they never go
// backwards within a session.
//
// Exchanges append both turns once generation finishes, so concurrent
// exchanges on one session are stored in completion order: a slow message
// sent first lands after a fast one sent second. Arrival order holds only
// for messages sent one after another.
func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	last := session.LastActivityAt
	for _, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = s.now()
		}
		if turn.Timestamp.Before(last) {
			turn.Timestamp = last
		}
		last = turn.Timestamp

		if _, err := s.sessions.AppendTurn(ctx, sessionID, turn); err != nil {
			return fmt.Errorf("append %s turn: %w", turn.Role, err)
		}
	}
	return nil
}

// ReadAll returns every turn of the session in append order.
func (s *Store) ReadAll(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	return s.read(ctx, sessionID, 0)
}

// ReadTail returns the most recent n turns in append order. The store
// only fetches the tail.
func (s *Store) ReadTail(ctx context.Context, sessionID string, n int) ([]domain.Turn, error) {
	if n <= 0 {
		if _, err := s.Get(ctx, sessionID); err != nil {
			return nil, err
		}
		return []domain.Turn{}, nil
	}
	return s.read(ctx, sessionID, n)
}

func (s *Store) read(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	turns, err := s.sessions.ListTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	return turns, nil
}

// Delete removes a session and its turns.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	deleted, err := s.sessions.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	s.logger.Info("conversation session deleted", "session_id", sessionID)
	return nil
}

// ListByOwner returns the owner's sessions, most recent first.
func (s *Store) ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*domain.ConversationSession, error) {
	sessions, err := s.sessions.ListSessions(ctx, store.SessionFilter{OwnerRef: ownerRef, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list sessions by owner: %w", err)
	}
	return sessions, nil
}

// ListByAgent returns the owner's sessions with one agent, most recent first.
func (s *Store) ListByAgent(ctx context.Context, ownerRef, agentID string, limit int) ([]*domain.ConversationSession, error) {
	sessions, err := s.sessions.ListSessions(ctx, store.SessionFilter{OwnerRef: ownerRef, AgentID: agentID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list sessions by agent: %w", err)
	}
	return sessions, nil
}

// Search returns the owner's sessions with a turn containing query.
func (s *Store) Search(ctx context.Context, ownerRef, query string) ([]*domain.ConversationSession, error) {
	sessions, err := s.sessions.SearchSessions(ctx, ownerRef, query)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	return sessions, nil
}

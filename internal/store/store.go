// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/techflow/internal/domain"
)

// PersonaStore persists agent persona definitions.
type PersonaStore interface {
	// GetPersona retrieves a persona by ID. Returns (nil, nil) when absent.
	GetPersona(ctx context.Context, id string) (*domain.AgentPersona, error)

	// ListPersonas returns built-in personas plus those owned by ownerRef.
	ListPersonas(ctx context.Context, ownerRef string) ([]*domain.AgentPersona, error)

	// UpsertPersona creates or replaces a persona definition.
	UpsertPersona(ctx context.Context, persona *domain.AgentPersona) error
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	OwnerRef string
	AgentID  string
	Limit    int
}

// SessionStore persists conversation sessions and their turns.
type SessionStore interface {
	// CreateSession inserts a new session. The session ID must be unused.
	CreateSession(ctx context.Context, session *domain.ConversationSession) error

	// GetSession retrieves a session header. Returns (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.ConversationSession, error)

	// AppendTurn appends a turn at the end of the session and returns its
	// sequence number. Returns domain.ErrNotFound if the session is absent.
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) (int, error)

	// ListTurns returns turns in append order. A positive limit returns
	// only the most recent limit turns.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)

	// DeleteSession removes a session and its turns. Reports whether it existed.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// ListSessions returns sessions ordered by creation time, newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.ConversationSession, error)

	// SearchSessions returns the owner's sessions with a turn containing query.
	SearchSessions(ctx context.Context, ownerRef, query string) ([]*domain.ConversationSession, error)
}

// PointerStore persists active session pointers.
type PointerStore interface {
	// GetPointer retrieves the pointer for a channel and identity. Returns (nil, nil) when absent.
	GetPointer(ctx context.Context, channel domain.Channel, externalIdentity string) (*domain.ActiveSessionPointer, error)

	// PutPointer creates or overwrites a pointer.
	PutPointer(ctx context.Context, pointer *domain.ActiveSessionPointer) error

	// DeletePointer removes a pointer. Deleting an absent pointer is not an error.
	DeletePointer(ctx context.Context, channel domain.Channel, externalIdentity string) error

	// DeleteIdlePointers removes pointers last touched before cutoff.
	DeleteIdlePointers(ctx context.Context, cutoff time.Time) (int64, error)
}

// AnalyticsStore persists per-agent, per-day analytics records.
type AnalyticsStore interface {
	// GetAnalytics retrieves the record for an agent and day. Returns (nil, nil) when absent.
	GetAnalytics(ctx context.Context, agentID, day string) (*domain.AnalyticsRecord, error)

	// PutAnalytics creates or overwrites the record for its agent and day.
	PutAnalytics(ctx context.Context, record *domain.AnalyticsRecord) error

	// ListAnalytics returns an agent's records with fromDay <= day <= toDay, oldest first.
	ListAnalytics(ctx context.Context, agentID, fromDay, toDay string) ([]*domain.AnalyticsRecord, error)
}

// Repository is the full persistent store used by the server.
type Repository interface {
	PersonaStore
	SessionStore
	PointerStore
	AnalyticsStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so appends never
	// need to upgrade a read lock.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		owner_ref TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		base_instructions TEXT NOT NULL,
		template_kind TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_personas_owner ON personas(owner_ref);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		owner_ref TEXT NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_ref, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, created_at);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		synthetic INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS active_pointers (
		channel TEXT NOT NULL,
		external_identity TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		last_touched_at INTEGER NOT NULL,
		PRIMARY KEY (channel, external_identity)
	);
	CREATE INDEX IF NOT EXISTS idx_active_pointers_touched ON active_pointers(last_touched_at);

	CREATE TABLE IF NOT EXISTS analytics (
		agent_id TEXT NOT NULL,
		day TEXT NOT NULL,
		conversations_count INTEGER NOT NULL DEFAULT 0,
		messages_count INTEGER NOT NULL DEFAULT 0,
		avg_response_time_ms REAL NOT NULL DEFAULT 0,
		response_samples INTEGER NOT NULL DEFAULT 0,
		avg_satisfaction REAL NOT NULL DEFAULT 0,
		satisfaction_samples INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (agent_id, day)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetPersona retrieves a persona by ID.
func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (*domain.AgentPersona, error) {
	query := `
		SELECT id, owner_ref, display_name, description, base_instructions, template_kind, created_at
		FROM personas WHERE id = ?`

	p, err := scanPersona(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scan persona", err)
	}
	return p, nil
}

// ListPersonas returns built-in personas plus those owned by ownerRef.
func (s *SQLiteStore) ListPersonas(ctx context.Context, ownerRef string) ([]*domain.AgentPersona, error) {
	query := `
		SELECT id, owner_ref, display_name, description, base_instructions, template_kind, created_at
		FROM personas WHERE owner_ref = '' OR owner_ref = ?
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, ownerRef)
	if err != nil {
		return nil, storageErr("query personas", err)
	}
	defer closeRows(rows, "personas")

	var personas []*domain.AgentPersona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, storageErr("scan persona row", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate personas", err)
	}
	return personas, nil
}

// UpsertPersona creates or replaces a persona definition.
func (s *SQLiteStore) UpsertPersona(ctx context.Context, p *domain.AgentPersona) error {
	query := `
	INSERT INTO personas (id, owner_ref, display_name, description, base_instructions, template_kind, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_ref = excluded.owner_ref,
		display_name = excluded.display_name,
		description = excluded.description,
		base_instructions = excluded.base_instructions,
		template_kind = excluded.template_kind`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert persona", func() error {
		_, err := s.db.ExecContext(ctx, query,
			p.ID, p.OwnerRef, p.DisplayName, p.Description,
			p.BaseInstructions, string(p.TemplateKind), p.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return storageErr("upsert persona", err)
		}
		return nil
	})
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ConversationSession) error {
	query := `
	INSERT INTO sessions (session_id, agent_id, owner_ref, turn_count, created_at, last_activity_at)
	VALUES (?, ?, ?, 0, ?, ?)`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.SessionID, session.AgentID, session.OwnerRef,
			session.CreatedAt.UnixMilli(), session.LastActivityAt.UnixMilli(),
		)
		if err != nil {
			return storageErr("insert session", err)
		}
		return nil
	})
}

// GetSession retrieves a session header.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	query := `
		SELECT session_id, agent_id, owner_ref, turn_count, created_at, last_activity_at
		FROM sessions WHERE session_id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scan session", err)
	}
	return session, nil
}

// AppendTurn appends a turn inside a single transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) (int, error) {
	var seq int
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "append turn", func() error {
		var err error
		seq, err = s.appendTurnOnce(ctx, sessionID, turn)
		return err
	})
	return seq, err
}

func (s *SQLiteStore) appendTurnOnce(ctx context.Context, sessionID string, turn domain.Turn) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, `SELECT turn_count FROM sessions WHERE session_id = ?`, sessionID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, storageErr("read turn count", err)
	}

	seq := count + 1
	ts := turn.Timestamp.UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, seq, role, content, synthetic, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, seq, string(turn.Role), turn.Content, turn.Synthetic, ts,
	); err != nil {
		return 0, storageErr("insert turn", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET turn_count = ?, last_activity_at = MAX(last_activity_at, ?) WHERE session_id = ?`,
		seq, ts, sessionID,
	); err != nil {
		return 0, storageErr("update session activity", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit append", err)
	}
	return seq, nil
}

// ListTurns returns turns in append order, optionally only the tail.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	query := `
		SELECT role, content, synthetic, created_at FROM turns
		WHERE session_id = ? ORDER BY seq ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query = `
		SELECT role, content, synthetic, created_at FROM (
			SELECT seq, role, content, synthetic, created_at FROM turns
			WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query turns", err)
	}
	defer closeRows(rows, "turns")

	turns := []domain.Turn{}
	for rows.Next() {
		var turn domain.Turn
		var role string
		var createdAt int64
		if err := rows.Scan(&role, &turn.Content, &turn.Synthetic, &createdAt); err != nil {
			return nil, storageErr("scan turn row", err)
		}
		turn.Role = domain.Role(role)
		turn.Timestamp = time.UnixMilli(createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate turns", err)
	}
	return turns, nil
}

// DeleteSession removes a session and its turns.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	var deleted bool
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete session", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storageErr("begin delete", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
			return storageErr("delete turns", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return storageErr("delete session", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return storageErr("delete session rows affected", err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr("commit delete", err)
		}
		deleted = rows > 0
		return nil
	})
	return deleted, err
}

// ListSessions returns sessions ordered newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.ConversationSession, error) {
	var where []string
	var args []interface{}
	if filter.OwnerRef != "" {
		where = append(where, "owner_ref = ?")
		args = append(args, filter.OwnerRef)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT session_id, agent_id, owner_ref, turn_count, created_at, last_activity_at FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, session_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.querySessions(ctx, query, args...)
}

// SearchSessions returns the owner's sessions with a turn containing query.
func (s *SQLiteStore) SearchSessions(ctx context.Context, ownerRef, query string) ([]*domain.ConversationSession, error) {
	pattern := "%" + escapeLike(query) + "%"
	return s.querySessions(ctx, `
		SELECT session_id, agent_id, owner_ref, turn_count, created_at, last_activity_at
		FROM sessions s
		WHERE s.owner_ref = ? AND EXISTS (
			SELECT 1 FROM turns t WHERE t.session_id = s.session_id AND t.content LIKE ? ESCAPE '\'
		)
		ORDER BY s.created_at DESC`, ownerRef, pattern)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]*domain.ConversationSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query sessions", err)
	}
	defer closeRows(rows, "sessions")

	sessions := []*domain.ConversationSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, storageErr("scan session row", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate sessions", err)
	}
	return sessions, nil
}

// GetPointer retrieves the pointer for a channel and identity.
func (s *SQLiteStore) GetPointer(ctx context.Context, channel domain.Channel, externalIdentity string) (*domain.ActiveSessionPointer, error) {
	query := `
		SELECT agent_id, session_id, last_touched_at FROM active_pointers
		WHERE channel = ? AND external_identity = ?`

	p := domain.ActiveSessionPointer{Channel: channel, ExternalIdentity: externalIdentity}
	var touched int64
	err := s.db.QueryRowContext(ctx, query, string(channel), externalIdentity).Scan(&p.AgentID, &p.SessionID, &touched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scan pointer", err)
	}
	p.LastTouchedAt = time.UnixMilli(touched)
	return &p, nil
}

// PutPointer creates or overwrites a pointer.
func (s *SQLiteStore) PutPointer(ctx context.Context, p *domain.ActiveSessionPointer) error {
	query := `
	INSERT INTO active_pointers (channel, external_identity, agent_id, session_id, last_touched_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(channel, external_identity) DO UPDATE SET
		agent_id = excluded.agent_id,
		session_id = excluded.session_id,
		last_touched_at = excluded.last_touched_at`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "put pointer", func() error {
		_, err := s.db.ExecContext(ctx, query,
			string(p.Channel), p.ExternalIdentity, p.AgentID, p.SessionID, p.LastTouchedAt.UnixMilli(),
		)
		if err != nil {
			return storageErr("upsert pointer", err)
		}
		return nil
	})
}

// DeletePointer removes a pointer.
func (s *SQLiteStore) DeletePointer(ctx context.Context, channel domain.Channel, externalIdentity string) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete pointer", func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM active_pointers WHERE channel = ? AND external_identity = ?`,
			string(channel), externalIdentity,
		)
		if err != nil {
			return storageErr("delete pointer", err)
		}
		return nil
	})
}

// DeleteIdlePointers removes pointers last touched before cutoff.
func (s *SQLiteStore) DeleteIdlePointers(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete idle pointers", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM active_pointers WHERE last_touched_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return storageErr("delete idle pointers", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return storageErr("idle pointers rows affected", err)
		}
		return nil
	})
	return deleted, err
}

// GetAnalytics retrieves the record for an agent and day.
func (s *SQLiteStore) GetAnalytics(ctx context.Context, agentID, day string) (*domain.AnalyticsRecord, error) {
	query := `
		SELECT agent_id, day, conversations_count, messages_count, avg_response_time_ms,
		       response_samples, avg_satisfaction, satisfaction_samples, updated_at
		FROM analytics WHERE agent_id = ? AND day = ?`

	rec, err := scanAnalytics(s.db.QueryRowContext(ctx, query, agentID, day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scan analytics", err)
	}
	return rec, nil
}

// PutAnalytics creates or overwrites the record for its agent and day.
func (s *SQLiteStore) PutAnalytics(ctx context.Context, r *domain.AnalyticsRecord) error {
	query := `
	INSERT INTO analytics (agent_id, day, conversations_count, messages_count, avg_response_time_ms,
		response_samples, avg_satisfaction, satisfaction_samples, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(agent_id, day) DO UPDATE SET
		conversations_count = excluded.conversations_count,
		messages_count = excluded.messages_count,
		avg_response_time_ms = excluded.avg_response_time_ms,
		response_samples = excluded.response_samples,
		avg_satisfaction = excluded.avg_satisfaction,
		satisfaction_samples = excluded.satisfaction_samples,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "put analytics", func() error {
		_, err := s.db.ExecContext(ctx, query,
			r.AgentID, r.Day, r.ConversationsCount, r.MessagesCount, r.AvgResponseTimeMs,
			r.ResponseSamples, r.AvgSatisfaction, r.SatisfactionSamples, r.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return storageErr("upsert analytics", err)
		}
		return nil
	})
}

// ListAnalytics returns an agent's records in a day range, oldest first.
func (s *SQLiteStore) ListAnalytics(ctx context.Context, agentID, fromDay, toDay string) ([]*domain.AnalyticsRecord, error) {
	query := `
		SELECT agent_id, day, conversations_count, messages_count, avg_response_time_ms,
		       response_samples, avg_satisfaction, satisfaction_samples, updated_at
		FROM analytics WHERE agent_id = ? AND day >= ? AND day <= ?
		ORDER BY day ASC`

	rows, err := s.db.QueryContext(ctx, query, agentID, fromDay, toDay)
	if err != nil {
		return nil, storageErr("query analytics", err)
	}
	defer closeRows(rows, "analytics")

	records := []*domain.AnalyticsRecord{}
	for rows.Next() {
		rec, err := scanAnalytics(rows)
		if err != nil {
			return nil, storageErr("scan analytics row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate analytics", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPersona(row rowScanner) (*domain.AgentPersona, error) {
	var p domain.AgentPersona
	var kind string
	var createdAt int64
	if err := row.Scan(&p.ID, &p.OwnerRef, &p.DisplayName, &p.Description, &p.BaseInstructions, &kind, &createdAt); err != nil {
		return nil, err
	}
	p.TemplateKind = domain.TemplateKind(kind)
	p.CreatedAt = time.UnixMilli(createdAt)
	return &p, nil
}

func scanSession(row rowScanner) (*domain.ConversationSession, error) {
	var session domain.ConversationSession
	var createdAt, lastActivity int64
	if err := row.Scan(
		&session.SessionID, &session.AgentID, &session.OwnerRef,
		&session.TurnCount, &createdAt, &lastActivity,
	); err != nil {
		return nil, err
	}
	session.CreatedAt = time.UnixMilli(createdAt)
	session.LastActivityAt = time.UnixMilli(lastActivity)
	return &session, nil
}

func scanAnalytics(row rowScanner) (*domain.AnalyticsRecord, error) {
	var r domain.AnalyticsRecord
	var updatedAt int64
	if err := row.Scan(
		&r.AgentID, &r.Day, &r.ConversationsCount, &r.MessagesCount, &r.AvgResponseTimeMs,
		&r.ResponseSamples, &r.AvgSatisfaction, &r.SatisfactionSamples, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.UnixMilli(updatedAt)
	return &r, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "table", what, "error", err)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

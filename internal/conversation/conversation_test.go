package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/store"
)

func newTestConversations(t *testing.T, opts ...Option) *Store {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "conv.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return New(repo, nil, opts...)
}

func TestCreateSessionNeverReusesIDs(t *testing.T) {
	t.Parallel()
	s := newTestConversations(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		session, err := s.CreateSession(ctx, "u1", "devops-engineer")
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		if seen[session.SessionID] {
			t.Fatalf("session id reused: %s", session.SessionID)
		}
		seen[session.SessionID] = true
	}
}

func TestReadAllReturnsAppendOrder(t *testing.T) {
	t.Parallel()
	s := newTestConversations(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	want := []string{"one", "two", "three", "four", "five"}
	for i, content := range want {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		if err := s.AppendTurn(ctx, session.SessionID, domain.Turn{Role: role, Content: content}); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	turns, err := s.ReadAll(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(turns) != len(want) {
		t.Fatalf("expected %d turns, got %d", len(want), len(turns))
	}
	for i := range want {
		if turns[i].Content != want[i] {
			t.Fatalf("turn %d: expected %q, got %q", i, want[i], turns[i].Content)
		}
		if i > 0 && turns[i].Timestamp.Before(turns[i-1].Timestamp) {
			t.Fatalf("timestamps went backwards at %d", i)
		}
	}

	tail, err := s.ReadTail(ctx, session.SessionID, 2)
	if err != nil {
		t.Fatalf("ReadTail failed: %v", err)
	}
	if len(tail) != 2 || tail[0].Content != "four" || tail[1].Content != "five" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestAppendClampsTimestamps(t *testing.T) {
	t.Parallel()
	base := time.UnixMilli(1_000_000)
	s := newTestConversations(t, WithClock(func() time.Time { return base }))
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := s.AppendTurn(ctx, session.SessionID, domain.Turn{
		Role: domain.RoleUser, Content: "early", Timestamp: base.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	turns, err := s.ReadAll(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !turns[0].Timestamp.Equal(base) {
		t.Fatalf("expected timestamp clamped to %v, got %v", base, turns[0].Timestamp)
	}
}

func TestConcurrentExchangesStayContiguous(t *testing.T) {
	t.Parallel()
	s := newTestConversations(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.AppendTurns(ctx, session.SessionID,
				domain.Turn{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
				domain.Turn{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			)
			if err != nil {
				t.Errorf("AppendTurns failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := s.ReadAll(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(turns) != 2*n {
		t.Fatalf("expected %d turns, got %d", 2*n, len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		q, a := turns[i], turns[i+1]
		if q.Role != domain.RoleUser || a.Role != domain.RoleAssistant {
			t.Fatalf("exchange at %d interleaved: %+v %+v", i, q, a)
		}
		if q.Content[1:] != a.Content[1:] {
			t.Fatalf("exchange at %d mismatched: %q %q", i, q.Content, a.Content)
		}
	}
}

func TestMissingSessionIsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestConversations(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "missing", domain.Turn{Role: domain.RoleUser, Content: "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("AppendTurn: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ReadAll(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ReadAll: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteThenRead(t *testing.T) {
	t.Parallel()
	s := newTestConversations(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := s.AppendTurn(ctx, session.SessionID, domain.Turn{Role: domain.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	if err := s.Delete(ctx, session.SessionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.ReadAll(ctx, session.SessionID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListAndSearch(t *testing.T) {
	t.Parallel()
	s := newTestConversations(t)
	ctx := context.Background()

	first, _ := s.CreateSession(ctx, "u1", "devops-engineer")
	second, _ := s.CreateSession(ctx, "u1", "software-engineer")
	if first == nil || second == nil {
		t.Fatal("CreateSession failed")
	}
	if err := s.AppendTurn(ctx, first.SessionID, domain.Turn{Role: domain.RoleUser, Content: "Explain load balancing"}); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	owned, err := s.ListByOwner(ctx, "u1", 0)
	if err != nil || len(owned) != 2 {
		t.Fatalf("ListByOwner: expected 2 sessions, got %d (%v)", len(owned), err)
	}
	byAgent, err := s.ListByAgent(ctx, "u1", "devops-engineer", 10)
	if err != nil || len(byAgent) != 1 || byAgent[0].SessionID != first.SessionID {
		t.Fatalf("ListByAgent: unexpected result %+v (%v)", byAgent, err)
	}
	found, err := s.Search(ctx, "u1", "load balancing")
	if err != nil || len(found) != 1 || found[0].SessionID != first.SessionID {
		t.Fatalf("Search: unexpected result %+v (%v)", found, err)
	}
}

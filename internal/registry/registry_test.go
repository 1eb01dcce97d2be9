package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/techflow/internal/conversation"
	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *conversation.Store) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	conversations := conversation.New(repo, nil)
	return New(repo, conversations, nil, opts...), conversations
}

func TestSelectSameAgentKeepsSession(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first, isNew, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil || !isNew {
		t.Fatalf("first select: expected new session, got isNew=%v err=%v", isNew, err)
	}
	second, isNew, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("second select failed: %v", err)
	}
	if isNew || second != first {
		t.Fatalf("expected same session %s with isNew=false, got %s isNew=%v", first, second, isNew)
	}
}

func TestSelectDifferentAgentStartsNewSession(t *testing.T) {
	t.Parallel()
	reg, conversations := newTestRegistry(t)
	ctx := context.Background()

	oldID, _, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if err := conversations.AppendTurns(ctx, oldID,
		domain.Turn{Role: domain.RoleUser, Content: "kubectl?"},
		domain.Turn{Role: domain.RoleAssistant, Content: "apply -f"},
	); err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}

	newID, isNew, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "software-engineer")
	if err != nil {
		t.Fatalf("switch select failed: %v", err)
	}
	if !isNew || newID == oldID {
		t.Fatalf("expected a new distinct session, got %s (old %s) isNew=%v", newID, oldID, isNew)
	}

	oldTurns, err := conversations.ReadAll(ctx, oldID)
	if err != nil {
		t.Fatalf("old session should remain readable: %v", err)
	}
	if len(oldTurns) != 2 || oldTurns[0].Content != "kubectl?" {
		t.Fatalf("old session changed: %+v", oldTurns)
	}
	oldSession, err := conversations.Get(ctx, oldID)
	if err != nil || oldSession.AgentID != "devops-engineer" {
		t.Fatalf("old session agent changed: %+v (%v)", oldSession, err)
	}

	current, err := reg.Current(ctx, domain.ChannelChatPlatform, "U1")
	if err != nil || current == nil || current.AgentID != "software-engineer" || current.SessionID != newID {
		t.Fatalf("unexpected current pointer: %+v (%v)", current, err)
	}
}

func TestClearThenSelect(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first, _, err := reg.Select(ctx, domain.ChannelWeb, "device-1", "ai-ml-engineer")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if err := reg.Clear(ctx, domain.ChannelWeb, "device-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := reg.Clear(ctx, domain.ChannelWeb, "device-1"); err != nil {
		t.Fatalf("second Clear should be a no-op: %v", err)
	}

	current, err := reg.Current(ctx, domain.ChannelWeb, "device-1")
	if err != nil || current != nil {
		t.Fatalf("expected no pointer after clear, got %+v (%v)", current, err)
	}

	second, isNew, err := reg.Select(ctx, domain.ChannelWeb, "device-1", "ai-ml-engineer")
	if err != nil {
		t.Fatalf("select after clear failed: %v", err)
	}
	if !isNew || second == first {
		t.Fatalf("expected fresh session after clear, got %s (first %s) isNew=%v", second, first, isNew)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	web, _, err := reg.Select(ctx, domain.ChannelWeb, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("web select failed: %v", err)
	}
	chat, _, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("chat select failed: %v", err)
	}
	if web == chat {
		t.Fatal("web and chat platform must not share a session")
	}
}

func TestSelectRecoversFromDeletedSession(t *testing.T) {
	t.Parallel()
	reg, conversations := newTestRegistry(t)
	ctx := context.Background()

	first, _, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if err := conversations.Delete(ctx, first); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	second, isNew, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("select after delete failed: %v", err)
	}
	if !isNew || second == first {
		t.Fatalf("expected a fresh session for stale pointer, got %s isNew=%v", second, isNew)
	}
}

func TestConcurrentSelectSameAgentConverges(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
			if err != nil {
				t.Errorf("select failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	distinct := make(map[string]bool)
	for id := range ids {
		distinct[id] = true
	}
	if len(distinct) != 1 {
		t.Fatalf("expected all selects to converge on one session, got %d", len(distinct))
	}
}

func TestSweepEvictsIdlePointers(t *testing.T) {
	t.Parallel()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	reg, _ := newTestRegistry(t, WithClock(clock.Now), WithIdleTTL(time.Hour))
	ctx := context.Background()

	if _, _, err := reg.Select(ctx, domain.ChannelChatPlatform, "idle", "devops-engineer"); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	clock.Advance(50 * time.Minute)
	if _, _, err := reg.Select(ctx, domain.ChannelChatPlatform, "active", "devops-engineer"); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	clock.Advance(20 * time.Minute)

	n, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}

	if p, _ := reg.Current(ctx, domain.ChannelChatPlatform, "idle"); p != nil {
		t.Fatalf("idle pointer should be evicted: %+v", p)
	}
	if p, _ := reg.Current(ctx, domain.ChannelChatPlatform, "active"); p == nil {
		t.Fatal("active pointer should survive sweep")
	}
}

func TestIdlePointerReadsAsAbsentBeforeSweep(t *testing.T) {
	t.Parallel()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	reg, _ := newTestRegistry(t, WithClock(clock.Now), WithIdleTTL(time.Hour))
	ctx := context.Background()

	first, _, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	clock.Advance(2 * time.Hour)

	if p, err := reg.Current(ctx, domain.ChannelChatPlatform, "U1"); err != nil || p != nil {
		t.Fatalf("expected idle pointer to read as absent, got %+v err=%v", p, err)
	}
	second, isNew, err := reg.Select(ctx, domain.ChannelChatPlatform, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if !isNew || second == first {
		t.Fatalf("expected a fresh session after idling, got %s isNew=%v", second, isNew)
	}
}

func TestTouchOnlyRefreshesMatchingSession(t *testing.T) {
	t.Parallel()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	reg, _ := newTestRegistry(t, WithClock(clock.Now))
	ctx := context.Background()

	id, _, err := reg.Select(ctx, domain.ChannelWeb, "U1", "devops-engineer")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	clock.Advance(time.Minute)

	if err := reg.Touch(ctx, domain.ChannelWeb, "U1", "other-session"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	p, _ := reg.Current(ctx, domain.ChannelWeb, "U1")
	if p == nil || !p.LastTouchedAt.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("pointer should not be touched for another session: %+v", p)
	}

	if err := reg.Touch(ctx, domain.ChannelWeb, "U1", id); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	p, _ = reg.Current(ctx, domain.ChannelWeb, "U1")
	if p == nil || !p.LastTouchedAt.Equal(clock.Now()) {
		t.Fatalf("pointer should be touched: %+v", p)
	}

	if err := reg.Clear(ctx, domain.ChannelWeb, "U1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := reg.Touch(ctx, domain.ChannelWeb, "U1", id); err != nil {
		t.Fatalf("Touch after clear failed: %v", err)
	}
	if p, _ := reg.Current(ctx, domain.ChannelWeb, "U1"); p != nil {
		t.Fatal("Touch must not resurrect a cleared pointer")
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	if _, err := NewSweeper(reg, "not a schedule", nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	s, err := NewSweeper(reg, "@every 1h", nil)
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}
	s.Start()
	s.runOnce()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

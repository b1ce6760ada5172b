package confronts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

const selfID int64 = 999

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logx.Nop())
}

func TestAddRequiresCounter(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	if _, err := svc.Add(context.Background(), 1, 10, "", "  ", 2); !errors.Is(err, ErrEmptyCounter) {
		t.Errorf("err = %v, want ErrEmptyCounter", err)
	}
}

func TestMatchMessage(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	// message rule for user 10, reaction rule for user 10, message rule for user 20
	if _, err := svc.Add(ctx, 1, 10, "", "🔫", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, 10, "👍", "👎", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, 20, "", "🤡", 2); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := svc.MatchMessage(ctx, 1, 10)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 1 || got[0] != "🔫" {
		t.Errorf("got %v, want [🔫] (reaction rules must not fire on messages)", got)
	}

	got, _ = svc.MatchMessage(ctx, 1, 30)
	if len(got) != 0 {
		t.Errorf("unrelated author matched: %v", got)
	}
	got, _ = svc.MatchMessage(ctx, 2, 10)
	if len(got) != 0 {
		t.Errorf("other chat matched: %v", got)
	}
}

func TestMatchReaction(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Add(ctx, 1, 10, "👍", "👎", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, 10, "", "🔫", 2); err != nil {
		t.Fatalf("add: %v", err)
	}

	svc.RememberAuthor(1, 100, 10)

	got, err := svc.MatchReaction(ctx, 1, 100, 55, selfID, "👍")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 1 || got[0] != "👎" {
		t.Errorf("got %v, want [👎] (message rules must not fire on reactions)", got)
	}

	// wrong emoji
	if got, _ := svc.MatchReaction(ctx, 1, 100, 55, selfID, "🔥"); len(got) != 0 {
		t.Errorf("wrong emoji matched: %v", got)
	}
	// unknown message (author never seen)
	if got, _ := svc.MatchReaction(ctx, 1, 200, 55, selfID, "👍"); len(got) != 0 {
		t.Errorf("unknown message matched: %v", got)
	}
	// the bot's own reactions never trigger
	if got, _ := svc.MatchReaction(ctx, 1, 100, selfID, selfID, "👍"); len(got) != 0 {
		t.Errorf("self reaction matched: %v", got)
	}
}

func TestAuthorIndexEviction(t *testing.T) {
	t.Parallel()
	idx := newAuthorIndex(2)

	idx.put(1, 1, 100)
	idx.put(1, 2, 200)
	idx.put(1, 3, 300) // evicts (1,1)

	if _, ok := idx.get(1, 1); ok {
		t.Error("oldest entry not evicted")
	}
	if id, ok := idx.get(1, 2); !ok || id != 200 {
		t.Errorf("get(1,2) = %d,%v", id, ok)
	}
	if id, ok := idx.get(1, 3); !ok || id != 300 {
		t.Errorf("get(1,3) = %d,%v", id, ok)
	}

	// update in place must not evict
	idx.put(1, 2, 201)
	if id, _ := idx.get(1, 2); id != 201 {
		t.Errorf("update: %d", id)
	}
	if _, ok := idx.get(1, 3); !ok {
		t.Error("update evicted a live entry")
	}
}

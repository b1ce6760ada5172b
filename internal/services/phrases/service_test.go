package phrases

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"cronbot/internal/delivery"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logx.Nop())
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Add(ctx, 1, "   "); !errors.Is(err, ErrEmptyPhrase) {
		t.Errorf("blank phrase: %v", err)
	}
	if _, err := svc.Add(ctx, 1, delivery.RandomMarker); !errors.Is(err, ErrReservedPhrase) {
		t.Errorf("marker phrase: %v", err)
	}

	id, err := svc.Add(ctx, 1, "  carpe diem  ")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	list, err := svc.List(ctx, 1)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v (%d)", err, len(list))
	}
	if list[0].ID != id || list[0].Text != "carpe diem" {
		t.Errorf("stored = %+v, want trimmed text", list[0])
	}
}

func TestSeedIfEmptyOnlyOnce(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	n, err := svc.SeedIfEmpty(ctx, 1, []string{"a", "b"})
	if err != nil || n != 2 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	n, err = svc.SeedIfEmpty(ctx, 1, []string{"c"})
	if err != nil || n != 0 {
		t.Errorf("re-seed: n=%d err=%v", n, err)
	}

	if _, ok, err := svc.Random(ctx, 1); err != nil || !ok {
		t.Errorf("random after seed: ok=%v err=%v", ok, err)
	}
	if _, ok, err := svc.Random(ctx, 2); err != nil || ok {
		t.Errorf("random for other chat: ok=%v err=%v", ok, err)
	}
}

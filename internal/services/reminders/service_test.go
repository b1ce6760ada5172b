package reminders

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cronbot/internal/delivery"
	"cronbot/internal/schedule"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

func newTestService(t *testing.T) (*Service, *storage.Store, *schedule.Engine) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eng := schedule.New(logx.Nop(), nil, time.UTC)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})

	deliver := func(context.Context, schedule.Payload) error { return nil }
	return New(st, eng, deliver, logx.Nop()), st, eng
}

func TestAddCronPersistsAndArms(t *testing.T) {
	t.Parallel()
	svc, st, eng := newTestService(t)
	ctx := context.Background()

	c, err := svc.AddCron(ctx, -10, 5, 42, "weekdays", "09:30", "standup", 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("id not assigned")
	}
	if c.TargetUserID != 42 {
		t.Errorf("target defaulted to %d, want creator 42", c.TargetUserID)
	}

	rows, err := st.ListCrons(ctx, -10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("stored rows: %v (%d)", err, len(rows))
	}
	if eng.Len() != 1 {
		t.Errorf("engine has %d triggers, want 1", eng.Len())
	}
}

func TestAddCronValidation(t *testing.T) {
	t.Parallel()
	svc, st, eng := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		preset  string
		clock   string
		text    string
		wantErr error
	}{
		{"unknown preset", "daily", "09:00", "x", schedule.ErrUnknownPreset},
		{"bad clock format", "everyday", "9:00", "x", schedule.ErrTimeFormat},
		{"clock out of range", "everyday", "24:00", "x", schedule.ErrTimeRange},
		{"empty text", "everyday", "09:00", "", ErrEmptyText},
		{"reserved marker", "everyday", "09:00", delivery.RandomMarker, ErrReservedText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddCron(ctx, 1, 0, 1, tc.preset, tc.clock, tc.text, 0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	// nothing leaked into storage or the engine
	if rows, _ := st.ListCrons(ctx, 1); len(rows) != 0 {
		t.Errorf("rejected adds left %d rows", len(rows))
	}
	if eng.Len() != 0 {
		t.Errorf("rejected adds left %d triggers", eng.Len())
	}
}

func TestDeleteCronScopes(t *testing.T) {
	t.Parallel()
	svc, _, eng := newTestService(t)
	ctx := context.Background()

	c, err := svc.AddCron(ctx, -10, 0, 1, "everyday", "08:00", "hello", 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// wrong chat: row stays, trigger stays armed
	ok, err := svc.DeleteCron(ctx, -11, c.ID)
	if err != nil {
		t.Fatalf("delete wrong chat: %v", err)
	}
	if ok {
		t.Fatal("cross-chat delete reported success")
	}
	if eng.Len() != 1 {
		t.Fatal("cross-chat delete disarmed the trigger")
	}

	ok, err = svc.DeleteCron(ctx, -10, c.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if eng.Len() != 0 {
		t.Error("trigger still armed after delete")
	}

	// repeated delete is a miss, not an error
	ok, err = svc.DeleteCron(ctx, -10, c.ID)
	if err != nil || ok {
		t.Errorf("double delete: ok=%v err=%v", ok, err)
	}
}

func TestRearmAll(t *testing.T) {
	t.Parallel()
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.AddCron(ctx, int64(i+1), 0, 1, "everyday", "09:00", "msg", 0); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	// a corrupt row must be skipped, not fatal
	if _, err := st.InsertCron(ctx, storage.Cron{ChatID: 9, CreatedBy: 1, Preset: "lunar", TZ: "UTC", Text: "bad"}); err != nil {
		t.Fatalf("insert bad row: %v", err)
	}

	// fresh engine simulates a restart
	eng2 := schedule.New(logx.Nop(), nil, time.UTC)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng2.Stop(ctx)
	})
	svc2 := New(st, eng2, func(context.Context, schedule.Payload) error { return nil }, logx.Nop())

	armed, err := svc2.RearmAll(ctx)
	if err != nil {
		t.Fatalf("rearm: %v", err)
	}
	if armed != 3 {
		t.Errorf("armed = %d, want 3", armed)
	}
	if eng2.Len() != 3 {
		t.Errorf("engine has %d triggers, want 3", eng2.Len())
	}
}

func TestRemindValidation(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Remind(ctx, 1, 0, 1, 0, "x", 0); !errors.Is(err, ErrMinutesRange) {
		t.Errorf("minutes 0: %v", err)
	}
	if _, err := svc.Remind(ctx, 1, 0, 1, 10081, "x", 0); !errors.Is(err, ErrMinutesRange) {
		t.Errorf("minutes 10081: %v", err)
	}
	if _, err := svc.Remind(ctx, 1, 0, 1, 5, "", 0); !errors.Is(err, ErrEmptyText) {
		t.Errorf("empty text: %v", err)
	}

	runAt, err := svc.Remind(ctx, 1, 0, 1, 5, "tea", 0)
	if err != nil {
		t.Fatalf("remind: %v", err)
	}
	want := time.Now().Add(5 * time.Minute)
	if diff := runAt.Sub(want); diff < -time.Second || diff > time.Second {
		t.Errorf("runAt = %v, want ~%v", runAt, want)
	}
}

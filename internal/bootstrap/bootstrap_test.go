package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cronbot/internal/config"
	"cronbot/internal/delivery"
	"cronbot/internal/schedule"
	"cronbot/internal/services/phrases"
	"cronbot/internal/services/reminders"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

func newTestDriver(t *testing.T) (*Driver, *storage.Store, *schedule.Engine) {
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
	phr := phrases.New(st, logx.Nop())
	rem := reminders.New(st, eng, deliver, logx.Nop())
	return New(st, phr, rem, eng, nil, logx.Nop(), 999), st, eng
}

func testConfig(chats ...int64) *config.Config {
	return &config.Config{
		Telegram: config.Telegram{Token: "t", Chats: chats},
		DefaultPhrase: config.DefaultPhrase{
			Enabled: true,
			Time:    "09:00",
			Preset:  "everyday",
			Phrases: []string{"hello", "world"},
		},
	}
}

func TestRunCreatesDefaultJobOnce(t *testing.T) {
	t.Parallel()
	d, st, eng := newTestDriver(t)
	ctx := context.Background()

	if err := d.Run(ctx, testConfig(-100)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !eng.Running() {
		t.Fatal("engine not started")
	}

	crons, err := st.ListCrons(ctx, -100)
	if err != nil || len(crons) != 1 {
		t.Fatalf("crons: %v (%d)", err, len(crons))
	}
	c := crons[0]
	if c.Text != delivery.RandomMarker || c.Hour != 9 || c.Minute != 0 || c.Preset != "everyday" {
		t.Errorf("default job = %+v", c)
	}
	if c.CreatedBy != 999 {
		t.Errorf("created_by = %d, want bot id", c.CreatedBy)
	}
	if c.TargetUserID != 0 {
		t.Errorf("default job mentions user %d", c.TargetUserID)
	}

	// phrases seeded
	ph, _ := st.ListPhrases(ctx, -100)
	if len(ph) != 2 {
		t.Errorf("seeded %d phrases, want 2", len(ph))
	}

	// second run must not duplicate
	if err := d.EnsureDefaults(ctx, testConfig(-100)); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	crons, _ = st.ListCrons(ctx, -100)
	if len(crons) != 1 {
		t.Errorf("re-ensure duplicated the default job: %d rows", len(crons))
	}
	if eng.Len() != 1 {
		t.Errorf("engine has %d triggers, want 1", eng.Len())
	}
}

func TestEnsureDefaultsReconcilesDrift(t *testing.T) {
	t.Parallel()
	d, st, _ := newTestDriver(t)
	ctx := context.Background()

	if err := d.Run(ctx, testConfig(-1)); err != nil {
		t.Fatalf("run: %v", err)
	}

	cfg := testConfig(-1)
	cfg.DefaultPhrase.Time = "20:30"
	cfg.DefaultPhrase.Preset = "weekdays"
	if err := d.EnsureDefaults(ctx, cfg); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	crons, _ := st.ListCrons(ctx, -1)
	if len(crons) != 1 {
		t.Fatalf("rows = %d", len(crons))
	}
	c := crons[0]
	if c.Hour != 20 || c.Minute != 30 || c.Preset != "weekdays" {
		t.Errorf("drift not reconciled: %+v", c)
	}
}

func TestRunRestoresStoredCrons(t *testing.T) {
	t.Parallel()
	d, st, eng := newTestDriver(t)
	ctx := context.Background()

	// pre-existing user cron in a chat not listed in the config
	if _, err := st.InsertCron(ctx, storage.Cron{
		ChatID: -55, CreatedBy: 1, Preset: "weekend", Hour: 10, TZ: "UTC", Text: "brunch", TargetUserID: 1,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := d.Run(ctx, testConfig()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// the stored cron is re-armed AND its chat got a default job
	crons, _ := st.ListCrons(ctx, -55)
	if len(crons) != 2 {
		t.Fatalf("rows in chat -55 = %d, want user cron + default job", len(crons))
	}
	if eng.Len() != 2 {
		t.Errorf("engine triggers = %d, want 2", eng.Len())
	}
}

func TestEnsureDefaultsDisabled(t *testing.T) {
	t.Parallel()
	d, st, _ := newTestDriver(t)
	ctx := context.Background()

	cfg := testConfig(-7)
	cfg.DefaultPhrase.Enabled = false
	if err := d.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	crons, _ := st.ListCrons(ctx, -7)
	if len(crons) != 0 {
		t.Errorf("disabled default still created %d rows", len(crons))
	}
}

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "cronbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCronRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertCron(ctx, Cron{
		ChatID:       -100500,
		ThreadID:     7,
		CreatedBy:    42,
		Preset:       "weekdays",
		Hour:         9,
		Minute:       30,
		TZ:           "Europe/Moscow",
		Text:         "standup",
		TargetUserID: 42,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatal("insert returned id 0")
	}

	crons, err := st.ListCrons(ctx, -100500)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(crons) != 1 {
		t.Fatalf("len = %d, want 1", len(crons))
	}
	c := crons[0]
	if c.ID != id || c.Preset != "weekdays" || c.Hour != 9 || c.Minute != 30 ||
		c.ThreadID != 7 || c.TargetUserID != 42 || c.Text != "standup" {
		t.Errorf("round trip mismatch: %+v", c)
	}
	if c.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	// other chats don't see it
	other, err := st.ListCrons(ctx, -1)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("leaked across chats: %+v", other)
	}
}

func TestDeleteCronScopedToChat(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertCron(ctx, Cron{ChatID: 1, CreatedBy: 1, Preset: "everyday", TZ: "UTC", Text: "x"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// wrong chat: no-op
	ok, err := st.DeleteCron(ctx, 2, id)
	if err != nil {
		t.Fatalf("delete wrong chat: %v", err)
	}
	if ok {
		t.Fatal("delete in wrong chat reported success")
	}
	if crons, _ := st.ListCrons(ctx, 1); len(crons) != 1 {
		t.Fatal("row vanished after cross-chat delete attempt")
	}

	ok, err = st.DeleteCron(ctx, 1, id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ok {
		t.Fatal("delete reported not found")
	}
	// second delete is a miss
	ok, _ = st.DeleteCron(ctx, 1, id)
	if ok {
		t.Fatal("double delete reported success")
	}
}

func TestUpdateCronTrigger(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, _ := st.InsertCron(ctx, Cron{ChatID: 1, CreatedBy: 1, Preset: "everyday", Hour: 9, TZ: "UTC", Text: "m"})
	if err := st.UpdateCronTrigger(ctx, id, "weekend", 20, 15); err != nil {
		t.Fatalf("update: %v", err)
	}
	crons, _ := st.ListCrons(ctx, 1)
	if len(crons) != 1 || crons[0].Preset != "weekend" || crons[0].Hour != 20 || crons[0].Minute != 15 {
		t.Errorf("update not applied: %+v", crons)
	}
}

func TestFindCronByText(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.FindCronByText(ctx, 9, "__RANDOM_PHRASE__")
	if err != nil || ok {
		t.Fatalf("want miss, got ok=%v err=%v", ok, err)
	}

	id, _ := st.InsertCron(ctx, Cron{ChatID: 9, CreatedBy: 1, Preset: "everyday", TZ: "UTC", Text: "__RANDOM_PHRASE__"})
	c, ok, err := st.FindCronByText(ctx, 9, "__RANDOM_PHRASE__")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !ok || c.ID != id {
		t.Errorf("found = %v id = %d, want id %d", ok, c.ID, id)
	}
}

func TestPhrases(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.RandomPhrase(ctx, 5); err != nil || ok {
		t.Fatalf("empty pool: ok=%v err=%v", ok, err)
	}

	n, err := st.SeedPhrases(ctx, 5, []string{"a", " ", "b"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 2 {
		t.Errorf("seeded %d, want 2 (blank skipped)", n)
	}

	// second seed is a no-op
	n, err = st.SeedPhrases(ctx, 5, []string{"c"})
	if err != nil || n != 0 {
		t.Errorf("re-seed: n=%d err=%v, want 0/nil", n, err)
	}

	text, ok, err := st.RandomPhrase(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("random: ok=%v err=%v", ok, err)
	}
	if text != "a" && text != "b" {
		t.Errorf("random returned %q", text)
	}

	list, err := st.ListPhrases(ctx, 5)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v (%d)", err, len(list))
	}
	ok, err = st.DeletePhrase(ctx, 5, list[0].ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, _ := st.DeletePhrase(ctx, 6, list[1].ID); ok {
		t.Error("cross-chat phrase delete succeeded")
	}
}

func TestChatSettings(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.DefaultThread(ctx, 1); err != nil || ok {
		t.Fatalf("unset thread: ok=%v err=%v", ok, err)
	}

	if err := st.SetDefaultThread(ctx, 1, 33); err != nil {
		t.Fatalf("set: %v", err)
	}
	tid, ok, err := st.DefaultThread(ctx, 1)
	if err != nil || !ok || tid != 33 {
		t.Fatalf("get: tid=%d ok=%v err=%v", tid, ok, err)
	}

	// upsert replaces
	if err := st.SetDefaultThread(ctx, 1, 44); err != nil {
		t.Fatalf("reset: %v", err)
	}
	tid, _, _ = st.DefaultThread(ctx, 1)
	if tid != 44 {
		t.Errorf("tid = %d, want 44", tid)
	}

	// MarkChatSeen must not clobber settings
	if err := st.MarkChatSeen(ctx, 1); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	tid, _, _ = st.DefaultThread(ctx, 1)
	if tid != 44 {
		t.Errorf("mark seen clobbered default thread: %d", tid)
	}

	if err := st.MarkChatSeen(ctx, 2); err != nil {
		t.Fatalf("mark seen new: %v", err)
	}
	if _, err := st.InsertCron(ctx, Cron{ChatID: 3, CreatedBy: 1, Preset: "everyday", TZ: "UTC", Text: "x"}); err != nil {
		t.Fatalf("insert cron: %v", err)
	}
	chats, err := st.KnownChats(ctx)
	if err != nil {
		t.Fatalf("known chats: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(chats) != len(want) {
		t.Fatalf("chats = %v, want %v", chats, want)
	}
	for i := range want {
		if chats[i] != want[i] {
			t.Fatalf("chats = %v, want %v", chats, want)
		}
	}
}

func TestConfronts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id1, err := st.InsertConfront(ctx, Confront{ChatID: 1, TargetUserID: 10, CounterEmoji: "🔫", CreatedBy: 2})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id2, err := st.InsertConfront(ctx, Confront{ChatID: 1, TargetUserID: 10, TriggerEmoji: "👍", CounterEmoji: "👎", CreatedBy: 2})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	rules, err := st.ListConfronts(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len = %d", len(rules))
	}
	if rules[0].ID != id1 || rules[0].TriggerEmoji != "" || rules[0].CounterEmoji != "🔫" {
		t.Errorf("rule1 = %+v", rules[0])
	}
	if rules[1].ID != id2 || rules[1].TriggerEmoji != "👍" {
		t.Errorf("rule2 = %+v", rules[1])
	}

	if ok, _ := st.DeleteConfront(ctx, 2, id1); ok {
		t.Error("cross-chat confront delete succeeded")
	}
	if ok, err := st.DeleteConfront(ctx, 1, id1); err != nil || !ok {
		t.Errorf("delete: ok=%v err=%v", ok, err)
	}
}

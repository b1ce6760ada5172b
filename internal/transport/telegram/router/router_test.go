package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "cronbot/internal/transport"
	logx "cronbot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }
func (f *fakeAdapter) React(ctx context.Context, ref kit.MessageRef, emoji string) error { return nil }
func (f *fakeAdapter) Self() int64                                                       { return 42 }

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func msgUpdate(chatID, fromID int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:      7,
			ChatID:  chatID,
			FromID:  fromID,
			Text:    text,
			IsGroup: true,
		},
	}
}

func runDispatch(t *testing.T, r *Router, ups ...kit.Update) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan kit.Update, len(ups))
	for _, u := range ups {
		ch <- u
	}
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, ch)
		close(done)
	}()
	// Give the worker pool time to drain the queue.
	time.Sleep(150 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

func TestCommandDispatchAndAlias(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, nil)

	var mu sync.Mutex
	var calls []string
	r.SetRegistry([]Command{{
		Name:        "phrase_add",
		Aliases:     []string{"pa"},
		Description: "add a phrase",
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			calls = append(calls, req.ArgText)
			mu.Unlock()
			return nil
		},
	}})

	runDispatch(t, r,
		msgUpdate(1, 10, "/phrase_add hello world"),
		msgUpdate(1, 10, "/pa@somebot  second  one "),
	)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want 2 entries", calls)
	}
	if calls[0] != "hello world" {
		t.Fatalf("arg text = %q", calls[0])
	}
	if calls[1] != "second  one" {
		t.Fatalf("alias arg text = %q", calls[1])
	}
}

func TestOwnerOnlyRejected(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, []int64{99})

	called := false
	r.SetRegistry([]Command{{
		Name:   "admin",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			called = true
			return nil
		},
	}})

	runDispatch(t, r, msgUpdate(1, 10, "/admin"))

	if called {
		t.Fatal("owner-only handler ran for non-owner")
	}
	if fa.sentCount() != 1 {
		t.Fatalf("expected a rejection message, sent=%d", fa.sentCount())
	}
}

func TestOwnerAllowed(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, []int64{99})

	var mu sync.Mutex
	called := false
	r.SetRegistry([]Command{{
		Name:   "admin",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			called = true
			mu.Unlock()
			return nil
		},
	}})

	runDispatch(t, r, msgUpdate(1, 99, "/admin"))

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Fatal("owner-only handler did not run for owner")
	}
}

func TestUnknownCommandSilentInGroups(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, nil)
	r.SetRegistry(nil)

	runDispatch(t, r, msgUpdate(1, 10, "/definitely_not_registered"))

	if fa.sentCount() != 0 {
		t.Fatalf("group unknown command should be ignored, sent=%v", fa.sent)
	}
}

func TestHooksRun(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, nil)
	r.SetRegistry(nil)

	var mu sync.Mutex
	var gotMsg, gotReact bool
	r.AddMessageHook(func(ctx context.Context, m *kit.Message) {
		mu.Lock()
		gotMsg = true
		mu.Unlock()
	})
	r.AddReactionHook(func(ctx context.Context, re *kit.Reaction) {
		mu.Lock()
		gotReact = true
		mu.Unlock()
	})

	runDispatch(t, r,
		msgUpdate(1, 10, "just chatting"),
		kit.Update{Kind: kit.UpdateReaction, Reaction: &kit.Reaction{ChatID: 1, MessageID: 7, FromID: 10, Added: []string{"👍"}}},
	)

	mu.Lock()
	defer mu.Unlock()
	if !gotMsg {
		t.Error("message hook did not run")
	}
	if !gotReact {
		t.Error("reaction hook did not run")
	}
}

func TestHelpInjected(t *testing.T) {
	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, nil, nil)
	r.SetRegistry([]Command{{
		Name:        "addcron",
		Description: "schedule a weekly message",
		Handle:      func(ctx context.Context, req *Request) error { return nil },
	}})

	runDispatch(t, r, msgUpdate(1, 10, "/help"))

	if fa.sentCount() != 1 {
		t.Fatalf("help should send one message, sent=%d", fa.sentCount())
	}
	fa.mu.Lock()
	text := fa.sent[0]
	fa.mu.Unlock()
	if !strings.Contains(text, "addcron") || !strings.Contains(text, "help") {
		t.Fatalf("help text missing commands: %q", text)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/addcron weekdays 09:00 hello", []string{"/addcron", "weekdays", "09:00", "hello"}},
		{`/phrase_add "two words"`, []string{"/phrase_add", "two words"}},
		{"   ", nil},
	}
	for _, tc := range cases {
		got := tokenizeCommandLine(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("tokenize(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParseFlags(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"everyday", "09:00", "hello", "--target", "123", "--quiet", "-t=42"})
	if len(pos) != 3 || pos[0] != "everyday" || pos[2] != "hello" {
		t.Fatalf("pos = %v", pos)
	}
	if flags["target"] != "123" || flags["t"] != "42" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["quiet"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestSanitizeCommandName(t *testing.T) {
	cases := map[string]string{
		"Phrase-Add":  "phrase_add",
		"  addcron ":  "addcron",
		"__x__":       "x",
		"9lives":      "cmd_9lives",
		"":            "",
		"ADD CRON":    "add_cron",
		"ok_already_": "ok_already",
	}
	for in, want := range cases {
		if got := sanitizeCommandName(in); got != want {
			t.Errorf("sanitizeCommandName(%q) = %q, want %q", in, got, want)
		}
	}
}

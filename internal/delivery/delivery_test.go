package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cronbot/internal/schedule"
	kit "cronbot/internal/transport"
	logx "cronbot/pkg/logx"
)

type fakeSender struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.to, f.text, f.opt = to, text, opt
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, f.err
}

type fakePool struct {
	phrase string
	ok     bool
	err    error
}

func (f *fakePool) RandomPhrase(context.Context, int64) (string, bool, error) {
	return f.phrase, f.ok, f.err
}

func TestDeliverPlainText(t *testing.T) {
	t.Parallel()
	tx := &fakeSender{}
	s := New(tx, &fakePool{}, logx.Nop())

	err := s.Deliver(context.Background(), schedule.Payload{ChatID: -5, ThreadID: 3, Text: "standup time"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if tx.to.ChatID != -5 || tx.to.ThreadID != 3 {
		t.Errorf("target = %+v", tx.to)
	}
	if tx.text != "standup time" {
		t.Errorf("text = %q", tx.text)
	}
	if tx.opt.ParseMode != "" {
		t.Errorf("plain text got parse mode %q", tx.opt.ParseMode)
	}
}

func TestDeliverMentionEscapesText(t *testing.T) {
	t.Parallel()
	tx := &fakeSender{}
	s := New(tx, &fakePool{}, logx.Nop())

	err := s.Deliver(context.Background(), schedule.Payload{ChatID: 1, Text: "a <b> & c", TargetUserID: 42})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if tx.opt.ParseMode != "HTML" {
		t.Errorf("parse mode = %q, want HTML", tx.opt.ParseMode)
	}
	if !strings.Contains(tx.text, `tg://user?id=42`) {
		t.Errorf("mention missing: %q", tx.text)
	}
	if !strings.Contains(tx.text, "a &lt;b&gt; &amp; c") {
		t.Errorf("text not escaped: %q", tx.text)
	}
}

func TestDeliverResolvesRandomMarker(t *testing.T) {
	t.Parallel()

	tx := &fakeSender{}
	s := New(tx, &fakePool{phrase: "carpe diem", ok: true}, logx.Nop())
	if err := s.Deliver(context.Background(), schedule.Payload{ChatID: 1, Text: RandomMarker}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if tx.text != "carpe diem" {
		t.Errorf("text = %q", tx.text)
	}

	// empty pool falls back
	s = New(tx, &fakePool{}, logx.Nop())
	if err := s.Deliver(context.Background(), schedule.Payload{ChatID: 1, Text: RandomMarker}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if tx.text != NoPhrasesFallback {
		t.Errorf("text = %q, want fallback", tx.text)
	}

	// pool error aborts the send
	s = New(tx, &fakePool{err: errors.New("db closed")}, logx.Nop())
	if err := s.Deliver(context.Background(), schedule.Payload{ChatID: 1, Text: RandomMarker}); err == nil {
		t.Fatal("pool error swallowed")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want error
	}{
		{"telegram: Bad Request: chat not found (400)", ErrTargetMissing},
		{"telegram: Bad Request: message thread not found (400)", ErrTargetMissing},
		{"telegram: Forbidden: bot was kicked from the supergroup chat (403)", ErrNoAccess},
		{"telegram: Bad Request: not enough rights to send text messages (400)", ErrNoAccess},
		{"telegram: Bad Request: TOPIC_CLOSED (400)", ErrNoAccess},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.in))
		if !errors.Is(got, tc.want) {
			t.Errorf("Classify(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	transient := errors.New("net/http: timeout")
	if got := Classify(transient); errors.Is(got, ErrNoAccess) || errors.Is(got, ErrTargetMissing) {
		t.Errorf("transient error misclassified: %v", got)
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}
}

package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"cronbot/internal/schedule"
	kit "cronbot/internal/transport"
	logx "cronbot/pkg/logx"
)

// RandomMarker is the stored text of jobs that send a random phrase from the
// chat's pool instead of fixed text. It never collides with user text because
// commands reject it on input.
const RandomMarker = "__RANDOM_PHRASE__"

// NoPhrasesFallback is sent when a random-phrase job fires in a chat with an
// empty pool.
const NoPhrasesFallback = "The phrase pool is empty. Add some with /phrase_add."

var (
	// ErrNoAccess means the bot cannot post to the chat (kicked, muted,
	// topic closed). The trigger stays armed; the operator has to fix access.
	ErrNoAccess = errors.New("no access to chat")

	// ErrTargetMissing means the chat or thread no longer exists.
	ErrTargetMissing = errors.New("target chat missing")
)

// TextSender is the slice of the transport adapter deliveries need.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// PhrasePool resolves the random-phrase marker at fire time.
type PhrasePool interface {
	RandomPhrase(ctx context.Context, chatID int64) (string, bool, error)
}

// Sender turns fired trigger payloads into chat messages.
type Sender struct {
	tx      TextSender
	phrases PhrasePool
	log     logx.Logger
}

func New(tx TextSender, phrases PhrasePool, log logx.Logger) *Sender {
	return &Sender{tx: tx, phrases: phrases, log: log}
}

// Deliver implements schedule.DeliverFunc.
//
// The random marker is resolved at fire time, not at arm time, so the pool
// can change between fires. The mention is rendered here for the same reason.
func (s *Sender) Deliver(ctx context.Context, p schedule.Payload) error {
	text := p.Text
	if text == RandomMarker {
		phrase, ok, err := s.phrases.RandomPhrase(ctx, p.ChatID)
		if err != nil {
			return fmt.Errorf("resolve random phrase: %w", err)
		}
		if ok {
			text = phrase
		} else {
			text = NoPhrasesFallback
		}
	}

	to := kit.ChatTarget{ChatID: p.ChatID, ThreadID: p.ThreadID}
	opt := &kit.SendOptions{DisablePreview: true}
	if p.TargetUserID != 0 {
		text = Mention(p.TargetUserID) + " " + html.EscapeString(text)
		opt.ParseMode = "HTML"
	}

	if _, err := s.tx.SendText(ctx, to, text, opt); err != nil {
		return Classify(err)
	}
	return nil
}

// Mention renders an HTML text mention that notifies the user even without a
// public username.
func Mention(userID int64) string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">@user</a>`, userID)
}

// Classify maps raw transport errors onto the delivery error taxonomy.
// Anything unrecognized is passed through as transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "thread not found"),
		strings.Contains(msg, "topic_deleted"),
		strings.Contains(msg, "group chat was deactivated"):
		return fmt.Errorf("%w: %v", ErrTargetMissing, err)
	case strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "bot was kicked"),
		strings.Contains(msg, "bot was blocked"),
		strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "topic_closed"):
		return fmt.Errorf("%w: %v", ErrNoAccess, err)
	default:
		return err
	}
}

package confronts

import (
	"context"
	"errors"
	"strings"

	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

var ErrEmptyCounter = errors.New("counter reaction must not be empty")

// DefaultCounter is used when a rule is created without an explicit counter
// reaction.
const DefaultCounter = "🔫"

// Service manages auto-reaction rules and matches incoming activity against
// them.
//
// Telegram reaction updates don't carry the reacted-to message's author, so
// the service keeps a bounded in-memory index of recently seen message
// authors. Reactions on messages older than the index window are ignored.
type Service struct {
	store *storage.Store
	log   logx.Logger

	authors *authorIndex
}

func New(store *storage.Store, log logx.Logger) *Service {
	return &Service{store: store, log: log, authors: newAuthorIndex(4096)}
}

func (s *Service) Add(ctx context.Context, chatID, targetUserID int64, triggerEmoji, counterEmoji string, createdBy int64) (int64, error) {
	counterEmoji = strings.TrimSpace(counterEmoji)
	if counterEmoji == "" {
		return 0, ErrEmptyCounter
	}
	id, err := s.store.InsertConfront(ctx, storage.Confront{
		ChatID:       chatID,
		TargetUserID: targetUserID,
		TriggerEmoji: strings.TrimSpace(triggerEmoji),
		CounterEmoji: counterEmoji,
		CreatedBy:    createdBy,
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("confront rule added",
		logx.Int64("id", id),
		logx.Int64("chat_id", chatID),
		logx.Int64("target", targetUserID),
		logx.Bool("reaction_trigger", triggerEmoji != ""))
	return id, nil
}

func (s *Service) List(ctx context.Context, chatID int64) ([]storage.Confront, error) {
	return s.store.ListConfronts(ctx, chatID)
}

func (s *Service) Remove(ctx context.Context, chatID, id int64) (bool, error) {
	ok, err := s.store.DeleteConfront(ctx, chatID, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("confront rule removed", logx.Int64("id", id), logx.Int64("chat_id", chatID))
	}
	return ok, nil
}

// RememberAuthor records who wrote a message so later reaction updates can be
// attributed.
func (s *Service) RememberAuthor(chatID int64, messageID int, authorID int64) {
	s.authors.put(chatID, messageID, authorID)
}

// MatchMessage returns the counter reactions to apply to a fresh message by
// authorID. Only message rules (no trigger emoji) fire here.
func (s *Service) MatchMessage(ctx context.Context, chatID, authorID int64) ([]string, error) {
	rules, err := s.store.ListConfronts(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rules {
		if r.TargetUserID == authorID && r.TriggerEmoji == "" {
			out = append(out, r.CounterEmoji)
		}
	}
	return out, nil
}

// MatchReaction returns the counter reactions to apply when reactorID put the
// given emoji on a message. The message author is looked up in the bounded
// index; an unknown message matches nothing.
func (s *Service) MatchReaction(ctx context.Context, chatID int64, messageID int, reactorID, selfID int64, emoji string) ([]string, error) {
	// the bot's own counter reactions must not re-trigger rules
	if reactorID == selfID {
		return nil, nil
	}
	authorID, ok := s.authors.get(chatID, messageID)
	if !ok {
		return nil, nil
	}

	rules, err := s.store.ListConfronts(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rules {
		if r.TargetUserID == authorID && r.TriggerEmoji != "" && r.TriggerEmoji == emoji {
			out = append(out, r.CounterEmoji)
		}
	}
	return out, nil
}

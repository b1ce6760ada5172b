package phrases

import (
	"context"
	"errors"
	"strings"

	"cronbot/internal/delivery"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

var (
	ErrEmptyPhrase    = errors.New("phrase must not be empty")
	ErrReservedPhrase = errors.New("this phrase is reserved")
)

// Service manages per-chat phrase pools.
type Service struct {
	store *storage.Store
	log   logx.Logger
}

func New(store *storage.Store, log logx.Logger) *Service {
	return &Service{store: store, log: log}
}

func (s *Service) Add(ctx context.Context, chatID int64, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmptyPhrase
	}
	if text == delivery.RandomMarker {
		return 0, ErrReservedPhrase
	}
	id, err := s.store.InsertPhrase(ctx, chatID, text)
	if err != nil {
		return 0, err
	}
	s.log.Debug("phrase added", logx.Int64("id", id), logx.Int64("chat_id", chatID))
	return id, nil
}

func (s *Service) List(ctx context.Context, chatID int64) ([]storage.Phrase, error) {
	return s.store.ListPhrases(ctx, chatID)
}

func (s *Service) Delete(ctx context.Context, chatID, id int64) (bool, error) {
	return s.store.DeletePhrase(ctx, chatID, id)
}

// Random picks one phrase uniformly; ok is false when the pool is empty.
func (s *Service) Random(ctx context.Context, chatID int64) (string, bool, error) {
	return s.store.RandomPhrase(ctx, chatID)
}

// RandomPhrase satisfies delivery.PhrasePool.
func (s *Service) RandomPhrase(ctx context.Context, chatID int64) (string, bool, error) {
	return s.Random(ctx, chatID)
}

// SeedIfEmpty fills a chat's empty pool with the configured defaults.
func (s *Service) SeedIfEmpty(ctx context.Context, chatID int64, defaults []string) (int, error) {
	n, err := s.store.SeedPhrases(ctx, chatID, defaults)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("seeded phrase pool", logx.Int64("chat_id", chatID), logx.Int("count", n))
	}
	return n, nil
}

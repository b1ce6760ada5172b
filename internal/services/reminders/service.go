package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cronbot/internal/delivery"
	"cronbot/internal/schedule"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

var (
	ErrEmptyText = errors.New("text must not be empty")

	// ErrReservedText rejects user text that equals the random-phrase marker.
	ErrReservedText = errors.New("this text is reserved")

	// ErrMinutesRange bounds one-shot reminders to one week.
	ErrMinutesRange = errors.New("minutes must be between 1 and 10080")
)

const maxRemindMinutes = 7 * 24 * 60

// Service owns recurring crons and one-shot reminders. Every mutation writes
// storage first and touches the trigger engine only after the write succeeds,
// so a crash can leave an unarmed row (fixed by the next startup re-arm) but
// never a ghost trigger without a row.
type Service struct {
	store   *storage.Store
	engine  *schedule.Engine
	deliver schedule.DeliverFunc
	log     logx.Logger

	onceSeq atomic.Uint64
}

func New(store *storage.Store, engine *schedule.Engine, deliver schedule.DeliverFunc, log logx.Logger) *Service {
	return &Service{store: store, engine: engine, deliver: deliver, log: log}
}

// AddCron validates, persists and arms a recurring message.
//
// targetUserID 0 defaults to the creator so the mention survives restarts
// (the payload is rebuilt from the stored row on every re-arm).
func (s *Service) AddCron(ctx context.Context, chatID int64, threadID int, createdBy int64, presetStr, clock, text string, targetUserID int64) (storage.Cron, error) {
	preset, err := schedule.ParsePreset(presetStr)
	if err != nil {
		return storage.Cron{}, err
	}
	hour, minute, err := schedule.ParseClock(clock)
	if err != nil {
		return storage.Cron{}, err
	}
	if text == "" {
		return storage.Cron{}, ErrEmptyText
	}
	if text == delivery.RandomMarker {
		return storage.Cron{}, ErrReservedText
	}
	if targetUserID == 0 {
		targetUserID = createdBy
	}

	c := storage.Cron{
		ChatID:       chatID,
		ThreadID:     threadID,
		CreatedBy:    createdBy,
		Preset:       string(preset),
		Hour:         hour,
		Minute:       minute,
		TZ:           s.engine.Location().String(),
		Text:         text,
		TargetUserID: targetUserID,
	}
	id, err := s.store.InsertCron(ctx, c)
	if err != nil {
		return storage.Cron{}, fmt.Errorf("persist cron: %w", err)
	}
	c.ID = id

	if err := s.arm(c); err != nil {
		// roll the row back so storage and engine stay in sync
		if _, derr := s.store.DeleteCron(ctx, chatID, id); derr != nil {
			s.log.Error("rollback of unarmed cron failed", logx.Int64("id", id), logx.Err(derr))
		}
		return storage.Cron{}, err
	}

	s.log.Info("cron added",
		logx.Int64("id", id),
		logx.Int64("chat_id", chatID),
		logx.String("preset", string(preset)),
		logx.String("time", fmt.Sprintf("%02d:%02d", hour, minute)))
	return c, nil
}

// DeleteCron removes a cron scoped to its chat. The trigger is disarmed only
// when the row was actually deleted, so a wrong id in one chat can never
// silently kill another chat's job.
func (s *Service) DeleteCron(ctx context.Context, chatID, id int64) (bool, error) {
	ok, err := s.store.DeleteCron(ctx, chatID, id)
	if err != nil {
		return false, fmt.Errorf("delete cron: %w", err)
	}
	if !ok {
		return false, nil
	}
	s.engine.Remove(schedule.CronKey(id))
	s.log.Info("cron removed", logx.Int64("id", id), logx.Int64("chat_id", chatID))
	return true, nil
}

func (s *Service) ListCrons(ctx context.Context, chatID int64) ([]storage.Cron, error) {
	return s.store.ListCrons(ctx, chatID)
}

// Arm puts a stored cron row on the engine, replacing any trigger under the
// same key.
func (s *Service) Arm(c storage.Cron) error { return s.arm(c) }

func (s *Service) arm(c storage.Cron) error {
	preset, err := schedule.ParsePreset(c.Preset)
	if err != nil {
		return fmt.Errorf("cron %d: %w", c.ID, err)
	}
	return s.engine.AddRecurring(schedule.CronKey(c.ID), s.deliver, c.Hour, c.Minute, preset, schedule.Payload{
		ChatID:       c.ChatID,
		ThreadID:     c.ThreadID,
		Text:         c.Text,
		TargetUserID: c.TargetUserID,
	})
}

// RearmAll re-arms every stored cron. Rows that fail to arm are logged and
// skipped so one bad row can't block startup. Returns the number armed.
func (s *Service) RearmAll(ctx context.Context) (int, error) {
	crons, err := s.store.ListAllCrons(ctx)
	if err != nil {
		return 0, fmt.Errorf("list crons: %w", err)
	}
	armed := 0
	for _, c := range crons {
		if err := s.arm(c); err != nil {
			s.log.Error("re-arm failed; skipping row", logx.Int64("id", c.ID), logx.Err(err))
			continue
		}
		armed++
	}
	return armed, nil
}

// Remind arms a one-shot reminder firing in the given number of minutes.
// One-shots are deliberately not persisted: a restart drops them.
func (s *Service) Remind(ctx context.Context, chatID int64, threadID int, createdBy int64, minutes int, text string, targetUserID int64) (time.Time, error) {
	if minutes < 1 || minutes > maxRemindMinutes {
		return time.Time{}, ErrMinutesRange
	}
	if text == "" {
		return time.Time{}, ErrEmptyText
	}
	if targetUserID == 0 {
		targetUserID = createdBy
	}

	runAt := time.Now().In(s.engine.Location()).Add(time.Duration(minutes) * time.Minute)
	key := fmt.Sprintf("remind:%d:%d", chatID, s.onceSeq.Add(1))
	err := s.engine.AddOnce(key, s.deliver, runAt, schedule.Payload{
		ChatID:       chatID,
		ThreadID:     threadID,
		Text:         "Reminder: " + text,
		TargetUserID: targetUserID,
	})
	if err != nil {
		return time.Time{}, err
	}
	s.log.Info("reminder armed",
		logx.String("key", key),
		logx.Int64("chat_id", chatID),
		logx.Time("run_at", runAt))
	return runAt, nil
}

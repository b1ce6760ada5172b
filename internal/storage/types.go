package storage

import "time"

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Cron is one recurring scheduled message.
//
// TargetUserID is the user mentioned when the job fires; 0 means the message
// is sent without a mention (only default jobs do that).
type Cron struct {
	ID           int64
	ChatID       int64
	ThreadID     int
	CreatedBy    int64
	Preset       string
	Hour         int
	Minute       int
	TZ           string
	Text         string
	TargetUserID int64
	CreatedAt    time.Time
}

type Phrase struct {
	ID        int64
	ChatID    int64
	Text      string
	CreatedAt time.Time
}

// Confront is an auto-reaction rule.
//
// TriggerEmoji selects the rule kind:
//   - "" (empty): react CounterEmoji to every message by TargetUserID
//   - emoji: react CounterEmoji when someone reacts with TriggerEmoji
//     on a message by TargetUserID
type Confront struct {
	ID           int64
	ChatID       int64
	TargetUserID int64
	TriggerEmoji string
	CounterEmoji string
	CreatedBy    int64
	CreatedAt    time.Time
}

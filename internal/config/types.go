package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram Telegram `json:"telegram"`
	Logging  Logging  `json:"logging"`

	// Scheduler controls trigger behavior (weekly crons and one-shot reminders).
	Scheduler Scheduler `json:"scheduler"`

	// DefaultPhrase controls the default recurring phrase job that gets
	// created for every known chat on startup.
	DefaultPhrase DefaultPhrase `json:"default_phrase"`

	Storage Storage `json:"storage"`
	Health  Health  `json:"health,omitempty"`
}

type Telegram struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// Chats lists group chat ids the bot serves. Chats discovered at runtime
	// are persisted in storage; this list seeds the set.
	Chats []int64 `json:"chats,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type Logging struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type Scheduler struct {
	Enabled bool `json:"enabled"`

	// Timezone applies to all trigger times (e.g. "Europe/Moscow").
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

type DefaultPhrase struct {
	Enabled bool `json:"enabled"`

	// Time is the fire time as "HH:MM" (24h, zero padded).
	Time string `json:"time,omitempty"`

	// Preset is a day-of-week preset name (e.g. "everyday", "weekdays").
	Preset string `json:"preset,omitempty"`

	// Phrases seeds the phrase pool of chats that have none yet.
	Phrases []string `json:"phrases,omitempty"`
}

type Storage struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// Health controls the optional health/pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8090").
//   - If you bind to a non-loopback address, set a token.
type Health struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8090"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"` // expose /debug/pprof/ as well
}

// Validate performs structural checks that don't need any runtime services.
// Deeper checks (clock/preset syntax) live in the app's validator hook.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

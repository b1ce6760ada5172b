package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"cronbot/internal/config"
	"cronbot/internal/delivery"
	"cronbot/internal/eventbus"
	"cronbot/internal/schedule"
	"cronbot/internal/services/phrases"
	"cronbot/internal/services/reminders"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

const (
	defaultTime   = "09:00"
	defaultPreset = schedule.PresetEveryday
)

// Driver restores scheduler state after a restart: it re-arms every stored
// cron, reconciles the per-chat default phrase job with the config, and only
// then starts the engine so nothing fires against half-restored state.
type Driver struct {
	store   *storage.Store
	phrases *phrases.Service
	rem     *reminders.Service
	engine  *schedule.Engine
	bus     eventbus.Bus
	log     logx.Logger
	selfID  int64
}

func New(store *storage.Store, phr *phrases.Service, rem *reminders.Service, engine *schedule.Engine, bus eventbus.Bus, log logx.Logger, selfID int64) *Driver {
	return &Driver{store: store, phrases: phr, rem: rem, engine: engine, bus: bus, log: log, selfID: selfID}
}

// Run executes the startup sequence. A chat whose default job can't be
// ensured is logged and skipped; only storage-level failures abort.
func (d *Driver) Run(ctx context.Context, cfg *config.Config) error {
	armed, err := d.rem.RearmAll(ctx)
	if err != nil {
		return fmt.Errorf("re-arm stored crons: %w", err)
	}
	d.log.Info("stored crons re-armed", logx.Int("count", armed))

	if err := d.EnsureDefaults(ctx, cfg); err != nil {
		return err
	}

	d.engine.Start()
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.EventBootstrapDone})
	}
	return nil
}

// EnsureDefaults creates or reconciles the default random-phrase job in every
// known chat. Safe to re-run, e.g. after a config reload changed the default
// time.
func (d *Driver) EnsureDefaults(ctx context.Context, cfg *config.Config) error {
	if cfg == nil || !cfg.DefaultPhrase.Enabled {
		return nil
	}

	clock := strings.TrimSpace(cfg.DefaultPhrase.Time)
	if clock == "" {
		clock = defaultTime
	}
	hour, minute, err := schedule.ParseClock(clock)
	if err != nil {
		return fmt.Errorf("default_phrase.time: %w", err)
	}

	presetStr := strings.TrimSpace(cfg.DefaultPhrase.Preset)
	if presetStr == "" {
		presetStr = string(defaultPreset)
	}
	preset, err := schedule.ParsePreset(presetStr)
	if err != nil {
		return fmt.Errorf("default_phrase.preset: %w", err)
	}

	chats, err := d.knownChats(ctx, cfg)
	if err != nil {
		return err
	}
	for _, chatID := range chats {
		if err := d.ensureChat(ctx, chatID, hour, minute, preset, cfg.DefaultPhrase.Phrases); err != nil {
			d.log.Warn("default phrase job not ensured",
				logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
	return nil
}

// knownChats unions the configured chat list with every chat storage has seen.
func (d *Driver) knownChats(ctx context.Context, cfg *config.Config) ([]int64, error) {
	stored, err := d.store.KnownChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate chats: %w", err)
	}
	seen := make(map[int64]struct{}, len(stored)+len(cfg.Telegram.Chats))
	out := make([]int64, 0, len(stored)+len(cfg.Telegram.Chats))
	for _, id := range stored {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range cfg.Telegram.Chats {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *Driver) ensureChat(ctx context.Context, chatID int64, hour, minute int, preset schedule.Preset, seed []string) error {
	if _, err := d.phrases.SeedIfEmpty(ctx, chatID, seed); err != nil {
		return fmt.Errorf("seed phrases: %w", err)
	}

	c, found, err := d.store.FindCronByText(ctx, chatID, delivery.RandomMarker)
	if err != nil {
		return fmt.Errorf("find default job: %w", err)
	}

	if !found {
		threadID, _, err := d.store.DefaultThread(ctx, chatID)
		if err != nil {
			return fmt.Errorf("resolve default thread: %w", err)
		}
		c = storage.Cron{
			ChatID:    chatID,
			ThreadID:  threadID,
			CreatedBy: d.selfID,
			Preset:    string(preset),
			Hour:      hour,
			Minute:    minute,
			TZ:        d.engine.Location().String(),
			Text:      delivery.RandomMarker,
		}
		c.ID, err = d.store.InsertCron(ctx, c)
		if err != nil {
			return fmt.Errorf("insert default job: %w", err)
		}
		if err := d.rem.Arm(c); err != nil {
			return err
		}
		d.log.Info("default phrase job created",
			logx.Int64("chat_id", chatID),
			logx.String("time", fmt.Sprintf("%02d:%02d", hour, minute)),
			logx.String("preset", string(preset)))
		return nil
	}

	// reconcile stored trigger with the configured one
	if c.Hour != hour || c.Minute != minute || c.Preset != string(preset) {
		if err := d.store.UpdateCronTrigger(ctx, c.ID, string(preset), hour, minute); err != nil {
			return fmt.Errorf("update default job: %w", err)
		}
		c.Hour, c.Minute, c.Preset = hour, minute, string(preset)
		d.log.Info("default phrase job updated",
			logx.Int64("chat_id", chatID),
			logx.String("time", fmt.Sprintf("%02d:%02d", hour, minute)),
			logx.String("preset", string(preset)))
	}
	// re-arm regardless: replace-by-key makes this idempotent
	return d.rem.Arm(c)
}

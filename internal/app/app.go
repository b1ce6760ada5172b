// Package app wires the configuration, storage, trigger engine, Telegram
// transport and plugins into one runnable unit.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cronbot/internal/bootstrap"
	"cronbot/internal/config"
	"cronbot/internal/delivery"
	"cronbot/internal/eventbus"
	"cronbot/internal/observability/health"
	"cronbot/internal/plugin"
	"cronbot/internal/runtime/supervisor"
	"cronbot/internal/schedule"
	"cronbot/internal/services/confronts"
	"cronbot/internal/services/phrases"
	"cronbot/internal/services/reminders"
	"cronbot/internal/storage"
	kit "cronbot/internal/transport"
	telegram "cronbot/internal/transport/telegram/adapter"
	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

// StopReason says why the app is shutting down; it only affects logging.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter kit.Adapter

	engine *schedule.Engine
	remSvc *reminders.Service
	phrSvc *phrases.Service
	cfrSvc *confronts.Service
	boot   *bootstrap.Driver
	health *health.Service

	rt  *router.Router
	reg *plugin.Registry

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	engine := schedule.New(log.With(logx.String("comp", "schedule")), bus, loc)

	phrSvc := phrases.New(store, log.With(logx.String("comp", "phrases")))
	sender := delivery.New(ad, phrSvc, log.With(logx.String("comp", "delivery")))
	remSvc := reminders.New(store, engine, sender.Deliver, log.With(logx.String("comp", "reminders")))
	cfrSvc := confronts.New(store, log.With(logx.String("comp", "confronts")))

	boot := bootstrap.New(store, phrSvc, remSvc, engine, bus, log.With(logx.String("comp", "bootstrap")), ad.Self())

	healthSvc := health.New(mapHealthConfig(cfg), store, engine, log.With(logx.String("comp", "health")))

	rt := router.New(log.With(logx.String("comp", "router")), ad, cfgm, cfg.Telegram.OwnerUserIDs)
	reg := plugin.NewRegistry(log.With(logx.String("comp", "plugins")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  engine,
		remSvc:  remSvc,
		phrSvc:  phrSvc,
		cfrSvc:  cfrSvc,
		boot:    boot,
		health:  healthSvc,
		rt:      rt,
		reg:     reg,
		updates: make(chan kit.Update, 256),
	}
	a.registerHooks()
	return a, nil
}

// Register adds plugins; call before Start.
func (a *App) Register(ps ...plugin.Plugin) { a.reg.Register(ps...) }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// registerHooks wires passive group-message observation: chat discovery for
// the default job, author tracking and confront rule matching.
func (a *App) registerHooks() {
	selfID := a.adapter.Self()

	a.rt.AddMessageHook(func(ctx context.Context, msg *kit.Message) {
		if !msg.IsGroup || msg.FromID == selfID {
			return
		}
		if err := a.store.MarkChatSeen(ctx, msg.ChatID); err != nil {
			a.log.Warn("mark chat seen failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		}
		a.cfrSvc.RememberAuthor(msg.ChatID, msg.ID, msg.FromID)

		counters, err := a.cfrSvc.MatchMessage(ctx, msg.ChatID, msg.FromID)
		if err != nil {
			a.log.Warn("confront match failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
			return
		}
		ref := kit.MessageRef{ChatID: msg.ChatID, ThreadID: msg.ThreadID, MessageID: msg.ID}
		for _, emoji := range counters {
			if err := a.adapter.React(ctx, ref, emoji); err != nil {
				a.log.Warn("react failed", logx.Int64("chat_id", msg.ChatID), logx.Int("message_id", msg.ID), logx.Err(err))
			}
		}
	})

	a.rt.AddReactionHook(func(ctx context.Context, re *kit.Reaction) {
		ref := kit.MessageRef{ChatID: re.ChatID, MessageID: re.MessageID}
		for _, emoji := range re.Added {
			counters, err := a.cfrSvc.MatchReaction(ctx, re.ChatID, re.MessageID, re.FromID, selfID, emoji)
			if err != nil {
				a.log.Warn("confront reaction match failed", logx.Int64("chat_id", re.ChatID), logx.Err(err))
				continue
			}
			for _, counter := range counters {
				if err := a.adapter.React(ctx, ref, counter); err != nil {
					a.log.Warn("react failed", logx.Int64("chat_id", re.ChatID), logx.Int("message_id", re.MessageID), logx.Err(err))
				}
			}
		}
	})
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return validateDefaultPhrase(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	cfg := a.cfgm.Get()

	// Recover persisted jobs and ensure per-chat defaults before handling
	// any commands, so /listcrons reflects the armed set.
	if cfg.Scheduler.Enabled {
		bctx, cancel := context.WithTimeout(a.sup.Context(), 30*time.Second)
		err := a.boot.Run(bctx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	} else {
		a.log.Warn("scheduler disabled; stored jobs will not fire")
	}

	if a.health.Enabled() {
		a.health.Start(a.sup.Context())
	}

	ideps := plugin.Deps{
		Logger:    a.log,
		Adapter:   a.adapter,
		Store:     a.store,
		Engine:    a.engine,
		Reminders: a.remSvc,
		Phrases:   a.phrSvc,
		Confronts: a.cfrSvc,
		Config:    a.cfgm.Get,
	}
	if err := a.reg.InitAll(a.sup.Context(), ideps); err != nil {
		return err
	}
	if err := a.reg.StartAll(a.sup.Context()); err != nil {
		return err
	}
	a.rt.SetRegistry(a.reg.Commands())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.rt.DispatchLoop(c, a.updates)
	})

	// Debug-level event log; components can also subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startConfigReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("armed_jobs", a.engine.Len()))
	return nil
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Info("config reloaded (no changes)")
					continue
				}

				a.applyReload(c, newCfg, sections)

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if changed("logging") {
		a.logs.Apply(mapLogConfig(cfg))
	}

	if changed("telegram") {
		a.rt.SetOwners(cfg.Telegram.OwnerUserIDs)
	}
	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed("scheduler") {
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if loc, err := time.LoadLocation(tz); err == nil {
				a.engine.Apply(loc)
			} else {
				a.log.Warn("invalid timezone on reload; keeping previous", logx.String("timezone", tz), logx.Err(err))
			}
		} else {
			a.engine.Apply(time.UTC)
		}
	}

	// Re-ensure default jobs when their config (or chat list) changes.
	if cfg.Scheduler.Enabled && (changed("default_phrase") || changed("telegram") || changed("scheduler")) {
		ectx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := a.boot.EnsureDefaults(ectx, cfg); err != nil {
			a.log.Warn("default job reconcile failed", logx.Err(err))
		}
		cancel()
	}

	if changed("health") {
		a.health.Reconfigure(ctx, mapHealthConfig(cfg))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.reg.StopAll(c); return nil })
	step("engine", 2*time.Second, func(c context.Context) error { return a.engine.Stop(c) })
	step("health", 1*time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, dispatcher).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapHealthConfig(cfg *config.Config) health.Config {
	return health.Config{
		Enabled: cfg.Health.Enabled,
		Addr:    cfg.Health.Addr,
		Token:   cfg.Health.Token,
		Pprof:   cfg.Health.Pprof,
	}
}

// validateDefaultPhrase rejects hot-reloads with broken default-job settings.
func validateDefaultPhrase(cfg *config.Config) error {
	dp := cfg.DefaultPhrase
	if !dp.Enabled {
		return nil
	}
	if t := strings.TrimSpace(dp.Time); t != "" {
		if _, _, err := schedule.ParseClock(t); err != nil {
			return fmt.Errorf("default_phrase.time: %w", err)
		}
	}
	if p := strings.TrimSpace(dp.Preset); p != "" {
		if _, err := schedule.ParsePreset(p); err != nil {
			return fmt.Errorf("default_phrase.preset: %w", err)
		}
	}
	return nil
}

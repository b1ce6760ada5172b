package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cronbot/internal/eventbus"
	logx "cronbot/pkg/logx"
)

// CronKey is the trigger key of a stored cron row.
func CronKey(id int64) string { return fmt.Sprintf("cron:%d", id) }

// Payload is what a trigger delivers when it fires.
type Payload struct {
	ChatID       int64
	ThreadID     int
	Text         string
	TargetUserID int64 // 0 = no mention
}

// DeliverFunc sends a fired payload to its destination. Errors are logged by
// the engine and never retried; a failing delivery does not disarm a trigger.
type DeliverFunc func(ctx context.Context, p Payload) error

const deliverTimeout = time.Minute

type recurringDef struct {
	key     string
	spec    string
	deliver DeliverFunc
	payload Payload
	entryID cron.EntryID
}

type onceDef struct {
	key     string
	runAt   time.Time
	deliver DeliverFunc
	payload Payload
	ver     uint64
}

// Engine arms triggers and dispatches deliveries. All wall-clock math uses
// the engine timezone.
type Engine struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	loc     *time.Location
	c       *cron.Cron
	running bool
	defs    map[string]*recurringDef

	tmu    sync.Mutex
	once   map[string]*onceDef
	timers map[string]*time.Timer
	verSeq uint64
}

func New(log logx.Logger, bus eventbus.Bus, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		log:    log,
		bus:    bus,
		loc:    loc,
		defs:   map[string]*recurringDef{},
		once:   map[string]*onceDef{},
		timers: map[string]*time.Timer{},
	}
	e.c = cron.New(cron.WithLocation(loc))
	return e
}

// Location returns the engine timezone.
func (e *Engine) Location() *time.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loc
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Len returns the number of armed recurring triggers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.defs)
}

// Start arms all registered triggers. Nothing fires before Start.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.c.Start()
	n := len(e.defs)
	e.mu.Unlock()

	e.tmu.Lock()
	for _, d := range e.once {
		e.armOnceLocked(d)
	}
	e.tmu.Unlock()

	e.log.Info("trigger engine started", logx.Int("recurring", n), logx.String("tz", e.loc.String()))
}

// Stop abandons all pending timers and stops the cron runner. In-flight
// deliveries are not interrupted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	stopCtx := e.c.Stop()
	e.mu.Unlock()

	e.tmu.Lock()
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
	e.tmu.Unlock()

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply switches the engine timezone. Recurring triggers are rebuilt on the
// new clock; pending one-shots keep their absolute instants.
func (e *Engine) Apply(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if loc.String() == e.loc.String() {
		return
	}

	<-e.c.Stop().Done()
	e.loc = loc
	e.c = cron.New(cron.WithLocation(loc))
	for _, d := range e.defs {
		id, err := e.c.AddJob(d.spec, e.jobFor(d))
		if err != nil {
			e.log.Error("re-arm failed after timezone change",
				logx.String("key", d.key), logx.String("spec", d.spec), logx.Err(err))
			continue
		}
		d.entryID = id
	}
	if e.running {
		e.c.Start()
	}
	e.log.Info("trigger engine timezone changed", logx.String("tz", loc.String()), logx.Int("recurring", len(e.defs)))
}

// AddRecurring registers (or replaces) a recurring trigger. The first fire is
// strictly in the future; a tick that already passed today is never caught up.
func (e *Engine) AddRecurring(key string, deliver DeliverFunc, hour, minute int, preset Preset, payload Payload) error {
	if key == "" {
		return fmt.Errorf("trigger key is empty")
	}
	if deliver == nil {
		return fmt.Errorf("deliver func is nil")
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ErrTimeRange
	}
	if _, err := ParsePreset(string(preset)); err != nil {
		return err
	}
	spec := CronSpec(hour, minute, preset)

	e.mu.Lock()
	defer e.mu.Unlock()

	// replace-by-key: drop the previous trigger before arming the new one
	if old, ok := e.defs[key]; ok && old.entryID != 0 {
		e.c.Remove(old.entryID)
		delete(e.defs, key)
	}
	e.removeOnce(key)

	d := &recurringDef{key: key, spec: spec, deliver: deliver, payload: payload}
	id, err := e.c.AddJob(spec, e.jobFor(d))
	if err != nil {
		return fmt.Errorf("arm %s: %w", key, err)
	}
	d.entryID = id
	e.defs[key] = d

	e.publish(eventbus.EventJobArmed, key)
	return nil
}

// AddOnce registers (or replaces) a one-shot trigger. An instant in the past
// fires immediately once the engine is running.
func (e *Engine) AddOnce(key string, deliver DeliverFunc, runAt time.Time, payload Payload) error {
	if key == "" {
		return fmt.Errorf("trigger key is empty")
	}
	if deliver == nil {
		return fmt.Errorf("deliver func is nil")
	}

	e.mu.Lock()
	if old, ok := e.defs[key]; ok && old.entryID != 0 {
		e.c.Remove(old.entryID)
		delete(e.defs, key)
	}
	running := e.running
	e.mu.Unlock()

	e.tmu.Lock()
	defer e.tmu.Unlock()
	e.removeOnceTimerLocked(key)
	e.verSeq++
	d := &onceDef{key: key, runAt: runAt, deliver: deliver, payload: payload, ver: e.verSeq}
	e.once[key] = d
	if running {
		e.armOnceLocked(d)
	}

	e.publish(eventbus.EventJobArmed, key)
	return nil
}

// Remove disarms a trigger. Unknown keys are a silent no-op.
func (e *Engine) Remove(key string) {
	e.mu.Lock()
	if d, ok := e.defs[key]; ok {
		if d.entryID != 0 {
			e.c.Remove(d.entryID)
		}
		delete(e.defs, key)
	}
	e.mu.Unlock()

	e.removeOnce(key)
	e.publish(eventbus.EventJobRemoved, key)
}

func (e *Engine) removeOnce(key string) {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	e.removeOnceTimerLocked(key)
}

// tmu must be held.
func (e *Engine) removeOnceTimerLocked(key string) {
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
	delete(e.once, key)
}

// tmu must be held.
func (e *Engine) armOnceLocked(d *onceDef) {
	delay := time.Until(d.runAt)
	if delay < 0 {
		delay = 0
	}
	key, ver := d.key, d.ver
	e.timers[key] = time.AfterFunc(delay, func() {
		e.tmu.Lock()
		cur, ok := e.once[key]
		if !ok || cur.ver != ver {
			// replaced or removed while the timer was pending
			e.tmu.Unlock()
			return
		}
		delete(e.once, key)
		delete(e.timers, key)
		e.tmu.Unlock()

		e.dispatch(key, cur.deliver, cur.payload)
	})
}

func (e *Engine) jobFor(d *recurringDef) cron.Job {
	return cron.FuncJob(func() {
		e.dispatch(d.key, d.deliver, d.payload)
	})
}

// dispatch runs a delivery on its own goroutine so a slow send never blocks
// the cron runner or other timers.
func (e *Engine) dispatch(key string, deliver DeliverFunc, p Payload) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("delivery panicked",
					logx.String("key", key),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()

		start := time.Now()
		err := deliver(ctx, p)
		if err != nil {
			e.log.Error("delivery failed",
				logx.String("key", key),
				logx.Int64("chat_id", p.ChatID),
				logx.Duration("took", time.Since(start)),
				logx.Err(err))
		} else {
			e.log.Debug("trigger fired",
				logx.String("key", key),
				logx.Int64("chat_id", p.ChatID),
				logx.Duration("took", time.Since(start)))
		}
		e.publish(eventbus.EventJobFired, key)
	}()
}

func (e *Engine) publish(typ, key string) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: key})
	}
}

// NextFire computes the first fire of a recurring trigger strictly after the
// given instant, on the given timezone's clock.
func NextFire(hour, minute int, p Preset, loc *time.Location, after time.Time) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard(CronSpec(hour, minute, p))
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}

package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cronbot/internal/config"
	"cronbot/internal/runtime/supervisor"
	kit "cronbot/internal/transport"
	logx "cronbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Name is the command word without the leading slash, e.g. "addcron".
	// Telegram command names are restricted to [a-z0-9_]{1,32}.
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Args holds positional arguments (flags stripped).
	Args      []string
	Flags     map[string]string
	BoolFlags map[string]bool
	// ArgText is the raw text after the command word, untokenized.
	// Handlers that take free-form trailing text should prefer it over Args.
	ArgText string
	ReqID   string

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
	Owners  []int64
}

// MessageHook observes every non-command group message (author tracking,
// confront message rules). Hooks run on the worker pool.
type MessageHook func(ctx context.Context, msg *kit.Message)

// ReactionHook observes emoji reaction changes (confront reaction rules).
type ReactionHook func(ctx context.Context, r *kit.Reaction)

type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // canonical name -> command
	alias map[string]string   // alias -> canonical name
	order []string            // canonical names in registration order

	owners []int64

	hookMu     sync.RWMutex
	msgHooks   []MessageHook
	reactHooks []ReactionHook

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *config.Manager

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, cfgm *config.Manager, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	// copy to avoid callers mutating the slice after construction
	ownCopy := append([]int64(nil), owners...)
	return &Router{
		cmds:    map[string]*Command{},
		alias:   map[string]string{},
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		owners:  ownCopy,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = ownCopy
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	cp := append([]int64(nil), r.owners...)
	r.mu.RUnlock()
	return cp
}

func (r *Router) AddMessageHook(h MessageHook) {
	if h == nil {
		return
	}
	r.hookMu.Lock()
	r.msgHooks = append(r.msgHooks, h)
	r.hookMu.Unlock()
}

func (r *Router) AddReactionHook(h ReactionHook) {
	if h == nil {
		return
	}
	r.hookMu.Lock()
	r.reactHooks = append(r.reactHooks, h)
	r.hookMu.Unlock()
}

// SetRegistry replaces the command registry. A /help command is always
// injected. The Telegram /menu list is updated best-effort in background.
func (r *Router) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show command help",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			text := r.helpText(req.Args)
			_, _ = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return nil
		},
	}
	cmds = append(cmds, helper)

	reg := map[string]*Command{}
	alias := map[string]string{}
	order := make([]string, 0, len(cmds))

	for _, c := range cmds {
		name := sanitizeCommandName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, exists := reg[name]; exists {
			r.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		cc := c
		cc.Name = name
		reg[name] = &cc
		order = append(order, name)
		for _, a := range c.Aliases {
			a = sanitizeCommandName(a)
			if a == "" || a == name {
				continue
			}
			if _, exists := alias[a]; !exists {
				alias[a] = name
			}
		}
	}
	sort.Strings(order)

	r.mu.Lock()
	r.cmds = reg
	r.alias = alias
	r.order = order
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(reg, order)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes adapter updates until ctx is cancelled or the
// updates channel closes. Handlers and hooks run on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.running = true
	r.runMu.Unlock()

	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.runMu.Lock()
			r.running = false
			r.runMu.Unlock()
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, open := <-r.jobs:
					if !open {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already catches handler panics; this keeps
					// the worker alive if a hook slips one through.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in dispatch job",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, open := <-updates:
			if !open {
				r.log.Info("updates channel closed")
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

func (r *Router) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(root, up)
	case kit.UpdateReaction:
		r.routeReaction(root, up)
	case kit.UpdateCallback:
		// No inline keyboards in this bot; dismiss the loading spinner.
		if up.Callback != nil {
			_ = r.adapter.AnswerCallback(root, up.Callback.ID, "")
		}
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		r.runMessageHooks(root, msg)
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	args := parts[1:]

	argText := ""
	if sp := strings.IndexAny(text, " \t\n"); sp >= 0 {
		argText = strings.TrimSpace(text[sp:])
	}

	r.mu.RLock()
	cmd := r.cmds[word]
	if cmd == nil {
		if canon, ok := r.alias[word]; ok {
			cmd = r.cmds[canon]
		}
	}
	r.mu.RUnlock()

	if cmd == nil {
		// Ignore unknown commands in groups: they may belong to another bot.
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "Unknown command. Try /help.", nil)
		}
		return
	}

	owners := r.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "You are not allowed to use this command.", nil)
		return
	}

	rid := newReqID()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("thread_id", msg.ThreadID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	pos, flags, bools := parseFlags(args)

	req := &Request{
		Update:    up,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:    msg.FromID,
		Command:   cmd.Name,
		Args:      pos,
		Flags:     flags,
		BoolFlags: bools,
		ArgText:   argText,
		ReqID:   rid,
		Adapter: r.adapter,
		Config:  r.currentConfig(),
		Logger:  reqLog,
		Owners:  owners,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)

	if !r.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = r.adapter.SendText(root, req.Chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) routeReaction(root context.Context, up kit.Update) {
	re := up.Reaction
	if re == nil {
		return
	}
	r.hookMu.RLock()
	hooks := append([]ReactionHook(nil), r.reactHooks...)
	r.hookMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	if !r.tryEnqueue(func() {
		for _, h := range hooks {
			h(root, re)
		}
	}) {
		r.log.Debug("reaction dropped (queue full)",
			logx.Int64("chat_id", re.ChatID), logx.Int("message_id", re.MessageID))
	}
}

func (r *Router) runMessageHooks(root context.Context, msg *kit.Message) {
	r.hookMu.RLock()
	hooks := append([]MessageHook(nil), r.msgHooks...)
	r.hookMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	if !r.tryEnqueue(func() {
		for _, h := range hooks {
			h(root, msg)
		}
	}) {
		r.log.Debug("message hook dropped (queue full)",
			logx.Int64("chat_id", msg.ChatID), logx.Int("message_id", msg.ID))
	}
}

func (r *Router) currentConfig() *config.Config {
	if r.cfgm == nil {
		return nil
	}
	return r.cfgm.Get()
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

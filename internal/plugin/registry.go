package plugin

import (
	"context"
	"fmt"
	"time"

	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

// Registry holds registered plugins and drives their lifecycle in
// registration order (stop runs in reverse).
type Registry struct {
	log     logx.Logger
	plugins []Plugin
	started []Plugin
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log}
}

func (r *Registry) Register(ps ...Plugin) {
	for _, p := range ps {
		if p == nil {
			continue
		}
		r.plugins = append(r.plugins, p)
	}
}

func (r *Registry) InitAll(ctx context.Context, deps Deps) error {
	for _, p := range r.plugins {
		pdeps := deps
		pdeps.Logger = deps.Logger.With(logx.String("plugin", p.Name()))
		if err := safeCall(func() error { return p.Init(ctx, pdeps) }); err != nil {
			return fmt.Errorf("plugin %s init: %w", p.Name(), err)
		}
	}
	return nil
}

func (r *Registry) StartAll(ctx context.Context) error {
	for _, p := range r.plugins {
		if err := safeCall(func() error { return p.Start(ctx) }); err != nil {
			return fmt.Errorf("plugin %s start: %w", p.Name(), err)
		}
		r.started = append(r.started, p)
		r.log.Debug("plugin started", logx.String("plugin", p.Name()))
	}
	return nil
}

func (r *Registry) StopAll(ctx context.Context) {
	for i := len(r.started) - 1; i >= 0; i-- {
		p := r.started[i]
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := safeCall(func() error { return p.Stop(stopCtx) }); err != nil {
			r.log.Warn("plugin stop failed", logx.String("plugin", p.Name()), logx.Err(err))
		}
		cancel()
	}
	r.started = nil
}

// Commands collects commands from every plugin, tagging each with its
// plugin name. A panicking plugin contributes nothing.
func (r *Registry) Commands() []router.Command {
	var out []router.Command
	for _, p := range r.plugins {
		cmds := safeCommands(r.log, p)
		for i := range cmds {
			if cmds[i].PluginName == "" {
				cmds[i].PluginName = p.Name()
			}
		}
		out = append(out, cmds...)
	}
	return out
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func safeCommands(log logx.Logger, p Plugin) (out []router.Command) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("plugin Commands panicked", logx.String("plugin", p.Name()), logx.Any("panic", rec))
			out = nil
		}
	}()
	return p.Commands()
}

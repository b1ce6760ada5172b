// Package chat provides chat-level settings commands.
package chat

import (
	"context"

	"cronbot/internal/plugin"
	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

type Plugin struct {
	log  logx.Logger
	deps plugin.Deps
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "chat" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.deps = deps
	p.log = deps.Logger
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return nil }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{{
		Name:        "set_default_thread",
		Description: "use this topic for the chat's default daily phrase",
		Usage:       "/set_default_thread",
		Access:      router.AccessEveryone,
		Handle:      p.handleSetDefaultThread,
	}}
}

func (p *Plugin) handleSetDefaultThread(ctx context.Context, req *router.Request) error {
	if err := p.deps.Store.SetDefaultThread(ctx, req.Chat.ChatID, req.Chat.ThreadID); err != nil {
		req.Logger.Error("set_default_thread failed", logx.Err(err))
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Could not save the setting, try again later.", nil)
		return err
	}
	text := "Okay, the default daily phrase will be posted in this topic."
	if req.Chat.ThreadID == 0 {
		text = "Okay, the default daily phrase will be posted in the main chat."
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

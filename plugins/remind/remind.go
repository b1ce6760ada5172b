// Package remind provides the one-shot /remind command.
package remind

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cronbot/internal/plugin"
	"cronbot/internal/services/reminders"
	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

type Plugin struct {
	log  logx.Logger
	deps plugin.Deps
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "remind" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.deps = deps
	p.log = deps.Logger
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return nil }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{{
		Name:        "remind",
		Description: "one-shot reminder after N minutes",
		Usage:       "/remind <minutes> <text...> [--target user_id]",
		Access:      router.AccessEveryone,
		Handle:      p.handleRemind,
	}}
}

func (p *Plugin) handleRemind(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return reply(ctx, req, "Usage: /remind <minutes> <text...>")
	}
	minutes, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return reply(ctx, req, "Minutes must be a number between 1 and 10080.")
	}
	text := strings.Join(req.Args[1:], " ")

	targetUserID := int64(0)
	if v, ok := req.Flags["target"]; ok {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n <= 0 {
			return reply(ctx, req, "--target must be a positive user id.")
		}
		targetUserID = n
	}

	at, err := p.deps.Reminders.Remind(ctx, req.Chat.ChatID, req.Chat.ThreadID, req.FromID, minutes, text, targetUserID)
	if err != nil {
		switch {
		case errors.Is(err, reminders.ErrMinutesRange):
			return reply(ctx, req, "Minutes must be between 1 and 10080 (one week).")
		case errors.Is(err, reminders.ErrEmptyText):
			return reply(ctx, req, "The reminder text must not be empty.")
		case errors.Is(err, reminders.ErrReservedText):
			return reply(ctx, req, "That text is reserved, pick something else.")
		}
		req.Logger.Error("remind failed", logx.Err(err))
		return reply(ctx, req, "Could not set the reminder, try again later.")
	}

	loc := p.deps.Engine.Location()
	return reply(ctx, req, fmt.Sprintf("Okay, I will remind you at %s.", at.In(loc).Format("15:04")))
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

// Package confronts provides the auto-reaction rule commands: /confront,
// /confront_list and /confront_remove.
package confronts

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"cronbot/internal/plugin"
	confrontsvc "cronbot/internal/services/confronts"
	kit "cronbot/internal/transport"
	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

type Plugin struct {
	log  logx.Logger
	deps plugin.Deps
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "confronts" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.deps = deps
	p.log = deps.Logger
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return nil }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "confront",
			Description: "auto-react to a user's messages or reactions",
			Usage:       "/confront --user <user_id> [--trigger <emoji>] [counter-emoji]",
			Access:      router.AccessEveryone,
			Handle:      p.handleAdd,
		},
		{
			Name:        "confront_list",
			Description: "list auto-reaction rules in this chat",
			Usage:       "/confront_list",
			Access:      router.AccessEveryone,
			Handle:      p.handleList,
		},
		{
			Name:        "confront_remove",
			Description: "remove an auto-reaction rule by id",
			Usage:       "/confront_remove <id>",
			Access:      router.AccessEveryone,
			Handle:      p.handleRemove,
		},
	}
}

func (p *Plugin) handleAdd(ctx context.Context, req *router.Request) error {
	userStr, ok := req.Flags["user"]
	if !ok {
		return reply(ctx, req, "Usage: /confront --user <user_id> [--trigger <emoji>] [counter-emoji]")
	}
	targetUserID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil || targetUserID <= 0 {
		return reply(ctx, req, "--user must be a positive user id.")
	}

	trigger := req.Flags["trigger"]
	counter := confrontsvc.DefaultCounter
	if len(req.Args) > 0 {
		counter = req.Args[0]
	}

	id, err := p.deps.Confronts.Add(ctx, req.Chat.ChatID, targetUserID, trigger, counter, req.FromID)
	if err != nil {
		if errors.Is(err, confrontsvc.ErrEmptyCounter) {
			return reply(ctx, req, "The counter emoji must not be empty.")
		}
		req.Logger.Error("confront failed", logx.Err(err))
		return reply(ctx, req, "Could not save the rule, try again later.")
	}

	if trigger == "" {
		return reply(ctx, req, fmt.Sprintf("Rule #%d: I will react %s to every message by that user.", id, counter))
	}
	return reply(ctx, req, fmt.Sprintf("Rule #%d: when someone reacts %s to that user's message, I will react %s.", id, trigger, counter))
}

func (p *Plugin) handleList(ctx context.Context, req *router.Request) error {
	rules, err := p.deps.Confronts.List(ctx, req.Chat.ChatID)
	if err != nil {
		req.Logger.Error("confront_list failed", logx.Err(err))
		return reply(ctx, req, "Could not read the rules, try again later.")
	}
	if len(rules) == 0 {
		return reply(ctx, req, "No auto-reaction rules in this chat. Add one with /confront.")
	}

	text := "<b>Auto-reaction rules</b>\n"
	for _, r := range rules {
		if r.TriggerEmoji == "" {
			text += fmt.Sprintf("• <code>#%d</code> user <code>%d</code>: every message → %s\n", r.ID, r.TargetUserID, r.CounterEmoji)
		} else {
			text += fmt.Sprintf("• <code>#%d</code> user <code>%d</code>: reaction %s → %s\n", r.ID, r.TargetUserID, r.TriggerEmoji, r.CounterEmoji)
		}
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (p *Plugin) handleRemove(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "Usage: /confront_remove <id>")
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return reply(ctx, req, "The id must be a positive number. See /confront_list.")
	}
	ok, err := p.deps.Confronts.Remove(ctx, req.Chat.ChatID, id)
	if err != nil {
		req.Logger.Error("confront_remove failed", logx.Err(err))
		return reply(ctx, req, "Could not remove the rule, try again later.")
	}
	if !ok {
		return reply(ctx, req, fmt.Sprintf("No rule #%d in this chat.", id))
	}
	return reply(ctx, req, fmt.Sprintf("Removed rule #%d.", id))
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

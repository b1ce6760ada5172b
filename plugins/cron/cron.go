// Package cron provides the recurring-message commands: /addcron,
// /listcrons and /delcron.
package cron

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"cronbot/internal/plugin"
	"cronbot/internal/schedule"
	"cronbot/internal/services/reminders"
	kit "cronbot/internal/transport"
	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

type Plugin struct {
	log  logx.Logger
	deps plugin.Deps
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "cron" }

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
			Name:        "addcron",
			Description: "schedule a recurring message",
			Usage:       "/addcron <preset> <HH:MM> <text...> [--target user_id] [--thread thread_id]",
			Access:      router.AccessEveryone,
			Handle:      p.handleAdd,
		},
		{
			Name:        "listcrons",
			Aliases:     []string{"crons"},
			Description: "list scheduled messages in this chat",
			Usage:       "/listcrons",
			Access:      router.AccessEveryone,
			Handle:      p.handleList,
		},
		{
			Name:        "delcron",
			Description: "delete a scheduled message by id",
			Usage:       "/delcron <id>",
			Access:      router.AccessEveryone,
			Handle:      p.handleDelete,
		},
	}
}

func (p *Plugin) handleAdd(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return reply(ctx, req, "Usage: "+usageAdd())
	}
	presetStr := req.Args[0]
	clock := req.Args[1]
	text := strings.Join(req.Args[2:], " ")

	threadID := req.Chat.ThreadID
	if v, ok := req.Flags["thread"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return reply(ctx, req, "--thread must be a non-negative number.")
		}
		threadID = n
	}

	targetUserID := int64(0)
	if v, ok := req.Flags["target"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return reply(ctx, req, "--target must be a positive user id.")
		}
		targetUserID = n
	}

	c, err := p.deps.Reminders.AddCron(ctx, req.Chat.ChatID, threadID, req.FromID, presetStr, clock, text, targetUserID)
	if err != nil {
		if msg, ok := friendlyScheduleError(err); ok {
			return reply(ctx, req, msg)
		}
		req.Logger.Error("addcron failed", logx.Err(err))
		return reply(ctx, req, "Could not save the schedule, try again later.")
	}

	return reply(ctx, req, fmt.Sprintf("Scheduled #%d: %s at %02d:%02d (%s).", c.ID, c.Text, c.Hour, c.Minute, c.Preset))
}

func (p *Plugin) handleList(ctx context.Context, req *router.Request) error {
	crons, err := p.deps.Reminders.ListCrons(ctx, req.Chat.ChatID)
	if err != nil {
		req.Logger.Error("listcrons failed", logx.Err(err))
		return reply(ctx, req, "Could not read the schedule list, try again later.")
	}
	if len(crons) == 0 {
		return reply(ctx, req, "No scheduled messages in this chat. Add one with /addcron.")
	}

	var b strings.Builder
	b.WriteString("<b>Scheduled messages</b>\n")
	for _, c := range crons {
		text := c.Text
		if len([]rune(text)) > 60 {
			text = string([]rune(text)[:60]) + "…"
		}
		fmt.Fprintf(&b, "• <code>#%d</code> %s %02d:%02d — %s\n", c.ID, c.Preset, c.Hour, c.Minute, html.EscapeString(text))
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, b.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (p *Plugin) handleDelete(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "Usage: /delcron <id>")
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return reply(ctx, req, "The id must be a positive number. See /listcrons.")
	}

	ok, err := p.deps.Reminders.DeleteCron(ctx, req.Chat.ChatID, id)
	if err != nil {
		req.Logger.Error("delcron failed", logx.Err(err))
		return reply(ctx, req, "Could not delete the schedule, try again later.")
	}
	if !ok {
		return reply(ctx, req, fmt.Sprintf("No scheduled message #%d in this chat.", id))
	}
	return reply(ctx, req, fmt.Sprintf("Deleted #%d.", id))
}

func usageAdd() string {
	return "/addcron <preset> <HH:MM> <text...>\nPresets: " + presetList()
}

func presetList() string {
	ps := schedule.Presets()
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}

// friendlyScheduleError maps validation errors to user-facing messages.
func friendlyScheduleError(err error) (string, bool) {
	switch {
	case errors.Is(err, schedule.ErrTimeFormat):
		return "Time must be HH:MM with leading zeros, e.g. 09:05.", true
	case errors.Is(err, schedule.ErrTimeRange):
		return "Time must be between 00:00 and 23:59.", true
	case errors.Is(err, schedule.ErrUnknownPreset):
		return "Unknown preset. Use one of: " + presetList() + ".", true
	case errors.Is(err, reminders.ErrEmptyText):
		return "The message text must not be empty.", true
	case errors.Is(err, reminders.ErrReservedText):
		return "That text is reserved, pick something else.", true
	case errors.Is(err, reminders.ErrMinutesRange):
		return "Minutes must be between 1 and 10080 (one week).", true
	}
	return "", false
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

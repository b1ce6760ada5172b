// Package phrases provides the phrase pool commands: /phrase_add,
// /phrase_list, /phrase_del and /phrase.
package phrases

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"

	"cronbot/internal/plugin"
	phrasesvc "cronbot/internal/services/phrases"
	kit "cronbot/internal/transport"
	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

type Plugin struct {
	log  logx.Logger
	deps plugin.Deps
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "phrases" }

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
			Name:        "phrase_add",
			Aliases:     []string{"addphrase"},
			Description: "add a phrase to this chat's pool",
			Usage:       "/phrase_add <text...>",
			Access:      router.AccessEveryone,
			Handle:      p.handleAdd,
		},
		{
			Name:        "phrase_list",
			Aliases:     []string{"phrases"},
			Description: "list phrases in this chat's pool",
			Usage:       "/phrase_list",
			Access:      router.AccessEveryone,
			Handle:      p.handleList,
		},
		{
			Name:        "phrase_del",
			Description: "delete a phrase by id",
			Usage:       "/phrase_del <id>",
			Access:      router.AccessEveryone,
			Handle:      p.handleDelete,
		},
		{
			Name:        "phrase",
			Description: "send a random phrase from the pool",
			Usage:       "/phrase",
			Access:      router.AccessEveryone,
			Handle:      p.handleRandom,
		},
	}
}

func (p *Plugin) handleAdd(ctx context.Context, req *router.Request) error {
	id, err := p.deps.Phrases.Add(ctx, req.Chat.ChatID, req.ArgText)
	if err != nil {
		switch {
		case errors.Is(err, phrasesvc.ErrEmptyPhrase):
			return reply(ctx, req, "Usage: /phrase_add <text>")
		case errors.Is(err, phrasesvc.ErrReservedPhrase):
			return reply(ctx, req, "That phrase is reserved, pick something else.")
		}
		req.Logger.Error("phrase_add failed", logx.Err(err))
		return reply(ctx, req, "Could not save the phrase, try again later.")
	}
	return reply(ctx, req, fmt.Sprintf("Added phrase #%d.", id))
}

func (p *Plugin) handleList(ctx context.Context, req *router.Request) error {
	list, err := p.deps.Phrases.List(ctx, req.Chat.ChatID)
	if err != nil {
		req.Logger.Error("phrase_list failed", logx.Err(err))
		return reply(ctx, req, "Could not read the phrase pool, try again later.")
	}
	if len(list) == 0 {
		return reply(ctx, req, "The phrase pool is empty. Add some with /phrase_add.")
	}

	text := "<b>Phrase pool</b>\n"
	for _, ph := range list {
		text += fmt.Sprintf("• <code>#%d</code> %s\n", ph.ID, html.EscapeString(ph.Text))
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (p *Plugin) handleDelete(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "Usage: /phrase_del <id>")
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return reply(ctx, req, "The id must be a positive number. See /phrase_list.")
	}
	ok, err := p.deps.Phrases.Delete(ctx, req.Chat.ChatID, id)
	if err != nil {
		req.Logger.Error("phrase_del failed", logx.Err(err))
		return reply(ctx, req, "Could not delete the phrase, try again later.")
	}
	if !ok {
		return reply(ctx, req, fmt.Sprintf("No phrase #%d in this chat.", id))
	}
	return reply(ctx, req, fmt.Sprintf("Deleted phrase #%d.", id))
}

func (p *Plugin) handleRandom(ctx context.Context, req *router.Request) error {
	text, ok, err := p.deps.Phrases.Random(ctx, req.Chat.ChatID)
	if err != nil {
		req.Logger.Error("phrase failed", logx.Err(err))
		return reply(ctx, req, "Could not pick a phrase, try again later.")
	}
	if !ok {
		return reply(ctx, req, "The phrase pool is empty. Add some with /phrase_add.")
	}
	return reply(ctx, req, text)
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

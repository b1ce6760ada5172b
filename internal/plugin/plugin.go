// Package plugin defines the contract between the app core and the
// command plugins registered in cmd/bot.
package plugin

import (
	"context"

	"cronbot/internal/config"
	"cronbot/internal/schedule"
	"cronbot/internal/services/confronts"
	"cronbot/internal/services/phrases"
	"cronbot/internal/services/reminders"
	"cronbot/internal/storage"
	kit "cronbot/internal/transport"
	"cronbot/internal/transport/telegram/router"
	logx "cronbot/pkg/logx"
)

// Deps is the dependency bundle handed to every plugin on Init.
type Deps struct {
	Logger    logx.Logger
	Adapter   kit.Adapter
	Store     *storage.Store
	Engine    *schedule.Engine
	Reminders *reminders.Service
	Phrases   *phrases.Service
	Confronts *confronts.Service

	// Config returns the current config snapshot (hot-reload safe).
	Config func() *config.Config
}

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []router.Command
}

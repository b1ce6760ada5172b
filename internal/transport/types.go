package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateReaction UpdateKind = "reaction"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Reaction *Reaction
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// Reaction is an emoji reaction change on a message. Telegram reaction
// updates do not carry the reacted-to message's author or thread, only the
// chat and message id.
type Reaction struct {
	ChatID       int64
	MessageID    int
	FromID       int64
	FromUsername string
	FromName     string
	Added        []string // emoji added by this change
	Removed      []string // emoji removed by this change
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyTo            int // message id to reply to (0 = none)
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// React sets the bot's emoji reaction on a message. An empty emoji
	// clears the bot's reaction.
	React(ctx context.Context, ref MessageRef, emoji string) error

	// Self returns the bot's own user id (0 until Start succeeds).
	Self() int64
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

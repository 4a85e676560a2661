// Package telegram runs the administrator bot: it long-polls the Bot API for button presses and
// commands and hands them to the bot handler.
package telegram

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"webpanel-gate/internal/bot"
	"webpanel-gate/internal/platform/logx"
)

const (
	pollTimeoutSeconds = 30
	updateTimeout      = 10 * time.Second
	helpText           = "Approve or deny panel logins with the buttons on each request.\n" +
		"To approve by code: /confirm <username> <code>"
)

// Client is the part of *tgbotapi.BotAPI the runner uses.
type Client interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Runner dispatches updates to a bot.Handler.
type Runner struct {
	client  Client
	handler *bot.Handler
	logger  *slog.Logger
}

// NewRunner returns a Runner. logger may be nil.
func NewRunner(client Client, handler *bot.Handler, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, handler: handler, logger: logger}
}

// Run polls for updates until ctx is done. Updates are handled one at a time.
func (r *Runner) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSeconds
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	updates := r.client.GetUpdatesChan(cfg)
	r.logger.Info("bot: polling for updates")
	defer r.client.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("bot: stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			r.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate handles one update.
func (r *Runner) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	log := r.logger.With("update_id", u.UpdateID)
	ctx = logx.WithContext(ctx, log)

	switch {
	case u.CallbackQuery != nil:
		r.handleCallback(ctx, log, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand():
		r.handleCommand(ctx, log, u.Message)
	}
}

func (r *Runner) handleCallback(ctx context.Context, log *slog.Logger, q *tgbotapi.CallbackQuery) {
	reply := r.handler.HandleCallback(ctx, actorOf(q.From), q.Data)
	if _, err := r.client.Request(tgbotapi.NewCallback(q.ID, reply.Answer)); err != nil {
		log.Warn("bot: answer callback failed", "error", err)
	}
	if reply.Edit == "" || q.Message == nil || q.Message.Chat == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, reply.Edit)
	if _, err := r.client.Request(edit); err != nil {
		log.Warn("bot: edit message failed", "error", err)
	}
}

func (r *Runner) handleCommand(ctx context.Context, log *slog.Logger, m *tgbotapi.Message) {
	if m.Chat == nil {
		return
	}
	var text string
	switch m.Command() {
	case "confirm":
		text = r.handler.HandleConfirm(ctx, actorOf(m.From), m.CommandArguments()).Answer
	case "start", "help":
		text = helpText
	default:
		return
	}
	if _, err := r.client.Send(tgbotapi.NewMessage(m.Chat.ID, text)); err != nil {
		log.Warn("bot: reply failed", "error", err)
	}
}

func actorOf(u *tgbotapi.User) bot.Actor {
	if u == nil {
		return bot.Actor{}
	}
	return bot.Actor{ID: u.ID, Username: u.UserName, Name: u.FirstName}
}

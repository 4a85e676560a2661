// Package telegram sends login approval requests to administrator chats with inline approve/deny
// buttons, and defines the callback data the bot parses back.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"webpanel-gate/internal/mfa/domain"
	"webpanel-gate/internal/notifier"
)

// Callback data prefixes carried by the inline buttons. "auth_confirm:" plus a UUID is 49 bytes,
// inside Telegram's 64-byte limit.
const (
	CallbackConfirmPrefix = "auth_confirm:"
	CallbackDenyPrefix    = "auth_deny:"
)

// CallbackData returns the button payload for decision on token.
func CallbackData(decision domain.Decision, token string) string {
	if decision == domain.DecisionDeny {
		return CallbackDenyPrefix + token
	}
	return CallbackConfirmPrefix + token
}

// ParseCallback reverses CallbackData.
func ParseCallback(data string) (domain.Decision, string, bool) {
	switch {
	case strings.HasPrefix(data, CallbackConfirmPrefix):
		token := strings.TrimPrefix(data, CallbackConfirmPrefix)
		return domain.DecisionApprove, token, token != ""
	case strings.HasPrefix(data, CallbackDenyPrefix):
		token := strings.TrimPrefix(data, CallbackDenyPrefix)
		return domain.DecisionDeny, token, token != ""
	}
	return "", "", false
}

// Client is the part of *tgbotapi.BotAPI used to send and edit messages.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender implements notifier.Sender for Telegram chats. The address is the numeric chat ID.
type Sender struct {
	client Client
}

var _ notifier.Sender = (*Sender)(nil)

// NewSender returns a Sender using client.
func NewSender(client Client) *Sender {
	return &Sender{client: client}
}

// botHTTPTimeout bounds every Bot API call. It must stay above the runner's long-poll timeout (30s)
// or getUpdates would always fail.
var botHTTPTimeout = 45 * time.Second

// NewBotAPI connects to the Bot API. endpoint may be empty for the public API; it takes the
// tgbotapi format with two %s verbs (token, method). A nil httpClient gets one with botHTTPTimeout.
func NewBotAPI(token, endpoint string, httpClient *http.Client) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: botHTTPTimeout}
	}
	return tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
}

// Send posts the verification message to chat address. The Bot API client has no context support,
// so the call runs in a goroutine and Send returns when ctx is done.
func (s *Sender) Send(ctx context.Context, address string, req notifier.Request) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return notifier.Permanent(fmt.Errorf("telegram: bad chat id %q: %w", address, err))
	}
	msg := NewVerificationMessage(chatID, req)

	done := make(chan error, 1)
	go func() {
		_, err := s.client.Send(msg)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return classify(err)
	}
}

// NewVerificationMessage builds the Markdown message with the approve/deny keyboard.
func NewVerificationMessage(chatID int64, req notifier.Request) tgbotapi.MessageConfig {
	text := fmt.Sprintf("🔐 *WebPanel Login Verification*\n\nUser: `%s`\nIP: `%s`\nCode: `%s`",
		escape(req.Username), escape(req.ClientIP), req.Code)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm Login", CallbackData(domain.DecisionApprove, req.Token)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", CallbackData(domain.DecisionDeny, req.Token)),
		),
	)
	return msg
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
		return notifier.Permanent(err)
	}
	return err
}

func escape(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

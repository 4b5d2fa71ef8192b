// Package telegram adapts the Telegram Bot API to notify.Sender.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"regdesk/internal/notify"
	"regdesk/pkg/domain"
)

// defaultRetryAfter applies when a 429 arrives without retry_after.
const defaultRetryAfter = time.Second

// API is the slice of *tgbotapi.BotAPI the sender needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Sender struct {
	api API
}

func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// Send delivers msg as a plain text message with an optional row of inline
// buttons.
func (s *Sender) Send(ctx context.Context, to domain.PrincipalID, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := tgbotapi.NewMessage(int64(to), msg.Text)
	if len(msg.Buttons) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	_, err := s.api.Send(out)
	return Classify(err)
}

// Classify maps Bot API failures onto the notify error contract.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = defaultRetryAfter
		}
		return &notify.ThrottledError{RetryAfter: wait}
	case apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%s: %w", apiErr.Message, notify.ErrUndeliverable)
	case apiErr.Code == http.StatusBadRequest && isGoneRecipient(apiErr.Message):
		return fmt.Errorf("%s: %w", apiErr.Message, notify.ErrUndeliverable)
	}
	return err
}

func isGoneRecipient(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "chat not found") ||
		strings.Contains(msg, "user is deactivated") ||
		strings.Contains(msg, "peer_id_invalid")
}

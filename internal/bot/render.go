package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	convmodels "regdesk/internal/conversation/models"
	"regdesk/pkg/domain"
)

const shareContactLabel = "Share contact"

// renderReply turns a conversation reply into a message with a reply
// keyboard: one option per row, or a contact request button.
func renderReply(to domain.PrincipalID, reply convmodels.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(int64(to), reply.Text)
	switch {
	case reply.RequestContact:
		kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonContact(shareContactLabel),
		))
		kb.OneTimeKeyboard = true
		kb.ResizeKeyboard = true
		msg.ReplyMarkup = kb
	case len(reply.Options) > 0:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(reply.Options))
		for _, opt := range reply.Options {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(opt)))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.OneTimeKeyboard = true
		kb.ResizeKeyboard = true
		msg.ReplyMarkup = kb
	case reply.RemoveKeyboard:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	return msg
}

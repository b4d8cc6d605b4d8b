package gateway

import (
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements Gateway over the Bot API.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(token string, debug bool) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to bot api: %w", err)
	}
	api.Debug = debug
	log.Printf("[Gateway] Authorized as @%s\n", api.Self.UserName)
	return &Telegram{api: api}, nil
}

// Updates returns the long-polling update channel.
func (t *Telegram) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	return t.api.GetUpdatesChan(u)
}

func (t *Telegram) SendText(chatID int64, text string, buttons ...Button) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = keyboard(buttons)
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, wrapSendErr(err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) EditText(chatID int64, messageID int, text string, buttons ...Button) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if len(buttons) > 0 {
		kb := keyboard(buttons)
		edit.ReplyMarkup = &kb
	}
	if _, err := t.api.Send(edit); err != nil {
		return wrapSendErr(err)
	}
	return nil
}

func keyboard(buttons []Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// wrapSendErr maps "bot was blocked" style failures to ErrUnreachable so
// broadcasts can skip the recipient instead of failing outright.
func wrapSendErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "blocked") || strings.Contains(msg, "deactivated") ||
		strings.Contains(msg, "chat not found") {
		return fmt.Errorf("%w: %s", ErrUnreachable, msg)
	}
	return err
}

package bot

import (
	"context"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"storyfold/internal/game"
	"storyfold/internal/gateway"
)

// Bot consumes Telegram updates on a single loop and feeds them to the
// router. One update is fully handled before the next is read, which
// keeps per-room handling serialized with the room locks doing the rest.
type Bot struct {
	tg     *gateway.Telegram
	router *Router
}

func New(tg *gateway.Telegram, router *Router) *Bot {
	return &Bot{tg: tg, router: router}
}

func (b *Bot) Run(ctx context.Context) error {
	updates := b.tg.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil {
			return
		}
		id := identityFrom(msg.From, msg.Chat.ID)
		var reply string
		if msg.IsCommand() {
			reply = b.router.HandleCommand(ctx, id, msg.Command(), msg.CommandArguments())
		} else {
			reply = b.router.HandleText(ctx, id, msg.Text)
		}
		b.reply(msg.Chat.ID, reply)
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil {
			return
		}
		id := identityFrom(cb.From, cb.Message.Chat.ID)
		command, args, _ := strings.Cut(cb.Data, " ")
		b.reply(cb.Message.Chat.ID, b.router.HandleCommand(ctx, id, command, args))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.tg.SendText(chatID, text); err != nil {
		log.Printf("[Bot] reply failed: %v\n", err)
	}
}

func identityFrom(user *tgbotapi.User, chatID int64) game.Identity {
	name := user.FirstName
	if name == "" {
		name = user.UserName
	}
	return game.Identity{UserID: user.ID, ChatID: chatID, Name: name}
}

// Package gateway abstracts the chat platform: sending and editing plain
// text messages with optional inline buttons.
package gateway

import "errors"

// ErrUnreachable means one recipient cannot be delivered to (blocked the
// bot, deleted their account). Broadcast loops catch it per recipient.
var ErrUnreachable = errors.New("recipient unreachable")

// Button is an inline keyboard button; Data travels back in the callback.
type Button struct {
	Label string
	Data  string
}

type Gateway interface {
	// SendText delivers text to a chat and returns the platform message id.
	SendText(chatID int64, text string, buttons ...Button) (int, error)
	// EditText rewrites a previously sent message in place.
	EditText(chatID int64, messageID int, text string, buttons ...Button) error
}

package webhook

import (
	"strings"

	"github.com/bikastore/backend/internal/telegram"
)

// Inbound updates are decoded once, at the boundary, into exactly one of the
// variants below. The dispatcher matches on the variant; nothing downstream
// re-inspects the raw envelope.

type Event interface{ event() }

// CommandEvent is a slash command, e.g. "/start web_abc".
type CommandEvent struct {
	ChatID  int64
	Handle  string
	Name    string
	Payload string
}

// TextEvent is plain customer text feeding the conversation tracker.
type TextEvent struct {
	ChatID int64
	Handle string
	Text   string
}

// CallbackEvent is an inline button press. Action is the prefix before the
// first colon, Arg the remainder.
type CallbackEvent struct {
	QueryID string
	ChatID  int64
	Handle  string
	Action  string
	Arg     string
}

// PhotoEvent is an uploaded photo; FileID references the largest size.
type PhotoEvent struct {
	ChatID int64
	Handle string
	FileID string
}

func (CommandEvent) event()  {}
func (TextEvent) event()     {}
func (CallbackEvent) event() {}
func (PhotoEvent) event()    {}

// Decode classifies an update. A nil result means the update carries nothing
// this service reacts to (edits, stickers, joins, ...), which the caller
// acknowledges and drops.
func Decode(update telegram.Update) Event {
	if q := update.CallbackQuery; q != nil {
		action, arg, _ := strings.Cut(q.Data, ":")
		var chatID int64
		if q.Message != nil {
			chatID = q.Message.Chat.ID
		}
		return CallbackEvent{
			QueryID: q.ID,
			ChatID:  chatID,
			Handle:  q.From.Username,
			Action:  action,
			Arg:     arg,
		}
	}

	msg := update.Message
	if msg == nil {
		return nil
	}

	handle := ""
	if msg.From != nil {
		handle = msg.From.Username
	}

	if len(msg.Photo) > 0 {
		return PhotoEvent{
			ChatID: msg.Chat.ID,
			Handle: handle,
			FileID: msg.Photo[len(msg.Photo)-1].FileID,
		}
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "/") {
		name, payload, _ := strings.Cut(text[1:], " ")
		// Commands in groups arrive as "/start@BotName".
		name, _, _ = strings.Cut(name, "@")
		return CommandEvent{
			ChatID:  msg.Chat.ID,
			Handle:  handle,
			Name:    name,
			Payload: strings.TrimSpace(payload),
		}
	}

	return TextEvent{ChatID: msg.Chat.ID, Handle: handle, Text: text}
}

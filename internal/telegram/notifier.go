// Package telegram reports room activity to an operator chat and answers
// operator commands through the Telegram Bot API.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"roomrelay/backend/internal/localization"
	"roomrelay/backend/internal/log"
)

// Sender is the part of *tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type EventKind string

const (
	EventRoomPaid EventKind = "room_paid"
	EventRoomFree EventKind = "room_free"
)

// RoomEvent is something operators hear about.
type RoomEvent struct {
	Kind   EventKind
	RoomID string
	Wallet string
	TxHash string
}

// Notifier posts RoomEvents to one chat from a background goroutine so
// request handlers never wait on Telegram.
type Notifier struct {
	sender Sender
	chatID int64
	events chan RoomEvent
	loc    *localization.Localizer
	lang   string
	log    zerolog.Logger
}

func NewNotifier(sender Sender, chatID int64, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{
		sender: sender,
		chatID: chatID,
		events: make(chan RoomEvent, buffer),
		loc:    localization.Default(),
		lang:   localization.DefaultLang,
		log:    log.L().With().Str("component", "telegram").Logger(),
	}
}

// Notify queues ev. Events are dropped when the queue is full.
func (n *Notifier) Notify(ev RoomEvent) {
	select {
	case n.events <- ev:
	default:
		n.log.Warn().Str(log.FieldRoomID, ev.RoomID).Str("kind", string(ev.Kind)).Msg("notification queue full, dropping event")
	}
}

// Run sends queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			n.send(ev)
		}
	}
}

func (n *Notifier) send(ev RoomEvent) {
	var text string
	switch ev.Kind {
	case EventRoomPaid:
		text = n.loc.Format(n.lang, "notify.room_paid", escapeMarkdown(ev.RoomID), ev.Wallet, ev.TxHash)
	case EventRoomFree:
		text = n.loc.Format(n.lang, "notify.room_free", escapeMarkdown(ev.RoomID))
	default:
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.sender.Send(msg); err != nil {
		n.log.Error().Err(err).Str(log.FieldRoomID, ev.RoomID).Msg("failed to send telegram notification")
	}
}

// escapeMarkdown escapes the characters legacy Markdown treats as markup.
func escapeMarkdown(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '_', '*', '`', '[':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

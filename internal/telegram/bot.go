package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/models"
)

// RoomDirectory answers registry questions. registry.Registry implements it.
type RoomDirectory interface {
	Has(ctx context.Context, roomID string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// LiveStats reports statistics of running sessions. chathub.ManagerService
// implements it.
type LiveStats interface {
	RoomStats(roomID string) (models.RoomStats, bool, error)
}

// API is the part of *tgbotapi.BotAPI the bot loop needs.
type API interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot answers /rooms and /room commands in the operator chat. Messages from
// any other chat are ignored.
type Bot struct {
	api      API
	chatID   int64
	rooms    RoomDirectory
	live     LiveStats
	Notifier *Notifier
}

// New connects to Telegram with cfg.BotToken.
func New(cfg config.TelegramConfig, rooms RoomDirectory, live LiveStats) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = false
	log.L().Info().Str("account", api.Self.UserName).Msg("telegram bot authorized")
	return NewBot(api, cfg.ChatID, rooms, live), nil
}

func NewBot(api API, chatID int64, rooms RoomDirectory, live LiveStats) *Bot {
	return &Bot{
		api:      api,
		chatID:   chatID,
		rooms:    rooms,
		live:     live,
		Notifier: NewNotifier(api, chatID, 0),
	}
}

// Run drives the notifier and the update loop until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	go b.Notifier.Run(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes one update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Chat.ID != b.chatID {
		return
	}

	var text string
	switch msg.Command() {
	case "rooms":
		text = b.listRooms(ctx)
	case "room":
		text = b.describeRoom(ctx, strings.TrimSpace(msg.CommandArguments()))
	default:
		text = b.Notifier.loc.GetString(b.Notifier.lang, "bot.usage")
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(reply); err != nil {
		log.L().Error().Err(err).Str("command", msg.Command()).Msg("failed to answer telegram command")
	}
}

func (b *Bot) listRooms(ctx context.Context) string {
	loc, lang := b.Notifier.loc, b.Notifier.lang
	rooms, err := b.rooms.List(ctx)
	if err != nil {
		log.L().Error().Err(err).Msg("telegram: list rooms failed")
		return loc.GetString(lang, "internal error")
	}
	if len(rooms) == 0 {
		return loc.GetString(lang, "bot.no_rooms")
	}
	escaped := make([]string, len(rooms))
	for i, r := range rooms {
		escaped[i] = escapeMarkdown(r)
	}
	return loc.Format(lang, "bot.rooms", len(rooms), strings.Join(escaped, "\n"))
}

func (b *Bot) describeRoom(ctx context.Context, roomID string) string {
	loc, lang := b.Notifier.loc, b.Notifier.lang
	if roomID == "" {
		return loc.GetString(lang, "bot.usage")
	}

	registered, err := b.rooms.Has(ctx, roomID)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldRoomID, roomID).Msg("telegram: room lookup failed")
		return loc.GetString(lang, "internal error")
	}
	if !registered {
		return loc.Format(lang, "bot.unknown_room", escapeMarkdown(roomID))
	}

	stats, live, err := b.live.RoomStats(roomID)
	if err != nil || !live {
		return loc.Format(lang, "bot.room_idle", escapeMarkdown(roomID))
	}
	return loc.Format(lang, "bot.room_stats", escapeMarkdown(roomID), stats.TotalMessages, stats.OnlineUsers, stats.TotalVisitors)
}

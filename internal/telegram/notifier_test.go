package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestNotifier_SendsEvents(t *testing.T) {
	// Arrange
	api := newFakeAPI()
	n := NewNotifier(api, operatorChat, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	// Act
	n.Notify(RoomEvent{Kind: EventRoomPaid, RoomID: "0xabc_def", Wallet: "0x1111", TxHash: "0x2222"})
	n.Notify(RoomEvent{Kind: EventRoomFree, RoomID: "lobby"})
	n.Notify(RoomEvent{Kind: "mystery", RoomID: "lobby"})

	// Assert
	assert.Eventually(t, func() bool { return len(api.texts()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"💰 Room *0xabc\\_def* paid\nwallet: `0x1111`\ntx: `0x2222`",
		"🆓 Free room *lobby* created",
	}, api.texts())

	api.mu.Lock()
	for _, m := range api.sent {
		assert.Equal(t, tgbotapi.ModeMarkdown, m.ParseMode)
	}
	api.mu.Unlock()
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	api := newFakeAPI()
	n := NewNotifier(api, operatorChat, 1)

	n.Notify(RoomEvent{Kind: EventRoomFree, RoomID: "a"})
	n.Notify(RoomEvent{Kind: EventRoomFree, RoomID: "b"})

	assert.Len(t, n.events, 1)
}

func TestNotifier_SendErrorIsLogged(t *testing.T) {
	api := newFakeAPI()
	api.err = errors.New("bot was blocked")
	n := NewNotifier(api, operatorChat, 1)

	assert.NotPanics(t, func() { n.send(RoomEvent{Kind: EventRoomFree, RoomID: "a"}) })
	assert.Empty(t, api.texts())
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c\`+"`"+`d\[e]`, escapeMarkdown("a_b*c`d[e]"))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
}

package gardenchat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	t.Run("fails fast when never connected", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))
		ctx := context.Background()

		msg, err := NewChatMessage("fern", "hello", "general")
		require.NoError(t, err)
		assert.ErrorIs(t, c.PublishMessage(ctx, msg), ErrNotConnected)
		assert.ErrorIs(t, c.PublishTyping(ctx, "fern", "general"), ErrNotConnected)
		assert.ErrorIs(t, c.PublishPresence(ctx, "fern"), ErrNotConnected)
		assert.ErrorIs(t, c.PublishOffline(ctx, "fern"), ErrNotConnected)
	})

	t.Run("fails fast after disconnect without writing", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))
		connectTestClient(t, c, "fern")
		require.NoError(t, c.Disconnect())

		msg, _ := NewChatMessage("fern", "hello", "general")
		assert.ErrorIs(t, c.PublishMessage(context.Background(), msg), ErrNotConnected)
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, b.received(cmdSend))
	})

	t.Run("fails fast while reconnecting", func(t *testing.T) {
		b := newFakeBroker(t)
		b.setMode(brokerReject)
		cfg := testConfig(b)
		cfg.Retry.Delay = time.Second
		c := newTestClient(t, cfg)
		_, err := c.Connect(context.Background(), Credentials{Username: "fern"})
		require.Error(t, err)
		require.Equal(t, StateReconnecting, c.State())

		assert.ErrorIs(t, c.PublishPresence(context.Background(), "fern"), ErrNotConnected)
	})

	t.Run("writes SEND frames to application destinations", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))
		connectTestClient(t, c, "fern")
		ctx := context.Background()

		msg, err := NewChatMessage("fern", "repot the monstera", "plant-care")
		require.NoError(t, err)
		require.NoError(t, c.PublishMessage(ctx, msg))
		require.NoError(t, c.PublishTyping(ctx, "fern", "general"))
		require.NoError(t, c.PublishPresence(ctx, "fern"))
		require.NoError(t, c.PublishOffline(ctx, "fern"))

		require.Eventually(t, func() bool { return len(b.received(cmdSend)) == 4 }, time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{
			"/app/chat/plant-care",
			"/app/typing/general",
			"/app/online",
			"/app/offline",
		}, b.destinations(cmdSend))

		sends := b.received(cmdSend)
		for _, f := range sends {
			assert.Equal(t, contentTypeJSON, f.Header.Get(hdrContentType))
		}

		var gotMsg ChatMessage
		require.NoError(t, json.Unmarshal(sends[0].Body, &gotMsg))
		assert.Equal(t, msg.Sender, gotMsg.Sender)
		assert.Equal(t, msg.Content, gotMsg.Content)
		assert.Equal(t, "plant-care", gotMsg.Group)

		assert.JSONEq(t, `{"username":"fern","group":"general"}`, string(sends[1].Body))
		assert.JSONEq(t, `{"username":"fern"}`, string(sends[2].Body))
		assert.JSONEq(t, `{"username":"fern"}`, string(sends[3].Body))
	})

	t.Run("rejects an empty group", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))
		connectTestClient(t, c, "fern")

		assert.ErrorIs(t, c.PublishMessage(context.Background(), ChatMessage{Sender: "fern", Content: "x"}), ErrEmptyGroup)
		assert.ErrorIs(t, c.PublishTyping(context.Background(), "fern", " "), ErrEmptyGroup)
		_, err := NewChatMessage("fern", "x", "")
		assert.ErrorIs(t, err, ErrEmptyGroup)
	})
}

package gardenchat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		dest  string
		kind  TopicKind
		group string
		ok    bool
	}{
		{"/topic/messages/general", KindMessages, "general", true},
		{"/topic/typing/plant-care", KindTyping, "plant-care", true},
		{"/topic/online-users", KindOnlineUsers, "", true},
		{"/topic/", "", "", false},
		{"/topic/weather/general", "", "", false},
		{"/queue/messages/general", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			kind, group, ok := parseTopic(tt.dest)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.group, group)
		})
	}

	assert.Equal(t, "/topic/messages/general", topicDestination(KindMessages, "general"))
	assert.Equal(t, "/topic/online-users", topicDestination(KindOnlineUsers, ""))
	assert.Equal(t, "/app/chat/general", appDestination(publishChat, "general"))
	assert.Equal(t, "/app/offline", appDestination(publishOffline, ""))
}

func TestTimestamp(t *testing.T) {
	t.Run("decodes server formats", func(t *testing.T) {
		want := time.Date(2024, 5, 1, 10, 30, 15, 500_000_000, time.UTC)
		for name, raw := range map[string]string{
			"rfc3339": `"2024-05-01T10:30:15.5Z"`,
			"local":   `"2024-05-01T10:30:15.5"`,
			"array":   `[2024,5,1,10,30,15,500000000]`,
		} {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(raw), &ts), name)
			assert.True(t, want.Equal(ts.Time), "%s: got %s", name, ts.Time)
		}
	})

	t.Run("short array fills zeros", func(t *testing.T) {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(`[2024,5,1]`), &ts))
		assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), ts.Time)

		assert.Error(t, json.Unmarshal([]byte(`[2024,5]`), &ts))
	})

	t.Run("null is zero", func(t *testing.T) {
		ts := Timestamp{Time: time.Now()}
		require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
		assert.True(t, ts.IsZero())

		out, err := json.Marshal(Timestamp{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(out))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		var ts Timestamp
		assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
		assert.Error(t, json.Unmarshal([]byte(`true`), &ts))
	})

	t.Run("encodes as RFC 3339 UTC", func(t *testing.T) {
		ts := Timestamp{Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))}
		out, err := json.Marshal(ts)
		require.NoError(t, err)
		assert.Equal(t, `"2024-05-01T10:00:00Z"`, string(out))
	})
}

func TestDecodeChatMessage(t *testing.T) {
	msg, err := decodeChatMessage([]byte(`{"sender":"moss","content":"hi","group":" general ","timestamp":null}`))
	require.NoError(t, err)
	assert.Equal(t, "general", msg.Group)
	assert.True(t, msg.Timestamp.IsZero())

	_, err = decodeChatMessage([]byte(`{"sender":"moss","content":"hi"}`))
	assert.ErrorIs(t, err, ErrEmptyGroup)

	_, err = decodeChatMessage([]byte(`["not","a","message"]`))
	assert.Error(t, err)
}

func TestDecodePresence(t *testing.T) {
	p, err := decodePresence([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, p.Users)
	assert.Empty(t, p.Users)

	_, err = decodePresence([]byte(`{"users":[]}`))
	assert.Error(t, err)
}

func TestDecodeTyping(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		group   string
		want    TypingSignal
		wantErr bool
	}{
		{name: "object", body: `{"username":"moss","group":"plant-care"}`, group: "general", want: TypingSignal{"moss", "plant-care"}},
		{name: "object without group", body: `{"username":"moss"}`, group: "general", want: TypingSignal{"moss", "general"}},
		{name: "json string", body: `"ivy"`, group: "general", want: TypingSignal{"ivy", "general"}},
		{name: "plain text", body: " sage\n", group: "general", want: TypingSignal{"sage", "general"}},
		{name: "empty body", body: "", group: "general", wantErr: true},
		{name: "no group anywhere", body: `"ivy"`, group: "", wantErr: true},
		{name: "broken object", body: `{"username":`, group: "general", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeTyping([]byte(tt.body), tt.group)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPresenceContains(t *testing.T) {
	p := PresenceUpdate{Users: []string{"fern", "moss"}}
	assert.True(t, p.Contains("moss"))
	assert.False(t, p.Contains("ivy"))
	assert.False(t, PresenceUpdate{}.Contains("fern"))
}

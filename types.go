package gardenchat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Topics
// ============================================================================

// TopicKind names a category of broker-delivered frames.
type TopicKind string

const (
	KindMessages    TopicKind = "messages"
	KindOnlineUsers TopicKind = "online-users"
	KindTyping      TopicKind = "typing"
)

// grouped reports whether topics of this kind are addressed per chat group.
func (k TopicKind) grouped() bool {
	return k == KindMessages || k == KindTyping
}

func (k TopicKind) valid() bool {
	switch k {
	case KindMessages, KindOnlineUsers, KindTyping:
		return true
	}
	return false
}

// Application destinations the broker routes to its message handlers.
const (
	publishChat    = "chat"
	publishTyping  = "typing"
	publishOnline  = "online"
	publishOffline = "offline"
)

const (
	topicPrefix = "/topic/"
	appPrefix   = "/app/"
)

func topicDestination(kind TopicKind, group string) string {
	if group == "" {
		return topicPrefix + string(kind)
	}
	return topicPrefix + string(kind) + "/" + group
}

func appDestination(kind, group string) string {
	if group == "" {
		return appPrefix + kind
	}
	return appPrefix + kind + "/" + group
}

// parseTopic splits "/topic/<kind>[/<group>]" into its parts.
func parseTopic(destination string) (TopicKind, string, bool) {
	rest, ok := strings.CutPrefix(destination, topicPrefix)
	if !ok || rest == "" {
		return "", "", false
	}
	kindPart, group, _ := strings.Cut(rest, "/")
	kind := TopicKind(kindPart)
	if !kind.valid() {
		return "", "", false
	}
	return kind, group, true
}

func normalizeGroup(group string) string {
	return strings.TrimSpace(group)
}

// ============================================================================
// Payloads
// ============================================================================

// ChatMessage is a message posted to a chat group. Values are passed by copy
// and never mutated after construction; Group is always non-empty.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Group     string    `json:"group"`
	Timestamp Timestamp `json:"timestamp"`
}

// NewChatMessage builds an outbound message for group.
func NewChatMessage(sender, content, group string) (ChatMessage, error) {
	group = normalizeGroup(group)
	if group == "" {
		return ChatMessage{}, ErrEmptyGroup
	}
	return ChatMessage{Sender: sender, Content: content, Group: group}, nil
}

// PresenceUpdate is the full set of users currently online. Each update
// replaces the previous one.
type PresenceUpdate struct {
	Users []string
}

// Contains reports whether username is online.
func (p PresenceUpdate) Contains(username string) bool {
	for _, u := range p.Users {
		if u == username {
			return true
		}
	}
	return false
}

// TypingSignal is the wire form of a "user is typing" notification.
type TypingSignal struct {
	Username string `json:"username"`
	Group    string `json:"group"`
}

// TypingEvent is delivered to typing subscribers. Active is false once the
// display window for the group's last signal has elapsed.
type TypingEvent struct {
	Username string
	Group    string
	Active   bool
}

type presenceBeacon struct {
	Username string `json:"username"`
}

// Delivery is what a subscription Handler receives. Only the payload field
// matching Kind is populated.
type Delivery struct {
	Kind     TopicKind
	Group    string
	Message  ChatMessage
	Presence PresenceUpdate
	Typing   TypingEvent
}

// Handler receives deliveries for one subscription.
type Handler func(Delivery)

// ============================================================================
// Timestamp
// ============================================================================

// localDateTimeLayout matches an ISO-8601 date-time without zone, which is how
// the broker serializes server-side timestamps.
const localDateTimeLayout = "2006-01-02T15:04:05.999999999"

// Timestamp is a message time that decodes RFC 3339 strings, zone-less
// ISO-8601 strings and [y,m,d,h,m,s,ns] arrays. Zone-less values are UTC.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*t = Timestamp{}
		return nil
	}

	if s[0] == '[' {
		var parts []int
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("timestamp array: %w", err)
		}
		if len(parts) < 3 {
			return fmt.Errorf("timestamp array: need at least 3 fields, got %d", len(parts))
		}
		fields := make([]int, 7)
		copy(fields, parts)
		t.Time = time.Date(fields[0], time.Month(fields[1]), fields[2],
			fields[3], fields[4], fields[5], fields[6], time.UTC)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range []string{time.RFC3339Nano, localDateTimeLayout} {
		if parsed, err := time.Parse(layout, str); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp %q: unrecognized format", str)
}

// ============================================================================
// Decoding
// ============================================================================

func decodeChatMessage(body []byte) (ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return ChatMessage{}, err
	}
	msg.Group = normalizeGroup(msg.Group)
	if msg.Group == "" {
		return ChatMessage{}, ErrEmptyGroup
	}
	return msg, nil
}

func decodePresence(body []byte) (PresenceUpdate, error) {
	var users []string
	if err := json.Unmarshal(body, &users); err != nil {
		return PresenceUpdate{}, err
	}
	if users == nil {
		users = []string{}
	}
	return PresenceUpdate{Users: users}, nil
}

// decodeTyping accepts {"username","group"} objects as well as a bare
// username (JSON string or plain text); the destination group fills in a
// missing group.
func decodeTyping(body []byte, destGroup string) (TypingSignal, error) {
	var sig TypingSignal
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		if err := json.Unmarshal(body, &sig); err != nil {
			return TypingSignal{}, err
		}
	case strings.HasPrefix(trimmed, `"`):
		if err := json.Unmarshal(body, &sig.Username); err != nil {
			return TypingSignal{}, err
		}
	default:
		sig.Username = trimmed
	}

	sig.Username = strings.TrimSpace(sig.Username)
	sig.Group = normalizeGroup(sig.Group)
	if sig.Group == "" {
		sig.Group = normalizeGroup(destGroup)
	}
	if sig.Username == "" {
		return TypingSignal{}, fmt.Errorf("typing signal without username")
	}
	if sig.Group == "" {
		return TypingSignal{}, ErrEmptyGroup
	}
	return sig, nil
}

// Package relay mirrors chat traffic received by a gardenchat client into an
// AMQP topic exchange.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	gardenchat "github.com/KhaoticNeutral/gardenchat-go"
)

const (
	KindMessage  = "message"
	KindTyping   = "typing"
	KindPresence = "presence"
)

// Envelope is the JSON document published for every relayed delivery.
type Envelope struct {
	Kind     string    `json:"kind"`
	Group    string    `json:"group,omitempty"`
	Sender   string    `json:"sender,omitempty"`
	Content  string    `json:"content,omitempty"`
	Active   bool      `json:"active,omitempty"`
	Users    []string  `json:"users,omitempty"`
	SentAt   time.Time `json:"sentAt,omitzero"`
	Received time.Time `json:"receivedAt"`
}

// RoutingKey is "chat.<group>", "typing.<group>" or "presence".
func (e Envelope) RoutingKey() string {
	switch e.Kind {
	case KindMessage:
		return "chat." + e.Group
	case KindTyping:
		return "typing." + e.Group
	default:
		return KindPresence
	}
}

// ErrAlreadySubscribed is returned by Attach when the source already holds a
// subscription the bridge would need. The client keeps the first handler for
// a key, so the bridge must own every key it relays.
var ErrAlreadySubscribed = errors.New("relay: key already subscribed on source")

// Source is the subset of *gardenchat.Client the bridge subscribes through.
type Source interface {
	Subscriptions() []gardenchat.SubscriptionInfo
	SubscribeMessages(group string, h func(gardenchat.ChatMessage)) (*gardenchat.Subscription, error)
	SubscribeTyping(group string, h func(gardenchat.TypingEvent)) (*gardenchat.Subscription, error)
	SubscribePresence(h func(gardenchat.PresenceUpdate)) (*gardenchat.Subscription, error)
}

// Options tunes a Bridge.
type Options struct {
	Typing         bool
	Presence       bool
	QueueSize      int
	PublishTimeout time.Duration
}

// Bridge forwards deliveries to a Publisher. Handlers only enqueue; Run does
// the publishing, so a slow exchange never stalls the client's dispatch.
type Bridge struct {
	pub     Publisher
	log     *zap.Logger
	opts    Options
	queue   chan Envelope
	subs    []*gardenchat.Subscription
	dropped atomic.Int64
	sent    atomic.Int64
	now     func() time.Time
}

// NewBridge creates a bridge publishing to pub.
func NewBridge(pub Publisher, log *zap.Logger, opts Options) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Bridge{
		pub:   pub,
		log:   log,
		opts:  opts,
		queue: make(chan Envelope, opts.QueueSize),
		now:   time.Now,
	}
}

// Attach subscribes to the given groups on src. Nothing is subscribed when
// any of the needed keys is already registered on src.
func (b *Bridge) Attach(src Source, groups ...string) error {
	if len(groups) == 0 {
		return errors.New("relay: at least one group is required")
	}
	if err := b.checkFree(src, groups); err != nil {
		return err
	}
	for _, g := range groups {
		sub, err := src.SubscribeMessages(g, b.onMessage)
		if err != nil {
			return fmt.Errorf("relay messages %s: %w", g, err)
		}
		b.subs = append(b.subs, sub)
		if b.opts.Typing {
			sub, err := src.SubscribeTyping(g, b.onTyping)
			if err != nil {
				return fmt.Errorf("relay typing %s: %w", g, err)
			}
			b.subs = append(b.subs, sub)
		}
	}
	if b.opts.Presence {
		sub, err := src.SubscribePresence(b.onPresence)
		if err != nil {
			return fmt.Errorf("relay presence: %w", err)
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

func (b *Bridge) checkFree(src Source, groups []string) error {
	taken := make(map[gardenchat.SubscriptionKey]bool)
	for _, info := range src.Subscriptions() {
		taken[info.Key] = true
	}
	var want []gardenchat.SubscriptionKey
	for _, g := range groups {
		g = strings.TrimSpace(g)
		want = append(want, gardenchat.SubscriptionKey{Kind: gardenchat.KindMessages, Group: g})
		if b.opts.Typing {
			want = append(want, gardenchat.SubscriptionKey{Kind: gardenchat.KindTyping, Group: g})
		}
	}
	if b.opts.Presence {
		want = append(want, gardenchat.SubscriptionKey{Kind: gardenchat.KindOnlineUsers})
	}
	for _, k := range want {
		if taken[k] {
			return fmt.Errorf("%w: %s", ErrAlreadySubscribed, k)
		}
	}
	return nil
}

// Detach drops every subscription the bridge created.
func (b *Bridge) Detach() {
	for _, sub := range b.subs {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}
	b.subs = nil
}

func (b *Bridge) onMessage(m gardenchat.ChatMessage) {
	b.enqueue(Envelope{
		Kind:    KindMessage,
		Group:   m.Group,
		Sender:  m.Sender,
		Content: m.Content,
		SentAt:  m.Timestamp.Time,
	})
}

func (b *Bridge) onTyping(ev gardenchat.TypingEvent) {
	b.enqueue(Envelope{Kind: KindTyping, Group: ev.Group, Sender: ev.Username, Active: ev.Active})
}

func (b *Bridge) onPresence(p gardenchat.PresenceUpdate) {
	b.enqueue(Envelope{Kind: KindPresence, Users: p.Users})
}

func (b *Bridge) enqueue(env Envelope) {
	env.Received = b.now()
	select {
	case b.queue <- env:
	default:
		n := b.dropped.Add(1)
		b.log.Warn("relay queue full, dropping", zap.String("routing_key", env.RoutingKey()), zap.Int64("dropped", n))
	}
}

// Run publishes queued envelopes until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-b.queue:
			pctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
			err := b.pub.Publish(pctx, env.RoutingKey(), env)
			cancel()
			if err != nil {
				b.log.Warn("relay publish failed", zap.String("routing_key", env.RoutingKey()), zap.Error(err))
				continue
			}
			b.sent.Add(1)
		}
	}
}

// Stats returns how many envelopes were published and dropped.
func (b *Bridge) Stats() (sent, dropped int64) {
	return b.sent.Load(), b.dropped.Load()
}

package gardenchat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"go.uber.org/zap"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// dispatcher turns inbound frames into handler calls. Handlers run one at a
// time, either on the read goroutine or on a typing expiry timer.
type dispatcher struct {
	reg     *registry
	log     *zap.Logger
	metrics *clientMetrics
	events  *eventStream
	history History
	self    func() string
	window  time.Duration

	deliverMu sync.Mutex

	timerMu sync.Mutex
	timers  map[string]*typingTimer
	seq     uint64
}

type typingTimer struct {
	timer    *time.Timer
	username string
	seq      uint64
}

func newDispatcher(reg *registry, log *zap.Logger, metrics *clientMetrics, events *eventStream, window time.Duration) *dispatcher {
	d := &dispatcher{
		reg:     reg,
		log:     log,
		metrics: metrics,
		events:  events,
		window:  window,
		self:    func() string { return "" },
		timers:  make(map[string]*typingTimer),
	}
	reg.onRemove = func(key SubscriptionKey) {
		if key.Kind == KindTyping {
			d.cancelTyping(key.Group)
		}
	}
	return d
}

func (d *dispatcher) onFrame(f *frame.Frame) {
	switch f.Command {
	case cmdMessage:
		d.onMessage(f)
	case cmdError:
		err := &BrokerError{Message: f.Header.Get(hdrMessage), Body: string(f.Body)}
		d.log.Error("broker error", zap.Error(err))
		d.events.emit(Event{Type: EventBrokerError, Err: err, Message: err.Message})
	case cmdReceipt:
	default:
		d.log.Debug("ignoring frame", zap.String("command", f.Command))
	}
}

func (d *dispatcher) onMessage(f *frame.Frame) {
	dest := f.Header.Get(hdrDestination)
	kind, destGroup, ok := parseTopic(dest)
	if !ok {
		d.metrics.framesDropped.WithLabelValues("unknown_topic").Inc()
		d.log.Warn("frame for unknown topic", zap.String("destination", dest))
		d.events.emit(Event{
			Type:    EventUnknownTopic,
			Err:     fmt.Errorf("%w: %q", ErrInvalidTopic, dest),
			Message: dest,
		})
		return
	}
	d.metrics.framesReceived.WithLabelValues(string(kind)).Inc()

	switch kind {
	case KindMessages:
		msg, err := decodeChatMessage(f.Body)
		if err != nil {
			d.decodeFailed(dest, err)
			return
		}
		if destGroup != "" && destGroup != msg.Group {
			d.log.Debug("message group differs from topic", zap.String("topic_group", destGroup), zap.String("group", msg.Group))
		}
		key := SubscriptionKey{Kind: KindMessages, Group: msg.Group}
		if d.deliver(key, Delivery{Kind: KindMessages, Group: msg.Group, Message: msg}) {
			d.record(msg)
		}

	case KindOnlineUsers:
		presence, err := decodePresence(f.Body)
		if err != nil {
			d.decodeFailed(dest, err)
			return
		}
		d.deliver(SubscriptionKey{Kind: KindOnlineUsers}, Delivery{Kind: KindOnlineUsers, Presence: presence})

	case KindTyping:
		sig, err := decodeTyping(f.Body, destGroup)
		if err != nil {
			d.decodeFailed(dest, err)
			return
		}
		d.onTyping(sig)
	}
}

func (d *dispatcher) decodeFailed(dest string, err error) {
	derr := &DecodeError{Destination: dest, Err: err}
	d.metrics.framesDropped.WithLabelValues("decode").Inc()
	d.log.Warn("dropping undecodable frame", zap.Error(derr))
	d.events.emit(Event{Type: EventDecodeFailure, Err: derr, Message: dest})
}

// deliver invokes the handler registered for key and reports whether one ran.
func (d *dispatcher) deliver(key SubscriptionKey, dl Delivery) bool {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	return d.deliverLocked(key, dl)
}

func (d *dispatcher) deliverLocked(key SubscriptionKey, dl Delivery) bool {
	sub, ok := d.reg.lookup(key)
	if !ok {
		d.metrics.framesDropped.WithLabelValues("no_subscription").Inc()
		d.log.Debug("no subscription for frame", zap.Stringer("key", key))
		return false
	}
	d.invoke(sub, dl)
	return true
}

func (d *dispatcher) invoke(sub *Subscription, dl Delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("subscription handler panicked", zap.Stringer("key", sub.key), zap.Any("panic", r))
		}
	}()
	sub.handler(dl)
}

func (d *dispatcher) record(msg ChatMessage) {
	if d.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.history.Append(ctx, msg); err != nil {
		d.log.Warn("history append failed", zap.String("group", msg.Group), zap.Error(err))
	}
}

// ============================================================================
// Typing
// ============================================================================

func (d *dispatcher) onTyping(sig TypingSignal) {
	if self := d.self(); self != "" && sig.Username == self {
		d.metrics.framesDropped.WithLabelValues("self_typing").Inc()
		return
	}

	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	key := SubscriptionKey{Kind: KindTyping, Group: sig.Group}
	if !d.deliverLocked(key, Delivery{
		Kind:   KindTyping,
		Group:  sig.Group,
		Typing: TypingEvent{Username: sig.Username, Group: sig.Group, Active: true},
	}) {
		return
	}
	// the handler may have unsubscribed, which already cancelled the timer
	if _, ok := d.reg.lookup(key); !ok {
		return
	}
	d.arm(sig)
}

// arm starts or restarts the group's expiry timer.
func (d *dispatcher) arm(sig TypingSignal) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if t, ok := d.timers[sig.Group]; ok {
		t.timer.Stop()
	}
	d.seq++
	seq := d.seq
	group := sig.Group
	d.timers[group] = &typingTimer{
		username: sig.Username,
		seq:      seq,
		timer:    time.AfterFunc(d.window, func() { d.expire(group, seq) }),
	}
}

func (d *dispatcher) expire(group string, seq uint64) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.timerMu.Lock()
	t, ok := d.timers[group]
	if !ok || t.seq != seq {
		d.timerMu.Unlock()
		return
	}
	delete(d.timers, group)
	d.timerMu.Unlock()

	d.deliverLocked(SubscriptionKey{Kind: KindTyping, Group: group}, Delivery{
		Kind:   KindTyping,
		Group:  group,
		Typing: TypingEvent{Username: t.username, Group: group, Active: false},
	})
}

func (d *dispatcher) cancelTyping(group string) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	if t, ok := d.timers[group]; ok {
		t.timer.Stop()
		delete(d.timers, group)
	}
}

func (d *dispatcher) stopTimers() {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	for group, t := range d.timers {
		t.timer.Stop()
		delete(d.timers, group)
	}
}

func (d *dispatcher) pendingTyping() int {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	return len(d.timers)
}

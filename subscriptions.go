package gardenchat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionKey identifies a subscription. Group is empty for global kinds.
type SubscriptionKey struct {
	Kind  TopicKind
	Group string
}

// Destination returns the broker topic for the key.
func (k SubscriptionKey) Destination() string {
	return topicDestination(k.Kind, k.Group)
}

func (k SubscriptionKey) String() string {
	if k.Group == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + "/" + k.Group
}

func newSubscriptionKey(kind TopicKind, group string) (SubscriptionKey, error) {
	if !kind.valid() {
		return SubscriptionKey{}, fmt.Errorf("%w: kind %q", ErrInvalidTopic, kind)
	}
	group = normalizeGroup(group)
	if kind.grouped() && group == "" {
		return SubscriptionKey{}, ErrEmptyGroup
	}
	if !kind.grouped() && group != "" {
		return SubscriptionKey{}, fmt.Errorf("%w: %s is not addressed per group", ErrInvalidTopic, kind)
	}
	return SubscriptionKey{Kind: kind, Group: group}, nil
}

// Subscription is a revocable handle returned by Subscribe. The same handle is
// kept across reconnects.
type Subscription struct {
	key     SubscriptionKey
	id      string
	handler Handler
	reg     *registry

	// guarded by reg.mu
	active  bool
	removed bool
}

func (s *Subscription) Key() SubscriptionKey { return s.key }

// ID is the STOMP subscription id.
func (s *Subscription) ID() string { return s.id }

// Active reports whether SUBSCRIBE has been sent on the current connection.
func (s *Subscription) Active() bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.active
}

// Unsubscribe revokes the subscription. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() error {
	return s.reg.remove(s)
}

// SubscriptionInfo is a snapshot of one registered subscription.
type SubscriptionInfo struct {
	Key    SubscriptionKey
	ID     string
	Active bool
}

// ============================================================================
// Registry
// ============================================================================

// registry owns every subscription and the set of groups the caller knows
// about. All mutation happens under mu, including the SUBSCRIBE/UNSUBSCRIBE
// writes, so resubscription and concurrent Subscribe calls cannot interleave.
type registry struct {
	mu     sync.Mutex
	subs   map[SubscriptionKey]*Subscription
	groups map[string]struct{}
	wire   frameWriter

	writeTimeout time.Duration
	log          *zap.Logger
	metrics      *clientMetrics
	events       *eventStream
	onRemove     func(SubscriptionKey)
}

func newRegistry(log *zap.Logger, metrics *clientMetrics, events *eventStream, writeTimeout time.Duration) *registry {
	return &registry{
		subs:         make(map[SubscriptionKey]*Subscription),
		groups:       make(map[string]struct{}),
		writeTimeout: writeTimeout,
		log:          log,
		metrics:      metrics,
		events:       events,
	}
}

func (r *registry) subscribe(kind TopicKind, group string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	key, err := newSubscriptionKey(kind, group)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkGroupLocked(key, "subscribe"); err != nil {
		return nil, err
	}

	if existing, ok := r.subs[key]; ok {
		r.log.Debug("already subscribed", zap.Stringer("key", key))
		r.events.emit(Event{Type: EventDuplicateSubscription, Key: key})
		return existing, nil
	}

	sub := &Subscription{
		key:     key,
		id:      "sub-" + uuid.NewString(),
		handler: h,
		reg:     r,
	}
	r.subs[key] = sub
	r.metrics.subscriptions.Set(float64(len(r.subs)))

	if r.wire == nil {
		r.log.Debug("subscription queued until connected", zap.Stringer("key", key))
		return sub, nil
	}
	if err := r.sendSubscribeLocked(sub); err != nil {
		// The read loop will see the broken socket; attach resends on reconnect.
		r.log.Warn("subscribe write failed", zap.Stringer("key", key), zap.Error(err))
	}
	return sub, nil
}

func (r *registry) unsubscribe(kind TopicKind, group string) error {
	key, err := newSubscriptionKey(kind, group)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkGroupLocked(key, "unsubscribe"); err != nil {
		return err
	}
	sub, ok := r.subs[key]
	if !ok {
		r.log.Debug("no active subscription", zap.Stringer("key", key))
		return nil
	}
	r.removeLocked(sub)
	return nil
}

func (r *registry) remove(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.subs[sub.key]; !ok || current != sub {
		return nil
	}
	r.removeLocked(sub)
	return nil
}

func (r *registry) removeLocked(sub *Subscription) {
	delete(r.subs, sub.key)
	sub.removed = true
	r.metrics.subscriptions.Set(float64(len(r.subs)))

	if r.wire != nil && sub.active {
		f := frame.New(cmdUnsubscribe, hdrID, sub.id)
		if err := r.writeLocked(f); err != nil {
			r.log.Warn("unsubscribe write failed", zap.Stringer("key", sub.key), zap.Error(err))
		}
	}
	sub.active = false
	if r.onRemove != nil {
		r.onRemove(sub.key)
	}
}

func (r *registry) checkGroupLocked(key SubscriptionKey, op string) error {
	if !key.Kind.grouped() {
		return nil
	}
	if _, ok := r.groups[key.Group]; ok {
		return nil
	}
	r.log.Warn("refusing operation for unknown group", zap.String("op", op), zap.String("group", key.Group))
	r.events.emit(Event{
		Type:    EventWarning,
		Key:     key,
		Err:     ErrUnknownGroup,
		Message: fmt.Sprintf("%s ignored: group %q is not known", op, key.Group),
	})
	return ErrUnknownGroup
}

func (r *registry) sendSubscribeLocked(sub *Subscription) error {
	f := frame.New(cmdSubscribe,
		hdrID, sub.id,
		hdrDestination, sub.key.Destination(),
		hdrAck, "auto",
	)
	if err := r.writeLocked(f); err != nil {
		return err
	}
	sub.active = true
	return nil
}

func (r *registry) writeLocked(f *frame.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	return r.wire.writeFrame(ctx, f)
}

// attach binds the registry to a fresh connection and re-sends SUBSCRIBE for
// every registered subscription, queued ones included.
func (r *registry) attach(w frameWriter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wire = w
	for _, sub := range r.sortedLocked() {
		sub.active = false
		if err := r.sendSubscribeLocked(sub); err != nil {
			r.wire = nil
			return fmt.Errorf("resubscribe %s: %w", sub.key, err)
		}
	}
	if len(r.subs) > 0 {
		r.log.Info("subscriptions established", zap.Int("count", len(r.subs)))
	}
	return nil
}

func (r *registry) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wire = nil
	for _, sub := range r.subs {
		sub.active = false
	}
}

func (r *registry) lookup(key SubscriptionKey) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[key]
	return sub, ok
}

func (r *registry) live(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !sub.removed
}

func (r *registry) snapshot() []SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.sortedLocked()
	out := make([]SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SubscriptionInfo{Key: sub.key, ID: sub.id, Active: sub.active})
	}
	return out
}

func (r *registry) sortedLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].key.String() < subs[j].key.String() })
	return subs
}

// ============================================================================
// Known groups
// ============================================================================

func (r *registry) setGroups(groups []string) {
	next := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g = normalizeGroup(g); g != "" {
			next[g] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for g := range r.groups {
		if _, keep := next[g]; !keep {
			r.dropGroupLocked(g)
		}
	}
	r.groups = next
}

func (r *registry) addGroup(group string) error {
	group = normalizeGroup(group)
	if group == "" {
		return ErrEmptyGroup
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group] = struct{}{}
	return nil
}

func (r *registry) removeGroup(group string) {
	group = normalizeGroup(group)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropGroupLocked(group)
	delete(r.groups, group)
}

func (r *registry) dropGroupLocked(group string) {
	for key, sub := range r.subs {
		if key.Kind.grouped() && key.Group == group {
			r.removeLocked(sub)
		}
	}
}

func (r *registry) knownGroups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.groups))
	for g := range r.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

package gardenchat

import (
	"sync"
	"time"
)

// EventType classifies lifecycle and diagnostic events.
type EventType string

const (
	EventStateChanged          EventType = "state.changed"
	EventReady                 EventType = "ready"
	EventReconnecting          EventType = "reconnecting"
	EventConnectFailed         EventType = "connect.failed"
	EventWarning               EventType = "warning"
	EventDuplicateSubscription EventType = "subscription.duplicate"
	EventDecodeFailure         EventType = "decode.failure"
	EventUnknownTopic          EventType = "topic.unknown"
	EventBrokerError           EventType = "broker.error"
)

// Event is emitted on the stream returned by Client.Events.
type Event struct {
	Type    EventType
	At      time.Time
	State   State
	Attempt int
	Delay   time.Duration
	Key     SubscriptionKey
	Err     error
	Message string
}

type eventStream struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped func()
}

func newEventStream(size int, dropped func()) *eventStream {
	return &eventStream{ch: make(chan Event, size), dropped: dropped}
}

// emit never blocks; events are dropped when the consumer falls behind.
func (s *eventStream) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		if s.dropped != nil {
			s.dropped()
		}
	}
}

func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

package gardenchat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// ============================================================================
// Handshake
// ============================================================================

func TestConnect(t *testing.T) {
	t.Run("sends CONNECT and reports the session", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))

		sess := connectTestClient(t, c, "fern")
		assert.Equal(t, "1.2", sess.Version)
		assert.Equal(t, "sess-1", sess.BrokerSession)
		assert.Equal(t, "fake/1.0", sess.Server)
		assert.Equal(t, "fern", sess.Username)
		assert.NotEmpty(t, sess.ID)
		assert.Same(t, sess, c.Session())
		waitEvent(t, c, EventReady)

		connects := b.received(cmdConnect)
		require.Len(t, connects, 1)
		f := connects[0]
		assert.Equal(t, "1.2,1.1", f.Header.Get(hdrAcceptVersion))
		assert.Equal(t, "fern", f.Header.Get(hdrLogin))
		assert.Equal(t, "Bearer tok-fern", f.Header.Get(hdrAuthorization))
		assert.Equal(t, "0,0", f.Header.Get(hdrHeartBeat))
		assert.NotEmpty(t, f.Header.Get(hdrHost))
	})

	t.Run("connect while connected returns the existing session", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))

		first := connectTestClient(t, c, "fern")
		second := connectTestClient(t, c, "fern")
		assert.Same(t, first, second)
		assert.Equal(t, 1, b.connectCount())
	})

	t.Run("concurrent connects share one socket", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))

		results := make(chan *Session, 4)
		for range 4 {
			go func() {
				sess, err := c.Connect(context.Background(), Credentials{Username: "fern"})
				assert.NoError(t, err)
				results <- sess
			}()
		}
		var sessions []*Session
		for range 4 {
			sessions = append(sessions, <-results)
		}
		for _, s := range sessions[1:] {
			assert.Same(t, sessions[0], s)
		}
		assert.Equal(t, 1, b.connectCount())
	})

	t.Run("handshake timeout is soft and retried in the background", func(t *testing.T) {
		b := newFakeBroker(t)
		b.setMode(brokerSilent)
		cfg := testConfig(b)
		cfg.HandshakeTimeout = 100 * time.Millisecond
		cfg.Retry.Delay = 50 * time.Millisecond
		c := newTestClient(t, cfg)

		_, err := c.Connect(context.Background(), Credentials{Username: "fern"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrHandshakeTimeout)
		assert.ErrorIs(t, err, ErrConnectFailure)

		var cerr *ConnectError
		require.ErrorAs(t, err, &cerr)
		assert.True(t, cerr.Soft)
		assert.False(t, cerr.Terminal)
		assert.Equal(t, 1, cerr.Attempt)
		assert.Equal(t, StateReconnecting, c.State())

		b.setMode(brokerNormal)
		waitEvent(t, c, EventReady)
		assert.Equal(t, StateConnected, c.State())
	})

	t.Run("broker ERROR during handshake is a connect failure", func(t *testing.T) {
		b := newFakeBroker(t)
		b.setMode(brokerReject)
		cfg := testConfig(b)
		cfg.Retry.MaxAttempts = 1
		c := newTestClient(t, cfg)

		_, err := c.Connect(context.Background(), Credentials{Username: "fern"})
		require.Error(t, err)
		var berr *BrokerError
		require.ErrorAs(t, err, &berr)
		assert.Equal(t, "bad credentials", berr.Message)

		var cerr *ConnectError
		require.ErrorAs(t, err, &cerr)
		assert.False(t, cerr.Soft)
		assert.True(t, cerr.Terminal)
		assert.Equal(t, StateFailed, c.State())
	})
}

// ============================================================================
// Retry policy
// ============================================================================

func TestRetryPolicy(t *testing.T) {
	t.Run("gives up after max attempts and recovers manually", func(t *testing.T) {
		b := newFakeBroker(t)
		b.setMode(brokerReject)
		cfg := testConfig(b)
		cfg.Retry = RetryPolicy{Delay: 10 * time.Millisecond, MaxAttempts: 3}
		c := newTestClient(t, cfg)

		_, err := c.Connect(context.Background(), Credentials{Username: "fern"})
		var cerr *ConnectError
		require.ErrorAs(t, err, &cerr)
		assert.False(t, cerr.Terminal)

		ev := waitEvent(t, c, EventConnectFailed)
		require.ErrorAs(t, ev.Err, &cerr)
		assert.True(t, cerr.Terminal)
		assert.Equal(t, 3, cerr.Attempt)
		assert.Equal(t, StateFailed, c.State())
		assert.Equal(t, 3, b.connectCount())

		// no further automatic attempts
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 3, b.connectCount())

		b.setMode(brokerNormal)
		sess, err := c.Reconnect(context.Background())
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, StateConnected, c.State())
	})

	t.Run("reconnecting event carries attempt and delay", func(t *testing.T) {
		b := newFakeBroker(t)
		b.setMode(brokerReject)
		cfg := testConfig(b)
		cfg.Retry = RetryPolicy{Delay: 30 * time.Millisecond, MaxAttempts: 2}
		c := newTestClient(t, cfg)

		_, _ = c.Connect(context.Background(), Credentials{Username: "fern"})
		ev := waitEvent(t, c, EventReconnecting)
		assert.Equal(t, 2, ev.Attempt)
		assert.Equal(t, 30*time.Millisecond, ev.Delay)
		waitEvent(t, c, EventConnectFailed)
	})

	t.Run("exponential backoff grows and is capped", func(t *testing.T) {
		r := newReconnector(RetryPolicy{
			Delay:       100 * time.Millisecond,
			MaxAttempts: 10,
			Backoff:     BackoffExponential,
			MaxDelay:    time.Second,
		})
		r.failed()
		first := r.nextDelay()
		assert.GreaterOrEqual(t, first, 100*time.Millisecond)
		assert.Less(t, first, 151*time.Millisecond)

		r.failed()
		second := r.nextDelay()
		assert.GreaterOrEqual(t, second, 200*time.Millisecond)

		for range 6 {
			r.failed()
		}
		assert.Equal(t, time.Second, r.nextDelay())
	})

	t.Run("fixed backoff", func(t *testing.T) {
		r := newReconnector(RetryPolicy{Delay: 2 * time.Second, MaxAttempts: 5, Backoff: BackoffFixed})
		for i := 1; i <= 5; i++ {
			assert.Equal(t, i, r.failed())
			assert.Equal(t, 2*time.Second, r.nextDelay())
		}
		assert.True(t, r.exhausted())
		r.reset()
		assert.False(t, r.exhausted())
	})
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, BackoffFixed, cfg.Retry.Backoff)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatOutgoing)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatIncoming)
	assert.Equal(t, 2, cfg.HeartbeatMissThreshold)
	assert.Equal(t, 3*time.Second, cfg.TypingWindow)

	disabled := Config{HeartbeatOutgoing: -1, HeartbeatIncoming: -1}
	disabled.defaults()
	assert.Zero(t, disabled.HeartbeatOutgoing)
	assert.Zero(t, disabled.HeartbeatIncoming)
}

// ============================================================================
// Connection loss
// ============================================================================

func TestConnectionLoss(t *testing.T) {
	t.Run("resubscribes before frames are dispatched", func(t *testing.T) {
		b := newFakeBroker(t)
		b.onConnect = func(b *fakeBroker, ws *websocket.Conn) {
			go b.send("/topic/messages/general", `{"sender":"moss","content":"welcome","group":"general"}`)
		}
		c := newTestClient(t, testConfig(b))

		var rec recorder
		sub, err := c.Subscribe(KindMessages, "general", rec.handle)
		require.NoError(t, err)
		assert.False(t, sub.Active())

		connectTestClient(t, c, "fern")
		assert.True(t, sub.Active())
		require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)

		b.dropAll()
		ev := waitEvent(t, c, EventReconnecting)
		assert.Equal(t, 1, ev.Attempt)
		waitEvent(t, c, EventReady)
		require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)

		subs := b.received(cmdSubscribe)
		require.Len(t, subs, 2)
		for _, f := range subs {
			assert.Equal(t, "/topic/messages/general", f.Header.Get(hdrDestination))
			assert.Equal(t, sub.ID(), f.Header.Get(hdrID))
		}
		assert.True(t, sub.Active())
	})

	t.Run("missed heart-beats force a reconnect", func(t *testing.T) {
		b := newFakeBroker(t)
		b.heartBeat = "40,0"
		cfg := testConfig(b)
		cfg.HeartbeatIncoming = 20 * time.Millisecond
		c := newTestClient(t, cfg)

		sess := connectTestClient(t, c, "fern")
		assert.Equal(t, 40*time.Millisecond, sess.HeartbeatIncoming)
		assert.Zero(t, sess.HeartbeatOutgoing)

		ev := waitEvent(t, c, EventReconnecting)
		assert.ErrorIs(t, ev.Err, errHeartbeatTimeout)
		waitEvent(t, c, EventReady)
		assert.GreaterOrEqual(t, b.connectCount(), 2)
	})
}

// ============================================================================
// Disconnect
// ============================================================================

func TestDisconnect(t *testing.T) {
	t.Run("is idempotent and sends DISCONNECT", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))
		connectTestClient(t, c, "fern")

		require.NoError(t, c.Disconnect())
		require.NoError(t, c.Disconnect())
		assert.Equal(t, StateDisconnected, c.State())
		assert.Nil(t, c.Session())
		require.Eventually(t, func() bool { return len(b.received(cmdDisconnect)) == 1 }, time.Second, 10*time.Millisecond)
	})

	t.Run("before connect is a no-op", func(t *testing.T) {
		c := New(Config{URL: "ws://127.0.0.1:1/ws"})
		require.NoError(t, c.Disconnect())
		assert.Equal(t, StateDisconnected, c.State())
	})

	t.Run("cancels a pending retry", func(t *testing.T) {
		b := newFakeBroker(t)
		b.setMode(brokerReject)
		cfg := testConfig(b)
		cfg.Retry.Delay = 100 * time.Millisecond
		c := newTestClient(t, cfg)

		_, err := c.Connect(context.Background(), Credentials{Username: "fern"})
		require.Error(t, err)
		assert.Equal(t, StateReconnecting, c.State())

		require.NoError(t, c.Disconnect())
		time.Sleep(250 * time.Millisecond)
		assert.Equal(t, 1, b.connectCount())
		assert.Equal(t, StateDisconnected, c.State())
	})

	t.Run("keeps subscriptions for the next connect", func(t *testing.T) {
		b := newFakeBroker(t)
		c := newTestClient(t, testConfig(b))
		sub, err := c.SubscribePresence(func(PresenceUpdate) {})
		require.NoError(t, err)

		connectTestClient(t, c, "fern")
		require.NoError(t, c.Disconnect())
		assert.False(t, sub.Active())

		connectTestClient(t, c, "fern")
		assert.True(t, sub.Active())
		require.Eventually(t, func() bool { return len(b.received(cmdSubscribe)) == 2 }, time.Second, 10*time.Millisecond)
	})

	t.Run("close ends the event stream", func(t *testing.T) {
		b := newFakeBroker(t)
		c := New(testConfig(b))
		connectTestClient(t, c, "fern")
		require.NoError(t, c.Close())

		done := make(chan struct{})
		go func() {
			for range c.Events() {
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("event stream not closed")
		}

		_, err := c.Connect(context.Background(), Credentials{})
		assert.True(t, errors.Is(err, ErrClientClosed))
	})
}

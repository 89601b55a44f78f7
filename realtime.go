package gardenchat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// Backoff selects how the delay between automatic connection attempts grows.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy bounds automatic reconnection. MaxAttempts counts every attempt
// in a cycle, the first one included; a value of 1 disables automatic retries.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     Backoff
	MaxDelay    time.Duration
}

// Config configures a Client.
type Config struct {
	// URL of the broker's WebSocket endpoint. http(s) schemes are rewritten to ws(s).
	URL string
	// Host is sent in the CONNECT frame. Defaults to the URL host.
	Host string

	HandshakeTimeout time.Duration
	Retry            RetryPolicy

	// Heart-beat intervals offered to the broker. Negative disables a direction.
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	// HeartbeatMissThreshold is how many incoming intervals may pass in
	// silence before the connection is considered dead.
	HeartbeatMissThreshold int

	// TypingWindow is how long a typing indicator stays active after the
	// group's last signal.
	TypingWindow time.Duration

	EventBuffer  int
	WriteTimeout time.Duration
	ReadLimit    int64

	// Groups seeds the set of known chat groups.
	Groups []string
}

func (c *Config) defaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = 2 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = BackoffFixed
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.HeartbeatOutgoing == 0 {
		c.HeartbeatOutgoing = 10 * time.Second
	}
	if c.HeartbeatIncoming == 0 {
		c.HeartbeatIncoming = 10 * time.Second
	}
	if c.HeartbeatOutgoing < 0 {
		c.HeartbeatOutgoing = 0
	}
	if c.HeartbeatIncoming < 0 {
		c.HeartbeatIncoming = 0
	}
	if c.HeartbeatMissThreshold <= 0 {
		c.HeartbeatMissThreshold = 2
	}
	if c.TypingWindow == 0 {
		c.TypingWindow = 3 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
}

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Credentials identify the user to the broker.
type Credentials struct {
	Username string
	Password string
	// Token is sent as a bearer Authorization header on the upgrade request
	// and in the CONNECT frame.
	Token string
}

// Session describes an established broker connection.
type Session struct {
	ID                string
	Username          string
	Version           string
	Server            string
	BrokerSession     string
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	ConnectedAt       time.Time
}

var errHeartbeatTimeout = errors.New("no heart-beat from broker")

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	policy      RetryPolicy
	attempt     int
	connectedAt time.Time
}

func newReconnector(policy RetryPolicy) *reconnector {
	return &reconnector{policy: policy}
}

// failed records a failed attempt and returns its 1-based number.
func (r *reconnector) failed() int {
	r.attempt++
	return r.attempt
}

func (r *reconnector) exhausted() bool {
	return r.attempt >= r.policy.MaxAttempts
}

func (r *reconnector) markConnected() {
	r.attempt = 0
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if r.policy.Backoff != BackoffExponential {
		return r.policy.Delay
	}
	exp := max(r.attempt-1, 0)
	jitter := time.Duration(rand.Float64() * float64(r.policy.Delay) * 0.5)
	return time.Duration(math.Min(
		float64(r.policy.Delay)*math.Pow(2, float64(exp))+float64(jitter),
		float64(r.policy.MaxDelay),
	))
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Client
// ============================================================================

// Client is a STOMP-over-WebSocket chat client. It owns one socket at a time,
// the subscription registry and the inbound dispatcher. A Client is safe for
// concurrent use.
type Client struct {
	config     Config
	log        *zap.Logger
	registerer prometheus.Registerer
	tracer     trace.Tracer
	tp         trace.TracerProvider
	httpClient *http.Client
	history    History

	metrics    *clientMetrics
	events     *eventStream
	registry   *registry
	dispatcher *dispatcher

	username atomic.Value
	lastRead atomic.Int64

	// connectMu serializes connection attempts, manual and automatic.
	connectMu sync.Mutex

	mu         sync.Mutex
	state      State
	recon      *reconnector
	creds      Credentials
	conn       *stompConn
	session    *Session
	gen        uint64
	connCancel context.CancelFunc
	life       context.Context
	lifeCancel context.CancelFunc
	retryTimer *time.Timer
	closed     bool
}

// New creates a disconnected Client.
func New(cfg Config, opts ...Option) *Client {
	cfg.defaults()
	c := &Client{
		config:     cfg,
		log:        zap.NewNop(),
		httpClient: http.DefaultClient,
		state:      StateDisconnected,
		recon:      newReconnector(cfg.Retry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tp == nil {
		c.tp = otel.GetTracerProvider()
	}
	c.tracer = c.tp.Tracer(instrumentationName)
	c.username.Store("")

	c.metrics = newClientMetrics(c.registerer)
	c.events = newEventStream(cfg.EventBuffer, c.metrics.eventsDropped.Inc)
	c.registry = newRegistry(c.log.Named("registry"), c.metrics, c.events, cfg.WriteTimeout)
	c.registry.setGroups(cfg.Groups)
	c.dispatcher = newDispatcher(c.registry, c.log.Named("dispatcher"), c.metrics, c.events, cfg.TypingWindow)
	c.dispatcher.history = c.history
	c.dispatcher.self = func() string { return c.username.Load().(string) }
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, or nil when not connected.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.session
}

// Events returns the lifecycle and diagnostics stream. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events.ch
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("state change", zap.String("from", string(c.state)), zap.String("to", string(s)))
	c.state = s
	c.events.emit(Event{Type: EventStateChanged, State: s})
}

// Connect dials the broker and performs the STOMP handshake. Calling it while
// connected returns the existing session. A handshake timeout yields a soft
// *ConnectError and the client keeps retrying in the background.
func (c *Client) Connect(ctx context.Context, creds Credentials) (*Session, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c.state == StateConnected && c.session != nil {
		s := c.session
		c.mu.Unlock()
		return s, nil
	}
	c.creds = creds
	c.username.Store(creds.Username)
	c.stopRetryLocked()
	if c.life == nil || c.life.Err() != nil {
		c.life, c.lifeCancel = context.WithCancel(context.Background())
	}
	c.recon.reset()
	c.mu.Unlock()

	return c.attempt(ctx)
}

// Reconnect starts a fresh connection cycle with the last credentials. It is
// the way out of StateFailed.
func (c *Client) Reconnect(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	return c.Connect(ctx, creds)
}

// attempt runs one connection attempt. Callers hold connectMu.
func (c *Client) attempt(ctx context.Context) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "gardenchat.connect",
		trace.WithAttributes(attribute.String("broker.url", c.config.URL)))
	defer span.End()

	c.mu.Lock()
	life := c.life
	creds := c.creds
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	sc, sess, err := c.handshake(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		return nil, c.connectFailed(ctx, err)
	}

	c.mu.Lock()
	if life.Err() != nil {
		c.mu.Unlock()
		sc.ws.CloseNow()
		return nil, c.connectFailed(ctx, context.Canceled)
	}
	c.gen++
	gen := c.gen
	c.conn = sc
	c.session = sess
	connCtx, connCancel := context.WithCancel(life)
	c.connCancel = connCancel
	c.mu.Unlock()

	if err := c.registry.attach(sc); err != nil {
		c.dropConn(gen)
		sc.ws.CloseNow()
		span.RecordError(err)
		return nil, c.connectFailed(ctx, err)
	}

	c.mu.Lock()
	if c.gen != gen || life.Err() != nil {
		c.mu.Unlock()
		c.registry.detach()
		sc.ws.CloseNow()
		return nil, c.connectFailed(ctx, context.Canceled)
	}
	c.lastRead.Store(time.Now().UnixNano())
	c.recon.markConnected()
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	go c.readLoop(connCtx, gen, sc)
	if sess.HeartbeatOutgoing > 0 {
		go c.heartbeatLoop(connCtx, sc, sess.HeartbeatOutgoing)
	}
	if sess.HeartbeatIncoming > 0 {
		go c.watchdog(connCtx, gen, sess.HeartbeatIncoming)
	}

	c.log.Info("connected",
		zap.String("session", sess.ID),
		zap.String("version", sess.Version),
		zap.Duration("heartbeat_out", sess.HeartbeatOutgoing),
		zap.Duration("heartbeat_in", sess.HeartbeatIncoming),
	)
	c.events.emit(Event{Type: EventReady, State: StateConnected})
	return sess, nil
}

func (c *Client) dropConn(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.conn = nil
	c.session = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
}

// handshake dials the socket, sends CONNECT and waits for CONNECTED.
func (c *Client) handshake(ctx context.Context, creds Credentials) (*stompConn, *Session, error) {
	hsCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	timedOut := func(err error) error {
		if errors.Is(hsCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s: %v", ErrHandshakeTimeout, c.config.HandshakeTimeout, err)
		}
		return err
	}

	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}
	wsURL := brokerURL(c.config.URL)
	ws, _, err := websocket.Dial(hsCtx, wsURL, &websocket.DialOptions{
		HTTPClient:   c.httpClient,
		HTTPHeader:   header,
		Subprotocols: stompSubprotocols,
	})
	if err != nil {
		return nil, nil, timedOut(fmt.Errorf("websocket dial: %w", err))
	}
	ws.SetReadLimit(c.config.ReadLimit)
	sc := &stompConn{ws: ws, writeTimeout: c.config.WriteTimeout}

	connect := frame.New(cmdConnect,
		hdrAcceptVersion, stompVersions,
		hdrHost, c.host(wsURL),
		hdrHeartBeat, formatHeartBeat(c.config.HeartbeatOutgoing, c.config.HeartbeatIncoming),
	)
	if creds.Username != "" {
		connect.Header.Set(hdrLogin, creds.Username)
	}
	if creds.Password != "" {
		connect.Header.Set(hdrPasscode, creds.Password)
	}
	if creds.Token != "" {
		connect.Header.Set(hdrAuthorization, "Bearer "+creds.Token)
	}
	if err := sc.writeFrame(hsCtx, connect); err != nil {
		ws.CloseNow()
		return nil, nil, timedOut(fmt.Errorf("send CONNECT: %w", err))
	}

	for {
		_, data, err := ws.Read(hsCtx)
		if err != nil {
			ws.CloseNow()
			return nil, nil, timedOut(fmt.Errorf("await CONNECTED: %w", err))
		}
		frames, err := decodeFrames(data)
		if err != nil {
			ws.CloseNow()
			return nil, nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		if len(frames) == 0 {
			continue
		}
		f := frames[0]
		switch f.Command {
		case cmdConnected:
			return sc, c.newSession(f, creds), nil
		case cmdError:
			ws.Close(websocket.StatusNormalClosure, "")
			return nil, nil, &BrokerError{Message: f.Header.Get(hdrMessage), Body: string(f.Body)}
		default:
			ws.Close(websocket.StatusProtocolError, "expected CONNECTED")
			return nil, nil, fmt.Errorf("expected CONNECTED, got %s", f.Command)
		}
	}
}

func (c *Client) newSession(f *frame.Frame, creds Credentials) *Session {
	sx, sy, err := parseHeartBeat(f.Header.Get(hdrHeartBeat))
	if err != nil {
		c.log.Warn("ignoring broker heart-beat header", zap.Error(err))
		sx, sy = 0, 0
	}
	return &Session{
		ID:                uuid.NewString(),
		Username:          creds.Username,
		Version:           f.Header.Get(hdrVersion),
		Server:            f.Header.Get(hdrServer),
		BrokerSession:     f.Header.Get(hdrSession),
		HeartbeatOutgoing: negotiateHeartBeat(c.config.HeartbeatOutgoing, sy),
		HeartbeatIncoming: negotiateHeartBeat(c.config.HeartbeatIncoming, sx),
		ConnectedAt:       time.Now(),
	}
}

func (c *Client) host(wsURL string) string {
	if c.config.Host != "" {
		return c.config.Host
	}
	rest := wsURL
	if _, after, ok := strings.Cut(rest, "://"); ok {
		rest = after
	}
	host, _, _ := strings.Cut(rest, "/")
	return host
}

func brokerURL(raw string) string {
	u := strings.Replace(raw, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// connectFailed applies the retry policy to a failed attempt and returns the
// error for the caller.
func (c *Client) connectFailed(ctx context.Context, cause error) error {
	soft := errors.Is(cause, ErrHandshakeTimeout)

	c.mu.Lock()
	attempt := c.recon.failed()
	stopped := c.closed || c.life == nil || c.life.Err() != nil
	if stopped || (ctx.Err() != nil && !soft) {
		// Disconnected meanwhile, or the caller gave up: no automatic retry.
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return &ConnectError{Attempt: attempt, Soft: soft, Terminal: true, Err: cause}
	}

	if c.recon.exhausted() {
		c.setStateLocked(StateFailed)
		c.mu.Unlock()
		err := &ConnectError{Attempt: attempt, Soft: soft, Terminal: true, Err: cause}
		c.log.Error("giving up on broker", zap.Int("attempts", attempt), zap.Error(cause))
		c.events.emit(Event{Type: EventConnectFailed, State: StateFailed, Attempt: attempt, Err: err})
		return err
	}

	delay := c.scheduleRetryLocked()
	c.mu.Unlock()

	c.log.Warn("connect attempt failed",
		zap.Int("attempt", attempt),
		zap.Bool("soft", soft),
		zap.Duration("retry_in", delay),
		zap.Error(cause),
	)
	c.events.emit(Event{Type: EventReconnecting, State: StateReconnecting, Attempt: attempt + 1, Delay: delay, Err: cause})
	return &ConnectError{Attempt: attempt, Soft: soft, Err: cause}
}

func (c *Client) scheduleRetryLocked() time.Duration {
	delay := c.recon.nextDelay()
	c.setStateLocked(StateReconnecting)
	c.stopRetryLocked()
	c.retryTimer = time.AfterFunc(delay, c.retry)
	return delay
}

func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) retry() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state != StateReconnecting || c.life == nil || c.life.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.mu.Unlock()

	c.metrics.reconnectAttempts.Inc()
	if _, err := c.attempt(context.Background()); err != nil {
		c.log.Debug("reconnect attempt failed", zap.Error(err))
	}
}

// connectionLost tears down generation gen after an unexpected loss and
// starts a fresh retry cycle.
func (c *Client) connectionLost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	sc := c.conn
	c.conn = nil
	c.session = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.registry.detach()
	c.recon.reset()
	delay := c.scheduleRetryLocked()
	c.mu.Unlock()

	if sc != nil {
		sc.ws.CloseNow()
	}
	c.log.Warn("connection lost", zap.Duration("retry_in", delay), zap.Error(cause))
	c.events.emit(Event{Type: EventReconnecting, State: StateReconnecting, Attempt: 1, Delay: delay, Err: cause})
}

func (c *Client) readLoop(ctx context.Context, gen uint64, sc *stompConn) {
	for {
		_, data, err := sc.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.connectionLost(gen, fmt.Errorf("read: %w", err))
			return
		}
		c.lastRead.Store(time.Now().UnixNano())

		frames, err := decodeFrames(data)
		if err != nil {
			c.dispatcher.decodeFailed("", err)
		}
		for _, f := range frames {
			c.dispatcher.onFrame(f)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, sc *stompConn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sc.heartbeat(ctx); err != nil {
				if ctx.Err() == nil {
					c.log.Debug("heart-beat write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// watchdog drops the connection when the broker has been silent for
// HeartbeatMissThreshold incoming intervals.
func (c *Client) watchdog(ctx context.Context, gen uint64, interval time.Duration) {
	limit := time.Duration(c.config.HeartbeatMissThreshold) * interval
	ticker := time.NewTicker(max(interval/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastRead.Load())
			if time.Since(last) > limit {
				c.metrics.heartbeatMisses.Inc()
				c.connectionLost(gen, fmt.Errorf("%w for %s", errHeartbeatTimeout, time.Since(last).Round(time.Millisecond)))
				return
			}
		}
	}
}

// Disconnect closes the connection and cancels pending retries and typing
// timers. Subscriptions stay registered and are restored by the next Connect.
// Calling it when already disconnected is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.lifeCancel != nil {
		c.lifeCancel()
	}
	c.stopRetryLocked()
	sc := c.conn
	connCancel := c.connCancel
	c.conn = nil
	c.session = nil
	c.connCancel = nil
	c.gen++
	c.recon.reset()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.registry.detach()
	c.dispatcher.stopTimers()

	if sc == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sc.writeFrame(ctx, frame.New(cmdDisconnect)); err != nil {
		c.log.Debug("DISCONNECT write failed", zap.Error(err))
	}
	if err := sc.ws.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		c.log.Debug("close", zap.Error(err))
	}
	if connCancel != nil {
		connCancel()
	}
	c.log.Info("disconnected")
	return nil
}

// Close disconnects and closes the Events stream. The client cannot be
// reconnected afterwards.
func (c *Client) Close() error {
	err := c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.events.close()
	return err
}

// ============================================================================
// Subscriptions
// ============================================================================

// Subscribe registers h for frames of kind in group. KindOnlineUsers takes an
// empty group. Subscribing twice to the same topic returns the existing
// handle.
func (c *Client) Subscribe(kind TopicKind, group string, h Handler) (*Subscription, error) {
	return c.registry.subscribe(kind, group, h)
}

// SubscribeMessages subscribes to chat messages of group.
func (c *Client) SubscribeMessages(group string, h func(ChatMessage)) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	return c.Subscribe(KindMessages, group, func(d Delivery) { h(d.Message) })
}

// SubscribeTyping subscribes to typing indicators of group.
func (c *Client) SubscribeTyping(group string, h func(TypingEvent)) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	return c.Subscribe(KindTyping, group, func(d Delivery) { h(d.Typing) })
}

// SubscribePresence subscribes to the online-users list.
func (c *Client) SubscribePresence(h func(PresenceUpdate)) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	return c.Subscribe(KindOnlineUsers, "", func(d Delivery) { h(d.Presence) })
}

// Unsubscribe removes the subscription for kind and group, if any.
func (c *Client) Unsubscribe(kind TopicKind, group string) error {
	return c.registry.unsubscribe(kind, group)
}

// Subscriptions returns a snapshot of the registered subscriptions.
func (c *Client) Subscriptions() []SubscriptionInfo {
	return c.registry.snapshot()
}

// SetGroups replaces the set of known groups. Subscriptions of groups that
// are no longer known are removed.
func (c *Client) SetGroups(groups []string) {
	c.registry.setGroups(groups)
}

// AddGroup adds group to the known set.
func (c *Client) AddGroup(group string) error {
	return c.registry.addGroup(group)
}

// RemoveGroup forgets group, dropping its subscriptions and typing state.
func (c *Client) RemoveGroup(group string) {
	c.registry.removeGroup(group)
	c.dispatcher.cancelTyping(normalizeGroup(group))
}

// Groups returns the known groups in sorted order.
func (c *Client) Groups() []string {
	return c.registry.knownGroups()
}

package gardenchat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// ============================================================================
// Fake broker
// ============================================================================

type brokerMode int

const (
	brokerNormal brokerMode = iota
	brokerSilent            // never answers CONNECT
	brokerReject            // answers CONNECT with ERROR
)

// fakeBroker is an in-process STOMP broker good enough for client tests. It
// records every frame it receives.
type fakeBroker struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	mode      brokerMode
	heartBeat string
	frames    []*frame.Frame
	conns     []*websocket.Conn
	connects  int
	onConnect func(b *fakeBroker, ws *websocket.Conn)

	// relay routes SEND frames to subscribers the way the chat backend does.
	relay  bool
	subs   map[*websocket.Conn]map[string]string // id -> destination
	online map[string]bool
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{
		t:         t,
		heartBeat: "0,0",
		subs:      make(map[*websocket.Conn]map[string]string),
		online:    make(map[string]bool),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(func() {
		b.dropAll()
		b.server.Close()
	})
	return b
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws"
}

func (b *fakeBroker) setMode(m brokerMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = m
}

func (b *fakeBroker) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: stompSubprotocols})
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns = append(b.conns, ws)
	b.mu.Unlock()

	ctx := context.Background()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		frames, err := decodeFrames(data)
		if err != nil {
			b.t.Logf("broker: bad frame: %v", err)
			continue
		}
		for _, f := range frames {
			b.handle(ctx, ws, f)
		}
	}
}

func (b *fakeBroker) handle(ctx context.Context, ws *websocket.Conn, f *frame.Frame) {
	b.mu.Lock()
	b.frames = append(b.frames, f)
	mode := b.mode
	hb := b.heartBeat
	hook := b.onConnect
	relay := b.relay
	switch f.Command {
	case cmdConnect:
		b.connects++
	case cmdSubscribe:
		if b.subs[ws] == nil {
			b.subs[ws] = make(map[string]string)
		}
		b.subs[ws][f.Header.Get(hdrID)] = f.Header.Get(hdrDestination)
	case cmdUnsubscribe:
		delete(b.subs[ws], f.Header.Get(hdrID))
	}
	b.mu.Unlock()

	if f.Command == cmdSend && relay {
		b.route(f)
		return
	}
	if f.Command != cmdConnect {
		return
	}
	switch mode {
	case brokerSilent:
		return
	case brokerReject:
		reply := frame.New(cmdError, hdrMessage, "bad credentials")
		_ = writeTestFrame(ctx, ws, reply)
		return
	}
	reply := frame.New(cmdConnected,
		hdrVersion, "1.2",
		hdrHeartBeat, hb,
		hdrServer, "fake/1.0",
		hdrSession, "sess-1",
	)
	_ = writeTestFrame(ctx, ws, reply)
	if hook != nil {
		hook(b, ws)
	}
}

func writeTestFrame(ctx context.Context, ws *websocket.Conn, f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, buf.Bytes())
}

// route mirrors the backend's message mappings: chat and typing go to the
// group topic, online/offline rebroadcast the presence set.
func (b *fakeBroker) route(f *frame.Frame) {
	dest := f.Header.Get(hdrDestination)
	body := f.Body
	switch {
	case strings.HasPrefix(dest, "/app/chat/"):
		b.publish("/topic/messages/"+strings.TrimPrefix(dest, "/app/chat/"), body)
	case strings.HasPrefix(dest, "/app/typing/"):
		b.publish("/topic/typing/"+strings.TrimPrefix(dest, "/app/typing/"), body)
	case dest == "/app/online" || dest == "/app/offline":
		var beacon presenceBeacon
		if err := json.Unmarshal(body, &beacon); err != nil {
			return
		}
		b.mu.Lock()
		if dest == "/app/online" {
			b.online[beacon.Username] = true
		} else {
			delete(b.online, beacon.Username)
		}
		users := make([]string, 0, len(b.online))
		for u := range b.online {
			users = append(users, u)
		}
		b.mu.Unlock()
		sort.Strings(users)
		data, _ := json.Marshal(users)
		b.publish("/topic/online-users", data)
	}
}

// publish delivers body to every subscriber of topic.
func (b *fakeBroker) publish(topic string, body []byte) {
	type target struct {
		ws *websocket.Conn
		id string
	}
	var targets []target
	b.mu.Lock()
	for ws, subs := range b.subs {
		for id, dest := range subs {
			if dest == topic {
				targets = append(targets, target{ws, id})
			}
		}
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, tg := range targets {
		f := frame.New(cmdMessage, hdrDestination, topic, hdrSubscription, tg.id, hdrContentType, contentTypeJSON)
		f.Body = body
		_ = writeTestFrame(ctx, tg.ws, f)
	}
}

// send delivers a MESSAGE frame on every open connection.
func (b *fakeBroker) send(dest, body string) {
	b.t.Helper()
	f := frame.New(cmdMessage,
		hdrDestination, dest,
		hdrSubscription, "sub-any",
		hdrContentType, contentTypeJSON,
	)
	f.Body = []byte(body)
	b.sendFrame(f)
}

func (b *fakeBroker) sendFrame(f *frame.Frame) {
	b.t.Helper()
	b.mu.Lock()
	conns := append([]*websocket.Conn(nil), b.conns...)
	b.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, ws := range conns {
		_ = writeTestFrame(ctx, ws, f)
	}
}

// dropAll kills every open connection without a close handshake.
func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.subs = make(map[*websocket.Conn]map[string]string)
	b.mu.Unlock()
	for _, ws := range conns {
		ws.CloseNow()
	}
}

func (b *fakeBroker) received(command string) []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*frame.Frame
	for _, f := range b.frames {
		if f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

func (b *fakeBroker) connectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *fakeBroker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}

// destinations lists the destination header of every received command frame.
func (b *fakeBroker) destinations(command string) []string {
	var out []string
	for _, f := range b.received(command) {
		out = append(out, f.Header.Get(hdrDestination))
	}
	return out
}

// ============================================================================
// Client helpers
// ============================================================================

func testConfig(b *fakeBroker) Config {
	return Config{
		URL:               b.url(),
		HandshakeTimeout:  500 * time.Millisecond,
		Retry:             RetryPolicy{Delay: 20 * time.Millisecond, MaxAttempts: 5},
		HeartbeatOutgoing: -1,
		HeartbeatIncoming: -1,
		TypingWindow:      100 * time.Millisecond,
		EventBuffer:       256,
		Groups:            []string{"general", "plant-care"},
	}
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	c := New(cfg, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectTestClient(t *testing.T, c *Client, username string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := c.Connect(ctx, Credentials{Username: username, Token: "tok-" + username})
	require.NoError(t, err)
	require.Equal(t, StateConnected, c.State())
	return sess
}

// waitEvent reads events until one of type typ arrives.
func waitEvent(t *testing.T, c *Client, typ EventType) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed while waiting for %s", typ)
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

// recorder collects deliveries from a handler.
type recorder struct {
	mu  sync.Mutex
	got []Delivery
}

func (r *recorder) handle(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
}

func (r *recorder) all() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

package gardenchat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"nhooyr.io/websocket"
)

// STOMP commands and headers used by the client.
const (
	cmdConnect     = "CONNECT"
	cmdConnected   = "CONNECTED"
	cmdSend        = "SEND"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdDisconnect  = "DISCONNECT"
	cmdMessage     = "MESSAGE"
	cmdReceipt     = "RECEIPT"
	cmdError       = "ERROR"

	hdrAcceptVersion = "accept-version"
	hdrHost          = "host"
	hdrHeartBeat     = "heart-beat"
	hdrLogin         = "login"
	hdrPasscode      = "passcode"
	hdrAuthorization = "Authorization"
	hdrVersion       = "version"
	hdrServer        = "server"
	hdrSession       = "session"
	hdrDestination   = "destination"
	hdrID            = "id"
	hdrAck           = "ack"
	hdrSubscription  = "subscription"
	hdrContentType   = "content-type"
	hdrContentLength = "content-length"
	hdrMessage       = "message"
)

const (
	stompVersions   = "1.2,1.1"
	contentTypeJSON = "application/json"
)

var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// frameWriter sends one frame to the broker.
type frameWriter interface {
	writeFrame(ctx context.Context, f *frame.Frame) error
}

// stompConn carries STOMP frames as WebSocket text messages, one frame per
// message. A lone LF message is a heart-beat.
type stompConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (s *stompConn) writeFrame(ctx context.Context, f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return s.write(ctx, data)
}

func (s *stompConn) heartbeat(ctx context.Context) error {
	return s.write(ctx, []byte{'\n'})
}

func (s *stompConn) write(ctx context.Context, data []byte) error {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return s.ws.Write(ctx, websocket.MessageText, data)
}

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames reads every frame in one WebSocket message, skipping
// heart-beats.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("read frame: %w", err)
		}
		if f == nil {
			continue
		}
		frames = append(frames, f)
	}
}

// ============================================================================
// Heart-beats
// ============================================================================

func formatHeartBeat(outgoing, incoming time.Duration) string {
	return strconv.FormatInt(outgoing.Milliseconds(), 10) + "," + strconv.FormatInt(incoming.Milliseconds(), 10)
}

func parseHeartBeat(value string) (time.Duration, time.Duration, error) {
	if value == "" {
		return 0, 0, nil
	}
	sx, sy, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("heart-beat %q: missing comma", value)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(sx), 10, 64)
	if err != nil || x < 0 {
		return 0, 0, fmt.Errorf("heart-beat %q: bad send interval", value)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(sy), 10, 64)
	if err != nil || y < 0 {
		return 0, 0, fmt.Errorf("heart-beat %q: bad receive interval", value)
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, nil
}

// negotiateHeartBeat applies the STOMP rule: zero on either side disables the
// direction, otherwise the larger interval wins.
func negotiateHeartBeat(ours, theirs time.Duration) time.Duration {
	if ours <= 0 || theirs <= 0 {
		return 0
	}
	return max(ours, theirs)
}

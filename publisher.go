package gardenchat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ============================================================================
// Outbound Publisher
// ============================================================================

// PublishMessage sends msg to its group. It never retries: outside
// StateConnected it returns ErrNotConnected without touching the socket.
func (c *Client) PublishMessage(ctx context.Context, msg ChatMessage) error {
	msg.Group = normalizeGroup(msg.Group)
	if msg.Group == "" {
		return ErrEmptyGroup
	}
	return c.publish(ctx, publishChat, appDestination(publishChat, msg.Group), msg)
}

// PublishTyping tells group that username is typing.
func (c *Client) PublishTyping(ctx context.Context, username, group string) error {
	group = normalizeGroup(group)
	if group == "" {
		return ErrEmptyGroup
	}
	return c.publish(ctx, publishTyping, appDestination(publishTyping, group),
		TypingSignal{Username: username, Group: group})
}

// PublishPresence announces username as online.
func (c *Client) PublishPresence(ctx context.Context, username string) error {
	return c.publish(ctx, publishOnline, appDestination(publishOnline, ""), presenceBeacon{Username: username})
}

// PublishOffline announces username as gone.
func (c *Client) PublishOffline(ctx context.Context, username string) error {
	return c.publish(ctx, publishOffline, appDestination(publishOffline, ""), presenceBeacon{Username: username})
}

func (c *Client) publish(ctx context.Context, kind, dest string, payload any) error {
	ctx, span := c.tracer.Start(ctx, "gardenchat.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination", dest)))
	defer span.End()

	c.mu.Lock()
	sc := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || sc == nil {
		c.metrics.published.WithLabelValues(kind, "not_connected").Inc()
		span.SetStatus(codes.Error, ErrNotConnected.Error())
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.metrics.published.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	f := frame.New(cmdSend,
		hdrDestination, dest,
		hdrContentType, contentTypeJSON,
		hdrContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	if err := sc.writeFrame(ctx, f); err != nil {
		c.metrics.published.WithLabelValues(kind, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		c.log.Warn("publish failed", zap.String("destination", dest), zap.Error(err))
		return fmt.Errorf("send to %s: %w", strings.TrimPrefix(dest, appPrefix), err)
	}
	c.metrics.published.WithLabelValues(kind, "ok").Inc()
	return nil
}

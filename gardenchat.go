// Package gardenchat is a Go client for the Garden Chat realtime group chat.
//
// It speaks STOMP over a WebSocket to the chat broker, keeps topic
// subscriptions alive across reconnects, and routes inbound frames to
// per-subscription handlers.
//
// Example:
//
//	client := gardenchat.New(gardenchat.Config{
//		URL:    "ws://localhost:8088/ws",
//		Groups: []string{"general", "plant-care"},
//	}, gardenchat.WithLogger(logger))
//	defer client.Close()
//
//	client.SubscribeMessages("general", func(m gardenchat.ChatMessage) {
//		fmt.Printf("%s: %s\n", m.Sender, m.Content)
//	})
//	if _, err := client.Connect(ctx, gardenchat.Credentials{Username: "fern", Token: token}); err != nil {
//		// a soft *ConnectError means the client keeps retrying in the background
//	}
//	msg, _ := gardenchat.NewChatMessage("fern", "hello", "general")
//	client.PublishMessage(ctx, msg)
package gardenchat

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/KhaoticNeutral/gardenchat-go"

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRegisterer registers the client's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithHistory appends every delivered chat message to h.
func WithHistory(h History) Option {
	return func(c *Client) { c.history = h }
}

// WithTracerProvider sets the OpenTelemetry provider. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

// WithHTTPClient sets the client used for the WebSocket upgrade.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

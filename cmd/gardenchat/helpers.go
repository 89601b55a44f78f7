package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	gardenchat "github.com/KhaoticNeutral/gardenchat-go"
)

// chatSession bundles a realtime client with the local history it records to.
type chatSession struct {
	cfg     *Config
	client  *gardenchat.Client
	history *gardenchat.SQLiteHistory
	creds   gardenchat.Credentials
}

// newChatSession creates a client for the signed-in account.
func newChatSession(cfg *Config) (*chatSession, error) {
	if cfg.Auth.Token == "" {
		return nil, errors.New("not signed in; run 'gardenchat login <username> <password>' first")
	}
	history, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	client := gardenchat.New(gardenchat.Config{
		URL:    cfg.brokerURL(),
		Groups: cfg.groups(),
	},
		gardenchat.WithLogger(logger),
		gardenchat.WithRegisterer(prometheus.DefaultRegisterer),
		gardenchat.WithHistory(history),
	)
	return &chatSession{
		cfg:     cfg,
		client:  client,
		history: history,
		creds:   gardenchat.Credentials{Username: cfg.Auth.Username, Token: cfg.Auth.Token},
	}, nil
}

// connect returns once the client is ready. A retrying failure waits for the
// background retries to settle.
func (s *chatSession) connect(ctx context.Context) error {
	_, err := s.client.Connect(ctx, s.creds)
	if err == nil {
		return nil
	}
	var cerr *gardenchat.ConnectError
	if !errors.As(err, &cerr) || cerr.Terminal {
		return err
	}
	fmt.Fprintf(os.Stderr, "Connecting to %s: %v (retrying)\n", s.cfg.brokerURL(), cerr.Err)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.client.Events():
			if !ok {
				return gardenchat.ErrClientClosed
			}
			switch ev.Type {
			case gardenchat.EventReady:
				return nil
			case gardenchat.EventConnectFailed:
				return ev.Err
			}
		}
	}
}

func (s *chatSession) close() {
	_ = s.client.Close()
	if s.history != nil {
		_ = s.history.Close()
	}
}

// announce publishes the presence beacon. Failures only matter to the log.
func (s *chatSession) announce(ctx context.Context) {
	if err := s.client.PublishPresence(ctx, s.creds.Username); err != nil {
		logger.Warn("presence beacon failed", zap.Error(err))
	}
}

func (s *chatSession) leave(ctx context.Context) {
	if err := s.client.PublishOffline(ctx, s.creds.Username); err != nil {
		logger.Debug("offline beacon failed", zap.Error(err))
	}
}

// watchEvents reports connection events until ctx ends. onReady runs after
// every (re)connect.
func (s *chatSession) watchEvents(ctx context.Context, report func(string), onReady func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.client.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case gardenchat.EventReady:
				report("connected")
				if onReady != nil {
					onReady()
				}
			case gardenchat.EventReconnecting:
				report(fmt.Sprintf("connection lost, retry %d in %s", ev.Attempt, ev.Delay))
			case gardenchat.EventConnectFailed:
				report(fmt.Sprintf("giving up: %v", ev.Err))
			case gardenchat.EventBrokerError, gardenchat.EventWarning:
				report(fmt.Sprintf("%s: %v", ev.Type, ev.Err))
			}
		}
	}
}

// openHistory opens the local message history, ~/.gardenchat/history.db
// unless configured otherwise.
func openHistory(cfg *Config) (*gardenchat.SQLiteHistory, error) {
	path := cfg.Default.History
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "history.db")
	}
	h, err := gardenchat.OpenSQLiteHistory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 16 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..." + token[len(token)-4:]
}

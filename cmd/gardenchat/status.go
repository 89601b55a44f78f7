package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	gardenchat "github.com/KhaoticNeutral/gardenchat-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration, check whether the token is expired, and probe the broker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  API URL:    %s\n", cfg.apiURL())
		fmt.Printf("  Broker URL: %s\n", cfg.brokerURL())
		fmt.Printf("  Groups:     %s\n", strings.Join(cfg.groups(), ", "))
		if cfg.Relay.AMQPURL != "" {
			fmt.Printf("  Relay:      exchange %s\n", cfg.exchange())
		}

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  Username:   %s\n", valueOrDefault(cfg.Auth.Username, "(not signed in)"))
		fmt.Printf("  Token:      %s\n", tokenStatus(cfg.Auth, time.Now()))

		if cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		s, err := newChatSession(cfg)
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
			return nil
		}
		defer s.close()

		if last, err := s.history.Username(cmd.Context()); err == nil && last != "" {
			fmt.Printf("  Last user:  %s\n", last)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		sess, err := s.client.Connect(ctx, s.creds)
		if err != nil {
			fmt.Printf("  Broker:     unreachable (%v)\n", err)
			return nil
		}
		fmt.Printf("  Broker:     connected (STOMP %s, %s)\n", sess.Version, valueOrDefault(sess.Server, "unknown server"))
		if sess.HeartbeatOutgoing > 0 || sess.HeartbeatIncoming > 0 {
			fmt.Printf("  Heart-beat: send %s, receive %s\n", sess.HeartbeatOutgoing, sess.HeartbeatIncoming)
		}
		return s.client.Disconnect()
	},
}

// tokenStatus describes the stored token, reading the expiry from the token
// itself when the config has none.
func tokenStatus(auth ConfigAuth, now time.Time) string {
	if auth.Token == "" {
		return "none"
	}

	var expires time.Time
	if auth.TokenExpires != "" {
		t, err := time.Parse(time.RFC3339, auth.TokenExpires)
		if err != nil {
			return fmt.Sprintf("present (unparseable expiry: %s)", auth.TokenExpires)
		}
		expires = t
	} else if t, err := gardenchat.TokenExpiry(auth.Token); err == nil {
		expires = t
	}

	if expires.IsZero() {
		return fmt.Sprintf("present, %s (no expiry set)", maskToken(auth.Token))
	}
	if now.Before(expires) {
		return fmt.Sprintf("valid (expires %s)", expires.Format(time.RFC3339))
	}
	return fmt.Sprintf("EXPIRED (expired %s)", expires.Format(time.RFC3339))
}

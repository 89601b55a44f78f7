package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	gardenchat "github.com/KhaoticNeutral/gardenchat-go"
)

var (
	// tail
	tailTyping   bool
	tailPresence bool
	tailHistory  int
)

func init() {
	tailCmd.Flags().BoolVar(&tailTyping, "typing", false, "Show typing indicators")
	tailCmd.Flags().BoolVar(&tailPresence, "presence", false, "Show online users")
	tailCmd.Flags().IntVar(&tailHistory, "history", 10, "Print this many stored messages per group first")
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(sendCmd)
}

// ============================================================================
// tail
// ============================================================================

var tailCmd = &cobra.Command{
	Use:   "tail [group...]",
	Short: "Follow chat groups",
	Long:  "Print messages from the given groups (the configured groups by default) until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(args) > 0 {
			cfg.Default.Groups = args
		}

		s, err := newChatSession(cfg)
		if err != nil {
			return err
		}
		defer s.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for _, g := range cfg.groups() {
			printHistory(ctx, s.history, g, tailHistory)
			if _, err := s.client.SubscribeMessages(g, printMessage); err != nil {
				return fmt.Errorf("subscribe %s: %w", g, err)
			}
			if tailTyping {
				if _, err := s.client.SubscribeTyping(g, printTyping); err != nil {
					return fmt.Errorf("subscribe typing %s: %w", g, err)
				}
			}
		}
		if tailPresence {
			if _, err := s.client.SubscribePresence(func(p gardenchat.PresenceUpdate) {
				fmt.Printf("* online: %s\n", strings.Join(p.Users, ", "))
			}); err != nil {
				return fmt.Errorf("subscribe presence: %w", err)
			}
		}

		if err := s.connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		s.announce(ctx)
		fmt.Fprintf(os.Stderr, "Following %s as %s. Ctrl-C to stop.\n", strings.Join(cfg.groups(), ", "), s.creds.Username)

		s.watchEvents(ctx, func(line string) {
			fmt.Fprintf(os.Stderr, "-- %s\n", line)
		}, func() { s.announce(ctx) })

		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.leave(leaveCtx)
		return nil
	},
}

func printHistory(ctx context.Context, h gardenchat.History, group string, limit int) {
	if limit <= 0 {
		return
	}
	msgs, err := h.Messages(ctx, group, limit)
	if err != nil {
		logger.Warn("history unavailable", zap.String("group", group), zap.Error(err))
		return
	}
	for _, m := range msgs {
		printMessage(m)
	}
}

func printMessage(m gardenchat.ChatMessage) {
	fmt.Println(formatMessage(m))
}

func formatMessage(m gardenchat.ChatMessage) string {
	at := "--:--"
	if !m.Timestamp.IsZero() {
		at = m.Timestamp.Local().Format("15:04")
	}
	return fmt.Sprintf("[%s] #%s <%s> %s", at, m.Group, m.Sender, m.Content)
}

func printTyping(ev gardenchat.TypingEvent) {
	if ev.Active {
		fmt.Printf("* %s is typing in #%s\n", ev.Username, ev.Group)
	}
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <group> <message...>",
	Short: "Post a message to a group",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		group := args[0]
		if !containsGroup(cfg.groups(), group) {
			cfg.Default.Groups = append(cfg.groups(), group)
		}

		s, err := newChatSession(cfg)
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := s.connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		msg, err := gardenchat.NewChatMessage(s.creds.Username, strings.Join(args[1:], " "), group)
		if err != nil {
			return err
		}
		if err := s.client.PublishMessage(ctx, msg); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent to #%s\n", msg.Group)
		return s.client.Disconnect()
	},
}

func containsGroup(groups []string, group string) bool {
	for _, g := range groups {
		if strings.TrimSpace(g) == strings.TrimSpace(group) {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KhaoticNeutral/gardenchat-go/internal/relay"
)

var (
	// bridge
	bridgeAMQPURL  string
	bridgeExchange string
	bridgeTyping   bool
	bridgePresence bool
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeAMQPURL, "amqp-url", "", "AMQP URL (overrides relay.amqp_url)")
	bridgeCmd.Flags().StringVar(&bridgeExchange, "exchange", "", "Topic exchange name (overrides relay.exchange)")
	bridgeCmd.Flags().BoolVar(&bridgeTyping, "typing", false, "Relay typing indicators")
	bridgeCmd.Flags().BoolVar(&bridgePresence, "presence", false, "Relay online users")
	rootCmd.AddCommand(bridgeCmd)
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge [group...]",
	Short: "Relay chat traffic to an AMQP topic exchange",
	Long: "Mirror messages of the given groups into a RabbitMQ topic exchange with routing keys\n" +
		"chat.<group>, typing.<group> and presence. Without an AMQP URL events are only logged.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(args) > 0 {
			cfg.Default.Groups = args
		}
		if bridgeAMQPURL != "" {
			cfg.Relay.AMQPURL = bridgeAMQPURL
		}
		if bridgeExchange != "" {
			cfg.Relay.Exchange = bridgeExchange
		}

		s, err := newChatSession(cfg)
		if err != nil {
			return err
		}
		defer s.close()

		pub := relay.NewPublisher(cfg.Relay.AMQPURL, cfg.exchange(), logger.Named("relay"))
		defer pub.Close()

		bridge := relay.NewBridge(pub, logger.Named("relay"), relay.Options{
			Typing:   bridgeTyping,
			Presence: bridgePresence,
		})
		if err := bridge.Attach(s.client, cfg.groups()...); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := s.connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		mode := relay.Mode(pub)
		if reason := relay.NoopReason(pub); reason != "" {
			mode += " (" + reason + ")"
		}
		fmt.Fprintf(os.Stderr, "Relaying %s to exchange %s, mode %s. Ctrl-C to stop.\n",
			strings.Join(cfg.groups(), ", "), cfg.exchange(), mode)

		go s.watchEvents(ctx, func(line string) {
			logger.Info("connection", zap.String("event", line))
		}, nil)

		err = bridge.Run(ctx)
		sent, dropped := bridge.Stats()
		fmt.Fprintf(os.Stderr, "Relayed %d events, dropped %d.\n", sent, dropped)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

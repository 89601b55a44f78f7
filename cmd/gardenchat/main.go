package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	gardenchat "github.com/KhaoticNeutral/gardenchat-go"
)

const (
	defaultBrokerURL = "ws://localhost:8088/ws"
	defaultExchange  = "gardenchat"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.gardenchat/config.toml.
// Environment variables override file values at load time.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
	Relay   ConfigRelay   `toml:"relay"`
}

// ConfigDefault holds endpoints and chat settings.
type ConfigDefault struct {
	APIURL    string   `toml:"api_url" env:"GARDENCHAT_API_URL"`
	BrokerURL string   `toml:"broker_url" env:"GARDENCHAT_BROKER_URL"`
	Groups    []string `toml:"groups" env:"GARDENCHAT_GROUPS" envSeparator:","`
	History   string   `toml:"history" env:"GARDENCHAT_HISTORY"`
}

// ConfigAuth holds the signed-in account.
type ConfigAuth struct {
	Username     string `toml:"username" env:"GARDENCHAT_USERNAME"`
	Token        string `toml:"token" env:"GARDENCHAT_TOKEN"`
	TokenExpires string `toml:"token_expires"`
}

// ConfigRelay holds the AMQP bridge settings.
type ConfigRelay struct {
	AMQPURL  string `toml:"amqp_url" env:"GARDENCHAT_AMQP_URL"`
	Exchange string `toml:"exchange" env:"GARDENCHAT_AMQP_EXCHANGE"`
}

func (c *Config) apiURL() string {
	return valueOrDefault(c.Default.APIURL, gardenchat.DefaultAPIURL)
}

func (c *Config) brokerURL() string {
	return valueOrDefault(c.Default.BrokerURL, defaultBrokerURL)
}

func (c *Config) groups() []string {
	if len(c.Default.Groups) == 0 {
		return []string{"general"}
	}
	return c.Default.Groups
}

func (c *Config) exchange() string {
	return valueOrDefault(c.Relay.Exchange, defaultExchange)
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.gardenchat, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".gardenchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// readConfigFile parses the config file alone. A missing file yields a
// zero-value Config.
func readConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadConfig reads the config file and overlays GARDENCHAT_* variables.
func loadConfig() (*Config, error) {
	cfg, err := readConfigFile()
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	debugFlag       bool
	metricsAddrFlag string

	logger            = zap.NewNop()
	shutdownTelemetry = func(context.Context) error { return nil }
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Verbose development logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

var rootCmd = &cobra.Command{
	Use:   "gardenchat",
	Short: "Garden Chat CLI",
	Long:  "Command-line client for Garden Chat.\nSign in, follow chat groups, send messages, and relay traffic to AMQP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(debugFlag)
		if err != nil {
			return err
		}
		logger = log

		shutdown, err := setupTracing(cmd.Context())
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			shutdownTelemetry = shutdown
		}

		if metricsAddrFlag != "" {
			serveMetrics(metricsAddrFlag, logger)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = shutdownTelemetry(context.Background())
		_ = logger.Sync()
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// configKey is one settable entry of the config file.
type configKey struct {
	name   string
	usage  string
	secret bool
	get    func(*Config) string
	set    func(*Config, string)
}

var configKeys = []configKey{
	{
		name:  "default.api_url",
		usage: "account API base URL",
		get:   (*Config).apiURL,
		set:   func(c *Config, v string) { c.Default.APIURL = v },
	},
	{
		name:  "default.broker_url",
		usage: "STOMP-over-WebSocket endpoint",
		get:   (*Config).brokerURL,
		set:   func(c *Config, v string) { c.Default.BrokerURL = v },
	},
	{
		name:  "default.groups",
		usage: "comma-separated groups to follow",
		get:   func(c *Config) string { return strings.Join(c.groups(), ",") },
		set:   func(c *Config, v string) { c.Default.Groups = splitList(v) },
	},
	{
		name:  "default.history",
		usage: "SQLite history file",
		get:   func(c *Config) string { return c.Default.History },
		set:   func(c *Config, v string) { c.Default.History = v },
	},
	{
		name:  "auth.username",
		usage: "signed-in user",
		get:   func(c *Config) string { return c.Auth.Username },
		set:   func(c *Config, v string) { c.Auth.Username = v },
	},
	{
		name:   "auth.token",
		usage:  "bearer token from login",
		secret: true,
		get:    func(c *Config) string { return c.Auth.Token },
		set:    func(c *Config, v string) { c.Auth.Token = v },
	},
	{
		name:  "auth.token_expires",
		usage: "token expiry (RFC 3339)",
		get:   func(c *Config) string { return c.Auth.TokenExpires },
		set:   func(c *Config, v string) { c.Auth.TokenExpires = v },
	},
	{
		name:  "relay.amqp_url",
		usage: "AMQP broker for the bridge command",
		get:   func(c *Config) string { return c.Relay.AMQPURL },
		set:   func(c *Config, v string) { c.Relay.AMQPURL = v },
	},
	{
		name:  "relay.exchange",
		usage: "AMQP topic exchange",
		get:   (*Config).exchange,
		set:   func(c *Config, v string) { c.Relay.Exchange = v },
	},
}

func lookupConfigKey(name string) (configKey, bool) {
	for _, k := range configKeys {
		if k.name == name {
			return k, true
		}
	}
	return configKey{}, false
}

func configKeyNames() []string {
	names := make([]string, 0, len(configKeys))
	for _, k := range configKeys {
		names = append(names, k.name)
	}
	sort.Strings(names)
	return names
}

// setConfigValue sets a config field by its section.field name.
func setConfigValue(cfg *Config, key, value string) error {
	k, ok := lookupConfigKey(key)
	if !ok {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(configKeyNames(), ", "))
	}
	k.set(cfg, value)
	return nil
}

// configKeysHelp renders the key table for command help.
func configKeysHelp() string {
	var b strings.Builder
	b.WriteString("Keys:\n")
	for _, k := range configKeys {
		fmt.Fprintf(&b, "  %-20s %s\n", k.name, k.usage)
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	configShowCmd.Flags().BoolVar(&showSecretsFlag, "show-secrets", false, "Print the token unmasked")
}

var showSecretsFlag bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change gardenchat settings",
	Long: "Settings live in ~/.gardenchat/config.toml. GARDENCHAT_* environment " +
		"variables take precedence when set.\n\n" + configKeysHelp(),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, k := range configKeys {
			v := k.get(cfg)
			if k.secret && !showSecretsFlag {
				v = maskToken(v)
			}
			if v == "" {
				v = "(unset)"
			}
			fmt.Printf("%-20s %s\n", k.name, v)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting in the config file",
	Long:  "Store a setting in the config file.\nExample: gardenchat config set default.groups general,plant-care\n\n" + configKeysHelp(),
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return configKeyNames(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfigFile()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("%s updated\n", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

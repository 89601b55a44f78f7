package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	gardenchat "github.com/KhaoticNeutral/gardenchat-go"
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register <username> <password>",
	Short: "Create a Garden Chat account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		auth := gardenchat.NewAuthClient(cfg.apiURL(), nil)
		if err := auth.Register(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Println("Registration successful!")
		fmt.Printf("  Username: %s\n", args[0])
		fmt.Println("Run 'gardenchat login' to sign in.")
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Sign in and store the token in ~/.gardenchat/config.toml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, password := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		result, err := gardenchat.NewAuthClient(cfg.apiURL(), nil).Login(ctx, username, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		// Persist only file values; env overrides stay out of the file.
		fileCfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fileCfg.Auth.Username = result.Username
		fileCfg.Auth.Token = result.Token
		fileCfg.Auth.TokenExpires = ""
		if !result.ExpiresAt.IsZero() {
			fileCfg.Auth.TokenExpires = result.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := saveConfig(fileCfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if history, err := openHistory(cfg); err == nil {
			_ = history.SetUsername(ctx, result.Username)
			_ = history.Close()
		}

		fmt.Println("Login successful!")
		fmt.Printf("  Username: %s\n", result.Username)
		if fileCfg.Auth.TokenExpires != "" {
			fmt.Printf("  Token expires: %s\n", fileCfg.Auth.TokenExpires)
		}
		return nil
	},
}

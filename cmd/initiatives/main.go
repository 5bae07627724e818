package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/garnizeh/initiatives/api"
	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/internal/obs"
	"github.com/garnizeh/initiatives/pkg/userstore"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	// Global flags
	configPath string
	tabKey     string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "initiatives",
	Short: "Virgin Initiatives server and client",
	Long: `initiatives runs the user store and catalog HTTP service and offers
client commands that sign in against it and show the participation dashboard.

Server:
  initiatives serve
  initiatives db init|backup|restore
  initiatives seed --file users.json
  initiatives catalog check --file initiatives.csv

Client:
  initiatives signup|login|logout|whoami|profile|dashboard|friends`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		logger = obs.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
		slog.SetDefault(logger)
		api.SetLogger(logger)
		userstore.SetLogger(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML file")
	rootCmd.PersistentFlags().StringVar(&tabKey, "tab", "default", "session slot; each tab keeps its own sign-in")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

/*
Package main is the entry point for the analyst CLI.

analyst is a conversational data analyst: it classifies each message, turns
data questions into SQL against the configured warehouse and answers in
plain language, keeping a per-session history.

Usage:

	analyst [command]

Available Commands:

	serve       Run the HTTP JSON API
	telegram    Run the Telegram bot
	chat        Talk to the analyst in the terminal
	stats       Show statistics for a stored session
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xaenox/analyst-bot/internal/cli"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts cli.Options

	rootCmd := &cobra.Command{
		Use:           "analyst",
		Short:         "Conversational data analyst",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Config file (default config.yaml when present)")
	rootCmd.PersistentFlags().BoolVar(&opts.InMemory, "memory", false, "Keep conversation history in memory only")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(cli.NewServeCmd(&opts))
	rootCmd.AddCommand(cli.NewTelegramCmd(&opts))
	rootCmd.AddCommand(cli.NewChatCmd(&opts))
	rootCmd.AddCommand(cli.NewStatsCmd(&opts))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

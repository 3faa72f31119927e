package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/livecenter/internal/livecenter/app"
)

var (
	envFile  string
	route    string
	entryURL string
)

var rootCmd = &cobra.Command{
	Use:   "livecenter",
	Short: "Command line client for the livecenter backend",
	Long: `livecenter talks to the livecenter REST backend with a persisted login session.
Requests carry the session token and are retried on network failures; an
expired or rejected session sends you to the login page.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file first")
	rootCmd.PersistentFlags().StringVar(&route, "route", "", "route the client is on, stashed as the post-login target")
	rootCmd.PersistentFlags().StringVar(&entryURL, "entry-url", "", "URL the client was opened with (may carry ?token=)")
}

// openApp builds the application from the environment and global flags.
func openApp(cmd *cobra.Command) (*app.Application, error) {
	cfg := app.LoadConfig()
	cfg.StartRoute = route
	cfg.EntryURL = entryURL

	return app.New(cmdContext(cmd), cfg, cmd.OutOrStdout())
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

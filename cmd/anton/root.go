package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chaturyaganne/ai-agent/internal/app"
	"github.com/chaturyaganne/ai-agent/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "anton",
	Short: "Anton is a 7-day onboarding companion",
	Long:  `Anton asks one question a day for a week, remembers the answers, and keeps chatting once onboarding is done.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if db, _ := cmd.Flags().GetString("db"); db != "" {
			loaded.DBPath = db
		}
		if user, _ := cmd.Flags().GetString("username"); user != "" {
			loaded.DefaultUsername = user
		}
		cfg = loaded

		setupLogger(os.Stdout, cfg.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringP("username", "u", "", "User to act as (overrides DEFAULT_USERNAME)")
}

func setupLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// withApp builds the application for the duration of fn.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close application", "error", closeErr)
		}
	}()
	return fn(a)
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chaturyaganne/ai-agent/internal/app"
)

// userDeleter removes a user and everything stored for them.
type userDeleter interface {
	DeleteUser(ctx context.Context, username string) error
}

var deleteUserCmd = &cobra.Command{
	Use:   "delete-user",
	Short: "Delete a user with all answers and messages",
	Long: `Delete a user with all answers and messages.

A running server keeps no state for the deleted user that outlives it: a
user created again under the same name gets a fresh id and an empty history.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("username") {
			return fmt.Errorf("--username is required")
		}

		return withApp(cmd.Context(), func(a *app.App) error {
			return runDeleteUser(cmd.Context(), a.Orchestrator, cfg.DefaultUsername, cmd.OutOrStdout())
		})
	},
}

func runDeleteUser(ctx context.Context, d userDeleter, username string, out io.Writer) error {
	if err := d.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("delete %s: %w", username, err)
	}
	slog.Info("User deleted", "username", username)
	fmt.Fprintf(out, "Deleted %s\n", username)
	return nil
}

func init() {
	rootCmd.AddCommand(deleteUserCmd)
}

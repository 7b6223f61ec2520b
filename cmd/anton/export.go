package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaturyaganne/ai-agent/internal/app"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a user's answers and conversation as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		outPath, _ := cmd.Flags().GetString("out")

		return withApp(cmd.Context(), func(a *app.App) error {
			transcript, err := a.Orchestrator.ExportTranscript(cmd.Context(), cfg.DefaultUsername)
			if err != nil {
				return fmt.Errorf("export %s: %w", cfg.DefaultUsername, err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer func() {
					if closeErr := f.Close(); closeErr != nil {
						slog.Error("Failed to close export file", "path", outPath, "error", closeErr)
					}
				}()
				w = f
			}

			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(transcript); err != nil {
				return fmt.Errorf("write transcript: %w", err)
			}
			slog.Info("Transcript exported",
				"username", cfg.DefaultUsername,
				"answers", len(transcript.OnboardingData),
				"messages", len(transcript.ConversationHistory),
			)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
}

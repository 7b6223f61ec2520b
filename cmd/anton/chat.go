package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/chaturyaganne/ai-agent/internal/app"
	"github.com/chaturyaganne/ai-agent/internal/onboarding"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to Anton in the terminal",
	Long: `Starts an interactive conversation.

Commands:
  /done     mark today's question complete and move to the next day
  /status   show onboarding progress
  /export   print the full transcript as JSON
  /quit     leave the conversation`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Keep the terminal readable; logs go to stderr.
		setupLogger(os.Stderr, slog.LevelWarn)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		render := newRenderer()
		return withApp(ctx, func(a *app.App) error {
			ctx := onboarding.WithChannel(ctx, "cli")
			return runChat(ctx, a.Orchestrator, cfg.DefaultUsername, os.Stdin, cmd.OutOrStdout(), render)
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// chatConversation is the orchestrator surface the terminal chat uses.
type chatConversation interface {
	InitializeSession(ctx context.Context, username string) (string, error)
	HandleUserMessage(ctx context.Context, username, text string) (onboarding.Reply, error)
	AdvanceDay(ctx context.Context, username string) (onboarding.Advance, error)
	CurrentStatus(ctx context.Context, username string) (*onboarding.Status, error)
	ExportTranscript(ctx context.Context, username string) (*onboarding.Transcript, error)
}

// newRenderer returns a function that renders markdown using glamour,
// falling back to the raw text when no renderer is available.
func newRenderer() func(string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(s string) string { return s + "\n" }
	}
	return func(markdown string) string {
		out, err := r.Render(markdown)
		if err != nil {
			return markdown + "\n"
		}
		return out
	}
}

//nolint:gocognit // Command dispatch is a flat switch over chat commands.
func runChat(ctx context.Context, conv chatConversation, username string, in io.Reader, out io.Writer, render func(string) string) error {
	say := func(text string) {
		fmt.Fprint(out, render("**Anton:** "+text))
	}

	greeting, err := conv.InitializeSession(ctx, username)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	say(greeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/done":
			adv, err := conv.AdvanceDay(ctx, username)
			if err != nil {
				return fmt.Errorf("advance day: %w", err)
			}
			say(adv.Text)
		case "/status":
			status, err := conv.CurrentStatus(ctx, username)
			if err != nil {
				return fmt.Errorf("load status: %w", err)
			}
			fmt.Fprintln(out, formatStatus(status))
		case "/export":
			transcript, err := conv.ExportTranscript(ctx, username)
			if err != nil {
				return fmt.Errorf("export transcript: %w", err)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(transcript); err != nil {
				return err
			}
		default:
			reply, err := conv.HandleUserMessage(ctx, username, line)
			if err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			say(reply.Text)
			if reply.ShowAdvanceControl {
				fmt.Fprintln(out, "(type /done when you're ready for tomorrow's question)")
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func formatStatus(s *onboarding.Status) string {
	if s.OnboardingComplete {
		return fmt.Sprintf("%s: onboarding complete. %s", s.Username, s.CurrentQuestion)
	}
	return fmt.Sprintf("%s: day %d/7. %s", s.Username, s.CurrentDay, s.CurrentQuestion)
}

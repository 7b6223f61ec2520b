package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/chaturyaganne/ai-agent/internal/app"
	"github.com/chaturyaganne/ai-agent/internal/llm"
)

var sidecarCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Serve a text generation backend over gRPC",
	Long: `Runs the model server that "anton serve" reaches when LLM_PROVIDER=grpc.
The backend is chosen with --backend and configured from the usual environment.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		backend, _ := cmd.Flags().GetString("backend")
		if backend == "grpc" {
			return errors.New("sidecar cannot forward to another sidecar")
		}

		llmCfg := cfg.LLM
		llmCfg.Provider = backend
		gen, err := app.NewGenerator(cmd.Context(), llmCfg, slog.Default())
		if err != nil {
			return err
		}

		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", listen, err)
		}

		srv := grpc.NewServer()
		llm.RegisterGeneratorServer(srv, gen)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			slog.Info("Model server listening", "addr", ln.Addr().String(), "backend", gen.Name())
			return srv.Serve(ln)
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("Stopping model server")
			srv.GracefulStop()
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(sidecarCmd)
	sidecarCmd.Flags().String("listen", ":50051", "Address to listen on")
	sidecarCmd.Flags().String("backend", "huggingface", "Backend to serve: huggingface or gemini")
}

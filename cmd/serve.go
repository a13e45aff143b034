package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"tableocr/internal/logger"
	"tableocr/internal/processor"
	"tableocr/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve the project store and the processor over HTTP. The API mirrors
the CLI: prompts, schemas, projects, file uploads, direct and batch
processing, and results. Liveness (/healthz), readiness (/readyz) and
Prometheus metrics (/metrics) run on the same listener.

The server shuts down gracefully on SIGINT or SIGTERM, draining
in-flight requests.

Required environment variables:
  OPENAI_API_KEY - API key used to authenticate requests`,
	Example: `  # Default bind address from SERVER_ADDR (:8080)
  tableocr serve

  # Explicit address
  tableocr serve --addr 127.0.0.1:9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Bind address (default: SERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")

	cfg, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	svc, err := newExtractionService(cfg, log)
	if err != nil {
		return err
	}
	proc := processor.New(st, svc, svc, cfg)

	if addr == "" {
		addr = cfg.ServerAddr
	}

	log.Info().
		Str("addr", addr).
		Str("data_dir", cfg.DataDir).
		Str("model", cfg.Model).
		Msg("Starting HTTP API server")

	ctx, cancel := createSignalContext(log)
	defer cancel()

	srv := server.New(addr, st, proc, cfg)
	return srv.Run(ctx)
}

// createSignalContext returns a context cancelled by SIGINT or SIGTERM.
// Unlike createContextWithTimeout there is no deadline; a server runs
// until told to stop.
func createSignalContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

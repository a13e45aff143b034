package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tableocr/internal/config"
	"tableocr/internal/logger"
	"tableocr/internal/processor"
	"tableocr/internal/store"
)

// Server runs the HTTP API with graceful shutdown.
type Server struct {
	addr    string
	handler http.Handler
	log     zerolog.Logger
}

// New assembles the handler and its middleware chain. Request IDs are
// stamped outermost so the log and metrics layers see them.
func New(addr string, st *store.Store, proc *processor.Processor, cfg *config.Config) *Server {
	log := logger.WithComponent("server")

	var handler http.Handler = NewRouter(NewHandler(st, proc, cfg))
	handler = Metrics(handler)
	handler = RequestLog(log, handler)
	handler = RequestID(handler)

	return &Server{addr: addr, handler: handler, log: log}
}

// Run serves until the context is cancelled, then drains in-flight
// requests. Direct extractions can run for minutes, so no write
// timeout is set; slow-header clients are still cut off.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 40 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.Info().Str("addr", s.addr).Msg("HTTP server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("Graceful shutdown timed out, closing")
		return srv.Close()
	}
	return nil
}

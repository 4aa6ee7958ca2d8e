// ActionChat broker — turns natural language into authenticated API
// calls against an org's bound sources.
//
// This is the main entry point for the broker server. It provides:
//   - Chat turns streamed over SSE, with tool dispatch and approvals
//   - Source binding and ingestion (OpenAPI, MCP, manual)
//   - Per-user credential management
//   - The append-only action audit trail
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/pkg/server"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("ActionChat broker starting...")

	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srv.Store.Close()
	defer srv.Pool.CloseAll()
	defer srv.ShutdownFunc(ctx)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", srv.Port),
		Handler:     srv.Handler,
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat turns stream over SSE and may stay
		// open through a full approval window.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", srv.Port).Msg("ActionChat broker listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

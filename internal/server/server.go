// Package server wraps an http.Server behind a constructor taking an
// address and a handler, and symmetric Start/Stop methods a cmd/ package
// can call without knowing anything about the transport underneath.
//
// Both cmd/gatewayd and cmd/ebicssim share this wrapper: the gateway daemon
// serves internal/httpapi's JSON router, the simulator serves a handler that
// forwards to internal/demobank.Bank.Handle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Server is an HTTP listener with graceful shutdown.
type Server struct {
	address string
	httpSrv *http.Server
}

// NewServer configures and returns a Server bound to address, serving handler.
func NewServer(address string, handler http.Handler) *Server {
	return &Server{
		address: address,
		httpSrv: &http.Server{
			Addr:         address,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins listening and blocks until the server stops or fails.
func (s *Server) Start() error {
	log.Info().Str("address", s.address).Msg("server started")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, giving in-flight requests up to
// shutdownTimeout to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Str("address", s.address).Msg("server stopping")
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Package server owns the HTTP listener lifecycle.
package server

import (
	"context"
	"net/http"
	"time"

	"social-oauth/internal/common/logging"
)

type Server struct {
	srv    *http.Server
	logger logging.Logger
}

func New(handler http.Handler, port string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger.WithFields(logging.Field{Key: "component", Value: "server"}),
	}
}

// Start begins serving in the background. Listener failures after startup
// are logged rather than panicking the process.
func (s *Server) Start() error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("listener stopped unexpectedly", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

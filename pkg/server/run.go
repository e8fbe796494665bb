package server

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Start binds the listener and launches the event loop and metrics endpoint.
// It returns once the server is accepting connections.
func (s *Server) Start() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}

	count, err := s.store.NonTx().CountUsers()
	if err != nil {
		return fmt.Errorf("server: load credential store: %w", err)
	}
	slog.Info("credential store loaded", "registered_users", count)

	if err := s.startListener(); err != nil {
		return err
	}
	go s.loop()

	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	return nil
}

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("GoChat server running", "addr", s.Addr())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server: stop accepting, close every admitted
// connection, then close the store.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	<-s.done // event loop has closed all sessions
	if closer, ok := s.store.(io.Closer); ok {
		_ = closer.Close()
	}
}

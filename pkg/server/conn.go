package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// startListener binds the TLS listener and starts accepting connections.
func (s *Server) startListener() error {
	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	ln, err := tls.Listen("tcp", s.cfg.Addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	slog.Info("chat server listening", "addr", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleConn(conn)
		}
	}()

	return nil
}

// handleConn owns one client connection's reads: the authentication exchange
// first, then framed chat lines. Registry state is never touched here; the
// goroutine talks to the event loop through channels only. A TLS handshake
// failure surfaces as a read error during authentication and discards the
// connection before it reaches any application state.
func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remoteAddr := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new connection", "remote", remoteAddr)

	username, err := authenticate(conn, s.store)
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		slog.Info("authentication failed", "remote", remoteAddr, "err", err)
		return
	}

	// Hand the connection to the event loop for admission.
	reply := make(chan error, 1)
	select {
	case s.admitCh <- admitRequest{conn: conn, addr: remoteAddr, username: username, reply: reply}:
	case <-s.ctx.Done():
		return
	}
	select {
	case err = <-reply:
	case <-s.ctx.Done():
		return
	}
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		slog.Info("admission refused", "user", username, "remote", remoteAddr, "err", err)
		_ = protocol.WriteFrame(conn, "Authentication failed: "+err.Error())
		return
	}
	s.metrics.SuccessfulAuths.Add(1)

	for {
		line, err := protocol.ReadFrame(conn)
		if err != nil {
			if err != io.EOF && !isClosedErr(err) {
				slog.Error("read error", "user", username, "err", err)
			}
			s.sendLeave(conn)
			return
		}
		line = model.SanitizeText(line)
		if err := model.ValidateMessage(line); err != nil {
			continue // blank or oversized line, silently drop
		}
		select {
		case s.commandCh <- inbound{conn: conn, cmd: protocol.ParseCommand(line)}:
		case <-s.ctx.Done():
			return
		}
	}
}

// sendLeave notifies the event loop that conn's session (if any) is gone.
func (s *Server) sendLeave(conn net.Conn) {
	select {
	case s.leaveCh <- conn:
	case <-s.ctx.Done():
	}
}

// isClosedErr matches the close errors seen when the event loop tears a
// connection down while its reader goroutine is blocked. Frame read errors
// arrive wrapped, so match on substring.
func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "tls: use of closed connection")
}

package server

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// admitRequest asks the event loop to promote an authenticated connection to
// a Session. The loop answers on reply: nil on admission, ErrUserOnline if
// the username already has a live session.
type admitRequest struct {
	conn     net.Conn
	addr     string
	username string
	reply    chan error
}

// inbound is one parsed command from an admitted connection.
type inbound struct {
	conn net.Conn
	cmd  protocol.Command
}

// loop is the event loop: the Go rendition of a readiness-multiplexing
// select() loop. It alone owns the registry; admissions, inbound commands and
// disconnects arrive as channel events from the reader goroutines, so no two
// events are ever serviced concurrently and a slow peer never stalls the rest.
func (s *Server) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.closeAll()
			return

		case req := <-s.admitCh:
			req.reply <- s.admit(req)

		case in := <-s.commandCh:
			sess := s.registry.Get(in.conn)
			if sess == nil {
				continue // already torn down
			}
			s.dispatch(sess, in.cmd)

		case conn := <-s.leaveCh:
			s.teardown(conn)
		}
	}
}

// admit promotes an authenticated connection to a Session, acknowledges it
// with the server's view of the peer address, and announces the join. The ack
// is written here, on the loop goroutine, so it is ordered before any
// subsequent frame routed to the new session.
func (s *Server) admit(req admitRequest) error {
	sess, err := s.registry.Admit(req.conn, req.addr, req.username)
	if err != nil {
		return err
	}

	host := req.addr
	if h, _, splitErr := net.SplitHostPort(req.addr); splitErr == nil {
		host = h
	}
	if err := protocol.WriteFrame(sess.Conn, protocol.KeywordClient+host); err != nil {
		s.registry.Remove(req.conn)
		_ = req.conn.Close()
		return fmt.Errorf("admission ack: %w", err)
	}

	slog.Info("client admitted", "user", sess.Username, "remote", sess.Addr, "online", s.registry.Count())
	s.announce(fmt.Sprintf("(Connected: %s is online from %s)", sess.Username, sess.Addr))
	return nil
}

// dispatch routes one parsed command to the router operation it names.
func (s *Server) dispatch(sess *model.Session, cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.KindListRoster:
		s.listRoster(sess)
	case protocol.KindDirectMessage:
		s.directMessage(sess, cmd.Target, cmd.Text)
	case protocol.KindBroadcast:
		s.broadcast(sess, cmd.Text)
	}
}

// teardown removes the session for conn from every registry structure, closes
// the connection, and announces the leave. Safe to call for connections that
// were already removed (or never admitted); only the first removal announces.
func (s *Server) teardown(conn net.Conn) {
	username, ok := s.registry.Remove(conn)
	_ = conn.Close()
	if !ok {
		return
	}
	s.metrics.TotalDisconnects.Add(1)
	slog.Info("client disconnected", "user", username, "online", s.registry.Count())
	s.announce(fmt.Sprintf("(Now hung up: %s)", username))
}

// closeAll tears down every admitted session on shutdown.
func (s *Server) closeAll() {
	for _, sess := range s.registry.All() {
		if _, ok := s.registry.Remove(sess.Conn); ok {
			_ = sess.Conn.Close()
		}
	}
}

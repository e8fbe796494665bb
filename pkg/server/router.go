package server

import (
	"log/slog"
	"strings"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// deliver writes one frame to a session. A write failure is treated exactly
// like that recipient disconnecting: its session is torn down, other
// recipients are unaffected. Returns false if delivery failed.
func (s *Server) deliver(sess *model.Session, text string) bool {
	if err := protocol.WriteFrame(sess.Conn, text); err != nil {
		slog.Warn("write failed, dropping client", "user", sess.Username, "err", err)
		s.teardown(sess.Conn)
		return false
	}
	return true
}

// broadcast delivers "<sender>: <text>" to every admitted session except the
// sender. Best effort per recipient.
func (s *Server) broadcast(sender *model.Session, text string) {
	line := sender.Username + ": " + text
	for _, sess := range s.registry.All() {
		if sess.Conn == sender.Conn {
			continue
		}
		s.deliver(sess, line)
	}
	s.metrics.BroadcastsRelayed.Add(1)
}

// listRoster sends the requester one frame listing all admitted usernames,
// the requester's own included, in admission order.
func (s *Server) listRoster(requester *model.Session) {
	names := s.registry.Names()
	s.deliver(requester, "Online Users:\n"+strings.Join(names, "\n"))
	s.metrics.RosterRequests.Add(1)
}

// directMessage delivers "<sender>: <text>" to the named recipient only.
// An unknown or offline recipient is logged server-side; nothing is delivered
// anywhere and the sender gets no feedback frame.
func (s *Server) directMessage(sender *model.Session, target, text string) {
	sess := s.registry.Resolve(target)
	if sess == nil {
		slog.Info("direct message to unknown user", "from", sender.Username, "target", target)
		return
	}
	if s.deliver(sess, sender.Username+": "+text) {
		s.metrics.DirectMessagesRelayed.Add(1)
	}
}

// announce delivers text to every admitted session, no exclusions. Used for
// join and leave notices.
func (s *Server) announce(text string) {
	for _, sess := range s.registry.All() {
		s.deliver(sess, text)
	}
}

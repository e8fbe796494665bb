package server

import (
	"errors"
	"net"

	"github.com/NicolasHaas/gochat/pkg/model"
)

// ErrUserOnline is returned by Admit when the username already has a live session.
var ErrUserOnline = errors.New("server: user already online")

// Registry tracks admitted sessions. It is not safe for concurrent use: every
// mutation and read happens on the event loop goroutine, which removes the
// need for locks.
type Registry struct {
	byConn map[net.Conn]*model.Session
	byName map[string]*model.Session
	order  []*model.Session // admission order
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[net.Conn]*model.Session),
		byName: make(map[string]*model.Session),
	}
}

// Admit creates a Session for an authenticated connection. A username may be
// live on at most one session at a time; a second admission under the same
// name fails with ErrUserOnline.
func (r *Registry) Admit(conn net.Conn, addr, username string) (*model.Session, error) {
	if _, taken := r.byName[username]; taken {
		return nil, ErrUserOnline
	}
	sess := &model.Session{
		Conn:     conn,
		Addr:     addr,
		Username: username,
	}
	r.byConn[conn] = sess
	r.byName[username] = sess
	r.order = append(r.order, sess)
	return sess, nil
}

// Remove deletes the session for conn from every structure and returns the
// removed username. A no-op returning ok=false for unknown connections, so
// teardown can run more than once for the same connection safely.
func (r *Registry) Remove(conn net.Conn) (string, bool) {
	sess, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	delete(r.byName, sess.Username)
	for i, o := range r.order {
		if o == sess {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return sess.Username, true
}

// Get returns the session for conn, or nil if the connection is not admitted.
func (r *Registry) Get(conn net.Conn) *model.Session {
	return r.byConn[conn]
}

// Resolve returns the live session for username, or nil.
func (r *Registry) Resolve(username string) *model.Session {
	return r.byName[username]
}

// Names returns all admitted usernames in admission order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, sess := range r.order {
		names[i] = sess.Username
	}
	return names
}

// All returns a snapshot of all sessions in admission order. Callers may
// trigger removals while iterating the snapshot.
func (r *Registry) All() []*model.Session {
	out := make([]*model.Session, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of admitted sessions.
func (r *Registry) Count() int {
	return len(r.order)
}

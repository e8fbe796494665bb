package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/NicolasHaas/gochat/pkg/crypto"
	"github.com/NicolasHaas/gochat/pkg/datastore"
	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// authReadTimeout bounds each read of the authentication exchange. The
// exchange runs on the connection's own goroutine, so a peer that completes
// the TLS handshake and then goes silent times out here instead of stalling
// accepts or admitted sessions.
const authReadTimeout = 10 * time.Second

var errAuthRejected = errors.New("server: authentication rejected")

// authenticate runs the login/registration exchange on a freshly accepted
// connection and returns the authenticated username. Any protocol violation,
// wrong password, or mid-exchange disconnect rejects the connection; the
// caller closes it without admitting a session. One failure frame is sent to
// the client where the channel still works.
func authenticate(conn net.Conn, st datastore.DataProviderFactory) (string, error) {
	frame, err := readAuthFrame(conn)
	if err != nil {
		return "", fmt.Errorf("server: read username: %w", err)
	}
	username, ok := protocol.CutKeyword(frame, protocol.KeywordUsername)
	if !ok {
		return "", reject(conn, "first frame must be "+strings.TrimSpace(protocol.KeywordUsername))
	}
	username = strings.TrimSpace(username)
	if err := model.ValidateUsername(username); err != nil {
		return "", reject(conn, "invalid username: "+err.Error())
	}

	user, err := st.NonTx().GetUserByUsername(username)
	if err != nil {
		return "", reject(conn, "internal error")
	}

	if user != nil {
		if err := loginKnownUser(conn, user); err != nil {
			return "", err
		}
		return username, nil
	}
	if err := registerUnknownUser(conn, st, username); err != nil {
		return "", err
	}
	return username, nil
}

// loginKnownUser prompts for and verifies the password of an existing user.
func loginKnownUser(conn net.Conn, user *model.User) error {
	if err := protocol.WriteFrame(conn, protocol.PromptKnownUser); err != nil {
		return fmt.Errorf("server: write prompt: %w", err)
	}
	frame, err := readAuthFrame(conn)
	if err != nil {
		return fmt.Errorf("server: read password: %w", err)
	}
	password, ok := protocol.CutKeyword(frame, protocol.KeywordPassword)
	if !ok {
		return reject(conn, "expected "+strings.TrimSpace(protocol.KeywordPassword)+" frame")
	}
	if !crypto.CheckPassword(user.PasswordHash, password) {
		_ = protocol.WriteFrame(conn, protocol.LoginFailed)
		return fmt.Errorf("%w: wrong password for %q", errAuthRejected, user.Username)
	}
	return protocol.WriteFrame(conn, protocol.LoginOK)
}

// registerUnknownUser prompts for a registration password, stores the salted
// hash durably, and acknowledges. The insert runs in a transaction so two
// connections racing to register the same name cannot both succeed.
func registerUnknownUser(conn net.Conn, st datastore.DataProviderFactory, username string) error {
	if err := protocol.WriteFrame(conn, protocol.PromptUnknownUser); err != nil {
		return fmt.Errorf("server: write prompt: %w", err)
	}
	frame, err := readAuthFrame(conn)
	if err != nil {
		return fmt.Errorf("server: read registration password: %w", err)
	}
	password, ok := protocol.CutKeyword(frame, protocol.KeywordRegister)
	if !ok {
		return reject(conn, "expected "+strings.TrimSpace(protocol.KeywordRegister)+" frame")
	}
	if password == "" {
		return reject(conn, "password must not be empty")
	}

	if err := register(context.Background(), st, username, password); err != nil {
		if errors.Is(err, datastore.ErrUsernameTaken) {
			return reject(conn, "username was registered by someone else, reconnect and log in")
		}
		return reject(conn, "registration failed")
	}
	return protocol.WriteFrame(conn, protocol.RegisterOK)
}

// register persists a new credential record. The duplicate check and insert
// share one transaction; the UNIQUE constraint backstops the race regardless.
func register(ctx context.Context, st datastore.DataProviderFactory, username, password string) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	tx, err := st.Tx(ctx)
	if err != nil {
		return fmt.Errorf("server: begin register tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := tx.GetUserByUsername(username)
	if err != nil {
		return err
	}
	if existing != nil {
		return datastore.ErrUsernameTaken
	}
	if _, err := tx.CreateUser(username, hash); err != nil {
		return err
	}
	return tx.Commit()
}

// readAuthFrame reads one frame under the authentication deadline.
func readAuthFrame(conn net.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authReadTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	return protocol.ReadFrame(conn)
}

// reject sends one failure frame (best effort) and returns the rejection error.
func reject(conn net.Conn, msg string) error {
	_ = protocol.WriteFrame(conn, "Authentication failed: "+msg)
	return fmt.Errorf("%w: %s", errAuthRejected, msg)
}

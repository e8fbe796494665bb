package server

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NicolasHaas/gochat/pkg/client"
	"github.com/NicolasHaas/gochat/pkg/crypto"
	"github.com/NicolasHaas/gochat/pkg/datastore"
)

// startTestServer boots a full server on a loopback port with a fresh
// credential database and a generated self-signed certificate.
func startTestServer(t *testing.T) (*Server, *datastore.ProviderFactory) {
	t.Helper()
	dir := t.TempDir()
	st, err := datastore.NewProviderFactory(filepath.Join(dir, "chat.db"))
	if err != nil {
		t.Fatalf("NewProviderFactory: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.MetricsAddr = "" // no metrics endpoint in tests
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "chat.db")

	srv := New(cfg, Dependencies{Store: st})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Shutdown) // Shutdown also closes the store
	return srv, st
}

// connectUser dials, authenticates (registering the name on first use), and
// consumes the session's own join announcement so subsequent Receive calls
// see chat traffic only.
func connectUser(t *testing.T, addr, username, password string) *client.Client {
	t.Helper()
	c, err := client.Dial(client.Config{Addr: addr, Insecure: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ack, err := c.Login(username, func(bool) (string, error) { return password, nil })
	if err != nil {
		t.Fatalf("Login(%q): %v", username, err)
	}
	if ack == "" {
		t.Fatalf("Login(%q): empty admission ack", username)
	}

	join := receiveFrame(t, c)
	if !strings.HasPrefix(join, "(Connected: "+username) {
		t.Fatalf("first frame after admission = %q, want own join announcement", join)
	}
	return c
}

func receiveFrame(t *testing.T, c *client.Client) string {
	t.Helper()
	msg, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return msg
}

// waitForDisconnects blocks until the event loop has torn down n sessions.
// Closing a client returns before the server has processed the leave, so
// tests that reconnect under the same username wait here first.
func waitForDisconnects(t *testing.T, srv *Server, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Metrics().TotalDisconnects.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d disconnects, have %d",
				n, srv.Metrics().TotalDisconnects.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerRegistrationAndLogin(t *testing.T) {
	srv, st := startTestServer(t)

	alice := connectUser(t, srv.Addr(), "alice", "hunter2")
	_ = alice.Close()
	waitForDisconnects(t, srv, 1)

	// Registration stored a salted hash, not the plaintext.
	user, err := st.NonTx().GetUserByUsername("alice")
	if err != nil || user == nil {
		t.Fatalf("GetUserByUsername: user=%v err=%v", user, err)
	}
	if user.PasswordHash == "hunter2" || !crypto.CheckPassword(user.PasswordHash, "hunter2") {
		t.Fatalf("stored credential is not a verifying hash: %q", user.PasswordHash)
	}

	// Same name and password logs back in.
	again := connectUser(t, srv.Addr(), "alice", "hunter2")
	_ = again.Close()

	// Wrong password is turned away before admission.
	c, err := client.Dial(client.Config{Addr: srv.Addr(), Insecure: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = c.Close() }()
	if _, err := c.Login("alice", func(bool) (string, error) { return "wrong", nil }); err == nil {
		t.Fatal("Login with the wrong password should fail")
	}
	if srv.Metrics().FailedAuths.Load() == 0 {
		t.Fatal("failed login should count as a failed auth")
	}
}

func TestServerChat(t *testing.T) {
	srv, _ := startTestServer(t)
	addr := srv.Addr()

	alice := connectUser(t, addr, "alice", "pw-alice")
	bob := connectUser(t, addr, "bob", "pw-bob")
	carol := connectUser(t, addr, "carol", "pw-carol")

	// Earlier sessions see later joins.
	for _, want := range []string{"(Connected: bob", "(Connected: carol"} {
		if got := receiveFrame(t, alice); !strings.HasPrefix(got, want) {
			t.Fatalf("alice got %q, want join announcement %q...", got, want)
		}
	}
	if got := receiveFrame(t, bob); !strings.HasPrefix(got, "(Connected: carol") {
		t.Fatalf("bob got %q, want carol's join announcement", got)
	}

	// A plain line reaches everyone but the sender.
	if err := bob.Send("hello everyone"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := receiveFrame(t, alice); got != "bob: hello everyone" {
		t.Fatalf("alice got %q", got)
	}
	if got := receiveFrame(t, carol); got != "bob: hello everyone" {
		t.Fatalf("carol got %q", got)
	}

	// A direct message reaches its target only. Bob's next frame after it is
	// the follow-up broadcast, proving the direct message skipped him.
	if err := alice.Send("-sendto carol psst"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := alice.Send("done"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := receiveFrame(t, carol); got != "alice: psst" {
		t.Fatalf("carol got %q, want the direct message", got)
	}
	if got := receiveFrame(t, carol); got != "alice: done" {
		t.Fatalf("carol got %q", got)
	}
	if got := receiveFrame(t, bob); got != "alice: done" {
		t.Fatalf("bob got %q, want only the broadcast after the direct message", got)
	}

	// The roster lists everyone in admission order, requester included.
	if err := alice.Send("-list"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := receiveFrame(t, alice); got != "Online Users:\nalice\nbob\ncarol" {
		t.Fatalf("roster = %q", got)
	}
}

func TestServerLeaveAnnouncedOnce(t *testing.T) {
	srv, _ := startTestServer(t)
	addr := srv.Addr()

	alice := connectUser(t, addr, "alice", "pw-alice")
	bob := connectUser(t, addr, "bob", "pw-bob")
	if got := receiveFrame(t, alice); !strings.HasPrefix(got, "(Connected: bob") {
		t.Fatalf("alice got %q, want bob's join announcement", got)
	}

	// Abrupt disconnect, no farewell frame.
	_ = bob.Close()

	if got := receiveFrame(t, alice); got != "(Now hung up: bob)" {
		t.Fatalf("alice got %q, want the leave announcement", got)
	}

	// The registry has already forgotten bob, and no duplicate leave
	// announcement is queued ahead of the roster reply.
	if err := alice.Send("-list"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := receiveFrame(t, alice); got != "Online Users:\nalice" {
		t.Fatalf("alice got %q, want the roster without bob", got)
	}
}

func TestServerDuplicateUsernameRejected(t *testing.T) {
	srv, _ := startTestServer(t)
	addr := srv.Addr()

	alice := connectUser(t, addr, "alice", "hunter2")
	defer func() { _ = alice.Close() }()

	// A second connection with the right password is still refused while the
	// first session is live.
	c, err := client.Dial(client.Config{Addr: addr, Insecure: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = c.Close() }()
	_, err = c.Login("alice", func(bool) (string, error) { return "hunter2", nil })
	if err == nil {
		t.Fatal("second session for an online username should be refused")
	}
	if !strings.Contains(err.Error(), "already online") {
		t.Fatalf("refusal error = %v, want it to name the live session", err)
	}
}

package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/NicolasHaas/gochat/pkg/crypto"
	"github.com/NicolasHaas/gochat/pkg/datastore"
	"github.com/NicolasHaas/gochat/pkg/model"
)

func newTestSQLConn(t *testing.T) *datastore.ProviderFactory {
	t.Helper()

	// Unique on-disk database per test so restart behavior can be simulated
	// by reopening the same path.
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		t.Fatalf("datastore_test: failed to open db: %v", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st
}

func TestCreateAndGetUser(t *testing.T) {
	t.Parallel()
	st := newTestSQLConn(t)

	hash, err := crypto.HashPassword("pw1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	created, err := st.NonTx().CreateUser("alice", hash)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("CreateUser: expected assigned ID")
	}

	got, err := st.NonTx().GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got == nil {
		t.Fatal("GetUserByUsername: expected user, got nil")
	}
	if diff := cmp.Diff(created, got, cmpopts.IgnoreFields(model.User{}, "CreatedAt")); diff != "" {
		t.Errorf("user mismatch (-want +got):\n%s", diff)
	}
	if got.PasswordHash == "pw1" {
		t.Fatal("stored hash must not be the plaintext password")
	}
	if !crypto.CheckPassword(got.PasswordHash, "pw1") {
		t.Fatal("stored hash should verify the original password")
	}
}

func TestGetUserAbsent(t *testing.T) {
	t.Parallel()
	st := newTestSQLConn(t)

	got, err := st.NonTx().GetUserByUsername("nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent user, got %+v", got)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	t.Parallel()
	st := newTestSQLConn(t)

	if _, err := st.NonTx().CreateUser("alice", "hash-a"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, err := st.NonTx().CreateUser("alice", "hash-b")
	if !errors.Is(err, datastore.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	// Original record untouched.
	got, err := st.NonTx().GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.PasswordHash != "hash-a" {
		t.Fatalf("duplicate create overwrote hash: got %q", got.PasswordHash)
	}
}

func TestCreateUserInvalid(t *testing.T) {
	t.Parallel()
	st := newTestSQLConn(t)

	tests := map[string]struct {
		username string
		hash     string
	}{
		"empty username":   {username: "", hash: "h"},
		"invalid chars":    {username: "no spaces", hash: "h"},
		"empty hash":       {username: "alice", hash: ""},
		"username too big": {username: string(make([]byte, 64)), hash: "h"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := st.NonTx().CreateUser(tc.username, tc.hash); err == nil {
				t.Fatalf("CreateUser(%q) expected error", tc.username)
			}
		})
	}
}

func TestListAndCountUsers(t *testing.T) {
	t.Parallel()
	st := newTestSQLConn(t)

	for _, name := range []string{"alice", "bob", "carol"} {
		if _, err := st.NonTx().CreateUser(name, "hash-"+name); err != nil {
			t.Fatalf("CreateUser(%q): %v", name, err)
		}
	}

	users, err := st.NonTx().ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	var names []string
	for _, u := range users {
		names = append(names, u.Username)
	}
	if diff := cmp.Diff([]string{"alice", "bob", "carol"}, names); diff != "" {
		t.Errorf("ListUsers order mismatch (-want +got):\n%s", diff)
	}

	count, err := st.NonTx().CountUsers()
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if count != 3 {
		t.Fatalf("CountUsers = %d, want 3", count)
	}
}

func TestRegistrationSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "restart.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	hash, err := crypto.HashPassword("pw1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.NonTx().CreateUser("alice", hash); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulated process restart: reopen the same file.
	st2, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = st2.Close() }()

	got, err := st2.NonTx().GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("GetUserByUsername after restart: %v", err)
	}
	if got == nil {
		t.Fatal("registration lost across restart")
	}
	if !crypto.CheckPassword(got.PasswordHash, "pw1") {
		t.Fatal("reloaded hash should verify the original password")
	}
	if crypto.CheckPassword(got.PasswordHash, "pw2") {
		t.Fatal("reloaded hash must reject a wrong password")
	}
}

func TestTxCommitAndRollback(t *testing.T) {
	t.Parallel()
	st := newTestSQLConn(t)
	ctx := context.Background()

	tx, err := st.Tx(ctx)
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if _, err := tx.CreateUser("alice", "hash-a"); err != nil {
		t.Fatalf("CreateUser in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := st.NonTx().GetUserByUsername("alice")
	if err != nil || got == nil {
		t.Fatalf("committed user not visible: %v %v", got, err)
	}

	tx2, err := st.Tx(ctx)
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if _, err := tx2.CreateUser("bob", "hash-b"); err != nil {
		t.Fatalf("CreateUser in tx: %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, err = st.NonTx().GetUserByUsername("bob")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got != nil {
		t.Fatal("rolled-back user should not be visible")
	}
}

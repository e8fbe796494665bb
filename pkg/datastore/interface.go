package datastore

import (
	"context"

	"github.com/NicolasHaas/gochat/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for GoChat credentials.
// The default implementation is SQLite; it can be swapped for PostgreSQL or an
// in-memory store for testing.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	Close() error
}

type UserReadProvider interface {
	// GetUserByUsername retrieves a user by username. Returns (nil, nil) if not found.
	GetUserByUsername(username string) (*model.User, error)
	ListUsers() ([]model.User, error)
	CountUsers() (int, error)
}

type UserWriteProvider interface {
	// CreateUser stores a new credential record. The hash must already be a
	// bcrypt hash; plaintext passwords never reach this layer. Fails with
	// ErrUsernameTaken if the username exists.
	CreateUser(username, passwordHash string) (*model.User, error)
}

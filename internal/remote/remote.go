// Package remote defines the contract of the networked key-value store the comment protocol runs against.
//
// Every handle returned by this package must be released with Free once the
// operation that acquired it is finished, on every exit path.
package remote

import (
	"context"

	"github.com/and161185/safe-comments/internal/model"
)

// StateFunc receives connectivity changes of a session. It may be called from any goroutine.
type StateFunc func(model.ConnectionState)

// Network creates app sessions.
type Network interface {
	// Initialise creates an unconnected session for the app.
	Initialise(ctx context.Context, info model.AppInfo, onState StateFunc) (App, error)
}

// App is a session with the network.
type App interface {
	// Authorise asks for access to containers and returns an auth URI for ConnectAuthorised.
	Authorise(ctx context.Context, containers model.Containers, opts model.AuthOptions) (string, error)
	// ConnectAuthorised connects as a registered client.
	ConnectAuthorised(ctx context.Context, uri string) error
	// Connect connects as an unregistered client with read-only access to public data.
	Connect(ctx context.Context) error
	// Reconnect re-establishes a dropped connection.
	Reconnect(ctx context.Context) error
	// Container opens a named container granted by Authorise.
	Container(ctx context.Context, name string) (MutableData, error)
	// OwnContainer opens the app's private container.
	OwnContainer(ctx context.Context) (MutableData, error)
	// ClaimPublicName reserves name for the session's account across the whole network.
	// Returns errs.ErrAlreadyExists when any account, this one included, holds it.
	ClaimPublicName(ctx context.Context, name string) error
	// OwnsPublicName reports whether the session's account holds the claim on name.
	OwnsPublicName(ctx context.Context, name string) (bool, error)
	// Hash derives a deterministic object name.
	Hash(name string) []byte
	// NewPublic returns a local handle to a public object; no network call is made.
	NewPublic(name []byte, typeTag uint64) MutableData
	// NewPermissionSet returns an empty local permission set.
	NewPermissionSet() PermissionSet
	// Free closes the session.
	Free()
}

// MutableData is a handle to a versioned key-value object.
type MutableData interface {
	// QuickSetup creates the object on the network with initial entries and metadata.
	QuickSetup(ctx context.Context, entries map[string][]byte, name, description string) error
	// Entries fetches all entries. Returns errs.ErrNotFound when the object does not exist.
	Entries(ctx context.Context) (Entries, error)
	// Keys fetches all keys.
	Keys(ctx context.Context) (Keys, error)
	// Get fetches one value.
	Get(ctx context.Context, key string) (model.Value, error)
	// ApplyEntriesMutation commits a mutation atomically.
	ApplyEntriesMutation(ctx context.Context, m Mutation) error
	// SetUserPermissions grants perms to principal; model.AnyoneKey means everyone.
	SetUserPermissions(ctx context.Context, principal string, perms PermissionSet, version uint64) error
	// Encrypt seals data with the object's container key.
	Encrypt(ctx context.Context, data []byte) ([]byte, error)
	// Decrypt decrypts data sealed with the object's container key.
	Decrypt(ctx context.Context, data []byte) ([]byte, error)
	// Free releases the handle.
	Free()
}

// Entries is a fetched snapshot of an object's entries.
type Entries interface {
	Len() int
	Get(key string) (model.Value, error)
	// Mutate starts a mutation against the object the entries were fetched from.
	Mutate() Mutation
	Free()
}

// Keys is a fetched snapshot of an object's keys.
type Keys interface {
	Len() int
	ForEach(fn func(key []byte))
	Free()
}

// Mutation collects entry operations until applied.
type Mutation interface {
	Insert(key string, value []byte) error
	// Update replaces a value; version must be the current version + 1.
	Update(key string, value []byte, version uint64) error
	// Ops returns the collected operations.
	Ops() []model.EntryOp
	Free()
}

// PermissionSet collects allowed operations.
type PermissionSet interface {
	SetAllow(p model.Permission) error
	Allowed() []model.Permission
	Free()
}

package repository

import (
	"context"

	"github.com/and161185/safe-comments/internal/model"
)

// ObjectRepository provides versioned access to mutable data objects.
type ObjectRepository interface {
	// Create stores a new object with its initial entries. Returns errs.ErrAlreadyExists when present.
	Create(ctx context.Context, obj model.Object, entries []model.Entry) error

	// Get loads an object header.
	Get(ctx context.Context, addr model.Address) (*model.Object, error)

	// Entries returns all entries in insertion order.
	Entries(ctx context.Context, addr model.Address) ([]model.Entry, error)

	// Value returns one entry value.
	Value(ctx context.Context, addr model.Address, key []byte) (model.Value, error)

	// Apply commits a mutation batch atomically with per-key version checks.
	Apply(ctx context.Context, addr model.Address, ops []model.EntryOp) error

	// Permissions returns every permission set granted on the object.
	Permissions(ctx context.Context, addr model.Address) ([]model.PermissionSet, error)

	// SetPermissions replaces the set of one principal; set.Version must be the current permission version + 1.
	SetPermissions(ctx context.Context, addr model.Address, set model.PermissionSet) error
}

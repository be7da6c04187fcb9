// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/safe-comments/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository provides access to store accounts.
type AccountRepository interface {
	// Create inserts a new account. Returns errs.ErrAlreadyExists when the username is taken.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByUsername loads an account by username.
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
}

// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store, protocol and repository layers.
var (
	// ErrNotFound indicates the requested object or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (expected version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied indicates the caller is authenticated but not allowed to do this.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrRateLimited indicates temporary authorisation lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (object, key or username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrPublicIDMismatch indicates the caller does not own the public identity of the host.
	ErrPublicIDMismatch = errors.New("public id does not match, can not set current user as admin")

	// ErrNotInitialised indicates an operation that needs an authorised session was called without one.
	ErrNotInitialised = errors.New("app is not yet initialised")

	// ErrDecode indicates a stored value could not be decoded.
	ErrDecode = errors.New("decode")

	// ErrTransport indicates the store could not be reached.
	ErrTransport = errors.New("transport")
)

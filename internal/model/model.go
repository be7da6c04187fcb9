// Package model defines domain entities used by the comment protocol, the store node and its repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Permission is an operation a principal may perform on a mutable data object.
type Permission string

// Permissions understood by the store.
const (
	PermRead   Permission = "Read"
	PermInsert Permission = "Insert"
	PermUpdate Permission = "Update"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	switch p {
	case PermRead, PermInsert, PermUpdate:
		return true
	}
	return false
}

// Type tags. Tags below ReservedTagLimit belong to the store itself.
const (
	PublicNameTypeTag uint64 = 1
	ContainerTypeTag  uint64 = 15000
	ReservedTagLimit  uint64 = 15000
	CommentsTypeTag   uint64 = 15001
)

// AnyoneKey is the principal key meaning every caller, registered or not.
const AnyoneKey = "*"

// AppInfo identifies the application asking for access.
type AppInfo struct {
	ID     string
	Name   string
	Vendor string
}

// AuthOptions are extra authorisation requests.
type AuthOptions struct {
	OwnContainer bool // ask for a private per-app container
}

// Containers maps container names to the permissions requested on them.
type Containers map[string][]Permission

// Address locates a mutable data object.
type Address struct {
	Name    []byte
	TypeTag uint64
}

// Value is a stored entry value with its version.
type Value struct {
	Data    []byte
	Version uint64
}

// Entry is a single key/value pair of an object.
type Entry struct {
	Key   []byte
	Value Value
}

// OpKind is the kind of an entry mutation.
type OpKind int

// Mutation kinds.
const (
	OpInsert OpKind = iota + 1
	OpUpdate
)

// EntryOp is a single entry change. For updates Version is the new version (current+1).
type EntryOp struct {
	Kind    OpKind
	Key     []byte
	Value   []byte
	Version uint64
}

// Object is a mutable data object header.
type Object struct {
	Address     Address
	OwnerID     uuid.UUID // uuid.Nil for objects without owner
	Name        string
	Description string
	PermVersion uint64
	CreatedAt   time.Time
}

// PermissionSet is the set of allowed operations for one principal.
type PermissionSet struct {
	Principal string // account id or AnyoneKey
	Allow     []Permission
	Version   uint64
}

// Allows reports whether p is in the set.
func (s PermissionSet) Allows(p Permission) bool {
	for _, a := range s.Allow {
		if a == p {
			return true
		}
	}
	return false
}

// Account represents a store account. Sensitive keys are never stored in plaintext.
type Account struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-account auth salt
	KekSalt   []byte    // per-account KEK salt (for client-side container keys)
	CreatedAt time.Time
}

// Grant is an issued authorisation for an app acting on behalf of an account.
type Grant struct {
	Token        string
	AccountID    uuid.UUID
	AppID        string
	Containers   Containers
	OwnContainer bool
	KekSalt      []byte
	ExpiresAt    time.Time
}

// CanAccess reports whether the grant lists container name.
func (g Grant) CanAccess(name string) bool {
	if g.OwnContainer && name == OwnContainerName(g.AppID) {
		return true
	}
	_, ok := g.Containers[name]
	return ok
}

// PublicNamesContainer holds the public identities owned by an account.
const PublicNamesContainer = "_publicNames"

// PublicNameOwnerKey is the entry of a name claim holding the claimant's account id.
const PublicNameOwnerKey = "owner"

// PublicNameKey is hashed into the address of the global claim on a public name.
func PublicNameKey(name string) string { return PublicNamesContainer + "/" + name }

// OwnContainerName returns the private container name of an app.
func OwnContainerName(appID string) string { return "apps/" + appID }

// Package memory implements the store repositories in process memory.
// It backs the server's -memory mode and end-to-end tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// Accounts is an in-memory AccountRepository.
type Accounts struct {
	mu     sync.RWMutex
	byName map[string]model.Account
}

var _ repository.AccountRepository = (*Accounts)(nil)

// NewAccounts returns an empty account store.
func NewAccounts() *Accounts { return &Accounts{byName: map[string]model.Account{}} }

// Create inserts a new account.
func (r *Accounts) Create(_ context.Context, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[a.Username]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *a
	cp.CreatedAt = time.Now()
	r.byName[a.Username] = cp
	return nil
}

// GetByID loads an account by ID.
func (r *Accounts) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byName {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, errs.ErrNotFound
}

// GetByUsername loads an account by username.
func (r *Accounts) GetByUsername(_ context.Context, username string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

type object struct {
	hdr     model.Object
	entries []model.Entry
	perms   map[string]model.PermissionSet
}

// Objects is an in-memory ObjectRepository with the same version rules as the Postgres one.
type Objects struct {
	mu      sync.RWMutex
	objects map[string]*object
}

var _ repository.ObjectRepository = (*Objects)(nil)

// NewObjects returns an empty object store.
func NewObjects() *Objects { return &Objects{objects: map[string]*object{}} }

func key(a model.Address) string { return fmt.Sprintf("%x/%d", a.Name, a.TypeTag) }

func clone(b []byte) []byte { return append([]byte(nil), b...) }

func (r *Objects) find(addr model.Address) (*object, error) {
	o, ok := r.objects[key(addr)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return o, nil
}

// Create stores a new object with its initial entries.
func (r *Objects) Create(_ context.Context, obj model.Object, entries []model.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[key(obj.Address)]; ok {
		return errs.ErrAlreadyExists
	}
	obj.CreatedAt = time.Now()
	o := &object{hdr: obj, perms: map[string]model.PermissionSet{}}
	for _, e := range entries {
		o.entries = append(o.entries, model.Entry{Key: clone(e.Key), Value: model.Value{Data: clone(e.Value.Data), Version: e.Value.Version}})
	}
	r.objects[key(obj.Address)] = o
	return nil
}

// Get loads an object header.
func (r *Objects) Get(_ context.Context, addr model.Address) (*model.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, err := r.find(addr)
	if err != nil {
		return nil, err
	}
	hdr := o.hdr
	return &hdr, nil
}

// Entries returns entries in insertion order.
func (r *Objects) Entries(_ context.Context, addr model.Address) ([]model.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, err := r.find(addr)
	if err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, model.Entry{Key: clone(e.Key), Value: model.Value{Data: clone(e.Value.Data), Version: e.Value.Version}})
	}
	return out, nil
}

// Value returns one entry value.
func (r *Objects) Value(_ context.Context, addr model.Address, k []byte) (model.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, err := r.find(addr)
	if err != nil {
		return model.Value{}, err
	}
	for _, e := range o.entries {
		if string(e.Key) == string(k) {
			return model.Value{Data: clone(e.Value.Data), Version: e.Value.Version}, nil
		}
	}
	return model.Value{}, errs.ErrNotFound
}

// Apply commits ops all-or-nothing.
func (r *Objects) Apply(_ context.Context, addr model.Address, ops []model.EntryOp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.find(addr)
	if err != nil {
		return err
	}
	next := append([]model.Entry(nil), o.entries...)
	for i, op := range ops {
		idx := -1
		for j, e := range next {
			if string(e.Key) == string(op.Key) {
				idx = j
				break
			}
		}
		switch {
		case op.Kind == model.OpInsert && idx >= 0:
			return fmt.Errorf("op[%d]: %w", i, errs.ErrAlreadyExists)
		case op.Kind == model.OpInsert:
			next = append(next, model.Entry{Key: clone(op.Key), Value: model.Value{Data: clone(op.Value)}})
		case idx < 0:
			return fmt.Errorf("op[%d]: %w", i, errs.ErrNotFound)
		case op.Version != next[idx].Value.Version+1:
			return fmt.Errorf("op[%d]: %w", i, errs.ErrVersionConflict)
		default:
			next[idx] = model.Entry{Key: next[idx].Key, Value: model.Value{Data: clone(op.Value), Version: op.Version}}
		}
	}
	o.entries = next
	return nil
}

// Permissions returns every permission set granted on the object.
func (r *Objects) Permissions(_ context.Context, addr model.Address) ([]model.PermissionSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, err := r.find(addr)
	if err != nil {
		return nil, err
	}
	out := make([]model.PermissionSet, 0, len(o.perms))
	for _, s := range o.perms {
		out = append(out, s)
	}
	return out, nil
}

// SetPermissions replaces the set of one principal.
func (r *Objects) SetPermissions(_ context.Context, addr model.Address, set model.PermissionSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.find(addr)
	if err != nil {
		return err
	}
	if set.Version != o.hdr.PermVersion+1 {
		return errs.ErrVersionConflict
	}
	set.Allow = append([]model.Permission(nil), set.Allow...)
	o.perms[set.Principal] = set
	o.hdr.PermVersion = set.Version
	return nil
}

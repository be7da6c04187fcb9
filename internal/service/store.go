package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/safe-comments/internal/crypto"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/repository"
)

// StoreService is the object API of the store node. A nil grant means an unregistered caller.
type StoreService interface {
	// PutObject creates a public object owned by the grant's account.
	PutObject(ctx context.Context, g *model.Grant, obj model.Object, entries []model.Entry) error
	// ClaimName reserves a public name for the grant's account. Names are unique across the node.
	ClaimName(ctx context.Context, g *model.Grant, name string) error
	// Entries returns every entry of a readable object.
	Entries(ctx context.Context, g *model.Grant, addr model.Address) ([]model.Entry, error)
	// Keys returns every key of a readable object.
	Keys(ctx context.Context, g *model.Grant, addr model.Address) ([][]byte, error)
	// Value returns one entry of a readable object.
	Value(ctx context.Context, g *model.Grant, addr model.Address, key []byte) (model.Value, error)
	// Mutate applies a batch of inserts and versioned updates.
	Mutate(ctx context.Context, g *model.Grant, addr model.Address, ops []model.EntryOp) error
	// SetPermissions replaces a principal's permission set; owner only.
	SetPermissions(ctx context.Context, g *model.Grant, addr model.Address, set model.PermissionSet) error
}

type StoreServiceImpl struct {
	repo   repository.ObjectRepository
	maxOps int
}

// NewStoreService constructs StoreService with a batch limit.
func NewStoreService(repo repository.ObjectRepository, maxOps int) *StoreServiceImpl {
	if maxOps <= 0 {
		maxOps = 1000
	}
	return &StoreServiceImpl{repo: repo, maxOps: maxOps}
}

func isOwner(g *model.Grant, o *model.Object) bool {
	return g != nil && o.OwnerID != uuid.Nil && o.OwnerID == g.AccountID
}

// containerGranted reports whether addr is one of the containers the grant gives access to.
func containerGranted(g *model.Grant, addr model.Address) bool {
	if g == nil {
		return false
	}
	names := make([]string, 0, len(g.Containers)+1)
	for name := range g.Containers {
		names = append(names, name)
	}
	if g.OwnContainer {
		names = append(names, model.OwnContainerName(g.AppID))
	}
	for _, name := range names {
		if bytes.Equal(ContainerAddress(g.AccountID, name).Name, addr.Name) {
			return true
		}
	}
	return false
}

// load fetches the object and checks read access.
func (s *StoreServiceImpl) load(ctx context.Context, g *model.Grant, addr model.Address) (*model.Object, error) {
	o, err := s.repo.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if addr.TypeTag == model.ContainerTypeTag && !(isOwner(g, o) && containerGranted(g, addr)) {
		return nil, errs.ErrPermissionDenied
	}
	return o, nil
}

// PutObject validates and stores a new public object.
func (s *StoreServiceImpl) PutObject(ctx context.Context, g *model.Grant, obj model.Object, entries []model.Entry) error {
	if g == nil {
		return errs.ErrUnauthorized
	}
	if len(obj.Address.Name) == 0 {
		return errors.New("validation: empty address")
	}
	if obj.Address.TypeTag <= model.ReservedTagLimit {
		return fmt.Errorf("type tag %d is reserved: %w", obj.Address.TypeTag, errs.ErrPermissionDenied)
	}
	for i, e := range entries {
		if len(e.Key) == 0 {
			return fmt.Errorf("validation: entry[%d] empty key", i)
		}
		entries[i].Value.Version = 0
	}
	obj.OwnerID = g.AccountID
	return s.repo.Create(ctx, obj, entries)
}

// PublicNameAddress returns the address of the claim on a public name.
func PublicNameAddress(name string) model.Address {
	return model.Address{Name: pkgcrypto.NameHash(model.PublicNameKey(name)), TypeTag: model.PublicNameTypeTag}
}

// ClaimName creates the claim object of name, owned by and naming the caller's account.
// A name claimed by anyone, the caller included, yields errs.ErrAlreadyExists.
func (s *StoreServiceImpl) ClaimName(ctx context.Context, g *model.Grant, name string) error {
	if g == nil {
		return errs.ErrUnauthorized
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("validation: empty name")
	}
	obj := model.Object{Address: PublicNameAddress(name), OwnerID: g.AccountID, Name: name}
	entries := []model.Entry{{Key: []byte(model.PublicNameOwnerKey), Value: model.Value{Data: []byte(g.AccountID.String())}}}
	return s.repo.Create(ctx, obj, entries)
}

// storeOwned reports tags whose objects only the node itself writes.
func storeOwned(addr model.Address) bool { return addr.TypeTag < model.ReservedTagLimit }

// Entries returns the object's entries.
func (s *StoreServiceImpl) Entries(ctx context.Context, g *model.Grant, addr model.Address) ([]model.Entry, error) {
	if _, err := s.load(ctx, g, addr); err != nil {
		return nil, err
	}
	return s.repo.Entries(ctx, addr)
}

// Keys returns the object's keys in entry order.
func (s *StoreServiceImpl) Keys(ctx context.Context, g *model.Grant, addr model.Address) ([][]byte, error) {
	entries, err := s.Entries(ctx, g, addr)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Value returns one entry.
func (s *StoreServiceImpl) Value(ctx context.Context, g *model.Grant, addr model.Address, key []byte) (model.Value, error) {
	if len(key) == 0 {
		return model.Value{}, errors.New("validation: empty key")
	}
	if _, err := s.load(ctx, g, addr); err != nil {
		return model.Value{}, err
	}
	return s.repo.Value(ctx, addr, key)
}

// allowed reports whether the caller may perform p on a public object.
func (s *StoreServiceImpl) allowed(ctx context.Context, g *model.Grant, o *model.Object, p model.Permission) (bool, error) {
	if isOwner(g, o) {
		return true, nil
	}
	sets, err := s.repo.Permissions(ctx, o.Address)
	if err != nil {
		return false, err
	}
	for _, set := range sets {
		if set.Principal != model.AnyoneKey && (g == nil || set.Principal != g.AccountID.String()) {
			continue
		}
		if set.Allows(p) {
			return true, nil
		}
	}
	return false, nil
}

// Mutate checks per-op permissions and delegates the atomic batch to the repository.
func (s *StoreServiceImpl) Mutate(ctx context.Context, g *model.Grant, addr model.Address, ops []model.EntryOp) error {
	if len(ops) == 0 {
		return nil
	}
	if storeOwned(addr) {
		return fmt.Errorf("type tag %d is reserved: %w", addr.TypeTag, errs.ErrPermissionDenied)
	}
	if len(ops) > s.maxOps {
		return fmt.Errorf("validation: batch too large (%d > %d)", len(ops), s.maxOps)
	}
	o, err := s.load(ctx, g, addr)
	if err != nil {
		return err
	}
	if addr.TypeTag != model.ContainerTypeTag {
		checked := map[model.Permission]bool{}
		for i, op := range ops {
			p := model.PermInsert
			if op.Kind == model.OpUpdate {
				p = model.PermUpdate
			}
			ok, seen := checked[p]
			if !seen {
				if ok, err = s.allowed(ctx, g, o, p); err != nil {
					return err
				}
				checked[p] = ok
			}
			if !ok {
				return fmt.Errorf("op[%d]: %w", i, errs.ErrPermissionDenied)
			}
		}
	}
	return s.repo.Apply(ctx, addr, ops)
}

// SetPermissions lets the owner replace one principal's permission set.
func (s *StoreServiceImpl) SetPermissions(ctx context.Context, g *model.Grant, addr model.Address, set model.PermissionSet) error {
	if g == nil {
		return errs.ErrUnauthorized
	}
	if storeOwned(addr) {
		return fmt.Errorf("type tag %d is reserved: %w", addr.TypeTag, errs.ErrPermissionDenied)
	}
	if set.Principal == "" {
		return errors.New("validation: empty principal")
	}
	for _, p := range set.Allow {
		if !p.Valid() {
			return fmt.Errorf("validation: unknown permission %q", p)
		}
	}
	o, err := s.repo.Get(ctx, addr)
	if err != nil {
		return err
	}
	if !isOwner(g, o) {
		return errs.ErrPermissionDenied
	}
	return s.repo.SetPermissions(ctx, addr, set)
}

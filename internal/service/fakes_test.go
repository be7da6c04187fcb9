package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/limiter"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type fakeAccounts struct {
	byName map[string]*model.Account

	createErr error
	getErr    error
}

var _ repository.AccountRepository = (*fakeAccounts)(nil)

func (f *fakeAccounts) Create(_ context.Context, a *model.Account) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.Account{}
	}
	if _, exists := f.byName[a.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *a
	f.byName[a.Username] = &cpy
	return nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	for _, a := range f.byName {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeAccounts) GetByUsername(_ context.Context, username string) (*model.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

type fakeObject struct {
	obj     model.Object
	entries []model.Entry
	perms   map[string]model.PermissionSet
}

// fakeObjects keeps the same insert/update/version rules as the Postgres repository.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]*fakeObject

	createErr error
	applied   int
}

var _ repository.ObjectRepository = (*fakeObjects)(nil)

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: map[string]*fakeObject{}} }

func key(a model.Address) string { return fmt.Sprintf("%x/%d", a.Name, a.TypeTag) }

func (f *fakeObjects) Create(_ context.Context, obj model.Object, entries []model.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.objects[key(obj.Address)]; ok {
		return errs.ErrAlreadyExists
	}
	obj.CreatedAt = time.Now()
	f.objects[key(obj.Address)] = &fakeObject{obj: obj, entries: append([]model.Entry(nil), entries...), perms: map[string]model.PermissionSet{}}
	return nil
}

func (f *fakeObjects) find(addr model.Address) (*fakeObject, error) {
	o, ok := f.objects[key(addr)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return o, nil
}

func (f *fakeObjects) Get(_ context.Context, addr model.Address) (*model.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.find(addr)
	if err != nil {
		return nil, err
	}
	c := o.obj
	return &c, nil
}

func (f *fakeObjects) Entries(_ context.Context, addr model.Address) ([]model.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.find(addr)
	if err != nil {
		return nil, err
	}
	return append([]model.Entry{}, o.entries...), nil
}

func (f *fakeObjects) Value(_ context.Context, addr model.Address, k []byte) (model.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.find(addr)
	if err != nil {
		return model.Value{}, err
	}
	for _, e := range o.entries {
		if string(e.Key) == string(k) {
			return e.Value, nil
		}
	}
	return model.Value{}, errs.ErrNotFound
}

func (f *fakeObjects) Apply(_ context.Context, addr model.Address, ops []model.EntryOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.find(addr)
	if err != nil {
		return err
	}
	next := append([]model.Entry(nil), o.entries...)
	for i, op := range ops {
		idx := -1
		for j, e := range next {
			if string(e.Key) == string(op.Key) {
				idx = j
			}
		}
		switch {
		case op.Kind == model.OpInsert && idx >= 0:
			return fmt.Errorf("op[%d]: %w", i, errs.ErrAlreadyExists)
		case op.Kind == model.OpInsert:
			next = append(next, model.Entry{Key: op.Key, Value: model.Value{Data: op.Value}})
		case idx < 0:
			return fmt.Errorf("op[%d]: %w", i, errs.ErrNotFound)
		case op.Version != next[idx].Value.Version+1:
			return fmt.Errorf("op[%d]: %w", i, errs.ErrVersionConflict)
		default:
			next[idx].Value = model.Value{Data: op.Value, Version: op.Version}
		}
	}
	o.entries = next
	f.applied++
	return nil
}

func (f *fakeObjects) Permissions(_ context.Context, addr model.Address) ([]model.PermissionSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.find(addr)
	if err != nil {
		return nil, err
	}
	var out []model.PermissionSet
	for _, s := range o.perms {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeObjects) SetPermissions(_ context.Context, addr model.Address, set model.PermissionSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.find(addr)
	if err != nil {
		return err
	}
	if set.Version != o.obj.PermVersion+1 {
		return errs.ErrVersionConflict
	}
	o.perms[set.Principal] = set
	o.obj.PermVersion = set.Version
	return nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

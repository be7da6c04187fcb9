// Package memstore is an in-process implementation of the remote store contract.
//
// It keeps the same versioning, permission and error semantics as the store
// node and adds call recording, fault injection and connectivity control so
// protocol code can be exercised without a network.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/and161185/safe-comments/internal/crypto"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote"
)

// Operation names used by Calls, FailNext and Hook.
const (
	OpAuthorise    = "Authorise"
	OpConnect      = "Connect"
	OpReconnect    = "Reconnect"
	OpQuickSetup   = "QuickSetup"
	OpEntries      = "Entries"
	OpKeys         = "Keys"
	OpGet          = "Get"
	OpApply        = "Apply"
	OpSetPerms     = "SetUserPermissions"
	OpOwnContainer = "OwnContainer"
	OpContainer    = "Container"
	OpClaimName    = "ClaimPublicName"
	OpOwnsName     = "OwnsPublicName"
)

// Call is a recorded store operation.
type Call struct {
	Op      string
	User    string
	TypeTag uint64
	Ops     []model.EntryOp // for OpApply
	Version uint64          // for OpSetPerms
}

type object struct {
	owner       string
	meta        [2]string
	entries     map[string]model.Value
	order       []string
	perms       map[string][]model.Permission
	permVersion uint64
}

// Store is a simulated network shared by any number of clients.
type Store struct {
	mu       sync.Mutex
	objects  map[string]*object
	accounts map[string][]string // username -> public names
	calls    []Call
	failures map[string][]error
	hooks    map[string]func()
	state    model.ConnectionState
	apps     map[*app]struct{}
	live     int
}

// New returns an empty, connected store.
func New() *Store {
	return &Store{
		objects:  map[string]*object{},
		accounts: map[string][]string{},
		failures: map[string][]error{},
		hooks:    map[string]func(){},
		state:    model.StateConnected,
		apps:     map[*app]struct{}{},
	}
}

func objKey(addr model.Address) string { return fmt.Sprintf("%x/%d", addr.Name, addr.TypeTag) }

// AddAccount registers an account listing the given public names in its
// container. Each name is claimed for user unless another account claimed it first.
func (s *Store) AddAccount(user string, publicNames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[user] = append([]string(nil), publicNames...)
	addr := model.Address{Name: crypto.ContainerName(user, model.PublicNamesContainer), TypeTag: model.ContainerTypeTag}
	o := &object{owner: user, entries: map[string]model.Value{}, perms: map[string][]model.Permission{}}
	for _, n := range publicNames {
		o.entries[n] = model.Value{Version: 0}
		o.order = append(o.order, n)
		s.claim(user, n)
	}
	s.objects[objKey(addr)] = o
}

// NameAddress returns the address of the global claim on a public name.
func NameAddress(name string) model.Address {
	return model.Address{Name: crypto.NameHash(model.PublicNameKey(name)), TypeTag: model.PublicNameTypeTag}
}

// claim records user as the holder of name. Store lock must be held.
func (s *Store) claim(user, name string) bool {
	k := objKey(NameAddress(name))
	if _, ok := s.objects[k]; ok {
		return false
	}
	s.objects[k] = &object{
		owner:   user,
		entries: map[string]model.Value{model.PublicNameOwnerKey: {Data: []byte(user)}},
		order:   []string{model.PublicNameOwnerKey},
		perms:   map[string][]model.Permission{},
	}
	return true
}

// Live returns the number of sessions and handles not yet released with Free.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// handle counts one live resource until released.
type handle struct {
	s    *Store
	once sync.Once
}

// trackLocked counts a new handle. Store lock must be held.
func (s *Store) trackLocked() *handle {
	s.live++
	return &handle{s: s}
}

func (s *Store) track() *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackLocked()
}

func (h *handle) release() {
	h.once.Do(func() {
		h.s.mu.Lock()
		h.s.live--
		h.s.mu.Unlock()
	})
}

// Network returns a client factory acting as user. An empty user can only connect unregistered.
func (s *Store) Network(user string) remote.Network { return &network{store: s, user: user} }

// FailNext makes the next call of op fail with err. Multiple calls queue up.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	s.failures[op] = append(s.failures[op], err)
	s.mu.Unlock()
}

// Hook runs fn at the start of every op, outside the store lock.
func (s *Store) Hook(op string, fn func()) {
	s.mu.Lock()
	s.hooks[op] = fn
	s.mu.Unlock()
}

// Calls returns recorded calls of op, or all calls when op is empty.
func (s *Store) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// Value returns the stored value under key of the object at addr.
func (s *Store) Value(addr model.Address, key string) (model.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[objKey(addr)]
	if !ok {
		return model.Value{}, false
	}
	v, ok := o.entries[key]
	return v, ok
}

// Permissions returns the permission set granted to principal on addr.
func (s *Store) Permissions(addr model.Address, principal string) []model.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[objKey(addr)]; ok {
		return append([]model.Permission(nil), o.perms[principal]...)
	}
	return nil
}

// SetState changes connectivity and notifies every live session.
func (s *Store) SetState(st model.ConnectionState) {
	s.mu.Lock()
	s.state = st
	apps := make([]*app, 0, len(s.apps))
	for a := range s.apps {
		apps = append(apps, a)
	}
	s.mu.Unlock()
	for _, a := range apps {
		if a.onState != nil {
			a.onState(st)
		}
	}
}

// begin runs the hook, records the call and pops an injected failure.
// The store lock is held on return when err is nil.
func (s *Store) begin(c Call) error {
	s.mu.Lock()
	hook := s.hooks[c.Op]
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	s.calls = append(s.calls, c)
	if q := s.failures[c.Op]; len(q) > 0 {
		s.failures[c.Op] = q[1:]
		s.mu.Unlock()
		return q[0]
	}
	if s.state != model.StateConnected && c.Op != OpReconnect {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", c.Op, errs.ErrTransport)
	}
	return nil
}

type network struct {
	store *Store
	user  string
}

func (n *network) Initialise(_ context.Context, info model.AppInfo, onState remote.StateFunc) (remote.App, error) {
	a := &app{store: n.store, user: n.user, info: info, onState: onState}
	n.store.mu.Lock()
	n.store.apps[a] = struct{}{}
	a.h = n.store.trackLocked()
	n.store.mu.Unlock()
	return a, nil
}

type app struct {
	store      *Store
	user       string
	info       model.AppInfo
	onState    remote.StateFunc
	h          *handle
	mu         sync.Mutex
	pending    *model.Grant
	grant      *model.Grant
	registered bool
	connected  bool
}

func (a *app) Authorise(_ context.Context, containers model.Containers, opts model.AuthOptions) (string, error) {
	s := a.store
	if err := s.begin(Call{Op: OpAuthorise, User: a.user}); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.user]; !ok {
		return "", fmt.Errorf("authorise %q: %w", a.user, errs.ErrUnauthorized)
	}
	if opts.OwnContainer {
		addr := a.ownAddr()
		if _, ok := s.objects[objKey(addr)]; !ok {
			s.objects[objKey(addr)] = &object{owner: a.user, entries: map[string]model.Value{}, perms: map[string][]model.Permission{}}
		}
	}
	a.mu.Lock()
	a.pending = &model.Grant{AppID: a.info.ID, Containers: containers, OwnContainer: opts.OwnContainer}
	a.mu.Unlock()
	return "mem://" + a.user + "/" + a.info.ID, nil
}

func (a *app) ConnectAuthorised(ctx context.Context, uri string) error {
	if err := a.store.begin(Call{Op: OpConnect, User: a.user}); err != nil {
		return err
	}
	a.store.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil || uri == "" {
		return fmt.Errorf("connect: %w", errs.ErrUnauthorized)
	}
	a.grant, a.pending = a.pending, nil
	a.registered, a.connected = true, true
	if a.onState != nil {
		a.onState(model.StateConnected)
	}
	return nil
}

func (a *app) Connect(context.Context) error {
	if err := a.store.begin(Call{Op: OpConnect}); err != nil {
		return err
	}
	a.store.mu.Unlock()
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	if a.onState != nil {
		a.onState(model.StateConnected)
	}
	return nil
}

func (a *app) Reconnect(context.Context) error {
	s := a.store
	if err := s.begin(Call{Op: OpReconnect, User: a.user}); err != nil {
		return err
	}
	s.state = model.StateConnected
	s.mu.Unlock()
	s.SetState(model.StateConnected)
	return nil
}

func (a *app) ownAddr() model.Address {
	return model.Address{
		Name:    crypto.ContainerName(a.user, model.OwnContainerName(a.info.ID)),
		TypeTag: model.ContainerTypeTag,
	}
}

func (a *app) Container(_ context.Context, name string) (remote.MutableData, error) {
	if err := a.store.begin(Call{Op: OpContainer, User: a.user}); err != nil {
		return nil, err
	}
	a.store.mu.Unlock()
	a.mu.Lock()
	ok := a.grant != nil && a.grant.CanAccess(name)
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("container %q: %w", name, errs.ErrPermissionDenied)
	}
	addr := model.Address{Name: crypto.ContainerName(a.user, name), TypeTag: model.ContainerTypeTag}
	return a.open(addr), nil
}

func (a *app) OwnContainer(_ context.Context) (remote.MutableData, error) {
	if err := a.store.begin(Call{Op: OpOwnContainer, User: a.user}); err != nil {
		return nil, err
	}
	a.store.mu.Unlock()
	a.mu.Lock()
	ok := a.grant != nil && a.grant.OwnContainer
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("own container: %w", errs.ErrPermissionDenied)
	}
	return a.open(a.ownAddr()), nil
}

func (a *app) open(addr model.Address) *mdata {
	return &mdata{app: a, addr: addr, h: a.store.track()}
}

func (a *app) ClaimPublicName(_ context.Context, name string) error {
	s := a.store
	if err := s.begin(Call{Op: OpClaimName, User: a.user}); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, registered, _ := a.session(); !registered {
		return fmt.Errorf("claim %q: %w", name, errs.ErrUnauthorized)
	}
	if !s.claim(a.user, name) {
		return fmt.Errorf("claim %q: %w", name, errs.ErrAlreadyExists)
	}
	return nil
}

func (a *app) OwnsPublicName(_ context.Context, name string) (bool, error) {
	s := a.store
	if err := s.begin(Call{Op: OpOwnsName, User: a.user}); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	user, registered, _ := a.session()
	o, ok := s.objects[objKey(NameAddress(name))]
	if !registered || !ok {
		return false, nil
	}
	return string(o.entries[model.PublicNameOwnerKey].Data) == user, nil
}

func (a *app) Hash(name string) []byte { return crypto.NameHash(name) }

func (a *app) NewPublic(name []byte, typeTag uint64) remote.MutableData {
	return a.open(model.Address{Name: append([]byte(nil), name...), TypeTag: typeTag})
}

func (a *app) NewPermissionSet() remote.PermissionSet {
	return &permSet{PermSet: remote.NewPermSet(), h: a.store.track()}
}

func (a *app) Free() {
	a.h.release()
	a.store.mu.Lock()
	delete(a.store.apps, a)
	a.store.mu.Unlock()
	a.mu.Lock()
	a.connected, a.grant = false, nil
	a.mu.Unlock()
}

func (a *app) session() (user string, registered, connected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user, a.registered, a.connected
}

type mdata struct {
	app  *app
	addr model.Address
	h    *handle
}

func (m *mdata) call(op string) Call {
	return Call{Op: op, User: m.app.user, TypeTag: m.addr.TypeTag}
}

// readable checks read access. Store lock must be held.
func (m *mdata) readable(o *object) error {
	user, registered, connected := m.app.session()
	if !connected {
		return fmt.Errorf("read: %w", errs.ErrUnauthorized)
	}
	if m.addr.TypeTag == model.ContainerTypeTag && (!registered || o.owner != user) {
		return fmt.Errorf("read container: %w", errs.ErrPermissionDenied)
	}
	return nil
}

func (m *mdata) QuickSetup(_ context.Context, entries map[string][]byte, name, description string) error {
	s := m.app.store
	if err := s.begin(m.call(OpQuickSetup)); err != nil {
		return err
	}
	defer s.mu.Unlock()
	user, registered, _ := m.app.session()
	if !registered {
		return fmt.Errorf("quick setup: %w", errs.ErrUnauthorized)
	}
	if m.addr.TypeTag < model.ReservedTagLimit {
		return fmt.Errorf("quick setup: %w", errs.ErrPermissionDenied)
	}
	k := objKey(m.addr)
	if _, ok := s.objects[k]; ok {
		return fmt.Errorf("quick setup: %w", errs.ErrAlreadyExists)
	}
	o := &object{owner: user, meta: [2]string{name, description}, entries: map[string]model.Value{}, perms: map[string][]model.Permission{}}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		o.entries[key] = model.Value{Data: entries[key]}
		o.order = append(o.order, key)
	}
	s.objects[k] = o
	return nil
}

func (m *mdata) lookup() (*object, error) {
	o, ok := m.app.store.objects[objKey(m.addr)]
	if !ok {
		return nil, fmt.Errorf("object: %w", errs.ErrNotFound)
	}
	return o, m.readable(o)
}

func (m *mdata) Entries(_ context.Context) (remote.Entries, error) {
	s := m.app.store
	if err := s.begin(m.call(OpEntries)); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	o, err := m.lookup()
	if err != nil {
		return nil, err
	}
	list := make([]model.Entry, 0, len(o.order))
	for _, k := range o.order {
		list = append(list, model.Entry{Key: []byte(k), Value: o.entries[k]})
	}
	return &entries{EntrySnapshot: remote.NewEntrySnapshot(list), h: s.trackLocked()}, nil
}

func (m *mdata) Keys(_ context.Context) (remote.Keys, error) {
	s := m.app.store
	if err := s.begin(m.call(OpKeys)); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	o, err := m.lookup()
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, len(o.order))
	for _, k := range o.order {
		keys = append(keys, []byte(k))
	}
	return &keySnapshot{KeySnapshot: remote.NewKeySnapshot(keys), h: s.trackLocked()}, nil
}

func (m *mdata) Get(_ context.Context, key string) (model.Value, error) {
	s := m.app.store
	if err := s.begin(m.call(OpGet)); err != nil {
		return model.Value{}, err
	}
	defer s.mu.Unlock()
	o, err := m.lookup()
	if err != nil {
		return model.Value{}, err
	}
	v, ok := o.entries[key]
	if !ok {
		return model.Value{}, fmt.Errorf("key %q: %w", key, errs.ErrNotFound)
	}
	return model.Value{Data: append([]byte(nil), v.Data...), Version: v.Version}, nil
}

func (m *mdata) allowed(o *object, user string, registered bool, p model.Permission) bool {
	if registered && o.owner == user {
		return true
	}
	for _, principal := range []string{model.AnyoneKey, user} {
		for _, a := range o.perms[principal] {
			if a == p {
				return true
			}
		}
	}
	return false
}

func (m *mdata) ApplyEntriesMutation(_ context.Context, mut remote.Mutation) error {
	ops := mut.Ops()
	c := m.call(OpApply)
	c.Ops = ops
	s := m.app.store
	if err := s.begin(c); err != nil {
		return err
	}
	defer s.mu.Unlock()
	o, ok := s.objects[objKey(m.addr)]
	if !ok {
		return fmt.Errorf("apply: %w", errs.ErrNotFound)
	}
	if m.addr.TypeTag < model.ReservedTagLimit {
		return fmt.Errorf("apply: %w", errs.ErrPermissionDenied)
	}
	user, registered, _ := m.app.session()
	for i, op := range ops {
		cur, exists := o.entries[string(op.Key)]
		switch op.Kind {
		case model.OpInsert:
			if !m.allowed(o, user, registered, model.PermInsert) {
				return fmt.Errorf("op[%d]: %w", i, errs.ErrPermissionDenied)
			}
			if exists {
				return fmt.Errorf("op[%d]: %w", i, errs.ErrAlreadyExists)
			}
		case model.OpUpdate:
			if !m.allowed(o, user, registered, model.PermUpdate) {
				return fmt.Errorf("op[%d]: %w", i, errs.ErrPermissionDenied)
			}
			if !exists {
				return fmt.Errorf("op[%d]: %w", i, errs.ErrNotFound)
			}
			if op.Version != cur.Version+1 {
				return fmt.Errorf("op[%d]: %w", i, errs.ErrVersionConflict)
			}
		default:
			return fmt.Errorf("op[%d]: unknown kind %d", i, op.Kind)
		}
	}
	for _, op := range ops {
		k := string(op.Key)
		if _, exists := o.entries[k]; !exists {
			o.order = append(o.order, k)
		}
		o.entries[k] = model.Value{Data: append([]byte(nil), op.Value...), Version: op.Version}
	}
	return nil
}

func (m *mdata) SetUserPermissions(_ context.Context, principal string, perms remote.PermissionSet, version uint64) error {
	c := m.call(OpSetPerms)
	c.Version = version
	s := m.app.store
	if err := s.begin(c); err != nil {
		return err
	}
	defer s.mu.Unlock()
	o, ok := s.objects[objKey(m.addr)]
	if !ok {
		return fmt.Errorf("set permissions: %w", errs.ErrNotFound)
	}
	user, registered, _ := m.app.session()
	if !registered || o.owner != user || m.addr.TypeTag < model.ReservedTagLimit {
		return fmt.Errorf("set permissions: %w", errs.ErrPermissionDenied)
	}
	if version != o.permVersion+1 {
		return fmt.Errorf("set permissions: %w", errs.ErrVersionConflict)
	}
	o.perms[principal] = perms.Allowed()
	o.permVersion = version
	return nil
}

// Encrypt returns data unchanged; the simulator keeps container keys in plaintext.
func (m *mdata) Encrypt(_ context.Context, data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// Decrypt returns data unchanged.
func (m *mdata) Decrypt(_ context.Context, data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (m *mdata) Free() { m.h.release() }

type entries struct {
	*remote.EntrySnapshot
	h *handle
}

func (e *entries) Mutate() remote.Mutation {
	return &mutation{OpList: remote.NewMutation(), h: e.h.s.track()}
}

func (e *entries) Free() {
	e.EntrySnapshot.Free()
	e.h.release()
}

type keySnapshot struct {
	*remote.KeySnapshot
	h *handle
}

func (k *keySnapshot) Free() {
	k.KeySnapshot.Free()
	k.h.release()
}

type mutation struct {
	*remote.OpList
	h *handle
}

func (m *mutation) Free() {
	m.OpList.Free()
	m.h.release()
}

type permSet struct {
	*remote.PermSet
	h *handle
}

func (p *permSet) Free() { p.h.release() }

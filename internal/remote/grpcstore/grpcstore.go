// Package grpcstore implements the remote store contract against a store node over gRPC.
//
// Container contents such as public names are sealed client-side with a key
// derived from the account password and the kek_salt returned by Authorise.
package grpcstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	v1 "github.com/and161185/safe-comments/internal/api/storev1"
	"github.com/and161185/safe-comments/internal/convert"
	"github.com/and161185/safe-comments/internal/crypto"
	"github.com/and161185/safe-comments/internal/crypto/clientcrypto"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote"
)

const uriPrefix = "safe-auth:"

// Config configures how sessions reach the store node and which account they act for.
type Config struct {
	Addr string
	// Username and Password of the account; empty for unregistered use.
	Username string
	Password string

	CACert             string
	InsecureSkipVerify bool
	Plaintext          bool

	// DialOptions are appended to the defaults, e.g. a custom dialer.
	DialOptions []grpc.DialOption
}

// Network opens gRPC sessions.
type Network struct {
	cfg Config
	log *zap.Logger
}

var _ remote.Network = (*Network)(nil)

// New returns a Network for cfg.
func New(cfg Config, log *zap.Logger) *Network {
	if log == nil {
		log = zap.NewNop()
	}
	return &Network{cfg: cfg, log: log}
}

// Register creates the configured account on the store node and returns its id.
func (n *Network) Register(ctx context.Context) (string, error) {
	cc, err := dial(n.cfg, nil)
	if err != nil {
		return "", err
	}
	defer cc.Close()
	resp, err := v1.NewStoreClient(cc).Register(ctx, &v1.RegisterRequest{Username: n.cfg.Username, Password: n.cfg.Password})
	if err != nil {
		return "", fromStatus(err)
	}
	return resp.AccountID, nil
}

// Initialise creates a session. The connection is only attempted by Connect,
// ConnectAuthorised or the first call.
func (n *Network) Initialise(_ context.Context, info model.AppInfo, onState remote.StateFunc) (remote.App, error) {
	a := &app{cfg: n.cfg, info: info, log: n.log.With(zap.String("app", info.ID))}
	cc, err := dial(n.cfg, a.token)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", errs.ErrTransport, err)
	}
	a.cc, a.client = cc, v1.NewStoreClient(cc)

	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	if onState != nil {
		go watch(ctx, cc, onState)
	}
	return a, nil
}

// watch reports every connectivity change until ctx ends or the channel shuts down.
func watch(ctx context.Context, cc *grpc.ClientConn, onState remote.StateFunc) {
	for {
		s := cc.GetState()
		if ctx.Err() != nil {
			return
		}
		onState(connState(s))
		if !cc.WaitForStateChange(ctx, s) {
			return
		}
	}
}

type app struct {
	cfg       Config
	info      model.AppInfo
	log       *zap.Logger
	cc        *grpc.ClientConn
	client    *v1.StoreClient
	stopWatch context.CancelFunc

	mu      sync.RWMutex
	pending *model.Grant
	grant   *model.Grant
	kek     []byte
}

func (a *app) token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.grant == nil {
		return ""
	}
	return a.grant.Token
}

func (a *app) current() *model.Grant {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.grant
}

func (a *app) Authorise(ctx context.Context, containers model.Containers, opts model.AuthOptions) (string, error) {
	if a.cfg.Username == "" {
		return "", fmt.Errorf("authorise: no account configured: %w", errs.ErrUnauthorized)
	}
	resp, err := a.client.Authorise(ctx, &v1.AuthoriseRequest{
		Username:     a.cfg.Username,
		Password:     a.cfg.Password,
		AppID:        a.info.ID,
		AppName:      a.info.Name,
		AppVendor:    a.info.Vendor,
		Containers:   convert.ToWireContainers(containers),
		OwnContainer: opts.OwnContainer,
	})
	if err != nil {
		return "", fromStatus(err)
	}
	id, err := uuid.FromString(resp.AccountID)
	if err != nil {
		return "", fmt.Errorf("authorise: bad account id: %w", err)
	}
	g := &model.Grant{
		Token:        resp.Token,
		AccountID:    id,
		AppID:        a.info.ID,
		Containers:   containers,
		OwnContainer: opts.OwnContainer,
		KekSalt:      resp.KekSalt,
	}
	a.mu.Lock()
	a.pending = g
	a.mu.Unlock()
	return uriPrefix + resp.Token, nil
}

func (a *app) ConnectAuthorised(ctx context.Context, uri string) error {
	tok, ok := strings.CutPrefix(uri, uriPrefix)
	a.mu.Lock()
	if !ok || a.pending == nil || a.pending.Token != tok {
		a.mu.Unlock()
		return fmt.Errorf("connect: unknown auth uri: %w", errs.ErrUnauthorized)
	}
	g := a.pending
	a.pending = nil
	a.mu.Unlock()

	kek := clientcrypto.DeriveKEK([]byte(a.cfg.Password), g.KekSalt)
	a.mu.Lock()
	a.grant, a.kek = g, kek
	a.mu.Unlock()
	return waitReady(ctx, a.cc)
}

func (a *app) Connect(ctx context.Context) error { return waitReady(ctx, a.cc) }

func (a *app) Reconnect(ctx context.Context) error {
	a.log.Info("reconnecting")
	a.cc.ResetConnectBackoff()
	return waitReady(ctx, a.cc)
}

func (a *app) containerHandle(g *model.Grant, name string) *mdata {
	return &mdata{
		app:       a,
		addr:      model.Address{Name: crypto.ContainerName(g.AccountID.String(), name), TypeTag: model.ContainerTypeTag},
		container: name,
	}
}

func (a *app) Container(_ context.Context, name string) (remote.MutableData, error) {
	g := a.current()
	if g == nil || !g.CanAccess(name) {
		return nil, fmt.Errorf("container %q: %w", name, errs.ErrPermissionDenied)
	}
	return a.containerHandle(g, name), nil
}

func (a *app) OwnContainer(_ context.Context) (remote.MutableData, error) {
	g := a.current()
	if g == nil || !g.OwnContainer {
		return nil, fmt.Errorf("own container: %w", errs.ErrPermissionDenied)
	}
	return a.containerHandle(g, model.OwnContainerName(g.AppID)), nil
}

func (a *app) ClaimPublicName(ctx context.Context, name string) error {
	if a.current() == nil {
		return fmt.Errorf("claim %q: %w", name, errs.ErrUnauthorized)
	}
	_, err := a.client.ClaimName(ctx, &v1.ClaimNameRequest{Name: name})
	return fromStatus(err)
}

func (a *app) OwnsPublicName(ctx context.Context, name string) (bool, error) {
	g := a.current()
	if g == nil {
		return false, nil
	}
	addr := model.Address{Name: crypto.NameHash(model.PublicNameKey(name)), TypeTag: model.PublicNameTypeTag}
	resp, err := a.client.GetValue(ctx, &v1.GetValueRequest{Address: convert.ToWireAddress(addr), Key: []byte(model.PublicNameOwnerKey)})
	if err != nil {
		if err = fromStatus(err); errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return string(resp.Value) == g.AccountID.String(), nil
}

func (a *app) Hash(name string) []byte { return crypto.NameHash(name) }

func (a *app) NewPublic(name []byte, typeTag uint64) remote.MutableData {
	return &mdata{app: a, addr: model.Address{Name: append([]byte(nil), name...), TypeTag: typeTag}}
}

func (a *app) NewPermissionSet() remote.PermissionSet { return remote.NewPermSet() }

func (a *app) Free() {
	a.stopWatch()
	a.mu.Lock()
	a.grant, a.pending, a.kek = nil, nil, nil
	a.mu.Unlock()
	if err := a.cc.Close(); err != nil {
		a.log.Debug("close", zap.Error(err))
	}
}

type mdata struct {
	app       *app
	addr      model.Address
	container string // set for account containers
}

func (m *mdata) wire() v1.Address { return convert.ToWireAddress(m.addr) }

func (m *mdata) QuickSetup(ctx context.Context, entries map[string][]byte, name, description string) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	list := make([]v1.Entry, 0, len(keys))
	for _, k := range keys {
		list = append(list, v1.Entry{Key: []byte(k), Value: entries[k]})
	}
	_, err := m.app.client.PutObject(ctx, &v1.PutObjectRequest{Address: m.wire(), Entries: list, Name: name, Description: description})
	return fromStatus(err)
}

func (m *mdata) Entries(ctx context.Context) (remote.Entries, error) {
	resp, err := m.app.client.GetEntries(ctx, &v1.GetEntriesRequest{Address: m.wire()})
	if err != nil {
		return nil, fromStatus(err)
	}
	return remote.NewEntrySnapshot(convert.FromWireEntries(resp.Entries)), nil
}

func (m *mdata) Keys(ctx context.Context) (remote.Keys, error) {
	resp, err := m.app.client.ListKeys(ctx, &v1.ListKeysRequest{Address: m.wire()})
	if err != nil {
		return nil, fromStatus(err)
	}
	return remote.NewKeySnapshot(resp.Keys), nil
}

func (m *mdata) Get(ctx context.Context, key string) (model.Value, error) {
	resp, err := m.app.client.GetValue(ctx, &v1.GetValueRequest{Address: m.wire(), Key: []byte(key)})
	if err != nil {
		return model.Value{}, fromStatus(err)
	}
	return model.Value{Data: resp.Value, Version: resp.Version}, nil
}

func (m *mdata) ApplyEntriesMutation(ctx context.Context, mut remote.Mutation) error {
	_, err := m.app.client.Mutate(ctx, &v1.MutateRequest{Address: m.wire(), Ops: convert.ToWireOps(mut.Ops())})
	return fromStatus(err)
}

func (m *mdata) SetUserPermissions(ctx context.Context, principal string, perms remote.PermissionSet, version uint64) error {
	_, err := m.app.client.SetPermissions(ctx, &v1.SetPermissionsRequest{
		Address:   m.wire(),
		Principal: principal,
		Allow:     convert.ToWirePermissions(perms.Allowed()),
		Version:   version,
	})
	return fromStatus(err)
}

func (m *mdata) key() ([]byte, error) {
	if m.container == "" {
		return nil, errors.New("public objects have no container key")
	}
	m.app.mu.RLock()
	kek := m.app.kek
	m.app.mu.RUnlock()
	if kek == nil {
		return nil, errs.ErrNotInitialised
	}
	return clientcrypto.ContainerKey(kek, m.container)
}

func (m *mdata) Encrypt(_ context.Context, data []byte) ([]byte, error) {
	k, err := m.key()
	if err != nil {
		return nil, err
	}
	return clientcrypto.Seal(k, m.container, data)
}

func (m *mdata) Decrypt(_ context.Context, data []byte) ([]byte, error) {
	k, err := m.key()
	if err != nil {
		return nil, err
	}
	plain, err := clientcrypto.Open(k, m.container, data)
	if err != nil {
		return nil, errors.Join(errs.ErrDecode, err)
	}
	return plain, nil
}

func (m *mdata) Free() {}

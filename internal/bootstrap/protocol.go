// Package bootstrap opens the shared comments object of a deployment, provisioning it and
// electing its owner on first use.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote"
)

// Admin flag stored in the owner's own container.
const (
	AdminKey   = "isAdmin"
	AdminValue = "true"
)

// Config describes the deployment.
type Config struct {
	// Host is the hosting name, e.g. "blog.alice". It names the shared object
	// and yields the public identity allowed to become owner ("alice").
	Host string
	// TypeTag of the shared object; model.CommentsTypeTag when zero.
	TypeTag uint64
	// RequestOwnContainer also asks for the own container when the object already
	// exists, so a returning owner is recognised by IsOwner.
	RequestOwnContainer bool
}

// AppInfo returns the app identity used for a hosting name.
func AppInfo(host string) model.AppInfo {
	return model.AppInfo{ID: host, Name: host + "-comment-plugin", Vendor: "MaidSafe.net"}
}

// PublicID derives the public identity from a hosting name by dropping its first label.
func PublicID(host string) string {
	_, rest, ok := strings.Cut(host, ".")
	if !ok {
		return ""
	}
	return rest
}

// Protocol runs the bootstrap against a store network.
type Protocol struct {
	net     remote.Network
	cfg     Config
	info    model.AppInfo
	onState remote.StateFunc
	log     *zap.Logger
}

// New constructs a Protocol. onState receives connectivity changes of every session it opens.
func New(net remote.Network, cfg Config, onState remote.StateFunc, log *zap.Logger) *Protocol {
	if cfg.TypeTag == 0 {
		cfg.TypeTag = model.CommentsTypeTag
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{net: net, cfg: cfg, info: AppInfo(cfg.Host), onState: onState, log: log}
}

// Ready is an authorised session with an open handle to the shared object.
type Ready struct {
	Topic  string
	App    remote.App
	Object remote.MutableData
	// Provisioned is true when this call created the shared object.
	Provisioned bool
}

// Close releases the object handle and the session.
func (r *Ready) Close() {
	if r == nil {
		return
	}
	if r.Object != nil {
		r.Object.Free()
	}
	if r.App != nil {
		r.App.Free()
	}
}

// IsOwner reports whether this session's own container carries the admin flag.
func (r *Ready) IsOwner(ctx context.Context) bool {
	if r == nil {
		return false
	}
	return IsOwner(ctx, r.App)
}

// PublicNames lists the public identities of the authorised account.
func (r *Ready) PublicNames(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, errs.ErrNotInitialised
	}
	return PublicNames(ctx, r.App)
}

func (p *Protocol) plainContainers() model.Containers {
	return model.Containers{model.PublicNamesContainer: {model.PermRead}}
}

// Authorise opens the shared object for topic, provisioning it first when it does not exist yet.
func (p *Protocol) Authorise(ctx context.Context, topic string) (*Ready, error) {
	if topic == "" {
		return nil, errors.New("validation: empty topic")
	}
	if p.cfg.Host == "" {
		return nil, errors.New("validation: empty host")
	}

	exists, err := p.probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if exists {
		return p.open(ctx, topic)
	}
	p.log.Info("shared object not initialised, provisioning", zap.String("host", p.cfg.Host))
	return p.provision(ctx, topic)
}

func (p *Protocol) address(app remote.App) remote.MutableData {
	return app.NewPublic(app.Hash(p.cfg.Host), p.cfg.TypeTag)
}

// probe checks existence of the shared object as an unregistered client.
func (p *Protocol) probe(ctx context.Context) (bool, error) {
	app, err := p.net.Initialise(ctx, p.info, p.onState)
	if err != nil {
		return false, err
	}
	defer app.Free()
	if err := app.Connect(ctx); err != nil {
		return false, err
	}

	md := p.address(app)
	defer md.Free()
	entries, err := md.Entries(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	entries.Free()
	return true, nil
}

// connect initialises and authorises a registered session.
func (p *Protocol) connect(ctx context.Context, opts model.AuthOptions) (remote.App, error) {
	app, err := p.net.Initialise(ctx, p.info, p.onState)
	if err != nil {
		return nil, err
	}
	uri, err := app.Authorise(ctx, p.plainContainers(), opts)
	if err != nil {
		app.Free()
		return nil, fmt.Errorf("authorise: %w", err)
	}
	if err := app.ConnectAuthorised(ctx, uri); err != nil {
		app.Free()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return app, nil
}

func (p *Protocol) open(ctx context.Context, topic string) (*Ready, error) {
	app, err := p.connect(ctx, model.AuthOptions{OwnContainer: p.cfg.RequestOwnContainer})
	if err != nil {
		return nil, err
	}
	return &Ready{Topic: topic, App: app, Object: p.address(app)}, nil
}

func (p *Protocol) provision(ctx context.Context, topic string) (_ *Ready, err error) {
	app, err := p.connect(ctx, model.AuthOptions{OwnContainer: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			app.Free()
		}
	}()

	if err = p.setAsAdmin(ctx, app); err != nil {
		return nil, err
	}
	p.log.Debug("admin flag set")

	obj, created, err := p.setup(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	return &Ready{Topic: topic, App: app, Object: obj, Provisioned: created}, nil
}

// setAsAdmin checks the public identity and writes the admin flag into the own container.
func (p *Protocol) setAsAdmin(ctx context.Context, app remote.App) error {
	names, err := PublicNames(ctx, app)
	if err != nil {
		return fmt.Errorf("public names: %w", err)
	}
	id := PublicID(p.cfg.Host)
	if !contains(names, id) {
		p.log.Warn("public id mismatch", zap.String("public_id", id), zap.Int("owned", len(names)))
		return errs.ErrPublicIDMismatch
	}
	// the container is writable by its owner, only the claim proves the name
	owns, err := app.OwnsPublicName(ctx, id)
	if err != nil {
		return fmt.Errorf("public name claim: %w", err)
	}
	if !owns {
		p.log.Warn("public id claimed by another account", zap.String("public_id", id))
		return errs.ErrPublicIDMismatch
	}

	own, err := app.OwnContainer(ctx)
	if err != nil {
		return fmt.Errorf("own container: %w", err)
	}
	defer own.Free()
	entries, err := own.Entries(ctx)
	if err != nil {
		return fmt.Errorf("own container entries: %w", err)
	}
	defer entries.Free()
	if entries.Len() != 0 {
		return nil
	}

	mut := entries.Mutate()
	defer mut.Free()
	if err := mut.Insert(AdminKey, []byte(AdminValue)); err != nil {
		return err
	}
	err = own.ApplyEntriesMutation(ctx, mut)
	if errors.Is(err, errs.ErrAlreadyExists) {
		// another device of the same account set it first
		return nil
	}
	return err
}

// setup creates the shared object and opens Insert/Update to everyone.
// Losing the creation race to another first client is not an error.
func (p *Protocol) setup(ctx context.Context, app remote.App) (remote.MutableData, bool, error) {
	obj := p.address(app)
	err := obj.QuickSetup(ctx, nil,
		p.cfg.Host+" - Comment Plugin",
		"Comments for the hosting "+p.cfg.Host+" is saved in this MutableData")
	if errors.Is(err, errs.ErrAlreadyExists) {
		p.log.Info("shared object created concurrently by another client")
		return obj, false, nil
	}
	if err != nil {
		obj.Free()
		return nil, false, err
	}

	perms := app.NewPermissionSet()
	defer perms.Free()
	for _, perm := range []model.Permission{model.PermInsert, model.PermUpdate} {
		if err := perms.SetAllow(perm); err != nil {
			obj.Free()
			return nil, false, err
		}
	}
	if err := obj.SetUserPermissions(ctx, model.AnyoneKey, perms, 1); err != nil {
		obj.Free()
		return nil, false, fmt.Errorf("permissions: %w", err)
	}
	return obj, true, nil
}

// IsOwner reads the admin flag from the app's own container. Any failure means false.
func IsOwner(ctx context.Context, app remote.App) bool {
	if app == nil {
		return false
	}
	own, err := app.OwnContainer(ctx)
	if err != nil {
		return false
	}
	defer own.Free()
	entries, err := own.Entries(ctx)
	if err != nil {
		return false
	}
	defer entries.Free()
	v, err := entries.Get(AdminKey)
	if err != nil {
		return false
	}
	return string(v.Data) == AdminValue
}

// PublicNames lists and decrypts the keys of the _publicNames container.
func PublicNames(ctx context.Context, app remote.App) ([]string, error) {
	if app == nil {
		return nil, errs.ErrNotInitialised
	}
	container, err := app.Container(ctx, model.PublicNamesContainer)
	if err != nil {
		return nil, err
	}
	defer container.Free()
	keys, err := container.Keys(ctx)
	if err != nil {
		return nil, err
	}
	defer keys.Free()

	names := make([]string, 0, keys.Len())
	if keys.Len() == 0 {
		return names, nil
	}
	var encrypted [][]byte
	keys.ForEach(func(k []byte) { encrypted = append(encrypted, append([]byte(nil), k...)) })
	for _, k := range encrypted {
		plain, err := container.Decrypt(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("decrypt public name: %w", err)
		}
		names = append(names, string(plain))
	}
	return names, nil
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AddPublicName claims name for the account and stores it, sealed with the container
// key, in the _publicNames container. The app must be authorised with Insert on that
// container. A name held by any account yields errs.ErrAlreadyExists; a claim of
// this account missing from the container is completed.
func AddPublicName(ctx context.Context, app remote.App, name string) error {
	if name == "" {
		return errors.New("validation: empty public name")
	}
	names, err := PublicNames(ctx, app)
	if err != nil {
		return err
	}
	if contains(names, name) {
		return fmt.Errorf("public name %q: %w", name, errs.ErrAlreadyExists)
	}
	if err := app.ClaimPublicName(ctx, name); errors.Is(err, errs.ErrAlreadyExists) {
		owns, oerr := app.OwnsPublicName(ctx, name)
		if oerr != nil {
			return oerr
		}
		if !owns {
			return fmt.Errorf("public name %q: %w", name, err)
		}
	} else if err != nil {
		return fmt.Errorf("claim public name: %w", err)
	}

	container, err := app.Container(ctx, model.PublicNamesContainer)
	if err != nil {
		return err
	}
	defer container.Free()
	sealed, err := container.Encrypt(ctx, []byte(name))
	if err != nil {
		return fmt.Errorf("encrypt public name: %w", err)
	}
	entries, err := container.Entries(ctx)
	if err != nil {
		return err
	}
	defer entries.Free()
	mut := entries.Mutate()
	defer mut.Free()
	if err := mut.Insert(string(sealed), nil); err != nil {
		return err
	}
	return container.ApplyEntriesMutation(ctx, mut)
}

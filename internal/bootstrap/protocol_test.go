package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/safe-comments/internal/crypto"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote"
	"github.com/and161185/safe-comments/internal/remote/memstore"
)

const host = "blog.alice"

func sharedAddr() model.Address {
	return model.Address{Name: crypto.NameHash(host), TypeTag: model.CommentsTypeTag}
}

func newProtocol(t *testing.T, s *memstore.Store, user string, cfg Config) *Protocol {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = host
	}
	return New(s.Network(user), cfg, nil, zaptest.NewLogger(t))
}

func TestPublicID(t *testing.T) {
	require.Equal(t, "alice", PublicID("blog.alice"))
	require.Equal(t, "shop.alice", PublicID("www.shop.alice"))
	require.Equal(t, "", PublicID("alice"))
}

func TestAppInfo(t *testing.T) {
	info := AppInfo(host)
	require.Equal(t, host, info.ID)
	require.Equal(t, "blog.alice-comment-plugin", info.Name)
	require.Equal(t, "MaidSafe.net", info.Vendor)
}

func TestAuthorise_FirstRunProvisions(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	p := newProtocol(t, s, "alice", Config{})

	ready, err := p.Authorise(context.Background(), "post-1")
	require.NoError(t, err)
	defer ready.Close()

	require.True(t, ready.Provisioned)
	require.Equal(t, "post-1", ready.Topic)
	require.True(t, ready.IsOwner(context.Background()))
	require.ElementsMatch(t,
		[]model.Permission{model.PermInsert, model.PermUpdate},
		s.Permissions(sharedAddr(), model.AnyoneKey))

	perms := s.Calls(memstore.OpSetPerms)
	require.Len(t, perms, 1)
	require.Equal(t, uint64(1), perms[0].Version)
}

func TestAuthorise_SecondRunDoesNotReprovision(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	p := newProtocol(t, s, "alice", Config{RequestOwnContainer: true})

	first, err := p.Authorise(context.Background(), "post-1")
	require.NoError(t, err)
	first.Close()

	s.ResetCalls()
	second, err := p.Authorise(context.Background(), "post-1")
	require.NoError(t, err)
	defer second.Close()

	require.False(t, second.Provisioned)
	require.Empty(t, s.Calls(memstore.OpQuickSetup))
	require.Empty(t, s.Calls(memstore.OpSetPerms))
	require.Empty(t, s.Calls(memstore.OpApply))
	require.True(t, second.IsOwner(context.Background()))
}

func TestAuthorise_PublicIDMismatch(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	p := newProtocol(t, s, "alice", Config{Host: "blog.bob"})

	ready, err := p.Authorise(context.Background(), "post-1")
	require.ErrorIs(t, err, errs.ErrPublicIDMismatch)
	require.Nil(t, ready)
	require.Empty(t, s.Calls(memstore.OpQuickSetup))
	require.Empty(t, s.Calls(memstore.OpApply))
	require.Zero(t, s.Live())
}

func TestAuthorise_NameClaimedByAnotherAccount(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	// mallory lists "alice" in her own container but the claim is alice's
	s.AddAccount("mallory", "alice")

	ready, err := newProtocol(t, s, "mallory", Config{}).Authorise(context.Background(), "post-1")
	require.ErrorIs(t, err, errs.ErrPublicIDMismatch)
	require.Nil(t, ready)
	require.Empty(t, s.Calls(memstore.OpQuickSetup))
	require.Empty(t, s.Calls(memstore.OpApply))
	require.Zero(t, s.Live())

	ready, err = newProtocol(t, s, "alice", Config{}).Authorise(context.Background(), "post-1")
	require.NoError(t, err)
	defer ready.Close()
	require.True(t, ready.Provisioned)
}

func TestAuthorise_SetPermissionsFailureReleasesHandles(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	s.FailNext(memstore.OpSetPerms, errs.ErrTransport)

	ready, err := newProtocol(t, s, "alice", Config{}).Authorise(context.Background(), "t")
	require.ErrorIs(t, err, errs.ErrTransport)
	require.Nil(t, ready)
	require.Zero(t, s.Live())
}

func TestAuthorise_VisitorIsNotOwner(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	s.AddAccount("carol", "carol")

	owner, err := newProtocol(t, s, "alice", Config{}).Authorise(context.Background(), "t")
	require.NoError(t, err)
	owner.Close()

	visitor, err := newProtocol(t, s, "carol", Config{RequestOwnContainer: true}).Authorise(context.Background(), "t")
	require.NoError(t, err)
	defer visitor.Close()
	require.False(t, visitor.Provisioned)
	require.False(t, visitor.IsOwner(context.Background()))

	names, err := visitor.PublicNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, names)
}

func TestAuthorise_WithoutOwnContainerIsNotOwner(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	p := newProtocol(t, s, "alice", Config{})

	first, err := p.Authorise(context.Background(), "t")
	require.NoError(t, err)
	first.Close()

	second, err := p.Authorise(context.Background(), "t")
	require.NoError(t, err)
	defer second.Close()
	require.False(t, second.IsOwner(context.Background()))
}

func TestAuthorise_ProbeErrorPropagates(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	s.FailNext(memstore.OpEntries, errs.ErrTransport)

	_, err := newProtocol(t, s, "alice", Config{}).Authorise(context.Background(), "t")
	require.ErrorIs(t, err, errs.ErrTransport)
	require.Empty(t, s.Calls(memstore.OpAuthorise))
	require.Zero(t, s.Live())
}

func TestAuthorise_AuthoriseFailure(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")
	boom := errors.New("denied by user")
	s.FailNext(memstore.OpAuthorise, boom)

	_, err := newProtocol(t, s, "alice", Config{}).Authorise(context.Background(), "t")
	require.ErrorIs(t, err, boom)
	require.Empty(t, s.Calls(memstore.OpQuickSetup))
	require.Zero(t, s.Live())
}

func TestAuthorise_Validation(t *testing.T) {
	s := memstore.New()
	_, err := newProtocol(t, s, "alice", Config{}).Authorise(context.Background(), "")
	require.Error(t, err)
	require.Empty(t, s.Calls(""))
}

func TestAuthorise_ConcurrentFirstClients(t *testing.T) {
	s := memstore.New()
	s.AddAccount("alice", "alice")

	var arrived sync.WaitGroup
	arrived.Add(2)
	s.Hook(memstore.OpQuickSetup, func() {
		arrived.Done()
		arrived.Wait()
	})

	var wg sync.WaitGroup
	results := make([]*Ready, 2)
	errList := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errList[i] = newProtocol(t, s, "alice", Config{}).Authorise(context.Background(), "t")
		}(i)
	}
	wg.Wait()

	provisioned := 0
	for i := range results {
		require.NoError(t, errList[i])
		if results[i].Provisioned {
			provisioned++
		}
		results[i].Close()
	}
	require.Zero(t, s.Live())
	require.Equal(t, 1, provisioned)
	require.Len(t, s.Calls(memstore.OpSetPerms), 1)

	flag, ok := s.Value(model.Address{
		Name:    crypto.ContainerName("alice", model.OwnContainerName(host)),
		TypeTag: model.ContainerTypeTag,
	}, AdminKey)
	require.True(t, ok)
	require.Equal(t, AdminValue, string(flag.Data))
}

func TestPublicNames_NilApp(t *testing.T) {
	_, err := PublicNames(context.Background(), nil)
	require.ErrorIs(t, err, errs.ErrNotInitialised)
	require.False(t, IsOwner(context.Background(), nil))

	var r *Ready
	require.False(t, r.IsOwner(context.Background()))
	r.Close()
}

// namesApp returns a session of user allowed to read and extend its public names.
func namesApp(t *testing.T, s *memstore.Store, user string) remote.App {
	t.Helper()
	ctx := context.Background()
	app, err := s.Network(user).Initialise(ctx, AppInfo(host), nil)
	require.NoError(t, err)
	t.Cleanup(app.Free)
	uri, err := app.Authorise(ctx, model.Containers{model.PublicNamesContainer: {model.PermRead, model.PermInsert}}, model.AuthOptions{})
	require.NoError(t, err)
	require.NoError(t, app.ConnectAuthorised(ctx, uri))
	return app
}

func TestAddPublicName_ThenProvision(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	s.AddAccount("alice")

	_, err := newProtocol(t, s, "alice", Config{}).Authorise(ctx, "post-1")
	require.ErrorIs(t, err, errs.ErrPublicIDMismatch)

	app := namesApp(t, s, "alice")
	require.NoError(t, AddPublicName(ctx, app, "alice"))
	require.ErrorIs(t, AddPublicName(ctx, app, "alice"), errs.ErrAlreadyExists)
	require.Error(t, AddPublicName(ctx, app, ""))

	names, err := PublicNames(ctx, app)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, names)

	ready, err := newProtocol(t, s, "alice", Config{}).Authorise(ctx, "post-1")
	require.NoError(t, err)
	defer ready.Close()
	require.True(t, ready.Provisioned)
}

func TestAddPublicName_ClaimedByAnotherAccount(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	s.AddAccount("alice", "alice")
	s.AddAccount("mallory")
	app := namesApp(t, s, "mallory")

	err := AddPublicName(ctx, app, "alice")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	names, err := PublicNames(ctx, app)
	require.NoError(t, err)
	require.Empty(t, names)

	owns, err := app.OwnsPublicName(ctx, "alice")
	require.NoError(t, err)
	require.False(t, owns)
	require.NoError(t, AddPublicName(ctx, app, "mallory"))
	owns, err = app.OwnsPublicName(ctx, "mallory")
	require.NoError(t, err)
	require.True(t, owns)
}

func TestAddPublicName_CompletesOwnClaim(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	s.AddAccount("alice")
	app := namesApp(t, s, "alice")
	require.NoError(t, app.ClaimPublicName(ctx, "alice"))

	require.NoError(t, AddPublicName(ctx, app, "alice"))
	names, err := PublicNames(ctx, app)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, names)
}

func TestAddPublicName_FailureReleasesHandles(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	s.AddAccount("alice")
	app := namesApp(t, s, "alice")
	live := s.Live()

	s.FailNext(memstore.OpApply, errs.ErrTransport)
	require.ErrorIs(t, AddPublicName(ctx, app, "alice"), errs.ErrTransport)
	require.Equal(t, live, s.Live())
}

package comments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/safe-comments/internal/bootstrap"
	"github.com/and161185/safe-comments/internal/crypto"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote"
	"github.com/and161185/safe-comments/internal/remote/memstore"
)

const (
	host  = "blog.alice"
	topic = "first-post"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sharedAddr() model.Address {
	return model.Address{Name: crypto.NameHash(host), TypeTag: model.CommentsTypeTag}
}

type fixture struct {
	store *memstore.Store
	ready *bootstrap.Ready
	repo  *Repository
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	s.AddAccount("alice", "alice")
	ready, err := bootstrap.New(s.Network("alice"), bootstrap.Config{Host: host}, nil, zaptest.NewLogger(t)).
		Authorise(context.Background(), topic)
	require.NoError(t, err)
	t.Cleanup(ready.Close)
	s.ResetCalls()

	repo := New(ready.Object, topic,
		WithClock(func() time.Time { return fixed }),
		WithIDs(seqIDs()),
		WithLogger(zaptest.NewLogger(t)))
	return &fixture{store: s, ready: ready, repo: repo}
}

func (f *fixture) version(t *testing.T) uint64 {
	t.Helper()
	v, ok := f.store.Value(sharedAddr(), topic)
	require.True(t, ok)
	return v.Version
}

func TestList_EmptyTopic(t *testing.T) {
	f := newFixture(t)
	list := f.repo.List(context.Background())
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestAdd_FirstWriteInserts(t *testing.T) {
	f := newFixture(t)

	list, err := f.repo.Add(context.Background(), "alice", "hi")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Sun, 01 Mar 2026 12:00:00 GMT", list[0].CreatedAt)

	require.Empty(t, f.store.Calls(memstore.OpGet))
	apply := f.store.Calls(memstore.OpApply)
	require.Len(t, apply, 1)
	require.Len(t, apply[0].Ops, 1)
	require.Equal(t, model.OpInsert, apply[0].Ops[0].Kind)
	require.Equal(t, topic, string(apply[0].Ops[0].Key))
	require.Equal(t, uint64(0), f.version(t))
}

func TestAdd_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)
	_, err = f.repo.Add(ctx, "bob", "yo")
	require.NoError(t, err)

	list := New(f.ready.Object, topic).List(ctx)
	require.Len(t, list, 2)
	require.Equal(t, "bob", list[0].Author)
	require.Equal(t, "yo", list[0].Body)
	require.Equal(t, "alice", list[1].Author)
	require.Equal(t, "hi", list[1].Body)
}

func TestAdd_VersionIncrements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "a", "1")
	require.NoError(t, err)
	prev := f.version(t)
	for i := range 3 {
		_, err := f.repo.Add(ctx, "a", fmt.Sprint(i))
		require.NoError(t, err)
		cur := f.version(t)
		require.Equal(t, prev+1, cur)
		prev = cur
	}

	for _, c := range f.store.Calls(memstore.OpApply)[1:] {
		require.Equal(t, model.OpUpdate, c.Ops[0].Kind)
	}
}

func TestDelete_RemovesFirstMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)
	_, err = f.repo.Add(ctx, "bob", "yo")
	require.NoError(t, err)
	before := f.version(t)

	target := f.repo.Snapshot()[1]
	target.ID = "something-else"
	list, err := f.repo.Delete(ctx, target)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "bob", list[0].Author)
	require.Equal(t, before+1, f.version(t))

	var stored []model.Comment
	v, _ := f.store.Value(sharedAddr(), topic)
	require.NoError(t, json.Unmarshal(v.Data, &stored))
	require.Len(t, stored, 1)
	require.Equal(t, "yo", stored[0].Body)
}

func TestDelete_NoMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)
	f.store.ResetCalls()

	_, err = f.repo.Delete(ctx, model.Comment{Author: "nobody", Body: "x", CreatedAt: "y"})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Empty(t, f.store.Calls(memstore.OpApply))
	require.Len(t, f.repo.Snapshot(), 1)
}

func TestWriteFailureLeavesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)
	before := f.repo.Snapshot()

	f.store.FailNext(memstore.OpApply, errs.ErrVersionConflict)
	_, err = f.repo.Add(ctx, "bob", "yo")
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.Equal(t, before, f.repo.Snapshot())

	f.store.FailNext(memstore.OpApply, errs.ErrVersionConflict)
	_, err = f.repo.Delete(ctx, before[0])
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.Equal(t, before, f.repo.Snapshot())
}

func TestConcurrentWriterConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)

	other := New(f.ready.Object, topic)
	other.List(ctx)

	before := f.repo.Snapshot()
	var otherErr error
	// the other client commits between our version read and our apply
	f.store.Hook(memstore.OpApply, func() {
		f.store.Hook(memstore.OpApply, nil)
		_, otherErr = other.Add(ctx, "carol", "first")
	})
	_, err = f.repo.Add(ctx, "bob", "yo")
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.NoError(t, otherErr)
	require.Equal(t, before, f.repo.Snapshot())

	list := f.repo.List(ctx)
	require.Len(t, list, 2)
	require.Equal(t, "carol", list[0].Author)

	_, err = f.repo.Add(ctx, "bob", "yo")
	require.NoError(t, err)
}

func TestList_ErrorsKeepSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)

	f.store.FailNext(memstore.OpGet, errs.ErrTransport)
	list := f.repo.List(ctx)
	require.Len(t, list, 1)
	require.Equal(t, "alice", list[0].Author)
}

func TestList_DecodeFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entries, err := f.ready.Object.Entries(ctx)
	require.NoError(t, err)
	mut := entries.Mutate()
	require.NoError(t, mut.Insert(topic, []byte("not json")))
	require.NoError(t, f.ready.Object.ApplyEntriesMutation(ctx, mut))
	mut.Free()
	entries.Free()

	require.Empty(t, f.repo.List(ctx))
}

func TestList_AssignsLocalIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)

	v, _ := f.store.Value(sharedAddr(), topic)
	require.NotContains(t, string(v.Data), "id-")

	list := f.repo.List(ctx)
	require.Len(t, list, 1)
	require.NotEmpty(t, list[0].ID)
}

func (f *fixture) stored(t *testing.T) model.CommentList {
	t.Helper()
	v, ok := f.store.Value(sharedAddr(), topic)
	require.True(t, ok)
	var list model.CommentList
	require.NoError(t, json.Unmarshal(v.Data, &list))
	return list
}

func authors(list model.CommentList) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.Author)
	}
	return out
}

func TestAdd_AfterDeletingLastComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)
	list, err = f.repo.Delete(ctx, list[0])
	require.NoError(t, err)
	require.Empty(t, list)
	require.Equal(t, uint64(1), f.version(t))

	list, err = f.repo.Add(ctx, "bob", "yo")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, authors(list))
	require.Equal(t, uint64(2), f.version(t))
	require.Equal(t, []string{"bob"}, authors(f.stored(t)))
}

func TestAdd_AfterFailedFirstListKeepsStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)

	fresh := New(f.ready.Object, topic, WithClock(func() time.Time { return fixed }), WithIDs(seqIDs()))
	f.store.FailNext(memstore.OpGet, errs.ErrTransport)
	require.Empty(t, fresh.List(ctx))

	list, err := fresh.Add(ctx, "bob", "yo")
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "alice"}, authors(list))
	require.Equal(t, []string{"bob", "alice"}, authors(f.stored(t)))
	require.Equal(t, uint64(1), f.version(t))
}

// gatedGet parks the first Get after arming, once it has read the store, until release is closed.
type gatedGet struct {
	remote.MutableData
	armed   atomic.Bool
	fetched chan struct{}
	release chan struct{}
}

func (g *gatedGet) Get(ctx context.Context, key string) (model.Value, error) {
	v, err := g.MutableData.Get(ctx, key)
	if g.armed.CompareAndSwap(true, false) {
		close(g.fetched)
		<-g.release
	}
	return v, err
}

func TestList_OverlappingAddKeepsComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)

	gate := &gatedGet{MutableData: f.ready.Object, fetched: make(chan struct{}), release: make(chan struct{})}
	repo := New(gate, topic, WithClock(func() time.Time { return fixed }), WithIDs(seqIDs()))
	require.Len(t, repo.List(ctx), 1)

	gate.armed.Store(true)
	listed := make(chan model.CommentList, 1)
	go func() { listed <- repo.List(ctx) }()
	<-gate.fetched

	added := make(chan error, 1)
	go func() {
		_, err := repo.Add(ctx, "bob", "yo")
		added <- err
	}()
	// the add waits for the list that read before it
	require.Never(t, func() bool { return len(added) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(gate.release)
	require.Len(t, <-listed, 1)
	require.NoError(t, <-added)

	_, err = repo.Add(ctx, "carol", "hey")
	require.NoError(t, err)
	require.Equal(t, []string{"carol", "bob", "alice"}, authors(f.stored(t)))
}

func TestWriteFailureReleasesHandles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.repo.Add(ctx, "alice", "hi")
	require.NoError(t, err)
	live := f.store.Live()

	for _, op := range []string{memstore.OpEntries, memstore.OpGet, memstore.OpApply} {
		f.store.FailNext(op, errs.ErrTransport)
		_, err = f.repo.Add(ctx, "bob", "yo")
		require.ErrorIs(t, err, errs.ErrTransport, op)
		require.Equal(t, live, f.store.Live(), op)

		f.store.FailNext(op, errs.ErrTransport)
		_, err = f.repo.Delete(ctx, list[0])
		require.ErrorIs(t, err, errs.ErrTransport, op)
		require.Equal(t, live, f.store.Live(), op)
	}
	require.Equal(t, list, f.repo.Snapshot())
}

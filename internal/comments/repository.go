// Package comments reads and writes a topic's comment list stored as one JSON value
// under the topic key, guarded by the store's per-key version.
package comments

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote"
)

// Repository keeps the last good snapshot of the list. A failed write never changes it.
type Repository struct {
	obj   remote.MutableData
	topic string

	mu    sync.RWMutex // guards cache
	cache model.CommentList
	write sync.Mutex // serialises List/Add/Delete

	now   func() time.Time
	newID func() string
	log   *zap.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock sets the time source used for new comments.
func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

// WithIDs sets the local id source.
func WithIDs(newID func() string) Option { return func(r *Repository) { r.newID = newID } }

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option { return func(r *Repository) { r.log = log } }

// New returns a repository for topic on the shared object.
func New(obj remote.MutableData, topic string, opts ...Option) *Repository {
	r := &Repository{
		obj:   obj,
		topic: topic,
		cache: model.CommentList{},
		now:   time.Now,
		newID: func() string { return ulid.MustNew(ulid.Now(), rand.Reader).String() },
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Topic returns the key the list is stored under.
func (r *Repository) Topic() string { return r.topic }

// Snapshot returns a copy of the cached list.
func (r *Repository) Snapshot() model.CommentList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.cache)
}

func (r *Repository) replace(list model.CommentList) {
	r.mu.Lock()
	r.cache = list
	r.mu.Unlock()
}

// List fetches the stored list and refreshes the cache. Listing is best effort:
// on any failure the previous snapshot is returned unchanged.
// It waits for a pending Add or Delete so an older read never replaces a newer write.
func (r *Repository) List(ctx context.Context) model.CommentList {
	r.write.Lock()
	defer r.write.Unlock()

	v, err := r.obj.Get(ctx, r.topic)
	if err != nil {
		r.log.Warn("list comments", zap.String("topic", r.topic), zap.Error(err))
		return r.Snapshot()
	}
	list, err := r.decode(v.Data)
	if err != nil {
		r.log.Warn("list comments", zap.String("topic", r.topic), zap.Error(err))
		return r.Snapshot()
	}
	r.replace(list)
	return clone(list)
}

// Add prepends a new comment. The first comment under a topic is inserted;
// later ones update the value with the current version + 1. An insert that finds
// the key already there (every comment deleted, or a cache that never loaded)
// is redone as an update on top of the stored list.
func (r *Repository) Add(ctx context.Context, author, body string) (model.CommentList, error) {
	r.write.Lock()
	defer r.write.Unlock()

	c := model.Comment{
		ID:        r.newID(),
		Author:    author,
		Body:      body,
		CreatedAt: r.now().UTC().Format(http.TimeFormat),
	}
	cur := r.Snapshot()
	updated := make(model.CommentList, 0, len(cur)+1)
	updated = append(updated, c)
	updated = append(updated, cur...)

	first := len(cur) == 0
	err := r.store(ctx, updated, first)
	if first && errors.Is(err, errs.ErrAlreadyExists) {
		r.log.Debug("topic key exists, adding on top of stored list", zap.String("topic", r.topic))
		updated, err = r.prependStored(ctx, c)
	}
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	r.replace(updated)
	return clone(updated), nil
}

// prependStored adds c to the list currently stored and writes it back at the read version + 1.
func (r *Repository) prependStored(ctx context.Context, c model.Comment) (model.CommentList, error) {
	v, err := r.obj.Get(ctx, r.topic)
	if err != nil {
		return nil, err
	}
	stored, err := r.decode(v.Data)
	if err != nil {
		return nil, err
	}
	updated := make(model.CommentList, 0, len(stored)+1)
	updated = append(updated, c)
	updated = append(updated, stored...)
	err = r.apply(ctx, updated, func(mut remote.Mutation, data []byte) error {
		return mut.Update(r.topic, data, v.Version+1)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the first comment structurally equal to c (local ID ignored).
func (r *Repository) Delete(ctx context.Context, c model.Comment) (model.CommentList, error) {
	r.write.Lock()
	defer r.write.Unlock()

	cur := r.Snapshot()
	idx := -1
	for i := range cur {
		if cur[i].Matches(c) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("delete comment: %w", errs.ErrNotFound)
	}
	updated := make(model.CommentList, 0, len(cur)-1)
	updated = append(updated, cur[:idx]...)
	updated = append(updated, cur[idx+1:]...)

	if err := r.store(ctx, updated, false); err != nil {
		return nil, fmt.Errorf("delete comment: %w", err)
	}
	r.replace(updated)
	return clone(updated), nil
}

// store writes list under the topic key, either as a first insert or as a versioned update.
func (r *Repository) store(ctx context.Context, list model.CommentList, first bool) error {
	return r.apply(ctx, list, func(mut remote.Mutation, data []byte) error {
		if first {
			return mut.Insert(r.topic, data)
		}
		cur, err := r.obj.Get(ctx, r.topic)
		if err != nil {
			return err
		}
		return mut.Update(r.topic, data, cur.Version+1)
	})
}

// apply encodes list, lets op stage it on a fresh mutation and commits the mutation.
func (r *Repository) apply(ctx context.Context, list model.CommentList, op func(remote.Mutation, []byte) error) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}

	entries, err := r.obj.Entries(ctx)
	if err != nil {
		return err
	}
	defer entries.Free()
	mut := entries.Mutate()
	defer mut.Free()

	if err := op(mut, data); err != nil {
		return err
	}
	return r.obj.ApplyEntriesMutation(ctx, mut)
}

func (r *Repository) decode(data []byte) (model.CommentList, error) {
	var list model.CommentList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Join(errs.ErrDecode, err)
	}
	if list == nil {
		list = model.CommentList{}
	}
	for i := range list {
		list[i].ID = r.newID()
	}
	return list, nil
}

func clone(l model.CommentList) model.CommentList {
	out := make(model.CommentList, len(l))
	copy(out, l)
	return out
}

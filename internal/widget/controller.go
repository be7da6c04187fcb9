// Package widget serves the comment list of one topic to a browser: a controller
// over the bootstrap protocol and the comment repository, an HTTP API and a
// websocket event stream.
package widget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/safe-comments/internal/bootstrap"
	"github.com/and161185/safe-comments/internal/comments"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/netstate"
	"github.com/and161185/safe-comments/internal/remote"
)

// Event types pushed to subscribers.
const (
	EventState    = "network.state"
	EventComments = "comments.updated"
)

// Event is a change notification.
type Event struct {
	Type      string            `json:"type"`
	State     string            `json:"state,omitempty"`
	Comments  model.CommentList `json:"comments,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Status summarises the controller for the UI.
type Status struct {
	Topic       string   `json:"topic"`
	State       string   `json:"state"`
	Connected   bool     `json:"connected"`
	Connecting  bool     `json:"connecting"`
	IsOwner     bool     `json:"is_owner"`
	PublicNames []string `json:"public_names"`
	Comments    int      `json:"comments"`
}

// Controller holds the session of one topic.
type Controller struct {
	net      remote.Network
	cfg      bootstrap.Config
	tracker  *netstate.Tracker
	log      *zap.Logger
	publish  func(Event)
	repoOpts []comments.Option

	// Sessions are numbered; only the active one reports to the tracker.
	seq    atomic.Uint64
	active atomic.Uint64

	mu          sync.RWMutex
	ready       *bootstrap.Ready
	repo        *comments.Repository
	publicNames []string
	isOwner     bool
	connecting  bool
}

// NewController builds a controller. publish may be nil.
func NewController(net remote.Network, cfg bootstrap.Config, log *zap.Logger, publish func(Event), opts ...comments.Option) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if publish == nil {
		publish = func(Event) {}
	}
	c := &Controller{net: net, cfg: cfg, log: log, publish: publish}
	c.repoOpts = append([]comments.Option{comments.WithLogger(log)}, opts...)
	c.tracker = netstate.New(log, func(s model.ConnectionState) {
		c.publish(Event{Type: EventState, State: s.String(), Timestamp: time.Now().Unix()})
	})
	return c
}

// sessionState forwards state changes of session id while it is the active one.
func (c *Controller) sessionState(id uint64) remote.StateFunc {
	return func(s model.ConnectionState) {
		if c.active.Load() == id {
			c.tracker.OnStateChange(s)
		}
	}
}

// Authorise opens topic, then loads its comments, the account's public names and the owner flag.
// A previously opened topic is closed on success. From the start of the call only
// the new session reports connectivity; on failure the previous one does again.
func (c *Controller) Authorise(ctx context.Context, topic string) error {
	id := c.seq.Add(1)
	prevID := c.active.Swap(id)
	ready, err := bootstrap.New(c.net, c.cfg, c.sessionState(id), c.log).Authorise(ctx, topic)
	if err != nil {
		c.active.CompareAndSwap(id, prevID)
		c.log.Error("authorise failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	repo := comments.New(ready.Object, topic, c.repoOpts...)
	list := repo.List(ctx)
	names, err := ready.PublicNames(ctx)
	if err != nil {
		c.log.Warn("public names", zap.Error(err))
	}
	owner := ready.IsOwner(ctx)

	c.mu.Lock()
	prev := c.ready
	c.ready, c.repo, c.publicNames, c.isOwner = ready, repo, names, owner
	c.mu.Unlock()
	prev.Close()

	c.log.Info("topic ready",
		zap.String("topic", topic),
		zap.Bool("provisioned", ready.Provisioned),
		zap.Bool("owner", owner),
		zap.Int("comments", len(list)))
	c.publishComments(list)
	return nil
}

func (c *Controller) publishComments(list model.CommentList) {
	c.publish(Event{Type: EventComments, Comments: list, Timestamp: time.Now().Unix()})
}

func (c *Controller) session() (*comments.Repository, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.repo == nil {
		return nil, false, errs.ErrNotInitialised
	}
	return c.repo, c.isOwner, nil
}

// Comments returns the cached comments.
func (c *Controller) Comments() model.CommentList {
	repo, _, err := c.session()
	if err != nil {
		return model.CommentList{}
	}
	return repo.Snapshot()
}

// Refresh re-reads the topic. Failures keep the cached list.
func (c *Controller) Refresh(ctx context.Context) (model.CommentList, error) {
	repo, _, err := c.session()
	if err != nil {
		return nil, err
	}
	return repo.List(ctx), nil
}

// Add posts a comment.
func (c *Controller) Add(ctx context.Context, author, body string) (model.CommentList, error) {
	author, body = strings.TrimSpace(author), strings.TrimSpace(body)
	if author == "" || body == "" {
		return nil, errors.New("validation: name and message are required")
	}
	repo, _, err := c.session()
	if err != nil {
		return nil, err
	}
	list, err := repo.Add(ctx, author, body)
	if err != nil {
		c.log.Warn("add comment", zap.Error(err))
		return nil, err
	}
	c.publishComments(list)
	return list, nil
}

// Delete removes a comment. Only the owner may delete.
func (c *Controller) Delete(ctx context.Context, cm model.Comment) (model.CommentList, error) {
	repo, owner, err := c.session()
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, errs.ErrPermissionDenied
	}
	list, err := repo.Delete(ctx, cm)
	if err != nil {
		c.log.Warn("delete comment", zap.Error(err))
		return nil, err
	}
	c.publishComments(list)
	return list, nil
}

// Reconnect re-establishes the session's connection.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.ready == nil {
		c.mu.Unlock()
		return errs.ErrNotInitialised
	}
	app := c.ready.App
	c.connecting = true
	c.mu.Unlock()

	err := c.tracker.Reconnect(ctx, app)

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	return err
}

// State returns the network state.
func (c *Controller) State() model.ConnectionState { return c.tracker.State() }

// Status returns a summary for the UI.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		IsOwner:     c.isOwner,
		Connecting:  c.connecting,
		PublicNames: append([]string{}, c.publicNames...),
	}
	if c.ready != nil {
		st.Topic = c.ready.Topic
	}
	repo := c.repo
	c.mu.RUnlock()

	if repo != nil {
		st.Comments = len(repo.Snapshot())
	}
	state := c.tracker.State()
	st.State, st.Connected = state.String(), state.IsUp()
	return st
}

// Close releases the session.
func (c *Controller) Close() {
	c.active.Store(0)
	c.mu.Lock()
	ready := c.ready
	c.ready, c.repo = nil, nil
	c.mu.Unlock()
	ready.Close()
}

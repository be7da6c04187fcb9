package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote/memstore"
)

func newServer(t *testing.T, s *memstore.Store, user string) (*Server, *Hub) {
	t.Helper()
	log := zaptest.NewLogger(t)
	hub := NewHub(log, nil)
	t.Cleanup(hub.Close)
	ctl := newController(t, s, user, hub.Broadcast)
	require.NoError(t, ctl.Authorise(context.Background(), "post-1"))
	return NewServer(ctl, hub, log), hub
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []commentView {
	t.Helper()
	var out []commentView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestServer_CommentsAPI(t *testing.T) {
	srv, _ := newServer(t, newStore(), "alice")

	w := do(t, srv, http.MethodGet, "/api/v1/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decodeList(t, w))

	w = do(t, srv, http.MethodPost, "/api/v1/comments", commentRequest{Name: "alice", Message: "**hello**"})
	require.Equal(t, http.StatusCreated, w.Code)
	list := decodeList(t, w)
	require.Len(t, list, 1)
	require.Equal(t, "**hello**", list[0].Message)

	w = do(t, srv, http.MethodGet, "/api/v1/comments?refresh=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeList(t, w), 1)

	w = do(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "<strong>hello</strong>")
	require.Contains(t, w.Body.String(), "1 comment<")

	w = do(t, srv, http.MethodDelete, "/api/v1/comments", commentRequest{Name: "alice", Message: "nope", Date: list[0].Date})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodDelete, "/api/v1/comments", commentRequest(list[0]))
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decodeList(t, w))
}

func TestServer_BadRequests(t *testing.T) {
	srv, _ := newServer(t, newStore(), "alice")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/comments", strings.NewReader("{"))
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/comments", commentRequest{Name: "alice"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "validation:")
}

func TestServer_VisitorDeleteForbidden(t *testing.T) {
	s := newStore()
	owner, _ := newServer(t, s, "alice")
	w := do(t, owner, http.MethodPost, "/api/v1/comments", commentRequest{Name: "alice", Message: "first"})
	require.Equal(t, http.StatusCreated, w.Code)
	list := decodeList(t, w)

	visitor, _ := newServer(t, s, "carol")
	w = do(t, visitor, http.MethodDelete, "/api/v1/comments", commentRequest(list[0]))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, visitor, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	require.False(t, st.IsOwner)
	require.Equal(t, 1, st.Comments)
}

func TestServer_Reconnect(t *testing.T) {
	s := newStore()
	srv, _ := newServer(t, s, "alice")
	s.SetState(model.StateDisconnected)

	w := do(t, srv, http.MethodPost, "/api/v1/comments", commentRequest{Name: "alice", Message: "x"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/reconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	require.True(t, st.Connected)

	s.FailNext(memstore.OpReconnect, fmt.Errorf("down: %w", errs.ErrTransport))
	w = do(t, srv, http.MethodPost, "/api/v1/reconnect", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestServer_Events(t *testing.T) {
	srv, hub := newServer(t, newStore(), "alice")
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	read := func() Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}
	ev := read()
	require.Equal(t, EventState, ev.Type)
	require.Equal(t, model.StateConnected.String(), ev.State)
	ev = read()
	require.Equal(t, EventComments, ev.Type)
	require.Empty(t, ev.Comments)

	body, _ := json.Marshal(commentRequest{Name: "carol", Message: "live"})
	resp, err := http.Post(ts.URL+"/api/v1/comments", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ev = read()
	require.Equal(t, EventComments, ev.Type)
	require.Len(t, ev.Comments, 1)
	require.Equal(t, "live", ev.Comments[0].Body)

	hub.Close()
	require.Equal(t, 0, hub.Len())
}

func TestHTTPCode(t *testing.T) {
	transport := fmt.Errorf("x: %w", errs.ErrTransport)
	cases := map[error]int{
		errs.ErrNotInitialised:        http.StatusServiceUnavailable,
		errs.ErrPermissionDenied:      http.StatusForbidden,
		errs.ErrNotFound:              http.StatusNotFound,
		errs.ErrVersionConflict:       http.StatusConflict,
		errs.ErrRateLimited:           http.StatusTooManyRequests,
		transport:                     http.StatusBadGateway,
		errors.New("validation: bad"): http.StatusBadRequest,
		errors.New("boom"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, httpCode(err), err.Error())
	}
}

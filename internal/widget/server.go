package widget

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
)

// Server is the HTTP front of a Controller.
type Server struct {
	Router *chi.Mux
	ctl    *Controller
	hub    *Hub
	log    *zap.Logger
}

// NewServer wires the routes of ctl. Events published to hub reach websocket subscribers.
func NewServer(ctl *Controller, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{Router: chi.NewRouter(), ctl: ctl, hub: hub, log: log}
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/", s.handlePage)
	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Get("/comments", s.handleList)
		r.Post("/comments", s.handleAdd)
		r.Delete("/comments", s.handleDelete)
		r.Get("/status", s.handleStatus)
		r.Post("/reconnect", s.handleReconnect)
		r.Get("/events", s.handleEvents)
	})
	return s
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonCreated(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(v)
}

// httpCode maps domain errors to HTTP status codes.
func httpCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotInitialised):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrPermissionDenied), errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrVersionConflict), errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case strings.HasPrefix(err.Error(), "validation:"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := httpCode(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	jsonError(w, err.Error(), code)
}

type commentRequest struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

type commentView struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

func views(list model.CommentList) []commentView {
	out := make([]commentView, 0, len(list))
	for _, c := range list {
		out = append(out, commentView{Name: c.Author, Message: c.Body, Date: c.CreatedAt})
	}
	return out
}

// handleList handles GET /api/v1/comments. ?refresh=1 re-reads the store first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "" {
		list, err := s.ctl.Refresh(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		jsonOK(w, views(list))
		return
	}
	jsonOK(w, views(s.ctl.Comments()))
}

// handleAdd handles POST /api/v1/comments.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	list, err := s.ctl.Add(r.Context(), req.Name, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonCreated(w, views(list))
}

// handleDelete handles DELETE /api/v1/comments. The body identifies the comment by its fields.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	list, err := s.ctl.Delete(r.Context(), model.Comment{Author: req.Name, Body: req.Message, CreatedAt: req.Date})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, views(list))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, s.ctl.Status())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Reconnect(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, s.ctl.Status())
}

// handleEvents upgrades to a websocket that first receives the current state and list.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	s.hub.ServeWS(w, r,
		Event{Type: EventState, State: s.ctl.State().String(), Timestamp: now},
		Event{Type: EventComments, Comments: s.ctl.Comments(), Timestamp: now},
	)
}

type pageComment struct {
	Name string
	Date string
	Body template.HTML
}

type pageData struct {
	Status   Status
	Comments []pageComment
}

func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	data := pageData{Status: s.ctl.Status()}
	for _, c := range s.ctl.Comments() {
		data.Comments = append(data.Comments, pageComment{Name: c.Author, Date: c.CreatedAt, Body: renderMarkdown(c.Body)})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, data); err != nil {
		s.log.Error("render page", zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Comments{{if .Status.Topic}} - {{.Status.Topic}}{{end}}</title>
</head>
<body>
<section id="comments" data-state="{{.Status.State}}">
<header>
<h2>{{len .Comments}} comment{{if ne (len .Comments) 1}}s{{end}}</h2>
<span class="state">{{.Status.State}}</span>
{{if .Status.IsOwner}}<span class="owner">owner</span>{{end}}
</header>
{{range .Comments}}
<article class="comment">
<div class="meta"><strong>{{.Name}}</strong> <time>{{.Date}}</time></div>
<div class="body">{{.Body}}</div>
</article>
{{else}}
<p class="empty">No comments yet.</p>
{{end}}
</section>
</body>
</html>
`))

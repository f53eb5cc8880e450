package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/cascade/internal/activity"
	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/config"
	"github.com/matthewbaird/cascade/internal/metrics"
	"github.com/matthewbaird/cascade/internal/session"
	"github.com/matthewbaird/cascade/internal/wire"
)

// cascadeHandler serves the REST surface over sessions.
type cascadeHandler struct {
	cfg      config.Config
	sessions *session.Manager
	activity activity.Store
}

type createSessionRequest struct {
	Identity string `json:"identity"`
}

type sessionResponse struct {
	ID        string         `json:"id"`
	Identity  string         `json:"identity,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	State     wire.StateData `json:"state"`
}

type selectRequest struct {
	Position int    `json:"position"`
	Value    string `json:"value"`
}

type optionsResponse struct {
	Position int      `json:"position"`
	Options  []string `json:"options"`
}

type activityResponse struct {
	Entries    []activity.Entry `json:"entries"`
	NextCursor string           `json:"next_cursor,omitempty"`
	Total      int              `json:"total"`
}

func (h *cascadeHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg)
}

func (h *cascadeHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: "+err.Error())
			return
		}
	}
	sess := h.sessions.Create(r.Context(), strings.TrimSpace(req.Identity))
	writeJSON(w, http.StatusCreated, h.view(sess))
}

func (h *cascadeHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(sess))
}

func (h *cascadeHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.sessions.Remove(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *cascadeHandler) Select(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: "+err.Error())
		return
	}

	var (
		state wire.StateData
		err   error
	)
	sess.Do(func(c *cascade.Controller) {
		_, err = c.Select(req.Position, req.Value)
		state = wire.BuildState(c, h.cfg.Chain)
	})
	metrics.ObserveSelect(err)
	if err != nil {
		cascadeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *cascadeHandler) ResetSelection(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var state wire.StateData
	sess.Do(func(c *cascade.Controller) {
		c.Reset()
		state = wire.BuildState(c, h.cfg.Chain)
	})
	writeJSON(w, http.StatusOK, state)
}

func (h *cascadeHandler) Options(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	pos, ok := parsePosition(w, r, "position")
	if !ok {
		return
	}

	var (
		options []string
		err     error
	)
	sess.Do(func(c *cascade.Controller) {
		if pos >= c.Settings().Chain.Active() {
			err = cascade.ErrPositionInvalid
			return
		}
		options = c.Options(pos)
	})
	if err != nil {
		cascadeErrorToHTTP(w, err)
		return
	}
	options = cascade.SearchOptions(options, r.URL.Query().Get("q"))
	if options == nil {
		options = []string{}
	}
	writeJSON(w, http.StatusOK, optionsResponse{Position: pos, Options: options})
}

func (h *cascadeHandler) Activity(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	opts := activity.DefaultQueryOptions()
	opts.Limit = parseLimit(r, opts.Limit)
	opts.Cursor = r.URL.Query().Get("cursor")
	if t := r.URL.Query().Get("type"); t != "" {
		opts.Types = strings.Split(t, ",")
	}

	entries, next, total, err := h.activity.QueryBySession(r.Context(), sess.ID, opts)
	if err != nil {
		cascadeErrorToHTTP(w, err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, activityResponse{Entries: entries, NextCursor: next, Total: total})
}

func (h *cascadeHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, err := h.sessions.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found: "+id)
		return nil, false
	}
	if err != nil {
		cascadeErrorToHTTP(w, err)
		return nil, false
	}
	return sess, true
}

func (h *cascadeHandler) view(sess *session.Session) sessionResponse {
	resp := sessionResponse{
		ID:        sess.ID,
		Identity:  sess.Identity,
		CreatedAt: sess.CreatedAt,
	}
	sess.Do(func(c *cascade.Controller) {
		resp.State = wire.BuildState(c, h.cfg.Chain)
	})
	return resp
}

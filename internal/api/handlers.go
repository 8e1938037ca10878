package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rosoideae/weave/internal/access"
	"github.com/rosoideae/weave/internal/graph"
)

// ContributionRequest is the insert payload. The caller is assumed to have
// been authenticated upstream; author_id identifies them to the access check.
type ContributionRequest struct {
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
	ParentID string `json:"parent_id,omitempty"`
}

// EditRequest replaces a contribution's text.
type EditRequest struct {
	Text string `json:"text"`
}

func (s *Server) insertContribution(w http.ResponseWriter, r *http.Request) {
	var req ContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.AuthorID == "" {
		writeError(w, http.StatusBadRequest, "author_id is required")
		return
	}
	if s.auth != nil && !s.auth.IsAuthorized(req.AuthorID, access.ActionContribute) {
		writeError(w, http.StatusForbidden, "not authorized to contribute")
		return
	}

	n, err := s.graph.Insert(req.AuthorID, req.Text, req.ParentID)
	if err != nil {
		s.writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) editContribution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	n, err := s.graph.Edit(id, req.Text)
	if err != nil {
		s.writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) ancestors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var path []graph.Node
	for n := range s.graph.Ancestors(id) {
		path = append(path, n)
	}
	if len(path) == 0 {
		writeError(w, http.StatusNotFound, "unknown contribution "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

func (s *Server) velocity(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("window_hours")
	window, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window_hours: "+raw)
		return
	}

	v, err := s.graph.Velocity(window)
	if err != nil {
		s.writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_hours": window,
		"velocity":     v,
	})
}

func (s *Server) channelMetrics(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	m := s.hub.Metrics(key)
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown channel "+key)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) channelSubscribers(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	subs := s.hub.Subscribers(key)
	if subs == nil {
		writeError(w, http.StatusNotFound, "unknown channel "+key)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": subs})
}

// writeGraphError maps the graph error taxonomy onto status codes.
func (s *Server) writeGraphError(w http.ResponseWriter, err error) {
	var verr *graph.ValidationError
	var werr *graph.InvalidWindowError
	var perr *graph.UnknownParentError
	var uerr *graph.UnknownNodeError

	switch {
	case errors.As(err, &verr), errors.As(err, &werr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &perr), errors.As(err, &uerr):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("unexpected graph error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

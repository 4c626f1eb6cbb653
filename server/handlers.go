package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rustyeddy/livedesk/aggregate"
	"github.com/rustyeddy/livedesk/live"
)

// CollectionResponse is the body of GET /api/live and of each stream
// message.
type CollectionResponse struct {
	Type      string                    `json:"type,omitempty"`
	View      string                    `json:"view"`
	Viewer    live.Viewer               `json:"viewer"`
	Users     []aggregate.UserAggregate `json:"users"`
	Positions int                       `json:"positionCount"`
	Stats     *live.Stats               `json:"stats,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

func collectionResponse(v *live.View, c aggregate.Collection, withPositions bool) CollectionResponse {
	users := c.Summaries()
	if withPositions {
		users = c.Users()
	}
	resp := CollectionResponse{
		View:      v.ID(),
		Viewer:    v.Viewer(),
		Users:     users,
		Positions: c.PositionCount(),
	}
	if err := v.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// view resolves the request's view or writes the error. The caller must
// call release once it is done with the view.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*live.View, func(), bool) {
	viewer := s.viewer(r)
	if viewer.ID == "" && viewer.Role != live.RoleAdmin {
		s.writeError(w, http.StatusBadRequest, "no viewer")
		return nil, nil, false
	}

	v, release, err := s.views.View(r.Context(), viewer)
	if err != nil {
		var sfe *live.SnapshotFetchError
		status := http.StatusInternalServerError
		if errors.As(err, &sfe) {
			status = http.StatusServiceUnavailable
		}
		s.log.Warn().Err(err).Str("viewer", viewer.ID).Msg("view unavailable")
		s.writeError(w, status, err.Error())
		return nil, nil, false
	}
	return v, release, true
}

// handleCollection handles GET /api/live. Positions are left out unless
// ?positions=1.
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	v, release, ok := s.view(w, r)
	if !ok {
		return
	}
	defer release()
	withPositions := r.URL.Query().Get("positions") == "1"
	resp := collectionResponse(v, v.Collection(), withPositions)
	stats := v.Stats()
	resp.Stats = &stats
	s.writeJSON(w, http.StatusOK, resp)
}

// handleUser handles GET /api/live/users/{userID}.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	v, release, ok := s.view(w, r)
	if !ok {
		return
	}
	defer release()
	userID := chi.URLParam(r, "userID")
	u, found := v.Select(userID)
	if !found {
		s.writeError(w, http.StatusNotFound, "user "+userID+" not in view")
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

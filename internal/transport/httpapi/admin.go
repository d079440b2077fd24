package httpapi

import (
	"net/http"
	"strconv"

	"nightroad.app/internal/hub"
	"nightroad.app/internal/persistence/indexdb"
	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/game"
	"nightroad.app/internal/sim/state"
)

func (s *Server) handleAdminState(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, struct {
		State  state.WorldState `json:"state"`
		Engine game.EngineStats `json:"engine"`
		Hub    hub.Stats        `json:"hub"`
	}{
		State:  s.eng.State(),
		Engine: s.eng.Stats(),
		Hub:    s.hub.Stats(),
	})
}

func (s *Server) handleAdminActions(rw http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, "index disabled")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	rows, err := s.index.Actions(r.Context(), indexdb.ActionQuery{
		Limit:  limit,
		Action: q.Get("action"),
		Failed: q.Get("failed") == "1" || q.Get("failed") == "true",
	})
	if err != nil {
		s.logf("admin actions: %v", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "internal error")
		return
	}
	writeJSON(rw, http.StatusOK, rows)
}

func (s *Server) handleAdminEvents(rw http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, "index disabled")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	rows, err := s.index.Events(r.Context(), indexdb.EventQuery{Limit: limit, Name: q.Get("name")})
	if err != nil {
		s.logf("admin events: %v", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "internal error")
		return
	}
	writeJSON(rw, http.StatusOK, rows)
}

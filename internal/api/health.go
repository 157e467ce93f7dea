package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Launcher string `json:"launcher"`
}

// handleHealthz reports 503 when the launcher goroutine no longer answers.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	st, err := s.sup.Status(ctx)
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Launcher: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Launcher: st.State})
}

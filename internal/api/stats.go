package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByGraph       map[string]int `json:"by_graph"`
	TotalFrames   int            `json:"total_frames"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.writeDomainError(w, "get stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByGraph:       stats.CountByGraph,
		TotalFrames:   stats.TotalFrames,
		AvgDurationMS: stats.AvgDurationMS,
	})
}

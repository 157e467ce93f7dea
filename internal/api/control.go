package api

import (
	"context"
	"encoding/json"
	"net/http"
)

const maxBodySize = 1 << 16

// setGraphRequest is the JSON body for PUT /v1/graph.
type setGraphRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListGraphs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sup.Graphs().List())
}

func (s *Server) handleSetGraph(w http.ResponseWriter, r *http.Request) {
	var req setGraphRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	if err := s.sup.Load(ctx, req.Name); err != nil {
		s.writeDomainError(w, "load graph", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"graph": req.Name})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	run, err := s.sup.Start(ctx)
	if err != nil {
		s.writeDomainError(w, "start run", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	if err := s.sup.Stop(ctx); err != nil {
		s.writeDomainError(w, "stop run", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stop requested"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	st, err := s.sup.Status(ctx)
	if err != nil {
		s.writeDomainError(w, "get status", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/filterd/internal/model"
	"github.com/seantiz/filterd/internal/supervisor"
)

const maxFramePage = 1000

// frameHistoryResponse is the JSON response for GET /v1/runs/{id}/frames.
type frameHistoryResponse struct {
	RunID  string              `json:"run_id"`
	Frames []model.FrameRecord `json:"frames"`
}

func (s *Server) handleGetFrames(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeDomainError(w, "get run", err)
		return
	}

	after := int64(-1)
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "after must be an integer")
			return
		}
		after = n
	}
	limit := parseIntQuery(r, "limit", maxFramePage)
	if limit <= 0 || limit > maxFramePage {
		limit = maxFramePage
	}

	frames, err := s.store.GetFrames(r.Context(), id, after, limit)
	if err != nil {
		s.writeDomainError(w, "get frames", err)
		return
	}
	if frames == nil {
		frames = []model.FrameRecord{}
	}

	s.writeJSON(w, http.StatusOK, frameHistoryResponse{RunID: id, Frames: frames})
}

// handleStreamFrames streams the frames of a run as SSE. Every frame event
// carries its seq as the event id; a reconnecting client sends it back in
// Last-Event-ID and resumes after it. Frames already persisted are replayed
// from the store first, then live frames follow from the broker. A jump in
// seq means the subscriber fell behind, and the gap is refilled from the
// store. The stream always ends with a done event.
func (s *Server) handleStreamFrames(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	after := int64(-1)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Last-Event-ID must be a frame seq")
			return
		}
		after = n
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, "get run", err)
		return
	}

	// Subscribe before replaying so no frame falls between the two. A run
	// that finished since the check above yields a closed channel.
	var live <-chan supervisor.FrameMessage
	if run.Status == model.StatusRunning {
		ch, unsub := s.sup.Broker().Subscribe(id)
		defer unsub()
		live = ch
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	after, err = s.replayFrames(r.Context(), w, id, after)
	if err != nil {
		s.logger.Error("replay frames", "run_id", id, "error", err)
		return
	}
	flush()

	for live != nil {
		select {
		case msg, ok := <-live:
			if !ok {
				// Frames dropped at the tail leave no later seq to reveal
				// the gap.
				if _, err := s.replayFrames(r.Context(), w, id, after); err != nil {
					s.logger.Error("refill frames", "run_id", id, "error", err)
					return
				}
				live = nil
				break
			}
			if msg.Seq <= after {
				continue
			}
			if msg.Seq > after+1 {
				if after, err = s.replayFrames(r.Context(), w, id, after); err != nil {
					s.logger.Error("refill frames", "run_id", id, "error", err)
					return
				}
				if msg.Seq <= after {
					flush()
					continue
				}
			}
			if err := writeSSEFrame(w, msg.Seq, msg.Data); err != nil {
				return
			}
			after = msg.Seq
			flush()
		case <-r.Context().Done():
			return
		}
	}

	_ = writeSSEEvent(w, "done", "stream complete")
	flush()
}

// replayFrames writes every persisted frame of run after seq and returns the
// last seq written.
func (s *Server) replayFrames(ctx context.Context, w http.ResponseWriter, runID string, after int64) (int64, error) {
	for {
		frames, err := s.store.GetFrames(ctx, runID, after, maxFramePage)
		if err != nil {
			return after, err
		}
		for i := range frames {
			data, err := json.Marshal(&frames[i])
			if err != nil {
				return after, fmt.Errorf("encode frame %d: %w", frames[i].Seq, err)
			}
			if err := writeSSEFrame(w, frames[i].Seq, data); err != nil {
				return after, err
			}
			after = frames[i].Seq
		}
		if len(frames) < maxFramePage {
			return after, nil
		}
	}
}

// writeSSEFrame writes a frame event with its seq as the event id.
func writeSSEFrame(w http.ResponseWriter, seq int64, data []byte) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: frame\ndata: %s\n\n", seq, data)
	return err
}

// writeSSEEvent writes a named SSE event. data must be a single line.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}

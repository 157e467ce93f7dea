package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/filterd/internal/model"
)

func TestGetFramesHistory(t *testing.T) {
	srv := newTestServer(t)
	run := createRun(t, srv, "pattern", time.Now().UTC())
	for seq := range int64(4) {
		if err := srv.store.InsertFrame(context.Background(), &model.FrameRecord{
			RunID: run.ID, Seq: seq, Producer: "preview", Width: 4, Height: 2,
			Checksum: "0000000000000000", CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("InsertFrame: %v", err)
		}
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/runs/"+run.ID+"/frames", "")
	var all frameHistoryResponse
	decodeBody(t, resp, &all)
	if all.RunID != run.ID || len(all.Frames) != 4 {
		t.Fatalf("history = %+v", all)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/runs/"+run.ID+"/frames?after=1&limit=1", "")
	var page frameHistoryResponse
	decodeBody(t, resp, &page)
	if len(page.Frames) != 1 || page.Frames[0].Seq != 2 {
		t.Errorf("page = %+v, want seq 2", page.Frames)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/runs/"+run.ID+"/frames?after=x", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad after status = %d, want 400", resp.StatusCode)
	}
}

func TestGetFramesUnknownRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/frames", "/frames/stream"} {
		resp := doJSON(t, http.MethodGet, ts.URL+"/v1/runs/nonexistent"+path, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// readEvents parses SSE events from r and hands each to fn until fn returns
// false or the stream ends.
func readEvents(r io.Reader, fn func(sseEvent) bool) {
	scanner := bufio.NewScanner(r)
	var ev sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.event != "" && !fn(ev) {
				return
			}
			ev = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, url, lastEventID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// collectStream reads a whole stream and returns the frame events, checking
// that each event id matches the seq of its record.
func collectStream(t *testing.T, resp *http.Response, runID string) (ids []int64, sawDone bool) {
	t.Helper()
	readEvents(resp.Body, func(ev sseEvent) bool {
		switch ev.event {
		case "frame":
			ids = append(ids, checkFrameEvent(t, ev, runID))
		case "done":
			sawDone = true
		}
		return true
	})
	return ids, sawDone
}

func checkFrameEvent(t *testing.T, ev sseEvent, runID string) int64 {
	t.Helper()
	var rec model.FrameRecord
	if err := json.Unmarshal([]byte(ev.data), &rec); err != nil {
		t.Fatalf("decode frame event %q: %v", ev.data, err)
	}
	if rec.RunID != runID {
		t.Errorf("frame event for run %q, want %q", rec.RunID, runID)
	}
	id, err := strconv.ParseInt(ev.id, 10, 64)
	if err != nil || id != rec.Seq {
		t.Errorf("event id %q does not match seq %d", ev.id, rec.Seq)
	}
	return rec.Seq
}

func insertFrames(t *testing.T, srv *Server, runID string, n int64) {
	t.Helper()
	for seq := range n {
		if err := srv.store.InsertFrame(context.Background(), &model.FrameRecord{
			RunID: runID, Seq: seq, Producer: "preview", Width: 4, Height: 2,
			Checksum: "0000000000000000", CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("InsertFrame: %v", err)
		}
	}
}

func TestStreamFramesFinishedRun(t *testing.T) {
	srv := newTestServer(t)
	run := createRun(t, srv, "pattern", time.Now().UTC())
	insertFrames(t, srv, run.ID, 3)
	if err := srv.store.FinishRun(context.Background(), run.ID, model.StatusCompleted, "", time.Now().UTC()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	url := ts.URL + "/v1/runs/" + run.ID + "/frames/stream"

	resp := openStream(t, url, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	ids, sawDone := collectStream(t, resp, run.ID)
	if !slices.Equal(ids, []int64{0, 1, 2}) {
		t.Errorf("replayed ids = %v, want [0 1 2]", ids)
	}
	if !sawDone {
		t.Error("finished run stream ended without a done event")
	}

	resumed := openStream(t, url, "1")
	defer resumed.Body.Close()
	ids, sawDone = collectStream(t, resumed, run.ID)
	if !slices.Equal(ids, []int64{2}) || !sawDone {
		t.Errorf("resumed stream = %v done=%v, want [2] done=true", ids, sawDone)
	}

	bad := openStream(t, url, "x")
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad Last-Event-ID status = %d, want 400", bad.StatusCode)
	}
}

func TestStreamFramesRunningRunWithoutLiveTopic(t *testing.T) {
	srv := newTestServer(t)
	// Recorded as running, but no launcher in this process owns it.
	run := createRun(t, srv, "pattern", time.Now().UTC())
	insertFrames(t, srv, run.ID, 2)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := openStream(t, ts.URL+"/v1/runs/"+run.ID+"/frames/stream", "")
	defer resp.Body.Close()
	ids, sawDone := collectStream(t, resp, run.ID)
	if !slices.Equal(ids, []int64{0, 1}) || !sawDone {
		t.Errorf("stream = %v done=%v, want [0 1] done=true", ids, sawDone)
	}
}

func TestStreamFramesLiveRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPut, ts.URL+"/v1/graph", `{"name":"pattern-slow"}`)
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/run", "")
	var run model.Run
	decodeBody(t, resp, &run)

	// Join mid-run: the frames produced so far come from the store.
	deadline := time.Now().Add(5 * time.Second)
	for {
		frames, err := srv.store.GetFrames(context.Background(), run.ID, -1, -1)
		if err != nil {
			t.Fatalf("GetFrames: %v", err)
		}
		if len(frames) >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames persisted", len(frames))
		}
		time.Sleep(10 * time.Millisecond)
	}

	stream := openStream(t, ts.URL+"/v1/runs/"+run.ID+"/frames/stream", "")
	defer stream.Body.Close()

	var ids []int64
	var sawDone bool
	readEvents(stream.Body, func(ev sseEvent) bool {
		switch ev.event {
		case "frame":
			ids = append(ids, checkFrameEvent(t, ev, run.ID))
			if len(ids) == 6 {
				stop := doJSON(t, http.MethodPost, ts.URL+"/v1/stop", "")
				stop.Body.Close()
			}
		case "done":
			sawDone = true
			return false
		}
		return true
	})

	if len(ids) < 6 {
		t.Fatalf("streamed %d frames, want at least 6", len(ids))
	}
	for i, id := range ids {
		if id != int64(i) {
			t.Fatalf("stream ids = %v, want 0..%d without gaps or repeats", ids, len(ids)-1)
		}
	}
	if !sawDone {
		t.Error("stream ended without a done event")
	}

	got := waitForRunStatus(t, srv.store, run.ID)
	if got.FrameCount != len(ids) {
		t.Errorf("run recorded %d frames, stream delivered %d", got.FrameCount, len(ids))
	}
}

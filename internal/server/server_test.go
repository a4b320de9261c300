package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"orthorect/internal/config"
	"orthorect/internal/pipeline"
	"orthorect/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Store, *httptest.Server) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	pipe := pipeline.New(ctx, 1, slog.Default(), store, config.Default())
	t.Cleanup(func() {
		cancel()
		pipe.Stop()
	})

	s := NewServer("127.0.0.1:0", store, pipe, nil, slog.Default())
	r := mux.NewRouter()
	s.setupRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	go s.hub.run(ctx)
	go s.feedHub(ctx)

	return s, store, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSubmitAndListJobs(t *testing.T) {
	_, _, ts := newTestServer(t)

	payload, _ := json.Marshal(map[string]any{
		"type":  "scan",
		"input": t.TempDir(),
	})
	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var submitResp map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if submitResp["id"] == "" {
		t.Fatalf("expected job id in response")
	}

	listResp, err := http.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatalf("get jobs: %v", err)
	}
	defer listResp.Body.Close()
	var recs []storage.JobRecord
	if err := json.NewDecoder(listResp.Body).Decode(&recs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	found := false
	for _, rec := range recs {
		if rec.ID == submitResp["id"] {
			found = true
		}
	}
	if !found {
		t.Fatalf("submitted job not in listing")
	}
}

func TestSubmitValidation(t *testing.T) {
	_, _, ts := newTestServer(t)

	cases := []map[string]any{
		{"type": "mosaic", "input": "/tmp/x"},
		{"type": "rectify"},
	}
	for _, c := range cases {
		payload, _ := json.Marshal(c)
		resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", c, resp.StatusCode)
		}
	}
}

func TestJobResultsEndpoint(t *testing.T) {
	_, store, ts := newTestServer(t)

	err := store.RecordRectifyResult(storage.RectifyResult{
		JobID:      "job-7",
		SourcePath: "/data/a.tif",
		OutputPath: "/data/a_ORTHO.tif",
		Status:     "completed",
		MinX:       990, MinY: 1990, MaxX: 1010, MaxY: 2010,
		MinElevation: 40,
		Iterations:   2,
		Converged:    true,
		FullCoverage: true,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, err := http.Get(ts.URL + "/jobs/job-7/results")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var results []storage.RectifyResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].SourcePath != "/data/a.tif" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestImageMetadataEndpoint(t *testing.T) {
	_, store, ts := newTestServer(t)

	if err := store.RecordImageMetadata(storage.ImageMetadata{
		FilePath:    "/data/a.tif",
		CameraModel: "FC6310",
		Easting:     263000,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, err := http.Get(ts.URL + "/metadata?path=/data/a.tif")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var meta storage.ImageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.CameraModel != "FC6310" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	missing, err := http.Get(ts.URL + "/metadata")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without path, got %d", missing.StatusCode)
	}
}

func TestWebSocketStreamsResults(t *testing.T) {
	_, _, ts := newTestServer(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(map[string]any{
		"type":  "scan",
		"input": t.TempDir(),
	})
	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(message, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev["type"] != "scan" || ev["status"] != "completed" {
		t.Fatalf("unexpected event: %v", ev)
	}
}

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"orthorect/internal/pipeline"
	"orthorect/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server exposes job submission, job history and live result streaming
// over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	watcher  *pipeline.Watcher
	log      *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	hub      *wsHub
}

// NewServer creates a server. watcher may be nil when no watch
// directories were configured.
func NewServer(
	addr string,
	store *storage.Store,
	pipe *pipeline.Pipeline,
	watcher *pipeline.Watcher,
	log *slog.Logger,
) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		watcher:  watcher,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub: newWSHub(log),
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			return err
		}
	}

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	go s.hub.run(hubCtx)
	go s.feedHub(hubCtx)

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		if s.watcher != nil {
			s.watcher.Stop()
		}
		stopHub()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJobMeta).Methods("GET")
	r.HandleFunc("/jobs/{id}/results", s.handleJobResults).Methods("GET")
	r.HandleFunc("/metadata", s.handleImageMetadata).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

// submitRequest is the POST /jobs body.
type submitRequest struct {
	Type    string         `json:"type"`
	Input   string         `json:"input"`
	Output  string         `json:"output"`
	Options map[string]any `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch pipeline.JobType(req.Type) {
	case pipeline.JobRectify, pipeline.JobScan, pipeline.JobExif:
	default:
		http.Error(w, "unknown job type", http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}

	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      pipeline.JobType(req.Type),
		InputPath: req.Input,
		Output:    req.Output,
		Options:   req.Options,
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"id": job.ID})
}

func (s *Server) handleJobMeta(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.store.JobMeta(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, meta)
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	results, err := s.store.RectifyResults(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, results)
}

func (s *Server) handleImageMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}
	meta, err := s.store.ImageMetadataFor(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, meta)
}

// handleJobStream serves results as server-sent events for clients that
// cannot speak websocket.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(resultEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// feedHub forwards pipeline results to connected websocket clients.
func (s *Server) feedHub(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(resultEvent(res))
			s.hub.broadcast <- payload
		}
	}
}

// resultEvent flattens a pipeline result into the wire shape shared by
// the SSE and websocket streams.
func resultEvent(res pipeline.Result) map[string]any {
	ev := map[string]any{
		"job_id": res.Job.ID,
		"type":   string(res.Job.Type),
		"input":  res.Job.InputPath,
		"output": res.Job.Output,
		"status": "completed",
		"meta":   res.Meta,
	}
	if res.Error != nil {
		ev["status"] = "failed"
		ev["error"] = res.Error.Error()
	}
	return ev
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

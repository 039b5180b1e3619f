package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/observe"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/bryanchriswhite/capturepipe/internal/recorder"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// streamInterval is how often the status stream polls the recording
const streamInterval = time.Second

var errNoRecording = errors.New("no recording")

// Server represents the HTTP control API
type Server struct {
	router     *mux.Router
	configMgr  *config.Manager
	factory    pipeline.Factory
	metrics    *observe.Metrics
	recOpts    []recorder.Option
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	httpServer *http.Server

	mu  sync.Mutex
	rec *recorder.Recorder

	// errs keeps every error polled from a recording. Readers hold their
	// own cursor into it so none of them steals errors from another.
	errs      []string
	errCursor int
}

// Option configures a Server
type Option func(*Server)

// WithMetrics records recording metrics and serves them on /metrics
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRecorderOptions passes extra options to every recorder the server creates
func WithRecorderOptions(opts ...recorder.Option) Option {
	return func(s *Server) { s.recOpts = append(s.recOpts, opts...) }
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, factory pipeline.Factory, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		configMgr: configMgr,
		factory:   factory,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface
			},
		},
		log: *logger.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.recOpts = append(s.recOpts, recorder.WithMetrics(s.metrics))
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/stages", s.handleGetStages).Methods("GET")

	// Recording control
	api.HandleFunc("/recording/start", s.handleStart).Methods("POST")
	api.HandleFunc("/recording/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/recording/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/recording/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/recording/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/recording/errors", s.handleErrors).Methods("GET")
	api.HandleFunc("/recording/stream", s.handleStream)

	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", "http://localhost"+addr).Msg("Starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and any recording still running
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec != nil {
		if st := rec.State(); st == recorder.StateCapturing || st == recorder.StatePaused {
			if _, err := rec.Stop(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Failed to stop recording on shutdown")
			}
		}
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

// StageSupport reports whether a stage kind can run on this machine
type StageSupport struct {
	Kind      pipeline.Kind `json:"kind"`
	Supported bool          `json:"supported"`
}

func (s *Server) handleGetStages(w http.ResponseWriter, r *http.Request) {
	kinds := pipeline.Kinds()
	out := make([]StageSupport, 0, len(kinds))
	for _, kind := range kinds {
		supported := false
		if stage, err := s.factory(kind); err == nil {
			supported = stage.IsSupported()
		}
		out = append(out, StageSupport{Kind: kind, Supported: supported})
	}
	writeJSON(w, http.StatusOK, out)
}

// StartRequest optionally overrides the configured output base name
type StartRequest struct {
	FileName string `json:"fileName"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != nil {
		if st := s.rec.State(); st == recorder.StateCapturing || st == recorder.StatePaused {
			http.Error(w, "recording already in progress", http.StatusConflict)
			return
		}
	}

	cfg := s.configMgr.Get()
	if req.FileName != "" {
		cfg.Output.FileName = req.FileName
	}

	rec, err := recorder.New(cfg, s.factory, s.recOpts...)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rec.Start(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	s.collectErrors()
	s.rec = rec

	writeJSON(w, http.StatusOK, rec.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, (*recorder.Recorder).Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, (*recorder.Recorder).Resume)
}

func (s *Server) control(w http.ResponseWriter, op func(*recorder.Recorder) error) {
	rec := s.current()
	if rec == nil {
		writeError(w, errNoRecording)
		return
	}
	if err := op(rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	rec := s.current()
	if rec == nil {
		writeError(w, errNoRecording)
		return
	}
	output, err := rec.Stop(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": output})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec := s.current()
	if rec == nil {
		writeJSON(w, http.StatusOK, recorder.Status{State: recorder.StateUnstarted})
		return
	}
	writeJSON(w, http.StatusOK, rec.Status())
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.errorsSince(&s.errCursor))
}

// StreamMessage is pushed to status stream subscribers
type StreamMessage struct {
	Status recorder.Status `json:"status"`
	Errors []string        `json:"errors"`
}

// handleStream pushes status and newly polled errors once per interval
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Reader goroutine notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.mu.Lock()
	cursor := len(s.errs)
	s.mu.Unlock()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		msg := StreamMessage{Errors: s.errorsSince(&cursor)}
		if rec := s.current(); rec != nil {
			msg.Status = rec.Status()
		}
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) current() *recorder.Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// errorsSince polls the recording, then returns the errors after *cursor
// and advances it
func (s *Server) errorsSince(cursor *int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectErrors()
	out := append([]string{}, s.errs[*cursor:]...)
	*cursor = len(s.errs)
	return out
}

// collectErrors moves the recording's pending errors into the shared log.
// Callers hold s.mu.
func (s *Server) collectErrors() {
	if s.rec == nil {
		return
	}
	for _, err := range s.rec.PollErrors() {
		s.errs = append(s.errs, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var initErr *pipeline.InitError
	switch {
	case errors.Is(err, errNoRecording):
		status = http.StatusNotFound
	case errors.Is(err, recorder.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, config.ErrConfig):
		status = http.StatusBadRequest
	case errors.Is(err, recorder.ErrNoEncoder), errors.As(err, &initErr):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

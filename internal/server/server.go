// Package server exposes the pipeline over HTTP.
//
// Clients submit a flowsheet document, receive a run id, and poll for
// status. Every submission builds its own model, so runs never share
// equation-system state.
//
//	POST   /v1/runs               submit a flowsheet; ?wait=true runs inline
//	GET    /v1/runs               list stored runs; ?flowsheet= ?state= ?limit=
//	GET    /v1/runs/{id}          latest status snapshot
//	GET    /v1/runs/{id}/history  transitions of a finished run
//	DELETE /v1/runs/{id}          cancel an active run
//	GET    /metrics               Prometheus exposition
//	GET    /health                liveness
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/hygiene/internal/flowspec"
	"github.com/roach88/hygiene/internal/metrics"
	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/status"
	"github.com/roach88/hygiene/internal/store"
)

// DefaultMaxBody caps the size of a submitted flowsheet document.
const DefaultMaxBody = 1 << 20

// DefaultMaxFinished is how many finished runs are kept for history when no
// store is configured.
const DefaultMaxFinished = 256

// Server handles run submission and polling.
type Server struct {
	pipe    *pipeline.Pipeline
	store   *store.Store
	metrics *metrics.Metrics
	base    pipeline.Config
	ids     pipeline.RunIDGenerator
	logger  *slog.Logger
	maxBody int64
	maxDone int

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	finished map[string]*pipeline.Run
	order    []string
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists finished runs and serves history from the store.
func WithStore(s *store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithBaseConfig sets the configuration that document pipeline sections
// are applied on top of.
func WithBaseConfig(cfg pipeline.Config) Option {
	return func(srv *Server) { srv.base = cfg }
}

// WithRunIDs replaces the UUIDv7 run id generator.
func WithRunIDs(g pipeline.RunIDGenerator) Option {
	return func(srv *Server) { srv.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// WithMaxBody caps request bodies at n bytes.
func WithMaxBody(n int64) Option {
	return func(srv *Server) { srv.maxBody = n }
}

// WithMaxFinished caps the finished runs kept in memory when no store is
// configured. The oldest run is dropped first. Zero or less keeps all.
func WithMaxFinished(n int) Option {
	return func(srv *Server) { srv.maxDone = n }
}

// New creates a Server that runs submissions on pipe.
func New(pipe *pipeline.Pipeline, opts ...Option) *Server {
	srv := &Server{
		pipe:     pipe,
		base:     pipeline.DefaultConfig(),
		ids:      pipeline.UUIDv7Generator{},
		logger:   slog.Default(),
		maxBody:  DefaultMaxBody,
		maxDone:  DefaultMaxFinished,
		active:   make(map[string]context.CancelFunc),
		finished: make(map[string]*pipeline.Run),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.ctx, srv.stop = context.WithCancel(context.Background())
	return srv
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())
	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.submit)
		r.Get("/", s.list)
		r.Get("/{id}", s.status)
		r.Get("/{id}/history", s.history)
		r.Delete("/{id}", s.cancel)
	})
	return r
}

// Close cancels active runs and waits for them to finish, or for ctx.
func (s *Server) Close(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string          `json:"error"`
	Errors []documentError `json:"errors,omitempty"`
}

type documentError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type submitted struct {
	ID        string `json:"id"`
	StatusURL string `json:"status_url"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	doc, err := flowspec.Parse(data, format, "request")
	if err != nil {
		writeDocumentErrors(w, http.StatusBadRequest, err)
		return
	}
	if doc.Name == "" {
		doc.Name = "unnamed"
	}
	m, err := doc.Build()
	if err != nil {
		writeDocumentErrors(w, http.StatusUnprocessableEntity, err)
		return
	}
	cfg, err := doc.Apply(s.base)
	if err != nil {
		writeDocumentErrors(w, http.StatusUnprocessableEntity, err)
		return
	}

	id := s.ids.Generate()
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.active[id] = cancel
	s.mu.Unlock()

	exec := func() *pipeline.Run {
		defer s.finish(id)
		run, err := s.pipe.RunWithID(ctx, id, m, cfg)
		if err != nil {
			s.logger.Warn("run ended with error", "run_id", id, "error", err)
		}
		if run == nil {
			return nil
		}
		s.record(doc.Name, run)
		return run
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		run := exec()
		if run == nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("run %s did not start", id))
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		exec()
	}()
	writeJSON(w, http.StatusAccepted, submitted{ID: id, StatusURL: "/v1/runs/" + id})
}

func (s *Server) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.active[id]; ok {
		cancel()
		delete(s.active, id)
	}
}

// record keeps a finished run for history requests, in the store when one
// is configured.
func (s *Server) record(flowsheet string, run *pipeline.Run) {
	if s.store != nil {
		if err := s.store.SaveRun(context.Background(), flowsheet, run); err != nil {
			s.logger.Error("saving run", "run_id", run.ID, "error", err)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.finished[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.finished[run.ID] = run
	for s.maxDone > 0 && len(s.order) > s.maxDone {
		delete(s.finished, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.pipe.Status(r.Context(), id)
	switch {
	case errors.Is(err, status.ErrNotFound) && s.isActive(id):
		// Submitted but no transition recorded yet.
		writeJSON(w, http.StatusOK, status.Snapshot{RunID: id, State: string(pipeline.StateIdle)})
	case errors.Is(err, status.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.isActive(id) {
		writeError(w, http.StatusConflict, fmt.Errorf("run %s is still running", id))
		return
	}

	if s.store != nil {
		history, err := s.store.History(r.Context(), id)
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
		return
	}

	s.mu.Lock()
	run, ok := s.finished[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, run.History)
}

// list serves stored runs, filtered by ?flowsheet=, ?state= and ?limit=.
func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no run store configured"))
		return
	}
	q := r.URL.Query()
	filter := store.Filter{Flowsheet: q.Get("flowsheet"), State: pipeline.State(q.Get("state"))}
	if filter.State != "" && !filter.State.Terminal() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid state %q: stored runs are COMPLETED or FAILED", filter.State))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no active run %s", id))
		return
	}
	cancel()
	w.WriteHeader(http.StatusAccepted)
}

// requestFormat picks the document format from ?format= or Content-Type.
// JSON is the default.
func requestFormat(r *http.Request) (flowspec.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		switch flowspec.Format(f) {
		case flowspec.FormatJSON, flowspec.FormatYAML, flowspec.FormatCUE:
			return flowspec.Format(f), nil
		}
		return "", fmt.Errorf("unsupported format %q", f)
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return flowspec.FormatJSON, nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("content type %q: %w", ct, err)
	}
	switch mt {
	case "application/json":
		return flowspec.FormatJSON, nil
	case "application/yaml", "application/x-yaml", "text/yaml":
		return flowspec.FormatYAML, nil
	case "application/cue", "text/x-cue":
		return flowspec.FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported content type %q", mt)
}

func writeDocumentErrors(w http.ResponseWriter, code int, err error) {
	body := errorBody{Error: "invalid flowsheet"}
	for _, le := range flowspec.Errors(err) {
		body.Errors = append(body.Errors, documentError{Code: le.Code, Field: le.Field, Message: le.Message})
	}
	if len(body.Errors) == 0 {
		body.Error = err.Error()
	}
	writeJSON(w, code, body)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/metric"

	"github.com/zanussbaum/fast-penguin/internal/health"
	"github.com/zanussbaum/fast-penguin/internal/observe"
	"github.com/zanussbaum/fast-penguin/internal/resilience"
)

// Config tunes the HTTP server.
type Config struct {
	// ListenAddr is the TCP address to listen on. Default ":8080".
	ListenAddr string

	// QueryPrefix is prepended to every text before embedding. The response
	// echoes the text as submitted, without the prefix.
	QueryPrefix string

	// CORSOrigins lists allowed cross-origin request origins.
	CORSOrigins []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Server serves the embedding API:
//
//	POST /embed/  embed a text, echo it back with the vector
//	GET  /        model status
//	GET  /healthz, /readyz, /metrics
type Server struct {
	state   *ModelState
	breaker *resilience.Breaker
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	httpSrv *http.Server
}

// New builds a Server around state.
func New(state *ModelState, cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		state: state,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name: "embed",
		}),
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Handler returns the fully assembled HTTP handler, including middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed/", s.handleEmbed)
	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(
		health.ModelChecker(s.state.Loaded),
	).Register(mux)

	// Any origin may call the API unless the config narrows it.
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(mux)

	return observe.Middleware(s.metrics)(handler)
}

// Start listens on the configured address until Shutdown or a listener
// error. The model must already have been given its Load chance; a failed
// load serves 503s instead of aborting.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("embedding server listening", "addr", s.cfg.ListenAddr, "model", s.state.ModelID())
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// embedRequest and embedResponse define the /embed/ wire format.
type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Text      string    `json:"text"`
}

// errorResponse is the body for all error statuses.
type errorResponse struct {
	Error string `json:"error"`
}

// handleEmbed serves POST /embed/. The model-loaded check runs before the
// body is parsed, so an unloaded model answers 503 regardless of input.
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if !s.state.Loaded() {
		s.metrics.RecordEmbedRequest(r.Context(), "unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: ErrModelNotLoaded.Error()})
		return
	}

	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordEmbedRequest(r.Context(), "bad_request")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	start := time.Now()
	var vec []float32
	err := s.breaker.Do(func() error {
		var embedErr error
		vec, embedErr = s.state.Embed(r.Context(), s.cfg.QueryPrefix+req.Text)
		return embedErr
	})
	s.metrics.EmbedDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("model", s.state.ModelID())),
	)

	switch {
	case errors.Is(err, resilience.ErrBreakerOpen):
		s.metrics.RecordEmbedRequest(r.Context(), "unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.metrics.RecordEmbedRequest(r.Context(), "error")
		s.log.Error("embed failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.metrics.RecordEmbedRequest(r.Context(), "ok")
	writeJSON(w, http.StatusOK, embedResponse{Embedding: vec, Text: req.Text})
}

// statusResponse is the body for GET /.
type statusResponse struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleStatus serves GET / with a message reflecting model-load state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Model: s.state.ModelID()}
	if s.state.Loaded() {
		resp.Status = "ok"
		resp.Dimensions = s.state.Dimensions()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "model not loaded"
	if err := s.state.LoadError(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}

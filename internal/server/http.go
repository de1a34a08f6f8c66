package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ios-tooling/tapedeck/internal/catalog"
	"github.com/ios-tooling/tapedeck/internal/config"
	"github.com/ios-tooling/tapedeck/internal/metrics"
	"github.com/ios-tooling/tapedeck/internal/recorder"
	"github.com/ios-tooling/tapedeck/internal/segment"
)

// Version is reported by /health and the API index
var Version = "dev"

// HTTPServer provides status endpoints for active recording sessions
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	registry *recorder.Registry
	catalog  *catalog.Store
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP status server. store may be nil, and a
// nil gatherer serves the default Prometheus registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, registry *recorder.Registry,
	store *catalog.Store, gatherer prometheus.Gatherer, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		registry:  registry,
		catalog:   store,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)

	h.server = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/recordings", h.withMetrics("/recordings", h.handleRecordings))

	// No metrics needed for the metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP status server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP status server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "tapedeck",
			"version": Version,
		},
		"components": map[string]any{
			"registry": map[string]any{
				"status":          "running",
				"active_sessions": h.registry.Count(),
			},
			"catalog": map[string]any{
				"enabled": h.catalog != nil,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// SessionDetail is the /sessions/{id} response
type SessionDetail struct {
	recorder.SessionInfo
	Rotation *segment.Stats       `json:"rotation,omitempty"`
	Chunks   []segment.Descriptor `json:"chunks,omitempty"`
}

// handleSessionDetail implements /sessions/{id}, /sessions/{id}/levels and
// POST /sessions/{id}/finish
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if rest == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	session, exists := h.registry.Get(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		detail := SessionDetail{SessionInfo: session.Info()}
		if rot := rotatorOf(session.Output()); rot != nil {
			stats := rot.GetStats()
			detail.Rotation = &stats
			detail.Chunks = rot.Index().Chunks()
		}
		writeJSON(w, http.StatusOK, detail)

	case "levels":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n := 100
		if s := r.URL.Query().Get("n"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 {
				http.Error(w, "Invalid level count", http.StatusBadRequest)
				return
			}
			n = v
		}
		history := session.Meter().History()
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         session.ID,
			"current":    history.Current(),
			"normalized": history.NormalizedLevel(),
			"levels":     history.Recent(n),
		})

	case "finish":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sidecar, err := h.registry.Finish(r.Context(), id)
		if err != nil {
			h.logger.Warn("Failed to finish session",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sidecar)

	default:
		http.NotFound(w, r)
	}
}

// handleRecordings implements the /recordings endpoint
func (h *HTTPServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.catalog == nil {
		http.Error(w, "Catalog disabled", http.StatusNotFound)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}

	recordings, err := h.catalog.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list recordings", slog.String("error", err.Error()))
		http.Error(w, "Failed to list recordings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_recordings": len(recordings),
		"recordings":       recordings,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "tapedeck",
		"version": Version,
		"endpoints": map[string]any{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /sessions":              "List active recording sessions",
			"GET /sessions/{id}":         "Session detail with chunk listing",
			"GET /sessions/{id}/levels":  "Recent level history",
			"POST /sessions/{id}/finish": "Finalize a session",
			"GET /recordings":            "Finished recordings from the catalog",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func rotatorOf(out recorder.Output) *segment.Rotator {
	switch o := out.(type) {
	case *recorder.Segmented:
		return o.Rotator()
	case *recorder.RawMirror:
		return o.Mirror().Rotator()
	}
	return nil
}

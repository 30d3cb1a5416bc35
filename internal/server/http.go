package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgbrblmd/seed-vc/internal/artifacts"
	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/config"
	"github.com/jgbrblmd/seed-vc/internal/convert"
	"github.com/jgbrblmd/seed-vc/internal/engine"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
)

// HTTPServer exposes the voice conversion API plus monitoring endpoints
type HTTPServer struct {
	server       *http.Server
	logger       *slog.Logger
	config       *config.Config
	orchestrator *convert.Orchestrator
	gate         *engine.Gate
	remote       *engine.Remote
	admission    *convert.Admission
	registry     *artifacts.Registry
	metrics      *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	orchestrator *convert.Orchestrator, gate *engine.Gate, remote *engine.Remote,
	admission *convert.Admission, registry *artifacts.Registry, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:       logger,
		config:       cfg,
		orchestrator: orchestrator,
		gate:         gate,
		remote:       remote,
		admission:    admission,
		registry:     registry,
		metrics:      m,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.GetReadTimeoutDuration(),
		WriteTimeout: cfg.Server.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Conversion endpoints
	mux.HandleFunc("/v1/convert", h.withMetrics("/v1/convert", h.handleConvert))
	mux.HandleFunc("/v1/convert/upload", h.withMetrics("/v1/convert/upload", h.handleConvertUpload))

	// Artifact retrieval and cleanup
	mux.HandleFunc("/v1/artifacts/", h.withMetrics("/v1/artifacts/{token}", h.handleArtifact))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Response writer wrapper to capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleConvert implements POST /v1/convert
func (h *HTTPServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Decode over defaults so absent fields keep their documented values
	req := convert.DefaultRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	outcome := h.orchestrator.Run(r.Context(), req)
	h.writeOutcome(w, outcome)
}

// handleConvertUpload implements POST /v1/convert/upload
func (h *HTTPServer) handleConvertUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(h.config.Server.MaxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	req, err := parseFormRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sourceFile, sourceHeader, err := r.FormFile("source_audio")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "source_audio file is required")
		return
	}
	defer sourceFile.Close()

	targetFile, targetHeader, err := r.FormFile("target_audio")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "target_audio file is required")
		return
	}
	defer targetFile.Close()

	req.SourceUpload = sourceFile
	req.SourceName = sourceHeader.Filename
	req.TargetUpload = targetFile
	req.TargetName = targetHeader.Filename

	outcome := h.orchestrator.Run(r.Context(), req)
	h.writeOutcome(w, outcome)
}

// parseFormRequest reads conversion parameters from multipart form fields.
// Absent fields keep their defaults.
func parseFormRequest(r *http.Request) (convert.Request, error) {
	req := convert.DefaultRequest()

	var err error
	intField := func(key string, dst *int) {
		v := r.FormValue(key)
		if v == "" || err != nil {
			return
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			err = fmt.Errorf("invalid %s: %q", key, v)
			return
		}
		*dst = n
	}
	floatField := func(key string, dst *float64) {
		v := r.FormValue(key)
		if v == "" || err != nil {
			return
		}
		f, convErr := strconv.ParseFloat(v, 64)
		if convErr != nil {
			err = fmt.Errorf("invalid %s: %q", key, v)
			return
		}
		*dst = f
	}
	boolField := func(key string, dst *bool) {
		v := r.FormValue(key)
		if v == "" || err != nil {
			return
		}
		b, convErr := strconv.ParseBool(v)
		if convErr != nil {
			err = fmt.Errorf("invalid %s: %q", key, v)
			return
		}
		*dst = b
	}

	intField("diffusion_steps", &req.DiffusionSteps)
	floatField("length_adjust", &req.LengthAdjust)
	floatField("intelligibility_cfg_rate", &req.IntelligibilityCFG)
	floatField("similarity_cfg_rate", &req.SimilarityCFG)
	floatField("top_p", &req.TopP)
	floatField("temperature", &req.Temperature)
	floatField("repetition_penalty", &req.RepetitionPenalty)
	boolField("convert_style", &req.ConvertStyle)
	boolField("anonymization_only", &req.AnonymizationOnly)
	boolField("return_base64", &req.ReturnBase64)
	boolField("cleanup_temp_files", &req.CleanupTempFiles)

	if v := r.FormValue("output_format"); v != "" {
		req.OutputFormat = v
	}

	return req, err
}

// handleArtifact implements GET and DELETE on /v1/artifacts/{token}
func (h *HTTPServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/v1/artifacts/")
	if token == "" || strings.Contains(token, "/") {
		h.writeError(w, http.StatusBadRequest, "artifact token required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.serveArtifact(w, r, token)
	case http.MethodDelete:
		h.deleteArtifact(w, token)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) serveArtifact(w http.ResponseWriter, r *http.Request, token string) {
	file, entry, err := h.registry.Open(token)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open artifact: %v", err))
		return
	}
	defer file.Close()

	name := filepath.Base(entry.Path)
	w.Header().Set("Content-Type", contentType(entry.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, entry.CreatedAt, file)
}

func (h *HTTPServer) deleteArtifact(w http.ResponseWriter, token string) {
	if err := h.registry.Delete(token); err != nil {
		h.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Artifact deleted",
	})
}

// contentType maps an output format to its media type
func contentType(format string) string {
	switch format {
	case audio.FormatWAV:
		return "audio/wav"
	case audio.FormatMP3:
		return "audio/mpeg"
	case audio.FormatOgg:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	engineReady := false
	backend := h.gate.Backend()
	if status, err := h.gate.Ready(ctx); err == nil {
		engineReady = status.Ready
		backend = status.Backend
	}

	status := "healthy"
	if !engineReady {
		status = "degraded"
	}

	uptime := time.Since(h.startTime)
	gateStats := h.gate.GetStats()
	admissionStats := h.admission.GetStats()
	registryStats := h.registry.GetStats()

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "seed-vc-service",
			"version": "1.0.0",
		},
		"engine": map[string]interface{}{
			"ready":       engineReady,
			"backend":     backend,
			"busy":        gateStats.Busy,
			"queue_depth": gateStats.QueueDepth,
		},
		"capacity": map[string]interface{}{
			"active":         admissionStats.Active,
			"queued":         admissionStats.Queued,
			"max_concurrent": h.config.Admission.MaxConcurrent,
			"queue_depth":    h.config.Admission.QueueDepth,
		},
		"artifacts": map[string]interface{}{
			"stored":      registryStats.Stored,
			"total_bytes": registryStats.TotalBytes,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":             h.config.Server.Port,
			"address":          h.config.Server.Address,
			"read_timeout":     h.config.Server.ReadTimeout,
			"write_timeout":    h.config.Server.WriteTimeout,
			"max_upload_bytes": h.config.Server.MaxUploadBytes,
		},
		"engine": map[string]interface{}{
			"endpoint":          h.config.Engine.Endpoint,
			"timeout":           h.config.Engine.Timeout,
			"max_retries":       h.config.Engine.MaxRetries,
			"max_concurrent":    h.config.Engine.MaxConcurrent,
			"max_batch":         h.config.Engine.MaxBatch,
			"max_seq_len":       h.config.Engine.MaxSeqLen,
			"precision":         h.config.Engine.Precision,
			"tokens_per_second": h.config.Engine.TokensPerSecond,
		},
		"audio": map[string]interface{}{
			"ffmpeg_path":    h.config.Audio.FFmpegPath,
			"ffprobe_path":   h.config.Audio.FFprobePath,
			"mp3_bitrate":    h.config.Audio.MP3Bitrate,
			"ogg_codec":      h.config.Audio.OggCodec,
			"normalize_peak": h.config.Audio.NormalizePeak,
			"encode_timeout": h.config.Audio.EncodeTimeout,
		},
		"admission": map[string]interface{}{
			"max_concurrent": h.config.Admission.MaxConcurrent,
			"queue_depth":    h.config.Admission.QueueDepth,
			"queue_wait":     h.config.Admission.QueueWait,
		},
		"artifacts": map[string]interface{}{
			"dir":            h.config.Artifacts.Dir,
			"ttl":            h.config.Artifacts.TTL,
			"sweep_interval": h.config.Artifacts.SweepInterval,
			"max_entries":    h.config.Artifacts.MaxEntries,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"engine":    h.remote.GetStats(),
		"gate":      h.gate.GetStats(),
		"admission": h.admission.GetStats(),
		"artifacts": h.registry.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
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

	apiDoc := map[string]interface{}{
		"service": "Seed-VC Voice Conversion Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                        "API documentation",
			"POST /v1/convert":             "Run a voice conversion (JSON body)",
			"POST /v1/convert/upload":      "Run a voice conversion (multipart upload)",
			"GET /v1/artifacts/{token}":    "Download a conversion artifact",
			"DELETE /v1/artifacts/{token}": "Delete a conversion artifact",
			"GET /health":                  "Service health check",
			"GET /config":                  "Get service configuration",
			"GET /stats":                   "Get service statistics",
			"GET /metrics":                 "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}

// writeOutcome serializes a conversion outcome. Failures keep status 200
// (the outcome object is the protocol) except overload, which maps to 429.
func (h *HTTPServer) writeOutcome(w http.ResponseWriter, outcome *convert.Outcome) {
	status := http.StatusOK
	if outcome.FailureKind == convert.FailOverloaded {
		status = http.StatusTooManyRequests
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(outcome)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"air-quality-platform/internal/repository"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

// HealthChecker is implemented by optional dependencies reported on /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ArtifactHandler serves run status and the artifacts written so far
type ArtifactHandler struct {
	root    string
	checks  map[string]HealthChecker
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewArtifactHandler creates a handler reading artifacts under root
func NewArtifactHandler(root string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ArtifactHandler {
	return &ArtifactHandler{
		root:    root,
		checks:  make(map[string]HealthChecker),
		logger:  logger,
		metrics: metricsCollector,
	}
}

// AddHealthCheck registers a dependency reported by /health
func (h *ArtifactHandler) AddHealthCheck(name string, check HealthChecker) {
	h.checks[name] = check
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ListArtifacts handles GET /api/artifacts
func (h *ArtifactHandler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names, err := repository.ListArtifacts(h.root)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_ARTIFACTS_ERROR] Failed to list artifacts", logging.Fields{
			"root": h.root,
		}, err)
		h.sendError(w, r, "failed to list artifacts", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordHTTPRequest("/api/artifacts", "GET", "200")
	h.sendJSON(w, map[string]interface{}{
		"artifacts": names,
		"count":     len(names),
	}, http.StatusOK)
}

// GetArtifact handles GET /api/artifacts/{name}
func (h *ArtifactHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	if _, err := repository.ArtifactIdentifier(name); err != nil {
		h.sendError(w, r, "invalid artifact name", http.StatusBadRequest)
		return
	}

	page, limit := 1, 100
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}

	path := filepath.Join(h.root, name+".csv")
	table, err := repository.ReadCSV(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.sendError(w, r, "artifact not found", http.StatusNotFound)
			return
		}
		h.logger.Error(ctx, "[API_GET_ARTIFACT_ERROR] Failed to read artifact", logging.Fields{
			"path": path,
		}, err)
		h.sendError(w, r, "failed to read artifact", http.StatusInternalServerError)
		return
	}

	total := table.Len()
	from := total
	if page-1 <= total/limit {
		from = min((page-1)*limit, total)
	}
	to := from + limit
	if to > total {
		to = total
	}

	h.metrics.RecordHTTPRequest("/api/artifacts/{name}", "GET", "200")
	h.sendJSON(w, PaginatedResponse{
		Data:       table.Rows[from:to],
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ArtifactHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Dependency unhealthy", logging.Fields{
				"dependency": name,
				"error":      err.Error(),
			})
			deps[name] = "unhealthy"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}
	if len(deps) > 0 {
		status["dependencies"] = deps
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.metrics.RecordHTTPRequest("/health", "GET", strconv.Itoa(code))
	h.sendJSON(w, status, code)
}

// sendJSON sends a JSON response
func (h *ArtifactHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ArtifactHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	route := r.URL.Path
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			route = tmpl
		}
	}
	h.metrics.RecordHTTPRequest(route, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers the status routes, including /metrics
func (h *ArtifactHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/artifacts", h.ListArtifacts).Methods("GET")
	router.HandleFunc("/api/artifacts/{name}", h.GetArtifact).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
}

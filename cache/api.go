package cache

import (
	"net/http"
	"regexp"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// API exposes REST endpoints for cache management.
type API struct {
	manager *CacheManager
	logger  *zap.SugaredLogger
}

// NewAPI creates the management API over a manager.
func NewAPI(manager *CacheManager, logger *zap.SugaredLogger) *API {
	return &API{manager: manager, logger: logger}
}

// RegisterRoutes registers all cache management routes.
func (api *API) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/cache/metrics", api.GetMetrics).Methods("GET")
	router.HandleFunc("/cache/stats/{name}", api.GetCacheStats).Methods("GET")
	router.HandleFunc("/cache/clear", api.ClearAll).Methods("POST")
	router.HandleFunc("/cache/warmup", api.Warmup).Methods("POST")
	router.HandleFunc("/cache/optimize", api.Optimize).Methods("POST")
	router.HandleFunc("/cache/invalidate", api.InvalidatePattern).Methods("POST")
}

// GetMetrics handles GET /cache/metrics.
func (api *API) GetMetrics(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.manager.Metrics())
}

// GetCacheStats handles GET /cache/stats/{name}.
func (api *API) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	stats, ok := api.manager.Stats(name)
	if !ok {
		api.writeError(w, http.StatusNotFound, "cache_not_found", "No cache registered under that name")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"name": name, "stats": stats})
}

// ClearAll handles POST /cache/clear.
func (api *API) ClearAll(w http.ResponseWriter, r *http.Request) {
	api.manager.ClearAll()
	api.writeJSON(w, http.StatusOK, map[string]any{"cleared": api.manager.CacheNames()})
}

// Warmup handles POST /cache/warmup.
func (api *API) Warmup(w http.ResponseWriter, r *http.Request) {
	results := api.manager.Warmup(r.Context())
	api.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Optimize handles POST /cache/optimize.
func (api *API) Optimize(w http.ResponseWriter, r *http.Request) {
	api.manager.Optimize(r.Context())
	api.writeJSON(w, http.StatusOK, map[string]any{"optimized": api.manager.CacheNames()})
}

// InvalidatePattern handles POST /cache/invalidate with body
// {"pattern": "<regexp>"}.
func (api *API) InvalidatePattern(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Pattern == "" {
		api.writeError(w, http.StatusBadRequest, "invalid_request", "Body must contain a non-empty pattern")
		return
	}
	pattern, err := regexp.Compile(request.Pattern)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	}
	removed := api.manager.InvalidatePattern(pattern)
	api.writeJSON(w, http.StatusOK, map[string]any{"invalidated": removed})
}

func (api *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.logger.Errorw("Failed to encode API response", "error", err)
	}
}

func (api *API) writeError(w http.ResponseWriter, status int, code, message string) {
	api.writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

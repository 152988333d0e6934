// Package report serves the rendered HTML coverage report, so a CI box can
// expose the latest run without copying files around.
package report

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mesabox/mesacov/internal/observability"
)

// Server holds dependencies for the report HTTP surface.
type Server struct {
	dir     string // rendered report directory
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewServer returns a server for the report directory. A nil limiter
// disables rate limiting.
func NewServer(dir string, logger *zap.Logger, limiter *rate.Limiter) *Server {
	return &Server{dir: dir, logger: logger, limiter: limiter}
}

// Router assembles the report routes with request-ID, metrics, and rate
// limit middleware.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware(s.logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/healthz", s.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	files := router.PathPrefix("/").Subrouter()
	files.Use(RateLimitMiddleware(s.limiter))
	files.PathPrefix("/").Handler(http.FileServer(http.Dir(s.dir)))
	return router
}

// GetHealth handles GET /healthz. Healthy means a rendered report exists;
// a missing index.html reports 503 so a load balancer will not route to a
// box whose run never finished.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	statusCode := http.StatusOK
	if _, err := os.Stat(filepath.Join(s.dir, "index.html")); err != nil {
		status = "no report"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "mesacov",
		"report":    s.dir,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

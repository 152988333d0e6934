package report

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func writeReport(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>coverage</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// TestServer_ServesReportFiles verifies the rendered report is reachable at
// the root and tagged with a request ID.
func TestServer_ServesReportFiles(t *testing.T) {
	dir := writeReport(t)
	srv := NewServer(dir, zap.NewNop(), nil)

	req := httptest.NewRequest("GET", "/index.html", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /index.html = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "coverage") {
		t.Error("report body not served")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

// TestServer_Health verifies /healthz reflects report presence: 200 with a
// rendered report, 503 without one.
func TestServer_Health(t *testing.T) {
	withReport := NewServer(writeReport(t), zap.NewNop(), nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	withReport.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz with report = %d, want 200", w.Code)
	}

	empty := NewServer(t.TempDir(), zap.NewNop(), nil)
	w = httptest.NewRecorder()
	empty.Router().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz without report = %d, want 503", w.Code)
	}
}

// TestServer_Metrics verifies the Prometheus endpoint is wired.
func TestServer_Metrics(t *testing.T) {
	srv := NewServer(writeReport(t), zap.NewNop(), nil)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "coverageRunsTotal") {
		t.Error("metrics output missing orchestrator metrics")
	}
}

// TestServer_RateLimit verifies report requests beyond the bucket answer
// 429, while /healthz stays unlimited.
func TestServer_RateLimit(t *testing.T) {
	srv := NewServer(writeReport(t), zap.NewNop(), rate.NewLimiter(rate.Limit(1), 1))
	router := srv.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/index.html", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/index.html", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", w.Code)
	}
	if !strings.Contains(w.Body.String(), "RATE_LIMITED") {
		t.Error("429 body missing error code")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz rate limited: %d", w.Code)
	}
}

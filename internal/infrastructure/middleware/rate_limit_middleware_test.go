package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"viewmux/pkg/config"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(cfg))
	router.GET("/viewers", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/viewers", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return router
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:4711"
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitDisabledAllowsEverything(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newLimitedRouter(cfg)

	for i := 0; i < 10; i++ {
		if w := doRequest(router, http.MethodGet, "/viewers"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}

func TestRateLimitEnforcesPerClientBudget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 1
	cfg.RateLimiting.Burst = 1
	cfg.RateLimiting.MaxConcurrent = 0
	router := newLimitedRouter(cfg)

	if w := doRequest(router, http.MethodGet, "/viewers"); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", w.Code)
	}

	w := doRequest(router, http.MethodGet, "/viewers")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("429 response is missing Retry-After")
	}
}

func TestRateLimitChargesMutationsMore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 0.001
	cfg.RateLimiting.Burst = 3
	cfg.RateLimiting.MaxConcurrent = 0
	router := newLimitedRouter(cfg)

	// A mutation costs admissionCost tokens, a read costs one. Burst 3
	// covers one POST plus one GET, then the budget is gone.
	if w := doRequest(router, http.MethodPost, "/viewers"); w.Code != http.StatusCreated {
		t.Fatalf("POST: status = %d, want 201", w.Code)
	}
	if w := doRequest(router, http.MethodGet, "/viewers"); w.Code != http.StatusOK {
		t.Fatalf("GET after POST: status = %d, want 200", w.Code)
	}
	if w := doRequest(router, http.MethodGet, "/viewers"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("GET over budget: status = %d, want 429", w.Code)
	}
}

func TestRateLimitClientsAreIndependent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 1
	cfg.RateLimiting.Burst = 1
	cfg.RateLimiting.MaxConcurrent = 0
	router := newLimitedRouter(cfg)

	if w := doRequest(router, http.MethodGet, "/viewers"); w.Code != http.StatusOK {
		t.Fatalf("first client: status = %d, want 200", w.Code)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/viewers", nil)
	req.RemoteAddr = "198.51.100.9:4711"
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("second client: status = %d, want 200", w.Code)
	}
}

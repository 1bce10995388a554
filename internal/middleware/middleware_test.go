package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/internal/service"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (t tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Wrap(errors.New("bad signature"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
}

var testTokens = tokenStub{
	"user-token":  {UserID: "user-1", Role: models.RoleUser},
	"staff-token": {UserID: "staff-1", Role: models.RoleStaff},
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/", handlers...)
	return router
}

func serve(router *gin.Engine, token string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTMiddleware(t *testing.T) {
	router := newRouter(JWT(testTokens), func(c *gin.Context) {
		if CurrentUser(c) == nil {
			t.Fatalf("expected claims in context")
		}
	})

	if code := serve(router, "").Code; code != http.StatusUnauthorized {
		t.Fatalf("missing token: unexpected status %d", code)
	}
	if code := serve(router, "forged").Code; code != http.StatusUnauthorized {
		t.Fatalf("forged token: unexpected status %d", code)
	}
	if code := serve(router, "user-token").Code; code != http.StatusNoContent {
		t.Fatalf("valid token: unexpected status %d", code)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("basic auth: unexpected status %d", recorder.Code)
	}
}

func TestRequireStaff(t *testing.T) {
	router := newRouter(JWT(testTokens), RequireStaff())

	if code := serve(router, "user-token").Code; code != http.StatusForbidden {
		t.Fatalf("user: unexpected status %d", code)
	}
	if code := serve(router, "staff-token").Code; code != http.StatusNoContent {
		t.Fatalf("staff: unexpected status %d", code)
	}

	bare := newRouter(RequireStaff())
	if code := serve(bare, "").Code; code != http.StatusUnauthorized {
		t.Fatalf("no claims: unexpected status %d", code)
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{PerMinute: 1, Burst: 2}, nil)
	defer limiter.Stop()
	router := newRouter(JWT(testTokens), limiter.Middleware("claims"))

	for i := 0; i < 2; i++ {
		if code := serve(router, "user-token").Code; code != http.StatusNoContent {
			t.Fatalf("request %d: unexpected status %d", i, code)
		}
	}
	recorder := serve(router, "user-token")
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("over budget: unexpected status %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", recorder.Header().Get("Retry-After"))
	}
	if code := serve(router, "staff-token").Code; code != http.StatusNoContent {
		t.Fatalf("other user: unexpected status %d", code)
	}

	limiter.cleanup(time.Now().Add(time.Hour))
	if limiter.size() != 0 {
		t.Fatalf("expected idle buckets to be dropped, got %d", limiter.size())
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{}, nil)
	router := newRouter(limiter.Middleware("uploads"))
	for i := 0; i < 5; i++ {
		if code := serve(router, "").Code; code != http.StatusNoContent {
			t.Fatalf("unexpected status %d", code)
		}
	}
}

func TestMetricsLabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics, "/metrics"))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/items/:id", ok)
	router.GET("/metrics", ok)

	for _, path := range []string{"/items/a", "/items/b", "/metrics", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	count, err := testutil.GatherAndCount(metrics.Registry(), "http_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected one series for /items/:id and one unmatched, got %d", count)
	}
}

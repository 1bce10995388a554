package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(New(origins))
	router.Handle(method, "/items", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/items", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListedOriginGetsCredentials(t *testing.T) {
	w := serve(t, []string{"https://desk.example.org/"}, http.MethodGet, "https://Desk.example.org")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://Desk.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestWildcardWithoutCredentials(t *testing.T) {
	w := serve(t, nil, http.MethodGet, "https://anywhere.test")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestPreflight(t *testing.T) {
	w := serve(t, []string{"https://desk.example.org"}, http.MethodOptions, "https://desk.example.org")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")

	w = serve(t, []string{"https://desk.example.org"}, http.MethodOptions, "https://evil.test")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

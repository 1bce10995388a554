package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lostfound-api/internal/middleware"
	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/pkg/response"
)

var (
	userActor  = &models.JWTClaims{UserID: "user-1", Role: models.RoleUser}
	staffActor = &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff}
)

func newTestContext(method, target string, body interface{}, actor *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		payload, _ := json.Marshal(v)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if actor != nil {
		c.Set(middleware.ContextUserKey, actor)
	}
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	return env.Error.Code
}

// writtenStatus flushes a header-only response (204) into the recorder before reading it.
func writtenStatus(c *gin.Context, w *httptest.ResponseRecorder) int {
	c.Writer.WriteHeaderNow()
	return w.Code
}

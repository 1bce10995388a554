package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

const artifactBase = "/api/v1/artifacts"

type artifactServiceStub struct {
	dir    string
	tokens map[string]string
}

func newArtifactServiceStub(t *testing.T, files map[string]string) *artifactServiceStub {
	dir := t.TempDir()
	for key, content := range files {
		target := filepath.Join(dir, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
	}
	return &artifactServiceStub{dir: dir, tokens: map[string]string{"good-token": "claim_documents/doc.pdf"}}
}

func (s *artifactServiceStub) Open(key string) (*os.File, string, error) {
	file, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(key)))
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "artifact not found")
	}
	contentType := "image/jpeg"
	if strings.HasSuffix(key, ".pdf") {
		contentType = "application/pdf"
	}
	return file, contentType, nil
}

func (s *artifactServiceStub) KeyFromURL(raw string) (string, bool) {
	prefix := artifactBase + "/files/"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	return strings.TrimPrefix(raw, prefix), true
}

func (s *artifactServiceStub) SignedURL(key string) (string, time.Time, error) {
	return artifactBase + "/signed/token-for-" + key, time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC), nil
}

func (s *artifactServiceStub) ResolveSigned(token string) (string, error) {
	key, ok := s.tokens[token]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired link")
	}
	return key, nil
}

func TestArtifactHandlerServesItemImagesToUsers(t *testing.T) {
	handler := NewArtifactHandler(newArtifactServiceStub(t, map[string]string{"item_images/a.jpg": "jpeg-bytes"}))
	c, w := newTestContext(http.MethodGet, "/artifacts/files/item_images/a.jpg", nil, userActor)
	c.AddParam("key", "/item_images/a.jpg")

	handler.File(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg-bytes", w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestArtifactHandlerRestrictsClaimDocuments(t *testing.T) {
	handler := NewArtifactHandler(newArtifactServiceStub(t, map[string]string{"claim_documents/doc.pdf": "%PDF"}))

	c, w := newTestContext(http.MethodGet, "/artifacts/files/claim_documents/doc.pdf", nil, userActor)
	c.AddParam("key", "/claim_documents/doc.pdf")
	handler.File(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = newTestContext(http.MethodGet, "/artifacts/files/claim_documents/doc.pdf", nil, staffActor)
	c.AddParam("key", "/claim_documents/doc.pdf")
	handler.File(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}

func TestArtifactHandlerMissingFile(t *testing.T) {
	handler := NewArtifactHandler(newArtifactServiceStub(t, nil))
	c, w := newTestContext(http.MethodGet, "/artifacts/files/item_images/none.jpg", nil, userActor)
	c.AddParam("key", "/item_images/none.jpg")

	handler.File(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArtifactHandlerSignedLink(t *testing.T) {
	handler := NewArtifactHandler(newArtifactServiceStub(t, map[string]string{"claim_documents/doc.pdf": "%PDF"}))

	c, w := newTestContext(http.MethodGet, "/artifacts/signed/good-token", nil, nil)
	c.AddParam("token", "good-token")
	handler.Signed(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF", w.Body.String())

	c, w = newTestContext(http.MethodGet, "/artifacts/signed/forged", nil, nil)
	c.AddParam("token", "forged")
	handler.Signed(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestArtifactHandlerSign(t *testing.T) {
	handler := NewArtifactHandler(newArtifactServiceStub(t, nil))

	c, w := newTestContext(http.MethodPost, "/artifacts/sign", map[string]string{"url": artifactBase + "/files/item_images/a.jpg"}, userActor)
	handler.Sign(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w).Data.(map[string]interface{})
	assert.Equal(t, artifactBase+"/signed/token-for-item_images/a.jpg", data["url"])
	assert.Equal(t, "2026-03-17T00:00:00Z", data["expiresAt"])

	c, w = newTestContext(http.MethodPost, "/artifacts/sign", map[string]string{"url": artifactBase + "/files/receipts/item-1.pdf"}, userActor)
	handler.Sign(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = newTestContext(http.MethodPost, "/artifacts/sign", map[string]string{"url": "https://elsewhere.test/x.jpg"}, staffActor)
	handler.Sign(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

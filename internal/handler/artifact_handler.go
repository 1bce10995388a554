package handler

import (
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
	"github.com/noah-isme/lostfound-api/pkg/response"
)

// Artifact prefixes readable by any signed-in user. Everything else is staff only.
var publicArtifactPrefixes = map[string]struct{}{
	"item_images": {},
}

type artifactService interface {
	Open(key string) (*os.File, string, error)
	KeyFromURL(raw string) (string, bool)
	SignedURL(key string) (string, time.Time, error)
	ResolveSigned(token string) (string, error)
}

// ArtifactHandler serves stored artifacts and issues signed download links.
type ArtifactHandler struct {
	service artifactService
}

// NewArtifactHandler builds a new handler.
func NewArtifactHandler(service artifactService) *ArtifactHandler {
	return &ArtifactHandler{service: service}
}

// File godoc
// @Summary Download a stored artifact
// @Description Item images are readable by any signed-in user; claim documents and receipts by staff.
// @Tags Artifacts
// @Produce octet-stream
// @Param key path string true "Artifact key"
// @Success 200 {file} file
// @Router /artifacts/files/{key} [get]
func (h *ArtifactHandler) File(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := canRead(claimsFromContext(c), key); err != nil {
		response.Error(c, err)
		return
	}
	h.serve(c, key)
}

// Signed godoc
// @Summary Download an artifact through a signed link
// @Tags Artifacts
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Router /artifacts/signed/{token} [get]
func (h *ArtifactHandler) Signed(c *gin.Context) {
	key, err := h.service.ResolveSigned(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.serve(c, key)
}

// Sign godoc
// @Summary Issue a time-limited link for an artifact URL
// @Tags Artifacts
// @Accept json
// @Produce json
// @Param payload body dto.SignLinkRequest true "Artifact URL"
// @Success 200 {object} response.Envelope
// @Router /artifacts/sign [post]
func (h *ArtifactHandler) Sign(c *gin.Context) {
	var req dto.SignLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "url is required"))
		return
	}
	key, ok := h.service.KeyFromURL(req.URL)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "artifact not found"))
		return
	}
	if err := canRead(claimsFromContext(c), key); err != nil {
		response.Error(c, err)
		return
	}
	url, expiresAt, err := h.service.SignedURL(key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SignedLinkResponse{URL: url, ExpiresAt: expiresAt}, nil)
}

func (h *ArtifactHandler) serve(c *gin.Context, key string) {
	file, contentType, err := h.service.Open(key)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": `inline; filename="` + path.Base(key) + `"`,
	})
}

func canRead(actor *models.JWTClaims, key string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	prefix, _, _ := strings.Cut(key, "/")
	if _, ok := publicArtifactPrefixes[prefix]; ok || actor.Role.IsStaff() {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "artifact is restricted to staff")
}

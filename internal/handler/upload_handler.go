package handler

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/service"
	"github.com/noah-isme/lostfound-api/internal/upload"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
	"github.com/noah-isme/lostfound-api/pkg/response"
)

const (
	uploadFormField    = "files"
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 2 * time.Minute
)

type uploadService interface {
	Create(owner string, kind service.BatchKind) (*service.BatchView, error)
	Get(batchID, owner string) (*service.BatchView, error)
	AddFiles(batchID, owner string, files []upload.File) ([]upload.Slot, error)
	RemoveSlot(batchID, owner, slotID string) error
	Preview(batchID, owner, slotID string) ([]byte, string, error)
	Wait(ctx context.Context, batchID, owner string) (*service.BatchView, error)
	Discard(batchID, owner string) error
}

// UploadHandler exposes upload batches backing item and claim forms.
type UploadHandler struct {
	service      uploadService
	maxFileBytes int64
}

// NewUploadHandler builds the handler. maxFileBytes caps how much of a single part is read;
// per-kind limits are enforced by the batch.
func NewUploadHandler(service uploadService, maxFileBytes int64) *UploadHandler {
	return &UploadHandler{service: service, maxFileBytes: maxFileBytes}
}

// Create godoc
// @Summary Open an upload batch
// @Tags Uploads
// @Accept json
// @Produce json
// @Param payload body dto.CreateUploadBatchRequest true "Batch kind"
// @Success 201 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateUploadBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid upload batch payload"))
		return
	}
	kind, err := service.ParseBatchKind(req.Kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.Create(claims.UserID, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Get godoc
// @Summary Get the state of an upload batch
// @Tags Uploads
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /uploads/{batchId} [get]
func (h *UploadHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.service.Get(c.Param("batchId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// AddFiles godoc
// @Summary Add files to an upload batch
// @Description Every file gets its own slot and uploads independently. The whole request is
// @Description refused when any file is invalid or the batch would exceed its capacity.
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param batchId path string true "Batch ID"
// @Param files formData file true "Files"
// @Success 202 {object} response.Envelope
// @Router /uploads/{batchId}/files [post]
func (h *UploadHandler) AddFiles(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "multipart form expected"))
		return
	}
	headers := form.File[uploadFormField]
	if len(headers) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at least one file is required"))
		return
	}

	files := make([]upload.File, 0, len(headers))
	for _, header := range headers {
		file, err := h.readPart(header)
		if err != nil {
			response.Error(c, err)
			return
		}
		files = append(files, file)
	}

	slots, err := h.service.AddFiles(c.Param("batchId"), claims.UserID, files)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, slots, nil)
}

// readPart buffers one part. A part over maxFileBytes is returned without its
// payload so the batch can report it together with every other rejected file.
func (h *UploadHandler) readPart(header *multipart.FileHeader) (upload.File, error) {
	src, err := header.Open()
	if err != nil {
		return upload.File{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	defer src.Close()

	reader := io.Reader(src)
	if h.maxFileBytes > 0 {
		reader = io.LimitReader(src, h.maxFileBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return upload.File{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file")
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	file := upload.File{Name: header.Filename, MIMEType: mimeType, Data: data}
	if h.maxFileBytes > 0 && int64(len(data)) > h.maxFileBytes {
		file.Data = nil
		file.DeclaredSize = header.Size
		if file.DeclaredSize <= h.maxFileBytes {
			file.DeclaredSize = int64(len(data))
		}
	}
	return file, nil
}

// RemoveSlot godoc
// @Summary Remove a settled slot from an upload batch
// @Tags Uploads
// @Param batchId path string true "Batch ID"
// @Param slotId path string true "Slot ID"
// @Success 204
// @Router /uploads/{batchId}/slots/{slotId} [delete]
func (h *UploadHandler) RemoveSlot(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.RemoveSlot(c.Param("batchId"), claims.UserID, c.Param("slotId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Preview godoc
// @Summary Fetch the local preview of an image slot
// @Tags Uploads
// @Produce image/jpeg,image/png,image/gif,image/webp
// @Param batchId path string true "Batch ID"
// @Param slotId path string true "Slot ID"
// @Success 200 {file} binary
// @Router /uploads/{batchId}/slots/{slotId}/preview [get]
func (h *UploadHandler) Preview(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	data, mimeType, err := h.service.Preview(c.Param("batchId"), claims.UserID, c.Param("slotId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mimeType, data)
}

// Wait godoc
// @Summary Wait for every slot of a batch to settle
// @Description Returns the batch once no slot is uploading or after the timeout, whichever comes first.
// @Tags Uploads
// @Produce json
// @Param batchId path string true "Batch ID"
// @Param timeout query string false "Maximum wait, e.g. 30s"
// @Success 200 {object} response.Envelope
// @Router /uploads/{batchId}/wait [get]
func (h *UploadHandler) Wait(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	timeout := defaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "timeout must be a positive duration"))
			return
		}
		timeout = parsed
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	view, err := h.service.Wait(ctx, c.Param("batchId"), claims.UserID)
	if err != nil && view == nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Discard godoc
// @Summary Discard an upload batch
// @Tags Uploads
// @Param batchId path string true "Batch ID"
// @Success 204
// @Router /uploads/{batchId} [delete]
func (h *UploadHandler) Discard(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Discard(c.Param("batchId"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

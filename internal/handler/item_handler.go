package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
	"github.com/noah-isme/lostfound-api/pkg/response"
)

type itemService interface {
	Report(ctx context.Context, req dto.ReportItemRequest, actor *models.JWTClaims) (*models.Item, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Item, error)
	List(ctx context.Context, query dto.ItemListQuery, actor *models.JWTClaims) ([]models.Item, *models.Pagination, error)
	FindMatches(ctx context.Context, id string, actor *models.JWTClaims) ([]models.MatchCandidate, error)
	BulkExpire(ctx context.Context, req dto.BulkExpireRequest, actor *models.JWTClaims) ([]dto.BulkExpireResult, error)
	SweepExpired(ctx context.Context) (dto.SweepResult, error)
	Delete(ctx context.Context, id string, confirm bool, actor *models.JWTClaims) error
	History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.AuditLog, error)
}

// ItemHandler exposes item reporting and item lifecycle endpoints.
type ItemHandler struct {
	service itemService
}

// NewItemHandler builds a new handler.
func NewItemHandler(service itemService) *ItemHandler {
	return &ItemHandler{service: service}
}

// Report godoc
// @Summary Report a lost or found item
// @Tags Items
// @Accept json
// @Produce json
// @Param payload body dto.ReportItemRequest true "Item payload"
// @Success 201 {object} response.Envelope
// @Router /items [post]
func (h *ItemHandler) Report(c *gin.Context) {
	var req dto.ReportItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid item payload"))
		return
	}
	item, err := h.service.Report(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// List godoc
// @Summary List items
// @Tags Items
// @Produce json
// @Param type query string false "lost or found"
// @Param status query []string false "Statuses" collectionFormat(multi)
// @Param category query string false "Category"
// @Param q query string false "Search title, description and location"
// @Param mine query bool false "Only items reported by the caller"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /items [get]
func (h *ItemHandler) List(c *gin.Context) {
	var query dto.ItemListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get an item with its visible claims
// @Tags Items
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Router /items/{id} [get]
func (h *ItemHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Matches godoc
// @Summary Find candidate matches for an item
// @Tags Items
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Router /items/{id}/matches [get]
func (h *ItemHandler) Matches(c *gin.Context) {
	matches, err := h.service.FindMatches(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, matches, nil)
}

// BulkExpire godoc
// @Summary Expire several found items
// @Description Without confirm the request is answered with 428 and the reason to confirm.
// @Tags Items
// @Accept json
// @Produce json
// @Param payload body dto.BulkExpireRequest true "Item IDs"
// @Success 200 {object} response.Envelope
// @Failure 428 {object} response.Envelope
// @Router /items/expire [post]
func (h *ItemHandler) BulkExpire(c *gin.Context) {
	var req dto.BulkExpireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk expire payload"))
		return
	}
	results, err := h.service.BulkExpire(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}

// Sweep godoc
// @Summary Run the expiry sweep now
// @Tags Items
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /items/sweep [post]
func (h *ItemHandler) Sweep(c *gin.Context) {
	result, err := h.service.SweepExpired(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Permanently delete an item
// @Description Admin only. Without confirm=true the request is answered with 428.
// @Tags Items
// @Param id path string true "Item ID"
// @Param confirm query bool false "Confirm the deletion"
// @Success 204
// @Failure 428 {object} response.Envelope
// @Router /items/{id} [delete]
func (h *ItemHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), confirmedQuery(c), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary Audit trail of an item and its claims
// @Tags Items
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Router /items/{id}/history [get]
func (h *ItemHandler) History(c *gin.Context) {
	entries, err := h.service.History(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

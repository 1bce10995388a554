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

type claimService interface {
	Submit(ctx context.Context, itemID string, req dto.SubmitClaimRequest, actor *models.JWTClaims) (*models.Claim, error)
	ListForItem(ctx context.Context, itemID string, actor *models.JWTClaims) ([]models.Claim, error)
	ListMine(ctx context.Context, actor *models.JWTClaims) ([]models.Claim, error)
}

// ClaimHandler exposes claim submission and listing.
type ClaimHandler struct {
	service claimService
}

// NewClaimHandler builds a new handler.
func NewClaimHandler(service claimService) *ClaimHandler {
	return &ClaimHandler{service: service}
}

// Submit godoc
// @Summary Claim a found item
// @Tags Claims
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param payload body dto.SubmitClaimRequest true "Claim payload"
// @Success 201 {object} response.Envelope
// @Router /items/{id}/claims [post]
func (h *ClaimHandler) Submit(c *gin.Context) {
	var req dto.SubmitClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid claim payload"))
		return
	}
	claim, err := h.service.Submit(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, claim)
}

// ListForItem godoc
// @Summary List the claims on an item
// @Tags Claims
// @Produce json
// @Param id path string true "Item ID"
// @Param surface query string false "claims or verification; selects status labels"
// @Success 200 {object} response.Envelope
// @Router /items/{id}/claims [get]
func (h *ClaimHandler) ListForItem(c *gin.Context) {
	claims, err := h.service.ListForItem(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claims, nil, statusLabels(c, claims))
}

// ListMine godoc
// @Summary List the caller's claims
// @Tags Claims
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /claims/mine [get]
func (h *ClaimHandler) ListMine(c *gin.Context) {
	claims, err := h.service.ListMine(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claims, nil)
}

// statusLabels renders claim statuses for the requested review surface in the response meta.
func statusLabels(c *gin.Context, claims []models.Claim) map[string]interface{} {
	surface := models.ReviewSurface(c.Query("surface"))
	if surface != models.SurfaceVerification {
		return nil
	}
	labels := make(map[string]string, len(claims))
	for _, claim := range claims {
		labels[claim.ID] = claim.Status.Label(surface)
	}
	return map[string]interface{}{"statusLabels": labels}
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/lifecycle"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
	"github.com/noah-isme/lostfound-api/pkg/response"
)

type adjudicationService interface {
	Approve(ctx context.Context, itemID, claimID string, req dto.ApproveClaimRequest, actor *models.JWTClaims) (*lifecycle.Decision, error)
	Reject(ctx context.Context, itemID, claimID string, req dto.RejectClaimRequest, actor *models.JWTClaims) (*models.Claim, error)
	Review(ctx context.Context, itemID, claimID string, req dto.ReviewClaimRequest, actor *models.JWTClaims) (*models.Claim, error)
	MarkReturned(ctx context.Context, itemID string, req dto.ReturnItemRequest, actor *models.JWTClaims) (*models.Item, error)
	HandoverToPolice(ctx context.Context, itemID string, req dto.HandoverRequest, actor *models.JWTClaims) (*models.Item, error)
}

// AdjudicationHandler exposes staff decisions on claims and items.
type AdjudicationHandler struct {
	service adjudicationService
}

// NewAdjudicationHandler builds a new handler.
func NewAdjudicationHandler(service adjudicationService) *AdjudicationHandler {
	return &AdjudicationHandler{service: service}
}

// Approve godoc
// @Summary Approve a claim
// @Description Approves the claim, rejects every other pending claim on the item and marks the item claimed.
// @Tags Adjudication
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param claimId path string true "Claim ID"
// @Param payload body dto.ApproveClaimRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /items/{id}/claims/{claimId}/approve [post]
func (h *AdjudicationHandler) Approve(c *gin.Context) {
	var req dto.ApproveClaimRequest
	if !bindOptionalJSON(c, &req, "invalid approval payload") {
		return
	}
	decision, err := h.service.Approve(c.Request.Context(), c.Param("id"), c.Param("claimId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision.Approved, nil, map[string]interface{}{"suppressed": decision.Suppressed})
}

// Reject godoc
// @Summary Reject a claim
// @Tags Adjudication
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param claimId path string true "Claim ID"
// @Param payload body dto.RejectClaimRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /items/{id}/claims/{claimId}/reject [post]
func (h *AdjudicationHandler) Reject(c *gin.Context) {
	var req dto.RejectClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}
	claim, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.Param("claimId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claim, nil)
}

// Review godoc
// @Summary Record a verification decision
// @Description status accepts approved, verified or rejected; verified is the same as approved.
// @Tags Adjudication
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param claimId path string true "Claim ID"
// @Param payload body dto.ReviewClaimRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /items/{id}/claims/{claimId}/review [post]
func (h *AdjudicationHandler) Review(c *gin.Context) {
	var req dto.ReviewClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	claim, err := h.service.Review(c.Request.Context(), c.Param("id"), c.Param("claimId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claim, nil, map[string]interface{}{
		"label": claim.Status.Label(models.SurfaceVerification),
	})
}

// MarkReturned godoc
// @Summary Mark a claimed item as returned to its owner
// @Tags Adjudication
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param payload body dto.ReturnItemRequest true "Return payload"
// @Success 200 {object} response.Envelope
// @Router /items/{id}/return [post]
func (h *AdjudicationHandler) MarkReturned(c *gin.Context) {
	var req dto.ReturnItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid return payload"))
		return
	}
	item, err := h.service.MarkReturned(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Handover godoc
// @Summary Hand an expired found item over to police
// @Description Irreversible. Without confirm the request is answered with 428 and the reason to confirm.
// @Tags Adjudication
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param payload body dto.HandoverRequest true "Police report number"
// @Success 200 {object} response.Envelope
// @Failure 428 {object} response.Envelope
// @Router /items/{id}/handover [post]
func (h *AdjudicationHandler) Handover(c *gin.Context) {
	var req dto.HandoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid handover payload"))
		return
	}
	item, err := h.service.HandoverToPolice(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// bindOptionalJSON binds a JSON body when one is present.
func bindOptionalJSON(c *gin.Context, dest interface{}, message string) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lostfound-api/internal/dto"
	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

type claimServiceMock struct {
	itemID string
	claims []models.Claim
	err    error
}

func (m *claimServiceMock) Submit(ctx context.Context, itemID string, req dto.SubmitClaimRequest, actor *models.JWTClaims) (*models.Claim, error) {
	m.itemID = itemID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Claim{ID: "claim-1", ItemID: itemID, ClaimedBy: actor.UserID, Notes: req.Notes, Status: models.ClaimStatusPending}, nil
}

func (m *claimServiceMock) ListForItem(ctx context.Context, itemID string, actor *models.JWTClaims) ([]models.Claim, error) {
	return m.claims, m.err
}

func (m *claimServiceMock) ListMine(ctx context.Context, actor *models.JWTClaims) ([]models.Claim, error) {
	return m.claims, m.err
}

func TestClaimHandlerSubmit(t *testing.T) {
	svc := &claimServiceMock{}
	handler := NewClaimHandler(svc)
	c, w := newTestContext(http.MethodPost, "/items/item-1/claims", dto.SubmitClaimRequest{Notes: "It has my initials inside"}, userActor)
	c.AddParam("id", "item-1")

	handler.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "item-1", svc.itemID)
}

func TestClaimHandlerSubmitOnClaimedItem(t *testing.T) {
	handler := NewClaimHandler(&claimServiceMock{err: appErrors.Clone(appErrors.ErrInvalidState, "item is not accepting claims")})
	c, w := newTestContext(http.MethodPost, "/items/item-1/claims", dto.SubmitClaimRequest{Notes: "It has my initials inside"}, userActor)
	c.AddParam("id", "item-1")

	handler.Submit(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrInvalidState.Code, errorCode(t, w))
}

func TestClaimHandlerVerificationLabels(t *testing.T) {
	svc := &claimServiceMock{claims: []models.Claim{
		{ID: "c1", Status: models.ClaimStatusApproved},
		{ID: "c2", Status: models.ClaimStatusRejected},
	}}
	handler := NewClaimHandler(svc)

	c, w := newTestContext(http.MethodGet, "/items/item-1/claims?surface=verification", nil, staffActor)
	handler.ListForItem(c)
	require.Equal(t, http.StatusOK, w.Code)
	labels := decodeEnvelope(t, w).Meta["statusLabels"].(map[string]interface{})
	assert.Equal(t, "verified", labels["c1"])
	assert.Equal(t, "rejected", labels["c2"])

	c, w = newTestContext(http.MethodGet, "/items/item-1/claims", nil, staffActor)
	handler.ListForItem(c)
	assert.Nil(t, decodeEnvelope(t, w).Meta)
}

func TestClaimHandlerListMine(t *testing.T) {
	handler := NewClaimHandler(&claimServiceMock{claims: []models.Claim{}})
	c, w := newTestContext(http.MethodGet, "/claims/mine", nil, userActor)

	handler.ListMine(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

// Package lifecycle holds the item and claim state machines. Every function validates
// before it mutates, so an item is left untouched when a transition is refused.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

// SuppressedNote is recorded on pending claims rejected because a sibling was approved.
const SuppressedNote = "Automatically rejected: another claim for this item was approved."

var itemTransitions = map[models.ItemStatus][]models.ItemStatus{
	models.ItemStatusActive:  {models.ItemStatusClaimed, models.ItemStatusExpired},
	models.ItemStatusClaimed: {models.ItemStatusReturned},
}

// CheckTransition reports whether an item may move from one status to another.
func CheckTransition(from, to models.ItemStatus) error {
	for _, allowed := range itemTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("invalid transition from %s to %s", from, to))
}

// CanAcceptClaim reports whether new claims (and approvals) are possible for the item.
func CanAcceptClaim(item *models.Item) error {
	if item.Type != models.ItemTypeFound {
		return appErrors.Clone(appErrors.ErrInvalidState, "only found items can be claimed")
	}
	if item.Status != models.ItemStatusActive {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("item is %s and cannot be claimed", item.Status))
	}
	return nil
}

// AddClaim appends a new pending claim in submission order.
func AddClaim(item *models.Item, claim models.Claim) error {
	if err := CanAcceptClaim(item); err != nil {
		return err
	}
	if claim.Status != "" && claim.Status != models.ClaimStatusPending {
		return appErrors.Clone(appErrors.ErrInvalidState, "new claims must be pending")
	}
	claim.Status = models.ClaimStatusPending
	claim.ItemID = item.ID
	item.Claims = append(item.Claims, claim)
	return nil
}

// Decision is the outcome of an approval: the accepted claim and the siblings it suppressed.
type Decision struct {
	Approved   models.Claim
	Suppressed []models.Claim
}

// Approve accepts claimID, rejects every other pending claim on the item and marks the
// item claimed. Already rejected siblings are left alone.
func Approve(item *models.Item, claimID, reviewer, note string, now time.Time) (*Decision, error) {
	claim := item.FindClaim(claimID)
	if claim == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "claim not found")
	}
	if claim.Status != models.ClaimStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("claim is already %s", claim.Status))
	}
	if err := CanAcceptClaim(item); err != nil {
		return nil, err
	}
	if err := CheckTransition(item.Status, models.ItemStatusClaimed); err != nil {
		return nil, err
	}
	if len(ApprovedClaims(item)) > 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "item already has an approved claim")
	}

	decide(claim, models.ClaimStatusApproved, reviewer, note, now)
	decision := &Decision{}
	for idx := range item.Claims {
		sibling := &item.Claims[idx]
		if sibling.ID == claimID || sibling.Status != models.ClaimStatusPending {
			continue
		}
		decide(sibling, models.ClaimStatusRejected, reviewer, SuppressedNote, now)
		decision.Suppressed = append(decision.Suppressed, *sibling.Clone())
	}
	decision.Approved = *claim.Clone()

	item.Status = models.ItemStatusClaimed
	item.UpdatedAt = now
	return decision, nil
}

// Reject declines a single pending claim. Sibling claims and the item are unaffected.
func Reject(item *models.Item, claimID, reviewer, reason string, now time.Time) (*models.Claim, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	claim := item.FindClaim(claimID)
	if claim == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "claim not found")
	}
	if claim.Status != models.ClaimStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("claim is already %s", claim.Status))
	}
	decide(claim, models.ClaimStatusRejected, reviewer, reason, now)
	return claim.Clone(), nil
}

// MarkReturned records that the item was physically handed to the approved claimant.
func MarkReturned(item *models.Item, claimID, notes string, now time.Time) error {
	claim := item.FindClaim(claimID)
	if claim == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "claim not found")
	}
	if err := CheckTransition(item.Status, models.ItemStatusReturned); err != nil {
		return err
	}
	approved := ApprovedClaims(item)
	if claim.Status != models.ClaimStatusApproved || len(approved) != 1 || approved[0].ID != claimID {
		return appErrors.Clone(appErrors.ErrInvalidState, "claim is not the approved claim for this item")
	}

	item.Status = models.ItemStatusReturned
	item.ReturnedAt = &now
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		item.ReturnNotes = &trimmed
	}
	item.UpdatedAt = now
	return nil
}

// Expire closes an active found item that was not claimed within its window.
func Expire(item *models.Item, now time.Time) error {
	if item.Type != models.ItemTypeFound {
		return appErrors.Clone(appErrors.ErrInvalidState, "only found items expire")
	}
	if err := CheckTransition(item.Status, models.ItemStatusExpired); err != nil {
		return err
	}
	item.Status = models.ItemStatusExpired
	item.ExpiredAt = &now
	item.UpdatedAt = now
	return nil
}

// HandOver flags an expired found item as transferred to police custody. It is irreversible
// and leaves the status expired.
func HandOver(item *models.Item, reportNumber string, now time.Time) error {
	reportNumber = strings.TrimSpace(reportNumber)
	if reportNumber == "" {
		return appErrors.Clone(appErrors.ErrValidation, "police report number is required")
	}
	if item.Type != models.ItemTypeFound {
		return appErrors.Clone(appErrors.ErrInvalidState, "only found items can be handed over")
	}
	if item.Status != models.ItemStatusExpired {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("item is %s; only expired items can be handed over", item.Status))
	}
	if item.HandedOverToPolice {
		return appErrors.Clone(appErrors.ErrInvalidState, "item was already handed over to police")
	}
	item.HandedOverToPolice = true
	item.PoliceReportNumber = &reportNumber
	item.HandedOverAt = &now
	item.UpdatedAt = now
	return nil
}

// ApprovedClaims returns pointers to the item's approved claims.
func ApprovedClaims(item *models.Item) []*models.Claim {
	var out []*models.Claim
	for idx := range item.Claims {
		if item.Claims[idx].Status == models.ClaimStatusApproved {
			out = append(out, &item.Claims[idx])
		}
	}
	return out
}

// CheckInvariants verifies the cross-entity rules that must hold after every transition.
func CheckInvariants(item *models.Item) error {
	approved := len(ApprovedClaims(item))
	switch {
	case approved > 1:
		return fmt.Errorf("item %s has %d approved claims", item.ID, approved)
	case item.HandedOverToPolice && (item.Status != models.ItemStatusExpired || item.Type != models.ItemTypeFound):
		return fmt.Errorf("item %s handed over while %s/%s", item.ID, item.Type, item.Status)
	case item.HandedOverToPolice && (item.PoliceReportNumber == nil || *item.PoliceReportNumber == ""):
		return fmt.Errorf("item %s handed over without report number", item.ID)
	case (item.Status == models.ItemStatusClaimed || item.Status == models.ItemStatusReturned) && approved != 1:
		return fmt.Errorf("item %s is %s without an approved claim", item.ID, item.Status)
	}
	return nil
}

func decide(claim *models.Claim, status models.ClaimStatus, reviewer, note string, now time.Time) {
	claim.Status = status
	claim.UpdatedAt = now
	claim.ReviewedAt = &now
	if reviewer != "" {
		r := reviewer
		claim.ReviewedBy = &r
	}
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		claim.ReviewNote = &trimmed
	}
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// ClaimStatus captures claim adjudication states.
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusApproved ClaimStatus = "approved"
	ClaimStatusRejected ClaimStatus = "rejected"
)

// Terminal reports whether no further claim transition is possible.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusApproved || s == ClaimStatusRejected
}

// ReviewSurface identifies which staff screen a status label is rendered for.
type ReviewSurface string

const (
	SurfaceClaims       ReviewSurface = "claims"
	SurfaceVerification ReviewSurface = "verification"
)

// Label renders the status for a review surface. The verification surface calls an
// accepted claim "verified"; it is the same state as approved.
func (s ClaimStatus) Label(surface ReviewSurface) string {
	if s == ClaimStatusApproved && surface == SurfaceVerification {
		return "verified"
	}
	return string(s)
}

// ParseClaimDecision maps a reviewer-supplied decision onto a terminal claim status.
func ParseClaimDecision(raw string) (ClaimStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "approve", "verified", "verify", "accepted":
		return ClaimStatusApproved, nil
	case "rejected", "reject":
		return ClaimStatusRejected, nil
	default:
		return "", fmt.Errorf("unknown claim decision %q", raw)
	}
}

// Claim is an ownership assertion against a found item.
type Claim struct {
	ID                    string       `db:"id" json:"id"`
	Seq                   int64        `db:"seq" json:"-"`
	ItemID                string       `db:"item_id" json:"itemId"`
	ClaimedBy             string       `db:"claimed_by" json:"claimedBy"`
	Notes                 string       `db:"notes" json:"notes"`
	VerificationDocuments ArtifactList `db:"verification_documents" json:"verificationDocuments"`
	Status                ClaimStatus  `db:"status" json:"status"`
	ReviewNote            *string      `db:"review_note" json:"reviewNote,omitempty"`
	ReviewedBy            *string      `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt            *time.Time   `db:"reviewed_at" json:"reviewedAt,omitempty"`
	CreatedAt             time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time    `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy of the claim.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	out := *c
	out.VerificationDocuments = append(ArtifactList(nil), c.VerificationDocuments...)
	if c.ReviewNote != nil {
		note := *c.ReviewNote
		out.ReviewNote = &note
	}
	if c.ReviewedBy != nil {
		by := *c.ReviewedBy
		out.ReviewedBy = &by
	}
	if c.ReviewedAt != nil {
		at := *c.ReviewedAt
		out.ReviewedAt = &at
	}
	return &out
}

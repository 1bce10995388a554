package dto

// SubmitClaimRequest is the payload for claiming a found item. Verification documents come
// from a settled upload batch of kind claim_documents.
type SubmitClaimRequest struct {
	Notes           string `json:"notes" validate:"required,min=10,max=2000"`
	DocumentBatchID string `json:"documentBatchId" validate:"omitempty,uuid"`
}

// ApproveClaimRequest carries an optional reviewer note.
type ApproveClaimRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// RejectClaimRequest carries the mandatory rejection reason.
type RejectClaimRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// ReviewClaimRequest is the verification surface decision. Status accepts approved,
// verified or rejected.
type ReviewClaimRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=2000"`
}

package dto

import "time"

// CreateUploadBatchRequest opens a new upload batch.
type CreateUploadBatchRequest struct {
	Kind string `json:"kind" validate:"required,oneof=item_images claim_documents"`
}

// SignLinkRequest asks for a time-limited link to a stored artifact.
type SignLinkRequest struct {
	URL string `json:"url" validate:"required"`
}

// SignedLinkResponse is a time-limited artifact download link.
type SignedLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

package dto

import "github.com/noah-isme/lostfound-api/internal/models"

// ReportItemRequest is the payload for reporting a lost or found item. Images come from a
// settled upload batch of kind item_images.
type ReportItemRequest struct {
	Type              models.ItemType   `json:"type" validate:"required,oneof=lost found"`
	Category          string            `json:"category" validate:"required,max=64"`
	Title             string            `json:"title" validate:"required,max=160"`
	Description       string            `json:"description" validate:"max=4000"`
	Location          string            `json:"location" validate:"required,max=255"`
	OccurredOn        string            `json:"occurredOn" validate:"required,datetime=2006-01-02"`
	ImageBatchID      string            `json:"imageBatchId" validate:"omitempty,uuid"`
	AdditionalDetails map[string]string `json:"additionalDetails" validate:"max=20,dive,keys,max=64,endkeys,max=255"`
}

// ItemListQuery mirrors the supported listing filters.
type ItemListQuery struct {
	Type     string   `form:"type"`
	Status   []string `form:"status"`
	Category string   `form:"category"`
	Search   string   `form:"q"`
	Mine     bool     `form:"mine"`
	Limit    int      `form:"limit"`
	Offset   int      `form:"offset"`
}

// BulkExpireRequest asks to expire several found items at once.
type BulkExpireRequest struct {
	ItemIDs []string `json:"itemIds" validate:"required,min=1,max=200,dive,uuid"`
	Confirm bool     `json:"confirm"`
}

// BulkExpireResult reports the outcome for one item of a bulk expiry.
type BulkExpireResult struct {
	ItemID  string `json:"itemId"`
	Expired bool   `json:"expired"`
	Reason  string `json:"reason,omitempty"`
}

// ConfirmRequest carries the caller's answer to a confirmation request.
type ConfirmRequest struct {
	Confirm bool `json:"confirm" form:"confirm"`
}

// ReturnItemRequest records the physical return of a claimed item.
type ReturnItemRequest struct {
	ClaimID string `json:"claimId" validate:"required,uuid"`
	Notes   string `json:"notes" validate:"max=2000"`
}

// HandoverRequest records the transfer of an expired found item to police custody.
type HandoverRequest struct {
	ReportNumber string `json:"reportNumber" validate:"max=64"`
	Confirm      bool   `json:"confirm"`
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
}

package models

import "time"

// NotificationType enumerates the events pushed to the notifier.
type NotificationType string

const (
	NotificationClaimSubmitted NotificationType = "claim_submitted"
	NotificationClaimApproved  NotificationType = "claim_approved"
	NotificationClaimRejected  NotificationType = "claim_rejected"
	NotificationItemReturned   NotificationType = "item_returned"
	NotificationItemHandover   NotificationType = "item_handed_over"
	NotificationItemExpired    NotificationType = "item_expired"
)

// Notification is a fire-and-forget message for a single recipient.
type Notification struct {
	Type      NotificationType `json:"type"`
	Recipient string           `json:"recipient"`
	ItemID    string           `json:"itemId"`
	ClaimID   string           `json:"claimId,omitempty"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"createdAt"`
}

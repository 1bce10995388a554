package models

import "time"

// ItemType distinguishes lost reports from found reports.
type ItemType string

const (
	ItemTypeLost  ItemType = "lost"
	ItemTypeFound ItemType = "found"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemTypeLost || t == ItemTypeFound
}

// ItemStatus captures the item lifecycle.
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusClaimed  ItemStatus = "claimed"
	ItemStatusReturned ItemStatus = "returned"
	ItemStatusExpired  ItemStatus = "expired"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusActive, ItemStatusClaimed, ItemStatusReturned, ItemStatusExpired:
		return true
	}
	return false
}

// Item is a lost or found object report together with the claims submitted against it.
type Item struct {
	ID                 string       `db:"id" json:"id"`
	Type               ItemType     `db:"type" json:"type"`
	Category           string       `db:"category" json:"category"`
	Title              string       `db:"title" json:"title"`
	Description        string       `db:"description" json:"description"`
	Location           string       `db:"location" json:"location"`
	OccurredOn         time.Time    `db:"occurred_on" json:"occurredOn"`
	ReportedBy         string       `db:"reported_by" json:"reportedBy"`
	Images             ArtifactList `db:"images" json:"images"`
	AdditionalDetails  Attributes   `db:"additional_details" json:"additionalDetails,omitempty"`
	Status             ItemStatus   `db:"status" json:"status"`
	HandedOverToPolice bool         `db:"handed_over_to_police" json:"handedOverToPolice"`
	PoliceReportNumber *string      `db:"police_report_number" json:"policeReportNumber,omitempty"`
	HandedOverAt       *time.Time   `db:"handed_over_at" json:"handedOverAt,omitempty"`
	HandoverReceipt    *Artifact    `db:"handover_receipt" json:"handoverReceipt,omitempty"`
	ReturnNotes        *string      `db:"return_notes" json:"returnNotes,omitempty"`
	ReturnedAt         *time.Time   `db:"returned_at" json:"returnedAt,omitempty"`
	ExpiredAt          *time.Time   `db:"expired_at" json:"expiredAt,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updatedAt"`

	Claims []Claim `db:"-" json:"claims,omitempty"`
}

// Clone returns a deep copy of the item including its claims.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	c.Images = append(ArtifactList(nil), i.Images...)
	if i.AdditionalDetails != nil {
		c.AdditionalDetails = make(Attributes, len(i.AdditionalDetails))
		for k, v := range i.AdditionalDetails {
			c.AdditionalDetails[k] = v
		}
	}
	if i.HandoverReceipt != nil {
		receipt := *i.HandoverReceipt
		c.HandoverReceipt = &receipt
	}
	c.Claims = make([]Claim, len(i.Claims))
	for idx := range i.Claims {
		c.Claims[idx] = *i.Claims[idx].Clone()
	}
	return &c
}

// FindClaim returns the claim with id, or nil.
func (i *Item) FindClaim(id string) *Claim {
	for idx := range i.Claims {
		if i.Claims[idx].ID == id {
			return &i.Claims[idx]
		}
	}
	return nil
}

// ItemFilter constrains listing queries.
type ItemFilter struct {
	Type       ItemType
	Status     []ItemStatus
	Category   string
	ReportedBy string
	Search     string
	Limit      int
	Offset     int
}

// ExpiryCandidate is the minimal projection scanned by the expiry sweep.
type ExpiryCandidate struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

// MatchCandidate is one ranked result returned by the match collaborator.
type MatchCandidate struct {
	Item            Item     `json:"item"`
	SimilarityScore int      `json:"similarityScore"`
	Reasons         []string `json:"reasons"`
}

package service

import (
	"fmt"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/pkg/export"
)

type receiptStore interface {
	SaveReceipt(itemID string, pdf []byte) (*models.Artifact, error)
}

// ReceiptService renders the police handover receipt of an item and stores it as an artifact.
type ReceiptService struct {
	exporter *export.PDFExporter
	store    receiptStore
}

// NewReceiptService constructs the service.
func NewReceiptService(exporter *export.PDFExporter, store receiptStore) *ReceiptService {
	if exporter == nil {
		exporter = export.NewPDFExporter()
	}
	return &ReceiptService{exporter: exporter, store: store}
}

// IssueHandoverReceipt renders and stores the receipt of a completed handover.
func (s *ReceiptService) IssueHandoverReceipt(item *models.Item, officer string) (*models.Artifact, error) {
	if !item.HandedOverToPolice || item.PoliceReportNumber == nil || item.HandedOverAt == nil {
		return nil, fmt.Errorf("item %s has not been handed over", item.ID)
	}
	receipt := export.Receipt{
		Title:    "Police Handover Receipt",
		Subtitle: item.Title,
		Fields: []export.Field{
			{Label: "Item ID", Value: item.ID},
			{Label: "Category", Value: item.Category},
			{Label: "Found at", Value: item.Location},
			{Label: "Found on", Value: item.OccurredOn.Format("2006-01-02")},
			{Label: "Description", Value: item.Description},
			{Label: "Police report number", Value: *item.PoliceReportNumber},
			{Label: "Handed over at", Value: item.HandedOverAt.UTC().Format("2006-01-02 15:04 MST")},
			{Label: "Recorded by", Value: officer},
		},
		Footer:   "Unclaimed found item transferred to police custody.",
		IssuedAt: *item.HandedOverAt,
	}
	pdf, err := s.exporter.Render(receipt)
	if err != nil {
		return nil, fmt.Errorf("render handover receipt: %w", err)
	}
	return s.store.SaveReceipt(item.ID, pdf)
}

package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Field is one labelled row of a receipt.
type Field struct {
	Label string
	Value string
}

// Receipt is a single-page document rendered as a two-column table.
type Receipt struct {
	Title    string
	Subtitle string
	Fields   []Field
	Footer   string
	IssuedAt time.Time
}

// PDFExporter renders receipts into a basic PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates the PDF document for r.
func (e *PDFExporter) Render(r Receipt) ([]byte, error) {
	if len(r.Fields) == 0 {
		return nil, fmt.Errorf("pdf requires at least one field")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if r.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(r.Title)), "", 1, "C", false, 0, "")
	}
	if r.Subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(r.Subtitle), "", 1, "C", false, 0, "")
	}
	pdf.Ln(5)

	for _, field := range r.Fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(55, 8, tr(field.Label), "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(125, 8, tr(truncate(field.Value, 90)), "1", 1, "", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 8)
	issued := r.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}
	pdf.CellFormat(0, 5, "Issued "+issued.Format(time.RFC3339), "", 1, "", false, 0, "")
	if r.Footer != "" {
		pdf.MultiCell(0, 5, tr(r.Footer), "", "", false)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}

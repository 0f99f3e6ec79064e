package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/arbiterhq/arbiter/internal/core"
)

// PDFExporter exports sessions to PDF format.
type PDFExporter struct{}

// Export writes the session as PDF.
func (e *PDFExporter) Export(session *core.Session, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 10, "Deliberation: "+e.sanitizeText(session.Proposal), "", "C", false)
	pdf.Ln(5)

	// Metadata section
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Session Information")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	id := session.ID
	if len(id) > 8 {
		id = id[:8] + "..."
	}
	e.addMetadataRow(pdf, "ID:", id)
	e.addMetadataRow(pdf, "Status:", string(session.Status))
	e.addMetadataRow(pdf, "Perspectives:", joinRoles(session.Roles))
	e.addMetadataRow(pdf, "Created:", session.CreatedAt.Format("January 2, 2006 at 3:04 PM"))
	if session.CompletedAt != nil {
		e.addMetadataRow(pdf, "Completed:", session.CompletedAt.Format("January 2, 2006 at 3:04 PM"))
		e.addMetadataRow(pdf, "Duration:", formatDuration(session.CreatedAt, *session.CompletedAt))
	}
	pdf.Ln(5)

	// Decision section
	if session.Decision != nil {
		d := session.Decision
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, "Decision")
		pdf.Ln(8)

		switch d.Action {
		case core.ActionBuy:
			pdf.SetFillColor(200, 255, 200) // Light green
		case core.ActionSell:
			pdf.SetFillColor(255, 200, 200) // Light red
		default:
			pdf.SetFillColor(230, 230, 230) // Grey
		}
		pdf.SetFont("Arial", "B", 10)
		header := fmt.Sprintf("%s  (confidence %.2f, sizing %.4f)", strings.ToUpper(string(d.Action)), d.Confidence, d.Sizing)
		pdf.CellFormat(0, 7, header, "", 1, "", true, 0, "")

		pdf.SetFont("Arial", "", 10)
		pdf.SetFillColor(255, 255, 255)
		pdf.MultiCell(0, 5, e.sanitizeText(d.Rationale), "", "", false)
		pdf.Ln(5)
	}

	// Consensus section
	if session.Assessment != nil {
		a := session.Assessment
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, "Consensus")
		pdf.Ln(8)

		pdf.SetFont("Arial", "", 10)
		e.addMetadataRow(pdf, "Type:", string(a.Type))
		e.addMetadataRow(pdf, "Agreement:", fmt.Sprintf("%.2f", a.AgreementScore))
		for _, p := range a.DissentPoints {
			pdf.SetFont("Arial", "I", 9)
			pdf.MultiCell(0, 5, "- "+e.sanitizeText(p), "", "", false)
		}
		pdf.Ln(5)
	}

	// Debate content
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Debate")
	pdf.Ln(8)

	if len(session.Transcript.Rounds) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.Cell(0, 6, "No rounds recorded.")
		pdf.Ln(6)
	} else {
		for _, round := range session.Transcript.Rounds {
			if pdf.GetY() > 250 {
				pdf.AddPage()
			}
			pdf.SetFont("Arial", "B", 11)
			pdf.Cell(0, 7, fmt.Sprintf("Round %d", round.Index+1))
			pdf.Ln(7)

			for _, r := range round.Results {
				if pdf.GetY() > 250 {
					pdf.AddPage()
				}

				if r.Succeeded {
					pdf.SetFillColor(200, 230, 255) // Light blue
				} else {
					pdf.SetFillColor(255, 200, 200) // Light red
				}
				pdf.SetFont("Arial", "B", 10)
				pdf.CellFormat(0, 7, string(r.Role), "", 1, "", true, 0, "")

				pdf.SetFont("Arial", "", 9)
				pdf.SetFillColor(255, 255, 255)
				content := r.Content
				if !r.Succeeded {
					content = failureNote(r)
				}
				pdf.MultiCell(0, 5, e.sanitizeText(content), "", "", false)
				pdf.Ln(5)
			}
		}
	}

	// Footer
	pdf.SetY(-15)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 10, "Exported from arbiter", "", 0, "C", false, 0, "")

	return pdf.Output(w)
}

// FileExtension returns the file extension for PDF.
func (e *PDFExporter) FileExtension() string {
	return "pdf"
}

// Helper to add a metadata row
func (e *PDFExporter) addMetadataRow(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(35, 5, label)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 5, value)
	pdf.Ln(5)
}

// Sanitize text for PDF (remove problematic characters)
func (e *PDFExporter) sanitizeText(text string) string {
	// gofpdf uses Windows-1252 encoding by default
	replacer := strings.NewReplacer(
		"\u2018", "'", // Left single quote
		"\u2019", "'", // Right single quote
		"\u201C", "\"", // Left double quote
		"\u201D", "\"", // Right double quote
		"\u2013", "-", // En dash
		"\u2014", "--", // Em dash
		"\u2026", "...", // Ellipsis
		"\u2022", "*", // Bullet
		"\u00A0", " ", // Non-breaking space
	)
	return replacer.Replace(text)
}

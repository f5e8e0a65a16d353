// Package render produces printable invoice documents.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/platinummonkey/bms/pkg/billing"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
	colorPaid        = [3]int{46, 204, 113}
	colorOverdue     = [3]int{231, 76, 60}
)

const dateLayout = "January 2, 2006"

// Issuer identifies the business printed on the invoice header
type Issuer struct {
	Name    string
	Address string
	Email   string
}

// PDFRenderer renders invoices as A4 PDF documents
type PDFRenderer struct {
	issuer Issuer
}

var _ billing.DocumentRenderer = (*PDFRenderer)(nil)

// NewPDFRenderer creates a renderer for the given issuer
func NewPDFRenderer(issuer Issuer) *PDFRenderer {
	if issuer.Name == "" {
		issuer.Name = "Billing"
	}
	return &PDFRenderer{issuer: issuer}
}

// ContentType implements billing.DocumentRenderer
func (r *PDFRenderer) ContentType() string {
	return "application/pdf"
}

// RenderInvoice implements billing.DocumentRenderer
func (r *PDFRenderer) RenderInvoice(ctx context.Context, inv *billing.Invoice, customer *billing.Customer) ([]byte, error) {
	if inv == nil {
		return nil, errors.New("invoice is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetTitle("Invoice "+inv.ID, true)
	pdf.SetCreator(r.issuer.Name, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	r.writeHeader(pdf, tr, inv)
	r.writeParties(pdf, tr, inv, customer)
	r.writeLines(pdf, tr, inv)
	r.writeTotals(pdf, inv)
	r.writeFooter(pdf, tr)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) writeHeader(pdf *fpdf.Fpdf, tr func(string) string, inv *billing.Invoice) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(100, 10, "INVOICE", "", 0, "L", false, 0, "")

	label, color := statusStamp(inv.Status)
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(color[0], color[1], color[2])
	pdf.CellFormat(0, 10, label, "", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, tr("Invoice number: "+inv.ID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Invoice date: "+inv.InvoiceDate.Format(dateLayout), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Due date: "+inv.DueDate.Format(dateLayout), "", 1, "L", false, 0, "")
	if inv.PaidAt != nil {
		pdf.CellFormat(0, 6, "Paid on: "+inv.PaidAt.Format(dateLayout), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)
}

func (r *PDFRenderer) writeParties(pdf *fpdf.Fpdf, tr func(string) string, inv *billing.Invoice, customer *billing.Customer) {
	top := pdf.GetY()

	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(85, 6, "FROM", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for _, line := range []string{r.issuer.Name, r.issuer.Address, r.issuer.Email} {
		if line != "" {
			pdf.CellFormat(85, 6, tr(line), "", 1, "L", false, 0, "")
		}
	}
	bottom := pdf.GetY()

	pdf.SetXY(110, top)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, "BILL TO", "", 2, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	lines := []string{inv.CustomerID}
	if customer != nil {
		lines = []string{customer.Name, customer.CompanyName, customer.ContactPerson, customer.Email}
	}
	for _, line := range lines {
		if line != "" {
			pdf.CellFormat(0, 6, tr(line), "", 2, "L", false, 0, "")
		}
	}
	if pdf.GetY() > bottom {
		bottom = pdf.GetY()
	}
	pdf.SetXY(20, bottom+8)
}

func (r *PDFRenderer) writeLines(pdf *fpdf.Fpdf, tr func(string) string, inv *billing.Invoice) {
	widths := []float64{110, 60}
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(widths[0], 8, "Description", "", 0, "L", true, 0, "")
	pdf.CellFormat(widths[1], 8, "Amount ("+inv.Currency+")", "", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
	pdf.CellFormat(widths[0], 8, tr(lineDescription(inv)), "", 0, "L", true, 0, "")
	pdf.CellFormat(widths[1], 8, inv.Amount.StringFixed(2), "", 1, "R", true, 0, "")
	pdf.Ln(4)
}

func (r *PDFRenderer) writeTotals(pdf *fpdf.Fpdf, inv *billing.Invoice) {
	rows := [][2]string{
		{"Subtotal", inv.Amount.StringFixed(2)},
		{"Tax", inv.TaxAmount.StringFixed(2)},
	}
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for _, row := range rows {
		pdf.CellFormat(110, 7, "", "", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, row[1], "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(110, 9, "", "", 0, "L", false, 0, "")
	pdf.CellFormat(30, 9, "Total", "T", 0, "L", false, 0, "")
	pdf.CellFormat(30, 9, inv.TotalAmount.StringFixed(2)+" "+inv.Currency, "T", 1, "R", false, 0, "")
}

func (r *PDFRenderer) writeFooter(pdf *fpdf.Fpdf, tr func(string) string) {
	pageWidth, pageHeight := pdf.GetPageSize()
	pdf.SetY(pageHeight - 30)
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, tr("Thank you for your business. "+r.issuer.Name), "", 1, "C", false, 0, "")

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
}

func lineDescription(inv *billing.Invoice) string {
	desc := inv.Description
	if desc == "" {
		desc = inv.PlanName
	}
	if desc == "" {
		desc = "Charge"
	}
	if inv.PeriodStart != nil && inv.PeriodEnd != nil {
		desc += fmt.Sprintf(" (%s - %s)", inv.PeriodStart.Format("Jan 2, 2006"), inv.PeriodEnd.Format("Jan 2, 2006"))
	}
	return desc
}

func statusStamp(status billing.InvoiceStatus) (string, [3]int) {
	switch status {
	case billing.InvoiceStatusPaid:
		return "PAID", colorPaid
	case billing.InvoiceStatusOverdue:
		return "OVERDUE", colorOverdue
	case billing.InvoiceStatusCancelled:
		return "CANCELLED", colorTextMuted
	case billing.InvoiceStatusDraft:
		return "DRAFT", colorTextMuted
	default:
		return "", colorTextDark
	}
}

package infra

// pdf.go: thermal ticket rendering using go-pdf/fpdf.
// The ticket carries the sale lines, totals, tender breakdown and, when the
// sale was fiscalized, the invoice number plus the Verifactu QR payload.

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// TicketLine is one printed line of a ticket.
type TicketLine struct {
	Name         string
	Quantity     int
	UnitPrice    decimal.Decimal
	LineDiscount decimal.Decimal
	LineTotal    decimal.Decimal
}

// Ticket is everything printed on a receipt, already formatted by the caller.
type Ticket struct {
	StoreName    string
	Number       string
	IssuedAt     time.Time
	Lines        []TicketLine
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Tender       string
	CashReceived decimal.Decimal
	Change       decimal.Decimal
	CardAmount   decimal.Decimal
	AltAmount    decimal.Decimal
	Voided       bool

	// Verifactu block, empty when the sale has no fiscal record
	InvoiceNumber string
	QRPayload     string
	HashSuffix    string
}

// RenderTicketPDF lays out t on 80mm paper and returns the PDF bytes.
func RenderTicketPDF(t Ticket) ([]byte, error) {
	height := 120.0 + float64(len(t.Lines))*5
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 80, Ht: height},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.SetAutoPageBreak(false, 4)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentW, 7, tr(t.StoreName), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	title := "Factura simplificada"
	if t.Voided {
		title = "VENTA ANULADA"
	}
	pdf.CellFormat(contentW, 5, tr(title), "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 8)
	pdf.CellFormat(contentW, 5, tr("Ticket "+t.Number), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW, 4, t.IssuedAt.Format("02/01/2006  15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(1)
	separator(pdf, pageW)

	col1 := contentW * 0.52
	col2 := contentW * 0.16
	col3 := contentW * 0.32

	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(col1, 5, tr("Artículo"), "B", 0, "L", false, 0, "")
	pdf.CellFormat(col2, 5, "Cant", "B", 0, "C", false, 0, "")
	pdf.CellFormat(col3, 5, "Importe", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	for _, line := range t.Lines {
		name := []rune(line.Name)
		if len(name) > 24 {
			name = append(name[:23], '.')
		}
		pdf.CellFormat(col1, 5, tr(string(name)), "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, 5, fmt.Sprintf("x%d", line.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(col3, 5, euros(line.LineTotal), "", 1, "R", false, 0, "")
	}
	separator(pdf, pageW)

	pdf.SetFont("Helvetica", "", 7)
	if !t.Discount.IsZero() {
		pdf.CellFormat(col1+col2, 5, "Subtotal:", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 5, euros(t.Subtotal), "", 1, "R", false, 0, "")
		pdf.CellFormat(col1+col2, 5, "Descuento:", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 5, "-"+euros(t.Discount), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(col1+col2, 6, "TOTAL:", "", 0, "L", false, 0, "")
	pdf.CellFormat(col3, 6, euros(t.Total), "", 1, "R", false, 0, "")

	pdf.Ln(1)
	pdf.SetFont("Helvetica", "", 7)
	tenderRow := func(label string, amount decimal.Decimal) {
		if amount.IsZero() {
			return
		}
		pdf.CellFormat(col1+col2, 4, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 4, euros(amount), "", 1, "R", false, 0, "")
	}
	tenderRow("Efectivo entregado:", t.CashReceived)
	tenderRow("Cambio:", t.Change)
	tenderRow("Tarjeta:", t.CardAmount)
	tenderRow("Otros medios:", t.AltAmount)

	if t.InvoiceNumber != "" {
		pdf.Ln(2)
		separator(pdf, pageW)
		pdf.SetFont("Helvetica", "B", 7)
		pdf.CellFormat(contentW, 4, tr("Factura "+t.InvoiceNumber), "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "", 6)
		pdf.CellFormat(contentW, 4, "VERI*FACTU", "", 1, "C", false, 0, "")
		if t.HashSuffix != "" {
			pdf.CellFormat(contentW, 3, "Huella: "+t.HashSuffix, "", 1, "C", false, 0, "")
		}
		pdf.MultiCell(contentW, 3, t.QRPayload, "", "C", false)
	}

	pdf.Ln(3)
	pdf.SetFont("Helvetica", "I", 7)
	pdf.CellFormat(contentW, 4, tr("¡Gracias por su compra!"), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: render ticket %s: %w", t.Number, err)
	}
	return buf.Bytes(), nil
}

// SaveTicketPDF renders t into storagePath/ticket_<number>.pdf and returns the path.
func SaveTicketPDF(t Ticket, storagePath string) (string, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}
	data, err := RenderTicketPDF(t)
	if err != nil {
		return "", err
	}
	path := filepath.Join(storagePath, "ticket_"+t.Number+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return path, nil
}

func separator(pdf *fpdf.Fpdf, pageW float64) {
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)
}

func euros(d decimal.Decimal) string {
	return d.StringFixed(2) + " EUR"
}

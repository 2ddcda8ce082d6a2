package infra

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTicket() Ticket {
	return Ticket{
		StoreName: "Eva Tienda",
		Number:    "V-20260314-0001",
		IssuedAt:  time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Lines: []TicketLine{
			{Name: "Café molido de tueste natural 250g", Quantity: 2, UnitPrice: decimal.RequireFromString("4.50"), LineTotal: decimal.RequireFromString("9.00")},
			{Name: "Té verde", Quantity: 1, UnitPrice: decimal.RequireFromString("3.20"), LineTotal: decimal.RequireFromString("3.20")},
		},
		Subtotal:      decimal.RequireFromString("12.20"),
		Discount:      decimal.RequireFromString("0.20"),
		Total:         decimal.RequireFromString("12.00"),
		Tender:        "cash",
		CashReceived:  decimal.RequireFromString("20.00"),
		Change:        decimal.RequireFromString("8.00"),
		InvoiceNumber: "INV-0001",
		QRPayload:     "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR?nif=B12345678&numserie=INV-0001&fecha=14-03-2026&importe=12.00&huella=1A2B3C4D",
		HashSuffix:    "1A2B3C4D",
	}
}

func TestRenderTicketPDF(t *testing.T) {
	data, err := RenderTicketPDF(sampleTicket())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestRenderTicketPDF_WithoutFiscalBlock(t *testing.T) {
	tk := sampleTicket()
	tk.InvoiceNumber, tk.QRPayload, tk.HashSuffix = "", "", ""
	tk.Voided = true
	data, err := RenderTicketPDF(tk)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestSaveTicketPDF(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tickets")
	path, err := SaveTicketPDF(sampleTicket(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ticket_V-20260314-0001.pdf"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

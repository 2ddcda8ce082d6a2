// Package verifactu holds the pure, versioned pieces of the fiscal chain:
// canonicalization of invoice fields, chained SHA-256 and the QR payload.
// Nothing here touches the database or the network.
package verifactu

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HashVersion identifies the canonicalization rules implemented by Canonicalize.
// Records store it so that a future rule change never invalidates old hashes.
const HashVersion = "v1"

// HashSuffixLen is how many trailing hash characters the QR payload carries.
const HashSuffixLen = 8

const (
	dateLayout      = "02-01-2006"
	timestampLayout = "2006-01-02T15:04:05Z"
)

// Invoice type codes as understood by AEAT.
const (
	TypeSimplified              = "F2" // ticket without identified recipient
	TypeInvoice                 = "F1"
	TypeRectificationSimplified = "R5"
	TypeRectification           = "R1"
)

// Fields are the invoice values that enter the hash.
type Fields struct {
	IssuerTaxID   string
	InvoiceNumber string
	InvoiceDate   time.Time
	TypeCode      string
	Base          decimal.Decimal
	TaxRate       decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	GeneratedAt   time.Time
}

// TypeCode picks the AEAT invoice type for a record.
func TypeCode(rectification, hasRecipient bool) string {
	switch {
	case rectification && hasRecipient:
		return TypeRectification
	case rectification:
		return TypeRectificationSimplified
	case hasRecipient:
		return TypeInvoice
	default:
		return TypeSimplified
	}
}

// Amount renders money the way it enters the hash: two decimals, dot separator.
func Amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatDate renders an invoice date as DD-MM-YYYY.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// Canonicalize builds the exact string that is hashed. Field order is fixed;
// values are used verbatim, joined as key=value pairs separated by '&'.
func Canonicalize(f Fields) string {
	pairs := [][2]string{
		{"IDEmisorFactura", f.IssuerTaxID},
		{"NumSerieFactura", f.InvoiceNumber},
		{"FechaExpedicionFactura", FormatDate(f.InvoiceDate)},
		{"TipoFactura", f.TypeCode},
		{"BaseImponible", Amount(f.Base)},
		{"TipoImpositivo", Amount(f.TaxRate)},
		{"CuotaTotal", Amount(f.Tax)},
		{"ImporteTotal", Amount(f.Total)},
		{"FechaHoraHusoGenRegistro", f.GeneratedAt.UTC().Format(timestampLayout)},
	}
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

// ChainHash returns the uppercase hex SHA-256 of previousHash followed by hashInput.
func ChainHash(previousHash, hashInput string) string {
	sum := sha256.Sum256([]byte(previousHash + hashInput))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Verify recomputes the hash of a stored link.
func Verify(previousHash, hashInput, currentHash string) bool {
	return ChainHash(previousHash, hashInput) == currentHash
}

// QRPayload builds the verification URL printed on the ticket.
func QRPayload(baseURL string, f Fields, currentHash string) string {
	suffix := currentHash
	if len(suffix) > HashSuffixLen {
		suffix = suffix[len(suffix)-HashSuffixLen:]
	}
	// url.Values.Encode sorts keys; the payload order is fixed instead.
	params := [][2]string{
		{"nif", f.IssuerTaxID},
		{"numserie", f.InvoiceNumber},
		{"fecha", FormatDate(f.InvoiceDate)},
		{"importe", Amount(f.Total)},
		{"huella", suffix},
	}
	var b strings.Builder
	b.WriteString(baseURL)
	b.WriteByte('?')
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}

var hundred = decimal.NewFromInt(100)

// SplitTaxInclusive derives base and tax from a tax-inclusive total.
// ratePct is a percentage (21 means 21%). Base is rounded half-up to cents and
// tax absorbs the rounding so that base + tax == total always holds.
func SplitTaxInclusive(total, ratePct decimal.Decimal) (base, tax decimal.Decimal) {
	divisor := decimal.NewFromInt(1).Add(ratePct.Div(hundred))
	base = total.DivRound(divisor, 2)
	tax = total.Sub(base)
	return base, tax
}

package extraction

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultCurrency is used when the model does not report a currency
const DefaultCurrency = "EUR"

// Confidence bands used when presenting a record
const (
	ConfidenceHigh   = 0.8
	ConfidenceReview = 0.5
)

// Page is one rendered page of a document, ready for vision input
type Page struct {
	Data      []byte
	MediaType string
}

// LineItem is a single invoice line
type LineItem struct {
	Description   string   `json:"description"`
	Quantity      *float64 `json:"quantity"`
	UnitPrice     *float64 `json:"unit_price"`
	Total         *float64 `json:"total"`
	VATPercentage *float64 `json:"vat_percentage"`
}

// Record contains the structured data extracted from an invoice or receipt.
// TotalAmount is the gross amount and includes VATAmount.
type Record struct {
	VendorName    *string    `json:"vendor_name"`
	InvoiceNumber *string    `json:"invoice_number"`
	InvoiceDate   *string    `json:"invoice_date"` // YYYY-MM-DD, not validated
	DueDate       *string    `json:"due_date"`     // YYYY-MM-DD, not validated
	TotalAmount   *float64   `json:"total_amount"`
	VATAmount     *float64   `json:"vat_amount"`
	VATPercentage *float64   `json:"vat_percentage"`
	Currency      string     `json:"currency"`
	IBAN          *string    `json:"iban"`
	LineItems     []LineItem `json:"line_items"`
	Confidence    float64    `json:"confidence"`
}

// EmptyRecord returns a record with every field at its default
func EmptyRecord() *Record {
	return &Record{
		Currency:  DefaultCurrency,
		LineItems: []LineItem{},
	}
}

// ConfidenceBand classifies the record confidence as "high", "review" or "low"
func (r *Record) ConfidenceBand() string {
	switch {
	case r.Confidence >= ConfidenceHigh:
		return "high"
	case r.Confidence >= ConfidenceReview:
		return "review"
	default:
		return "low"
	}
}

// ContentHash returns the hex SHA-256 digest of data. It is a cache key, not a credential.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

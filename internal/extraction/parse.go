package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docstream/docstream/internal/metrics"
)

// diagnosticChars is how much of an unparseable response is logged
const diagnosticChars = 500

const codeFence = "```"

// lineItemSchema decides whether a line_items element is usable
var lineItemSchema = jsonschema.MustCompileString("line_item.json", `{
	"type": "object",
	"required": ["description"],
	"properties": {
		"description": {"type": "string"}
	}
}`)

// Parse converts a raw model response into a Record. It never fails: a response that is
// not a JSON object yields a record with default fields and zero confidence.
func Parse(raw string) *Record {
	rec, _ := parse(raw)
	return rec
}

// parse is Parse that also reports whether raw was a readable JSON object
func parse(raw string) (*Record, bool) {
	text := stripCodeFence(strings.TrimSpace(raw))

	obj, err := decodeObject(text)
	if err != nil {
		metrics.MalformedResponses.Add(1)
		slog.Warn("Failed to parse extraction response",
			"error", err,
			"response", truncate(text, diagnosticChars),
		)
		return EmptyRecord(), false
	}

	return recordFromObject(obj), true
}

// stripCodeFence removes a markdown fence around the response. The opening fence line may
// carry a language tag; a missing closing fence keeps everything up to the end.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, codeFence) {
		return text
	}

	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return ""
	}
	body := text[nl+1:]
	if end := strings.LastIndex(body, codeFence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// decodeObject strictly decodes a single JSON object, keeping numbers as json.Number
func decodeObject(text string) (map[string]any, error) {
	if text == "" {
		return nil, errors.New("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after json value")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected json object, got %T", v)
	}
	return obj, nil
}

// recordFromObject maps every field explicitly; a missing or mistyped key takes its default
func recordFromObject(obj map[string]any) *Record {
	rec := EmptyRecord()

	rec.VendorName = stringField(obj, "vendor_name")
	rec.InvoiceNumber = stringField(obj, "invoice_number")
	rec.InvoiceDate = stringField(obj, "invoice_date")
	rec.DueDate = stringField(obj, "due_date")
	rec.TotalAmount = decimalField(obj, "total_amount")
	rec.VATAmount = decimalField(obj, "vat_amount")
	rec.VATPercentage = decimalField(obj, "vat_percentage")
	rec.IBAN = stringField(obj, "iban")

	if currency := stringField(obj, "currency"); currency != nil && strings.TrimSpace(*currency) != "" {
		rec.Currency = *currency
	}

	if confidence := decimalField(obj, "confidence"); confidence != nil {
		rec.Confidence = clamp01(*confidence)
	}

	if items, ok := obj["line_items"].([]any); ok {
		for i, item := range items {
			if err := lineItemSchema.Validate(item); err != nil {
				slog.Debug("Skipping malformed line item", "index", i, "error", err)
				continue
			}
			rec.LineItems = append(rec.LineItems, lineItemFromObject(item.(map[string]any)))
		}
	}

	return rec
}

func lineItemFromObject(obj map[string]any) LineItem {
	item := LineItem{
		Quantity:      decimalField(obj, "quantity"),
		UnitPrice:     decimalField(obj, "unit_price"),
		Total:         decimalField(obj, "total"),
		VATPercentage: decimalField(obj, "vat_percentage"),
	}
	if desc := stringField(obj, "description"); desc != nil {
		item.Description = *desc
	}
	return item
}

// stringField returns the value of key as a string. Numbers keep their literal form.
func stringField(obj map[string]any, key string) *string {
	switch v := obj[key].(type) {
	case string:
		return &v
	case json.Number:
		s := v.String()
		return &s
	default:
		return nil
	}
}

// decimalField returns the value of key as a number. Numeric strings are accepted.
func decimalField(obj map[string]any, key string) *float64 {
	var (
		f   float64
		err error
	)
	switch v := obj[key].(type) {
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package document

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/docstream/docstream/internal/extraction"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

const exportSheet = "Facturen"

// exportHeaders are Dutch column names; the CSV is meant to open directly in Dutch Excel
var exportHeaders = []string{
	"Leverancier", "Factuurnummer", "Factuurdatum", "Vervaldatum",
	"Totaal (incl. BTW)", "BTW bedrag", "BTW %", "Valuta", "IBAN",
	"Regelomschrijving", "Aantal", "Stukprijs", "Regeltotaal",
}

// ParseFormat validates a format name. An empty name selects CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the media type of an exported file
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Export writes records to w in format
func Export(w io.Writer, format Format, records []*extraction.Record) error {
	switch format {
	case FormatJSON:
		return ExportJSON(w, records)
	case FormatXLSX:
		return ExportXLSX(w, records)
	default:
		return ExportCSV(w, records)
	}
}

// exportRows flattens records into one row per line item. A record without line items
// still gets one row with the item columns empty.
func exportRows(records []*extraction.Record) [][]any {
	var rows [][]any
	for _, r := range records {
		if r == nil {
			continue
		}
		items := r.LineItems
		if len(items) == 0 {
			items = []extraction.LineItem{{}}
		}
		for _, item := range items {
			rows = append(rows, []any{
				str(r.VendorName), str(r.InvoiceNumber), str(r.InvoiceDate), str(r.DueDate),
				num(r.TotalAmount), num(r.VATAmount), num(r.VATPercentage), r.Currency, str(r.IBAN),
				item.Description, num(item.Quantity), num(item.UnitPrice), num(item.Total),
			})
		}
	}
	return rows
}

// ExportCSV writes a semicolon separated file
func ExportCSV(w io.Writer, records []*extraction.Record) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(exportHeaders); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range exportRows(records) {
		fields := make([]string, len(row))
		for i, v := range row {
			fields[i] = cellText(v)
		}
		if err := cw.Write(fields); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportJSON writes the records as an indented JSON array
func ExportJSON(w io.Writer, records []*extraction.Record) error {
	if records == nil {
		records = []*extraction.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// ExportXLSX writes a workbook with one sheet; amounts are numeric cells
func ExportXLSX(w io.Writer, records []*extraction.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}

	for r, row := range exportRows(records) {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if v == nil {
				continue
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return fmt.Errorf("writing cell %s: %w", cell, err)
			}
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 28) // vendor
	_ = f.SetColWidth(exportSheet, "B", "D", 14)
	_ = f.SetColWidth(exportSheet, "I", "J", 30) // iban, description

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	return nil
}

// str returns nil for a missing value so XLSX leaves the cell empty
func str(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func num(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

package document

import (
	"bytes"
	"encoding/csv"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/docstream/docstream/internal/extraction"
)

var _ = Describe("Export", func() {
	var records []*extraction.Record

	BeforeEach(func() {
		records = []*extraction.Record{
			extraction.Parse(`{"vendor_name":"Acme BV","invoice_number":"F-2025-001","invoice_date":"2025-03-01",` +
				`"total_amount":121.5,"vat_amount":21.09,"vat_percentage":21,"iban":"NL91ABNA0417164300",` +
				`"line_items":[{"description":"Widget","quantity":2,"unit_price":50,"total":100},` +
				`{"description":"Verzending","quantity":1,"unit_price":0.41,"total":0.41}],"confidence":0.95}`),
			extraction.Parse(`{"vendor_name":"Bakker; Zonen","total_amount":7.5,"confidence":0.6}`),
		}
	})

	Describe("ParseFormat", func() {
		DescribeTable("accepts known formats",
			func(in string, want Format) {
				f, err := ParseFormat(in)
				Expect(err).NotTo(HaveOccurred())
				Expect(f).To(Equal(want))
			},
			Entry("empty defaults to csv", "", FormatCSV),
			Entry("csv", "csv", FormatCSV),
			Entry("upper case json", "JSON", FormatJSON),
			Entry("xlsx", "xlsx", FormatXLSX),
		)

		It("should reject unknown formats", func() {
			_, err := ParseFormat("pdf")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ExportCSV", func() {
		var rows [][]string

		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(ExportCSV(&buf, records)).To(Succeed())
			r := csv.NewReader(&buf)
			r.Comma = ';'
			var err error
			rows, err = r.ReadAll()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should start with the Dutch header", func() {
			Expect(rows[0]).To(Equal(exportHeaders))
		})

		It("should write one row per line item", func() {
			Expect(rows).To(HaveLen(4))
			Expect(rows[1][0]).To(Equal("Acme BV"))
			Expect(rows[1][9]).To(Equal("Widget"))
			Expect(rows[2][9]).To(Equal("Verzending"))
			Expect(rows[2][11]).To(Equal("0.41"))
		})

		It("should write a record without items as one row", func() {
			Expect(rows[3][0]).To(Equal("Bakker; Zonen"))
			Expect(rows[3][4]).To(Equal("7.5"))
			Expect(rows[3][7]).To(Equal("EUR"))
			Expect(rows[3][9]).To(BeEmpty())
		})

		It("should write only the header for no records", func() {
			var buf bytes.Buffer
			Expect(ExportCSV(&buf, nil)).To(Succeed())
			Expect(buf.String()).To(HavePrefix("Leverancier;Factuurnummer;"))
			Expect(bytes.Count(buf.Bytes(), []byte("\n"))).To(Equal(1))
		})
	})

	Describe("ExportJSON", func() {
		It("should write the records as an array", func() {
			var buf bytes.Buffer
			Expect(ExportJSON(&buf, records)).To(Succeed())

			var decoded []extraction.Record
			Expect(json.Unmarshal(buf.Bytes(), &decoded)).To(Succeed())
			Expect(decoded).To(HaveLen(2))
			Expect(*decoded[0].InvoiceNumber).To(Equal("F-2025-001"))
			Expect(decoded[0].LineItems).To(HaveLen(2))
		})

		It("should write an empty array for no records", func() {
			var buf bytes.Buffer
			Expect(ExportJSON(&buf, nil)).To(Succeed())
			Expect(buf.String()).To(Equal("[]\n"))
		})
	})

	Describe("ExportXLSX", func() {
		It("should write a workbook with numeric amounts", func() {
			var buf bytes.Buffer
			Expect(ExportXLSX(&buf, records)).To(Succeed())

			f, err := excelize.OpenReader(&buf)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()

			Expect(f.GetSheetList()).To(Equal([]string{exportSheet}))

			header, err := f.GetCellValue(exportSheet, "A1")
			Expect(err).NotTo(HaveOccurred())
			Expect(header).To(Equal("Leverancier"))

			vendor, err := f.GetCellValue(exportSheet, "A2")
			Expect(err).NotTo(HaveOccurred())
			Expect(vendor).To(Equal("Acme BV"))

			total, err := f.GetCellValue(exportSheet, "E2")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal("121.5"))

			rows, err := f.GetRows(exportSheet)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(4))
		})
	})

	Describe("Export", func() {
		It("should dispatch on format", func() {
			var buf bytes.Buffer
			Expect(Export(&buf, FormatJSON, records)).To(Succeed())
			Expect(buf.String()).To(HavePrefix("["))
		})
	})
})

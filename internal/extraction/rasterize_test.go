package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// buildPDF writes a minimal PDF with n blank pages
func buildPDF(n int) []byte {
	var objects []string
	kids := make([]string, n)
	for i := 0; i < n; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i := 0; i < n; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func buildPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Rasterize", func() {
	var (
		data      []byte
		mediaType string
		maxPages  int
		pages     []Page
		err       error
	)

	BeforeEach(func() {
		maxPages = DefaultMaxPages
	})

	JustBeforeEach(func() {
		pages, err = Rasterize(context.Background(), data, mediaType, maxPages)
	})

	When("the document is a raster image", func() {
		BeforeEach(func() {
			data = []byte("not decoded")
			mediaType = "image/JPG"
		})

		It("should pass the bytes through as one page", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
			Expect(pages[0].Data).To(Equal(data))
			Expect(pages[0].MediaType).To(Equal(MediaTypeJPEG))
		})
	})

	When("the document is a PNG with parameters in its content type", func() {
		BeforeEach(func() {
			data = buildPNG()
			mediaType = "image/png; charset=binary"
		})

		It("should normalize the media type", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages[0].MediaType).To(Equal(MediaTypePNG))
		})
	})

	When("the document is a short PDF", func() {
		BeforeEach(func() {
			data = buildPDF(2)
			mediaType = MediaTypePDF
		})

		It("should render every page as PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(2))
			for _, p := range pages {
				Expect(p.MediaType).To(Equal(MediaTypePNG))
				_, decodeErr := png.Decode(bytes.NewReader(p.Data))
				Expect(decodeErr).NotTo(HaveOccurred())
			}
		})
	})

	When("the PDF has more pages than the limit", func() {
		BeforeEach(func() {
			data = buildPDF(7)
			mediaType = MediaTypePDF
		})

		It("should render only the first pages", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(DefaultMaxPages))
		})

		When("a lower limit is given", func() {
			BeforeEach(func() {
				maxPages = 2
			})

			It("should honour it", func() {
				Expect(pages).To(HaveLen(2))
			})
		})
	})

	When("the PDF is corrupt", func() {
		BeforeEach(func() {
			data = []byte("%PDF-1.4 garbage")
			mediaType = MediaTypePDF
		})

		It("should report an unreadable document", func() {
			Expect(err).To(MatchError(ErrDocumentUnreadable))
			Expect(pages).To(BeNil())
		})
	})

	When("the HEIC data is corrupt", func() {
		BeforeEach(func() {
			data = []byte("not a photo")
			mediaType = MediaTypeHEIC
		})

		It("should report an unreadable document", func() {
			Expect(err).To(MatchError(ErrDocumentUnreadable))
		})
	})

	When("the media type is unsupported", func() {
		BeforeEach(func() {
			data = []byte("hello")
			mediaType = "text/plain"
		})

		It("should report an unreadable document", func() {
			Expect(err).To(MatchError(ErrDocumentUnreadable))
		})
	})
})

var _ = Describe("Media types", func() {
	DescribeTable("NormalizeMediaType",
		func(in, out string) {
			Expect(NormalizeMediaType(in)).To(Equal(out))
		},
		Entry("parameters", "Image/PNG; charset=binary", MediaTypePNG),
		Entry("jpg alias", "image/jpg", MediaTypeJPEG),
		Entry("plain", "application/pdf", MediaTypePDF),
	)

	DescribeTable("MediaTypeFromFilename",
		func(in, out string) {
			Expect(MediaTypeFromFilename(in)).To(Equal(out))
		},
		Entry("pdf", "Factuur.PDF", MediaTypePDF),
		Entry("jpeg", "bon.jpeg", MediaTypeJPEG),
		Entry("heic photo", "IMG_0001.HEIC", MediaTypeHEIC),
		Entry("webp", "scan.webp", MediaTypeWebP),
		Entry("unknown", "notes", "application/octet-stream"),
	)
})

package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// Media types understood by the rasterizer
const (
	MediaTypePDF  = "application/pdf"
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypeWebP = "image/webp"
	MediaTypeHEIC = "image/heic"
	MediaTypeHEIF = "image/heif"
)

// DefaultMaxPages caps how many PDF pages are sent to the model
const DefaultMaxPages = 5

// RenderDPI renders PDF pages at 2x their native 72 DPI
const RenderDPI = 144.0

// UploadMediaTypes is the set of media types accepted from uploads
var UploadMediaTypes = map[string]bool{
	MediaTypePDF:  true,
	MediaTypePNG:  true,
	MediaTypeJPEG: true,
	MediaTypeWebP: true,
}

// Rasterizer turns a document into page images
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, mediaType string, maxPages int) ([]Page, error)
}

// DocumentRasterizer renders PDFs with MuPDF and passes raster images through untouched
type DocumentRasterizer struct{}

// Rasterize implements Rasterizer
func (DocumentRasterizer) Rasterize(ctx context.Context, data []byte, mediaType string, maxPages int) ([]Page, error) {
	return Rasterize(ctx, data, mediaType, maxPages)
}

// NormalizeMediaType lowercases a media type and strips any parameters
func NormalizeMediaType(contentType string) string {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt == "image/jpg" {
		mt = MediaTypeJPEG
	}
	return mt
}

// MediaTypeFromFilename guesses the media type of a document from its extension.
// It returns "application/octet-stream" when the extension is unknown.
func MediaTypeFromFilename(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".pdf":
		return MediaTypePDF
	case ".png":
		return MediaTypePNG
	case ".jpg", ".jpeg":
		return MediaTypeJPEG
	case ".webp":
		return MediaTypeWebP
	case ".heic":
		return MediaTypeHEIC
	case ".heif":
		return MediaTypeHEIF
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return NormalizeMediaType(t)
		}
		return "application/octet-stream"
	}
}

// Rasterize converts a document into an ordered list of pages.
// Raster images the model accepts are returned as a single page with the original bytes.
// PDFs are rendered to PNG, at most maxPages pages; the rest are dropped.
// HEIC/HEIF photos are converted to a single PNG page since vision models cannot read them.
func Rasterize(ctx context.Context, data []byte, mediaType string, maxPages int) ([]Page, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	switch mt := NormalizeMediaType(mediaType); mt {
	case MediaTypePNG, MediaTypeJPEG, MediaTypeWebP:
		return []Page{{Data: data, MediaType: mt}}, nil
	case MediaTypePDF:
		return renderPDF(ctx, data, maxPages)
	case MediaTypeHEIC, MediaTypeHEIF:
		page, err := heicToPNG(data)
		if err != nil {
			return nil, err
		}
		return []Page{page}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrDocumentUnreadable, mediaType)
	}
}

// renderPDF renders the first maxPages pages. Any page failure discards the whole document.
func renderPDF(ctx context.Context, data []byte, maxPages int) ([]Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF: %v", ErrDocumentUnreadable, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return nil, fmt.Errorf("%w: PDF has no pages", ErrDocumentUnreadable)
	}
	if n > maxPages {
		n = maxPages
	}

	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImagePNG(i, RenderDPI)
		if err != nil {
			return nil, fmt.Errorf("%w: rendering PDF page %d: %v", ErrDocumentUnreadable, i+1, err)
		}
		pages = append(pages, Page{Data: img, MediaType: MediaTypePNG})
	}

	return pages, nil
}

// heicToPNG decodes a HEIC/HEIF photo and re-encodes it as PNG
func heicToPNG(data []byte) (Page, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return Page{}, fmt.Errorf("%w: decoding HEIC/HEIF image: %v", ErrDocumentUnreadable, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Page{}, fmt.Errorf("encoding PNG: %w", err)
	}

	return Page{Data: buf.Bytes(), MediaType: MediaTypePNG}, nil
}

package document

import (
	"errors"
	"time"

	"github.com/docstream/docstream/internal/extraction"
)

// Status is the processing state of a Document
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound is returned when a document does not exist or belongs to another user
	ErrNotFound = errors.New("document not found")

	// ErrQuotaExceeded is returned when the user's monthly extraction limit is reached
	ErrQuotaExceeded = errors.New("monthly extraction limit reached")

	// ErrUnsupportedMediaType is returned for uploads outside the accepted types
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrStorageUnavailable is returned when the blob or the document row cannot be written
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrExtractionFailed wraps any rasterizer or model failure
	ErrExtractionFailed = errors.New("extraction failed")
)

// Document is one uploaded file and the result of extracting it
type Document struct {
	ID            string             `json:"id"`
	OwnerID       string             `json:"owner_id"`
	Filename      string             `json:"filename"`
	StoragePath   string             `json:"storage_path"`
	Size          int64              `json:"size"`
	MediaType     string             `json:"media_type"`
	ContentHash   string             `json:"content_hash"`
	Status        Status             `json:"status"`
	Extraction    *extraction.Record `json:"extraction,omitempty"`
	RawResponse   string             `json:"raw_response,omitempty"`
	PromptVersion string             `json:"prompt_version,omitempty"`
	Cached        bool               `json:"cached"`
	Error         string             `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Response is the client view of a Document
type Response struct {
	ID             string             `json:"id"`
	Filename       string             `json:"filename"`
	Status         Status             `json:"status"`
	Extraction     *extraction.Record `json:"extraction"`
	ConfidenceBand string             `json:"confidence_band,omitempty"`
	Cached         bool               `json:"cached"`
	Error          string             `json:"error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Response converts the document to its client view
func (d *Document) Response() Response {
	resp := Response{
		ID:         d.ID,
		Filename:   d.Filename,
		Status:     d.Status,
		Extraction: d.Extraction,
		Cached:     d.Cached,
		Error:      d.Error,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if d.Extraction != nil {
		resp.ConfidenceBand = d.Extraction.ConfidenceBand()
	}
	return resp
}

// HistoryEntry is a successful extraction remembered for a user, one per content hash
type HistoryEntry struct {
	Hash           string             `json:"hash"`
	Filename       string             `json:"filename"`
	DocumentID     string             `json:"document_id,omitempty"`
	Record         *extraction.Record `json:"extraction"`
	ConfidenceBand string             `json:"confidence_band"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

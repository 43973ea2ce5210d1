package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/docstream/docstream/internal/extraction"
	"github.com/docstream/docstream/internal/metrics"
	"github.com/docstream/docstream/internal/usage"
)

// Preview thumbnails fit inside this box
const (
	PreviewWidth  = 800
	PreviewHeight = 800
)

// Extractor runs the extraction pipeline for one document
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string, cache extraction.Cache) (*extraction.Result, error)
}

// Accountant enforces and records monthly usage
type Accountant interface {
	CheckLimit(ctx context.Context, userID, plan string) usage.Check
	IncrementUsage(ctx context.Context, userID string) int
	UpsertUser(ctx context.Context, profile usage.Profile) *usage.User
}

// IDGenerator generates unique IDs for documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service handles document operations
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	accountant  Accountant
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor Extractor, storage Storage, accountant Accountant) *Service {
	return NewServiceWithDeps(db, extractor, storage, accountant, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, accountant Accountant, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		accountant:  accountant,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
	safeExtension       = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filepath.Clean("/" + filename))
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "document"
	}
	if !safeExtension.MatchString(ext) {
		ext = ""
	}

	return base + ext
}

// Authenticate records a login and returns the stored user
func (s *Service) Authenticate(ctx context.Context, profile usage.Profile) *usage.User {
	return s.accountant.UpsertUser(ctx, profile)
}

// Usage returns the user's quota state for the current month
func (s *Service) Usage(ctx context.Context, user *usage.User) usage.Check {
	return s.accountant.CheckLimit(ctx, user.ID, user.Plan)
}

// ProcessDocument stores an upload, extracts it and records the outcome.
// The returned Document is always resolved to completed or failed once it has been created,
// even when ctx is cancelled during extraction.
func (s *Service) ProcessDocument(ctx context.Context, user *usage.User, filename string, data []byte, mediaType string) (*Document, error) {
	mediaType = extraction.NormalizeMediaType(mediaType)
	if !extraction.UploadMediaTypes[mediaType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}

	check := s.accountant.CheckLimit(ctx, user.ID, user.Plan)
	if !check.Allowed {
		metrics.QuotaRejections.Add(1)
		slog.Info("Monthly limit reached",
			"user_id", user.ID,
			"plan", check.Plan,
			"current", check.Current,
		)
		return nil, fmt.Errorf("%w: %d extractions used in %s", ErrQuotaExceeded, check.Current, check.Month)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		slog.Error("Failed to save upload", "filename", filename, "error", err)
		return nil, fmt.Errorf("%w: saving file: %v", ErrStorageUnavailable, err)
	}

	doc := &Document{
		ID:          id,
		OwnerID:     user.ID,
		Filename:    filename,
		StoragePath: savedPath,
		Size:        int64(len(data)),
		MediaType:   mediaType,
		ContentHash: extraction.ContentHash(data),
		Status:      StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveDocument(doc); err != nil {
		s.storage.Delete(savedPath)
		slog.Error("Failed to save document", "id", id, "error", err)
		return nil, fmt.Errorf("%w: saving document: %v", ErrStorageUnavailable, err)
	}

	// resolves the document if extraction panics
	defer func() {
		if doc.Status == StatusProcessing {
			s.fail(doc, errors.New("extraction aborted"))
		}
	}()

	result, err := s.extractor.Extract(ctx, data, mediaType, s.db.CacheFor(user.ID))
	if err != nil {
		slog.Error("Failed to extract document",
			"id", doc.ID,
			"filename", filename,
			"media_type", mediaType,
			"file_size", len(data),
			"error", err,
		)
		s.fail(doc, err)
		return doc, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	doc.Extraction = result.Record
	doc.RawResponse = result.Raw
	doc.PromptVersion = extraction.PromptVersion
	doc.Cached = result.Cached
	doc.Status = StatusCompleted
	doc.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveDocument(doc); err != nil {
		slog.Error("Failed to save completed document", "id", doc.ID, "error", err)
		s.fail(doc, err)
		return doc, fmt.Errorf("%w: saving document: %v", ErrStorageUnavailable, err)
	}
	metrics.ExtractionsCompleted.Add(1)

	entry := HistoryEntry{
		Hash:       doc.ContentHash,
		Filename:   filename,
		DocumentID: doc.ID,
		Record:     doc.Extraction,
		CreatedAt:  now,
		UpdatedAt:  doc.UpdatedAt,
	}
	if err := s.db.HistoryFor(user.ID).Add(entry); err != nil {
		slog.Warn("Failed to update history", "id", doc.ID, "error", err)
	}

	// cache hits cost no model call and are not counted
	if !result.Cached {
		count := s.accountant.IncrementUsage(context.WithoutCancel(ctx), user.ID)
		slog.Info("Document extracted",
			"id", doc.ID,
			"pages", result.Pages,
			"confidence", doc.Extraction.Confidence,
			"monthly_usage", count,
		)
	} else {
		slog.Info("Document answered from cache", "id", doc.ID, "hash", doc.ContentHash)
	}

	return doc, nil
}

// fail marks doc failed with a caller-safe message
func (s *Service) fail(doc *Document, cause error) {
	metrics.ExtractionsFailed.Add(1)
	doc.Status = StatusFailed
	doc.Error = extraction.UserMessage(cause)
	doc.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveDocument(doc); err != nil {
		slog.Error("Failed to save failed document", "id", doc.ID, "error", err)
	}
}

// GetDocument retrieves one of ownerID's documents
func (s *Service) GetDocument(ownerID, id string) (*Document, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting document: %w", err)
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, nil
}

// ListDocuments returns a page of ownerID's documents, newest first, and the total count
func (s *Service) ListDocuments(ownerID string, skip, limit int) ([]*Document, int, error) {
	docs, total, err := s.db.ListDocuments(ownerID, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing documents: %w", err)
	}
	return docs, total, nil
}

// DeleteDocument removes a document and its file
func (s *Service) DeleteDocument(ownerID, id string) error {
	doc, err := s.GetDocument(ownerID, id)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(doc.StoragePath); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete file", "path", doc.StoragePath, "error", err)
	}

	if err := s.db.DeleteDocument(id); err != nil {
		return fmt.Errorf("deleting document from database: %w", err)
	}
	return nil
}

// GetDocumentFile retrieves the uploaded bytes and media type of a document
func (s *Service) GetDocumentFile(ownerID, id string) ([]byte, string, error) {
	doc, err := s.GetDocument(ownerID, id)
	if err != nil {
		return nil, "", err
	}

	data, err := s.storage.Get(doc.StoragePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting document file: %w", err)
	}

	return data, doc.MediaType, nil
}

// Preview renders the first page of a document as a PNG thumbnail
func (s *Service) Preview(ctx context.Context, ownerID, id string) ([]byte, error) {
	data, mediaType, err := s.GetDocumentFile(ownerID, id)
	if err != nil {
		return nil, err
	}

	pages, err := extraction.Rasterize(ctx, data, mediaType, 1)
	if err != nil {
		return nil, fmt.Errorf("rendering preview: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(pages[0].Data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding preview: %v", extraction.ErrDocumentUnreadable, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Fit(img, PreviewWidth, PreviewHeight, imaging.Lanczos), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding preview: %w", err)
	}
	return buf.Bytes(), nil
}

// History returns ownerID's successful extractions, newest first
func (s *Service) History(ownerID string) ([]HistoryEntry, error) {
	entries, err := s.db.HistoryFor(ownerID).List()
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// ExportHistory writes every history entry of ownerID in format
func (s *Service) ExportHistory(ownerID string, format Format, w io.Writer) error {
	entries, err := s.History(ownerID)
	if err != nil {
		return err
	}
	records := make([]*extraction.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	return Export(w, format, records)
}

// ExportDocument writes a single completed document in format
func (s *Service) ExportDocument(ownerID, id string, format Format, w io.Writer) error {
	doc, err := s.GetDocument(ownerID, id)
	if err != nil {
		return err
	}
	if doc.Extraction == nil {
		return fmt.Errorf("%w: document %s has no extraction", ErrNotFound, id)
	}
	return Export(w, format, []*extraction.Record{doc.Extraction})
}

package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/docstream/docstream/internal/extraction"
	"github.com/docstream/docstream/internal/metrics"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// multipartOverhead is the allowance for form boundaries and part headers on top of the file
const multipartOverhead = 1 << 20

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes an error response with CORS headers set
func jsonError(w http.ResponseWriter, code int, errorCode, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{
		"error": message,
		"code":  errorCode,
	})
}

// handleHealth reports liveness without authentication
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "DocStream",
	})
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// uploadMediaType determines the media type of an uploaded part, falling back to the extension
func uploadMediaType(header, filename string) string {
	if header != "" && header != "application/octet-stream" {
		return extraction.NormalizeMediaType(header)
	}
	return extraction.MediaTypeFromFilename(filename)
}

func allowedTypesText() string {
	return strings.Join(slices.Sorted(maps.Keys(extraction.UploadMediaTypes)), ", ")
}

// handleUploadDocument streams a multipart upload, rejecting bad types before the body is read
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	maxBytes := s.config.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_form", "Expected a multipart/form-data upload with a file field.")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			jsonError(w, http.StatusBadRequest, "no_file", "No file was selected. Please choose a file to upload.")
			return
		}
		if err != nil {
			s.uploadReadError(w, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		filename := part.FileName()
		if filename == "" {
			filename = "unknown"
		}
		mediaType := uploadMediaType(part.Header.Get("Content-Type"), filename)
		if !extraction.UploadMediaTypes[mediaType] {
			metrics.UploadsRejected.Add(1)
			jsonError(w, http.StatusUnsupportedMediaType, "unsupported_type",
				fmt.Sprintf("Unsupported file type: %s. Allowed: %s", mediaType, allowedTypesText()))
			return
		}

		data, err := io.ReadAll(io.LimitReader(part, maxBytes+1))
		if err != nil {
			s.uploadReadError(w, err)
			return
		}
		if int64(len(data)) > maxBytes {
			metrics.UploadsRejected.Add(1)
			jsonError(w, http.StatusRequestEntityTooLarge, "too_large",
				fmt.Sprintf("File is too large. Maximum size is %d MB.", maxBytes>>20))
			return
		}
		if len(data) == 0 {
			jsonError(w, http.StatusBadRequest, "empty_file", "The uploaded file is empty.")
			return
		}

		metrics.UploadsTotal.Add(1)
		doc, err := s.service.ProcessDocument(r.Context(), user, filename, data, mediaType)
		if err != nil {
			s.processError(w, doc, err)
			return
		}

		writeJSON(w, http.StatusCreated, doc.Response())
		return
	}
}

func (s *Server) uploadReadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		metrics.UploadsRejected.Add(1)
		jsonError(w, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Sprintf("File is too large. Maximum size is %d MB.", s.config.MaxUploadBytes>>20))
		return
	}
	slog.Error("Error reading upload", "error", err)
	jsonError(w, http.StatusBadRequest, "invalid_form", "Error reading upload. Please try again.")
}

// processError maps a ProcessDocument failure to a status and a fixed message
func (s *Server) processError(w http.ResponseWriter, doc *Document, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedMediaType):
		jsonError(w, http.StatusUnsupportedMediaType, "unsupported_type", "Unsupported file type. Allowed: "+allowedTypesText())
		return
	case errors.Is(err, ErrQuotaExceeded):
		jsonError(w, http.StatusTooManyRequests, "quota_exceeded",
			"You have reached the monthly extraction limit of your plan.")
		return
	case errors.Is(err, ErrStorageUnavailable):
		jsonError(w, http.StatusServiceUnavailable, "storage_unavailable",
			"The document could not be stored. Please try again later.")
		return
	}

	code, errorCode := http.StatusInternalServerError, "extraction_failed"
	switch {
	case errors.Is(err, extraction.ErrDocumentUnreadable):
		code, errorCode = http.StatusUnprocessableEntity, "document_unreadable"
	case errors.Is(err, extraction.ErrRateLimited):
		code, errorCode = http.StatusServiceUnavailable, "model_rate_limited"
	case errors.Is(err, extraction.ErrAuthenticationFailed):
		code, errorCode = http.StatusBadGateway, "model_authentication_failed"
	case errors.Is(err, extraction.ErrTransientNetwork):
		code, errorCode = http.StatusGatewayTimeout, "model_unreachable"
	}

	setCORSHeaders(w)
	body := map[string]any{
		"error": extraction.UserMessage(err),
		"code":  errorCode,
	}
	if doc != nil {
		body["document"] = doc.Response()
	}
	writeJSON(w, code, body)
}

// handleListDocuments returns a page of the caller's documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		jsonError(w, http.StatusBadRequest, "invalid_query", "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		jsonError(w, http.StatusBadRequest, "invalid_query", fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
		return
	}

	user := UserFromContext(r.Context())
	docs, total, err := s.service.ListDocuments(user.ID, skip, limit)
	if err != nil {
		slog.Error("Error listing documents", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	responses := make([]Response, 0, len(docs))
	for _, d := range docs {
		responses = append(responses, d.Response())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": responses,
		"total":     total,
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// documentError writes the response for a failed lookup of a single document
func documentError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		jsonError(w, http.StatusNotFound, "not_found", "Document not found")
		return
	}
	slog.Error("Error loading document", "error", err)
	jsonError(w, http.StatusInternalServerError, "internal", "Internal server error")
}

// handleGetDocument returns a single document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	doc, err := s.service.GetDocument(user.ID, r.PathValue("id"))
	if err != nil {
		documentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Response())
}

// handleGetDocumentFile returns the uploaded file of a document
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	data, contentType, err := s.service.GetDocumentFile(user.ID, r.PathValue("id"))
	if err != nil {
		documentError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetDocumentPreview returns a PNG thumbnail of the first page
func (s *Server) handleGetDocumentPreview(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	data, err := s.service.Preview(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, extraction.ErrDocumentUnreadable) {
			jsonError(w, http.StatusUnprocessableEntity, "document_unreadable", extraction.UserMessage(err))
			return
		}
		documentError(w, err)
		return
	}

	w.Header().Set("Content-Type", extraction.MediaTypePNG)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// handleDeleteDocument deletes a document and its file
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id := r.PathValue("id")
	if err := s.service.DeleteDocument(user.ID, id); err != nil {
		documentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"id":     id,
	})
}

// handleHistory returns the caller's deduplicated extraction history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	entries, err := s.service.History(user.ID)
	if err != nil {
		slog.Error("Error listing history", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleUsage returns the caller's plan and monthly usage
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.service.Usage(r.Context(), user))
}

// handleExportHistory exports every history entry of the caller
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_format", "format must be csv, json or xlsx")
		return
	}

	user := UserFromContext(r.Context())
	var buf bytes.Buffer
	if err := s.service.ExportHistory(user.ID, format, &buf); err != nil {
		slog.Error("Error exporting history", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	writeAttachment(w, format, "docstream_alle_facturen", buf.Bytes())
}

// handleExportDocument exports a single document
func (s *Server) handleExportDocument(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_format", "format must be csv, json or xlsx")
		return
	}

	user := UserFromContext(r.Context())
	id := r.PathValue("id")
	var buf bytes.Buffer
	if err := s.service.ExportDocument(user.ID, id, format, &buf); err != nil {
		documentError(w, err)
		return
	}

	writeAttachment(w, format, "factuur_"+id, buf.Bytes())
}

func writeAttachment(w http.ResponseWriter, format Format, name string, data []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, format))
	w.Write(data)
}

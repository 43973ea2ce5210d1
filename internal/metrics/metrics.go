package metrics

import (
	"expvar"
)

var (
	// UploadsTotal counts accepted uploads
	UploadsTotal = expvar.NewInt("uploads_total")

	// UploadsRejected counts uploads rejected for type or size
	UploadsRejected = expvar.NewInt("uploads_rejected")

	// ExtractionsCompleted counts documents that reached the completed state
	ExtractionsCompleted = expvar.NewInt("extractions_completed")

	// ExtractionsFailed counts documents that reached the failed state
	ExtractionsFailed = expvar.NewInt("extractions_failed")

	// CacheHits counts extractions answered from the content-hash cache
	CacheHits = expvar.NewInt("extraction_cache_hits")

	// ModelCalls counts requests sent to the vision model
	ModelCalls = expvar.NewInt("model_calls_total")

	// MalformedResponses counts model responses the parser could not read
	MalformedResponses = expvar.NewInt("malformed_responses_total")

	// TruncatedResponses counts model responses cut off at the output token limit
	TruncatedResponses = expvar.NewInt("truncated_responses_total")

	// QuotaRejections counts uploads refused because the monthly limit was reached
	QuotaRejections = expvar.NewInt("quota_rejections_total")

	// UsageBackendErrors counts failed calls to the usage store
	UsageBackendErrors = expvar.NewInt("usage_backend_errors_total")
)

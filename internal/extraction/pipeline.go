package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docstream/docstream/internal/metrics"
)

// DefaultModelTimeout bounds a single model call
const DefaultModelTimeout = 60 * time.Second

// Result is the outcome of running one document through the pipeline
type Result struct {
	Record *Record
	Hash   string
	Cached bool
	// Raw is the unmodified model response; empty on a cache hit
	Raw   string
	Pages int
	// Malformed is set when the response could not be read and Record holds defaults
	Malformed bool
}

// Pipeline turns document bytes into a Record: rasterize, call the model once, parse
type Pipeline struct {
	rasterizer Rasterizer
	client     Client
	maxPages   int
	timeout    time.Duration
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithMaxPages limits how many PDF pages are sent to the model
func WithMaxPages(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPages = n
		}
	}
}

// WithTimeout sets the deadline for the model call
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRasterizer replaces the default rasterizer
func WithRasterizer(r Rasterizer) PipelineOption {
	return func(p *Pipeline) {
		p.rasterizer = r
	}
}

// NewPipeline creates a Pipeline that sends documents to client
func NewPipeline(client Client, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		rasterizer: DocumentRasterizer{},
		client:     client,
		maxPages:   DefaultMaxPages,
		timeout:    DefaultModelTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract runs the pipeline on data. When cache already holds the content hash the stored
// record is returned and the model is not called. Failures and unreadable responses are
// never cached.
// cache may be nil.
func (p *Pipeline) Extract(ctx context.Context, data []byte, mediaType string, cache Cache) (*Result, error) {
	hash := ContentHash(data)

	if cache != nil {
		rec, ok, err := cache.Lookup(hash)
		if err != nil {
			slog.Warn("Failed to read extraction cache", "hash", hash, "error", err)
		} else if ok {
			metrics.CacheHits.Add(1)
			slog.Debug("Extraction cache hit", "hash", hash)
			return &Result{Record: rec, Hash: hash, Cached: true}, nil
		}
	}

	pages, err := p.rasterizer.Rasterize(ctx, data, mediaType, p.maxPages)
	if err != nil {
		return nil, fmt.Errorf("rasterizing document: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	metrics.ModelCalls.Add(1)
	start := time.Now()
	raw, err := p.client.Generate(callCtx, pages, ExtractionPrompt)
	if err != nil {
		var cerr *ClientError
		if !errors.As(err, &cerr) {
			kind := ErrModelRequest
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				kind = ErrTransientNetwork
			}
			err = &ClientError{Provider: p.client.Name(), Kind: kind, Err: err}
		}
		return nil, fmt.Errorf("calling %s: %w", p.client.Name(), err)
	}
	slog.Debug("Model call finished",
		"provider", p.client.Name(),
		"pages", len(pages),
		"duration", time.Since(start),
	)

	rec, ok := parse(raw)

	if cache != nil && ok {
		if err := cache.Store(hash, rec); err != nil {
			slog.Warn("Failed to store extraction in cache", "hash", hash, "error", err)
		}
	}

	return &Result{Record: rec, Hash: hash, Raw: raw, Pages: len(pages), Malformed: !ok}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/docstream/docstream/internal/document"
	"github.com/docstream/docstream/internal/extraction"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("docstream-extract")
	var (
		provider     = fs.StringLong("provider", extraction.ProviderAnthropic, "Model provider: 'anthropic', 'gemini' or 'ollama'")
		apiKey       = fs.StringLong("api-key", "", "API key of the model provider (or ANTHROPIC_API_KEY / GEMINI_API_KEY)")
		model        = fs.StringLong("model", "", "Model name (provider default when empty)")
		baseURL      = fs.StringLong("base-url", "", "Model API base URL (anthropic or ollama)")
		maxPages     = fs.IntLong("max-pages", extraction.DefaultMaxPages, "Maximum PDF pages sent to the model")
		modelTimeout = fs.DurationLong("model-timeout", extraction.DefaultModelTimeout, "Deadline of a single model call")
		format       = fs.StringLong("format", "csv", "Output format: csv, json or xlsx")
		output       = fs.StringLong("output", "", "Output file (stdout when empty)")
		verbose      = fs.BoolLong("verbose", "Log debug output")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOCSTREAM"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	files := fs.GetArgs()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: no files given\n")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	outFormat, err := document.ParseFormat(*format)
	if err != nil {
		slog.Error("Invalid output format", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key := *apiKey
	if key == "" {
		switch *provider {
		case extraction.ProviderAnthropic:
			key = os.Getenv("ANTHROPIC_API_KEY")
		case extraction.ProviderGemini:
			key = os.Getenv("GEMINI_API_KEY")
		}
	}

	client, err := extraction.NewClient(ctx, extraction.ProviderConfig{
		Provider: *provider,
		APIKey:   key,
		Model:    *model,
		BaseURL:  *baseURL,
		Timeout:  *modelTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	pipeline := extraction.NewPipeline(client,
		extraction.WithMaxPages(*maxPages),
		extraction.WithTimeout(*modelTimeout),
	)

	history, failed := extractFiles(ctx, pipeline, files)

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			slog.Error("Failed to create output file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if err := exportHistory(w, outFormat, history); err != nil {
		slog.Error("Failed to write output", "error", err)
		os.Exit(1)
	}

	if failed > 0 {
		slog.Warn("Some files could not be extracted", "failed", failed, "total", len(files))
		os.Exit(2)
	}
}

// extractFiles runs every file through the pipeline with one session cache, so a file given
// twice is sent to the model once. It returns the session history and the number of failures.
func extractFiles(ctx context.Context, pipeline *extraction.Pipeline, files []string) (*document.MemoryHistory, int) {
	cache := extraction.NewMemoryCache()
	history := document.NewMemoryHistory()
	failed := 0

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read file", "path", path, "error", err)
			failed++
			continue
		}

		mediaType := extraction.MediaTypeFromFilename(path)
		result, err := pipeline.Extract(ctx, data, mediaType, cache)
		if err != nil {
			slog.Error("Failed to extract file",
				"path", path,
				"media_type", mediaType,
				"error", err,
			)
			failed++
			continue
		}

		slog.Info("Extracted file",
			"path", path,
			"pages", result.Pages,
			"cached", result.Cached,
			"confidence", result.Record.Confidence,
			"band", result.Record.ConfidenceBand(),
		)

		now := time.Now().UTC()
		if err := history.Add(document.HistoryEntry{
			Hash:      result.Hash,
			Filename:  filepath.Base(path),
			Record:    result.Record,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			slog.Warn("Failed to update history", "path", path, "error", err)
		}
	}

	return history, failed
}

func exportHistory(w io.Writer, format document.Format, history document.History) error {
	entries, err := history.List()
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	records := make([]*extraction.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	return document.Export(w, format, records)
}

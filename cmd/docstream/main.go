package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/docstream/docstream/internal/auth"
	"github.com/docstream/docstream/internal/document"
	"github.com/docstream/docstream/internal/extraction"
	"github.com/docstream/docstream/internal/usage"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("docstream")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "docstream.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./uploads", "Storage directory path")
		provider     = fs.StringLong("provider", extraction.ProviderAnthropic, "Model provider: 'anthropic', 'gemini' or 'ollama'")
		apiKey       = fs.StringLong("api-key", "", "API key of the model provider (or ANTHROPIC_API_KEY / GEMINI_API_KEY)")
		model        = fs.StringLong("model", "", "Model name (provider default when empty)")
		baseURL      = fs.StringLong("base-url", "", "Model API base URL (anthropic or ollama)")
		maxUploadMB  = fs.IntLong("max-upload-mb", document.DefaultMaxUploadBytes>>20, "Maximum upload size in MB")
		maxPages     = fs.IntLong("max-pages", extraction.DefaultMaxPages, "Maximum PDF pages sent to the model")
		modelTimeout = fs.DurationLong("model-timeout", extraction.DefaultModelTimeout, "Deadline of a single model call")
		usageBackend = fs.StringLong("usage-backend", "bolt", "Usage store: 'bolt', 'sqlite' or 'postgres'")
		usageDSN     = fs.StringLong("usage-dsn", "", "SQLite file path or Postgres connection string")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		jwtSecret    = fs.StringLong("jwt-secret", "", "HS256 secret for bearer tokens (optional, at least 16 bytes)")
		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat    = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOCSTREAM"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := document.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize usage store
	slog.Info("Initializing usage store...", "backend", *usageBackend)
	store, err := openUsageStore(ctx, *usageBackend, *usageDSN, *dbPath, db)
	if err != nil {
		slog.Error("Failed to initialize usage store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize model client
	key := *apiKey
	if key == "" {
		key = providerKeyFromEnv(*provider)
	}
	slog.Info("Initializing model client...", "provider", *provider, "model", *model)
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

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	blobs, err := document.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	pipeline := extraction.NewPipeline(client,
		extraction.WithMaxPages(*maxPages),
		extraction.WithTimeout(*modelTimeout),
	)
	service := document.NewService(db, pipeline, blobs, usage.NewAccountant(store))

	config := document.ServerConfig{
		BasicAuth: document.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		MaxUploadBytes: int64(*maxUploadMB) << 20,
	}
	if *jwtSecret != "" {
		config.Tokens, err = auth.NewTokenManager(*jwtSecret, 0)
		if err != nil {
			slog.Error("Failed to initialize token validation", "error", err)
			os.Exit(1)
		}
	}
	server := document.NewServer(service, config)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if config.BasicAuth.Username != "" || config.BasicAuth.Password != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}
	if config.Tokens != nil {
		slog.Info("Bearer token auth enabled")
	}

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *modelTimeout+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down cleanly", "error", err)
	}
}

// openUsageStore opens the configured usage backend. The bolt backend shares the document database.
func openUsageStore(ctx context.Context, backend, dsn, dbPath string, db *document.BoltDB) (usage.Store, error) {
	switch backend {
	case "bolt":
		return usage.NewBoltStore(db.Handle())
	case "sqlite":
		if dsn == "" {
			dsn = filepath.Join(filepath.Dir(dbPath), "usage.sqlite")
		}
		return usage.OpenSQLite(ctx, dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres usage backend requires --usage-dsn")
		}
		return usage.OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("invalid usage backend %q: valid backends are bolt, sqlite or postgres", backend)
	}
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case extraction.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case extraction.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

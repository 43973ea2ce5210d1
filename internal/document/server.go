package document

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"expvar"
	"log/slog"
	"net/http"
	"strings"

	"github.com/docstream/docstream/internal/auth"
	"github.com/docstream/docstream/internal/usage"
)

// DefaultMaxUploadBytes is the upload size limit when none is configured
const DefaultMaxUploadBytes = 20 << 20

// anonymousEmail identifies the single user of a server running without authentication
const anonymousEmail = "local@docstream"

// Server handles HTTP requests for documents
type Server struct {
	service *Service
	config  ServerConfig
	mux     *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

// ServerConfig configures authentication and upload limits
type ServerConfig struct {
	BasicAuth      BasicAuth
	Tokens         *auth.TokenManager
	MaxUploadBytes int64
}

type contextKey struct{}

// UserFromContext returns the authenticated user of a request
func UserFromContext(ctx context.Context) *usage.User {
	user, _ := ctx.Value(contextKey{}).(*usage.User)
	return user
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, config ServerConfig) *Server {
	return NewServerWithMux(service, config, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, config ServerConfig, mux *http.ServeMux) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		service: service,
		config:  config,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// identify resolves the caller from a bearer token or basic auth credentials.
// Without any authentication configured every caller is the same local user.
func (s *Server) identify(r *http.Request) (usage.Profile, bool) {
	header := r.Header.Get("Authorization")

	if s.config.Tokens != nil && strings.HasPrefix(header, "Bearer ") {
		claims, err := s.config.Tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			slog.Warn("Rejected bearer token", "error", err)
			return usage.Profile{}, false
		}
		return usage.Profile{
			Email:      claims.Email(),
			Name:       claims.Name,
			PictureURL: claims.Picture,
			Plan:       claims.Plan,
		}, true
	}

	if s.config.BasicAuth.enabled() && strings.HasPrefix(header, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
		if err != nil {
			return usage.Profile{}, false
		}
		username, password, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return usage.Profile{}, false
		}
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.BasicAuth.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.config.BasicAuth.Password)) == 1
		if !userOK || !passOK {
			return usage.Profile{}, false
		}
		return usage.Profile{Email: username, Name: username}, true
	}

	if s.config.Tokens == nil && !s.config.BasicAuth.enabled() {
		return usage.Profile{Email: anonymousEmail, Name: "Local user"}, true
	}
	return usage.Profile{}, false
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, ok := s.identify(r)
		if !ok {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			if s.config.BasicAuth.enabled() {
				w.Header().Set("WWW-Authenticate", `Basic realm="DocStream"`)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		user := s.service.Authenticate(r.Context(), profile)
		next(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, user)))
	}
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /debug/vars", s.requireAuth(expvar.Handler().ServeHTTP))

	s.mux.HandleFunc("GET /static/app.js", s.requireAuth(s.handleStaticJS))

	// API endpoints - documents
	s.mux.HandleFunc("POST /api/v1/documents/upload", s.requireAuth(s.handleUploadDocument))
	s.mux.HandleFunc("GET /api/v1/documents/{id}/file", s.requireAuth(s.handleGetDocumentFile))
	s.mux.HandleFunc("GET /api/v1/documents/{id}/preview", s.requireAuth(s.handleGetDocumentPreview))
	s.mux.HandleFunc("GET /api/v1/documents/{id}/export", s.requireAuth(s.handleExportDocument))
	s.mux.HandleFunc("GET /api/v1/documents/{id}", s.requireAuth(s.handleGetDocument))
	s.mux.HandleFunc("DELETE /api/v1/documents/{id}", s.requireAuth(s.handleDeleteDocument))
	s.mux.HandleFunc("GET /api/v1/documents", s.requireAuth(s.handleListDocuments))

	// API endpoints - history, export and usage
	s.mux.HandleFunc("GET /api/v1/history", s.requireAuth(s.handleHistory))
	s.mux.HandleFunc("GET /api/v1/export", s.requireAuth(s.handleExportHistory))
	s.mux.HandleFunc("GET /api/v1/usage", s.requireAuth(s.handleUsage))

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
}

// Handler returns the server wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

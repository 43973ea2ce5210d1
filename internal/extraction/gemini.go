package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// Gemini implements the Client interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini client instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetMaxOutputTokens(MaxOutputTokens)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Generate sends the page images followed by the instruction
func (g *Gemini) Generate(ctx context.Context, pages []Page, instruction string) (string, error) {
	parts := make([]genai.Part, 0, len(pages)+1)
	for _, p := range pages {
		// genai.ImageData expects the format suffix ("png"), not the full MIME type
		parts = append(parts, genai.ImageData(imageFormat(p.MediaType), p.Data))
	}
	parts = append(parts, genai.Text(instruction))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", &ClientError{Provider: g.Name(), StatusCode: geminiStatus(err), Kind: classifyGeminiError(err), Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}

// Name returns the provider name
func (g *Gemini) Name() string {
	return "gemini"
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// imageFormat converts "image/png" to "png"
func imageFormat(mediaType string) string {
	if i := strings.IndexByte(mediaType, '/'); i >= 0 {
		return mediaType[i+1:]
	}
	return mediaType
}

func geminiStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) && aerr.HTTPCode() > 0 {
		return aerr.HTTPCode()
	}
	return 0
}

// classifyGeminiError maps REST and gRPC failures from the Gemini API to an error class
func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTransientNetwork
	}
	if code := geminiStatus(err); code > 0 {
		return statusKind(code)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		switch aerr.GRPCStatus().Code() {
		case codes.ResourceExhausted:
			return ErrRateLimited
		case codes.Unauthenticated, codes.PermissionDenied:
			return ErrAuthenticationFailed
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return ErrTransientNetwork
		default:
			return ErrModelRequest
		}
	}

	return ErrTransientNetwork
}

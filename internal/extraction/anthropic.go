package extraction

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docstream/docstream/internal/metrics"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	anthropicVersion      = "2023-06-01"
)

// Anthropic implements the Client interface using the Anthropic Messages API
type Anthropic struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewAnthropic creates a new Anthropic client instance
func NewAnthropic(apiKey, modelName, baseURL string, timeout time.Duration) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}

	return &Anthropic{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Generate sends the page images followed by the instruction as a single user message
func (a *Anthropic) Generate(ctx context.Context, pages []Page, instruction string) (string, error) {
	content := make([]anthropicContent, 0, len(pages)+1)
	for _, p := range pages {
		content = append(content, anthropicContent{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: p.MediaType,
				Data:      base64.StdEncoding.EncodeToString(p.Data),
			},
		})
	}
	content = append(content, anthropicContent{Type: "text", Text: instruction})

	reqBody := anthropicRequest{
		Model:     a.model,
		MaxTokens: MaxOutputTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: content}},
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, a.client, a.Name(), a.baseURL+"/v1/messages", headers, reqBody, &resp); err != nil {
		return "", err
	}
	if resp.StopReason == "max_tokens" {
		metrics.TruncatedResponses.Add(1)
		slog.Warn("Model response hit the output token limit",
			"provider", a.Name(),
			"max_tokens", MaxOutputTokens,
		)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return text.String(), nil
}

// Name returns the provider name
func (a *Anthropic) Name() string {
	return "anthropic"
}

// Close is a no-op for the HTTP client
func (a *Anthropic) Close() error {
	return nil
}

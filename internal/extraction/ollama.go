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

// Ollama implements the Client interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama client instance
// Recommended vision models for invoices (in order of recommendation):
//   - qwen2.5vl (strong OCR, handles multi-page input)
//   - llava:1.6 (good balance of accuracy and speed)
//   - llama3.2-vision
func NewOllama(baseURL string, modelName string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
}

// Generate sends all pages attached to one user message carrying the instruction
func (o *Ollama) Generate(ctx context.Context, pages []Page, instruction string) (string, error) {
	images := make([]string, 0, len(pages))
	for _, p := range pages {
		images = append(images, base64.StdEncoding.EncodeToString(p.Data))
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Options: ollamaOptions{
			NumPredict: MaxOutputTokens,
		},
		Messages: []ollamaMessage{
			{
				Role:    "user",
				Content: instruction,
				Images:  images,
			},
		},
	}

	var resp ollamaChatResponse
	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	if err := postJSON(ctx, o.client, o.Name(), url, nil, reqBody, &resp); err != nil {
		return "", err
	}
	if !resp.Done || resp.DoneReason == "length" {
		metrics.TruncatedResponses.Add(1)
		slog.Warn("Model response hit the output token limit",
			"provider", o.Name(),
			"done", resp.Done,
			"done_reason", resp.DoneReason,
		)
	}

	return resp.Message.Content, nil
}

// Name returns the provider name
func (o *Ollama) Name() string {
	return "ollama"
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}

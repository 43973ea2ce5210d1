package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// MaxOutputTokens bounds every model response
const MaxOutputTokens = 4096

// Client sends page images and an instruction to a vision model and returns its raw text.
// Implementations make exactly one request per call and classify failures as *ClientError.
type Client interface {
	// Generate sends the pages, in order, followed by the instruction
	Generate(ctx context.Context, pages []Page, instruction string) (string, error)
	// Name identifies the provider in logs
	Name() string
	// Close releases the client
	Close() error
}

// postJSON sends body to url and decodes a 2xx response into out.
// Non-2xx responses and transport errors come back as *ClientError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &ClientError{Provider: provider, Kind: ErrTransientNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Debug("Model API error response", "provider", provider, "status", resp.StatusCode, "body", string(msg))
		return &ClientError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Kind:       statusKind(resp.StatusCode),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Provider: provider, StatusCode: resp.StatusCode, Kind: ErrTransientNetwork, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

package naming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"image-optimizer-go/internal/resize"
)

// ErrNotConfigured is returned by an upstream that lacks credentials.
var ErrNotConfigured = errors.New("naming upstream not configured")

// DefaultPrompt asks the model for a file name only.
const DefaultPrompt = "Suggest a short, descriptive file name for this image. " +
	"Reply with 2 to 5 words and nothing else, no file extension."

// Upstream describes an image in a few words.
type Upstream interface {
	Describe(ctx context.Context, payload resize.Payload) (string, error)
}

// GeminiUpstream calls the Generative Language generateContent endpoint.
type GeminiUpstream struct {
	BaseURL string
	Model   string
	APIKey  string
	Prompt  string
	http    *http.Client
}

// NewGeminiUpstream returns a GeminiUpstream.
func NewGeminiUpstream(baseURL, model, apiKey string, timeout time.Duration) *GeminiUpstream {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiUpstream{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		APIKey:  apiKey,
		Prompt:  DefaultPrompt,
		http:    &http.Client{Timeout: timeout},
	}
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Describe sends the image with the naming prompt and returns the first
// text part of the first candidate.
func (g *GeminiUpstream) Describe(ctx context.Context, payload resize.Payload) (string, error) {
	if g.APIKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: g.Prompt},
				{InlineData: &geminiInlineData{MimeType: payload.MimeType, Data: payload.Data}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.BaseURL, url.PathEscape(g.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned HTTP %d", resp.StatusCode)
	}

	var out geminiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", errors.New("model returned no text")
}

// Package naming asks a remote service for descriptive file names and
// applies them to batch records.
package naming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"image-optimizer-go/internal/resize"
)

// ErrService is returned for any failed naming service exchange.
var ErrService = errors.New("naming service failed")

const maxResponseBytes = 64 << 10

// Client requests a name suggestion for a thumbnail.
type Client interface {
	Suggest(ctx context.Context, payload resize.Payload) (string, error)
}

// HTTPClient calls a naming service endpoint over HTTP.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

// NewHTTPClient returns a client posting to endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type nameResponse struct {
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// Suggest posts payload and returns the suggested name. Any status other
// than 200 is a failure whatever the body says.
func (c *HTTPClient) Suggest(ctx context.Context, payload resize.Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrService, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", ErrService, resp.StatusCode)
	}

	var out nameResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrService, err)
	}
	name := strings.TrimSpace(out.Name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrService)
	}
	return name, nil
}

// UpstreamClient calls an Upstream in process, without the HTTP service.
type UpstreamClient struct {
	Upstream Upstream
}

// Suggest implements Client.
func (c UpstreamClient) Suggest(ctx context.Context, payload resize.Payload) (string, error) {
	name, err := c.Upstream.Describe(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty name", ErrService)
	}
	return name, nil
}

package naming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/handle"
	"image-optimizer-go/internal/logger"
	"image-optimizer-go/internal/resize"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My Beach Photo.JPG", "my-beach-photo"},
		{"   ", FallbackSlug},
		{"a///b", "a-b"},
		{"  Sunset over   the Sea  ", "sunset-over-the-sea"},
		{"--Hello, World!--", "hello-world"},
		{"Café Table.png", "caf-table"},
		{"already-a-slug", "already-a-slug"},
		{"!!!", FallbackSlug},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWithExtension(t *testing.T) {
	if got := WithExtension("cat", "webp"); got != "cat.webp" {
		t.Errorf("Expected cat.webp, got %s", got)
	}
	if got := WithExtension("cat", ""); got != "cat" {
		t.Errorf("Expected cat, got %s", got)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

// namingServer answers like the naming service with the given status and
// records the last request payload.
func namingServer(t *testing.T, status int, name string, got *resize.Payload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(map[string]string{"name": name})
		} else {
			json.NewEncoder(w).Encode(map[string]string{"error": "upstream failed", "name": "ignored"})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Suggest(t *testing.T) {
	var got resize.Payload
	srv := namingServer(t, http.StatusOK, "Golden Retriever", &got)

	name, err := NewHTTPClient(srv.URL, 0).Suggest(context.Background(), resize.Payload{MimeType: "image/jpeg", Data: "AAAA"})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if name != "Golden Retriever" {
		t.Errorf("Expected Golden Retriever, got %q", name)
	}
	if got.MimeType != "image/jpeg" || got.Data != "AAAA" {
		t.Errorf("Unexpected request payload: %+v", got)
	}
}

func TestHTTPClient_NonOKIsFailure(t *testing.T) {
	srv := namingServer(t, http.StatusInternalServerError, "", nil)

	_, err := NewHTTPClient(srv.URL, 0).Suggest(context.Background(), resize.Payload{MimeType: "image/jpeg", Data: "AAAA"})
	if !errors.Is(err, ErrService) {
		t.Errorf("Expected ErrService, got %v", err)
	}
}

func TestHTTPClient_EmptyName(t *testing.T) {
	srv := namingServer(t, http.StatusOK, "  ", nil)

	_, err := NewHTTPClient(srv.URL, 0).Suggest(context.Background(), resize.Payload{MimeType: "image/jpeg", Data: "AAAA"})
	if !errors.Is(err, ErrService) {
		t.Errorf("Expected ErrService, got %v", err)
	}
}

func newTestCoordinator(t *testing.T, client Client, settings batch.Settings) (*batch.Registry, *Coordinator, string) {
	t.Helper()
	reg := batch.NewRegistry(handle.NewStore(), settings)
	id := reg.Add(batch.Input{Name: "IMG_0001.png", MediaType: "image/png", Data: pngBytes(t, 1024, 768)})[0]
	return reg, NewCoordinator(reg, client, logger.Discard()), id
}

func TestCoordinator_ServiceErrorLeavesRecord(t *testing.T) {
	srv := namingServer(t, http.StatusInternalServerError, "", nil)
	reg, coord, id := newTestCoordinator(t, NewHTTPClient(srv.URL, 0), batch.DefaultSettings())
	reg.Rename(id, "keep.webp")
	before, _ := reg.Get(id)

	if _, ok := coord.SuggestName(context.Background(), id); ok {
		t.Fatal("Expected suggestion to fail")
	}

	after, _ := reg.Get(id)
	if after.DisplayName != before.DisplayName || after.Status != before.Status || after.Err != nil {
		t.Errorf("Record changed on naming failure: before %+v after %+v", before, after)
	}
	if coord.Renaming() != "" {
		t.Error("Expected renaming marker cleared")
	}
}

func TestCoordinator_AppliesSlugWithTargetExtension(t *testing.T) {
	var got resize.Payload
	srv := namingServer(t, http.StatusOK, "Red Bicycle.jpg", &got)
	reg, coord, id := newTestCoordinator(t, NewHTTPClient(srv.URL, 0), batch.DefaultSettings())

	name, ok := coord.SuggestName(context.Background(), id)
	if !ok {
		t.Fatal("Expected suggestion to succeed")
	}
	if name != "red-bicycle.webp" {
		t.Errorf("Expected red-bicycle.webp, got %q", name)
	}
	rec, _ := reg.Get(id)
	if rec.DisplayName != name || rec.Status != batch.StatusPending {
		t.Errorf("Unexpected record after naming: %+v", rec)
	}
	if got.MimeType != "image/jpeg" {
		t.Errorf("Expected JPEG thumbnail, got %s", got.MimeType)
	}
}

func TestCoordinator_KeepsExistingExtension(t *testing.T) {
	srv := namingServer(t, http.StatusOK, "Mountain Lake", nil)
	reg, coord, id := newTestCoordinator(t, NewHTTPClient(srv.URL, 0), batch.DefaultSettings())
	reg.Rename(id, "IMG_0001_opti.avif")

	name, ok := coord.SuggestName(context.Background(), id)
	if !ok || name != "mountain-lake.avif" {
		t.Errorf("Expected mountain-lake.avif, got %q (%v)", name, ok)
	}

	// A second suggestion chains off the extension the first one applied.
	reg.SetSettings(batch.Settings{TargetFormat: batch.FormatPNG, Quality: 0.5})
	name, _ = coord.SuggestName(context.Background(), id)
	if name != "mountain-lake.avif" {
		t.Errorf("Expected chained extension, got %q", name)
	}
}

func TestCoordinator_OriginalFormatUsesSourceExtension(t *testing.T) {
	srv := namingServer(t, http.StatusOK, "Desk", nil)
	_, coord, id := newTestCoordinator(t, NewHTTPClient(srv.URL, 0), batch.Settings{TargetFormat: batch.FormatOriginal, Quality: 0.8})

	if name, _ := coord.SuggestName(context.Background(), id); name != "desk.png" {
		t.Errorf("Expected desk.png, got %q", name)
	}
}

func TestCoordinator_ThumbnailUsesOriginalSource(t *testing.T) {
	var got resize.Payload
	srv := namingServer(t, http.StatusOK, "x", &got)
	_, coord, id := newTestCoordinator(t, NewHTTPClient(srv.URL, 0), batch.DefaultSettings())

	coord.SuggestName(context.Background(), id)

	want := resize.Thumbnail(pngBytes(t, 1024, 768), "image/png")
	if got.Data != want.Data {
		t.Error("Expected thumbnail derived from the original source bytes")
	}
}

type blockingClient struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingClient) Suggest(ctx context.Context, payload resize.Payload) (string, error) {
	close(c.entered)
	<-c.release
	return "later", nil
}

func TestCoordinator_RenamingMarker(t *testing.T) {
	client := &blockingClient{entered: make(chan struct{}), release: make(chan struct{})}
	_, coord, id := newTestCoordinator(t, client, batch.DefaultSettings())

	done := make(chan bool)
	go func() {
		_, ok := coord.SuggestName(context.Background(), id)
		done <- ok
	}()
	<-client.entered

	if coord.Renaming() != id {
		t.Errorf("Expected %s renaming, got %q", id, coord.Renaming())
	}
	if _, ok := coord.SuggestName(context.Background(), id); ok {
		t.Error("Expected second suggestion for the same record to be rejected")
	}

	close(client.release)
	if !<-done {
		t.Error("Expected first suggestion to succeed")
	}
	if coord.Renaming() != "" {
		t.Error("Expected marker cleared")
	}
}

func TestCoordinator_UnknownRecord(t *testing.T) {
	_, coord, _ := newTestCoordinator(t, UpstreamClient{Upstream: fakeUpstream{name: "x"}}, batch.DefaultSettings())
	if _, ok := coord.SuggestName(context.Background(), "missing"); ok {
		t.Error("Expected failure for unknown record")
	}
}

type fakeUpstream struct {
	name string
	err  error
}

func (f fakeUpstream) Describe(ctx context.Context, payload resize.Payload) (string, error) {
	return f.name, f.err
}

func TestServiceHandler(t *testing.T) {
	valid := `{"mimeType":"image/jpeg","data":"AAAA"}`
	tests := []struct {
		name     string
		method   string
		body     string
		upstream Upstream
		status   int
		field    string
	}{
		{"wrong method", http.MethodGet, "", fakeUpstream{name: "x"}, http.StatusMethodNotAllowed, "error"},
		{"malformed json", http.MethodPost, "{", fakeUpstream{name: "x"}, http.StatusBadRequest, "error"},
		{"missing data", http.MethodPost, `{"mimeType":"image/jpeg"}`, fakeUpstream{name: "x"}, http.StatusBadRequest, "error"},
		{"missing mime type", http.MethodPost, `{"data":"AAAA"}`, fakeUpstream{name: "x"}, http.StatusBadRequest, "error"},
		{"not configured", http.MethodPost, valid, nil, http.StatusInternalServerError, "error"},
		{"upstream failure", http.MethodPost, valid, fakeUpstream{err: errors.New("quota")}, http.StatusInternalServerError, "error"},
		{"success", http.MethodPost, valid, fakeUpstream{name: "sunny beach"}, http.StatusOK, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServiceHandler(tt.upstream, logger.Discard())
			req := httptest.NewRequest(tt.method, "/api/name", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if body[tt.field] == "" {
				t.Errorf("Expected %q in body, got %v", tt.field, body)
			}
		})
	}
}

func TestGeminiUpstream_Describe(t *testing.T) {
	var gotKey, gotPath string
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"  city skyline at night \n"}]}}]}`)
	}))
	defer srv.Close()

	g := NewGeminiUpstream(srv.URL+"/", "gemini-test", "secret", 0)
	text, err := g.Describe(context.Background(), resize.Payload{MimeType: "image/jpeg", Data: "AAAA"})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if text != "city skyline at night" {
		t.Errorf("Unexpected text %q", text)
	}
	if gotKey != "secret" || gotPath != "/v1beta/models/gemini-test:generateContent" {
		t.Errorf("Unexpected request: key %q path %q", gotKey, gotPath)
	}
	parts := gotReq.Contents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.Data != "AAAA" {
		t.Errorf("Unexpected request parts: %+v", parts)
	}
}

func TestGeminiUpstream_Errors(t *testing.T) {
	if _, err := NewGeminiUpstream("http://unused", "m", "", 0).Describe(context.Background(), resize.Payload{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	if _, err := NewGeminiUpstream(srv.URL, "m", "k", 0).Describe(context.Background(), resize.Payload{}); err == nil {
		t.Error("Expected error for non-200 response")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer empty.Close()
	if _, err := NewGeminiUpstream(empty.URL, "m", "k", 0).Describe(context.Background(), resize.Payload{}); err == nil {
		t.Error("Expected error for response without text")
	}
}

package batch

import (
	"path/filepath"
	"strings"

	"image-optimizer-go/internal/handle"
)

// Status is a record's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ErrorInfo describes why a record failed. Message is safe to show users.
type ErrorInfo struct {
	Message string `json:"message"`
}

// Input is one raw image accepted into the batch.
type Input struct {
	Name      string
	MediaType string
	Data      []byte
}

// Record is one submitted image and its processing outcome. Records handed
// out by a Registry are copies; byte slices are shared and must not be
// modified.
type Record struct {
	ID         string        `json:"id"`
	SourceName string        `json:"sourceName"`
	SourceType string        `json:"sourceType"`
	SourceSize int64         `json:"sourceSize"`
	Source     []byte        `json:"-"`
	Preview    handle.Handle `json:"preview"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	Result       []byte        `json:"-"`
	ResultType   string        `json:"resultType,omitempty"`
	ResultHandle handle.Handle `json:"resultHandle,omitempty"`
	ResultSize   int64         `json:"resultSize,omitempty"`

	DisplayName string     `json:"displayName,omitempty"`
	Err         *ErrorInfo `json:"error,omitempty"`

	run uint64
}

// Run returns the processing generation of the record. It changes every
// time the record enters StatusProcessing.
func (r Record) Run() uint64 {
	return r.run
}

// HasResult reports whether the record holds a produced payload.
func (r Record) HasResult() bool {
	return r.Result != nil && !r.ResultHandle.IsZero()
}

// Stem returns the source file name without directory and extension.
func (r Record) Stem() string {
	base := filepath.Base(r.SourceName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "image"
	}
	return stem
}

// ExtensionOf returns the lowercased extension of name without its dot.
func ExtensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

package compressor

import (
	"context"
	"path/filepath"
	"strings"

	"image-optimizer-go/internal/codec"
)

// File is an in-memory image with its declared media type.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Size returns the payload length in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// WithExtension returns name with its extension replaced by the one
// matching mediaType.
func WithExtension(name, mediaType string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	ext := codec.ExtensionFor(mediaType)
	if ext == "" {
		return name
	}
	return stem + "." + ext
}

// ProgressFunc receives engine progress as a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// Options configures a single engine call.
type Options struct {
	// MaxSizeBytes is a soft output size target. 0 disables it.
	MaxSizeBytes int64
	// MaxWidthOrHeight bounds the longest side. 0 disables it.
	MaxWidthOrHeight int
	// FileType is the output media type. Empty keeps the input type.
	FileType string
	// InitialQuality is the first encode quality in (0, 1].
	InitialQuality float64
	// PreserveMetadata copies EXIF from MetadataSource into JPEG output.
	PreserveMetadata bool
	MetadataSource   []byte
	// OnProgress is optional.
	OnProgress ProgressFunc
}

// Engine re-encodes images.
type Engine interface {
	// Compress returns the re-encoded file or an error when the input cannot
	// be decoded or the output cannot be encoded.
	Compress(ctx context.Context, file File, opts Options) (File, error)
}

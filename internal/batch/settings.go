package batch

import (
	"fmt"
	"strings"

	"image-optimizer-go/internal/codec"
)

// Format is a BatchSettings target format.
type Format string

const (
	FormatOriginal Format = "original"
	FormatWebP     Format = "webp"
	FormatAVIF     Format = "avif"
	FormatJPEG     Format = "jpeg"
	FormatPNG      Format = "png"
)

// Formats lists every accepted target format.
var Formats = []Format{FormatOriginal, FormatWebP, FormatAVIF, FormatJPEG, FormatPNG}

// Settings is the process-wide configuration applied to each record run.
type Settings struct {
	TargetFormat     Format  `json:"targetFormat"`
	Quality          float64 `json:"quality"`
	MaxWidth         int     `json:"maxWidth"`
	MaxHeight        int     `json:"maxHeight"`
	PreserveMetadata bool    `json:"preserveMetadata"`
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		TargetFormat: FormatWebP,
		Quality:      0.8,
		MaxWidth:     1920,
		MaxHeight:    1080,
	}
}

// ParseFormat parses a target format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid target format: %s (valid: original, webp, avif, jpeg, png)", s)
}

// Validate reports whether s is usable. Bounds <= 0 are accepted and
// disable resizing on that axis.
func (s Settings) Validate() error {
	if _, err := ParseFormat(string(s.TargetFormat)); err != nil {
		return err
	}
	if s.Quality <= 0 || s.Quality > 1 {
		return fmt.Errorf("invalid quality: %v (must be in (0, 1])", s.Quality)
	}
	return nil
}

// OutputMediaType returns the media type produced for a source of
// sourceType under s.
func (s Settings) OutputMediaType(sourceType string) string {
	if s.TargetFormat == FormatOriginal || s.TargetFormat == "" {
		return codec.Normalize(sourceType)
	}
	return "image/" + string(s.TargetFormat)
}

// OutputExtension returns the extension, without dot, produced for a
// source named sourceName of sourceType under s.
func (s Settings) OutputExtension(sourceName, sourceType string) string {
	if s.TargetFormat == FormatOriginal || s.TargetFormat == "" {
		if ext := ExtensionOf(sourceName); ext != "" {
			return ext
		}
		return codec.ExtensionFor(sourceType)
	}
	return string(s.TargetFormat)
}

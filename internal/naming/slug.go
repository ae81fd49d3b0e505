package naming

import (
	"path/filepath"
	"regexp"
	"strings"
)

// FallbackSlug replaces a suggestion that slugifies to nothing.
const FallbackSlug = "image"

var (
	trailingExtRe = regexp.MustCompile(`\.[A-Za-z0-9]+$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	unsafeRe      = regexp.MustCompile(`[^a-z0-9-]`)
	hyphensRe     = regexp.MustCompile(`-+`)
)

// Slugify turns free text into a lowercase hyphenated file stem.
func Slugify(s string) string {
	s = strings.TrimSpace(s)
	s = trailingExtRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, "-")
	s = strings.ToLower(s)
	s = unsafeRe.ReplaceAllString(s, "-")
	s = hyphensRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return FallbackSlug
	}
	return s
}

// WithExtension joins slug and ext, ext given without its dot.
func WithExtension(slug, ext string) string {
	if ext == "" {
		return slug
	}
	return slug + "." + ext
}

func extensionOf(name string) string {
	return strings.TrimPrefix(filepath.Ext(name), ".")
}

//go:build !cgo

package codec

import (
	"fmt"
	"image"
	"io"
)

// libwebp needs cgo.
func encodeWebP(w io.Writer, img image.Image, quality float64) error {
	return fmt.Errorf("%w: %s requires cgo", ErrUnsupportedFormat, WebP)
}

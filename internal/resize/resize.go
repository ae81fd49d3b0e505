// Package resize scales images to fit bounding boxes and produces small
// thumbnails for remote consumption. Every function here is best-effort:
// failures degrade to a documented fallback value instead of an error.
package resize

import (
	"math"

	"image-optimizer-go/internal/codec"

	"github.com/disintegration/imaging"
)

// reencodeQuality is used when a resized image is re-encoded in its own
// lossy format.
const reencodeQuality = 0.92

// Fit computes the dimensions of a w x h image scaled down to fit within
// maxWidth x maxHeight, preserving aspect ratio. ok is false when the image
// already fits or a bound is disabled (<= 0), in which case no resize
// should happen.
func Fit(w, h, maxWidth, maxHeight int) (int, int, bool) {
	if w <= 0 || h <= 0 || maxWidth <= 0 || maxHeight <= 0 {
		return w, h, false
	}

	scale := math.Min(math.Min(float64(maxWidth)/float64(w), float64(maxHeight)/float64(h)), 1)
	if scale >= 1 {
		return w, h, false
	}

	tw := max(1, int(math.Round(float64(w)*scale)))
	th := max(1, int(math.Round(float64(h)*scale)))
	return tw, th, true
}

// Resize scales data down to fit within maxWidth x maxHeight and re-encodes
// it in the same media type. It never upscales. Non-image media types,
// disabled bounds and any decode or encode failure return data unchanged.
func Resize(data []byte, mediaType string, maxWidth, maxHeight int) []byte {
	out, err := tryResize(data, mediaType, maxWidth, maxHeight)
	if err != nil {
		return data
	}
	return out
}

func tryResize(data []byte, mediaType string, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 || !codec.IsImage(mediaType) {
		return data, nil
	}

	img, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	tw, th, ok := Fit(b.Dx(), b.Dy(), maxWidth, maxHeight)
	if !ok {
		return data, nil
	}

	resized := imaging.Resize(img, tw, th, imaging.Lanczos)
	return codec.Encode(resized, mediaType, reencodeQuality)
}

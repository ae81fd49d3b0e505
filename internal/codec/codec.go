package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Supported media types.
const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	GIF  = "image/gif"
	WebP = "image/webp"
	AVIF = "image/avif"
)

// ErrUnsupportedFormat is returned when no encoder exists for a media type.
var ErrUnsupportedFormat = errors.New("unsupported media type")

var extensions = map[string]string{
	JPEG: "jpg",
	PNG:  "png",
	GIF:  "gif",
	WebP: "webp",
	AVIF: "avif",
}

var byExtension = map[string]string{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".png":  PNG,
	".gif":  GIF,
	".webp": WebP,
	".avif": AVIF,
}

// Normalize lowercases a media type, strips parameters and folds aliases.
func Normalize(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		return JPEG
	}
	return mt
}

// IsImage reports whether mediaType names an image.
func IsImage(mediaType string) bool {
	return strings.HasPrefix(Normalize(mediaType), "image/")
}

// ExtensionFor returns the file extension, without dot, for a media type.
func ExtensionFor(mediaType string) string {
	mt := Normalize(mediaType)
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	if sub, ok := strings.CutPrefix(mt, "image/"); ok {
		return sub
	}
	return ""
}

// MediaTypeForName guesses the media type from a file name's extension.
func MediaTypeForName(name string) string {
	return byExtension[strings.ToLower(filepath.Ext(name))]
}

// Decode decodes an encoded image, applying EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Dimensions returns the pixel size of an encoded image without decoding it.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Encode encodes img as mediaType. quality is in (0, 1] and is ignored by
// lossless formats.
func Encode(img image.Image, mediaType string, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch Normalize(mediaType) {
	case JPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(percent(quality)))
	case PNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case GIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	case WebP:
		err = encodeWebP(&buf, img, quality)
	case AVIF:
		return encodeAVIF(img, quality)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", mediaType, err)
	}
	return buf.Bytes(), nil
}

// IsLossy reports whether quality affects the encoding of mediaType.
func IsLossy(mediaType string) bool {
	switch Normalize(mediaType) {
	case JPEG, WebP, AVIF:
		return true
	}
	return false
}

// percent maps a (0, 1] quality to the 1..100 range used by encoders.
func percent(quality float64) int {
	q := int(math.Round(quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

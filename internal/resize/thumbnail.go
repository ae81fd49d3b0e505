package resize

import (
	"encoding/base64"
	"image"
	"image/color"

	"image-optimizer-go/internal/codec"

	"github.com/disintegration/imaging"
)

const (
	// ThumbnailSize bounds both sides of a thumbnail.
	ThumbnailSize = 512
	// ThumbnailQuality is the JPEG quality of a thumbnail.
	ThumbnailQuality = 0.7
)

// Payload is a base64 encoded image ready for a JSON request body.
type Payload struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Thumbnail returns a JPEG rendition of data bounded by ThumbnailSize.
// When the JPEG encode fails the resized intermediate is returned verbatim
// with its original media type, so a payload is always produced.
func Thumbnail(data []byte, mediaType string) Payload {
	resized := Resize(data, mediaType, ThumbnailSize, ThumbnailSize)

	out, err := encodeThumbnail(resized)
	if err != nil {
		return Payload{
			MimeType: mediaType,
			Data:     base64.StdEncoding.EncodeToString(resized),
		}
	}
	return Payload{
		MimeType: codec.JPEG,
		Data:     base64.StdEncoding.EncodeToString(out),
	}
}

func encodeThumbnail(data []byte) ([]byte, error) {
	img, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}

	// JPEG has no alpha channel.
	b := img.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Point{}, 1.0)

	return codec.Encode(flat, codec.JPEG, ThumbnailQuality)
}

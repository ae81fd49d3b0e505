//go:build cgo

package codec

import (
	"image"
	"io"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

func encodeWebP(w io.Writer, img image.Image, quality float64) error {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(percent(quality)))
	if err != nil {
		return err
	}
	return webp.Encode(w, img, options)
}

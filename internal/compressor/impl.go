package compressor

import (
	"context"
	"fmt"
	"math"

	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/metadata"
	"image-optimizer-go/internal/resize"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

const (
	qualityStep = 0.85
	minQuality  = 0.1
	maxPasses   = 8
)

// DefaultEngine is the default implementation of the Engine interface.
type DefaultEngine struct {
	log       *logrus.Logger
	preserver metadata.Preserver
}

// NewDefaultEngine creates a new DefaultEngine that preserves metadata with exiftool.
func NewDefaultEngine(log *logrus.Logger) *DefaultEngine {
	return NewDefaultEngineWithPreserver(log, metadata.NewExiftoolPreserver())
}

// NewDefaultEngineWithPreserver creates a DefaultEngine with a custom metadata preserver.
func NewDefaultEngineWithPreserver(log *logrus.Logger, preserver metadata.Preserver) *DefaultEngine {
	return &DefaultEngine{
		log:       log,
		preserver: preserver,
	}
}

// Compress decodes file, fits it within opts.MaxWidthOrHeight and encodes it
// as opts.FileType. Lossy output is re-encoded at decreasing quality until it
// fits opts.MaxSizeBytes or the pass budget runs out.
func (e *DefaultEngine) Compress(ctx context.Context, file File, opts Options) (File, error) {
	report := func(p float64) {
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}

	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	report(0)

	target := codec.Normalize(opts.FileType)
	if target == "" {
		target = codec.Normalize(file.MediaType)
	}

	img, err := codec.Decode(file.Data)
	if err != nil {
		return File{}, fmt.Errorf("compress %s: %w", file.Name, err)
	}
	report(0.1)

	if m := opts.MaxWidthOrHeight; m > 0 {
		b := img.Bounds()
		if tw, th, ok := resize.Fit(b.Dx(), b.Dy(), m, m); ok {
			img = imaging.Resize(img, tw, th, imaging.Lanczos)
		}
	}
	report(0.2)

	quality := opts.InitialQuality
	if quality <= 0 || quality > 1 {
		quality = 1
	}

	var out []byte
	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return File{}, err
		}

		out, err = codec.Encode(img, target, quality)
		if err != nil {
			return File{}, fmt.Errorf("compress %s: %w", file.Name, err)
		}
		report(0.2 + 0.7*float64(pass)/maxPasses)

		fits := opts.MaxSizeBytes <= 0 || int64(len(out)) <= opts.MaxSizeBytes
		if fits || !codec.IsLossy(target) || pass >= maxPasses || quality <= minQuality {
			break
		}
		quality = math.Max(minQuality, quality*qualityStep)
	}

	if opts.PreserveMetadata && target == codec.JPEG && len(opts.MetadataSource) > 0 {
		withEXIF, err := e.preserver.CopyEXIF(opts.MetadataSource, out)
		if err != nil {
			e.log.WithField("file", file.Name).Warnf("EXIF not preserved: %v", err)
		} else {
			out = withEXIF
		}
	}
	report(1)

	e.log.WithFields(logrus.Fields{
		"file":     file.Name,
		"format":   target,
		"quality":  quality,
		"src_size": file.Size(),
		"out_size": len(out),
	}).Debug("Image compressed")

	return File{
		Name:      WithExtension(file.Name, target),
		MediaType: target,
		Data:      out,
	}, nil
}

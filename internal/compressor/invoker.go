package compressor

import (
	"context"
	"math"

	"image-optimizer-go/internal/batch"
)

// Bounds of the record progress range covered by the engine.
const (
	ProgressResized = 10
	progressSpan    = 85
)

// Invoker derives engine options from batch settings and maps engine
// progress onto record progress.
type Invoker struct {
	engine Engine
}

// NewInvoker returns an Invoker calling engine.
func NewInvoker(engine Engine) *Invoker {
	return &Invoker{engine: engine}
}

// ScaleProgress maps an engine fraction onto the record range [10, 95].
func ScaleProgress(fraction float64) int {
	if math.IsNaN(fraction) {
		fraction = 0
	}
	fraction = math.Max(0, math.Min(1, fraction))
	return ProgressResized + int(math.Round(fraction*progressSpan))
}

// Options returns the engine options used for source under settings.
func (i *Invoker) Options(source File, settings batch.Settings) Options {
	opts := Options{
		MaxSizeBytes:     int64(float64(source.Size()) * settings.Quality),
		MaxWidthOrHeight: max(settings.MaxWidth, settings.MaxHeight, 0),
		FileType:         settings.OutputMediaType(source.MediaType),
		InitialQuality:   settings.Quality,
		PreserveMetadata: settings.PreserveMetadata,
	}
	if settings.PreserveMetadata {
		opts.MetadataSource = source.Data
	}
	return opts
}

// Compress runs the engine on resized, the pre-resized intermediate of
// source. onProgress receives record progress values and may be nil.
// Engine errors are returned unchanged.
func (i *Invoker) Compress(ctx context.Context, source, resized File, settings batch.Settings, onProgress func(int)) (File, error) {
	opts := i.Options(source, settings)
	if onProgress != nil {
		opts.OnProgress = func(f float64) {
			onProgress(ScaleProgress(f))
		}
	}
	return i.engine.Compress(ctx, resized, opts)
}

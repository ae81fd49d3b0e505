package compressor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"image-optimizer-go/internal/batch"

	"github.com/sirupsen/logrus"
)

type fakeEngine struct {
	gotFile File
	gotOpts Options
	steps   []float64
	err     error
}

func (f *fakeEngine) Compress(ctx context.Context, file File, opts Options) (File, error) {
	f.gotFile = file
	f.gotOpts = opts
	for _, p := range f.steps {
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}
	if f.err != nil {
		return File{}, f.err
	}
	return File{Name: file.Name, MediaType: opts.FileType, Data: []byte("out")}, nil
}

type nopPreserver struct{ called bool }

func (p *nopPreserver) CopyEXIF(src, dst []byte) ([]byte, error) {
	p.called = true
	return dst, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func noisyImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.NRGBA{R: uint8(seed >> 24), G: uint8(seed >> 16), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func TestScaleProgress(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 10},
		{0.5, 53},
		{1, 95},
		{-1, 10},
		{2, 95},
	}
	for _, tt := range tests {
		if got := ScaleProgress(tt.in); got != tt.want {
			t.Errorf("ScaleProgress(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInvoker_Options(t *testing.T) {
	inv := NewInvoker(&fakeEngine{})
	source := File{Name: "a.png", MediaType: "image/png", Data: make([]byte, 1000)}

	opts := inv.Options(source, batch.Settings{TargetFormat: batch.FormatWebP, Quality: 0.5, MaxWidth: 800, MaxHeight: 1200})
	if opts.MaxSizeBytes != 500 {
		t.Errorf("Expected size hint 500, got %d", opts.MaxSizeBytes)
	}
	if opts.MaxWidthOrHeight != 1200 {
		t.Errorf("Expected dimension ceiling 1200, got %d", opts.MaxWidthOrHeight)
	}
	if opts.FileType != "image/webp" {
		t.Errorf("Expected image/webp, got %s", opts.FileType)
	}
	if opts.MetadataSource != nil {
		t.Error("Expected no metadata source when not preserving")
	}

	opts = inv.Options(source, batch.Settings{TargetFormat: batch.FormatOriginal, Quality: 0.8, PreserveMetadata: true})
	if opts.FileType != "image/png" {
		t.Errorf("Expected source type for original, got %s", opts.FileType)
	}
	if !opts.PreserveMetadata || len(opts.MetadataSource) != 1000 {
		t.Error("Expected source bytes as metadata source")
	}
}

func TestInvoker_ForwardsScaledProgress(t *testing.T) {
	engine := &fakeEngine{steps: []float64{0, 0.5, 1}}
	inv := NewInvoker(engine)

	var got []int
	source := File{Name: "a.png", MediaType: "image/png", Data: []byte("src")}
	resized := File{Name: "a.png", MediaType: "image/png", Data: []byte("small")}
	if _, err := inv.Compress(context.Background(), source, resized, batch.DefaultSettings(), func(p int) {
		got = append(got, p)
	}); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	want := []int{10, 53, 95}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Step %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if string(engine.gotFile.Data) != "small" {
		t.Error("Expected engine to receive the resized intermediate")
	}
}

func TestInvoker_PropagatesEngineError(t *testing.T) {
	boom := errors.New("boom")
	inv := NewInvoker(&fakeEngine{err: boom})

	_, err := inv.Compress(context.Background(), File{}, File{}, batch.DefaultSettings(), nil)
	if !errors.Is(err, boom) {
		t.Errorf("Expected engine error, got %v", err)
	}
}

func TestDefaultEngine_PNGToJPEG(t *testing.T) {
	data := encodePNG(t, noisyImage(64, 48))
	engine := NewDefaultEngineWithPreserver(quietLogger(), &nopPreserver{})

	var last float64
	out, err := engine.Compress(context.Background(), File{Name: "pic.png", MediaType: "image/png", Data: data}, Options{
		FileType:       "image/jpeg",
		InitialQuality: 0.8,
		OnProgress:     func(p float64) { last = p },
	})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if out.MediaType != "image/jpeg" || out.Name != "pic.jpg" {
		t.Errorf("Unexpected output file: %s %s", out.Name, out.MediaType)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out.Data)); err != nil {
		t.Errorf("Output is not a JPEG: %v", err)
	}
	if last != 1 {
		t.Errorf("Expected final progress 1, got %v", last)
	}
}

func TestDefaultEngine_FitsLongestSide(t *testing.T) {
	data := encodePNG(t, noisyImage(200, 100))
	engine := NewDefaultEngineWithPreserver(quietLogger(), &nopPreserver{})

	out, err := engine.Compress(context.Background(), File{Name: "a.png", MediaType: "image/png", Data: data}, Options{
		MaxWidthOrHeight: 50,
		InitialQuality:   0.8,
	})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("Output is not a PNG: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 25 {
		t.Errorf("Expected 50x25, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestDefaultEngine_StepsQualityDown(t *testing.T) {
	data := encodePNG(t, noisyImage(128, 128))
	engine := NewDefaultEngineWithPreserver(quietLogger(), &nopPreserver{})
	src := File{Name: "a.png", MediaType: "image/png", Data: data}

	loose, err := engine.Compress(context.Background(), src, Options{FileType: "image/jpeg", InitialQuality: 1})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	tight, err := engine.Compress(context.Background(), src, Options{FileType: "image/jpeg", InitialQuality: 1, MaxSizeBytes: 1})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if tight.Size() >= loose.Size() {
		t.Errorf("Expected size target to lower output size: %d >= %d", tight.Size(), loose.Size())
	}
}

func TestDefaultEngine_PreservesMetadataForJPEG(t *testing.T) {
	data := encodePNG(t, noisyImage(16, 16))
	p := &nopPreserver{}
	engine := NewDefaultEngineWithPreserver(quietLogger(), p)

	_, err := engine.Compress(context.Background(), File{Name: "a.png", MediaType: "image/png", Data: data}, Options{
		FileType:         "image/jpeg",
		InitialQuality:   0.8,
		PreserveMetadata: true,
		MetadataSource:   data,
	})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !p.called {
		t.Error("Expected preserver to be called for JPEG output")
	}
}

func TestDefaultEngine_CorruptInput(t *testing.T) {
	engine := NewDefaultEngineWithPreserver(quietLogger(), &nopPreserver{})
	_, err := engine.Compress(context.Background(), File{Name: "bad.jpg", MediaType: "image/jpeg", Data: []byte("nope")}, Options{InitialQuality: 0.8})
	if err == nil {
		t.Error("Expected error for corrupt input")
	}
}

func TestDefaultEngine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := NewDefaultEngineWithPreserver(quietLogger(), &nopPreserver{})
	_, err := engine.Compress(ctx, File{Name: "a.png", Data: []byte("x")}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWithExtension(t *testing.T) {
	tests := []struct{ name, mt, want string }{
		{"a.png", "image/jpeg", "a.jpg"},
		{"a", "image/webp", "a.webp"},
		{"a.png", "application/pdf", "a.png"},
	}
	for _, tt := range tests {
		if got := WithExtension(tt.name, tt.mt); got != tt.want {
			t.Errorf("WithExtension(%q, %q) = %q, want %q", tt.name, tt.mt, got, tt.want)
		}
	}
}

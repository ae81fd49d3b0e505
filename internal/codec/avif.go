package codec

import (
	"fmt"
	"image"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

// FFmpegAvailable reports whether AVIF encoding is possible on this host.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// encodeAVIF shells out to ffmpeg with libaom, there is no AVIF encoder in Go.
func encodeAVIF(img image.Image, quality float64) ([]byte, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: %s needs ffmpeg in PATH", ErrUnsupportedFormat, AVIF)
	}

	dir, err := os.MkdirTemp("", "image-optimizer-avif-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.png")
	outPath := filepath.Join(dir, "out.avif")
	if err := imaging.Save(img, inPath); err != nil {
		return nil, fmt.Errorf("write avif input: %w", err)
	}

	// crf 0 is best, 63 is worst.
	crf := int(math.Round((1 - quality) * 63))
	crf = max(0, min(63, crf))

	cmd := exec.Command(ffmpeg,
		"-y", "-loglevel", "error",
		"-i", inPath,
		"-c:v", "libaom-av1",
		"-still-picture", "1",
		"-crf", strconv.Itoa(crf),
		"-b:v", "0",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg avif encode failed: %w, output: %s", err, output)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read avif output: %w", err)
	}
	return data, nil
}

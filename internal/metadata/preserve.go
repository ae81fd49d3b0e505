// Package metadata inspects EXIF data and carries it across re-encodes.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/barasher/go-exiftool"
)

// copiedFields are the tags carried from source to output. Orientation is
// left out because decoded pixels are already rotated.
var copiedFields = []string{
	"Make",
	"Model",
	"LensModel",
	"DateTimeOriginal",
	"CreateDate",
	"ModifyDate",
	"Artist",
	"Copyright",
	"ExposureTime",
	"FNumber",
	"ISO",
	"FocalLength",
	"GPSLatitude",
	"GPSLatitudeRef",
	"GPSLongitude",
	"GPSLongitudeRef",
	"GPSAltitude",
}

// Preserver copies EXIF tags from an original JPEG into a re-encoded one.
type Preserver interface {
	CopyEXIF(src, dst []byte) ([]byte, error)
}

// ExiftoolPreserver implements Preserver with the exiftool binary.
type ExiftoolPreserver struct{}

// NewExiftoolPreserver returns an ExiftoolPreserver.
func NewExiftoolPreserver() *ExiftoolPreserver {
	return &ExiftoolPreserver{}
}

// CopyEXIF returns dst with the EXIF tags of src applied. When src has no
// EXIF block dst is returned unchanged without starting exiftool.
func (p *ExiftoolPreserver) CopyEXIF(src, dst []byte) ([]byte, error) {
	if !Inspect(src).HasEXIF {
		return dst, nil
	}

	dir, err := os.MkdirTemp("", "image-optimizer-exif-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "src.jpg")
	dstPath := filepath.Join(dir, "dst.jpg")
	if err := os.WriteFile(srcPath, src, 0644); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}
	if err := os.WriteFile(dstPath, dst, 0644); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	defer et.Close()

	files := et.ExtractMetadata(srcPath)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata")
	}
	if files[0].Err != nil {
		return nil, fmt.Errorf("extract metadata: %w", files[0].Err)
	}

	out := exiftool.EmptyFileMetadata()
	out.File = dstPath
	for _, key := range copiedFields {
		if v, ok := files[0].Fields[key]; ok {
			out.Fields[key] = v
		}
	}
	if len(out.Fields) == 0 {
		return dst, nil
	}

	written := []exiftool.FileMetadata{out}
	et.WriteMetadata(written)
	if written[0].Err != nil {
		return nil, fmt.Errorf("write metadata: %w", written[0].Err)
	}

	data, err := os.ReadFile(dstPath)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return data, nil
}

// Package archive bundles completed batch results into a zip archive.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/handle"

	"github.com/sirupsen/logrus"
)

// FallbackName names entries of records without a display name.
const FallbackName = "image"

// entryTime is stamped on every entry so unchanged batches produce
// identical archives.
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Exporter writes archives from the results held by a handle store.
type Exporter struct {
	handles *handle.Store
	logger  *logrus.Logger
}

// NewExporter returns an Exporter dereferencing results through handles.
func NewExporter(handles *handle.Store, logger *logrus.Logger) *Exporter {
	return &Exporter{handles: handles, logger: logger}
}

// Eligible returns the completed records holding a result handle, in
// batch order.
func Eligible(records []batch.Record) []batch.Record {
	var out []batch.Record
	for _, rec := range records {
		if rec.Status == batch.StatusCompleted && !rec.ResultHandle.IsZero() {
			out = append(out, rec)
		}
	}
	return out
}

// EntryName returns the archive entry name of rec. Directory parts are
// dropped so every entry sits at the archive root.
func EntryName(rec batch.Record) string {
	name := path.Base(strings.ReplaceAll(rec.DisplayName, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return FallbackName
	}
	return name
}

// Build returns a zip archive of the eligible records. ok is false, with a
// nil error, when no record is eligible.
func (e *Exporter) Build(records []batch.Record) ([]byte, bool, error) {
	var buf bytes.Buffer
	n, err := e.Write(&buf, records)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}
	return buf.Bytes(), true, nil
}

// Write streams the archive to w and returns the number of entries
// written. Nothing is written when no record is eligible. Entries with the
// same name are all written; readers resolving by name see the last one.
func (e *Exporter) Write(w io.Writer, records []batch.Record) (int, error) {
	selected := Eligible(records)
	if len(selected) == 0 {
		e.logger.Info("No completed images to archive")
		return 0, nil
	}

	zw := zip.NewWriter(w)
	written := 0
	for _, rec := range selected {
		blob, ok := e.handles.Resolve(rec.ResultHandle)
		if !ok {
			e.logger.WithField("record", rec.ID).Warn("Result handle released before archiving, skipping")
			continue
		}

		header := &zip.FileHeader{
			Name:     EntryName(rec),
			Method:   zip.Store,
			Modified: entryTime,
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return written, fmt.Errorf("create entry %s: %w", header.Name, err)
		}
		if _, err := fw.Write(blob.Data); err != nil {
			return written, fmt.Errorf("write entry %s: %w", header.Name, err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("finish archive: %w", err)
	}

	e.logger.WithField("entries", written).Info("Archive built")
	return written, nil
}

package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains counters for a batch optimization run.
type Statistics struct {
	TotalImagesFound     int64
	TotalImagesProcessed int64
	ImagesCompleted      int64
	ImagesSkipped        int64
	ImagesWithErrors     int64
	ImagesDiscarded      int64

	BytesIn  int64
	BytesOut int64

	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	ImagesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	Image     string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// IncrementImagesFound increases the count of images considered by a run.
func (s *Statistics) IncrementImagesFound() {
	atomic.AddInt64(&s.TotalImagesFound, 1)
}

// IncrementImagesProcessed increases the count of images a run was attempted on.
func (s *Statistics) IncrementImagesProcessed() {
	atomic.AddInt64(&s.TotalImagesProcessed, 1)
}

// IncrementImagesCompleted increases the count of completed images.
func (s *Statistics) IncrementImagesCompleted() {
	atomic.AddInt64(&s.ImagesCompleted, 1)
}

// IncrementImagesSkipped increases the count of skipped images.
func (s *Statistics) IncrementImagesSkipped() {
	atomic.AddInt64(&s.ImagesSkipped, 1)
}

// IncrementImagesWithErrors increases the count of failed images.
func (s *Statistics) IncrementImagesWithErrors() {
	atomic.AddInt64(&s.ImagesWithErrors, 1)
}

// IncrementImagesDiscarded increases the count of results dropped because
// their record was removed or reset mid-run.
func (s *Statistics) IncrementImagesDiscarded() {
	atomic.AddInt64(&s.ImagesDiscarded, 1)
}

// IncrementFormat increases the count for an output media type.
func (s *Statistics) IncrementFormat(mediaType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[mediaType]++
}

// AddBytes adds the input and output sizes of one completed image.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// PercentSaved returns the share of input bytes saved by the run, clamped
// to [0, 100].
func (s *Statistics) PercentSaved() float64 {
	return PercentSaved(atomic.LoadInt64(&s.BytesIn), atomic.LoadInt64(&s.BytesOut))
}

// PercentSaved returns 100*(in-out)/in clamped to [0, 100]. An empty input
// saves nothing.
func PercentSaved(in, out int64) float64 {
	if in <= 0 {
		return 0
	}
	p := 100 * float64(in-out) / float64(in)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalImagesProcessed)
	if s.Duration.Seconds() > 0 {
		s.ImagesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(image, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		Image:     image,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	perSecond := s.ImagesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`Image Optimizer Statistics Summary:

Images:
		Total Found: %d
		Total Processed: %d
		Completed: %d
		Skipped: %d
		Errors: %d
		Discarded: %d

Size:
		Input: %s
		Output: %s
		Saved: %.1f%%

Performance:
		Duration: %v
		Images/Second: %.2f`,
		atomic.LoadInt64(&s.TotalImagesFound),
		atomic.LoadInt64(&s.TotalImagesProcessed),
		atomic.LoadInt64(&s.ImagesCompleted),
		atomic.LoadInt64(&s.ImagesSkipped),
		atomic.LoadInt64(&s.ImagesWithErrors),
		atomic.LoadInt64(&s.ImagesDiscarded),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		s.PercentSaved(),
		duration,
		perSecond)
}

// GetFormatBreakdown returns a formatted breakdown of output formats.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	result := "Output Format Breakdown:\n"
	for mediaType, count := range s.FormatStats {
		result += fmt.Sprintf("  %s: %d\n", mediaType, count)
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Image,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	return formatBytes(bytes)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Snapshot is a JSON-friendly copy of the counters.
type Snapshot struct {
	Found        int64   `json:"found"`
	Processed    int64   `json:"processed"`
	Completed    int64   `json:"completed"`
	Skipped      int64   `json:"skipped"`
	Errors       int64   `json:"errors"`
	Discarded    int64   `json:"discarded"`
	BytesIn      int64   `json:"bytesIn"`
	BytesOut     int64   `json:"bytesOut"`
	PercentSaved float64 `json:"percentSaved"`
	DurationMS   int64   `json:"durationMs"`
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	duration := s.Duration
	s.mutex.RUnlock()

	return Snapshot{
		Found:        atomic.LoadInt64(&s.TotalImagesFound),
		Processed:    atomic.LoadInt64(&s.TotalImagesProcessed),
		Completed:    atomic.LoadInt64(&s.ImagesCompleted),
		Skipped:      atomic.LoadInt64(&s.ImagesSkipped),
		Errors:       atomic.LoadInt64(&s.ImagesWithErrors),
		Discarded:    atomic.LoadInt64(&s.ImagesDiscarded),
		BytesIn:      atomic.LoadInt64(&s.BytesIn),
		BytesOut:     atomic.LoadInt64(&s.BytesOut),
		PercentSaved: s.PercentSaved(),
		DurationMS:   duration.Milliseconds(),
	}
}

package statistics

import (
	"strings"
	"sync"
	"testing"
)

func TestPercentSaved(t *testing.T) {
	tests := []struct {
		in, out int64
		want    float64
	}{
		{1000, 250, 75},
		{1000, 1000, 0},
		{1000, 1500, 0},
		{0, 10, 0},
		{100, 0, 100},
	}
	for _, tt := range tests {
		if got := PercentSaved(tt.in, tt.out); got != tt.want {
			t.Errorf("PercentSaved(%d, %d) = %v, want %v", tt.in, tt.out, got, tt.want)
		}
	}
}

func TestStatistics_Counters(t *testing.T) {
	s := NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementImagesFound()
			s.IncrementImagesProcessed()
			s.IncrementImagesCompleted()
			s.IncrementFormat("image/webp")
			s.AddBytes(200, 50)
		}()
	}
	wg.Wait()
	s.Finalize()

	snap := s.Snapshot()
	if snap.Found != 50 || snap.Processed != 50 || snap.Completed != 50 {
		t.Errorf("Unexpected counters: %+v", snap)
	}
	if snap.BytesIn != 10000 || snap.BytesOut != 2500 {
		t.Errorf("Unexpected byte totals: %+v", snap)
	}
	if snap.PercentSaved != 75 {
		t.Errorf("Expected 75%% saved, got %v", snap.PercentSaved)
	}
	if s.FormatStats["image/webp"] != 50 {
		t.Errorf("Expected 50 webp outputs, got %d", s.FormatStats["image/webp"])
	}
}

func TestStatistics_Summaries(t *testing.T) {
	s := NewStatistics()
	if got := s.GetErrorSummary(); got != "No errors occurred during processing" {
		t.Errorf("Unexpected empty error summary: %q", got)
	}
	if got := s.GetFormatBreakdown(); got != "No format statistics available" {
		t.Errorf("Unexpected empty breakdown: %q", got)
	}

	s.IncrementImagesWithErrors()
	s.AddError("broken.jpg", "compress", "Compression failed")
	s.AddBytes(2048, 1024)
	s.Finalize()

	if !strings.Contains(s.GetErrorSummary(), "broken.jpg") {
		t.Error("Expected error summary to name the image")
	}
	summary := s.GetSummary()
	for _, want := range []string{"Errors: 1", "Input: 2.0 KB", "Output: 1.0 KB", "Saved: 50.0%"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Expected summary to contain %q:\n%s", want, summary)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KB",
		1536:            "1.5 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

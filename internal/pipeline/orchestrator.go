// Package pipeline drives records through resize, compression and
// completion, one record at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/compressor"
	"image-optimizer-go/internal/logger"
	"image-optimizer-go/internal/resize"
	"image-optimizer-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// FailureMessage is the user-facing cause recorded for a failed run.
const FailureMessage = "Compression failed"

var (
	ErrNotFound     = errors.New("record not found")
	ErrNotRunnable  = errors.New("record is not pending or errored")
	ErrBatchRunning = errors.New("batch run already in progress")
)

// LogHookFunc receives user-facing log lines, for example to forward them
// over a WebSocket.
type LogHookFunc func(level, message string)

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeDiscarded
)

// Orchestrator runs records of a registry through the pipeline.
type Orchestrator struct {
	registry *batch.Registry
	invoker  *compressor.Invoker
	logger   *logrus.Logger
	logHook  LogHookFunc

	operationMutex sync.Mutex
	isRunning      bool
}

// NewOrchestrator returns a new Orchestrator.
func NewOrchestrator(registry *batch.Registry, invoker *compressor.Invoker, logger *logrus.Logger) *Orchestrator {
	return NewOrchestratorWithLogHook(registry, invoker, logger, nil)
}

// NewOrchestratorWithLogHook returns an Orchestrator that also forwards
// per-record outcomes to hook.
func NewOrchestratorWithLogHook(registry *batch.Registry, invoker *compressor.Invoker, logger *logrus.Logger, hook LogHookFunc) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		invoker:  invoker,
		logger:   logger,
		logHook:  hook,
	}
}

// IsRunning reports whether a batch run or a single record run is in
// progress.
func (o *Orchestrator) IsRunning() bool {
	o.operationMutex.Lock()
	defer o.operationMutex.Unlock()
	return o.isRunning
}

func (o *Orchestrator) acquire() bool {
	o.operationMutex.Lock()
	defer o.operationMutex.Unlock()
	if o.isRunning {
		return false
	}
	o.isRunning = true
	return true
}

func (o *Orchestrator) release() {
	o.operationMutex.Lock()
	o.isRunning = false
	o.operationMutex.Unlock()
}

// ProcessOne runs a single pending or errored record. It returns
// ErrBatchRunning while another run holds the pipeline. A compression
// failure leaves the record in batch.StatusError and is not returned.
// Once started, the record runs to completion even if ctx is cancelled.
func (o *Orchestrator) ProcessOne(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !o.acquire() {
		return ErrBatchRunning
	}
	defer o.release()

	rec, ok := o.registry.Begin(id)
	if !ok {
		if _, exists := o.registry.Get(id); !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %s", ErrNotRunnable, id)
	}
	o.run(context.WithoutCancel(ctx), rec, nil)
	return nil
}

// RunBatch processes every record that is not completed, sequentially and
// in insertion order. A record failing does not stop the run. Cancelling
// ctx stops the run before the next record starts; the record in flight
// finishes and ctx.Err() is returned with the partial statistics.
func (o *Orchestrator) RunBatch(ctx context.Context) (*statistics.Statistics, error) {
	if !o.acquire() {
		return nil, ErrBatchRunning
	}
	defer o.release()

	stats := statistics.NewStatistics()
	records := o.registry.Snapshot()
	o.logger.Infof("Starting batch run over %d records", len(records))

	work := context.WithoutCancel(ctx)
	for _, rec := range records {
		stats.IncrementImagesFound()
		if rec.Status == batch.StatusCompleted {
			stats.IncrementImagesSkipped()
			continue
		}
		if ctx.Err() != nil {
			break
		}

		// Removed or already processing elsewhere.
		current, ok := o.registry.Begin(rec.ID)
		if !ok {
			stats.IncrementImagesSkipped()
			continue
		}
		o.run(work, current, stats)
	}

	stats.Finalize()
	err := ctx.Err()
	if err != nil {
		o.logger.Warn("Batch run cancelled")
	}
	o.logger.WithFields(logrus.Fields{
		"completed": stats.ImagesCompleted,
		"errors":    stats.ImagesWithErrors,
		"saved":     fmt.Sprintf("%.1f%%", stats.PercentSaved()),
	}).Info("Batch run finished")
	return stats, err
}

// run executes one begun record. stats may be nil.
func (o *Orchestrator) run(ctx context.Context, rec batch.Record, stats *statistics.Statistics) {
	entry := logger.WithImage(o.logger, rec.ID, rec.SourceName, "process")
	if stats != nil {
		stats.IncrementImagesProcessed()
	}

	result, err := o.compress(ctx, rec)
	switch o.finish(rec, result, err) {
	case outcomeCompleted:
		current, _ := o.registry.Get(rec.ID)
		entry.WithFields(logrus.Fields{
			"name":     current.DisplayName,
			"src_size": rec.SourceSize,
			"out_size": result.Size(),
		}).Info("Image optimized")
		o.hook("info", fmt.Sprintf("Optimized %s -> %s", rec.SourceName, current.DisplayName))
		if stats != nil {
			stats.IncrementImagesCompleted()
			stats.IncrementFormat(result.MediaType)
			stats.AddBytes(rec.SourceSize, result.Size())
		}
	case outcomeFailed:
		entry.WithError(err).Error("Image optimization failed")
		o.hook("error", fmt.Sprintf("%s: %s", rec.SourceName, FailureMessage))
		if stats != nil {
			stats.IncrementImagesWithErrors()
			stats.AddError(rec.SourceName, "compress", err.Error())
		}
	case outcomeDiscarded:
		entry.Debug("Result discarded, record removed or reset during run")
		if stats != nil {
			stats.IncrementImagesDiscarded()
		}
	}
}

func (o *Orchestrator) compress(ctx context.Context, rec batch.Record) (compressor.File, error) {
	settings := o.registry.Settings()
	id, run := rec.ID, rec.Run()

	resized := resize.Resize(rec.Source, rec.SourceType, settings.MaxWidth, settings.MaxHeight)
	o.registry.Progress(id, run, compressor.ProgressResized)

	source := compressor.File{Name: rec.SourceName, MediaType: rec.SourceType, Data: rec.Source}
	intermediate := compressor.File{Name: rec.SourceName, MediaType: rec.SourceType, Data: resized}

	out, err := o.invoker.Compress(ctx, source, intermediate, settings, func(pct int) {
		o.registry.Progress(id, run, pct)
	})
	if err != nil {
		return compressor.File{}, err
	}
	if out.MediaType == "" {
		out.MediaType = settings.OutputMediaType(rec.SourceType)
	}
	out.Name = DefaultName(rec, settings)
	return out, nil
}

func (o *Orchestrator) finish(rec batch.Record, result compressor.File, err error) outcome {
	if err != nil {
		if !o.registry.Fail(rec.ID, rec.Run(), FailureMessage) {
			return outcomeDiscarded
		}
		return outcomeFailed
	}

	if !o.registry.Complete(rec.ID, rec.Run(), batch.Completion{
		Data:        result.Data,
		MediaType:   result.MediaType,
		DefaultName: result.Name,
	}) {
		return outcomeDiscarded
	}
	return outcomeCompleted
}

func (o *Orchestrator) hook(level, message string) {
	if o.logHook != nil {
		o.logHook(level, message)
	}
}

// DefaultName returns "<stem>_opti.<ext>" for rec under settings.
func DefaultName(rec batch.Record, settings batch.Settings) string {
	return fmt.Sprintf("%s_opti.%s", rec.Stem(), settings.OutputExtension(rec.SourceName, rec.SourceType))
}
